package directory

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/consult/internal/platform/apperr"
	"github.com/ehr/consult/internal/platform/auth"
	"github.com/ehr/consult/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	signedIn := auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleAdmin)
	api.GET("/doctors", h.ListDoctors, signedIn)
	api.GET("/doctors/nearby", h.Nearby, signedIn)
	api.GET("/doctors/by-provider/:provider_id", h.GetDoctorByProviderID, signedIn)
	api.GET("/doctors/:id", h.GetDoctor, signedIn)

	api.PUT("/admin/doctors/:provider_id/profile", h.UpsertProfile, auth.RequireRole(auth.RoleAdmin))
}

func (h *Handler) ListDoctors(c echo.Context) error {
	f := Filter{
		Location:       c.QueryParam("location"),
		Specialization: c.QueryParam("specialization"),
		Search:         c.QueryParam("search"),
	}
	res, err := h.svc.ListDoctors(c.Request().Context(), f, pagination.FromContext(c))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Nearby(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	doctors, err := h.svc.Nearby(c.Request().Context(), c.QueryParam("location"), limit)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"doctors": Views(doctors)})
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTP(apperr.Validation("invalid_id", "invalid doctor id"))
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d.View())
}

func (h *Handler) GetDoctorByProviderID(c echo.Context) error {
	d, err := h.svc.GetDoctorByProviderID(c.Request().Context(), c.Param("provider_id"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d.View())
}

func (h *Handler) UpsertProfile(c echo.Context) error {
	var p Profile
	if err := c.Bind(&p); err != nil {
		return apperr.HTTP(apperr.Validation("malformed_body", "request body is not valid JSON"))
	}
	d, err := h.svc.UpsertProfile(c.Request().Context(), c.Param("provider_id"), p)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d.View())
}
