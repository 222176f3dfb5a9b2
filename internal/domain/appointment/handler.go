package appointment

import (
	"net/http"

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
	g := api.Group("/appointments")

	g.POST("", h.Create, auth.RequireRole(auth.RolePatient))
	g.GET("/doctor", h.ListForDoctor, auth.RequireRole(auth.RoleDoctor))
	g.GET("/patient", h.ListForPatient, auth.RequireRole(auth.RolePatient))

	owners := auth.RequireRole(auth.RolePatient, auth.RoleDoctor)
	g.GET("/:id", h.Get, owners)
	g.PATCH("/:id", h.Transition, owners)
}

func actorOf(c echo.Context) (auth.Actor, error) {
	a, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return a, apperr.HTTP(apperr.Unauthenticated("missing session"))
	}
	return a, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return id, apperr.HTTP(apperr.Validation("invalid_id", "invalid appointment request id"))
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return apperr.HTTP(apperr.Validation("malformed_body", "request body is not valid JSON"))
	}
	r, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Transition(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in TransitionInput
	if err := c.Bind(&in); err != nil {
		return apperr.HTTP(apperr.Validation("malformed_body", "request body is not valid JSON"))
	}
	r, err := h.svc.Transition(c.Request().Context(), actor, id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListForDoctor(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	view, err := h.svc.ListForDoctor(c.Request().Context(), actor, c.QueryParam("status"), pagination.FromContext(c))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) ListForPatient(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	view, err := h.svc.ListForPatient(c.Request().Context(), actor, pagination.FromContext(c))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, view)
}
