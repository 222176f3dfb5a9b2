package identity

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/consult/internal/platform/apperr"
	"github.com/ehr/consult/internal/platform/auth"
)

// SignatureVerifier authenticates a webhook delivery.
type SignatureVerifier interface {
	Verify(payload []byte, headers http.Header) (msgID string, err error)
}

type Handler struct {
	rec          *Reconciler
	verifier     SignatureVerifier
	syncPageSize int
}

func NewHandler(rec *Reconciler, verifier SignatureVerifier, syncPageSize int) *Handler {
	return &Handler{rec: rec, verifier: verifier, syncPageSize: syncPageSize}
}

// RegisterWebhook mounts the provider callback. It is authenticated by
// signature, not by session.
func (h *Handler) RegisterWebhook(g *echo.Group) {
	g.POST("/identity", h.Webhook)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/me", h.Me)

	api.POST("/admin/sync", h.Sync, auth.RequireRole(auth.RoleAdmin))
}

func (h *Handler) Webhook(c echo.Context) error {
	log := zerolog.Ctx(c.Request().Context())
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperr.HTTP(apperr.Validation("unreadable_body", "could not read request body"))
	}

	msgID, err := h.verifier.Verify(payload, c.Request().Header)
	if err != nil {
		return apperr.HTTP(apperr.Validation("invalid_signature", "webhook signature verification failed"))
	}

	ev, err := ParseEvent(payload)
	if errors.Is(err, ErrUnknownEvent) {
		log.Debug().Str("msg_id", msgID).Str("event", string(ev.Type)).Msg("ignoring identity event")
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
	if err != nil {
		return apperr.HTTP(apperr.Validation("malformed_event", err.Error()))
	}

	if err := h.rec.ApplyEvent(c.Request().Context(), ev); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return apperr.HTTP(apperr.Unauthenticated("missing session"))
	}
	i, err := h.rec.Get(ctx, actor.ProviderID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"actor":    actor,
		"identity": i,
	})
}

func (h *Handler) Sync(c echo.Context) error {
	res, err := h.rec.SyncFromProvider(c.Request().Context(), h.syncPageSize)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}
