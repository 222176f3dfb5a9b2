package auth

import (
	"context"

	"github.com/ehr/consult/internal/platform/apperr"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller after role resolution.
type Actor struct {
	ProviderID string    `json:"provider_id"`
	IdentityID uuid.UUID `json:"identity_id"`
	Role       Role      `json:"role"`
}

// ActorResolver maps a verified provider id to a local actor.
type ActorResolver interface {
	ResolveActor(ctx context.Context, providerID string) (Actor, error)
}

// ActorMiddleware resolves the session's provider id into an Actor. It must
// run after SessionMiddleware. Resolution errors are rendered through apperr.
func ActorMiddleware(resolver ActorResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}
			ctx := c.Request().Context()
			pid := ProviderIDFromContext(ctx)
			if pid == "" {
				return apperr.HTTP(apperr.Unauthenticated("missing session"))
			}
			actor, err := resolver.ResolveActor(ctx, pid)
			if err != nil {
				if apperr.Is(err, apperr.KindNotFound) {
					return apperr.HTTP(apperr.Forbidden("unknown_identity", "identity is not registered or has been deleted"))
				}
				return apperr.HTTP(err)
			}
			c.SetRequest(c.Request().WithContext(WithActor(ctx, actor)))
			return next(c)
		}
	}
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ActorKey, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ActorKey).(Actor)
	return a, ok
}
