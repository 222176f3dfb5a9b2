package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type contextKey string

const (
	ProviderIDKey contextKey = "provider_id"
	SessionIDKey  contextKey = "session_id"
	ActorKey      contextKey = "actor"
)

// SessionCookie is the cookie browsers carry the provider session token in.
const SessionCookie = "__session"

// DevUserHeader names the provider id to act as in development mode.
const DevUserHeader = "X-Dev-User"

// Claims are the provider-issued session token claims. The subject is the
// provider id of the signed-in user.
type Claims struct {
	jwt.RegisteredClaims
	SessionID       string `json:"sid"`
	AuthorizedParty string `json:"azp"`
}

type SessionConfig struct {
	Issuer   string
	Audience string
	// AuthorizedParties restricts the azp claim when non-empty.
	AuthorizedParties []string
	KeyFunc           jwt.Keyfunc
	// SigningKey is used for development/testing only
	SigningKey []byte
	Skipper    middleware.Skipper
}

// NewSessionConfig builds a config that verifies RS256 tokens against the
// issuer's JWKS. A single key cache is shared by every request.
func NewSessionConfig(issuer, audience, jwksURL string, parties []string) (SessionConfig, error) {
	url, err := ResolveJWKSURL(issuer, jwksURL)
	if err != nil {
		return SessionConfig{}, err
	}
	return SessionConfig{
		Issuer:            issuer,
		Audience:          audience,
		AuthorizedParties: parties,
		KeyFunc:           NewJWKSCache(url, defaultJWKSCacheTTL).KeyFunc(),
		Skipper:           AuthSkipper,
	}, nil
}

func sessionToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if ck, err := r.Cookie(SessionCookie); err == nil && ck.Value != "" {
		return ck.Value, true
	}
	return "", false
}

// SessionMiddleware verifies the provider session token from the
// Authorization header or the session cookie and stores the provider id on
// the request context.
func SessionMiddleware(cfg SessionConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if len(cfg.SigningKey) > 0 {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := cfg.KeyFunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			if c.Request().Header.Get("Authorization") == "" {
				if _, err := c.Request().Cookie(SessionCookie); err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "missing session token")
				}
			}
			tokenStr, ok := sessionToken(c.Request())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, keyFunc)
			if err != nil || !token.Valid || claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if !authorizedParty(cfg.AuthorizedParties, claims.AuthorizedParty) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, ProviderIDKey, claims.Subject)
			ctx = context.WithValue(ctx, SessionIDKey, claims.SessionID)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func authorizedParty(allowed []string, azp string) bool {
	if len(allowed) == 0 || azp == "" {
		return true
	}
	for _, a := range allowed {
		if a == azp {
			return true
		}
	}
	return false
}

// DevSessionMiddleware trusts the X-Dev-User header as the provider id when no
// token is presented. Requests with a token are still verified by verify.
func DevSessionMiddleware(verify echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := verify(next)
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}
			if _, ok := sessionToken(c.Request()); ok {
				return verified(c)
			}
			pid := c.Request().Header.Get(DevUserHeader)
			if pid == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing session token")
			}
			ctx := context.WithValue(c.Request().Context(), ProviderIDKey, pid)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func ProviderIDFromContext(ctx context.Context) string {
	pid, _ := ctx.Value(ProviderIDKey).(string)
	return pid
}

func SessionIDFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(SessionIDKey).(string)
	return sid
}

// WithProviderID returns a context carrying pid as the authenticated subject.
func WithProviderID(ctx context.Context, pid string) context.Context {
	return context.WithValue(ctx, ProviderIDKey, pid)
}
