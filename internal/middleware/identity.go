package middleware

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/sunnah-audio/internal/apperr"
	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/utils"
)

// MsgUnauthenticated is the single message for every rejected credential.
const MsgUnauthenticated = "Invalid or missing authentication token"

const (
	identityKey  = "identity"
	resolvedKey  = "identity_resolved"
	bearerPrefix = "Bearer "
)

// TokenVerifier is satisfied by utils.TokenService.
type TokenVerifier interface {
	Verify(raw string) (*utils.Claims, error)
}

// IdentityGateway turns the Authorization header into a model.Identity
// stored on the echo context.
type IdentityGateway struct {
	tokens TokenVerifier
	log    *zap.Logger
}

func NewIdentityGateway(tokens TokenVerifier, log *zap.Logger) *IdentityGateway {
	return &IdentityGateway{tokens: tokens, log: log}
}

// resolve verifies the bearer token once per request; later calls read the
// cached result.
func (g *IdentityGateway) resolve(c echo.Context) (model.Identity, bool) {
	if done, _ := c.Get(resolvedKey).(bool); done {
		return IdentityFrom(c)
	}
	c.Set(resolvedKey, true)

	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(auth, bearerPrefix) {
		return model.Identity{}, false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, bearerPrefix))
	if raw == "" {
		return model.Identity{}, false
	}

	claims, err := g.tokens.Verify(raw)
	if err != nil {
		reason := "unknown"
		var te *utils.TokenError
		if errors.As(err, &te) {
			reason = string(te.Reason)
		}
		g.log.Debug("bearer token rejected", zap.String("reason", reason))
		return model.Identity{}, false
	}
	uid, err := claims.UserID()
	if err != nil || uid == 0 {
		g.log.Debug("bearer token rejected", zap.String("reason", "subject"))
		return model.Identity{}, false
	}

	id := model.Identity{UserID: uid, Email: claims.Email, Role: claims.Role}
	c.Set(identityKey, id)
	return id, true
}

// Require rejects the request with 401 unless a valid identity resolves.
func (g *IdentityGateway) Require() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := g.resolve(c); !ok {
				return apperr.Unauthorized(MsgUnauthenticated)
			}
			return next(c)
		}
	}
}

// Optional resolves an identity when one is presented and carries on
// either way.
func (g *IdentityGateway) Optional() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			g.resolve(c)
			return next(c)
		}
	}
}

// IdentityFrom returns the identity placed on c by the gateway.
func IdentityFrom(c echo.Context) (model.Identity, bool) {
	id, ok := c.Get(identityKey).(model.Identity)
	return id, ok
}

// userKey is the rate-limit key fragment for the caller.
func userKey(c echo.Context) string {
	if id, ok := IdentityFrom(c); ok {
		return strconv.FormatUint(id.UserID, 10)
	}
	return "anon"
}
