package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/sunnah-audio/internal/apperr"
	"github.com/iliyamo/sunnah-audio/internal/config"
	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/utils"
)

const testSecret = "test-secret-please-ignore"

func newContext(t *testing.T, method, target, auth string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func ok(c echo.Context) error { return c.NoContent(http.StatusOK) }

func TestRequireIdentityAcceptsValidBearer(t *testing.T) {
	tokens := utils.NewTokenService(testSecret, time.Hour)
	tok, err := tokens.Mint(42, "aisha@example.org", model.RoleUser)
	require.NoError(t, err)
	gw := NewIdentityGateway(tokens, zap.NewNop())

	c, rec := newContext(t, http.MethodGet, "/api/v1/auth/profile", "Bearer "+tok.Token)
	var seen model.Identity
	err = gw.Require()(func(c echo.Context) error {
		seen, _ = IdentityFrom(c)
		return ok(c)
	})(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.Identity{UserID: 42, Email: "aisha@example.org", Role: model.RoleUser}, seen)
}

func TestRequireIdentityRejectionsShareOneMessage(t *testing.T) {
	tokens := utils.NewTokenService(testSecret, time.Hour)
	other := utils.NewTokenService("another-secret", time.Hour)
	forged, _ := other.Mint(42, "a@b.co", model.RoleAdmin)
	past := utils.NewTokenService(testSecret, time.Hour).WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	expired, _ := past.Mint(42, "a@b.co", model.RoleUser)
	good, _ := tokens.Mint(42, "a@b.co", model.RoleUser)

	gw := NewIdentityGateway(tokens, zap.NewNop())
	for name, header := range map[string]string{
		"missing":   "",
		"no prefix": good.Token,
		"basic":     "Basic Zm9vOmJhcg==",
		"empty":     "Bearer ",
		"garbage":   "Bearer not.a.jwt",
		"forged":    "Bearer " + forged.Token,
		"expired":   "Bearer " + expired.Token,
	} {
		c, _ := newContext(t, http.MethodGet, "/", header)
		err := gw.Require()(ok)(c)
		var ae *apperr.Error
		require.ErrorAs(t, err, &ae, name)
		assert.Equal(t, apperr.KindUnauthorized, ae.Kind, name)
		assert.Equal(t, MsgUnauthenticated, ae.Message, name)
	}
}

type countingVerifier struct {
	inner TokenVerifier
	n     int
}

func (v *countingVerifier) Verify(raw string) (*utils.Claims, error) {
	v.n++
	return v.inner.Verify(raw)
}

// subjectVerifier accepts any token and reports a fixed subject.
type subjectVerifier string

func (v subjectVerifier) Verify(string) (*utils.Claims, error) {
	return &utils.Claims{Email: "a@b.co", Role: model.RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{Subject: string(v)}}, nil
}

func TestRequireIdentityRejectsNonNumericSubject(t *testing.T) {
	for _, sub := range []string{"", "0", "abc", "-1"} {
		gw := NewIdentityGateway(subjectVerifier(sub), zap.NewNop())
		c, _ := newContext(t, http.MethodGet, "/", "Bearer x")
		err := gw.Require()(ok)(c)
		assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err), sub)
	}

	gw := NewIdentityGateway(subjectVerifier("42"), zap.NewNop())
	c, _ := newContext(t, http.MethodGet, "/", "Bearer x")
	require.NoError(t, gw.Require()(ok)(c))
	id, _ := IdentityFrom(c)
	assert.Equal(t, uint64(42), id.UserID)
}

func TestIdentityResolvedOncePerRequest(t *testing.T) {
	tokens := utils.NewTokenService(testSecret, time.Hour)
	tok, _ := tokens.Mint(7, "x@y.z", model.RoleAdmin)
	v := &countingVerifier{inner: tokens}
	gw := NewIdentityGateway(v, zap.NewNop())

	c, _ := newContext(t, http.MethodGet, "/", "Bearer "+tok.Token)
	h := gw.Optional()(gw.Require()(RequireRole(model.RoleAdmin)(ok)))
	require.NoError(t, h(c))
	assert.Equal(t, 1, v.n)
}

func TestOptionalIdentityNeverFails(t *testing.T) {
	gw := NewIdentityGateway(utils.NewTokenService(testSecret, time.Hour), zap.NewNop())
	c, rec := newContext(t, http.MethodGet, "/", "Bearer junk")
	require.NoError(t, gw.Optional()(func(c echo.Context) error {
		_, found := IdentityFrom(c)
		assert.False(t, found)
		return ok(c)
	})(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole(t *testing.T) {
	c, _ := newContext(t, http.MethodGet, "/", "")
	c.Set(identityKey, model.Identity{UserID: 1, Role: model.RoleUser})
	err := RequireRole(model.RoleAdmin, model.RoleManager)(ok)(c)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	c, _ = newContext(t, http.MethodGet, "/", "")
	c.Set(identityKey, model.Identity{UserID: 1, Role: model.RoleManager})
	assert.NoError(t, RequireRole(model.RoleAdmin, model.RoleManager)(ok)(c))
}

func limiterConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Minute,
		TTL: 10 * time.Minute, KeyStrategy: "ip_route", Prefix: "rl", LocalRPS: 0.01, LocalBurst: 2,
	}
}

func hitLimiter(t *testing.T, mw echo.MiddlewareFunc) (int, http.Header) {
	t.Helper()
	c, rec := newContext(t, http.MethodPost, "/api/v1/auth/login", "")
	c.SetPath("/api/v1/auth/login")
	err := mw(ok)(c)
	if he, isHTTP := err.(*echo.HTTPError); isHTTP {
		return he.Code, rec.Header()
	}
	require.NoError(t, err)
	return rec.Code, rec.Header()
}

func TestRateLimiterRedisBucket(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mw := NewRateLimiter(limiterConfig(), rdb, zap.NewNop()).Middleware()

	code, _ := hitLimiter(t, mw)
	assert.Equal(t, http.StatusOK, code)
	code, hdr := hitLimiter(t, mw)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0", hdr.Get("X-RateLimit-Remaining"))

	code, hdr = hitLimiter(t, mw)
	assert.Equal(t, http.StatusTooManyRequests, code)
	secs, err := strconv.Atoi(hdr.Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 60, secs, 1)
}

func TestRateLimiterFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()
	mw := NewRateLimiter(limiterConfig(), rdb, zap.NewNop()).Middleware()

	codes := []int{}
	for i := 0; i < 3; i++ {
		code, _ := hitLimiter(t, mw)
		codes = append(codes, code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestResponseCacheHitAfterMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute,
		KeyStrategy: "route_query", Prefix: "cache", MaxBodyBytes: 1 << 20}
	calls := 0
	h := ResponseCache(cfg, rdb, zap.NewNop())(func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, map[string]any{"success": true, "data": []int{1, 2}})
	})

	for i, want := range []string{"MISS", "HIT"} {
		c, rec := newContext(t, http.MethodGet, "/api/v1/subscriptions/plans", "")
		c.SetPath("/api/v1/subscriptions/plans")
		require.NoError(t, h(c))
		assert.Equal(t, want, rec.Header().Get("X-Cache"), "request %d", i)
		assert.JSONEq(t, `{"success":true,"data":[1,2]}`, rec.Body.String())
	}
	assert.Equal(t, 1, calls)

	// credentialed requests bypass the cache
	c, rec := newContext(t, http.MethodGet, "/api/v1/subscriptions/plans", "Bearer x")
	c.SetPath("/api/v1/subscriptions/plans")
	require.NoError(t, h(c))
	assert.Empty(t, rec.Header().Get("X-Cache"))
	assert.Equal(t, 2, calls)
}

func TestRequestIDGeneratedOrPropagated(t *testing.T) {
	c, rec := newContext(t, http.MethodGet, "/", "")
	require.NoError(t, RequestID()(ok)(c))
	assert.Len(t, rec.Header().Get(echo.HeaderXRequestID), 36)

	c, rec = newContext(t, http.MethodGet, "/", "")
	c.Request().Header.Set(echo.HeaderXRequestID, "abc")
	require.NoError(t, RequestID()(ok)(c))
	assert.Equal(t, "abc", rec.Header().Get(echo.HeaderXRequestID))
}
