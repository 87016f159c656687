// Package router builds the echo instance and registers every route of the
// API.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/sunnah-audio/internal/handler"
	"github.com/iliyamo/sunnah-audio/internal/metrics"
	"github.com/iliyamo/sunnah-audio/internal/middleware"
	"github.com/iliyamo/sunnah-audio/internal/model"
)

// bodyLimit leaves headroom over the 100MB upload cap for multipart framing.
const bodyLimit = "101M"

// Handlers groups the HTTP handlers served by the router.
type Handlers struct {
	Health        *handler.HealthHandler
	Auth          *handler.AuthHandler
	Subscriptions *handler.SubscriptionHandler
	Files         *handler.FileHandler
	Books         *handler.BookHandler
}

// Guards groups the route-level middleware.  Limiter and PlansCache may be
// nil.
type Guards struct {
	Identity   *middleware.IdentityGateway
	Limiter    *middleware.RateLimiter
	PlansCache echo.MiddlewareFunc
}

// New returns an echo instance with the global middleware chain and all
// routes registered.
func New(log *zap.Logger, m *metrics.Metrics, h Handlers, g Guards) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(log)

	// Recover sits inside the logging middleware so a panic is logged and
	// counted as a 500 like any other failure.
	e.Use(
		middleware.RequestID(),
		middleware.AccessLog(log),
		middleware.Metrics(m),
		echomw.Recover(),
		echomw.BodyLimit(bodyLimit),
	)

	RegisterRoutes(e, h.Health, m)
	RegisterAuth(e, h.Auth, g)
	RegisterSubscriptions(e, h.Subscriptions, g)
	RegisterContent(e, h.Books, h.Files, g)
	return e
}

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, health *handler.HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Health)
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
}

func limited(g Guards) []echo.MiddlewareFunc {
	if g.Limiter == nil {
		return nil
	}
	return []echo.MiddlewareFunc{g.Limiter.Middleware()}
}

// RegisterAuth registers /api/v1/auth.  Credential endpoints are rate
// limited; access management needs an admin or manager token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, g Guards) {
	pub := e.Group("/api/v1/auth")
	pub.POST("/register", a.Register)
	pub.POST("/login", a.Login, limited(g)...)
	pub.POST("/forgot-password", a.ForgotPassword, limited(g)...)
	pub.POST("/reset-password", a.ResetPassword, limited(g)...)

	auth := e.Group("/api/v1/auth", g.Identity.Require())
	auth.GET("/profile", a.Profile)
	auth.PUT("/profile", a.UpdateProfile)
	auth.POST("/change-password", a.ChangePassword)
	auth.DELETE("/deactivate", a.Deactivate)
	auth.GET("/permissions", a.Permissions)

	acl := auth.Group("/access", middleware.RequireRole(model.RoleAdmin, model.RoleManager))
	acl.POST("/grant", a.GrantAccess)
	acl.POST("/revoke", a.RevokeAccess)
	acl.GET("/all", a.ListAccess)
}

// RegisterSubscriptions registers /api/v1/subscriptions.  The plan list is
// public and cached; the admin queue needs an admin token.
func RegisterSubscriptions(e *echo.Echo, s *handler.SubscriptionHandler, g Guards) {
	var cache []echo.MiddlewareFunc
	if g.PlansCache != nil {
		cache = append(cache, g.PlansCache)
	}
	e.GET("/api/v1/subscriptions/plans", s.Plans, cache...)

	sub := e.Group("/api/v1/subscriptions", g.Identity.Require())
	sub.POST("/subscribe", s.Subscribe)
	sub.GET("/status", s.Status)
	sub.GET("/active", s.Active)
	sub.GET("/my-subscriptions", s.Mine)

	admin := sub.Group("/admin", middleware.RequireRole(model.RoleAdmin))
	admin.GET("/pending", s.Pending)
	admin.PUT("/verify/:id", s.Verify)
	admin.POST("/expire", s.Expire)
}

// RegisterContent registers book and file routes; all of them need a
// token and the content services apply the scholar access rules.
func RegisterContent(e *echo.Echo, b *handler.BookHandler, f *handler.FileHandler, g Guards) {
	books := e.Group("/api/v1/books", g.Identity.Require())
	books.POST("", b.Create)
	books.PUT("/:id", b.Update)

	files := e.Group("/api/v1/files", g.Identity.Require())
	files.GET("/my-downloads", f.MyDownloads)
	files.GET("/:id/download", f.Download)
	files.POST("/:id/upload", f.Upload)
	files.PUT("/:id/move", f.Move)
	files.POST("/:id/track-download", f.Track)
	files.GET("/:id/stats", f.Stats)
}
