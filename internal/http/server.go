package http

import (
	"context"
	stdhttp "net/http"
	"strings"
	"time"

	"authz-gateway/internal/audit"
	"authz-gateway/internal/config"
	"authz-gateway/internal/gatekeeper"
	"authz-gateway/internal/guard"
	"authz-gateway/internal/http/handler"
	"authz-gateway/internal/http/middleware"
	"authz-gateway/internal/identity"
	"authz-gateway/internal/policy"
	"authz-gateway/internal/session"
	"authz-gateway/pkg/metrics"
	"authz-gateway/pkg/profiling"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	jsonKeyStatus    = "status"
	statusOK         = "ok"
	requestBodyLimit = "1M"

	signInAttemptsPerWindow = 10
	signInWindow            = time.Minute
)

// CSRFProtector issues per-subject tokens and enforces them on /api mutations.
type CSRFProtector interface {
	handler.CSRFTokenIssuer
	Middleware() echo.MiddlewareFunc
}

// AuditStore is both ends of the audit trail.
type AuditStore interface {
	audit.Recorder
	audit.Reader
}

type ServerDependencies struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Codec      *session.Codec
	Policy     policy.Client
	Users      identity.Store
	Gatekeeper *gatekeeper.Gatekeeper
	Guard      *guard.Guard
	Audit      AuditStore
	Metrics    *metrics.Metrics
	CSRF       CSRFProtector
	// Redis is optional. When set, the sign-in limit is shared across replicas.
	Redis redis.Scripter
}

type Server struct {
	echo *echo.Echo
	deps *ServerDependencies
}

func NewServer(deps *ServerDependencies) *Server {
	cfg := deps.Config

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Logger)

	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	cookie := gatekeeper.CookieConfig{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Session.SecureCookie,
	}

	// Request ID first so every log line and audit row carries it.
	e.Use(middleware.RequestID())
	e.Use(middleware.SecurityHeaders(cfg.Session.SecureCookie))
	e.Use(middleware.RequestLogger(deps.Logger))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.BodyLimit(requestBodyLimit))
	e.Use(deps.Metrics.Middleware())
	e.Use(middleware.NewGlobalRateLimiter().Middleware())
	e.Use(deps.Gatekeeper.Middleware(cookie, deps.Audit))

	signInLimiter := signInLimit(deps)

	authHandler := handler.NewAuthHandler(handler.AuthHandlerConfig{
		Users:      deps.Users,
		Codec:      deps.Codec,
		Policy:     deps.Policy,
		Cookie:     cookie,
		SignInPath: cfg.Routes.SignInPath,
		Audit:      deps.Audit,
		CSRF:       deps.CSRF,
		Log:        deps.Logger,
	})
	pageHandler := handler.NewPageHandler()
	actionHandler := handler.NewActionHandler(handler.ActionHandlerConfig{
		Guard:   deps.Guard,
		Metrics: deps.Metrics,
		Roles:   deps.Users,
		Policy:  deps.Policy,
		Events:  deps.Audit,
		Audit:   deps.Audit,
	})

	e.GET("/health", healthCheck)

	e.GET(cfg.Routes.SignInPath, pageHandler.SignIn)
	e.GET(cfg.Routes.ForbiddenPath, pageHandler.Forbidden)

	e.POST("/auth/sign-in", authHandler.SignIn, signInLimiter)
	e.POST("/auth/sign-out", authHandler.SignOut)

	prefix := strings.TrimRight(cfg.Routes.ProtectedPrefix, "/")
	if prefix != "" {
		e.GET(prefix, pageHandler.Dashboard)
	}
	e.GET(prefix+"/*", pageHandler.Dashboard)

	api := e.Group("/api")
	api.Use(deps.CSRF.Middleware())
	api.GET("/csrf-token", authHandler.CSRFToken)
	api.GET("/admin/stats", actionHandler.AdminStats)
	api.GET("/admin/audit", actionHandler.AuditEvents)
	api.PUT("/subjects/:id/role", actionHandler.AssignRole)

	if cfg.Server.EnableProfiling {
		profiling.RegisterPprofRoutes(api.Group("/admin/debug/pprof", actionHandler.RequirePermission(handler.DiagnosticsPermission)))
	}

	return &Server{
		echo: e,
		deps: deps,
	}
}

// signInLimit prefers the shared Redis window and keeps the in-process bucket
// as its fallback.
func signInLimit(deps *ServerDependencies) echo.MiddlewareFunc {
	local := middleware.NewStrictRateLimiter()
	if deps.Redis == nil {
		return local.Middleware()
	}
	return middleware.NewRedisLimiter(deps.Redis, signInAttemptsPerWindow, signInWindow, local, deps.Logger).Middleware()
}

// Handler exposes the router, mostly for httptest.
func (s *Server) Handler() stdhttp.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func healthCheck(c echo.Context) error {
	return c.JSON(stdhttp.StatusOK, map[string]string{
		jsonKeyStatus: statusOK,
	})
}
