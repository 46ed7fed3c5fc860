package pkg

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"OpportunityFinder/internal/auth"
	"OpportunityFinder/internal/config"
	"OpportunityFinder/internal/metrics"
	"OpportunityFinder/internal/notification"
	"OpportunityFinder/internal/opportunity"
	"OpportunityFinder/pkg/logger"
	"OpportunityFinder/pkg/middleware"

	"github.com/casbin/casbin/v2"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// AppModules is the whole server: domain modules plus the HTTP surface.
var AppModules = fx.Options(
	config.Module,
	auth.Module,
	notification.Module,
	opportunity.Module,
	EchoModules,
)

var EchoModules = fx.Module("echo",
	fx.Provide(NewEchoServer),
	fx.Provide(middleware.NewEnforcer),
	fx.Invoke(ensureIndexes),
	fx.Invoke(registerSignInMetrics),
	fx.Invoke(RegisterRoutes),
)

func NewEchoServer(lc fx.Lifecycle, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewValidator()
	e.HTTPErrorHandler = middleware.ErrorHandler
	middleware.SetupMiddleware(e, cfg)

	addr := ":" + cfg.Port
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.L().Info("Server running", zap.String("addr", addr))
			go func() {
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.L().Fatal("Failed to start the server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.L().Info("Shutting down the server")
			return e.Shutdown(ctx)
		},
	})
	return e
}

// Handlers groups everything RegisterRoutes mounts.
type Handlers struct {
	fx.In

	Auth          *auth.Handler
	Notifications *notification.Handler
	Opportunities *opportunity.Handler
	Tokens        *auth.TokenManager
	Enforcer      *casbin.Enforcer
	Config        *config.Config
}

func RegisterRoutes(e *echo.Echo, h Handlers) {
	e.GET("/health", health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	public := e.Group("/auth", middleware.AuthRateLimiter())
	public.POST("/register", h.Auth.Register)
	public.POST("/login", h.Auth.Login)
	public.POST("/forgot-password", h.Auth.ForgotPassword)
	public.POST("/reset-password", h.Auth.ResetPassword)

	api := e.Group("/api", middleware.JWTMiddleware(h.Tokens), middleware.CasbinMiddleware(h.Enforcer))
	api.GET("/me", h.Auth.Profile)
	api.PUT("/me", h.Auth.UpdateProfile)
	api.GET("/employees", h.Auth.ListEmployees)
	api.GET("/employees/:email", h.Auth.GetEmployee)

	opp := api.Group("/opportunities")
	opp.POST("", h.Opportunities.Create)
	opp.GET("", h.Opportunities.List)
	opp.GET("/mine", h.Opportunities.ListOwned)
	opp.GET("/applied", h.Opportunities.ListApplied)
	opp.GET("/:id", h.Opportunities.Get)
	opp.PUT("/:id", h.Opportunities.Update)
	opp.POST("/:id/apply", h.Opportunities.Apply)
	opp.POST("/:id/not-interested", h.Opportunities.NotInterested)
	opp.POST("/:id/decisions", h.Opportunities.Decide)
	opp.GET("/:id/decisions/:email/sync", h.Opportunities.SyncStatus)
	opp.POST("/:id/close", h.Opportunities.Close)
	opp.POST("/:id/reopen", h.Opportunities.Reopen)

	notes := api.Group("/notifications")
	notes.GET("", h.Notifications.List)
	notes.GET("/unread-count", h.Notifications.UnreadCount)
	notes.POST("/:id/read", h.Notifications.MarkRead)
	notes.POST("/read-all", h.Notifications.MarkAllRead)
	notes.DELETE("", h.Notifications.Clear)

	admin := api.Group("/admin")
	admin.GET("/decision-syncs", h.Opportunities.ListSyncs)
	admin.POST("/decision-syncs/:id/retry", h.Opportunities.RetrySync)

	mountSPA(e, h.Config.StaticDir)
}

func health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// mountSPA serves the built frontend when dir exists. Unknown paths fall back to index.html.
func mountSPA(e *echo.Echo, dir string) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logger.L().Info("No static directory, SPA not served", zap.String("dir", dir))
		return
	}
	e.Use(echomw.StaticWithConfig(echomw.StaticConfig{
		Root:  dir,
		HTML5: true,
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/auth/") || p == "/metrics" || p == "/health"
		},
	}))
}

func ensureIndexes(lc fx.Lifecycle, db *mongo.Database) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return config.EnsureIndexes(ctx, db)
		},
	})
}

func registerSignInMetrics(s *auth.Service) {
	s.OnIdentityChange(func(identity auth.Identity) {
		metrics.SignIns.WithLabelValues(identity.Access).Inc()
	})
}
