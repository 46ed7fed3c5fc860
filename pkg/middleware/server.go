package middleware

import (
	"net/http"
	"time"

	"OpportunityFinder/internal/config"
	"OpportunityFinder/internal/metrics"
	"OpportunityFinder/pkg/apperrors"
	"OpportunityFinder/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sign-in endpoints allow authRate requests per second per client IP, bursting to authBurst.
const (
	authRate  = 5
	authBurst = 10
)

var ErrTooManyRequests = apperrors.New(apperrors.CodeTooManyRequests, "http", "Too many requests, slow down", http.StatusTooManyRequests)

// SetupMiddleware installs the server-wide middleware chain, outermost first.
func SetupMiddleware(e *echo.Echo, cfg *config.Config) {
	e.Use(echomw.RecoverWithConfig(echomw.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.L().Error("Recovered from panic",
				zap.String("path", c.Request().URL.Path),
				zap.ByteString("stack", stack),
				zap.Error(err),
			)
			return err
		},
	}))
	e.Use(echomw.RequestID())
	e.Use(RequestLogger())
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
}

// RequestLogger writes one structured line per request.
func RequestLogger() echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("requestID", v.RequestID),
			}
			if v.Error != nil {
				logger.L().Info("Request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.L().Info("Request", fields...)
			return nil
		},
	})
}

// AuthRateLimiter throttles the public sign-in endpoints per client IP.
func AuthRateLimiter() echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(authRate),
		Burst:     authBurst,
		ExpiresIn: 3 * time.Minute,
	})
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return apperrors.NewForbiddenError("Unable to identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			logger.L().Warn("Rate limited sign-in request",
				zap.String("client", identifier),
				zap.String("path", c.Request().URL.Path),
			)
			return ErrTooManyRequests
		},
	})
}
