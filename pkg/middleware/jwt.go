package middleware

import (
	"net/http"
	"strings"

	"OpportunityFinder/internal/auth"
	"OpportunityFinder/pkg/apperrors"
	"OpportunityFinder/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// JWTMiddleware parses the bearer token and stores its claims on the context for auth.CurrentIdentity.
func JWTMiddleware(tokens *auth.TokenManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return apperrors.NewUnauthorizedError("Missing token")
			}

			tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			claims, err := tokens.Parse(tokenString)
			if err != nil {
				logger.L().Debug("Rejected bearer token",
					zap.String("path", c.Request().URL.Path),
					zap.Error(err),
				)
				return apperrors.New(apperrors.CodeInvalidToken, "auth", "Invalid token", http.StatusUnauthorized)
			}

			c.Set(auth.ContextKey, claims)
			return next(c)
		}
	}
}
