package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"OpportunityFinder/pkg/apperrors"
	"OpportunityFinder/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details interface{}         `json:"details,omitempty"`
}

// ErrorHandler is installed as echo's HTTPErrorHandler.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	appErr := toAppError(err)
	if appErr.HTTPCode >= http.StatusInternalServerError {
		logger.L().Error("Request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.Error(err),
		)
	}

	body := ErrorResponse{Error: appErr.Message, Code: appErr.Code, Details: appErr.Details}
	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(appErr.HTTPCode)
	} else {
		writeErr = c.JSON(appErr.HTTPCode, body)
	}
	if writeErr != nil {
		logger.L().Error("Failed to write error response", zap.Error(writeErr))
	}
}

func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.HTTPCode == 0 {
			cp := *appErr
			cp.HTTPCode = http.StatusInternalServerError
			return &cp
		}
		return appErr
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return apperrors.New(codeForStatus(httpErr.Code), "http", fmt.Sprint(httpErr.Message), httpErr.Code)
	}

	return apperrors.InternalError(err)
}

func codeForStatus(status int) apperrors.ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return apperrors.CodeValidationFailed
	case http.StatusUnauthorized:
		return apperrors.CodeUnauthorized
	case http.StatusForbidden:
		return apperrors.CodeForbidden
	case http.StatusNotFound:
		return apperrors.CodeNotFound
	case http.StatusConflict:
		return apperrors.CodeConflict
	case http.StatusTooManyRequests:
		return apperrors.CodeTooManyRequests
	default:
		if status >= http.StatusInternalServerError {
			return apperrors.CodeInternalError
		}
		return apperrors.CodeInvalidOperation
	}
}
