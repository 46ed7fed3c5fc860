package notification

import (
	"net/http"

	"OpportunityFinder/internal/auth"
	"OpportunityFinder/pkg/apperrors"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func recipient(c echo.Context) (string, error) {
	identity, ok := auth.CurrentIdentity(c)
	if !ok {
		return "", apperrors.NewUnauthorizedError("Invalid or missing token")
	}
	return identity.Email, nil
}

func (h *Handler) List(c echo.Context) error {
	email, err := recipient(c)
	if err != nil {
		return err
	}
	notifications, err := h.service.List(c.Request().Context(), email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, notifications)
}

func (h *Handler) UnreadCount(c echo.Context) error {
	email, err := recipient(c)
	if err != nil {
		return err
	}
	count, err := h.service.UnreadCount(c.Request().Context(), email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"unread": count})
}

func (h *Handler) MarkRead(c echo.Context) error {
	email, err := recipient(c)
	if err != nil {
		return err
	}
	if err := h.service.MarkRead(c.Request().Context(), email, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	email, err := recipient(c)
	if err != nil {
		return err
	}
	updated, err := h.service.MarkAllRead(c.Request().Context(), email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": updated})
}

func (h *Handler) Clear(c echo.Context) error {
	email, err := recipient(c)
	if err != nil {
		return err
	}
	deleted, err := h.service.Clear(c.Request().Context(), email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": deleted})
}
