package auth

import (
	"net/http"

	"OpportunityFinder/pkg/apperrors"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// bindAndValidate decodes the body into req and runs echo's Validator on it.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperrors.NewBadRequestError("Invalid request")
	}
	return c.Validate(req)
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Login(c echo.Context) error {
	var cred Credential
	if err := bindAndValidate(c, &cred); err != nil {
		return err
	}
	resp, err := h.service.Login(c.Request().Context(), cred)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ForgotPassword(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.service.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Password reset email sent"})
}

func (h *Handler) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.service.ResetPassword(c.Request().Context(), req.Token, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Password successfully reset"})
}

func (h *Handler) Profile(c echo.Context) error {
	identity, ok := CurrentIdentity(c)
	if !ok {
		return apperrors.NewUnauthorizedError("Invalid or missing token")
	}
	employee, err := h.service.Profile(c.Request().Context(), identity.Email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"employee": employee,
		"access":   identity.Access,
	})
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	identity, ok := CurrentIdentity(c)
	if !ok {
		return apperrors.NewUnauthorizedError("Invalid or missing token")
	}
	var req ProfileUpdate
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	employee, err := h.service.UpdateProfile(c.Request().Context(), identity.Email, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, employee)
}

func (h *Handler) ListEmployees(c echo.Context) error {
	employees, err := h.service.ListEmployees(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, employees)
}

func (h *Handler) GetEmployee(c echo.Context) error {
	employee, err := h.service.Profile(c.Request().Context(), c.Param("email"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, employee)
}
