package opportunity

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

func caller(c echo.Context) (auth.Identity, error) {
	identity, ok := auth.CurrentIdentity(c)
	if !ok {
		return auth.Identity{}, apperrors.NewUnauthorizedError("Invalid or missing token")
	}
	return identity, nil
}

func bindInput(c echo.Context) (Input, error) {
	var in Input
	if err := c.Bind(&in); err != nil {
		return Input{}, apperrors.NewBadRequestError("Invalid request")
	}
	return in, nil
}

func (h *Handler) Create(c echo.Context) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	in, err := bindInput(c)
	if err != nil {
		return err
	}
	view, err := h.service.Create(c.Request().Context(), identity, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) List(c echo.Context) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	var filter Filter
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &filter); err != nil {
		return apperrors.NewBadRequestError("Invalid query")
	}
	views, err := h.service.List(c.Request().Context(), identity, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) ListOwned(c echo.Context) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	views, err := h.service.ListOwned(c.Request().Context(), identity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) ListApplied(c echo.Context) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	views, err := h.service.ListApplied(c.Request().Context(), identity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) Get(c echo.Context) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	view, err := h.service.Get(c.Request().Context(), identity, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Update(c echo.Context) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	in, err := bindInput(c)
	if err != nil {
		return err
	}
	view, err := h.service.UpdateDetails(c.Request().Context(), identity, c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Apply(c echo.Context) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	result, err := h.service.Apply(c.Request().Context(), identity, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) NotInterested(c echo.Context) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	view, err := h.service.MarkNotInterested(c.Request().Context(), identity, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// Decide answers 202: the decision is applied locally and its store write is still in flight.
func (h *Handler) Decide(c echo.Context) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	var req DecideRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.NewBadRequestError("Invalid request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	result, err := h.service.Decide(c.Request().Context(), identity, c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, result)
}

func (h *Handler) SyncStatus(c echo.Context) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	entry, err := h.service.SyncStatus(c.Request().Context(), identity, c.Param("id"), c.Param("email"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Close(c echo.Context) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	view, err := h.service.Close(c.Request().Context(), identity, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Reopen(c echo.Context) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	view, err := h.service.Reopen(c.Request().Context(), identity, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) ListSyncs(c echo.Context) error {
	entries, err := h.service.ListSyncs(c.QueryParam("state"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) RetrySync(c echo.Context) error {
	entry, err := h.service.RetrySync(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, entry)
}
