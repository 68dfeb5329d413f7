package cds

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cds/internal/platform/auth"
)

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: func() time.Time { return time.Now().UTC() }}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Evaluation endpoints – admin, physician, nurse, pharmacist
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse", "pharmacist"))
	g.POST("/cds/evaluate", h.EvaluateSnapshot)
	g.GET("/patients/:id/cds", h.EvaluatePatient)
	g.POST("/cds/observations", h.ExportObservations)
}

func (h *Handler) evaluationTime(c echo.Context) (time.Time, error) {
	raw := c.QueryParam("now")
	if raw == "" {
		return h.now(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "now must be an RFC3339 timestamp")
	}
	return t, nil
}

func (h *Handler) EvaluateSnapshot(c echo.Context) error {
	now, err := h.evaluationTime(c)
	if err != nil {
		return err
	}
	snap, herr := decodeBody(c)
	if herr != nil {
		return herr
	}
	ev, err := h.svc.Evaluate(c.Request().Context(), snap, now)
	if err != nil {
		return evaluationError(err)
	}
	return c.JSON(http.StatusOK, ev)
}

func (h *Handler) EvaluatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	now, err := h.evaluationTime(c)
	if err != nil {
		return err
	}
	ev, err := h.svc.EvaluatePatient(c.Request().Context(), id, now)
	if err != nil {
		return evaluationError(err)
	}
	return c.JSON(http.StatusOK, ev)
}

// decodeBody reads the request snapshot. Body read failures such as an
// exceeded size limit keep their own status.
func decodeBody(c echo.Context) (*Snapshot, *echo.HTTPError) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	snap, err := DecodeSnapshot(bytes.NewReader(body))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return snap, nil
}

func evaluationError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidSnapshot):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrNoSnapshotSource):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
