package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Card indicators defined by CDS Hooks 2.0.
const (
	IndicatorInfo     = "info"
	IndicatorWarning  = "warning"
	IndicatorCritical = "critical"
)

// CDSService describes a single CDS service returned in discovery.
type CDSService struct {
	Hook        string            `json:"hook"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description"`
	ID          string            `json:"id"`
	Prefetch    map[string]string `json:"prefetch,omitempty"`
}

// CDSHookRequest is the payload POSTed to invoke a hook.
type CDSHookRequest struct {
	Hook         string                 `json:"hook"`
	HookInstance string                 `json:"hookInstance"`
	FHIRServer   string                 `json:"fhirServer,omitempty"`
	Context      map[string]interface{} `json:"context"`
	Prefetch     map[string]interface{} `json:"prefetch,omitempty"`
}

// ContextString returns a string value from the hook context.
func (r CDSHookRequest) ContextString(key string) string {
	s, _ := r.Context[key].(string)
	return s
}

// CDSCard is a single card in the hook response.
type CDSCard struct {
	UUID      string    `json:"uuid,omitempty"`
	Summary   string    `json:"summary"`
	Detail    string    `json:"detail,omitempty"`
	Indicator string    `json:"indicator"`
	Source    CDSSource `json:"source"`
	Links     []CDSLink `json:"links,omitempty"`
}

type CDSSource struct {
	Label string `json:"label"`
	URL   string `json:"url,omitempty"`
}

type CDSLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
	Type  string `json:"type"`
}

type CDSHookResponse struct {
	Cards []CDSCard `json:"cards"`
}

// CDSFeedbackRequest records what the user did with a card.
type CDSFeedbackRequest struct {
	Card             string `json:"card"`
	Outcome          string `json:"outcome"`
	OutcomeTimestamp string `json:"outcomeTimestamp,omitempty"`
}

// ServiceHandler processes a CDS hook request and returns cards.
type ServiceHandler func(ctx context.Context, req CDSHookRequest) (*CDSHookResponse, error)

// FeedbackHandler processes feedback for a service.
type FeedbackHandler func(ctx context.Context, serviceID string, fb CDSFeedbackRequest) error

// HookError lets a ServiceHandler choose the HTTP status of its failure.
type HookError struct {
	Status  int
	Outcome *OperationOutcome
}

func (e *HookError) Error() string {
	if e.Outcome == nil || len(e.Outcome.Issue) == 0 {
		return http.StatusText(e.Status)
	}
	return e.Outcome.Issue[0].Diagnostics
}

// CDSHooksHandler implements the HL7 CDS Hooks 2.0 REST API. Services are
// registered at startup, before routes serve traffic.
type CDSHooksHandler struct {
	services         map[string]CDSService
	handlers         map[string]ServiceHandler
	feedbackHandlers map[string]FeedbackHandler
	order            []string
}

func NewCDSHooksHandler() *CDSHooksHandler {
	return &CDSHooksHandler{
		services:         make(map[string]CDSService),
		handlers:         make(map[string]ServiceHandler),
		feedbackHandlers: make(map[string]FeedbackHandler),
	}
}

// RegisterService registers a CDS service and its handler.
func (h *CDSHooksHandler) RegisterService(svc CDSService, handler ServiceHandler) {
	if _, exists := h.services[svc.ID]; !exists {
		h.order = append(h.order, svc.ID)
	}
	h.services[svc.ID] = svc
	h.handlers[svc.ID] = handler
}

func (h *CDSHooksHandler) RegisterFeedbackHandler(serviceID string, handler FeedbackHandler) {
	h.feedbackHandlers[serviceID] = handler
}

// RegisterRoutes mounts discovery, invocation and feedback on g.
func (h *CDSHooksHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/cds-services", h.Discovery)
	g.POST("/cds-services/:id", h.HandleHook)
	g.POST("/cds-services/:id/feedback", h.HandleFeedback)
}

func (h *CDSHooksHandler) Discovery(c echo.Context) error {
	services := make([]CDSService, 0, len(h.order))
	for _, id := range h.order {
		services = append(services, h.services[id])
	}
	return c.JSON(http.StatusOK, map[string][]CDSService{"services": services})
}

func (h *CDSHooksHandler) HandleHook(c echo.Context) error {
	serviceID := c.Param("id")
	svc, ok := h.services[serviceID]
	if !ok {
		return c.JSON(http.StatusNotFound, NotFoundOutcome("CDS Service", serviceID))
	}

	var req CDSHookRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorOutcome(fmt.Sprintf("invalid request body: %v", err)))
	}
	if req.Hook != svc.Hook {
		return c.JSON(http.StatusBadRequest, ErrorOutcome(
			fmt.Sprintf("hook mismatch: request hook %q does not match service hook %q", req.Hook, svc.Hook),
		))
	}
	if req.HookInstance == "" {
		return c.JSON(http.StatusBadRequest, ErrorOutcome("hookInstance is required"))
	}

	resp, err := h.handlers[serviceID](c.Request().Context(), req)
	if err != nil {
		if he, ok := err.(*HookError); ok {
			outcome := he.Outcome
			if outcome == nil {
				outcome = ErrorOutcome(http.StatusText(he.Status))
			}
			return c.JSON(he.Status, outcome)
		}
		return c.JSON(http.StatusInternalServerError, InternalErrorOutcome(err.Error()))
	}
	if resp == nil {
		resp = &CDSHookResponse{}
	}
	if resp.Cards == nil {
		resp.Cards = []CDSCard{}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *CDSHooksHandler) HandleFeedback(c echo.Context) error {
	serviceID := c.Param("id")
	if _, ok := h.services[serviceID]; !ok {
		return c.JSON(http.StatusNotFound, NotFoundOutcome("CDS Service", serviceID))
	}

	var fb CDSFeedbackRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&fb); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorOutcome(fmt.Sprintf("invalid feedback body: %v", err)))
	}

	if handler, ok := h.feedbackHandlers[serviceID]; ok {
		if err := handler(c.Request().Context(), serviceID, fb); err != nil {
			return c.JSON(http.StatusInternalServerError, InternalErrorOutcome(err.Error()))
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
