package cds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/cds/internal/platform/fhir"
)

// PatientRiskServiceID is the CDS Hooks service evaluated on patient-view.
const PatientRiskServiceID = "cds-patient-risk"

const (
	cardSource     = "CDS Engine"
	maxSummaryRune = 140
)

// RegisterHooks publishes the patient risk service on hooks. Card feedback is
// logged only.
func (h *Handler) RegisterHooks(hooks *fhir.CDSHooksHandler, logger zerolog.Logger) {
	hooks.RegisterService(fhir.CDSService{
		Hook:        "patient-view",
		Title:       "Patient risk",
		Description: "Safety alerts and risk scores for the patient in context",
		ID:          PatientRiskServiceID,
		Prefetch:    map[string]string{"patient": "Patient/{{context.patientId}}"},
	}, h.patientRisk)

	hooks.RegisterFeedbackHandler(PatientRiskServiceID, func(_ context.Context, serviceID string, fb fhir.CDSFeedbackRequest) error {
		logger.Info().
			Str("service", serviceID).
			Str("card", fb.Card).
			Str("outcome", fb.Outcome).
			Msg("cds card feedback")
		return nil
	})
}

func (h *Handler) patientRisk(ctx context.Context, req fhir.CDSHookRequest) (*fhir.CDSHookResponse, error) {
	raw := req.ContextString("patientId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, &fhir.HookError{
			Status:  http.StatusBadRequest,
			Outcome: fhir.ErrorOutcome(fmt.Sprintf("context.patientId %q is not a valid id", raw)),
		}
	}

	ev, err := h.svc.EvaluatePatient(ctx, id, h.now())
	switch {
	case errors.Is(err, ErrPatientNotFound):
		return nil, &fhir.HookError{Status: http.StatusNotFound, Outcome: fhir.NotFoundOutcome("Patient", raw)}
	case errors.Is(err, ErrNoSnapshotSource):
		return nil, &fhir.HookError{Status: http.StatusServiceUnavailable, Outcome: fhir.ErrorOutcome(err.Error())}
	case err != nil:
		return nil, err
	}
	return &fhir.CDSHookResponse{Cards: Cards(ev)}, nil
}

// Cards renders an evaluation as CDS Hooks cards: one per alert in alert order,
// then a risk summary card.
func Cards(ev *Evaluation) []fhir.CDSCard {
	cards := make([]fhir.CDSCard, 0, len(ev.Alerts)+1)
	for _, a := range ev.Alerts {
		cards = append(cards, fhir.CDSCard{
			UUID:      uuid.New().String(),
			Summary:   truncate(a.Message, maxSummaryRune),
			Detail:    a.Action,
			Indicator: indicatorFor(a.Priority),
			Source:    fhir.CDSSource{Label: cardSource},
		})
	}
	return append(cards, summaryCard(ev.Report))
}

func indicatorFor(p Priority) string {
	switch p {
	case PriorityCritical:
		return fhir.IndicatorCritical
	case PriorityWarning:
		return fhir.IndicatorWarning
	}
	return fhir.IndicatorInfo
}

func summaryCard(r *RiskScoreReport) fhir.CDSCard {
	indicator := fhir.IndicatorInfo
	switch r.Deterioration {
	case DeteriorationCritical:
		indicator = fhir.IndicatorCritical
	case DeteriorationElevated:
		indicator = fhir.IndicatorWarning
	}

	var b strings.Builder
	for _, name := range []string{ScoreFallRisk, ScoreReadmissionRisk, ScoreMortalityRisk, ScoreSepsisRisk, ScoreSIRS} {
		if v, ok := r.Scores[name]; ok {
			fmt.Fprintf(&b, "- %s: %.0f%%\n", name, v*100)
		}
	}
	if len(r.Degraded) > 0 {
		fmt.Fprintf(&b, "\nIncomplete checks: %s\n", strings.Join(r.Degraded, ", "))
	}

	var links []fhir.CDSLink
	for _, rec := range r.Recommendations {
		if rec.URL != "" {
			links = append(links, fhir.CDSLink{Label: rec.Title, URL: rec.URL, Type: "absolute"})
		}
	}

	return fhir.CDSCard{
		UUID: uuid.New().String(),
		Summary: fmt.Sprintf("Risk summary: NEWS2 %d, qSOFA %d, SIRS %d",
			r.Counts[CountNEWS2], r.Counts[CountQSOFA], r.Counts[CountSIRS]),
		Detail:    strings.TrimRight(b.String(), "\n"),
		Indicator: indicator,
		Source:    fhir.CDSSource{Label: cardSource},
		Links:     links,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
