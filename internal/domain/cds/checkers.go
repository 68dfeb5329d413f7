package cds

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Checker names, also used as degradation markers.
const (
	CheckDrugInteraction = "drug_interaction"
	CheckAllergyConflict = "allergy_conflict"
	CheckPreventiveCare  = "preventive_care"
	CheckCriticalLab     = "critical_lab"
	CheckGuidelines      = "guideline_recommendations"
	CheckScores          = "risk_scores"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"

	recentOrderWindow = 24 * time.Hour
	day               = 24 * time.Hour
)

// Checker produces candidate alerts for a snapshot. A non-nil error means the
// check could not complete; its alerts are discarded and it is reported as
// degraded.
type Checker interface {
	Name() string
	Check(ctx context.Context, s *Snapshot, now time.Time) ([]Alert, error)
}

// DrugInteractionChecker screens active medication orders through a lookup.
type DrugInteractionChecker struct {
	lookup DrugInteractionLookup
}

func NewDrugInteractionChecker(lookup DrugInteractionLookup) *DrugInteractionChecker {
	return &DrugInteractionChecker{lookup: lookup}
}

func (c *DrugInteractionChecker) Name() string { return CheckDrugInteraction }

func (c *DrugInteractionChecker) Check(ctx context.Context, s *Snapshot, _ time.Time) ([]Alert, error) {
	var meds []string
	for _, o := range s.Orders {
		if o.Type == OrderTypeMedication && (o.Status == OrderStatusOrdered || o.Status == OrderStatusInProgress) {
			meds = append(meds, o.Description)
		}
	}
	if len(meds) < 2 {
		return nil, nil
	}
	if c.lookup == nil {
		return nil, ErrLookupUnavailable
	}
	slices.Sort(meds)
	meds = slices.Compact(meds)

	interactions, err := awaitLookup(ctx, func(ctx context.Context) ([]DrugInteraction, error) {
		return c.lookup.CheckInteractions(ctx, slices.Clone(meds))
	})
	if err != nil {
		return nil, fmt.Errorf("check interactions: %w", err)
	}

	var alerts []Alert
	for _, in := range interactions {
		if in.Severity != InteractionMajor && in.Severity != InteractionContraindicated {
			continue
		}
		alerts = append(alerts, newAlert(AlertDrugInteraction, in.Severity,
			"Drug interaction: "+strings.Join(in.Drugs, ", "),
			"Review medication regimen",
			map[string]any{
				"drugs":       slices.Clone(in.Drugs),
				"description": in.Description,
			}))
	}
	return alerts, nil
}

// AllergyChecker matches recent orders against active allergies.
type AllergyChecker struct{}

func (AllergyChecker) Name() string { return CheckAllergyConflict }

func (AllergyChecker) Check(_ context.Context, s *Snapshot, now time.Time) ([]Alert, error) {
	var active []Allergy
	for _, a := range s.Allergies {
		if a.Active && strings.TrimSpace(a.Allergen) != "" {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	var alerts []Alert
	for _, o := range s.Orders {
		if !since(o.OrderedAt, now, recentOrderWindow) {
			continue
		}
		for _, a := range active {
			if !ContainsAny(a.Allergen)(o.Description) {
				continue
			}
			alerts = append(alerts, newAlert(AlertAllergyConflict, a.Severity,
				"Allergy conflict: "+a.Allergen,
				"Review order against allergy",
				map[string]any{
					"order":    o.Description,
					"allergen": a.Allergen,
					"reaction": a.Reaction,
				}))
		}
	}
	return alerts, nil
}

// PreventiveRule is one screening due-date rule.
type PreventiveRule struct {
	Name     string
	Eligible func(age float64, gender string) bool
	Lookback time.Duration
	Keyword  Matcher
	Message  string
	Action   string
}

// DefaultPreventiveRules are the colonoscopy and mammogram screenings.
func DefaultPreventiveRules() []PreventiveRule {
	return []PreventiveRule{
		{
			Name:     "colonoscopy",
			Eligible: func(age float64, _ string) bool { return age >= 50 },
			Lookback: 3650 * day,
			Keyword:  ContainsAny("colonoscopy"),
			Message:  "Colonoscopy screening due (age 50+)",
			Action:   "Schedule screening colonoscopy",
		},
		{
			Name: "mammogram",
			Eligible: func(age float64, gender string) bool {
				return age >= 40 && strings.EqualFold(gender, "female")
			},
			Lookback: 365 * day,
			Keyword:  ContainsAny("mammogram"),
			Message:  "Annual mammogram due",
			Action:   "Schedule mammogram",
		},
	}
}

// PreventiveCareChecker raises an alert for each eligible rule with no
// matching order completed inside its lookback window.
type PreventiveCareChecker struct {
	rules []PreventiveRule
}

func NewPreventiveCareChecker(rules []PreventiveRule) *PreventiveCareChecker {
	return &PreventiveCareChecker{rules: rules}
}

func (c *PreventiveCareChecker) Name() string { return CheckPreventiveCare }

func (c *PreventiveCareChecker) Check(_ context.Context, s *Snapshot, now time.Time) ([]Alert, error) {
	age := s.AgeAt(now)
	var alerts []Alert
	for _, r := range c.rules {
		if !r.Eligible(age, s.Gender) || satisfied(s.Orders, r, now) {
			continue
		}
		alerts = append(alerts, newAlert(AlertPreventiveCare, severityInfo, r.Message, r.Action,
			map[string]any{
				"screening":     r.Name,
				"lookback_days": int(r.Lookback / day),
			}))
	}
	return alerts, nil
}

func satisfied(orders []Order, r PreventiveRule, now time.Time) bool {
	for _, o := range orders {
		if r.Keyword(o.Description) && since(o.CompletedAt, now, r.Lookback) {
			return true
		}
	}
	return false
}

// CriticalLabChecker flags lab orders with critical results from the last 24 hours.
type CriticalLabChecker struct{}

func (CriticalLabChecker) Name() string { return CheckCriticalLab }

func (CriticalLabChecker) Check(_ context.Context, s *Snapshot, now time.Time) ([]Alert, error) {
	var alerts []Alert
	for _, o := range s.Orders {
		if o.Type != OrderTypeLab || o.ResultStatus != ResultStatusCritical || !since(o.CompletedAt, now, labWindow) {
			continue
		}
		ctx := map[string]any{"order": o.Description}
		if o.Results != nil {
			ctx["results"] = cloneValue(o.Results)
		}
		alerts = append(alerts, newAlert(AlertCriticalLab, severityCritical,
			"Critical lab value: "+o.Description,
			"Immediate physician review",
			ctx))
	}
	return alerts, nil
}
