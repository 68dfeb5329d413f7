package cds

import (
	"time"

	"github.com/google/uuid"
)

// Order types accepted on a snapshot.
const (
	OrderTypeMedication = "medication"
	OrderTypeLab        = "lab"
	OrderTypeImaging    = "imaging"
	OrderTypeProcedure  = "procedure"
)

// Order statuses.
const (
	OrderStatusOrdered    = "ordered"
	OrderStatusInProgress = "in_progress"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

// ResultStatusCritical marks a lab result that needs immediate review.
const ResultStatusCritical = "critical"

// Encounter types.
const (
	EncounterTypeInpatient  = "inpatient"
	EncounterTypeOutpatient = "outpatient"
	EncounterTypeEmergency  = "emergency"
	EncounterTypeVirtual    = "virtual"
)

var validOrderTypes = map[string]bool{
	OrderTypeMedication: true,
	OrderTypeLab:        true,
	OrderTypeImaging:    true,
	OrderTypeProcedure:  true,
}

// Snapshot is the point-in-time bundle of clinical facts an evaluation runs
// against. Build it with NewSnapshot or DecodeSnapshot; the engine only reads it.
type Snapshot struct {
	PatientID   uuid.UUID   `json:"patient_id"`
	MRN         string      `json:"mrn,omitempty"`
	DateOfBirth time.Time   `json:"date_of_birth"`
	Gender      string      `json:"gender,omitempty"`
	Encounters  []Encounter `json:"encounters,omitempty"`
	Orders      []Order     `json:"orders,omitempty"`
	Allergies   []Allergy   `json:"allergies,omitempty"`
}

// Encounter is a visit or admission with the vitals recorded on it.
type Encounter struct {
	ID         uuid.UUID   `json:"id,omitempty"`
	PatientID  uuid.UUID   `json:"patient_id,omitempty"`
	Type       string      `json:"encounter_type,omitempty"`
	Status     string      `json:"status,omitempty"`
	Department string      `json:"department,omitempty"`
	StartTime  time.Time   `json:"start_time,omitempty"`
	EndTime    *time.Time  `json:"end_time,omitempty"`
	Vitals     Vitals      `json:"vitals"`
	Diagnoses  []Diagnosis `json:"diagnoses,omitempty"`
}

// Vitals holds optional vital signs. A nil field is unknown, never zero.
type Vitals struct {
	TemperatureC     *float64 `json:"temperature,omitempty"`
	HeartRate        *int     `json:"heart_rate,omitempty"`
	RespiratoryRate  *int     `json:"respiratory_rate,omitempty"`
	SystolicBP       *int     `json:"blood_pressure_systolic,omitempty"`
	DiastolicBP      *int     `json:"blood_pressure_diastolic,omitempty"`
	OxygenSaturation *float64 `json:"oxygen_saturation,omitempty"`
	HeightCM         *float64 `json:"height,omitempty"`
	WeightKG         *float64 `json:"weight,omitempty"`
}

// BMI returns weight / height² when both are recorded.
func (v Vitals) BMI() (float64, bool) {
	if v.HeightCM == nil || v.WeightKG == nil || *v.HeightCM <= 0 {
		return 0, false
	}
	m := *v.HeightCM / 100
	return *v.WeightKG / (m * m), true
}

// Diagnosis is an ICD-10 coded diagnosis recorded on an encounter.
type Diagnosis struct {
	ICD10Code   string `json:"icd10_code,omitempty"`
	Description string `json:"description"`
}

// Order is a medication, lab, imaging or procedure order.
type Order struct {
	ID           uuid.UUID      `json:"id,omitempty"`
	PatientID    uuid.UUID      `json:"patient_id,omitempty"`
	Type         string         `json:"order_type"`
	Description  string         `json:"description"`
	Status       string         `json:"status,omitempty"`
	Priority     string         `json:"priority,omitempty"`
	ResultStatus string         `json:"result_status,omitempty"`
	Results      map[string]any `json:"results,omitempty"`
	OrderedAt    *time.Time     `json:"ordered_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Allergy is a recorded allergy or adverse reaction.
type Allergy struct {
	Allergen string `json:"allergen"`
	Severity string `json:"severity,omitempty"`
	Reaction string `json:"reaction,omitempty"`
	Active   bool   `json:"is_active"`
}

// AlertType tags the concern an alert was raised for.
type AlertType string

const (
	AlertDrugInteraction AlertType = "drug_interaction"
	AlertAllergyConflict AlertType = "allergy_conflict"
	AlertPreventiveCare  AlertType = "preventive_care"
	AlertCriticalLab     AlertType = "critical_lab"
	AlertDeterioration   AlertType = "deterioration"
	AlertSepsis          AlertType = "sepsis"
)

// Priority is the normalized presentation level of an alert.
type Priority string

const (
	PriorityInfo     Priority = "info"
	PriorityWarning  Priority = "warning"
	PriorityCritical Priority = "critical"
)

var severityPriority = map[string]Priority{
	"critical":         PriorityCritical,
	"contraindicated":  PriorityCritical,
	"life-threatening": PriorityCritical,
	"severe":           PriorityCritical,
	"major":            PriorityWarning,
	"moderate":         PriorityWarning,
	"warning":          PriorityWarning,
}

// PriorityFor maps a checker-assigned severity onto info, warning or critical.
// Unrecognised severities are informational.
func PriorityFor(severity string) Priority {
	if p, ok := severityPriority[severity]; ok {
		return p
	}
	return PriorityInfo
}

// Alert is a value produced fresh on every evaluation. Severity is whatever the
// originating checker assigned; Priority is its normalized form.
type Alert struct {
	Type     AlertType      `json:"type"`
	Severity string         `json:"severity"`
	Priority Priority       `json:"priority"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
	Action   string         `json:"action_required"`
}

func newAlert(t AlertType, severity, message, action string, ctx map[string]any) Alert {
	return Alert{
		Type:     t,
		Severity: severity,
		Priority: PriorityFor(severity),
		Message:  message,
		Context:  ctx,
		Action:   action,
	}
}

// Score and count names used in RiskScoreReport.
const (
	ScoreFallRisk        = "fall_risk"
	ScoreReadmissionRisk = "readmission_risk"
	ScoreMortalityRisk   = "mortality_risk"
	ScoreSepsisRisk      = "sepsis_risk"
	ScoreSIRS            = "sirs"

	CountQSOFA = "qsofa"
	CountSIRS  = "sirs"
	CountNEWS2 = "news2"
)

// DeteriorationLevel is the NEWS2 signal band.
type DeteriorationLevel string

const (
	DeteriorationNone     DeteriorationLevel = "none"
	DeteriorationElevated DeteriorationLevel = "elevated"
	DeteriorationCritical DeteriorationLevel = "critical"
)

// Recommendation is a guideline record returned for an ICD-10 code.
type Recommendation struct {
	ICD10Code     string `json:"icd10_code"`
	Title         string `json:"title"`
	Summary       string `json:"summary,omitempty"`
	EvidenceLevel string `json:"evidence_level,omitempty"`
	Source        string `json:"source,omitempty"`
	URL           string `json:"url,omitempty"`
}

// RiskScoreReport bundles every computed score for one evaluation. Degraded
// names the checks that could not complete, so a missing alert is never silent.
type RiskScoreReport struct {
	PatientID       uuid.UUID          `json:"patient_id"`
	MRN             string             `json:"mrn,omitempty"`
	EvaluatedAt     time.Time          `json:"evaluated_at"`
	Scores          map[string]float64 `json:"scores"`
	Counts          map[string]int     `json:"counts"`
	Deterioration   DeteriorationLevel `json:"deterioration"`
	Recommendations []Recommendation   `json:"recommendations,omitempty"`
	Degraded        []string           `json:"degraded,omitempty"`
}

// IsDegraded reports whether the named check failed during the evaluation.
func (r *RiskScoreReport) IsDegraded(name string) bool {
	for _, d := range r.Degraded {
		if d == name {
			return true
		}
	}
	return false
}

// Evaluation is the full engine output as served over HTTP and the CLI.
type Evaluation struct {
	Report *RiskScoreReport `json:"report"`
	Alerts []Alert          `json:"alerts"`
}
