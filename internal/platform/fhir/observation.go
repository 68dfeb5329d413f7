package fhir

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	LOINCSystem               = "http://loinc.org"
	UCUMSystem                = "http://unitsofmeasure.org"
	ObservationCategorySystem = "http://terminology.hl7.org/CodeSystem/observation-category"
	ActCodeSystem             = "http://terminology.hl7.org/CodeSystem/v3-ActCode"
)

// Vital-sign keys accepted by NewVitalSignObservation.
const (
	VitalTemperature      = "temperature"
	VitalHeartRate        = "heart_rate"
	VitalSystolicBP       = "blood_pressure_systolic"
	VitalDiastolicBP      = "blood_pressure_diastolic"
	VitalRespiratoryRate  = "respiratory_rate"
	VitalOxygenSaturation = "oxygen_saturation"
	VitalBodyHeight       = "body_height"
	VitalBodyWeight       = "body_weight"
	VitalBMI              = "bmi"
)

type vitalCode struct {
	loinc, display, unit string
}

var vitalCodes = map[string]vitalCode{
	VitalTemperature:      {"8310-5", "Body temperature", "Cel"},
	VitalHeartRate:        {"8867-4", "Heart rate", "/min"},
	VitalSystolicBP:       {"8480-6", "Systolic blood pressure", "mm[Hg]"},
	VitalDiastolicBP:      {"8462-4", "Diastolic blood pressure", "mm[Hg]"},
	VitalRespiratoryRate:  {"9279-1", "Respiratory rate", "/min"},
	VitalOxygenSaturation: {"2708-6", "Oxygen saturation", "%"},
	VitalBodyHeight:       {"8302-2", "Body height", "cm"},
	VitalBodyWeight:       {"29463-7", "Body weight", "kg"},
	VitalBMI:              {"39156-5", "Body mass index", "kg/m2"},
}

// UnknownVitalSignError is returned for a vital-sign key with no LOINC mapping.
type UnknownVitalSignError struct {
	Key string
}

func (e *UnknownVitalSignError) Error() string {
	return fmt.Sprintf("unknown vital sign type: %q", e.Key)
}

// Observation is the subset of the FHIR R4 Observation used for vital signs.
type Observation struct {
	ResourceType      string            `json:"resourceType"`
	ID                string            `json:"id,omitempty"`
	Status            string            `json:"status"`
	Category          []CodeableConcept `json:"category"`
	Code              CodeableConcept   `json:"code"`
	Subject           Reference         `json:"subject"`
	Encounter         *Reference        `json:"encounter,omitempty"`
	EffectiveDateTime *time.Time        `json:"effectiveDateTime,omitempty"`
	ValueQuantity     *Quantity         `json:"valueQuantity,omitempty"`
}

// VitalSignSource identifies who and when a set of vitals belongs to.
type VitalSignSource struct {
	PatientID   string
	EncounterID string
	Effective   time.Time
}

// NewVitalSignObservation builds a final vital-signs Observation for key.
func NewVitalSignObservation(src VitalSignSource, key string, value float64) (*Observation, error) {
	vc, ok := vitalCodes[key]
	if !ok {
		return nil, &UnknownVitalSignError{Key: key}
	}
	obs := &Observation{
		ResourceType: "Observation",
		Status:       "final",
		Category: []CodeableConcept{{
			Coding: []Coding{{System: ObservationCategorySystem, Code: "vital-signs", Display: "Vital Signs"}},
		}},
		Code: CodeableConcept{
			Coding: []Coding{{System: LOINCSystem, Code: vc.loinc, Display: vc.display}},
			Text:   vc.display,
		},
		Subject:       Reference{Reference: FormatReference("Patient", src.PatientID)},
		ValueQuantity: &Quantity{Value: value, Unit: vc.unit, System: UCUMSystem, Code: vc.unit},
	}
	if src.EncounterID != "" {
		obs.Encounter = &Reference{Reference: FormatReference("Encounter", src.EncounterID)}
	}
	if !src.Effective.IsZero() {
		t := src.Effective
		obs.EffectiveDateTime = &t
	}
	return obs, nil
}

// VitalSignObservations converts every entry of vitals, in key order. The first
// unknown key fails the whole conversion so no reading is silently dropped.
func VitalSignObservations(src VitalSignSource, vitals map[string]float64) ([]*Observation, error) {
	keys := make([]string, 0, len(vitals))
	for k := range vitals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Observation, 0, len(keys))
	for _, k := range keys {
		obs, err := NewVitalSignObservation(src, k, vitals[k])
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, nil
}

// Encounter is the subset of the FHIR R4 Encounter carried alongside vitals.
type Encounter struct {
	ResourceType string              `json:"resourceType"`
	ID           string              `json:"id,omitempty"`
	Status       string              `json:"status"`
	Class        Coding              `json:"class"`
	Subject      Reference           `json:"subject"`
	Period       *Period             `json:"period,omitempty"`
	Location     []EncounterLocation `json:"location,omitempty"`
}

type EncounterLocation struct {
	Location Reference `json:"location"`
}

var encounterClassCodes = map[string]string{
	"inpatient":  "IMP",
	"outpatient": "AMB",
	"emergency":  "EMER",
	"virtual":    "VR",
}

// EncounterClass maps an encounter type onto the v3 ActCode class, displayed
// as the type itself. Unrecognised types are ambulatory.
func EncounterClass(encounterType string) Coding {
	code, ok := encounterClassCodes[encounterType]
	if !ok {
		code = "AMB"
	}
	display := encounterType
	if display != "" {
		display = strings.ToUpper(display[:1]) + display[1:]
	}
	return Coding{System: ActCodeSystem, Code: code, Display: display}
}
