package fhir

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewVitalSignObservation(t *testing.T) {
	effective := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	src := VitalSignSource{PatientID: "p1", EncounterID: "e1", Effective: effective}

	obs, err := NewVitalSignObservation(src, VitalHeartRate, 112)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.ResourceType != "Observation" || obs.Status != "final" {
		t.Errorf("unexpected header: %s %s", obs.ResourceType, obs.Status)
	}
	if obs.Category[0].Coding[0].Code != "vital-signs" {
		t.Errorf("expected vital-signs category, got %+v", obs.Category)
	}
	if c := obs.Code.Coding[0]; c.System != LOINCSystem || c.Code != "8867-4" {
		t.Errorf("expected LOINC 8867-4, got %+v", c)
	}
	if obs.ValueQuantity.Value != 112 || obs.ValueQuantity.Code != "/min" {
		t.Errorf("unexpected quantity: %+v", obs.ValueQuantity)
	}
	if obs.Subject.Reference != "Patient/p1" || obs.Encounter.Reference != "Encounter/e1" {
		t.Errorf("unexpected references: %v %v", obs.Subject, obs.Encounter)
	}
	if !obs.EffectiveDateTime.Equal(effective) {
		t.Errorf("expected effective %v, got %v", effective, obs.EffectiveDateTime)
	}
}

func TestNewVitalSignObservation_NoEncounter(t *testing.T) {
	obs, err := NewVitalSignObservation(VitalSignSource{PatientID: "p1"}, VitalBMI, 31.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, err := json.Marshal(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m["encounter"]; ok {
		t.Error("encounter should be omitted")
	}
	if _, ok := m["effectiveDateTime"]; ok {
		t.Error("effectiveDateTime should be omitted")
	}
}

func TestNewVitalSignObservation_UnknownKey(t *testing.T) {
	_, err := NewVitalSignObservation(VitalSignSource{PatientID: "p1"}, "pain_score", 4)
	var unknown *UnknownVitalSignError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownVitalSignError, got %v", err)
	}
	if unknown.Key != "pain_score" {
		t.Errorf("expected key pain_score, got %q", unknown.Key)
	}
}

func TestVitalSignObservations(t *testing.T) {
	vitals := map[string]float64{
		VitalTemperature:      38.4,
		VitalOxygenSaturation: 93,
		VitalSystolicBP:       98,
	}
	obs, err := VitalSignObservations(VitalSignSource{PatientID: "p1"}, vitals)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"8480-6", "2708-6", "8310-5"}
	if len(obs) != len(want) {
		t.Fatalf("expected %d observations, got %d", len(want), len(obs))
	}
	for i, code := range want {
		if obs[i].Code.Coding[0].Code != code {
			t.Errorf("observation %d: expected %s, got %s", i, code, obs[i].Code.Coding[0].Code)
		}
	}

	vitals["gcs"] = 14
	if _, err := VitalSignObservations(VitalSignSource{PatientID: "p1"}, vitals); err == nil {
		t.Error("expected error for unknown vital sign")
	}
}

func TestEncounterClass(t *testing.T) {
	tests := map[string]string{
		"inpatient":  "IMP",
		"outpatient": "AMB",
		"emergency":  "EMER",
		"virtual":    "VR",
		"home":       "AMB",
		"":           "AMB",
	}
	for in, want := range tests {
		if got := EncounterClass(in); got.Code != want || got.System != ActCodeSystem {
			t.Errorf("EncounterClass(%q) = %+v, want %s", in, got, want)
		}
	}
	if got := EncounterClass("emergency").Display; got != "Emergency" {
		t.Errorf("expected display Emergency, got %q", got)
	}
}

func TestNewCollectionBundle(t *testing.T) {
	obs, _ := NewVitalSignObservation(VitalSignSource{PatientID: "p1"}, VitalHeartRate, 80)
	enc := &Encounter{ResourceType: "Encounter", ID: "e1", Status: "finished", Class: EncounterClass("inpatient")}
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	b, err := NewCollectionBundle([]interface{}{enc, obs}, ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Type != "collection" || *b.Total != 2 {
		t.Errorf("unexpected bundle header: %s %d", b.Type, *b.Total)
	}
	if b.Entry[0].FullURL != "Encounter/e1" {
		t.Errorf("expected Encounter/e1, got %s", b.Entry[0].FullURL)
	}
	if len(b.Entry[1].FullURL) < len("urn:uuid:") || b.Entry[1].FullURL[:9] != "urn:uuid:" {
		t.Errorf("expected urn:uuid full URL, got %s", b.Entry[1].FullURL)
	}
	var decoded Observation
	if err := json.Unmarshal(b.Entry[1].Resource, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.ValueQuantity.Value != 80 {
		t.Errorf("expected 80, got %v", decoded.ValueQuantity.Value)
	}
}
