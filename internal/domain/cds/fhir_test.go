package cds

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cds/internal/platform/fhir"
)

func TestVitals_Map(t *testing.T) {
	v := Vitals{
		TemperatureC: ptr(38.2),
		HeartRate:    ptr(0),
		SystolicBP:   ptr(118),
		HeightCM:     ptr(180.0),
		WeightKG:     ptr(81.0),
	}
	m := v.Map()
	want := map[string]float64{
		fhir.VitalTemperature: 38.2,
		fhir.VitalHeartRate:   0,
		fhir.VitalSystolicBP:  118,
		fhir.VitalBodyHeight:  180,
		fhir.VitalBodyWeight:  81,
		fhir.VitalBMI:         25,
	}
	if len(m) != len(want) {
		t.Fatalf("expected %d entries, got %v", len(want), m)
	}
	for k, w := range want {
		if got, ok := m[k]; !ok || !approx(got, w) {
			t.Errorf("%s: expected %v, got %v (present %v)", k, w, got, ok)
		}
	}
	if len((Vitals{}).Map()) != 0 {
		t.Error("expected empty map for unrecorded vitals")
	}
}

func TestObservationBundle(t *testing.T) {
	patient := uuid.New()
	encID := uuid.New()
	start := testNow.Add(-2 * time.Hour)
	snap := newTestSnapshot(t, Snapshot{
		PatientID:   patient,
		DateOfBirth: bornYearsAgo(70),
		Encounters: []Encounter{
			{ID: encID, Type: EncounterTypeEmergency, Status: "in-progress", Department: "ED", StartTime: start,
				Vitals: Vitals{HeartRate: ptr(118), RespiratoryRate: ptr(24)}},
			{Type: EncounterTypeOutpatient, StartTime: start.Add(-30 * day)},
		},
	})

	b, err := ObservationBundle(snap, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// encounter, 2 observations, encounter
	if *b.Total != 4 {
		t.Fatalf("expected 4 entries, got %d", *b.Total)
	}

	var enc fhir.Encounter
	if err := json.Unmarshal(b.Entry[0].Resource, &enc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.ID != encID.String() || enc.Class.Code != "EMER" || enc.Status != "in-progress" {
		t.Errorf("unexpected encounter: %+v", enc)
	}
	if enc.Subject.Reference != "Patient/"+patient.String() {
		t.Errorf("unexpected subject: %s", enc.Subject.Reference)
	}
	if len(enc.Location) != 1 || enc.Location[0].Location.Display != "ED" {
		t.Errorf("unexpected location: %+v", enc.Location)
	}
	if enc.Period == nil || !enc.Period.Start.Equal(start) || enc.Period.End != nil {
		t.Errorf("unexpected period: %+v", enc.Period)
	}

	var obs fhir.Observation
	if err := json.Unmarshal(b.Entry[1].Resource, &obs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.Code.Coding[0].Code != "8867-4" || obs.ValueQuantity.Value != 118 {
		t.Errorf("unexpected observation: %+v", obs)
	}
	if obs.Encounter == nil || obs.Encounter.Reference != "Encounter/"+encID.String() {
		t.Errorf("expected encounter reference, got %+v", obs.Encounter)
	}

	var second fhir.Encounter
	if err := json.Unmarshal(b.Entry[3].Resource, &second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != "" || second.Status != "unknown" || second.Class.Code != "AMB" {
		t.Errorf("unexpected second encounter: %+v", second)
	}
	if !strings.HasPrefix(b.Entry[3].FullURL, "urn:uuid:") {
		t.Errorf("expected urn:uuid full URL, got %s", b.Entry[3].FullURL)
	}
}

func TestHandler_ExportObservations(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(snapshotBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.ExportObservations(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var b fhir.Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ResourceType != "Bundle" || b.Type != "collection" || *b.Total != 3 {
		t.Errorf("unexpected bundle: %s %s %d", b.ResourceType, b.Type, *b.Total)
	}
	if !b.Timestamp.Equal(testNow) {
		t.Errorf("expected handler clock as timestamp, got %v", b.Timestamp)
	}
}

func TestHandler_ExportObservations_BadRequest(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"gender":"male"}`))
	rec := httptest.NewRecorder()
	if err := h.ExportObservations(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"OperationOutcome"`) {
		t.Errorf("expected OperationOutcome body, got %s", rec.Body.String())
	}
}
