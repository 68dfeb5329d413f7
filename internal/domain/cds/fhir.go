package cds

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cds/internal/platform/fhir"
)

// Map returns the recorded vitals keyed by their FHIR vital-sign name. BMI is
// included whenever height and weight are both present.
func (v Vitals) Map() map[string]float64 {
	m := make(map[string]float64)
	putFloat := func(key string, p *float64) {
		if p != nil {
			m[key] = *p
		}
	}
	putInt := func(key string, p *int) {
		if p != nil {
			m[key] = float64(*p)
		}
	}
	putFloat(fhir.VitalTemperature, v.TemperatureC)
	putInt(fhir.VitalHeartRate, v.HeartRate)
	putInt(fhir.VitalRespiratoryRate, v.RespiratoryRate)
	putInt(fhir.VitalSystolicBP, v.SystolicBP)
	putInt(fhir.VitalDiastolicBP, v.DiastolicBP)
	putFloat(fhir.VitalOxygenSaturation, v.OxygenSaturation)
	putFloat(fhir.VitalBodyHeight, v.HeightCM)
	putFloat(fhir.VitalBodyWeight, v.WeightKG)
	if bmi, ok := v.BMI(); ok {
		m[fhir.VitalBMI] = bmi
	}
	return m
}

func fhirEncounter(patientRef string, e Encounter) *fhir.Encounter {
	status := e.Status
	if status == "" {
		status = "unknown"
	}
	enc := &fhir.Encounter{
		ResourceType: "Encounter",
		Status:       status,
		Class:        fhir.EncounterClass(e.Type),
		Subject:      fhir.Reference{Reference: patientRef},
	}
	if e.ID != uuid.Nil {
		enc.ID = e.ID.String()
	}
	if !e.StartTime.IsZero() || e.EndTime != nil {
		enc.Period = &fhir.Period{End: e.EndTime}
		if !e.StartTime.IsZero() {
			start := e.StartTime
			enc.Period.Start = &start
		}
	}
	if e.Department != "" {
		enc.Location = []fhir.EncounterLocation{{Location: fhir.Reference{Display: e.Department}}}
	}
	return enc
}

// ObservationBundle renders every encounter in s as a FHIR Encounter followed
// by its vital-sign Observations, in snapshot order.
func ObservationBundle(s *Snapshot, now time.Time) (*fhir.Bundle, error) {
	patientRef := fhir.FormatReference("Patient", s.PatientID.String())
	resources := make([]interface{}, 0, len(s.Encounters))
	for i, e := range s.Encounters {
		enc := fhirEncounter(patientRef, e)
		resources = append(resources, enc)

		src := fhir.VitalSignSource{PatientID: s.PatientID.String(), EncounterID: enc.ID, Effective: e.StartTime}
		obs, err := fhir.VitalSignObservations(src, e.Vitals.Map())
		if err != nil {
			return nil, fmt.Errorf("encounters[%d]: %w", i, err)
		}
		for _, o := range obs {
			resources = append(resources, o)
		}
	}
	return fhir.NewCollectionBundle(resources, now)
}

// ExportObservations handles POST /cds/observations.
func (h *Handler) ExportObservations(c echo.Context) error {
	snap, herr := decodeBody(c)
	if herr != nil {
		return c.JSON(herr.Code, fhir.ErrorOutcome(fmt.Sprint(herr.Message)))
	}
	bundle, err := ObservationBundle(snap, h.now())
	var unknown *fhir.UnknownVitalSignError
	switch {
	case errors.As(err, &unknown):
		return c.JSON(http.StatusUnprocessableEntity, fhir.UnknownCodeOutcome("Observation.code", err.Error()))
	case err != nil:
		return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, bundle)
}
