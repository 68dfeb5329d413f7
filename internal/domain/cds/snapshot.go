package cds

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
)

const daysPerYear = 365.25

// NewSnapshot validates in and returns a private deep copy with encounters
// ordered most recent first. Encounters without a start time sort last; ties
// keep their input order.
func NewSnapshot(in Snapshot) (*Snapshot, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	s := in.clone()
	slices.SortStableFunc(s.Encounters, func(a, b Encounter) int {
		switch {
		case a.StartTime.IsZero() && b.StartTime.IsZero():
			return 0
		case a.StartTime.IsZero():
			return 1
		case b.StartTime.IsZero():
			return -1
		}
		return b.StartTime.Compare(a.StartTime)
	})
	return s, nil
}

// DecodeSnapshot reads a JSON snapshot, rejecting unknown fields.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var in Snapshot
	if err := dec.Decode(&in); err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("decode: %v", err)}}
	}
	if dec.More() {
		return nil, &ValidationError{Problems: []string{"decode: trailing data after snapshot"}}
	}
	return NewSnapshot(in)
}

func (s *Snapshot) validate() error {
	verr := &ValidationError{}
	if s.PatientID == uuid.Nil {
		verr.add("patient_id is required")
	}
	if s.DateOfBirth.IsZero() {
		verr.add("date_of_birth is required")
	}
	for i, e := range s.Encounters {
		if e.PatientID != uuid.Nil && e.PatientID != s.PatientID {
			verr.add("encounters[%d]: patient_id %s does not match snapshot patient", i, e.PatientID)
		}
	}
	for i, o := range s.Orders {
		if o.PatientID != uuid.Nil && o.PatientID != s.PatientID {
			verr.add("orders[%d]: patient_id %s does not match snapshot patient", i, o.PatientID)
		}
		if o.Type != "" && !validOrderTypes[o.Type] {
			verr.add("orders[%d]: unknown order_type %q", i, o.Type)
		}
	}
	return verr.orNil()
}

func (s *Snapshot) clone() *Snapshot {
	out := *s
	out.Encounters = make([]Encounter, len(s.Encounters))
	for i, e := range s.Encounters {
		e.EndTime = clonePtr(e.EndTime)
		e.Vitals = e.Vitals.clone()
		e.Diagnoses = slices.Clone(e.Diagnoses)
		out.Encounters[i] = e
	}
	out.Orders = make([]Order, len(s.Orders))
	for i, o := range s.Orders {
		o.OrderedAt = clonePtr(o.OrderedAt)
		o.CompletedAt = clonePtr(o.CompletedAt)
		if o.Results != nil {
			o.Results = cloneValue(o.Results).(map[string]any)
		}
		out.Orders[i] = o
	}
	out.Allergies = slices.Clone(s.Allergies)
	return &out
}

func (v Vitals) clone() Vitals {
	return Vitals{
		TemperatureC:     clonePtr(v.TemperatureC),
		HeartRate:        clonePtr(v.HeartRate),
		RespiratoryRate:  clonePtr(v.RespiratoryRate),
		SystolicBP:       clonePtr(v.SystolicBP),
		DiastolicBP:      clonePtr(v.DiastolicBP),
		OxygenSaturation: clonePtr(v.OxygenSaturation),
		HeightCM:         clonePtr(v.HeightCM),
		WeightKG:         clonePtr(v.WeightKG),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// AgeAt returns the patient's age in fractional years, counting whole days.
func (s *Snapshot) AgeAt(now time.Time) float64 {
	days := math.Floor(now.Sub(s.DateOfBirth).Hours() / 24)
	return days / daysPerYear
}

// LatestEncounter returns the most recent encounter or nil.
func (s *Snapshot) LatestEncounter() *Encounter {
	if len(s.Encounters) == 0 {
		return nil
	}
	return &s.Encounters[0]
}

// since reports whether t is at or after now - d. Timestamps after now count.
func since(t *time.Time, now time.Time, d time.Duration) bool {
	if t == nil || t.IsZero() {
		return false
	}
	return !t.Before(now.Add(-d))
}
