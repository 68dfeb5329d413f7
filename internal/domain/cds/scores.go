package cds

import (
	"math"
	"time"
)

const (
	qsofaMax = 3
	sirsMax  = 4

	news2Critical = 7
	news2Elevated = 5

	sirsSepsisThreshold = 2

	labWindow = 24 * time.Hour
)

// Calculator computes the bounded risk scores. All methods are pure functions
// of the snapshot and now.
type Calculator struct {
	vocab                   Vocabulary
	clinicalTemperatureBand bool
}

// NewCalculator returns a calculator using vocab; unset matchers fall back to
// DefaultVocabulary.
func NewCalculator(vocab Vocabulary, clinicalTemperatureBand bool) *Calculator {
	return &Calculator{vocab: vocab.withDefaults(), clinicalTemperatureBand: clinicalTemperatureBand}
}

func normalize(points int) float64 {
	return math.Min(float64(points)/100.0, 1.0)
}

// FallRisk is a Morse-style score from age and diagnosis history.
func (c *Calculator) FallRisk(s *Snapshot, now time.Time) float64 {
	points := 0
	age := s.AgeAt(now)
	if age >= 65 {
		points += 15
	} else if age >= 50 {
		points += 10
	}

	var fall, mobility bool
	for _, e := range s.Encounters {
		for _, d := range e.Diagnoses {
			if !fall && c.vocab.FallHistory(d.Description) {
				fall = true
			}
			if !mobility && c.vocab.MobilityImpairment(d.Description) {
				mobility = true
			}
		}
	}
	if fall {
		points += 25
	}
	if mobility {
		points += 20
	}
	return normalize(points)
}

// ReadmissionRisk scores repeat admissions, chronic disease burden and age.
func (c *Calculator) ReadmissionRisk(s *Snapshot, now time.Time) float64 {
	if len(s.Encounters) == 0 {
		return 0.0
	}
	points := 0
	inpatient := 0
	for _, e := range s.Encounters {
		if e.Type == EncounterTypeInpatient {
			inpatient++
		}
		if anyDiagnosis(e.Diagnoses, c.vocab.ChronicCondition) {
			points += 10
		}
	}
	if inpatient > 1 {
		points += 30
	}
	if s.AgeAt(now) >= 65 {
		points += 15
	}
	return normalize(points)
}

// MortalityRisk scores age and every high-risk diagnosis on every encounter.
func (c *Calculator) MortalityRisk(s *Snapshot, now time.Time) float64 {
	points := 0
	age := s.AgeAt(now)
	if age >= 80 {
		points += 40
	} else if age >= 65 {
		points += 20
	}
	for _, e := range s.Encounters {
		for _, d := range e.Diagnoses {
			if c.vocab.HighRiskCondition(d.Description) {
				points += 30
			}
		}
	}
	return normalize(points)
}

// QSOFA returns the raw quick SOFA count (0..3) for the latest encounter.
func (c *Calculator) QSOFA(s *Snapshot) int {
	e := s.LatestEncounter()
	if e == nil {
		return 0
	}
	score := 0
	if v := e.Vitals.SystolicBP; v != nil && *v <= 100 {
		score++
	}
	if v := e.Vitals.RespiratoryRate; v != nil && *v >= 22 {
		score++
	}
	if anyDiagnosis(e.Diagnoses, c.vocab.AlteredMentalStatus) {
		score++
	}
	return score
}

// SIRS returns the count (0..4) of SIRS criteria met on the latest encounter
// and the most recent CBC completed in the last 24 hours.
func (c *Calculator) SIRS(s *Snapshot, now time.Time) int {
	count := 0
	if e := s.LatestEncounter(); e != nil {
		if v := e.Vitals.TemperatureC; v != nil && (*v > 38.0 || *v < 36.0) {
			count++
		}
		if v := e.Vitals.HeartRate; v != nil && *v > 90 {
			count++
		}
		if v := e.Vitals.RespiratoryRate; v != nil && *v > 20 {
			count++
		}
	}
	if wbc, ok := c.recentWBC(s, now); ok && (wbc > 12000 || wbc < 4000) {
		count++
	}
	return count
}

func (c *Calculator) recentWBC(s *Snapshot, now time.Time) (float64, bool) {
	var latest *Order
	for i := range s.Orders {
		o := &s.Orders[i]
		if o.Type != OrderTypeLab || !c.vocab.CBCPanel(o.Description) || !since(o.CompletedAt, now, labWindow) {
			continue
		}
		if latest == nil || o.CompletedAt.After(*latest.CompletedAt) {
			latest = o
		}
	}
	if latest == nil {
		return 0, false
	}
	return numeric(latest.Results["wbc"])
}

// numeric accepts the number shapes a JSON or JSONB result payload may carry.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// NEWS2 sums the sub-scores over the latest encounter's recorded vitals.
func (c *Calculator) NEWS2(s *Snapshot) int {
	e := s.LatestEncounter()
	if e == nil {
		return 0
	}
	v := e.Vitals
	score := 0
	if v.RespiratoryRate != nil {
		score += news2Respiration(*v.RespiratoryRate)
	}
	if v.OxygenSaturation != nil {
		score += news2Saturation(*v.OxygenSaturation)
	}
	if v.SystolicBP != nil {
		score += news2Systolic(*v.SystolicBP)
	}
	if v.HeartRate != nil {
		score += news2Pulse(*v.HeartRate)
	}
	if v.TemperatureC != nil {
		score += c.news2Temperature(*v.TemperatureC)
	}
	return score
}

func news2Respiration(rr int) int {
	switch {
	case rr <= 8:
		return 3
	case rr <= 11:
		return 1
	case rr >= 25:
		return 3
	case rr >= 21:
		return 2
	}
	return 0
}

func news2Saturation(spo2 float64) int {
	switch {
	case spo2 <= 91:
		return 3
	case spo2 <= 93:
		return 2
	case spo2 <= 95:
		return 1
	}
	return 0
}

func news2Systolic(sbp int) int {
	switch {
	case sbp <= 90:
		return 3
	case sbp <= 100:
		return 2
	case sbp <= 110:
		return 1
	case sbp >= 220:
		return 3
	}
	return 0
}

func news2Pulse(hr int) int {
	switch {
	case hr <= 40:
		return 3
	case hr <= 50:
		return 1
	case hr >= 131:
		return 3
	case hr >= 111:
		return 2
	case hr >= 91:
		return 1
	}
	return 0
}

// news2Temperature leaves 35.1-36.0 °C unscored unless the clinical band is
// enabled, in which case it scores 1.
func (c *Calculator) news2Temperature(t float64) int {
	switch {
	case t <= 35.0:
		return 3
	case t >= 39.1:
		return 2
	case t >= 38.1:
		return 1
	case c.clinicalTemperatureBand && t <= 36.0:
		return 1
	}
	return 0
}

// DeteriorationFor maps a NEWS2 total onto its signal band.
func DeteriorationFor(news2 int) DeteriorationLevel {
	switch {
	case news2 >= news2Critical:
		return DeteriorationCritical
	case news2 >= news2Elevated:
		return DeteriorationElevated
	}
	return DeteriorationNone
}
