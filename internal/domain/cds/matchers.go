package cds

import "strings"

// Matcher decides whether a free-text description satisfies a clinical rule.
// Scoring code only ever calls matchers, so substring matching can be
// replaced by coded lookups without touching the calculators.
type Matcher func(description string) bool

// ContainsAny returns a case-insensitive substring matcher over terms.
func ContainsAny(terms ...string) Matcher {
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}
	return func(description string) bool {
		d := strings.ToLower(description)
		for _, t := range lowered {
			if strings.Contains(d, t) {
				return true
			}
		}
		return false
	}
}

// Vocabulary groups the matchers the calculators and checkers consult.
type Vocabulary struct {
	FallHistory         Matcher
	MobilityImpairment  Matcher
	ChronicCondition    Matcher
	HighRiskCondition   Matcher
	AlteredMentalStatus Matcher
	CBCPanel            Matcher
}

// DefaultVocabulary reproduces the substring rules the scores were defined with.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		FallHistory:         ContainsAny("fall"),
		MobilityImpairment:  ContainsAny("mobility", "gait", "balance"),
		ChronicCondition:    ContainsAny("diabetes", "heart failure", "copd", "kidney disease"),
		HighRiskCondition:   ContainsAny("sepsis", "shock", "respiratory failure", "cardiac arrest"),
		AlteredMentalStatus: ContainsAny("altered mental status"),
		CBCPanel:            ContainsAny("cbc"),
	}
}

// withDefaults fills unset matchers from DefaultVocabulary.
func (v Vocabulary) withDefaults() Vocabulary {
	d := DefaultVocabulary()
	if v.FallHistory == nil {
		v.FallHistory = d.FallHistory
	}
	if v.MobilityImpairment == nil {
		v.MobilityImpairment = d.MobilityImpairment
	}
	if v.ChronicCondition == nil {
		v.ChronicCondition = d.ChronicCondition
	}
	if v.HighRiskCondition == nil {
		v.HighRiskCondition = d.HighRiskCondition
	}
	if v.AlteredMentalStatus == nil {
		v.AlteredMentalStatus = d.AlteredMentalStatus
	}
	if v.CBCPanel == nil {
		v.CBCPanel = d.CBCPanel
	}
	return v
}

func anyDiagnosis(diagnoses []Diagnosis, m Matcher) bool {
	for _, d := range diagnoses {
		if m(d.Description) {
			return true
		}
	}
	return false
}
