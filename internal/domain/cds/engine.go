package cds

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultLookupTimeout = 2 * time.Second
	guidelineFanOut      = 4
)

type engineOptions struct {
	interactions    DrugInteractionLookup
	guidelines      GuidelineLookup
	lookupTimeout   time.Duration
	logger          zerolog.Logger
	preventiveRules []PreventiveRule
	vocab           Vocabulary
	clinicalTemp    bool
}

// Option configures an Engine.
type Option func(*engineOptions)

func WithDrugInteractionLookup(l DrugInteractionLookup) Option {
	return func(o *engineOptions) { o.interactions = l }
}

func WithGuidelineLookup(l GuidelineLookup) Option {
	return func(o *engineOptions) { o.guidelines = l }
}

// WithLookupTimeout bounds all external lookups made by one evaluation.
func WithLookupTimeout(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.lookupTimeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

func WithPreventiveRules(rules []PreventiveRule) Option {
	return func(o *engineOptions) { o.preventiveRules = rules }
}

func WithVocabulary(v Vocabulary) Option {
	return func(o *engineOptions) { o.vocab = v }
}

// WithClinicalTemperatureBand scores 35.1-36.0 °C as 1 in NEWS2. Without it
// that band scores 0.
func WithClinicalTemperatureBand() Option {
	return func(o *engineOptions) { o.clinicalTemp = true }
}

// Engine evaluates snapshots. It keeps no state between calls and is safe for
// concurrent use.
type Engine struct {
	calc          *Calculator
	checkers      []Checker
	guidelines    GuidelineLookup
	lookupTimeout time.Duration
	logger        zerolog.Logger
}

func NewEngine(opts ...Option) *Engine {
	o := engineOptions{
		lookupTimeout:   defaultLookupTimeout,
		logger:          zerolog.Nop(),
		preventiveRules: DefaultPreventiveRules(),
		vocab:           DefaultVocabulary(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		calc: NewCalculator(o.vocab, o.clinicalTemp),
		checkers: []Checker{
			NewDrugInteractionChecker(o.interactions),
			AllergyChecker{},
			NewPreventiveCareChecker(o.preventiveRules),
			CriticalLabChecker{},
		},
		guidelines:    o.guidelines,
		lookupTimeout: o.lookupTimeout,
		logger:        o.logger,
	}
}

type checkResult struct {
	alerts []Alert
	err    error
}

type scoreResult struct {
	fall, readmission, mortality float64
	qsofa, sirs, news2           int
	err                          error
}

type guidelineResult struct {
	recs []Recommendation
	err  error
}

// Evaluate runs every checker and calculator against s concurrently. It fails
// only when s is invalid; lookup failures, timeouts and checker panics are
// reported through RiskScoreReport.Degraded.
func (e *Engine) Evaluate(ctx context.Context, s *Snapshot, now time.Time) (*RiskScoreReport, []Alert, error) {
	if s == nil {
		return nil, nil, &ValidationError{Problems: []string{"snapshot is required"}}
	}
	snap, err := NewSnapshot(*s)
	if err != nil {
		return nil, nil, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	checks := make([]checkResult, len(e.checkers))
	var scores scoreResult
	var guidance guidelineResult

	var g errgroup.Group
	for i, c := range e.checkers {
		i, c := i, c
		g.Go(func() error {
			checks[i] = runChecker(lookupCtx, c, snap, now)
			return nil
		})
	}
	g.Go(func() error {
		scores = e.computeScores(snap, now)
		return nil
	})
	g.Go(func() error {
		guidance = e.recommendations(lookupCtx, snap)
		return nil
	})
	_ = g.Wait()

	log := e.logger.With().Str("patient_id", snap.PatientID.String()).Logger()

	report := &RiskScoreReport{
		PatientID:     snap.PatientID,
		MRN:           snap.MRN,
		EvaluatedAt:   now,
		Scores:        map[string]float64{},
		Counts:        map[string]int{},
		Deterioration: DeteriorationNone,
	}
	alerts := []Alert{}
	for i, res := range checks {
		name := e.checkers[i].Name()
		if res.err != nil {
			log.Warn().Err(res.err).Str("checker", name).Msg("cds check degraded")
			report.Degraded = append(report.Degraded, name)
			continue
		}
		alerts = append(alerts, res.alerts...)
	}

	if guidance.err != nil {
		log.Warn().Err(guidance.err).Str("checker", CheckGuidelines).Msg("cds check degraded")
		report.Degraded = append(report.Degraded, CheckGuidelines)
	}
	report.Recommendations = guidance.recs

	if scores.err != nil {
		log.Error().Err(scores.err).Str("checker", CheckScores).Msg("cds check degraded")
		report.Degraded = append(report.Degraded, CheckScores)
		return report, alerts, nil
	}

	report.Scores[ScoreFallRisk] = scores.fall
	report.Scores[ScoreReadmissionRisk] = scores.readmission
	report.Scores[ScoreMortalityRisk] = scores.mortality
	report.Scores[ScoreSepsisRisk] = float64(scores.qsofa) / qsofaMax
	report.Scores[ScoreSIRS] = float64(scores.sirs) / sirsMax
	report.Counts[CountQSOFA] = scores.qsofa
	report.Counts[CountSIRS] = scores.sirs
	report.Counts[CountNEWS2] = scores.news2
	report.Deterioration = DeteriorationFor(scores.news2)

	switch report.Deterioration {
	case DeteriorationCritical:
		log.Error().Str("signal", "critical").Int("news2", scores.news2).Msg("critical deterioration")
		alerts = append(alerts, newAlert(AlertDeterioration, severityCritical,
			fmt.Sprintf("Critical deterioration: NEWS2 score %d", scores.news2),
			"Immediate clinical review",
			map[string]any{"news2": scores.news2}))
	case DeteriorationElevated:
		log.Warn().Int("news2", scores.news2).Msg("deterioration risk")
		alerts = append(alerts, newAlert(AlertDeterioration, severityWarning,
			fmt.Sprintf("Deterioration risk: NEWS2 score %d", scores.news2),
			"Increase observation frequency",
			map[string]any{"news2": scores.news2}))
	}

	if scores.sirs >= sirsSepsisThreshold {
		log.Warn().Int("sirs", scores.sirs).Int("qsofa", scores.qsofa).Msg("sepsis alert: SIRS criteria met")
		alerts = append(alerts, newAlert(AlertSepsis, severityWarning,
			fmt.Sprintf("Sepsis alert: meets SIRS criteria (%d/%d)", scores.sirs, sirsMax),
			"Initiate sepsis evaluation",
			map[string]any{"sirs": scores.sirs, "qsofa": scores.qsofa}))
	}

	return report, alerts, nil
}

func runChecker(ctx context.Context, c Checker, s *Snapshot, now time.Time) (res checkResult) {
	defer func() {
		if r := recover(); r != nil {
			res = checkResult{err: fmt.Errorf("%s panic: %v", c.Name(), r)}
		}
	}()
	alerts, err := c.Check(ctx, s, now)
	return checkResult{alerts: alerts, err: err}
}

func (e *Engine) computeScores(s *Snapshot, now time.Time) (res scoreResult) {
	defer func() {
		if r := recover(); r != nil {
			res = scoreResult{err: fmt.Errorf("score panic: %v", r)}
		}
	}()
	return scoreResult{
		fall:        e.calc.FallRisk(s, now),
		readmission: e.calc.ReadmissionRisk(s, now),
		mortality:   e.calc.MortalityRisk(s, now),
		qsofa:       e.calc.QSOFA(s),
		sirs:        e.calc.SIRS(s, now),
		news2:       e.calc.NEWS2(s),
	}
}

// recommendations looks up guidelines for each distinct ICD-10 code on the
// latest encounter. Results keep diagnosis order; codes that fail are skipped
// and reported through err.
func (e *Engine) recommendations(ctx context.Context, s *Snapshot) guidelineResult {
	enc := s.LatestEncounter()
	if enc == nil {
		return guidelineResult{}
	}
	var codes []string
	seen := map[string]bool{}
	for _, d := range enc.Diagnoses {
		if d.ICD10Code == "" || seen[d.ICD10Code] {
			continue
		}
		seen[d.ICD10Code] = true
		codes = append(codes, d.ICD10Code)
	}
	if len(codes) == 0 {
		return guidelineResult{}
	}
	if e.guidelines == nil {
		return guidelineResult{err: ErrLookupUnavailable}
	}

	slots := make([]guidelineResult, len(codes))
	var g errgroup.Group
	g.SetLimit(guidelineFanOut)
	for i, code := range codes {
		i, code := i, code
		g.Go(func() error {
			recs, err := awaitLookup(ctx, func(ctx context.Context) ([]Recommendation, error) {
				return e.guidelines.GetRecommendations(ctx, code)
			})
			if err != nil {
				err = fmt.Errorf("recommendations for %s: %w", code, err)
			}
			slots[i] = guidelineResult{recs: recs, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var out guidelineResult
	for _, r := range slots {
		if r.err != nil {
			if out.err == nil {
				out.err = r.err
			}
			continue
		}
		out.recs = append(out.recs, r.recs...)
	}
	return out
}
