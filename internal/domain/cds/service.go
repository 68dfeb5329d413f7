package cds

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EncounterWindow is how far back stored encounters are loaded for scoring.
const EncounterWindow = 365 * day

// ErrNoSnapshotSource is returned by EvaluatePatient when no repository is wired.
var ErrNoSnapshotSource = errors.New("no snapshot source configured")

type Service struct {
	engine    *Engine
	snapshots SnapshotRepository
}

// NewService wires the engine to an optional snapshot source.
func NewService(engine *Engine, snapshots SnapshotRepository) *Service {
	return &Service{engine: engine, snapshots: snapshots}
}

func (s *Service) Evaluate(ctx context.Context, snap *Snapshot, now time.Time) (*Evaluation, error) {
	report, alerts, err := s.engine.Evaluate(ctx, snap, now)
	if err != nil {
		return nil, err
	}
	return &Evaluation{Report: report, Alerts: alerts}, nil
}

func (s *Service) EvaluatePatient(ctx context.Context, patientID uuid.UUID, now time.Time) (*Evaluation, error) {
	if patientID == uuid.Nil {
		return nil, &ValidationError{Problems: []string{"patient_id is required"}}
	}
	if s.snapshots == nil {
		return nil, ErrNoSnapshotSource
	}
	snap, err := s.snapshots.Load(ctx, patientID, now.Add(-EncounterWindow))
	if err != nil {
		return nil, err
	}
	return s.Evaluate(ctx, snap, now)
}
