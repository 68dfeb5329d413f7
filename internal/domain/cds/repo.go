package cds

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SnapshotRepository assembles snapshots from persisted clinical data.
// Encounters starting before since are left out. Returns ErrPatientNotFound
// for unknown patients.
type SnapshotRepository interface {
	Load(ctx context.Context, patientID uuid.UUID, since time.Time) (*Snapshot, error)
}
