package cds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cds/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type snapshotRepoPG struct{ pool *pgxpool.Pool }

func NewSnapshotRepoPG(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepoPG{pool: pool}
}

func (r *snapshotRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const encounterCols = `id, patient_id, encounter_type, COALESCE(status, ''), COALESCE(department, ''),
	start_time, end_time, temperature, heart_rate, respiratory_rate,
	blood_pressure_systolic, blood_pressure_diastolic, oxygen_saturation, height, weight`

const orderCols = `id, patient_id, order_type, description, COALESCE(status, ''), COALESCE(priority, ''),
	COALESCE(result_status, ''), results, ordered_at, completed_at`

func (r *snapshotRepoPG) Load(ctx context.Context, patientID uuid.UUID, since time.Time) (*Snapshot, error) {
	var in Snapshot
	err := db.ReadSnapshot(ctx, r.pool, func(ctx context.Context) error {
		if err := r.loadPatient(ctx, patientID, &in); err != nil {
			return err
		}
		if err := r.loadEncounters(ctx, patientID, since, &in); err != nil {
			return fmt.Errorf("load encounters: %w", err)
		}
		if err := r.loadOrders(ctx, patientID, &in); err != nil {
			return fmt.Errorf("load orders: %w", err)
		}
		if err := r.loadAllergies(ctx, patientID, &in); err != nil {
			return fmt.Errorf("load allergies: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewSnapshot(in)
}

func (r *snapshotRepoPG) loadPatient(ctx context.Context, id uuid.UUID, s *Snapshot) error {
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, mrn, date_of_birth, COALESCE(gender, '') FROM patients WHERE id = $1`, id).
		Scan(&s.PatientID, &s.MRN, &s.DateOfBirth, &s.Gender)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPatientNotFound
	}
	if err != nil {
		return fmt.Errorf("load patient: %w", err)
	}
	return nil
}

func (r *snapshotRepoPG) loadEncounters(ctx context.Context, patientID uuid.UUID, since time.Time, s *Snapshot) error {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+encounterCols+` FROM encounters
		WHERE patient_id = $1 AND start_time >= $2 ORDER BY start_time DESC`, patientID, since)
	if err != nil {
		return err
	}
	defer rows.Close()
	index := map[uuid.UUID]int{}
	for rows.Next() {
		var e Encounter
		v := &e.Vitals
		if err := rows.Scan(&e.ID, &e.PatientID, &e.Type, &e.Status, &e.Department,
			&e.StartTime, &e.EndTime, &v.TemperatureC, &v.HeartRate, &v.RespiratoryRate,
			&v.SystolicBP, &v.DiastolicBP, &v.OxygenSaturation, &v.HeightCM, &v.WeightKG); err != nil {
			return err
		}
		index[e.ID] = len(s.Encounters)
		s.Encounters = append(s.Encounters, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(s.Encounters) == 0 {
		return nil
	}

	drows, err := r.conn(ctx).Query(ctx, `
		SELECT d.encounter_id, COALESCE(d.icd10_code, ''), d.description
		FROM diagnoses d JOIN encounters e ON e.id = d.encounter_id
		WHERE e.patient_id = $1 AND e.start_time >= $2
		ORDER BY d.created_at, d.id`, patientID, since)
	if err != nil {
		return err
	}
	defer drows.Close()
	for drows.Next() {
		var encID uuid.UUID
		var d Diagnosis
		if err := drows.Scan(&encID, &d.ICD10Code, &d.Description); err != nil {
			return err
		}
		if i, ok := index[encID]; ok {
			s.Encounters[i].Diagnoses = append(s.Encounters[i].Diagnoses, d)
		}
	}
	return drows.Err()
}

func (r *snapshotRepoPG) loadOrders(ctx context.Context, patientID uuid.UUID, s *Snapshot) error {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+orderCols+` FROM orders
		WHERE patient_id = $1 ORDER BY ordered_at DESC NULLS LAST, id`, patientID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.PatientID, &o.Type, &o.Description, &o.Status, &o.Priority,
			&o.ResultStatus, &o.Results, &o.OrderedAt, &o.CompletedAt); err != nil {
			return err
		}
		s.Orders = append(s.Orders, o)
	}
	return rows.Err()
}

func (r *snapshotRepoPG) loadAllergies(ctx context.Context, patientID uuid.UUID, s *Snapshot) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT allergen, COALESCE(severity, ''), COALESCE(reaction, ''), is_active
		FROM patient_allergies WHERE patient_id = $1 AND is_active ORDER BY allergen`, patientID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var a Allergy
		if err := rows.Scan(&a.Allergen, &a.Severity, &a.Reaction, &a.Active); err != nil {
			return err
		}
		s.Allergies = append(s.Allergies, a)
	}
	return rows.Err()
}
