package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/consult/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const requestCols = `id, patient_id, patient_provider_id, doctor_id, doctor_provider_id,
	patient_name, patient_age, patient_contact, patient_location, consultation_mode,
	preferred_date, symptoms, ai_risk_level, ai_confidence, ai_summary, ai_image_analysis,
	ai_prediction_id, status, urgency, doctor_notes, appointment_date, rejection_reason,
	created_at, updated_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var a Request
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientProviderID, &a.DoctorID, &a.DoctorProviderID,
		&a.PatientName, &a.PatientAge, &a.PatientContact, &a.PatientLocation, &a.Mode,
		&a.PreferredDate, &a.Symptoms, &a.AI.RiskLevel, &a.AI.Confidence, &a.AI.Summary, &a.AI.ImageAnalysis,
		&a.AI.PredictionID, &a.Status, &a.Urgency, &a.DoctorNotes, &a.AppointmentDate, &a.RejectionReason,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func collect(rows pgx.Rows) ([]*Request, error) {
	defer rows.Close()
	var items []*Request
	for rows.Next() {
		a, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, a *Request) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment_request (id, patient_id, patient_provider_id, doctor_id, doctor_provider_id,
			patient_name, patient_age, patient_contact, patient_location, consultation_mode,
			preferred_date, symptoms, ai_risk_level, ai_confidence, ai_summary, ai_image_analysis,
			ai_prediction_id, status, urgency)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.PatientProviderID, a.DoctorID, a.DoctorProviderID,
		a.PatientName, a.PatientAge, a.PatientContact, a.PatientLocation, string(a.Mode),
		a.PreferredDate, a.Symptoms, string(a.AI.RiskLevel), a.AI.Confidence, a.AI.Summary, a.AI.ImageAnalysis,
		a.AI.PredictionID, string(a.Status), string(a.Urgency)).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment request: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM appointment_request WHERE id = $1`, id))
}

func (r *repoPG) Transition(ctx context.Context, id uuid.UUID, fn func(*Request) error) (*Request, error) {
	var out *Request
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		a, err := scanRequest(r.conn(ctx).QueryRow(ctx,
			`SELECT `+requestCols+` FROM appointment_request WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		err = r.conn(ctx).QueryRow(ctx, `
			UPDATE appointment_request SET status = $2, doctor_notes = $3, appointment_date = $4,
				rejection_reason = $5, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at`,
			a.ID, string(a.Status), a.DoctorNotes, a.AppointmentDate, a.RejectionReason).Scan(&a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update appointment request: %w", err)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorProviderID string, status *Status, limit, offset int) ([]*Request, int, error) {
	where := ` WHERE doctor_provider_id = $1`
	args := []interface{}{doctorProviderID}
	if status != nil {
		where += ` AND status = $2`
		args = append(args, string(*status))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment_request`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count doctor requests: %w", err)
	}
	query := `SELECT ` + requestCols + ` FROM appointment_request` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list doctor requests: %w", err)
	}
	items, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Request, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment_request WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patient requests: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+requestCols+` FROM appointment_request
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patient requests: %w", err)
	}
	items, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) CountByPatient(ctx context.Context, patientID uuid.UUID) (Counts, error) {
	var c Counts
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, COUNT(*) FROM appointment_request
		WHERE patient_id = $1 GROUP BY status`, patientID)
	if err != nil {
		return c, fmt.Errorf("count patient requests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		c.Add(Status(status), n)
	}
	return c, rows.Err()
}
