package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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

const doctorCols = `d.id, d.provider_id, d.first_name, d.last_name, d.email, d.phone,
	d.specialization, d.qualification, d.experience_years, d.license_number,
	d.hospital, d.location, d.rating::float8, d.consultation_fee, d.available_slots,
	d.languages, d.bio, d.profile_image, d.total_patients, d.total_consultations,
	d.verified, d.active, d.deleted_at, d.created_at, d.updated_at`

const listedClause = `d.active AND d.verified AND d.deleted_at IS NULL`

const listOrder = ` ORDER BY d.rating DESC, d.experience_years DESC, d.total_consultations DESC, d.created_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var slots []byte
	err := row.Scan(&d.ID, &d.ProviderID, &d.FirstName, &d.LastName, &d.Email, &d.Phone,
		&d.Specialization, &d.Qualification, &d.ExperienceYears, &d.LicenseNumber,
		&d.Hospital, &d.Location, &d.Rating, &d.ConsultationFee, &slots,
		&d.Languages, &d.Bio, &d.ProfileImage, &d.TotalPatients, &d.TotalConsultations,
		&d.Verified, &d.Active, &d.DeletedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(slots) > 0 {
		if err := json.Unmarshal(slots, &d.AvailableSlots); err != nil {
			return nil, fmt.Errorf("decode available_slots: %w", err)
		}
	}
	if d.AvailableSlots == nil {
		d.AvailableSlots = []Slot{}
	}
	return &d, nil
}

func collect(rows pgx.Rows) ([]*Doctor, error) {
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Doctor, int, error) {
	where := ` WHERE ` + listedClause
	var args []interface{}
	idx := 1

	if f.Location != "" {
		where += fmt.Sprintf(` AND d.location ILIKE $%d`, idx)
		args = append(args, "%"+escapeLike(f.Location)+"%")
		idx++
	}
	if f.Specialization != "" {
		where += fmt.Sprintf(` AND d.specialization ILIKE $%d`, idx)
		args = append(args, "%"+escapeLike(f.Specialization)+"%")
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(` AND (d.first_name ILIKE $%[1]d OR d.last_name ILIKE $%[1]d
			OR d.specialization ILIKE $%[1]d OR d.hospital ILIKE $%[1]d OR d.location ILIKE $%[1]d)`, idx)
		args = append(args, "%"+escapeLike(f.Search)+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctor d`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count doctors: %w", err)
	}

	query := `SELECT ` + doctorCols + ` FROM doctor d` + where + listOrder +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list doctors: %w", err)
	}
	items, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) Listed(ctx context.Context) ([]*Doctor, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+doctorCols+` FROM doctor d WHERE `+listedClause+listOrder)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) Facets(ctx context.Context) (Facets, error) {
	f := Facets{Locations: []string{}, Specializations: []string{}}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COALESCE(ARRAY(SELECT DISTINCT d.location FROM doctor d
				WHERE `+listedClause+` AND d.location <> '' ORDER BY 1), '{}'),
			COALESCE(ARRAY(SELECT DISTINCT d.specialization FROM doctor d
				WHERE `+listedClause+` AND d.specialization <> '' ORDER BY 1), '{}')`).
		Scan(&f.Locations, &f.Specializations)
	if err != nil {
		return f, fmt.Errorf("doctor facets: %w", err)
	}
	return f, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor d WHERE d.id = $1`, id))
}

func (r *repoPG) GetByProviderID(ctx context.Context, providerID string) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor d WHERE d.provider_id = $1`, providerID))
}

func (r *repoPG) GetBookable(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `
		SELECT `+doctorCols+` FROM doctor d
		JOIN identity i ON i.provider_id = d.provider_id
		WHERE d.id = $1 AND d.active AND d.deleted_at IS NULL
			AND i.active AND i.deleted_at IS NULL AND i.role = 'doctor'`, id))
}

// UpsertProfile writes the clinical columns and marks the profile verified.
// Contact columns are seeded from the identity row on first insert.
func (r *repoPG) UpsertProfile(ctx context.Context, providerID string, p Profile) (*Doctor, error) {
	slots, err := json.Marshal(p.AvailableSlots)
	if err != nil {
		return nil, fmt.Errorf("encode available_slots: %w", err)
	}
	var d *Doctor
	err = db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		var exists bool
		err := r.conn(ctx).QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM identity
				WHERE provider_id = $1 AND role = 'doctor' AND active AND deleted_at IS NULL)`,
			providerID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check identity: %w", err)
		}
		if !exists {
			return ErrNotDoctor
		}

		var id uuid.UUID
		err = r.conn(ctx).QueryRow(ctx, `
			INSERT INTO doctor AS d (provider_id, first_name, last_name, email, phone, profile_image,
				specialization, qualification, experience_years, license_number, hospital, location,
				rating, consultation_fee, available_slots, languages, bio, verified)
			SELECT i.provider_id, i.first_name, i.last_name, i.email, i.phone, i.profile_image,
				$2, $3, $4, $5, $6, $7, COALESCE($8, 4.5), COALESCE($9, 500), $10, $11, $12, TRUE
			FROM identity i WHERE i.provider_id = $1
			ON CONFLICT (provider_id) DO UPDATE SET
				specialization = EXCLUDED.specialization,
				qualification = EXCLUDED.qualification,
				experience_years = EXCLUDED.experience_years,
				license_number = EXCLUDED.license_number,
				hospital = EXCLUDED.hospital,
				location = EXCLUDED.location,
				rating = COALESCE($8, d.rating),
				consultation_fee = COALESCE($9, d.consultation_fee),
				available_slots = EXCLUDED.available_slots,
				languages = EXCLUDED.languages,
				bio = EXCLUDED.bio,
				verified = TRUE,
				updated_at = NOW()
			RETURNING d.id`,
			providerID, p.Specialization, p.Qualification, p.ExperienceYears, p.LicenseNumber,
			p.Hospital, p.Location, p.Rating, p.ConsultationFee, slots, p.Languages, p.Bio).Scan(&id)
		if err != nil {
			return fmt.Errorf("upsert doctor profile: %w", err)
		}
		d, err = r.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *repoPG) IncrementConsultations(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor SET total_consultations = total_consultations + 1, updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
