package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/consult/internal/platform/auth"
	"github.com/ehr/consult/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const identityCols = `id, provider_id, first_name, last_name, email, phone, role, verified,
	active, deleted_at, profile_image, login_count, last_login_at, provider_updated_at,
	created_at, updated_at`

func scanIdentity(row pgx.Row) (*Identity, error) {
	var i Identity
	var role string
	err := row.Scan(&i.ID, &i.ProviderID, &i.FirstName, &i.LastName, &i.Email, &i.Phone,
		&role, &i.Verified, &i.Active, &i.DeletedAt, &i.ProfileImage, &i.LoginCount,
		&i.LastLoginAt, &i.ProviderUpdatedAt, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	i.Role = auth.Role(role)
	return &i, nil
}

func (r *repoPG) InsertIfAbsent(ctx context.Context, i *Identity) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO identity (provider_id, first_name, last_name, email, phone, role,
			verified, profile_image, provider_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider_id) DO NOTHING`,
		i.ProviderID, i.FirstName, i.LastName, i.Email, i.Phone, string(i.Role),
		i.Verified, i.ProfileImage, i.ProviderUpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert identity: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Upsert(ctx context.Context, p Profile, createRole auth.Role, role *auth.Role) (*Identity, UpdateOutcome, error) {
	var roleArg *string
	if role != nil {
		s := string(*role)
		roleArg = &s
	}
	var inserted bool
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO identity AS i (provider_id, first_name, last_name, email, phone, role,
			verified, profile_image, provider_updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($10, $6), $7, $8, $9)
		ON CONFLICT (provider_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			verified = EXCLUDED.verified,
			profile_image = EXCLUDED.profile_image,
			role = COALESCE($10, i.role),
			provider_updated_at = COALESCE(EXCLUDED.provider_updated_at, i.provider_updated_at),
			updated_at = NOW()
		WHERE i.provider_updated_at IS NULL
			OR EXCLUDED.provider_updated_at IS NULL
			OR EXCLUDED.provider_updated_at >= i.provider_updated_at
		RETURNING `+identityCols+`, (xmax = 0)`,
		p.ProviderID, p.FirstName, p.LastName, p.Email, p.Phone, string(createRole),
		p.EmailVerified, p.ImageURL, p.updatedAt(), roleArg)

	var i Identity
	var storedRole string
	err := row.Scan(&i.ID, &i.ProviderID, &i.FirstName, &i.LastName, &i.Email, &i.Phone,
		&storedRole, &i.Verified, &i.Active, &i.DeletedAt, &i.ProfileImage, &i.LoginCount,
		&i.LastLoginAt, &i.ProviderUpdatedAt, &i.CreatedAt, &i.UpdatedAt, &inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := r.GetByProviderID(ctx, p.ProviderID)
		if err != nil {
			return nil, "", err
		}
		return current, OutcomeStale, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("upsert identity: %w", err)
	}
	i.Role = auth.Role(storedRole)
	if inserted {
		return &i, OutcomeCreated, nil
	}
	return &i, OutcomeUpdated, nil
}

func (r *repoPG) Tombstone(ctx context.Context, providerID string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO identity AS i (provider_id, active, deleted_at)
		VALUES ($1, FALSE, NOW())
		ON CONFLICT (provider_id) DO UPDATE SET
			active = FALSE,
			deleted_at = COALESCE(i.deleted_at, NOW()),
			updated_at = NOW()`, providerID)
	if err != nil {
		return fmt.Errorf("tombstone identity: %w", err)
	}
	return nil
}

func (r *repoPG) RecordLogin(ctx context.Context, providerID string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE identity SET
			login_count = login_count + 1,
			last_login_at = GREATEST(COALESCE(last_login_at, $2), $2),
			updated_at = NOW()
		WHERE provider_id = $1`, providerID, at)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) GetByProviderID(ctx context.Context, providerID string) (*Identity, error) {
	return scanIdentity(r.conn(ctx).QueryRow(ctx,
		`SELECT `+identityCols+` FROM identity WHERE provider_id = $1`, providerID))
}

// UpsertDoctorContact refreshes the provider-owned columns of the doctor
// profile. A soft-deleted profile stays deleted.
func (r *repoPG) UpsertDoctorContact(ctx context.Context, i *Identity) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor (provider_id, first_name, last_name, email, phone, profile_image)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			profile_image = EXCLUDED.profile_image,
			updated_at = NOW()`,
		i.ProviderID, i.FirstName, i.LastName, i.Email, i.Phone, i.ProfileImage)
	if err != nil {
		return fmt.Errorf("upsert doctor contact: %w", err)
	}
	return nil
}

func (r *repoPG) SoftDeleteDoctor(ctx context.Context, providerID string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor SET active = FALSE, deleted_at = COALESCE(deleted_at, NOW()), updated_at = NOW()
		WHERE provider_id = $1`, providerID)
	if err != nil {
		return fmt.Errorf("soft delete doctor: %w", err)
	}
	return nil
}
