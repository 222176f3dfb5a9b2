package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/consult/internal/platform/apperr"
	"github.com/ehr/consult/internal/platform/auth"
	"github.com/ehr/consult/internal/platform/idp"
	"github.com/ehr/consult/internal/platform/metrics"
)

const DefaultSyncPageSize = 500

// Provider is the subset of the identity-provider API the reconciler uses.
type Provider interface {
	GetUser(ctx context.Context, id string) (*idp.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]idp.User, error)
	UpdateRole(ctx context.Context, id, role string) error
}

// Reconciler keeps the local identity store consistent with the provider.
// Events may arrive duplicated and out of order; every write is idempotent
// per provider id.
type Reconciler struct {
	repo     Repository
	provider Provider
	isAdmin  func(email string) bool
	metrics  *metrics.Collector
	logger   zerolog.Logger
	now      func() time.Time
}

func NewReconciler(repo Repository, provider Provider, isAdmin func(string) bool, m *metrics.Collector, logger zerolog.Logger) *Reconciler {
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &Reconciler{
		repo:     repo,
		provider: provider,
		isAdmin:  isAdmin,
		metrics:  m,
		logger:   logger.With().Str("component", "identity").Logger(),
		now:      time.Now,
	}
}

// initialRole applies the creation rules: the admin allow-list, then the
// claim, then the patient default.
func (r *Reconciler) initialRole(p Profile) auth.Role {
	if p.Email != "" && r.isAdmin(p.Email) {
		return auth.RoleAdmin
	}
	if role, ok := p.ClaimedRole(); ok {
		return role
	}
	return auth.RolePatient
}

// needsClaimPatch reports whether the provider has no role claim for p. An
// existing claim is provider-owned and never overwritten.
func needsClaimPatch(p Profile) bool {
	return strings.TrimSpace(p.RoleClaim) == ""
}

func (r *Reconciler) ApplyEvent(ctx context.Context, ev Event) error {
	log := r.logger.With().Str("provider_id", ev.ProviderID).Str("event", string(ev.Type)).Logger()
	var outcome string
	var err error

	switch ev.Type {
	case EventCreated:
		outcome, err = r.created(ctx, ev.Profile, log)
	case EventUpdated:
		outcome, err = r.updated(ctx, ev.Profile, log)
	case EventDeleted:
		outcome, err = r.deleted(ctx, ev.ProviderID)
	case EventSessionStarted:
		outcome = r.sessionStarted(ctx, ev, log)
	default:
		outcome = "ignored"
	}

	if err != nil {
		outcome = "failed"
		if apperr.Is(err, apperr.KindUpstream) {
			outcome = "retry"
		}
		log.Error().Err(err).Str("outcome", outcome).Msg("identity event failed")
	} else {
		log.Info().Str("outcome", outcome).Msg("identity event applied")
	}
	r.metrics.IdentityEvent(string(ev.Type), outcome)
	return err
}

func (r *Reconciler) created(ctx context.Context, p Profile, log zerolog.Logger) (string, error) {
	role := r.initialRole(p)
	created, err := r.repo.InsertIfAbsent(ctx, p.identity(role))
	if err != nil {
		return "", err
	}
	outcome := "created"
	if !created {
		outcome = "skipped"
		existing, err := r.repo.GetByProviderID(ctx, p.ProviderID)
		if err != nil {
			return "", err
		}
		if existing.Deleted() {
			return outcome, nil
		}
		role = existing.Role
	} else if role == auth.RoleDoctor {
		if err := r.repo.UpsertDoctorContact(ctx, p.identity(role)); err != nil {
			return "", err
		}
	}

	// A redelivery after a failed patch lands here as a duplicate and retries
	// the patch.
	if needsClaimPatch(p) {
		if err := r.patchRole(ctx, p.ProviderID, role); err != nil {
			return "", err
		}
		log.Info().Str("role", string(role)).Msg("role claim written to provider")
	}
	return outcome, nil
}

func (r *Reconciler) updated(ctx context.Context, p Profile, log zerolog.Logger) (string, error) {
	var claimed *auth.Role
	if role, ok := p.ClaimedRole(); ok {
		claimed = &role
	}
	createRole := r.initialRole(p)
	i, outcome, err := r.repo.Upsert(ctx, p, createRole, claimed)
	if err != nil {
		return "", err
	}
	if outcome == OutcomeStale {
		log.Info().Time("event_updated_at", p.UpdatedAt).Msg("older than stored record")
		return "skipped", nil
	}
	if i.Role == auth.RoleDoctor {
		if err := r.repo.UpsertDoctorContact(ctx, i); err != nil {
			return "", err
		}
	}
	if outcome == OutcomeCreated && needsClaimPatch(p) {
		if err := r.patchRole(ctx, p.ProviderID, i.Role); err != nil {
			return "", err
		}
	}
	return string(outcome), nil
}

func (r *Reconciler) deleted(ctx context.Context, providerID string) (string, error) {
	if err := r.repo.Tombstone(ctx, providerID); err != nil {
		return "", err
	}
	if err := r.repo.SoftDeleteDoctor(ctx, providerID); err != nil {
		return "", err
	}
	return "deleted", nil
}

// sessionStarted never fails the delivery.
func (r *Reconciler) sessionStarted(ctx context.Context, ev Event, log zerolog.Logger) string {
	at := ev.At
	if at.IsZero() {
		at = r.now().UTC()
	}
	if err := r.repo.RecordLogin(ctx, ev.ProviderID, at); err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warn().Msg("session for unknown identity")
			return "skipped"
		}
		log.Warn().Err(err).Msg("record login failed")
		return "failed"
	}
	return "recorded"
}

func (r *Reconciler) patchRole(ctx context.Context, providerID string, role auth.Role) error {
	if err := r.provider.UpdateRole(ctx, providerID, string(role)); err != nil {
		return apperr.Upstream("provider_unavailable", "could not write role claim to identity provider", err)
	}
	return nil
}

// SyncAll provisions every profile that is not yet known locally. Existing
// records are never touched. Failures are collected and the batch goes on.
func (r *Reconciler) SyncAll(ctx context.Context, profiles []Profile) SyncResult {
	res := SyncResult{Total: len(profiles), Failed: []SyncFailure{}}
	for _, p := range profiles {
		log := r.logger.With().Str("provider_id", p.ProviderID).Str("event", "sync").Logger()
		created, err := r.provision(ctx, p, log)
		switch {
		case err != nil:
			res.Failed = append(res.Failed, SyncFailure{ProviderID: p.ProviderID, Error: err.Error()})
			log.Error().Err(err).Str("outcome", "failed").Msg("sync item failed")
			r.metrics.SyncItem("failed")
		case created:
			res.Created++
			log.Info().Str("outcome", "created").Msg("identity provisioned")
			r.metrics.SyncItem("created")
		default:
			res.Skipped++
			log.Debug().Str("outcome", "skipped").Msg("identity already present")
			r.metrics.SyncItem("skipped")
		}
	}
	return res
}

// provision inserts p with the creation rules. The claim patch is best
// effort.
func (r *Reconciler) provision(ctx context.Context, p Profile, log zerolog.Logger) (bool, error) {
	if p.ProviderID == "" {
		return false, errors.New("missing provider id")
	}
	role := r.initialRole(p)
	created, err := r.repo.InsertIfAbsent(ctx, p.identity(role))
	if err != nil || !created {
		return false, err
	}
	if role == auth.RoleDoctor {
		if err := r.repo.UpsertDoctorContact(ctx, p.identity(role)); err != nil {
			return true, err
		}
	}
	if needsClaimPatch(p) {
		if err := r.patchRole(ctx, p.ProviderID, role); err != nil {
			log.Warn().Err(err).Msg("role claim patch failed")
		}
	}
	return true, nil
}

// SyncFromProvider pages through the provider's users and reconciles each
// page in turn.
func (r *Reconciler) SyncFromProvider(ctx context.Context, pageSize int) (SyncResult, error) {
	if pageSize <= 0 {
		pageSize = DefaultSyncPageSize
	}
	total := SyncResult{Failed: []SyncFailure{}}
	for offset := 0; ; offset += pageSize {
		users, err := r.provider.ListUsers(ctx, pageSize, offset)
		if err != nil {
			return total, apperr.Upstream("provider_unavailable", "could not list identity provider users", err)
		}
		profiles := make([]Profile, len(users))
		for i, u := range users {
			profiles[i] = ProfileFromUser(u)
		}
		total.add(r.SyncAll(ctx, profiles))
		if len(users) < pageSize {
			break
		}
	}
	r.logger.Info().
		Int("total", total.Total).
		Int("created", total.Created).
		Int("skipped", total.Skipped).
		Int("failed", len(total.Failed)).
		Msg("provider sync finished")
	return total, nil
}

// ResolveRole is the single authoritative role lookup. Identities unknown
// locally are fetched from the provider and provisioned on the spot.
func (r *Reconciler) ResolveRole(ctx context.Context, providerID string) (auth.Role, error) {
	i, err := r.resolve(ctx, providerID)
	if err != nil {
		return "", err
	}
	return i.Role, nil
}

func (r *Reconciler) ResolveActor(ctx context.Context, providerID string) (auth.Actor, error) {
	i, err := r.resolve(ctx, providerID)
	if err != nil {
		return auth.Actor{}, err
	}
	return auth.Actor{ProviderID: i.ProviderID, IdentityID: i.ID, Role: i.Role}, nil
}

// Get returns the local identity, including tombstones.
func (r *Reconciler) Get(ctx context.Context, providerID string) (*Identity, error) {
	i, err := r.repo.GetByProviderID(ctx, providerID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("identity_not_found", "identity not found")
	}
	return i, err
}

func (r *Reconciler) resolve(ctx context.Context, providerID string) (*Identity, error) {
	i, err := r.repo.GetByProviderID(ctx, providerID)
	if err == nil {
		if i.Deleted() {
			return nil, apperr.NotFound("identity_deleted", "identity has been deleted")
		}
		return i, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	u, err := r.provider.GetUser(ctx, providerID)
	if errors.Is(err, idp.ErrNotFound) {
		return nil, apperr.NotFound("identity_not_found", "identity is unknown to the provider")
	}
	if err != nil {
		return nil, apperr.Upstream("provider_unavailable", "could not fetch identity from provider", err)
	}
	log := r.logger.With().Str("provider_id", providerID).Str("event", "resolve").Logger()
	if _, err := r.provision(ctx, ProfileFromUser(*u), log); err != nil {
		return nil, err
	}
	log.Info().Str("outcome", "created").Msg("identity provisioned on first use")

	i, err = r.repo.GetByProviderID(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if i.Deleted() {
		return nil, apperr.NotFound("identity_deleted", "identity has been deleted")
	}
	return i, nil
}
