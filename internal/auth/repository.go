package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
)

// Repository handles profile persistence. Identities live with the identity
// provider; profiles mirror the fields the API displays.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a profiles repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UpsertProfile creates or refreshes a profile inside an existing transaction.
// An empty FullName keeps the stored one.
func UpsertProfile(ctx context.Context, q rowQuerier, p *models.Profile) error {
	err := q.QueryRow(ctx, `INSERT INTO profiles (id, email, full_name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			full_name = COALESCE(NULLIF(EXCLUDED.full_name, ''), profiles.full_name),
			updated_at = now()
		RETURNING full_name, created_at`, p.ID, p.Email, p.FullName,
	).Scan(&p.FullName, &p.CreatedAt)
	if apperr.IsUniqueViolation(err) {
		return apperr.Conflict("El correo ya está asociado a otro perfil")
	}
	return apperr.FromDB(err, "")
}

// Upsert creates or refreshes a profile.
func (r *Repository) Upsert(ctx context.Context, p *models.Profile) error {
	return UpsertProfile(ctx, r.pool, p)
}

// GetByID returns a profile by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	err := r.pool.QueryRow(ctx, `SELECT id, email, full_name, created_at FROM profiles WHERE id = $1`, id).
		Scan(&p.ID, &p.Email, &p.FullName, &p.CreatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "Perfil no encontrado")
	}
	return &p, nil
}

// UpdateName sets the display name.
func (r *Repository) UpdateName(ctx context.Context, id uuid.UUID, fullName string) (*models.Profile, error) {
	var p models.Profile
	err := r.pool.QueryRow(ctx, `UPDATE profiles SET full_name = $2, updated_at = now() WHERE id = $1
		RETURNING id, email, full_name, created_at`, id, fullName).
		Scan(&p.ID, &p.Email, &p.FullName, &p.CreatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "Perfil no encontrado")
	}
	return &p, nil
}
