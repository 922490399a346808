package organizations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/porteria/backend/internal/auth"
	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
	"github.com/porteria/backend/pkg/database"
	"github.com/porteria/backend/pkg/utils"
)

// Repository handles organization and organization_members persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an organizations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetMembership returns the user's membership with its role and permission codes.
func (r *Repository) GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error) {
	const q = `SELECT m.id, m.user_id,
			o.id, o.name, o.organization_type_id, t.name, o.created_by, o.created_at, o.updated_at,
			ro.id, ro.organization_type_id, ro.name, ro.description,
			COALESCE(array_agg(p.code ORDER BY p.code) FILTER (WHERE p.code IS NOT NULL), '{}')
		FROM organization_members m
		JOIN organizations o ON o.id = m.organization_id
		JOIN organization_types t ON t.id = o.organization_type_id
		JOIN organization_roles ro ON ro.id = m.organization_role_id
		LEFT JOIN role_permissions p ON p.role_id = ro.id
		WHERE m.organization_id = $1 AND m.user_id = $2
		GROUP BY m.id, o.id, t.name, ro.id`
	var m models.Membership
	err := r.pool.QueryRow(ctx, q, orgID, userID).Scan(
		&m.MemberID, &m.UserID,
		&m.Organization.ID, &m.Organization.Name, &m.Organization.OrganizationTypeID, &m.Organization.OrganizationType,
		&m.Organization.CreatedBy, &m.Organization.CreatedAt, &m.Organization.UpdatedAt,
		&m.Role.ID, &m.Role.OrganizationTypeID, &m.Role.Name, &m.Role.Description,
		&m.Permissions,
	)
	if err != nil {
		return nil, apperr.FromDB(err, "Organización no encontrada")
	}
	return &m, nil
}

// Create inserts the organization and its creator's admin membership.
func (r *Repository) Create(ctx context.Context, name string, orgType models.OrganizationType, creator models.Profile) (*models.Organization, error) {
	org := &models.Organization{Name: name, OrganizationType: orgType, CreatedBy: creator.ID}
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := auth.UpsertProfile(ctx, tx, &creator); err != nil {
			return err
		}
		err := tx.QueryRow(ctx, `INSERT INTO organizations (name, organization_type_id, created_by)
			SELECT $1, t.id, $3 FROM organization_types t WHERE t.name = $2
			RETURNING id, organization_type_id, created_at, updated_at`, name, orgType, creator.ID,
		).Scan(&org.ID, &org.OrganizationTypeID, &org.CreatedAt, &org.UpdatedAt)
		if apperr.IsUniqueViolation(err) {
			return errNameTaken
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Validation("Tipo de organización desconocido")
		}
		if err != nil {
			return apperr.FromDB(err, "")
		}
		_, err = tx.Exec(ctx, `INSERT INTO organization_members (organization_id, user_id, organization_role_id)
			SELECT $1, $2, r.id FROM organization_roles r
			WHERE r.organization_type_id = $3 AND r.name = 'admin'`, org.ID, creator.ID, org.OrganizationTypeID)
		return apperr.FromDB(err, "")
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// ListForUser returns the organizations the user belongs to, by name.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.OrganizationSummary, error) {
	const q = `SELECT o.id, o.name, o.organization_type_id, t.name, o.created_by, o.created_at, o.updated_at, ro.name
		FROM organization_members m
		JOIN organizations o ON o.id = m.organization_id
		JOIN organization_types t ON t.id = o.organization_type_id
		JOIN organization_roles ro ON ro.id = m.organization_role_id
		WHERE m.user_id = $1
		ORDER BY o.name`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}
	defer rows.Close()
	list := []models.OrganizationSummary{}
	for rows.Next() {
		var o models.OrganizationSummary
		if err := rows.Scan(&o.ID, &o.Name, &o.OrganizationTypeID, &o.OrganizationType, &o.CreatedBy,
			&o.CreatedAt, &o.UpdatedAt, &o.Role); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

const memberSelect = `SELECT m.id, m.user_id, p.email, p.full_name, ro.id, ro.name, m.joined_at
	FROM organization_members m
	JOIN profiles p ON p.id = m.user_id
	JOIN organization_roles ro ON ro.id = m.organization_role_id`

func scanMember(row pgx.Row) (*models.MemberDetail, error) {
	var d models.MemberDetail
	if err := row.Scan(&d.ID, &d.UserID, &d.Email, &d.FullName, &d.RoleID, &d.Role, &d.JoinedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListMembers returns members in joining order.
func (r *Repository) ListMembers(ctx context.Context, orgID uuid.UUID, page utils.Page) ([]models.MemberDetail, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM organization_members WHERE organization_id = $1`, orgID).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err, "")
	}
	rows, err := r.pool.Query(ctx, memberSelect+` WHERE m.organization_id = $1 ORDER BY m.joined_at LIMIT $2 OFFSET $3`,
		orgID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, apperr.FromDB(err, "")
	}
	defer rows.Close()
	var list []models.MemberDetail
	for rows.Next() {
		d, err := scanMember(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *d)
	}
	return list, total, rows.Err()
}

// ListRoles returns the roles of the organization's type.
func (r *Repository) ListRoles(ctx context.Context, orgID uuid.UUID) ([]models.OrganizationRole, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.organization_type_id, r.name, r.description
		FROM organization_roles r
		JOIN organizations o ON o.organization_type_id = r.organization_type_id
		WHERE o.id = $1 ORDER BY r.name`, orgID)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}
	defer rows.Close()
	list := []models.OrganizationRole{}
	for rows.Next() {
		var role models.OrganizationRole
		if err := rows.Scan(&role.ID, &role.OrganizationTypeID, &role.Name, &role.Description); err != nil {
			return nil, err
		}
		list = append(list, role)
	}
	return list, rows.Err()
}

// lockMember locks the organization's admin rows and the target member, and
// returns the member's role and the number of admins.
func lockMember(ctx context.Context, tx pgx.Tx, orgID, memberID uuid.UUID) (models.RoleName, int, error) {
	rows, err := tx.Query(ctx, `SELECT m.id FROM organization_members m
		JOIN organization_roles r ON r.id = m.organization_role_id
		WHERE m.organization_id = $1 AND r.name = 'admin'
		FOR UPDATE OF m`, orgID)
	if err != nil {
		return "", 0, apperr.FromDB(err, "")
	}
	admins := 0
	for rows.Next() {
		admins++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", 0, apperr.FromDB(err, "")
	}
	var role models.RoleName
	err = tx.QueryRow(ctx, `SELECT r.name FROM organization_members m
		JOIN organization_roles r ON r.id = m.organization_role_id
		WHERE m.id = $1 AND m.organization_id = $2
		FOR UPDATE OF m`, memberID, orgID).Scan(&role)
	if err != nil {
		return "", 0, apperr.FromDB(err, "Miembro no encontrado")
	}
	return role, admins, nil
}

// RemoveMember deletes a member unless it is the last admin.
func (r *Repository) RemoveMember(ctx context.Context, orgID, memberID uuid.UUID) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		role, admins, err := lockMember(ctx, tx, orgID, memberID)
		if err != nil {
			return err
		}
		if err := checkLastAdmin(role, "", admins); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM organization_members WHERE id = $1`, memberID)
		return apperr.FromDB(err, "")
	})
}

// ChangeRole moves a member to another role of the organization's type.
func (r *Repository) ChangeRole(ctx context.Context, orgID, memberID, roleID uuid.UUID) (*models.MemberDetail, error) {
	var out *models.MemberDetail
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var next models.RoleName
		err := tx.QueryRow(ctx, `SELECT r.name FROM organization_roles r
			JOIN organizations o ON o.organization_type_id = r.organization_type_id
			WHERE o.id = $1 AND r.id = $2`, orgID, roleID).Scan(&next)
		if err != nil {
			return apperr.FromDB(err, "Rol no encontrado")
		}
		current, admins, err := lockMember(ctx, tx, orgID, memberID)
		if err != nil {
			return err
		}
		if err := checkLastAdmin(current, next, admins); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE organization_members SET organization_role_id = $2 WHERE id = $1`, memberID, roleID); err != nil {
			return apperr.FromDB(err, "")
		}
		out, err = scanMember(tx.QueryRow(ctx, memberSelect+` WHERE m.id = $1`, memberID))
		return apperr.FromDB(err, "Miembro no encontrado")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
