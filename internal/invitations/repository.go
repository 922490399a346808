package invitations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/porteria/backend/internal/auth"
	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
	"github.com/porteria/backend/pkg/database"
	"github.com/porteria/backend/pkg/utils"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an invitations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const invitationSelect = `SELECT i.id, i.organization_id, o.name, i.email, i.role_id, r.name, i.status, i.token,
	i.expires_at, i.general_invite_link_id, i.user_id, i.invited_by, i.created_at, i.updated_at
	FROM invitations i
	JOIN organizations o ON o.id = i.organization_id
	JOIN organization_roles r ON r.id = i.role_id`

func scanInvitation(row pgx.Row) (*models.Invitation, error) {
	var i models.Invitation
	err := row.Scan(&i.ID, &i.OrganizationID, &i.OrganizationName, &i.Email, &i.RoleID, &i.RoleName, &i.Status, &i.Token,
		&i.ExpiresAt, &i.GeneralInviteLinkID, &i.UserID, &i.InvitedBy, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

const linkSelect = `SELECT l.id, l.organization_id, l.organization_role_id, r.name, l.requires_approval,
	l.expires_at, l.token, l.created_by, l.created_at
	FROM general_invite_links l
	JOIN organization_roles r ON r.id = l.organization_role_id`

func scanLink(row pgx.Row) (*models.GeneralInviteLink, error) {
	var l models.GeneralInviteLink
	err := row.Scan(&l.ID, &l.OrganizationID, &l.OrganizationRoleID, &l.RoleName, &l.RequiresApproval,
		&l.ExpiresAt, &l.Token, &l.CreatedBy, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Role returns a role of the organization's type.
func (r *Repository) Role(ctx context.Context, orgID, roleID uuid.UUID) (*models.OrganizationRole, error) {
	var role models.OrganizationRole
	err := r.pool.QueryRow(ctx, `SELECT r.id, r.organization_type_id, r.name, r.description
		FROM organization_roles r
		JOIN organizations o ON o.organization_type_id = r.organization_type_id
		WHERE o.id = $1 AND r.id = $2`, orgID, roleID,
	).Scan(&role.ID, &role.OrganizationTypeID, &role.Name, &role.Description)
	if err != nil {
		return nil, apperr.FromDB(err, "Rol no encontrado")
	}
	return &role, nil
}

// CreateInvitation inserts an open invitation after checking the e-mail is not
// already a member.
func (r *Repository) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if inv.UserID != nil {
			if err := auth.UpsertProfile(ctx, tx, &models.Profile{ID: *inv.UserID, Email: inv.Email}); err != nil {
				return err
			}
		}
		var member bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM organization_members m JOIN profiles p ON p.id = m.user_id
			WHERE m.organization_id = $1 AND (lower(p.email) = lower($2) OR m.user_id = $3))`,
			inv.OrganizationID, inv.Email, inv.UserID,
		).Scan(&member)
		if err != nil {
			return apperr.FromDB(err, "")
		}
		if member {
			return errAlreadyMember
		}
		err = tx.QueryRow(ctx, `INSERT INTO invitations
			(organization_id, email, role_id, status, token, expires_at, general_invite_link_id, user_id, invited_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at, updated_at`,
			inv.OrganizationID, inv.Email, inv.RoleID, inv.Status, inv.Token, inv.ExpiresAt,
			inv.GeneralInviteLinkID, inv.UserID, inv.InvitedBy,
		).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
		if apperr.IsUniqueViolation(err) {
			return errOpenInvitation
		}
		return apperr.FromDB(err, "Organización no encontrada")
	})
}

var (
	errAlreadyMember  = apperr.Conflict("El usuario ya es miembro de la organización")
	errOpenInvitation = apperr.Conflict("Ya existe una invitación pendiente para este correo")
)

// GetInvitation returns an invitation of the organization.
func (r *Repository) GetInvitation(ctx context.Context, orgID, id uuid.UUID) (*models.Invitation, error) {
	inv, err := scanInvitation(r.pool.QueryRow(ctx, invitationSelect+` WHERE i.id = $1 AND i.organization_id = $2`, id, orgID))
	if err != nil {
		return nil, apperr.FromDB(err, "Invitación no encontrada")
	}
	return inv, nil
}

// GetInvitationByToken returns the invitation behind token.
func (r *Repository) GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	inv, err := scanInvitation(r.pool.QueryRow(ctx, invitationSelect+` WHERE i.token = $1`, token))
	if err != nil {
		return nil, apperr.FromDB(err, "Invitación no encontrada")
	}
	return inv, nil
}

// ListInvitations returns invitations newest first.
func (r *Repository) ListInvitations(ctx context.Context, orgID uuid.UUID, status models.InvitationStatus, page utils.Page) ([]models.Invitation, int, error) {
	const where = ` WHERE i.organization_id = $1 AND ($2 = '' OR i.status = $2)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM invitations i`+where, orgID, string(status)).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err, "")
	}
	rows, err := r.pool.Query(ctx, invitationSelect+where+` ORDER BY i.created_at DESC LIMIT $3 OFFSET $4`,
		orgID, string(status), page.Limit, page.Offset())
	if err != nil {
		return nil, 0, apperr.FromDB(err, "")
	}
	defer rows.Close()
	var list []models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *inv)
	}
	return list, total, rows.Err()
}

// SetStatus is a conditional status update.
func (r *Repository) SetStatus(ctx context.Context, orgID, id uuid.UUID, from []models.InvitationStatus, to models.InvitationStatus) (*models.Invitation, bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE invitations SET status = $4
		WHERE id = $1 AND organization_id = $2 AND status = ANY($3)`, id, orgID, states, string(to))
	if err != nil {
		return nil, false, apperr.FromDB(err, "Invitación no encontrada")
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}
	inv, err := r.GetInvitation(ctx, orgID, id)
	if err != nil {
		return nil, false, err
	}
	return inv, true, nil
}

func insertMember(ctx context.Context, tx pgx.Tx, orgID, userID, roleID uuid.UUID, invitedBy *uuid.UUID) (*models.OrganizationMember, error) {
	m := models.OrganizationMember{OrganizationID: orgID, UserID: userID, OrganizationRoleID: roleID, InvitedBy: invitedBy}
	err := tx.QueryRow(ctx, `INSERT INTO organization_members (organization_id, user_id, organization_role_id, invited_by)
		VALUES ($1, $2, $3, $4) RETURNING id, joined_at`, orgID, userID, roleID, invitedBy,
	).Scan(&m.ID, &m.JoinedAt)
	if apperr.IsUniqueViolation(err) {
		return nil, errAlreadyMember
	}
	if err != nil {
		return nil, apperr.FromDB(err, "Usuario no encontrado")
	}
	return &m, nil
}

// Accept marks the invitation accepted and inserts the membership.
func (r *Repository) Accept(ctx context.Context, invitationID uuid.UUID, user models.Profile, now time.Time) (*models.OrganizationMember, error) {
	var member *models.OrganizationMember
	userID := user.ID
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := auth.UpsertProfile(ctx, tx, &user); err != nil {
			return err
		}
		var orgID, roleID uuid.UUID
		var invitedBy *uuid.UUID
		err := tx.QueryRow(ctx, `UPDATE invitations SET status = 'accepted', user_id = $2
			WHERE id = $1 AND status = 'pending' AND expires_at > $3
			RETURNING organization_id, role_id, invited_by`, invitationID, userID, now,
		).Scan(&orgID, &roleID, &invitedBy)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Gone("La invitación ya no está disponible")
		}
		if err != nil {
			return apperr.FromDB(err, "Invitación no encontrada")
		}
		member, err = insertMember(ctx, tx, orgID, userID, roleID, invitedBy)
		return err
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// Approve accepts a pending_approval invitation and inserts the membership of its user.
func (r *Repository) Approve(ctx context.Context, orgID, invitationID uuid.UUID) (*models.Invitation, *models.OrganizationMember, error) {
	var inv *models.Invitation
	var member *models.OrganizationMember
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		inv, err = scanInvitation(tx.QueryRow(ctx, invitationSelect+`
			WHERE i.id = $1 AND i.organization_id = $2 FOR UPDATE OF i`, invitationID, orgID))
		if err != nil {
			return apperr.FromDB(err, "Invitación no encontrada")
		}
		if inv.Status != models.InvitationPendingApproval {
			return errNotPendingApproval
		}
		if inv.UserID == nil {
			return apperr.Validation("La invitación no tiene un usuario asociado")
		}
		err = tx.QueryRow(ctx, `UPDATE invitations SET status = 'accepted' WHERE id = $1 RETURNING updated_at`, inv.ID).
			Scan(&inv.UpdatedAt)
		if err != nil {
			return apperr.FromDB(err, "")
		}
		inv.Status = models.InvitationAccepted
		member, err = insertMember(ctx, tx, orgID, *inv.UserID, inv.RoleID, inv.InvitedBy)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return inv, member, nil
}

// CreateLink inserts an invite link.
func (r *Repository) CreateLink(ctx context.Context, link *models.GeneralInviteLink) error {
	err := r.pool.QueryRow(ctx, `INSERT INTO general_invite_links
		(organization_id, organization_role_id, requires_approval, expires_at, token, created_by)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		link.OrganizationID, link.OrganizationRoleID, link.RequiresApproval, link.ExpiresAt, link.Token, link.CreatedBy,
	).Scan(&link.ID, &link.CreatedAt)
	return apperr.FromDB(err, "Organización no encontrada")
}

// GetLinkByToken returns the link behind token.
func (r *Repository) GetLinkByToken(ctx context.Context, token string) (*models.GeneralInviteLink, error) {
	link, err := scanLink(r.pool.QueryRow(ctx, linkSelect+` WHERE l.token = $1`, token))
	if err != nil {
		return nil, apperr.FromDB(err, "Enlace de invitación no encontrado")
	}
	return link, nil
}

// ListLinks returns the organization's links newest first.
func (r *Repository) ListLinks(ctx context.Context, orgID uuid.UUID) ([]models.GeneralInviteLink, error) {
	rows, err := r.pool.Query(ctx, linkSelect+` WHERE l.organization_id = $1 ORDER BY l.created_at DESC`, orgID)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}
	defer rows.Close()
	list := []models.GeneralInviteLink{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *link)
	}
	return list, rows.Err()
}

// DeleteLink removes a link of the organization.
func (r *Repository) DeleteLink(ctx context.Context, orgID, linkID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM general_invite_links WHERE id = $1 AND organization_id = $2`, linkID, orgID)
	if err != nil {
		return apperr.FromDB(err, "")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Enlace de invitación no encontrado")
	}
	return nil
}
