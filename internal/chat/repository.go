package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
	"github.com/porteria/backend/pkg/database"
	"github.com/porteria/backend/pkg/utils"
)

// Repository is the PostgreSQL implementation of PermissionStore and ConversationStore.
type Repository struct {
	pool database.DB
}

// NewRepository creates a chat repository.
func NewRepository(pool database.DB) *Repository {
	return &Repository{pool: pool}
}

const conversationNotFound = "Conversación no encontrada"

const conversationColumns = `c.id, c.organization_id, c.user1_id, c.user2_id, c.role_id, c.status,
	c.created_at, c.updated_at, c.archived_at, c.archived_by`

const messageColumns = `m.id, m.conversation_id, m.organization_id, m.sender_id, m.recipient_id,
	m.content, m.is_read, m.created_at`

const resolutionColumns = `r.id, r.conversation_id, r.requested_by, COALESCE(r.resolution_note, ''),
	r.status, r.requested_at, r.decided_by, r.decided_at`

func scanConversation(row pgx.Row, extra ...any) (*models.Conversation, error) {
	var (
		c      models.Conversation
		user1  uuid.UUID
		user2  *uuid.UUID
		roleID *uuid.UUID
	)
	dest := []any{&c.ID, &c.OrganizationID, &user1, &user2, &roleID, &c.Status,
		&c.CreatedAt, &c.UpdatedAt, &c.ArchivedAt, &c.ArchivedBy}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p, err := models.ParticipantsFromColumns(user1, user2, roleID)
	if err != nil {
		return nil, err
	}
	c.Participants = p
	return &c, nil
}

func scanMessage(row pgx.Row) (*models.ChatMessage, error) {
	var m models.ChatMessage
	err := row.Scan(&m.ID, &m.ConversationID, &m.OrganizationID, &m.SenderID, &m.RecipientID,
		&m.Content, &m.IsRead, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanResolution(row pgx.Row) (*models.ResolutionRequest, error) {
	var r models.ResolutionRequest
	err := row.Scan(&r.ID, &r.ConversationID, &r.RequestedBy, &r.ResolutionNote,
		&r.Status, &r.RequestedAt, &r.DecidedBy, &r.DecidedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRoles returns the roles of the organization's type.
func (r *Repository) ListRoles(ctx context.Context, orgID uuid.UUID) ([]models.OrganizationRole, error) {
	const q = `SELECT ro.id, ro.organization_type_id, ro.name, ro.description
		FROM organization_roles ro
		JOIN organizations o ON o.organization_type_id = ro.organization_type_id
		WHERE o.id = $1
		ORDER BY ro.name`
	rows, err := r.pool.Query(ctx, q, orgID)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}
	defer rows.Close()
	var list []models.OrganizationRole
	for rows.Next() {
		var ro models.OrganizationRole
		if err := rows.Scan(&ro.ID, &ro.OrganizationTypeID, &ro.Name, &ro.Description); err != nil {
			return nil, err
		}
		list = append(list, ro)
	}
	return list, rows.Err()
}

// ListDisabledPairs returns the organization's deny overrides.
func (r *Repository) ListDisabledPairs(ctx context.Context, orgID uuid.UUID) ([]models.RoleChatPermission, error) {
	rows, err := r.pool.Query(ctx, `SELECT organization_id, sender_role_id, recipient_role_id
		FROM role_chat_permissions WHERE organization_id = $1`, orgID)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}
	defer rows.Close()
	var list []models.RoleChatPermission
	for rows.Next() {
		var p models.RoleChatPermission
		if err := rows.Scan(&p.OrganizationID, &p.SenderRoleID, &p.RecipientRoleID); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// SetPairDisabled inserts or deletes the override row.
func (r *Repository) SetPairDisabled(ctx context.Context, orgID, senderRoleID, recipientRoleID uuid.UUID, disabled bool) error {
	var err error
	if disabled {
		_, err = r.pool.Exec(ctx, `INSERT INTO role_chat_permissions (organization_id, sender_role_id, recipient_role_id)
			VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, orgID, senderRoleID, recipientRoleID)
	} else {
		_, err = r.pool.Exec(ctx, `DELETE FROM role_chat_permissions
			WHERE organization_id = $1 AND sender_role_id = $2 AND recipient_role_id = $3`, orgID, senderRoleID, recipientRoleID)
	}
	return apperr.FromDB(err, "Rol no encontrado")
}

// IsPairDisabled reports whether an override row exists.
func (r *Repository) IsPairDisabled(ctx context.Context, orgID, senderRoleID, recipientRoleID uuid.UUID) (bool, error) {
	var disabled bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM role_chat_permissions
		WHERE organization_id = $1 AND sender_role_id = $2 AND recipient_role_id = $3)`,
		orgID, senderRoleID, recipientRoleID).Scan(&disabled)
	if err != nil {
		return false, apperr.FromDB(err, "")
	}
	return disabled, nil
}

// MemberRole returns the user's role in the organization.
func (r *Repository) MemberRole(ctx context.Context, orgID, userID uuid.UUID) (*models.OrganizationRole, error) {
	const q = `SELECT ro.id, ro.organization_type_id, ro.name, ro.description
		FROM organization_members om
		JOIN organization_roles ro ON ro.id = om.organization_role_id
		WHERE om.organization_id = $1 AND om.user_id = $2`
	var ro models.OrganizationRole
	err := r.pool.QueryRow(ctx, q, orgID, userID).Scan(&ro.ID, &ro.OrganizationTypeID, &ro.Name, &ro.Description)
	if err != nil {
		return nil, apperr.FromDB(err, "Miembro no encontrado")
	}
	return &ro, nil
}

// GetConversation returns a conversation of the organization.
func (r *Repository) GetConversation(ctx context.Context, orgID, conversationID uuid.UUID) (*models.Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM chat_conversations c WHERE c.id = $1 AND c.organization_id = $2`
	c, err := scanConversation(r.pool.QueryRow(ctx, q, conversationID, orgID))
	if err != nil {
		return nil, apperr.FromDB(err, conversationNotFound)
	}
	return c, nil
}

// FindDirect returns the open conversation between two users.
func (r *Repository) FindDirect(ctx context.Context, orgID, userA, userB uuid.UUID) (*models.Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM chat_conversations c
		WHERE c.organization_id = $1 AND c.user2_id IS NOT NULL AND c.status <> 'archived'
		AND LEAST(c.user1_id, c.user2_id) = LEAST($2::uuid, $3::uuid)
		AND GREATEST(c.user1_id, c.user2_id) = GREATEST($2::uuid, $3::uuid)`
	c, err := scanConversation(r.pool.QueryRow(ctx, q, orgID, userA, userB))
	if err != nil {
		return nil, apperr.FromDB(err, conversationNotFound)
	}
	return c, nil
}

// FindRole returns the open conversation an initiator has with a role.
func (r *Repository) FindRole(ctx context.Context, orgID, initiatorID, roleID uuid.UUID) (*models.Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM chat_conversations c
		WHERE c.organization_id = $1 AND c.user1_id = $2 AND c.role_id = $3 AND c.status <> 'archived'`
	c, err := scanConversation(r.pool.QueryRow(ctx, q, orgID, initiatorID, roleID))
	if err != nil {
		return nil, apperr.FromDB(err, conversationNotFound)
	}
	return c, nil
}

// CreateConversation inserts a conversation; when a concurrent insert won the
// unique index, the existing open conversation is returned instead.
func (r *Repository) CreateConversation(ctx context.Context, orgID uuid.UUID, participants models.Participants) (*models.Conversation, error) {
	var user1 uuid.UUID
	var user2, roleID *uuid.UUID
	switch p := participants.(type) {
	case models.DirectParticipants:
		user1, user2 = p.User1, &p.User2
	case models.RoleParticipants:
		user1, roleID = p.Initiator, &p.RoleID
	default:
		return nil, models.ErrMalformedConversation
	}
	q := `INSERT INTO chat_conversations AS c (organization_id, user1_id, user2_id, role_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
		RETURNING ` + conversationColumns
	c, err := scanConversation(r.pool.QueryRow(ctx, q, orgID, user1, user2, roleID))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.FromDB(err, "")
	}
	if user2 != nil {
		return r.FindDirect(ctx, orgID, user1, *user2)
	}
	return r.FindRole(ctx, orgID, user1, *roleID)
}

// InsertMessage stores msg and bumps the conversation's updated_at.
func (r *Repository) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO chat_messages (conversation_id, organization_id, sender_id, recipient_id, content)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, is_read, created_at`,
			msg.ConversationID, msg.OrganizationID, msg.SenderID, msg.RecipientID, msg.Content,
		).Scan(&msg.ID, &msg.IsRead, &msg.CreatedAt)
		if err != nil {
			return apperr.FromDB(err, conversationNotFound)
		}
		_, err = tx.Exec(ctx, `UPDATE chat_conversations SET updated_at = now() WHERE id = $1`, msg.ConversationID)
		return apperr.FromDB(err, conversationNotFound)
	})
}

// GetMessage returns a message of the organization.
func (r *Repository) GetMessage(ctx context.Context, orgID, messageID uuid.UUID) (*models.ChatMessage, error) {
	q := `SELECT ` + messageColumns + ` FROM chat_messages m WHERE m.id = $1 AND m.organization_id = $2`
	m, err := scanMessage(r.pool.QueryRow(ctx, q, messageID, orgID))
	if err != nil {
		return nil, apperr.FromDB(err, "Mensaje no encontrado")
	}
	return m, nil
}

// ListMessages returns a page of messages, newest first.
func (r *Repository) ListMessages(ctx context.Context, conversationID uuid.UUID, page utils.Page) ([]models.ChatMessage, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM chat_messages WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err, "")
	}
	q := `SELECT ` + messageColumns + ` FROM chat_messages m WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, conversationID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, apperr.FromDB(err, "")
	}
	defer rows.Close()
	var list []models.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *m)
	}
	return list, total, rows.Err()
}

const lastMessageJoin = `LEFT JOIN LATERAL (
		SELECT lm.content, lm.created_at, lm.sender_id FROM chat_messages lm
		WHERE lm.conversation_id = c.id ORDER BY lm.created_at DESC LIMIT 1
	) last ON true`

// ListDirectSummaries lists the user's user-to-user conversations by latest activity.
func (r *Repository) ListDirectSummaries(ctx context.Context, orgID, userID uuid.UUID, page utils.Page) ([]models.ConversationSummary, int, error) {
	const where = `c.organization_id = $1 AND c.user2_id IS NOT NULL AND (c.user1_id = $2 OR c.user2_id = $2)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM chat_conversations c WHERE `+where, orgID, userID).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err, "")
	}
	q := `SELECT ` + conversationColumns + `, 'participant',
		last.content, last.created_at, last.sender_id,
		(SELECT count(*) FROM chat_messages u WHERE u.conversation_id = c.id AND NOT u.is_read AND u.recipient_id = $2)
		FROM chat_conversations c ` + lastMessageJoin + `
		WHERE ` + where + `
		ORDER BY COALESCE(last.created_at, c.created_at) DESC
		LIMIT $3 OFFSET $4`
	list, err := r.querySummaries(ctx, q, orgID, userID, page.Limit, page.Offset())
	return list, total, err
}

// ListRoleSummaries lists role conversations the user initiated and, with roleID,
// those addressed to that role. Unread counts follow the reader's side.
func (r *Repository) ListRoleSummaries(ctx context.Context, orgID, userID uuid.UUID, roleID *uuid.UUID, page utils.Page) ([]models.ConversationSummary, int, error) {
	const where = `c.organization_id = $1 AND c.role_id IS NOT NULL AND (c.user1_id = $2 OR c.role_id = $3::uuid)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM chat_conversations c WHERE `+where, orgID, userID, roleID).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err, "")
	}
	q := `SELECT ` + conversationColumns + `,
		CASE WHEN c.user1_id = $2 THEN 'initiator' ELSE 'role_member' END,
		last.content, last.created_at, last.sender_id,
		(SELECT count(*) FROM chat_messages u WHERE u.conversation_id = c.id AND NOT u.is_read
			AND u.recipient_id IS NOT DISTINCT FROM (CASE WHEN c.user1_id = $2 THEN $2::uuid END))
		FROM chat_conversations c ` + lastMessageJoin + `
		WHERE ` + where + `
		ORDER BY COALESCE(last.created_at, c.created_at) DESC
		LIMIT $4 OFFSET $5`
	list, err := r.querySummaries(ctx, q, orgID, userID, roleID, page.Limit, page.Offset())
	return list, total, err
}

func (r *Repository) querySummaries(ctx context.Context, q string, args ...any) ([]models.ConversationSummary, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}
	defer rows.Close()
	var list []models.ConversationSummary
	for rows.Next() {
		var s models.ConversationSummary
		c, err := scanConversation(rows, &s.Perspective, &s.LastMessage, &s.LastMessageAt, &s.LastSenderID, &s.UnreadCount)
		if err != nil {
			return nil, err
		}
		s.Conversation = *c
		list = append(list, s)
	}
	return list, rows.Err()
}

// RoleMemberIDs lists the users currently holding roleID in the organization.
func (r *Repository) RoleMemberIDs(ctx context.Context, orgID, roleID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM organization_members
		WHERE organization_id = $1 AND organization_role_id = $2`, orgID, roleID)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateResolutionRequest inserts a pending request on an active role conversation.
func (r *Repository) CreateResolutionRequest(ctx context.Context, conversationID, requestedBy uuid.UUID, note string) (*models.ResolutionRequest, error) {
	q := `INSERT INTO chat_resolution_requests AS r (conversation_id, requested_by, resolution_note)
		SELECT c.id, $2, NULLIF($3, '') FROM chat_conversations c
		WHERE c.id = $1 AND c.role_id IS NOT NULL AND c.status = 'active'
		RETURNING ` + resolutionColumns
	req, err := scanResolution(r.pool.QueryRow(ctx, q, conversationID, requestedBy, note))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Validation("La conversación no está activa")
		}
		return nil, apperr.FromDB(err, conversationNotFound)
	}
	return req, nil
}

// GetResolutionRequest returns a request of the conversation.
func (r *Repository) GetResolutionRequest(ctx context.Context, conversationID, requestID uuid.UUID) (*models.ResolutionRequest, error) {
	q := `SELECT ` + resolutionColumns + ` FROM chat_resolution_requests r WHERE r.id = $1 AND r.conversation_id = $2`
	req, err := scanResolution(r.pool.QueryRow(ctx, q, requestID, conversationID))
	if err != nil {
		return nil, apperr.FromDB(err, "Solicitud de resolución no encontrada")
	}
	return req, nil
}

// DecideResolution settles a pending request and, on approval, resolves the conversation.
func (r *Repository) DecideResolution(ctx context.Context, requestID, decidedBy uuid.UUID, approve bool) (*models.ResolutionRequest, error) {
	status := models.ResolutionRejected
	if approve {
		status = models.ResolutionApproved
	}
	var decided *models.ResolutionRequest
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		q := `UPDATE chat_resolution_requests AS r
			SET status = $2, decided_by = $3, decided_at = now()
			WHERE r.id = $1 AND r.status = 'pending'
			RETURNING ` + resolutionColumns
		req, err := scanResolution(tx.QueryRow(ctx, q, requestID, status, decidedBy))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.Validation("La solicitud de resolución ya fue procesada")
			}
			return apperr.FromDB(err, "")
		}
		if approve {
			tag, err := tx.Exec(ctx, `UPDATE chat_conversations SET status = 'resolved'
				WHERE id = $1 AND status = 'active'`, req.ConversationID)
			if err != nil {
				return apperr.FromDB(err, conversationNotFound)
			}
			if tag.RowsAffected() == 0 {
				return apperr.Validation("La conversación no está activa")
			}
		}
		decided = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decided, nil
}

// ArchiveConversation archives a resolved conversation.
func (r *Repository) ArchiveConversation(ctx context.Context, conversationID, archivedBy uuid.UUID) (*models.Conversation, error) {
	q := `UPDATE chat_conversations AS c
		SET status = 'archived', archived_at = now(), archived_by = $2
		WHERE c.id = $1 AND c.status = 'resolved'
		RETURNING ` + conversationColumns
	c, err := scanConversation(r.pool.QueryRow(ctx, q, conversationID, archivedBy))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrArchiveNotResolved
		}
		return nil, apperr.FromDB(err, conversationNotFound)
	}
	return c, nil
}

// MarkConversationRead marks the unread messages of one partition.
func (r *Repository) MarkConversationRead(ctx context.Context, conversationID uuid.UUID, partition ReadPartition) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE chat_messages SET is_read = true
		WHERE conversation_id = $1 AND NOT is_read AND recipient_id IS NOT DISTINCT FROM $2::uuid`,
		conversationID, partition.Recipient)
	if err != nil {
		return 0, apperr.FromDB(err, "")
	}
	return tag.RowsAffected(), nil
}

// MarkMessageRead marks one message read.
func (r *Repository) MarkMessageRead(ctx context.Context, messageID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE chat_messages SET is_read = true WHERE id = $1`, messageID)
	return apperr.FromDB(err, "Mensaje no encontrado")
}
