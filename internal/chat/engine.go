// Package chat decides who may message whom inside an organization and runs the
// conversation lifecycle of role conversations.
package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
)

// PermissionStore reads and writes the per-organization deny overrides.
type PermissionStore interface {
	// ListRoles returns the roles of the organization's type.
	ListRoles(ctx context.Context, orgID uuid.UUID) ([]models.OrganizationRole, error)
	ListDisabledPairs(ctx context.Context, orgID uuid.UUID) ([]models.RoleChatPermission, error)
	// SetPairDisabled inserts (disabled) or deletes (enabled) the override row. Both are idempotent.
	SetPairDisabled(ctx context.Context, orgID, senderRoleID, recipientRoleID uuid.UUID, disabled bool) error
	IsPairDisabled(ctx context.Context, orgID, senderRoleID, recipientRoleID uuid.UUID) (bool, error)
	// MemberRole returns the user's role in the organization, or an apperr NotFound.
	MemberRole(ctx context.Context, orgID, userID uuid.UUID) (*models.OrganizationRole, error)
}

// MatrixEntry is one cell of the role x role grid.
type MatrixEntry struct {
	SenderRole    models.OrganizationRole `json:"sender_role"`
	RecipientRole models.OrganizationRole `json:"recipient_role"`
	Disabled      bool                    `json:"disabled"`
}

var (
	errSenderNotMember    = apperr.Unauthorized("No perteneces a esta organización")
	errRecipientNotMember = apperr.NotFound("El destinatario no pertenece a esta organización")
	errRoleNotFound       = apperr.NotFound("Rol no encontrado")
)

// Engine evaluates the default-allow messaging matrix with deny overrides.
type Engine struct {
	store PermissionStore
}

// NewEngine creates an engine.
func NewEngine(store PermissionStore) *Engine {
	return &Engine{store: store}
}

type pair struct{ sender, recipient uuid.UUID }

// Matrix returns every (sender role, recipient role) pair of the organization,
// self pairs included, marking the pairs that have a deny override.
func (e *Engine) Matrix(ctx context.Context, orgID uuid.UUID) ([]MatrixEntry, error) {
	roles, err := e.store.ListRoles(ctx, orgID)
	if err != nil {
		return nil, err
	}
	denied, err := e.store.ListDisabledPairs(ctx, orgID)
	if err != nil {
		return nil, err
	}
	off := make(map[pair]bool, len(denied))
	for _, d := range denied {
		off[pair{d.SenderRoleID, d.RecipientRoleID}] = true
	}
	out := make([]MatrixEntry, 0, len(roles)*len(roles))
	for _, s := range roles {
		for _, r := range roles {
			out = append(out, MatrixEntry{SenderRole: s, RecipientRole: r, Disabled: off[pair{s.ID, r.ID}]})
		}
	}
	return out, nil
}

// SetPermission enables or disables messaging from one role to another. Both
// roles must belong to the organization's type.
func (e *Engine) SetPermission(ctx context.Context, orgID, senderRoleID, recipientRoleID uuid.UUID, disabled bool) error {
	roles, err := e.store.ListRoles(ctx, orgID)
	if err != nil {
		return err
	}
	if findRole(roles, senderRoleID) == nil || findRole(roles, recipientRoleID) == nil {
		return apperr.Validation("Los roles indicados no pertenecen a esta organización")
	}
	return e.store.SetPairDisabled(ctx, orgID, senderRoleID, recipientRoleID, disabled)
}

// CanMessage reports whether senderID may message recipientID directly.
func (e *Engine) CanMessage(ctx context.Context, orgID, senderID, recipientID uuid.UUID) (bool, error) {
	if senderID == recipientID {
		return false, nil
	}
	senderRole, err := e.memberRole(ctx, orgID, senderID, errSenderNotMember)
	if err != nil {
		return false, err
	}
	recipientRole, err := e.memberRole(ctx, orgID, recipientID, errRecipientNotMember)
	if err != nil {
		return false, err
	}
	disabled, err := e.store.IsPairDisabled(ctx, orgID, senderRole.ID, recipientRole.ID)
	if err != nil {
		return false, err
	}
	return !disabled, nil
}

// CanMessageRole reports whether senderID may open a conversation with roleID.
func (e *Engine) CanMessageRole(ctx context.Context, orgID, senderID, roleID uuid.UUID) (bool, error) {
	senderRole, err := e.memberRole(ctx, orgID, senderID, errSenderNotMember)
	if err != nil {
		return false, err
	}
	roles, err := e.store.ListRoles(ctx, orgID)
	if err != nil {
		return false, err
	}
	if findRole(roles, roleID) == nil {
		return false, errRoleNotFound
	}
	disabled, err := e.store.IsPairDisabled(ctx, orgID, senderRole.ID, roleID)
	if err != nil {
		return false, err
	}
	return !disabled, nil
}

// MessageableRoles returns the roles, the caller's own included, that the
// caller may currently open a role conversation with.
func (e *Engine) MessageableRoles(ctx context.Context, orgID, userID uuid.UUID) ([]models.OrganizationRole, error) {
	own, err := e.memberRole(ctx, orgID, userID, errSenderNotMember)
	if err != nil {
		return nil, err
	}
	roles, err := e.store.ListRoles(ctx, orgID)
	if err != nil {
		return nil, err
	}
	denied, err := e.store.ListDisabledPairs(ctx, orgID)
	if err != nil {
		return nil, err
	}
	off := make(map[uuid.UUID]bool)
	for _, d := range denied {
		if d.SenderRoleID == own.ID {
			off[d.RecipientRoleID] = true
		}
	}
	out := make([]models.OrganizationRole, 0, len(roles))
	for _, r := range roles {
		if off[r.ID] {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *Engine) memberRole(ctx context.Context, orgID, userID uuid.UUID, notMember error) (*models.OrganizationRole, error) {
	role, err := e.store.MemberRole(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, notMember
		}
		return nil, err
	}
	return role, nil
}

func findRole(roles []models.OrganizationRole, id uuid.UUID) *models.OrganizationRole {
	for i := range roles {
		if roles[i].ID == id {
			return &roles[i]
		}
	}
	return nil
}
