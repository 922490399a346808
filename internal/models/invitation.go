package models

import (
	"time"

	"github.com/google/uuid"
)

// InvitationStatus is the lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationPending         InvitationStatus = "pending"
	InvitationPendingApproval InvitationStatus = "pending_approval"
	InvitationAccepted        InvitationStatus = "accepted"
	InvitationCancelled       InvitationStatus = "cancelled"
	InvitationRejected        InvitationStatus = "rejected"
)

// Invitation is an offer to join an organization with a role.
type Invitation struct {
	ID                  uuid.UUID        `json:"id"`
	OrganizationID      uuid.UUID        `json:"organization_id"`
	OrganizationName    string           `json:"organization_name,omitempty"`
	Email               string           `json:"email"`
	RoleID              uuid.UUID        `json:"role_id"`
	RoleName            RoleName         `json:"role_name,omitempty"`
	Status              InvitationStatus `json:"status"`
	Token               string           `json:"token,omitempty"`
	ExpiresAt           time.Time        `json:"expires_at"`
	GeneralInviteLinkID *uuid.UUID       `json:"general_invite_link_id,omitempty"`
	UserID              *uuid.UUID       `json:"user_id,omitempty"`
	InvitedBy           *uuid.UUID       `json:"invited_by,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// IsExpired is derived from ExpiresAt; expiry is never stored as a status.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// GeneralInviteLink is a reusable, role-scoped join link.
type GeneralInviteLink struct {
	ID                 uuid.UUID  `json:"id"`
	OrganizationID     uuid.UUID  `json:"organization_id"`
	OrganizationRoleID uuid.UUID  `json:"organization_role_id"`
	RoleName           RoleName   `json:"role_name,omitempty"`
	RequiresApproval   bool       `json:"requires_approval"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	Token              string     `json:"token"`
	CreatedBy          uuid.UUID  `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
}

// IsExpired reports whether the link has an expiry in the past.
func (l *GeneralInviteLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}
