package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// OrganizationType selects the role set and menu of an organization. Immutable after creation.
type OrganizationType string

const (
	OrganizationTypeResidential OrganizationType = "residential"
)

// RoleName is the name of a role within an organization type.
type RoleName string

const (
	RoleAdmin    RoleName = "admin"
	RoleResident RoleName = "resident"
	RoleSecurity RoleName = "security"
)

// Permission codes attached to roles.
const (
	PermMembersManage     = "members:manage"
	PermInvitationsManage = "invitations:manage"
	PermQRCreate          = "qr:create"
	PermQRValidate        = "qr:validate"
	PermQRViewHistory     = "qr:view_history"
	PermAccessLogsView    = "access_logs:view"
	PermAccessLogsExport  = "access_logs:export"
	PermChatManage        = "chat:manage_permissions"
)

// Organization represents a tenant (a residential building).
type Organization struct {
	ID                 uuid.UUID        `json:"id"`
	Name               string           `json:"name"`
	OrganizationTypeID uuid.UUID        `json:"organization_type_id"`
	OrganizationType   OrganizationType `json:"organization_type"`
	CreatedBy          uuid.UUID        `json:"created_by"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// OrganizationRole is reference data: one of the roles of an organization type.
type OrganizationRole struct {
	ID                 uuid.UUID `json:"id"`
	OrganizationTypeID uuid.UUID `json:"organization_type_id"`
	Name               RoleName  `json:"name"`
	Description        string    `json:"description"`
}

// OrganizationMember links exactly one role to a (user, organization) pair.
type OrganizationMember struct {
	ID                 uuid.UUID  `json:"id"`
	OrganizationID     uuid.UUID  `json:"organization_id"`
	UserID             uuid.UUID  `json:"user_id"`
	OrganizationRoleID uuid.UUID  `json:"organization_role_id"`
	JoinedAt           time.Time  `json:"joined_at"`
	InvitedBy          *uuid.UUID `json:"invited_by,omitempty"`
}

// Membership is the caller's resolved standing in an organization.
type Membership struct {
	MemberID     uuid.UUID        `json:"member_id"`
	UserID       uuid.UUID        `json:"user_id"`
	Organization Organization     `json:"organization"`
	Role         OrganizationRole `json:"role"`
	Permissions  []string         `json:"permissions"`
}

// HasPermission reports whether the member's role carries the permission code.
func (m *Membership) HasPermission(code string) bool {
	return m != nil && slices.Contains(m.Permissions, code)
}

// HasRole reports whether the member's role name is one of names.
func (m *Membership) HasRole(names ...RoleName) bool {
	return m != nil && slices.Contains(names, m.Role.Name)
}

// MemberDetail is a member row joined with the user's profile.
type MemberDetail struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	RoleID   uuid.UUID `json:"role_id"`
	Role     RoleName  `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// OrganizationSummary is an organization with the caller's role, for listings.
type OrganizationSummary struct {
	Organization
	Role RoleName `json:"role"`
}
