package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationResolved ConversationStatus = "resolved"
	ConversationArchived ConversationStatus = "archived"
)

// ConversationKind names the variant of Participants.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationRole   ConversationKind = "role"
)

// Participants is the sum type DirectParticipants | RoleParticipants.
type Participants interface {
	Kind() ConversationKind
	isParticipants()
}

// DirectParticipants is a user-to-user conversation.
type DirectParticipants struct {
	User1 uuid.UUID
	User2 uuid.UUID
}

func (DirectParticipants) Kind() ConversationKind { return ConversationDirect }
func (DirectParticipants) isParticipants()        {}

// Other returns the participant that is not userID.
func (p DirectParticipants) Other(userID uuid.UUID) uuid.UUID {
	if p.User1 == userID {
		return p.User2
	}
	return p.User1
}

// Includes reports whether userID is one of the two users.
func (p DirectParticipants) Includes(userID uuid.UUID) bool {
	return p.User1 == userID || p.User2 == userID
}

// RoleParticipants is a conversation between an initiator and whoever holds RoleID.
// The initiator is not necessarily a member of that role.
type RoleParticipants struct {
	Initiator uuid.UUID
	RoleID    uuid.UUID
}

func (RoleParticipants) Kind() ConversationKind { return ConversationRole }
func (RoleParticipants) isParticipants()        {}

// ErrMalformedConversation is returned when stored columns match neither variant.
var ErrMalformedConversation = errors.New("conversation must have exactly one of user2_id or role_id")

// ParticipantsFromColumns decodes the two nullable storage columns into the union.
func ParticipantsFromColumns(user1 uuid.UUID, user2, roleID *uuid.UUID) (Participants, error) {
	switch {
	case user2 != nil && roleID == nil:
		return DirectParticipants{User1: user1, User2: *user2}, nil
	case roleID != nil && user2 == nil:
		return RoleParticipants{Initiator: user1, RoleID: *roleID}, nil
	default:
		return nil, ErrMalformedConversation
	}
}

// Conversation is a chat thread inside an organization.
type Conversation struct {
	ID             uuid.UUID          `json:"id"`
	OrganizationID uuid.UUID          `json:"organization_id"`
	Participants   Participants       `json:"-"`
	Status         ConversationStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	ArchivedAt     *time.Time         `json:"archived_at,omitempty"`
	ArchivedBy     *uuid.UUID         `json:"archived_by,omitempty"`
}

// Direct returns the direct variant if the conversation is user-to-user.
func (c *Conversation) Direct() (DirectParticipants, bool) {
	p, ok := c.Participants.(DirectParticipants)
	return p, ok
}

// Role returns the role variant if the conversation targets a role.
func (c *Conversation) Role() (RoleParticipants, bool) {
	p, ok := c.Participants.(RoleParticipants)
	return p, ok
}

// MarshalJSON flattens the participants variant next to the common fields.
func (c Conversation) MarshalJSON() ([]byte, error) {
	type plain Conversation
	out := struct {
		plain
		Type        ConversationKind `json:"type"`
		User1ID     *uuid.UUID       `json:"user1_id,omitempty"`
		User2ID     *uuid.UUID       `json:"user2_id,omitempty"`
		InitiatorID *uuid.UUID       `json:"initiator_id,omitempty"`
		RoleID      *uuid.UUID       `json:"role_id,omitempty"`
	}{plain: plain(c)}
	switch p := c.Participants.(type) {
	case DirectParticipants:
		out.Type = ConversationDirect
		out.User1ID, out.User2ID = &p.User1, &p.User2
	case RoleParticipants:
		out.Type = ConversationRole
		out.InitiatorID, out.RoleID = &p.Initiator, &p.RoleID
	}
	return json.Marshal(out)
}

// ChatMessage is one message. RecipientID is nil for initiator broadcasts into a
// role conversation and the initiator's id for role-member replies.
type ChatMessage struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	SenderID       uuid.UUID  `json:"sender_id"`
	RecipientID    *uuid.UUID `json:"recipient_id"`
	Content        string     `json:"content"`
	IsRead         bool       `json:"is_read"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ResolutionStatus is the state of a resolution request.
type ResolutionStatus string

const (
	ResolutionPending  ResolutionStatus = "pending"
	ResolutionApproved ResolutionStatus = "approved"
	ResolutionRejected ResolutionStatus = "rejected"
)

// ResolutionRequest proposes closing a role conversation.
type ResolutionRequest struct {
	ID             uuid.UUID        `json:"id"`
	ConversationID uuid.UUID        `json:"conversation_id"`
	RequestedBy    uuid.UUID        `json:"requested_by"`
	ResolutionNote string           `json:"resolution_note,omitempty"`
	Status         ResolutionStatus `json:"status"`
	RequestedAt    time.Time        `json:"requested_at"`
	DecidedBy      *uuid.UUID       `json:"decided_by,omitempty"`
	DecidedAt      *time.Time       `json:"decided_at,omitempty"`
}

// RoleChatPermission marks messaging from SenderRoleID to RecipientRoleID as disabled.
// Absence of a row is the allowed state.
type RoleChatPermission struct {
	OrganizationID  uuid.UUID `json:"organization_id"`
	SenderRoleID    uuid.UUID `json:"sender_role_id"`
	RecipientRoleID uuid.UUID `json:"recipient_role_id"`
}

// Perspective tells a listing item's reader which side of a role conversation they are on.
type Perspective string

const (
	PerspectiveParticipant Perspective = "participant"
	PerspectiveInitiator   Perspective = "initiator"
	PerspectiveRoleMember  Perspective = "role_member"
)

// ConversationSummary is an inbox item.
type ConversationSummary struct {
	Conversation  Conversation `json:"conversation"`
	Perspective   Perspective  `json:"perspective"`
	LastMessage   *string      `json:"last_message"`
	LastMessageAt *time.Time   `json:"last_message_at"`
	LastSenderID  *uuid.UUID   `json:"last_sender_id"`
	UnreadCount   int          `json:"unread_count"`
}
