package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvitationLifecycle_NeverBackward(t *testing.T) {
	assert.True(t, InvitationLifecycle.CanTransition(InvitationPending, InvitationAccepted))
	assert.True(t, InvitationLifecycle.CanTransition(InvitationPendingApproval, InvitationRejected))
	assert.False(t, InvitationLifecycle.CanTransition(InvitationPending, InvitationRejected))
	assert.False(t, InvitationLifecycle.CanTransition(InvitationRejected, InvitationAccepted))
	assert.False(t, InvitationLifecycle.CanTransition(InvitationAccepted, InvitationPending))
	for _, s := range []InvitationStatus{InvitationAccepted, InvitationCancelled, InvitationRejected} {
		assert.True(t, InvitationLifecycle.IsTerminal(s), s)
	}
	assert.Equal(t, []InvitationStatus{InvitationPending}, InvitationLifecycle.Sources(InvitationCancelled))
	assert.Equal(t, []InvitationStatus{InvitationPendingApproval}, InvitationLifecycle.Sources(InvitationRejected))
}

func TestConversationLifecycle(t *testing.T) {
	assert.NoError(t, ConversationLifecycle.Transition(ConversationActive, ConversationResolved))
	assert.NoError(t, ConversationLifecycle.Transition(ConversationResolved, ConversationArchived))
	assert.Error(t, ConversationLifecycle.Transition(ConversationActive, ConversationArchived))
	assert.Error(t, ConversationLifecycle.Transition(ConversationArchived, ConversationArchived))
	assert.Equal(t, []ConversationStatus{ConversationResolved}, ConversationLifecycle.Sources(ConversationArchived))
}

func TestQRCode_EffectiveStatus(t *testing.T) {
	now := time.Now()
	q := QRCode{Status: QRActive, ExpiresAt: now.Add(time.Hour)}
	assert.Equal(t, QRActive, q.EffectiveStatus(now))
	assert.Equal(t, QRExpired, q.EffectiveStatus(now.Add(2*time.Hour)))

	q.Status, q.IsUsed = QRUsed, true
	assert.Equal(t, QRUsed, q.EffectiveStatus(now.Add(2*time.Hour)))
	assert.True(t, QRLifecycle.IsTerminal(QRUsed))
	assert.NoError(t, QRLifecycle.Transition(QRActive, QRRevoked))
	assert.Error(t, QRLifecycle.Transition(QRExpired, QRRevoked))
	assert.Error(t, QRLifecycle.Transition(QRUsed, QRUsed))
}

func TestParticipantsFromColumns(t *testing.T) {
	a, b, role := uuid.New(), uuid.New(), uuid.New()

	p, err := ParticipantsFromColumns(a, &b, nil)
	require.NoError(t, err)
	direct, ok := p.(DirectParticipants)
	require.True(t, ok)
	assert.Equal(t, b, direct.Other(a))
	assert.Equal(t, a, direct.Other(b))

	p, err = ParticipantsFromColumns(a, nil, &role)
	require.NoError(t, err)
	assert.Equal(t, RoleParticipants{Initiator: a, RoleID: role}, p)

	_, err = ParticipantsFromColumns(a, &b, &role)
	assert.ErrorIs(t, err, ErrMalformedConversation)
	_, err = ParticipantsFromColumns(a, nil, nil)
	assert.ErrorIs(t, err, ErrMalformedConversation)
}

func TestConversation_MarshalJSONFlattensVariant(t *testing.T) {
	initiator, role := uuid.New(), uuid.New()
	c := Conversation{ID: uuid.New(), Participants: RoleParticipants{Initiator: initiator, RoleID: role}, Status: ConversationActive}

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "role", out["type"])
	assert.Equal(t, initiator.String(), out["initiator_id"])
	assert.Equal(t, role.String(), out["role_id"])
	assert.NotContains(t, out, "user2_id")
}

func TestMembership_Checks(t *testing.T) {
	m := &Membership{Role: OrganizationRole{Name: RoleSecurity}, Permissions: []string{PermQRValidate}}
	assert.True(t, m.HasPermission(PermQRValidate))
	assert.False(t, m.HasPermission(PermMembersManage))
	assert.True(t, m.HasRole(RoleAdmin, RoleSecurity))

	var none *Membership
	assert.False(t, none.HasPermission(PermQRValidate))
	assert.False(t, none.HasRole(RoleAdmin))
}
