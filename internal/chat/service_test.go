package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
	"github.com/porteria/backend/pkg/metrics"
	"github.com/porteria/backend/pkg/queue"
	"github.com/porteria/backend/pkg/utils"
)

type fixture struct {
	ctx       context.Context
	store     *memStore
	svc       *Service
	publisher *recordingPublisher
	enqueuer  *recordingEnqueuer
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	f := &fixture{
		ctx:       context.Background(),
		store:     store,
		publisher: &recordingPublisher{},
		enqueuer:  &recordingEnqueuer{},
		metrics:   metrics.New(),
	}
	f.svc = NewService(NewEngine(store), store, f.publisher, f.enqueuer, f.metrics, nil)
	return f
}

func (f *fixture) send(t *testing.T, caller Caller, in SendInput) *SendResult {
	t.Helper()
	res, err := f.svc.Send(f.ctx, f.store.orgID, caller, in)
	require.NoError(t, err)
	return res
}

// openRoleConversation has initiator write to the security role.
func (f *fixture) openRoleConversation(t *testing.T, initiator Caller) models.Conversation {
	t.Helper()
	roleID := f.store.role(models.RoleSecurity).ID
	return f.send(t, initiator, SendInput{RoleID: &roleID, Content: "Hay un paquete en portería?"}).Conversation
}

func TestSend_DirectCreatesAndReusesConversation(t *testing.T) {
	f := newFixture(t)
	alice := f.store.addMember(models.RoleResident)
	bob := f.store.addMember(models.RoleSecurity)

	first := f.send(t, alice, SendInput{RecipientID: &bob.UserID, Content: "  hola  "})
	assert.Equal(t, "hola", first.Message.Content)
	require.NotNil(t, first.Message.RecipientID)
	assert.Equal(t, bob.UserID, *first.Message.RecipientID)

	second := f.send(t, bob, SendInput{RecipientID: &alice.UserID, Content: "buenas"})
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID, "one conversation per user pair")

	assert.Equal(t, EventMessageNew, f.publisher.last().eventType)
	assert.ElementsMatch(t, []uuid.UUID{alice.UserID, bob.UserID}, f.publisher.last().userIDs)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ChatMessages.WithLabelValues("direct")))
}

func TestSend_DirectIsCheckedOnEverySend(t *testing.T) {
	f := newFixture(t)
	resident := f.store.addMember(models.RoleResident)
	security := f.store.addMember(models.RoleSecurity)

	conv := f.send(t, resident, SendInput{RecipientID: &security.UserID, Content: "hola"}).Conversation
	require.NoError(t, f.svc.Engine().SetPermission(f.ctx, f.store.orgID, resident.RoleID, security.RoleID, true))

	_, err := f.svc.Send(f.ctx, f.store.orgID, resident, SendInput{ConversationID: &conv.ID, Content: "sigo aquí"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = f.svc.Send(f.ctx, f.store.orgID, resident, SendInput{RecipientID: &security.UserID, Content: "sigo aquí"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	f.send(t, security, SendInput{ConversationID: &conv.ID, Content: "la otra dirección sigue abierta"})
}

func TestSend_RoleConversationCheckedOnlyAtCreation(t *testing.T) {
	f := newFixture(t)
	resident := f.store.addMember(models.RoleResident)
	guard := f.store.addMember(models.RoleSecurity)
	conv := f.openRoleConversation(t, resident)

	require.NoError(t, f.svc.Engine().SetPermission(f.ctx, f.store.orgID, resident.RoleID, guard.RoleID, true))
	require.NoError(t, f.svc.Engine().SetPermission(f.ctx, f.store.orgID, guard.RoleID, resident.RoleID, true))

	securityID := guard.RoleID
	again := f.send(t, resident, SendInput{RoleID: &securityID, Content: "el initiator continúa"})
	assert.Equal(t, conv.ID, again.Conversation.ID)
	f.send(t, guard, SendInput{ConversationID: &conv.ID, Content: "los miembros del rol responden"})

	other := f.store.addMember(models.RoleResident)
	_, err := f.svc.Send(f.ctx, f.store.orgID, other, SendInput{RoleID: &securityID, Content: "nueva conversación"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized, "opening a new role conversation is gated")
}

func TestSend_OwnRoleConversationUntilDenied(t *testing.T) {
	f := newFixture(t)
	resident := f.store.addMember(models.RoleResident)
	neighbour := f.store.addMember(models.RoleResident)
	residentRole := resident.RoleID

	conv := f.send(t, resident, SendInput{RoleID: &residentRole, Content: "Reunión de copropietarios hoy"}).Conversation
	assert.ElementsMatch(t, []uuid.UUID{neighbour.UserID, resident.UserID}, f.publisher.last().userIDs)

	reply := f.send(t, neighbour, SendInput{ConversationID: &conv.ID, Content: "Allí estaré"})
	require.NotNil(t, reply.Message.RecipientID)
	assert.Equal(t, resident.UserID, *reply.Message.RecipientID)

	require.NoError(t, f.svc.Engine().SetPermission(f.ctx, f.store.orgID, residentRole, residentRole, true))
	_, err := f.svc.Send(f.ctx, f.store.orgID, neighbour, SendInput{RoleID: &residentRole, Content: "otra"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	again := f.send(t, resident, SendInput{RoleID: &residentRole, Content: "el initiator continúa"})
	assert.Equal(t, conv.ID, again.Conversation.ID)
}

func TestSend_RoleMessagesAddressing(t *testing.T) {
	f := newFixture(t)
	resident := f.store.addMember(models.RoleResident)
	g1 := f.store.addMember(models.RoleSecurity)
	g2 := f.store.addMember(models.RoleSecurity)
	conv := f.openRoleConversation(t, resident)

	assert.ElementsMatch(t, []uuid.UUID{g1.UserID, g2.UserID, resident.UserID}, f.publisher.last().userIDs)

	reply := f.send(t, g1, SendInput{ConversationID: &conv.ID, Content: "sí, llegó"})
	require.NotNil(t, reply.Message.RecipientID)
	assert.Equal(t, resident.UserID, *reply.Message.RecipientID)

	first, _, err := f.store.ListMessages(f.ctx, conv.ID, utils.NewPage(1, 10))
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Nil(t, first[1].RecipientID, "initiator broadcasts have no recipient")
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t)
	resident := f.store.addMember(models.RoleResident)
	other := f.store.addMember(models.RoleResident)
	ownRole := resident.RoleID

	cases := []struct {
		name string
		in   SendInput
	}{
		{"empty", SendInput{RecipientID: &other.UserID, Content: "   "}},
		{"too long", SendInput{RecipientID: &other.UserID, Content: strings.Repeat("a", MaxMessageLength+1)}},
		{"no target", SendInput{Content: "hola"}},
		{"two targets", SendInput{RecipientID: &other.UserID, RoleID: &ownRole, Content: "hola"}},
		{"self", SendInput{RecipientID: &resident.UserID, Content: "hola"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Send(f.ctx, f.store.orgID, resident, tc.in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestSend_NonParticipantSeesNotFound(t *testing.T) {
	f := newFixture(t)
	resident := f.store.addMember(models.RoleResident)
	f.store.addMember(models.RoleSecurity)
	conv := f.openRoleConversation(t, resident)

	admin := f.store.addMember(models.RoleAdmin)
	_, err := f.svc.Send(f.ctx, f.store.orgID, admin, SendInput{ConversationID: &conv.ID, Content: "hola"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.ListMessages(f.ctx, f.store.orgID, conv.ID, admin, utils.NewPage(1, 10))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestResolution_ApproveThenArchive(t *testing.T) {
	f := newFixture(t)
	resident := f.store.addMember(models.RoleResident)
	guard := f.store.addMember(models.RoleSecurity)
	conv := f.openRoleConversation(t, resident)

	_, err := f.svc.Archive(f.ctx, f.store.orgID, conv.ID, resident)
	assert.ErrorIs(t, err, ErrArchiveNotResolved, "archive from active")

	req, err := f.svc.RequestResolution(f.ctx, f.store.orgID, conv.ID, guard, "entregado")
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionPending, req.Status)
	assert.Equal(t, []uuid.UUID{resident.UserID}, f.publisher.last().userIDs)

	current, err := f.store.GetConversation(f.ctx, f.store.orgID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationActive, current.Status, "requesting does not change the status")

	_, err = f.svc.DecideResolution(f.ctx, f.store.orgID, conv.ID, req.ID, guard, true)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized, "the requester cannot decide")

	decided, err := f.svc.DecideResolution(f.ctx, f.store.orgID, conv.ID, req.ID, resident, true)
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionApproved, decided.Status)

	current, err = f.store.GetConversation(f.ctx, f.store.orgID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationResolved, current.Status)

	_, err = f.svc.Send(f.ctx, f.store.orgID, resident, SendInput{ConversationID: &conv.ID, Content: "una más"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	archived, err := f.svc.Archive(f.ctx, f.store.orgID, conv.ID, guard)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationArchived, archived.Status)
	require.NotNil(t, archived.ArchivedBy)
	assert.Equal(t, guard.UserID, *archived.ArchivedBy)

	_, err = f.svc.Archive(f.ctx, f.store.orgID, conv.ID, guard)
	assert.ErrorIs(t, err, ErrArchiveNotResolved, "archive from archived")

	assert.Equal(t, []queue.JobType{queue.JobTypeResolutionRequested, queue.JobTypeResolutionDecided}, f.enqueuer.jobs)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ResolutionEvents.WithLabelValues("archived")))

	// Archived conversations free the (initiator, role) slot.
	next := f.openRoleConversation(t, resident)
	assert.NotEqual(t, conv.ID, next.ID)
}

func TestResolution_RejectKeepsActive(t *testing.T) {
	f := newFixture(t)
	resident := f.store.addMember(models.RoleResident)
	guard := f.store.addMember(models.RoleSecurity)
	conv := f.openRoleConversation(t, resident)

	req, err := f.svc.RequestResolution(f.ctx, f.store.orgID, conv.ID, resident, "")
	require.NoError(t, err)

	_, err = f.svc.RequestResolution(f.ctx, f.store.orgID, conv.ID, guard, "")
	assert.ErrorIs(t, err, apperr.ErrConflict, "one pending request at a time")

	decided, err := f.svc.DecideResolution(f.ctx, f.store.orgID, conv.ID, req.ID, guard, false)
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionRejected, decided.Status)

	current, err := f.store.GetConversation(f.ctx, f.store.orgID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationActive, current.Status)

	_, err = f.svc.DecideResolution(f.ctx, f.store.orgID, conv.ID, req.ID, guard, true)
	assert.ErrorIs(t, err, apperr.ErrValidation, "a decided request stays decided")

	_, err = f.svc.Archive(f.ctx, f.store.orgID, conv.ID, guard)
	assert.ErrorIs(t, err, ErrArchiveNotResolved)

	_, err = f.svc.RequestResolution(f.ctx, f.store.orgID, conv.ID, guard, "")
	assert.NoError(t, err, "a new request is allowed once the previous one is decided")
}

func TestResolution_RoleConversationsOnly(t *testing.T) {
	f := newFixture(t)
	alice := f.store.addMember(models.RoleResident)
	bob := f.store.addMember(models.RoleResident)
	conv := f.send(t, alice, SendInput{RecipientID: &bob.UserID, Content: "hola"}).Conversation

	_, err := f.svc.RequestResolution(f.ctx, f.store.orgID, conv.ID, alice, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestResolution_EnqueueFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.enqueuer.err = errors.New("redis down")
	resident := f.store.addMember(models.RoleResident)
	f.store.addMember(models.RoleSecurity)
	conv := f.openRoleConversation(t, resident)

	_, err := f.svc.RequestResolution(f.ctx, f.store.orgID, conv.ID, resident, "")
	assert.NoError(t, err)
}

func TestMarkRead_AsymmetricPartition(t *testing.T) {
	f := newFixture(t)
	initiator := f.store.addMember(models.RoleResident)
	member := f.store.addMember(models.RoleSecurity)
	conv := f.openRoleConversation(t, initiator)

	msgs, _, err := f.store.ListMessages(f.ctx, conv.ID, utils.NewPage(1, 10))
	require.NoError(t, err)
	m1 := msgs[0].ID
	m2 := f.send(t, member, SendInput{ConversationID: &conv.ID, Content: "respuesta"}).Message.ID

	n, err := f.svc.MarkConversationRead(f.ctx, f.store.orgID, conv.ID, initiator)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.True(t, f.store.message(m2).IsRead)
	assert.False(t, f.store.message(m1).IsRead)

	n, err = f.svc.MarkConversationRead(f.ctx, f.store.orgID, conv.ID, member)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.True(t, f.store.message(m1).IsRead)
}

func TestMarkRead_MemberDoesNotReadRepliesOfOtherMembers(t *testing.T) {
	f := newFixture(t)
	initiator := f.store.addMember(models.RoleResident)
	g1 := f.store.addMember(models.RoleSecurity)
	g2 := f.store.addMember(models.RoleSecurity)
	conv := f.openRoleConversation(t, initiator)
	reply := f.send(t, g1, SendInput{ConversationID: &conv.ID, Content: "respuesta"}).Message.ID

	_, err := f.svc.MarkConversationRead(f.ctx, f.store.orgID, conv.ID, g2)
	require.NoError(t, err)
	assert.False(t, f.store.message(reply).IsRead, "replies are read by the initiator only")
}

func TestMarkMessageRead(t *testing.T) {
	f := newFixture(t)
	initiator := f.store.addMember(models.RoleResident)
	member := f.store.addMember(models.RoleSecurity)
	conv := f.openRoleConversation(t, initiator)
	msgs, _, err := f.store.ListMessages(f.ctx, conv.ID, utils.NewPage(1, 10))
	require.NoError(t, err)
	broadcast := msgs[0].ID
	reply := f.send(t, member, SendInput{ConversationID: &conv.ID, Content: "respuesta"}).Message.ID

	err = f.svc.MarkMessageRead(f.ctx, f.store.orgID, broadcast, initiator)
	assert.ErrorIs(t, err, apperr.ErrValidation, "own message")

	err = f.svc.MarkMessageRead(f.ctx, f.store.orgID, reply, member)
	assert.ErrorIs(t, err, apperr.ErrValidation, "own reply")

	require.NoError(t, f.svc.MarkMessageRead(f.ctx, f.store.orgID, reply, initiator))
	assert.True(t, f.store.message(reply).IsRead)
	require.NoError(t, f.svc.MarkMessageRead(f.ctx, f.store.orgID, reply, initiator), "idempotent")

	outsider := f.store.addMember(models.RoleAdmin)
	err = f.svc.MarkMessageRead(f.ctx, f.store.orgID, broadcast, outsider)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListConversations(t *testing.T) {
	f := newFixture(t)
	initiator := f.store.addMember(models.RoleResident)
	second := f.store.addMember(models.RoleResident)
	member := f.store.addMember(models.RoleSecurity)
	f.openRoleConversation(t, initiator)
	f.openRoleConversation(t, second)
	f.send(t, initiator, SendInput{RecipientID: &second.UserID, Content: "vecino"})

	page := utils.NewPage(1, 10)
	mine, err := f.svc.ListRoleConversations(f.ctx, f.store.orgID, initiator, page)
	require.NoError(t, err)
	require.Equal(t, 1, mine.Total)
	assert.Equal(t, models.PerspectiveInitiator, mine.Items[0].Perspective)
	assert.Equal(t, 0, mine.Items[0].UnreadCount)

	inbox, err := f.svc.ListRoleConversations(f.ctx, f.store.orgID, member, page)
	require.NoError(t, err)
	require.Equal(t, 2, inbox.Total, "one conversation per initiator")
	for _, item := range inbox.Items {
		assert.Equal(t, models.PerspectiveRoleMember, item.Perspective)
		assert.Equal(t, 1, item.UnreadCount)
		require.NotNil(t, item.LastMessage)
	}

	direct, err := f.svc.ListUserConversations(f.ctx, f.store.orgID, second, page)
	require.NoError(t, err)
	require.Equal(t, 1, direct.Total)
	assert.Equal(t, 1, direct.Items[0].UnreadCount)
	require.NotNil(t, direct.Items[0].LastSenderID)
	assert.Equal(t, initiator.UserID, *direct.Items[0].LastSenderID)
}
