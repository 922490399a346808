package chat

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
	"github.com/porteria/backend/pkg/metrics"
	"github.com/porteria/backend/pkg/queue"
	"github.com/porteria/backend/pkg/utils"
)

// MaxMessageLength bounds message content in characters.
const MaxMessageLength = 5000

// ReadPartition selects the messages a caller may mark read. A nil Recipient
// selects messages with no recipient (initiator broadcasts).
type ReadPartition struct {
	Recipient *uuid.UUID
}

// Matches reports whether msg falls in the partition.
func (p ReadPartition) Matches(msg *models.ChatMessage) bool {
	if p.Recipient == nil {
		return msg.RecipientID == nil
	}
	return msg.RecipientID != nil && *msg.RecipientID == *p.Recipient
}

// ConversationStore is the transactional port behind conversations. Every
// operation that checks and changes state does both atomically.
type ConversationStore interface {
	GetConversation(ctx context.Context, orgID, conversationID uuid.UUID) (*models.Conversation, error)
	// FindDirect and FindRole return the open (non-archived) conversation or an apperr NotFound.
	FindDirect(ctx context.Context, orgID, userA, userB uuid.UUID) (*models.Conversation, error)
	FindRole(ctx context.Context, orgID, initiatorID, roleID uuid.UUID) (*models.Conversation, error)
	// CreateConversation inserts a conversation or returns the open one with the same participants.
	CreateConversation(ctx context.Context, orgID uuid.UUID, participants models.Participants) (*models.Conversation, error)
	InsertMessage(ctx context.Context, msg *models.ChatMessage) error
	GetMessage(ctx context.Context, orgID, messageID uuid.UUID) (*models.ChatMessage, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, page utils.Page) ([]models.ChatMessage, int, error)
	ListDirectSummaries(ctx context.Context, orgID, userID uuid.UUID, page utils.Page) ([]models.ConversationSummary, int, error)
	// ListRoleSummaries returns conversations the user initiated plus, when roleID
	// is set, every per-initiator conversation addressed to roleID.
	ListRoleSummaries(ctx context.Context, orgID, userID uuid.UUID, roleID *uuid.UUID, page utils.Page) ([]models.ConversationSummary, int, error)
	RoleMemberIDs(ctx context.Context, orgID, roleID uuid.UUID) ([]uuid.UUID, error)

	// CreateResolutionRequest fails with an apperr Conflict when a pending request exists.
	CreateResolutionRequest(ctx context.Context, conversationID, requestedBy uuid.UUID, note string) (*models.ResolutionRequest, error)
	GetResolutionRequest(ctx context.Context, conversationID, requestID uuid.UUID) (*models.ResolutionRequest, error)
	// DecideResolution moves a pending request to approved or rejected and, on
	// approval, the conversation from active to resolved, in one transaction.
	DecideResolution(ctx context.Context, requestID, decidedBy uuid.UUID, approve bool) (*models.ResolutionRequest, error)
	// ArchiveConversation archives a resolved conversation and fails with an apperr
	// Validation error from any other state without changing it.
	ArchiveConversation(ctx context.Context, conversationID, archivedBy uuid.UUID) (*models.Conversation, error)
	MarkConversationRead(ctx context.Context, conversationID uuid.UUID, partition ReadPartition) (int64, error)
	MarkMessageRead(ctx context.Context, messageID uuid.UUID) error
}

// Publisher pushes realtime events to connected users.
type Publisher interface {
	PublishToUsers(ctx context.Context, userIDs []uuid.UUID, eventType string, payload interface{})
}

// Enqueuer schedules notification jobs.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, jobType queue.JobType, payload queue.NotificationPayload) error
}

// Realtime event types.
const (
	EventMessageNew         = "chat.message"
	EventResolutionRequest  = "chat.resolution_requested"
	EventResolutionDecision = "chat.resolution_decided"
	EventConversationClosed = "chat.conversation_archived"
)

// Service runs conversations on top of the permission engine.
type Service struct {
	engine    *Engine
	store     ConversationStore
	publisher Publisher
	enqueuer  Enqueuer
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewService creates a chat service. Publisher, enqueuer and metrics are optional.
func NewService(engine *Engine, store ConversationStore, publisher Publisher, enqueuer Enqueuer, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, store: store, publisher: publisher, enqueuer: enqueuer, metrics: m, logger: logger}
}

// Engine returns the permission engine.
func (s *Service) Engine() *Engine { return s.engine }

// Caller identifies the acting member.
type Caller struct {
	UserID uuid.UUID
	RoleID uuid.UUID
}

// CallerFrom builds a Caller from a loaded membership.
func CallerFrom(m *models.Membership) Caller {
	return Caller{UserID: m.UserID, RoleID: m.Role.ID}
}

// SendInput addresses a message to exactly one of a user, a role or an existing conversation.
type SendInput struct {
	RecipientID    *uuid.UUID
	RoleID         *uuid.UUID
	ConversationID *uuid.UUID
	Content        string
}

// SendResult is the stored message and the conversation it went to.
type SendResult struct {
	Message      models.ChatMessage  `json:"message"`
	Conversation models.Conversation `json:"conversation"`
}

var (
	errNotParticipant   = apperr.NotFound("Conversación no encontrada")
	errMessageDenied    = apperr.Unauthorized("No tienes permiso para enviar mensajes a este destinatario")
	errConversationDone = apperr.Validation("La conversación ya fue resuelta o archivada")

	// ErrArchiveNotResolved is returned when archiving anything but a resolved conversation.
	ErrArchiveNotResolved = apperr.Validation("Solo se pueden archivar conversaciones resueltas")
)

// Send stores a message. Direct messages are checked against the matrix on every
// send; role conversations only when they are opened.
func (s *Service) Send(ctx context.Context, orgID uuid.UUID, caller Caller, in SendInput) (*SendResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperr.Validation("El mensaje no puede estar vacío")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, apperr.Validation("El mensaje es demasiado largo")
	}
	targets := 0
	for _, set := range []bool{in.RecipientID != nil, in.RoleID != nil, in.ConversationID != nil} {
		if set {
			targets++
		}
	}
	if targets != 1 {
		return nil, apperr.Validation("Indica un destinatario, un rol o una conversación")
	}

	var (
		conv *models.Conversation
		err  error
	)
	switch {
	case in.RecipientID != nil:
		conv, err = s.openDirect(ctx, orgID, caller, *in.RecipientID)
	case in.RoleID != nil:
		conv, err = s.openRole(ctx, orgID, caller, *in.RoleID)
	default:
		conv, err = s.store.GetConversation(ctx, orgID, *in.ConversationID)
	}
	if err != nil {
		return nil, err
	}
	perspective := s.perspective(conv, caller)
	if perspective == "" {
		return nil, errNotParticipant
	}
	if conv.Status != models.ConversationActive {
		return nil, errConversationDone
	}

	msg := models.ChatMessage{
		ConversationID: conv.ID,
		OrganizationID: orgID,
		SenderID:       caller.UserID,
		Content:        content,
	}
	var notify []uuid.UUID
	switch p := conv.Participants.(type) {
	case models.DirectParticipants:
		other := p.Other(caller.UserID)
		if in.ConversationID != nil {
			ok, err := s.engine.CanMessage(ctx, orgID, caller.UserID, other)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, errMessageDenied
			}
		}
		msg.RecipientID = &other
		notify = []uuid.UUID{other}
	case models.RoleParticipants:
		if perspective == models.PerspectiveInitiator {
			members, err := s.store.RoleMemberIDs(ctx, orgID, p.RoleID)
			if err != nil {
				s.logger.Warn("list role members for realtime", zap.Error(err))
			}
			notify = without(members, caller.UserID)
		} else {
			initiator := p.Initiator
			msg.RecipientID = &initiator
			notify = []uuid.UUID{initiator}
		}
	}

	if err := s.store.InsertMessage(ctx, &msg); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ChatMessages.WithLabelValues(string(conv.Participants.Kind())).Inc()
	}
	s.publish(ctx, append(notify, caller.UserID), EventMessageNew, msg)
	return &SendResult{Message: msg, Conversation: *conv}, nil
}

func (s *Service) openDirect(ctx context.Context, orgID uuid.UUID, caller Caller, recipientID uuid.UUID) (*models.Conversation, error) {
	if recipientID == caller.UserID {
		return nil, apperr.Validation("No puedes enviarte mensajes a ti mismo")
	}
	ok, err := s.engine.CanMessage(ctx, orgID, caller.UserID, recipientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errMessageDenied
	}
	conv, err := s.store.FindDirect(ctx, orgID, caller.UserID, recipientID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return s.store.CreateConversation(ctx, orgID, models.DirectParticipants{User1: caller.UserID, User2: recipientID})
}

func (s *Service) openRole(ctx context.Context, orgID uuid.UUID, caller Caller, roleID uuid.UUID) (*models.Conversation, error) {
	conv, err := s.store.FindRole(ctx, orgID, caller.UserID, roleID)
	if err == nil {
		// The initiator may always continue a conversation they opened.
		return conv, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	ok, err := s.engine.CanMessageRole(ctx, orgID, caller.UserID, roleID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errMessageDenied
	}
	return s.store.CreateConversation(ctx, orgID, models.RoleParticipants{Initiator: caller.UserID, RoleID: roleID})
}

// perspective places caller in conv; empty when caller is not part of it.
func (s *Service) perspective(conv *models.Conversation, caller Caller) models.Perspective {
	switch p := conv.Participants.(type) {
	case models.DirectParticipants:
		if p.Includes(caller.UserID) {
			return models.PerspectiveParticipant
		}
	case models.RoleParticipants:
		if p.Initiator == caller.UserID {
			return models.PerspectiveInitiator
		}
		if p.RoleID == caller.RoleID {
			return models.PerspectiveRoleMember
		}
	}
	return ""
}

// participation loads a conversation the caller takes part in. Conversations the
// caller cannot see are reported as not found.
func (s *Service) participation(ctx context.Context, orgID, conversationID uuid.UUID, caller Caller) (*models.Conversation, models.Perspective, error) {
	conv, err := s.store.GetConversation(ctx, orgID, conversationID)
	if err != nil {
		return nil, "", err
	}
	p := s.perspective(conv, caller)
	if p == "" {
		return nil, "", errNotParticipant
	}
	return conv, p, nil
}

// ListUserConversations lists the caller's user-to-user conversations.
func (s *Service) ListUserConversations(ctx context.Context, orgID uuid.UUID, caller Caller, page utils.Page) (utils.Paginated[models.ConversationSummary], error) {
	items, total, err := s.store.ListDirectSummaries(ctx, orgID, caller.UserID, page)
	if err != nil {
		return utils.Paginated[models.ConversationSummary]{}, err
	}
	return utils.NewPaginated(items, total, page), nil
}

// ListRoleConversations lists role conversations the caller opened and those
// addressed to the caller's role, one per initiator.
func (s *Service) ListRoleConversations(ctx context.Context, orgID uuid.UUID, caller Caller, page utils.Page) (utils.Paginated[models.ConversationSummary], error) {
	var roleID *uuid.UUID
	if caller.RoleID != uuid.Nil {
		id := caller.RoleID
		roleID = &id
	}
	items, total, err := s.store.ListRoleSummaries(ctx, orgID, caller.UserID, roleID, page)
	if err != nil {
		return utils.Paginated[models.ConversationSummary]{}, err
	}
	return utils.NewPaginated(items, total, page), nil
}

// ListMessages lists a conversation's messages, newest first.
func (s *Service) ListMessages(ctx context.Context, orgID, conversationID uuid.UUID, caller Caller, page utils.Page) (utils.Paginated[models.ChatMessage], error) {
	if _, _, err := s.participation(ctx, orgID, conversationID, caller); err != nil {
		return utils.Paginated[models.ChatMessage]{}, err
	}
	items, total, err := s.store.ListMessages(ctx, conversationID, page)
	if err != nil {
		return utils.Paginated[models.ChatMessage]{}, err
	}
	return utils.NewPaginated(items, total, page), nil
}

// RequestResolution opens a resolution request on an active role conversation.
func (s *Service) RequestResolution(ctx context.Context, orgID, conversationID uuid.UUID, caller Caller, note string) (*models.ResolutionRequest, error) {
	conv, _, err := s.participation(ctx, orgID, conversationID, caller)
	if err != nil {
		return nil, err
	}
	role, ok := conv.Role()
	if !ok {
		return nil, apperr.Validation("Solo las conversaciones con un rol se pueden resolver")
	}
	if !models.ConversationLifecycle.CanTransition(conv.Status, models.ConversationResolved) {
		return nil, apperr.Validation("La conversación no está activa")
	}
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > 1000 {
		return nil, apperr.Validation("La nota de resolución es demasiado larga")
	}
	req, err := s.store.CreateResolutionRequest(ctx, conv.ID, caller.UserID, note)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, apperr.Conflict("Ya existe una solicitud de resolución pendiente")
		}
		return nil, err
	}
	s.countResolution("requested")
	others := s.otherSide(ctx, orgID, role, caller.UserID == role.Initiator, caller.UserID)
	s.publish(ctx, others, EventResolutionRequest, req)
	s.enqueue(ctx, queue.JobTypeResolutionRequested, queue.NotificationPayload{
		UserIDs:        others,
		OrganizationID: orgID,
		Title:          "Solicitud de resolución",
		Body:           "Te pidieron marcar una conversación como resuelta",
		Data:           map[string]string{"conversation_id": conv.ID.String(), "request_id": req.ID.String()},
	})
	return req, nil
}

// DecideResolution approves or rejects a pending request. Only the side that did
// not make the request may decide.
func (s *Service) DecideResolution(ctx context.Context, orgID, conversationID, requestID uuid.UUID, caller Caller, approve bool) (*models.ResolutionRequest, error) {
	conv, perspective, err := s.participation(ctx, orgID, conversationID, caller)
	if err != nil {
		return nil, err
	}
	role, ok := conv.Role()
	if !ok {
		return nil, apperr.Validation("Solo las conversaciones con un rol se pueden resolver")
	}
	req, err := s.store.GetResolutionRequest(ctx, conv.ID, requestID)
	if err != nil {
		return nil, err
	}
	target := models.ResolutionRejected
	if approve {
		target = models.ResolutionApproved
	}
	if !models.ResolutionLifecycle.CanTransition(req.Status, target) {
		return nil, apperr.Validation("La solicitud de resolución ya fue procesada")
	}
	requesterIsInitiator := req.RequestedBy == role.Initiator
	callerIsInitiator := perspective == models.PerspectiveInitiator
	if requesterIsInitiator == callerIsInitiator {
		return nil, apperr.Unauthorized("Solo la otra parte puede aprobar o rechazar la solicitud")
	}
	decided, err := s.store.DecideResolution(ctx, req.ID, caller.UserID, approve)
	if err != nil {
		return nil, err
	}
	action := "rejected"
	title := "Solicitud de resolución rechazada"
	if approve {
		action = "approved"
		title = "Conversación resuelta"
	}
	s.countResolution(action)
	notify := []uuid.UUID{req.RequestedBy}
	s.publish(ctx, notify, EventResolutionDecision, decided)
	s.enqueue(ctx, queue.JobTypeResolutionDecided, queue.NotificationPayload{
		UserIDs:        notify,
		OrganizationID: orgID,
		Title:          title,
		Data:           map[string]string{"conversation_id": conv.ID.String(), "request_id": req.ID.String(), "status": string(decided.Status)},
	})
	return decided, nil
}

// Archive closes a resolved conversation for good.
func (s *Service) Archive(ctx context.Context, orgID, conversationID uuid.UUID, caller Caller) (*models.Conversation, error) {
	conv, _, err := s.participation(ctx, orgID, conversationID, caller)
	if err != nil {
		return nil, err
	}
	if !models.ConversationLifecycle.CanTransition(conv.Status, models.ConversationArchived) {
		return nil, ErrArchiveNotResolved
	}
	archived, err := s.store.ArchiveConversation(ctx, conv.ID, caller.UserID)
	if err != nil {
		return nil, err
	}
	s.countResolution("archived")
	if role, ok := archived.Role(); ok {
		s.publish(ctx, s.otherSide(ctx, orgID, role, caller.UserID == role.Initiator, caller.UserID), EventConversationClosed, archived)
	}
	return archived, nil
}

// MarkConversationRead marks as read every unread message in the caller's partition.
func (s *Service) MarkConversationRead(ctx context.Context, orgID, conversationID uuid.UUID, caller Caller) (int64, error) {
	conv, perspective, err := s.participation(ctx, orgID, conversationID, caller)
	if err != nil {
		return 0, err
	}
	return s.store.MarkConversationRead(ctx, conv.ID, PartitionFor(perspective, caller.UserID))
}

// MarkMessageRead marks one message read when it falls in the caller's partition.
func (s *Service) MarkMessageRead(ctx context.Context, orgID, messageID uuid.UUID, caller Caller) error {
	msg, err := s.store.GetMessage(ctx, orgID, messageID)
	if err != nil {
		return err
	}
	_, perspective, err := s.participation(ctx, orgID, msg.ConversationID, caller)
	if err != nil {
		return apperr.NotFound("Mensaje no encontrado")
	}
	if msg.SenderID == caller.UserID || !PartitionFor(perspective, caller.UserID).Matches(msg) {
		return apperr.Validation("No puedes marcar este mensaje como leído")
	}
	if msg.IsRead {
		return nil
	}
	return s.store.MarkMessageRead(ctx, msg.ID)
}

// PartitionFor returns the read partition of a caller: initiators and direct
// participants read what was addressed to them, role members read initiator broadcasts.
func PartitionFor(p models.Perspective, userID uuid.UUID) ReadPartition {
	if p == models.PerspectiveRoleMember {
		return ReadPartition{}
	}
	id := userID
	return ReadPartition{Recipient: &id}
}

// otherSide lists the users across from the actor in a role conversation.
func (s *Service) otherSide(ctx context.Context, orgID uuid.UUID, role models.RoleParticipants, actorIsInitiator bool, actor uuid.UUID) []uuid.UUID {
	if !actorIsInitiator {
		return []uuid.UUID{role.Initiator}
	}
	members, err := s.store.RoleMemberIDs(ctx, orgID, role.RoleID)
	if err != nil {
		s.logger.Warn("list role members", zap.Error(err))
		return nil
	}
	return without(members, actor)
}

func (s *Service) publish(ctx context.Context, userIDs []uuid.UUID, eventType string, payload interface{}) {
	if s.publisher == nil || len(userIDs) == 0 {
		return
	}
	s.publisher.PublishToUsers(ctx, userIDs, eventType, payload)
}

// enqueue never fails the caller; notifications are best effort.
func (s *Service) enqueue(ctx context.Context, jobType queue.JobType, payload queue.NotificationPayload) {
	if s.enqueuer == nil || len(payload.UserIDs) == 0 {
		return
	}
	if err := s.enqueuer.EnqueueNotification(ctx, jobType, payload); err != nil {
		s.logger.Warn("enqueue notification", zap.String("type", string(jobType)), zap.Error(err))
	}
}

func (s *Service) countResolution(action string) {
	if s.metrics != nil {
		s.metrics.ResolutionEvents.WithLabelValues(action).Inc()
	}
}

func without(ids []uuid.UUID, drop uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
