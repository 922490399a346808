package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
	"github.com/porteria/backend/pkg/queue"
	"github.com/porteria/backend/pkg/utils"
)

// memStore is an in-memory PermissionStore and ConversationStore for a single
// organization. It applies the same conditional updates as the SQL store.
type memStore struct {
	mu            sync.Mutex
	orgID         uuid.UUID
	roles         []models.OrganizationRole
	members       map[uuid.UUID]uuid.UUID
	disabled      map[pair]bool
	conversations map[uuid.UUID]*models.Conversation
	messages      []*models.ChatMessage
	requests      map[uuid.UUID]*models.ResolutionRequest
	clock         time.Time
}

func newMemStore() *memStore {
	typeID := uuid.New()
	role := func(name models.RoleName) models.OrganizationRole {
		return models.OrganizationRole{ID: uuid.New(), OrganizationTypeID: typeID, Name: name}
	}
	return &memStore{
		orgID:         uuid.New(),
		roles:         []models.OrganizationRole{role(models.RoleAdmin), role(models.RoleResident), role(models.RoleSecurity)},
		members:       map[uuid.UUID]uuid.UUID{},
		disabled:      map[pair]bool{},
		conversations: map[uuid.UUID]*models.Conversation{},
		requests:      map[uuid.UUID]*models.ResolutionRequest{},
		clock:         time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) role(name models.RoleName) models.OrganizationRole {
	for _, r := range s.roles {
		if r.Name == name {
			return r
		}
	}
	panic("unknown role " + string(name))
}

// addMember creates a user holding the named role and returns their caller identity.
func (s *memStore) addMember(name models.RoleName) Caller {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	roleID := s.role(name).ID
	s.members[id] = roleID
	return Caller{UserID: id, RoleID: roleID}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) ListRoles(_ context.Context, orgID uuid.UUID) ([]models.OrganizationRole, error) {
	if orgID != s.orgID {
		return nil, nil
	}
	return append([]models.OrganizationRole(nil), s.roles...), nil
}

func (s *memStore) ListDisabledPairs(_ context.Context, orgID uuid.UUID) ([]models.RoleChatPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RoleChatPermission
	for p := range s.disabled {
		out = append(out, models.RoleChatPermission{OrganizationID: orgID, SenderRoleID: p.sender, RecipientRoleID: p.recipient})
	}
	return out, nil
}

func (s *memStore) SetPairDisabled(_ context.Context, _ uuid.UUID, senderRoleID, recipientRoleID uuid.UUID, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if disabled {
		s.disabled[pair{senderRoleID, recipientRoleID}] = true
	} else {
		delete(s.disabled, pair{senderRoleID, recipientRoleID})
	}
	return nil
}

func (s *memStore) IsPairDisabled(_ context.Context, _ uuid.UUID, senderRoleID, recipientRoleID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled[pair{senderRoleID, recipientRoleID}], nil
}

func (s *memStore) MemberRole(_ context.Context, orgID, userID uuid.UUID) (*models.OrganizationRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roleID, ok := s.members[userID]
	if !ok || orgID != s.orgID {
		return nil, apperr.NotFound("Miembro no encontrado")
	}
	for _, r := range s.roles {
		if r.ID == roleID {
			r := r
			return &r, nil
		}
	}
	return nil, apperr.NotFound("Rol no encontrado")
}

func (s *memStore) GetConversation(_ context.Context, orgID, conversationID uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.OrganizationID != orgID {
		return nil, apperr.NotFound(conversationNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) find(match func(*models.Conversation) bool) (*models.Conversation, error) {
	for _, c := range s.conversations {
		if c.Status != models.ConversationArchived && match(c) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperr.NotFound(conversationNotFound)
}

func (s *memStore) FindDirect(_ context.Context, _ uuid.UUID, userA, userB uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(func(c *models.Conversation) bool {
		p, ok := c.Direct()
		return ok && p.Includes(userA) && p.Includes(userB)
	})
}

func (s *memStore) FindRole(_ context.Context, _ uuid.UUID, initiatorID, roleID uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(func(c *models.Conversation) bool {
		p, ok := c.Role()
		return ok && p.Initiator == initiatorID && p.RoleID == roleID
	})
}

func (s *memStore) CreateConversation(_ context.Context, orgID uuid.UUID, participants models.Participants) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tick()
	c := &models.Conversation{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Participants:   participants,
		Status:         models.ConversationActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *memStore) InsertMessage(_ context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = uuid.New()
	msg.CreatedAt = s.tick()
	cp := *msg
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *memStore) GetMessage(_ context.Context, orgID, messageID uuid.UUID) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == messageID && m.OrganizationID == orgID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("Mensaje no encontrado")
}

func (s *memStore) ListMessages(_ context.Context, conversationID uuid.UUID, page utils.Page) ([]models.ChatMessage, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.ChatMessage
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ConversationID == conversationID {
			all = append(all, *s.messages[i])
		}
	}
	return paginate(all, page), len(all), nil
}

func (s *memStore) summaries(userID uuid.UUID, roleID *uuid.UUID, direct bool) []models.ConversationSummary {
	var out []models.ConversationSummary
	for _, c := range s.conversations {
		var perspective models.Perspective
		var partition ReadPartition
		switch p := c.Participants.(type) {
		case models.DirectParticipants:
			if !direct || !p.Includes(userID) {
				continue
			}
			perspective = models.PerspectiveParticipant
		case models.RoleParticipants:
			switch {
			case direct:
				continue
			case p.Initiator == userID:
				perspective = models.PerspectiveInitiator
			case roleID != nil && p.RoleID == *roleID:
				perspective = models.PerspectiveRoleMember
			default:
				continue
			}
		}
		partition = PartitionFor(perspective, userID)
		sum := models.ConversationSummary{Conversation: *c, Perspective: perspective}
		for _, m := range s.messages {
			if m.ConversationID != c.ID {
				continue
			}
			content, at, sender := m.Content, m.CreatedAt, m.SenderID
			sum.LastMessage, sum.LastMessageAt, sum.LastSenderID = &content, &at, &sender
			if !m.IsRead && partition.Matches(m) {
				sum.UnreadCount++
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Conversation.CreatedAt.After(out[j].Conversation.CreatedAt) })
	return out
}

func (s *memStore) ListDirectSummaries(_ context.Context, _ uuid.UUID, userID uuid.UUID, page utils.Page) ([]models.ConversationSummary, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.summaries(userID, nil, true)
	return paginate(all, page), len(all), nil
}

func (s *memStore) ListRoleSummaries(_ context.Context, _ uuid.UUID, userID uuid.UUID, roleID *uuid.UUID, page utils.Page) ([]models.ConversationSummary, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.summaries(userID, roleID, false)
	return paginate(all, page), len(all), nil
}

func (s *memStore) RoleMemberIDs(_ context.Context, _ uuid.UUID, roleID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for user, r := range s.members {
		if r == roleID {
			ids = append(ids, user)
		}
	}
	return ids, nil
}

func (s *memStore) CreateResolutionRequest(_ context.Context, conversationID, requestedBy uuid.UUID, note string) (*models.ResolutionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.Status != models.ConversationActive {
		return nil, apperr.Validation("La conversación no está activa")
	}
	for _, r := range s.requests {
		if r.ConversationID == conversationID && r.Status == models.ResolutionPending {
			return nil, apperr.Conflict("")
		}
	}
	r := &models.ResolutionRequest{
		ID:             uuid.New(),
		ConversationID: conversationID,
		RequestedBy:    requestedBy,
		ResolutionNote: note,
		Status:         models.ResolutionPending,
		RequestedAt:    s.tick(),
	}
	s.requests[r.ID] = r
	cp := *r
	return &cp, nil
}

func (s *memStore) GetResolutionRequest(_ context.Context, conversationID, requestID uuid.UUID) (*models.ResolutionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok || r.ConversationID != conversationID {
		return nil, apperr.NotFound("Solicitud de resolución no encontrada")
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) DecideResolution(_ context.Context, requestID, decidedBy uuid.UUID, approve bool) (*models.ResolutionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok || r.Status != models.ResolutionPending {
		return nil, apperr.Validation("La solicitud de resolución ya fue procesada")
	}
	c := s.conversations[r.ConversationID]
	if approve {
		if c.Status != models.ConversationActive {
			return nil, apperr.Validation("La conversación no está activa")
		}
		c.Status = models.ConversationResolved
		r.Status = models.ResolutionApproved
	} else {
		r.Status = models.ResolutionRejected
	}
	at := s.tick()
	r.DecidedBy, r.DecidedAt = &decidedBy, &at
	cp := *r
	return &cp, nil
}

func (s *memStore) ArchiveConversation(_ context.Context, conversationID, archivedBy uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.Status != models.ConversationResolved {
		return nil, ErrArchiveNotResolved
	}
	at := s.tick()
	c.Status = models.ConversationArchived
	c.ArchivedAt, c.ArchivedBy = &at, &archivedBy
	cp := *c
	return &cp, nil
}

func (s *memStore) MarkConversationRead(_ context.Context, conversationID uuid.UUID, partition ReadPartition) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ConversationID == conversationID && !m.IsRead && partition.Matches(m) {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) MarkMessageRead(_ context.Context, messageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == messageID {
			m.IsRead = true
			return nil
		}
	}
	return apperr.NotFound("Mensaje no encontrado")
}

func (s *memStore) message(id uuid.UUID) models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return *m
		}
	}
	panic("unknown message")
}

func paginate[T any](all []T, page utils.Page) []T {
	start := page.Offset()
	if start >= len(all) {
		return nil
	}
	end := start + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

type published struct {
	userIDs   []uuid.UUID
	eventType string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishToUsers(_ context.Context, userIDs []uuid.UUID, eventType string, _ interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{userIDs: userIDs, eventType: eventType})
}

func (p *recordingPublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type recordingEnqueuer struct {
	jobs []queue.JobType
	err  error
}

func (e *recordingEnqueuer) EnqueueNotification(_ context.Context, jobType queue.JobType, _ queue.NotificationPayload) error {
	e.jobs = append(e.jobs, jobType)
	return e.err
}
