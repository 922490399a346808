// Package invitations manages e-mail invitations and reusable invite links.
package invitations

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
	"github.com/porteria/backend/pkg/queue"
	"github.com/porteria/backend/pkg/utils"
)

// TokenBytes is the entropy of invitation and link tokens.
const TokenBytes = 24

var (
	errNotPendingApproval = apperr.Validation("La invitación no está pendiente de aprobación")
	errInvitationExpired  = apperr.Gone("La invitación expiró")
	errLinkExpired        = apperr.Gone("El enlace de invitación expiró")
)

// Store is the transactional port behind invitations.
type Store interface {
	// Role returns a role of the organization's type or an apperr NotFound.
	Role(ctx context.Context, orgID, roleID uuid.UUID) (*models.OrganizationRole, error)
	// CreateInvitation inserts an open invitation. It fails with an apperr
	// Conflict when the e-mail already has an open invitation or a membership.
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	GetInvitation(ctx context.Context, orgID, id uuid.UUID) (*models.Invitation, error)
	GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error)
	ListInvitations(ctx context.Context, orgID uuid.UUID, status models.InvitationStatus, page utils.Page) ([]models.Invitation, int, error)
	// SetStatus moves the invitation from one of from to to. ok is false when it
	// was not in any of those states.
	SetStatus(ctx context.Context, orgID, id uuid.UUID, from []models.InvitationStatus, to models.InvitationStatus) (*models.Invitation, bool, error)
	// Accept marks a pending, unexpired invitation accepted and inserts the
	// membership of user in one transaction.
	Accept(ctx context.Context, invitationID uuid.UUID, user models.Profile, now time.Time) (*models.OrganizationMember, error)
	// Approve marks a pending_approval invitation accepted and inserts the
	// membership of its user in one transaction. It fails with
	// errNotPendingApproval when the invitation is in any other state.
	Approve(ctx context.Context, orgID, invitationID uuid.UUID) (*models.Invitation, *models.OrganizationMember, error)

	CreateLink(ctx context.Context, link *models.GeneralInviteLink) error
	GetLinkByToken(ctx context.Context, token string) (*models.GeneralInviteLink, error)
	ListLinks(ctx context.Context, orgID uuid.UUID) ([]models.GeneralInviteLink, error)
	DeleteLink(ctx context.Context, orgID, linkID uuid.UUID) error
}

// Enqueuer schedules notification jobs.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, jobType queue.JobType, payload queue.NotificationPayload) error
}

// Config holds invitation lifetimes.
type Config struct {
	TTL time.Duration
}

// Service implements the invitation workflows.
type Service struct {
	store    Store
	enqueuer Enqueuer
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates an invitation service. enqueuer may be nil.
func NewService(store Store, enqueuer Enqueuer, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	return &Service{store: store, enqueuer: enqueuer, cfg: cfg, logger: logger, now: time.Now}
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", apperr.Validation("Correo electrónico inválido")
	}
	return strings.ToLower(addr.Address), nil
}

// Invite sends an invitation to email for roleID.
func (s *Service) Invite(ctx context.Context, orgID, invitedBy uuid.UUID, email string, roleID uuid.UUID) (*models.Invitation, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	role, err := s.store.Role(ctx, orgID, roleID)
	if err != nil {
		return nil, err
	}
	token, err := utils.GenerateToken(TokenBytes)
	if err != nil {
		return nil, err
	}
	inv := &models.Invitation{
		OrganizationID: orgID,
		Email:          email,
		RoleID:         role.ID,
		RoleName:       role.Name,
		Status:         models.InvitationPending,
		Token:          token,
		ExpiresAt:      s.now().Add(s.cfg.TTL).UTC(),
		InvitedBy:      &invitedBy,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}
	s.logger.Info("invitation created",
		zap.String("organization_id", orgID.String()),
		zap.String("invitation_id", inv.ID.String()),
		zap.String("role", string(role.Name)),
	)
	return inv, nil
}

// List returns the organization's invitations, optionally filtered by status.
func (s *Service) List(ctx context.Context, orgID uuid.UUID, status models.InvitationStatus, page utils.Page) (utils.Paginated[models.Invitation], error) {
	if status != "" && !models.InvitationLifecycle.Has(status) {
		return utils.Paginated[models.Invitation]{}, apperr.Validation("Estado de invitación inválido")
	}
	items, total, err := s.store.ListInvitations(ctx, orgID, status, page)
	if err != nil {
		return utils.Paginated[models.Invitation]{}, err
	}
	return utils.NewPaginated(items, total, page), nil
}

// Cancel withdraws a pending invitation.
func (s *Service) Cancel(ctx context.Context, orgID, invitationID uuid.UUID) (*models.Invitation, error) {
	return s.transition(ctx, orgID, invitationID, models.InvitationCancelled,
		apperr.Validation("Solo se pueden cancelar invitaciones pendientes"))
}

// Reject declines a join request made through a link that requires approval.
func (s *Service) Reject(ctx context.Context, orgID, invitationID uuid.UUID) (*models.Invitation, error) {
	return s.transition(ctx, orgID, invitationID, models.InvitationRejected, errNotPendingApproval)
}

// transition moves an invitation to to from any state the lifecycle allows.
func (s *Service) transition(ctx context.Context, orgID, id uuid.UUID, to models.InvitationStatus, invalid error) (*models.Invitation, error) {
	inv, ok, err := s.store.SetStatus(ctx, orgID, id, models.InvitationLifecycle.Sources(to), to)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.store.GetInvitation(ctx, orgID, id); err != nil {
			return nil, err
		}
		return nil, invalid
	}
	return inv, nil
}

// Approve admits the user behind a pending_approval invitation.
func (s *Service) Approve(ctx context.Context, orgID, invitationID uuid.UUID) (*models.Invitation, error) {
	inv, member, err := s.store.Approve(ctx, orgID, invitationID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("invitation approved",
		zap.String("organization_id", orgID.String()),
		zap.String("invitation_id", inv.ID.String()),
		zap.String("user_id", member.UserID.String()),
	)
	s.notifyApproved(ctx, inv, member.UserID)
	return inv, nil
}

func (s *Service) notifyApproved(ctx context.Context, inv *models.Invitation, userID uuid.UUID) {
	if s.enqueuer == nil {
		return
	}
	payload := queue.NotificationPayload{
		UserIDs:        []uuid.UUID{userID},
		OrganizationID: inv.OrganizationID,
		Title:          "Solicitud aprobada",
		Body:           "Tu solicitud para unirte a la organización fue aprobada",
		Data:           map[string]string{"invitation_id": inv.ID.String(), "role": string(inv.RoleName)},
	}
	if err := s.enqueuer.EnqueueNotification(ctx, queue.JobTypeInvitationApproved, payload); err != nil {
		s.logger.Warn("enqueue invitation approved", zap.String("invitation_id", inv.ID.String()), zap.Error(err))
	}
}

// Preview returns the invitation behind token, with its organization name.
func (s *Service) Preview(ctx context.Context, token string) (*models.Invitation, error) {
	inv, err := s.store.GetInvitationByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	if inv.Status == models.InvitationPending && inv.IsExpired(s.now()) {
		return nil, errInvitationExpired
	}
	return inv, nil
}

// Accept joins the caller to the organization of the invitation behind token.
// The invitation must be pending, unexpired and addressed to email.
func (s *Service) Accept(ctx context.Context, token string, userID uuid.UUID, email string) (*models.OrganizationMember, error) {
	inv, err := s.store.GetInvitationByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case models.InvitationPending:
	case models.InvitationPendingApproval:
		return nil, apperr.Validation("La invitación está pendiente de aprobación")
	case models.InvitationAccepted:
		return nil, apperr.Conflict("La invitación ya fue aceptada")
	default:
		return nil, apperr.Gone("La invitación ya no está disponible")
	}
	now := s.now()
	if inv.IsExpired(now) {
		return nil, errInvitationExpired
	}
	if !strings.EqualFold(strings.TrimSpace(email), inv.Email) {
		return nil, apperr.Unauthorized("Esta invitación fue enviada a otro correo")
	}
	member, err := s.store.Accept(ctx, inv.ID, models.Profile{ID: userID, Email: inv.Email}, now)
	if err != nil {
		return nil, err
	}
	s.logger.Info("invitation accepted",
		zap.String("organization_id", inv.OrganizationID.String()),
		zap.String("invitation_id", inv.ID.String()),
		zap.String("user_id", userID.String()),
	)
	return member, nil
}

// LinkInput describes a new invite link.
type LinkInput struct {
	RoleID           uuid.UUID
	RequiresApproval bool
	ExpiresAt        *time.Time
}

// CreateLink issues a reusable join link for a role.
func (s *Service) CreateLink(ctx context.Context, orgID, createdBy uuid.UUID, in LinkInput) (*models.GeneralInviteLink, error) {
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return nil, apperr.Validation("La fecha de expiración debe ser futura")
	}
	role, err := s.store.Role(ctx, orgID, in.RoleID)
	if err != nil {
		return nil, err
	}
	token, err := utils.GenerateToken(TokenBytes)
	if err != nil {
		return nil, err
	}
	link := &models.GeneralInviteLink{
		OrganizationID:     orgID,
		OrganizationRoleID: role.ID,
		RoleName:           role.Name,
		RequiresApproval:   in.RequiresApproval,
		ExpiresAt:          in.ExpiresAt,
		Token:              token,
		CreatedBy:          createdBy,
	}
	if err := s.store.CreateLink(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// ListLinks returns the organization's invite links.
func (s *Service) ListLinks(ctx context.Context, orgID uuid.UUID) ([]models.GeneralInviteLink, error) {
	return s.store.ListLinks(ctx, orgID)
}

// DeleteLink removes an invite link. Invitations created from it are kept.
func (s *Service) DeleteLink(ctx context.Context, orgID, linkID uuid.UUID) error {
	return s.store.DeleteLink(ctx, orgID, linkID)
}

// Join consumes a link for the caller. The result is a pending invitation the
// caller can accept right away, or a pending_approval one an admin must decide.
func (s *Service) Join(ctx context.Context, token string, userID uuid.UUID, email string) (*models.Invitation, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	link, err := s.store.GetLinkByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	now := s.now()
	if link.IsExpired(now) {
		return nil, errLinkExpired
	}
	invToken, err := utils.GenerateToken(TokenBytes)
	if err != nil {
		return nil, err
	}
	status := models.InvitationPending
	if link.RequiresApproval {
		status = models.InvitationPendingApproval
	}
	expiresAt := now.Add(s.cfg.TTL).UTC()
	if link.ExpiresAt != nil && link.ExpiresAt.Before(expiresAt) && !link.RequiresApproval {
		expiresAt = link.ExpiresAt.UTC()
	}
	linkID := link.ID
	inv := &models.Invitation{
		OrganizationID:      link.OrganizationID,
		Email:               email,
		RoleID:              link.OrganizationRoleID,
		RoleName:            link.RoleName,
		Status:              status,
		Token:               invToken,
		ExpiresAt:           expiresAt,
		GeneralInviteLinkID: &linkID,
		UserID:              &userID,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}
	s.logger.Info("invite link used",
		zap.String("organization_id", link.OrganizationID.String()),
		zap.String("link_id", link.ID.String()),
		zap.String("status", string(status)),
	)
	if status == models.InvitationPendingApproval {
		inv.Token = ""
	}
	return inv, nil
}

// IsNotPendingApproval reports whether err is the error returned for deciding
// an invitation that is no longer waiting for approval.
func IsNotPendingApproval(err error) bool {
	return errors.Is(err, errNotPendingApproval)
}
