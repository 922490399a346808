// Package organizations manages buildings, their members and member roles.
package organizations

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/porteria/backend/internal/access"
	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
	"github.com/porteria/backend/pkg/utils"
)

var (
	errNameTaken = apperr.Conflict("Ya existe una organización con ese nombre")
	errLastAdmin = apperr.Validation("La organización debe conservar al menos un administrador")
)

// Store persists organizations and memberships. RemoveMember and ChangeRole
// run checkLastAdmin under a lock on the organization's admin rows.
type Store interface {
	access.MembershipStore
	// Create inserts the organization and the creator's admin membership in one
	// transaction. A taken name is errNameTaken.
	Create(ctx context.Context, name string, orgType models.OrganizationType, creator models.Profile) (*models.Organization, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.OrganizationSummary, error)
	ListMembers(ctx context.Context, orgID uuid.UUID, page utils.Page) ([]models.MemberDetail, int, error)
	ListRoles(ctx context.Context, orgID uuid.UUID) ([]models.OrganizationRole, error)
	RemoveMember(ctx context.Context, orgID, memberID uuid.UUID) error
	ChangeRole(ctx context.Context, orgID, memberID, roleID uuid.UUID) (*models.MemberDetail, error)
}

// checkLastAdmin rejects a change that leaves the organization without admins.
// current is the member's role, next the role it moves to (empty on removal)
// and admins the number of admin members before the change.
func checkLastAdmin(current, next models.RoleName, admins int) error {
	if current == models.RoleAdmin && next != models.RoleAdmin && admins <= 1 {
		return errLastAdmin
	}
	return nil
}

// View is an organization as seen by one of its members.
type View struct {
	Organization models.Organization     `json:"organization"`
	Role         models.OrganizationRole `json:"role"`
	Permissions  []string                `json:"permissions"`
	Menu         []access.MenuItem       `json:"menu"`
}

// Service implements organization management.
type Service struct {
	store    Store
	resolver *access.Resolver
	logger   *zap.Logger
}

// NewService creates an organizations service.
func NewService(store Store, resolver *access.Resolver, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, resolver: resolver, logger: logger}
}

// Create registers a residential organization with creator as its admin.
func (s *Service) Create(ctx context.Context, creator models.Profile, name string) (*models.Organization, error) {
	name = strings.Join(strings.Fields(name), " ")
	if n := utf8.RuneCountInString(name); n < 2 || n > 120 {
		return nil, apperr.Validation("El nombre debe tener entre 2 y 120 caracteres")
	}
	org, err := s.store.Create(ctx, name, models.OrganizationTypeResidential, creator)
	if err != nil {
		return nil, err
	}
	s.logger.Info("organization created",
		zap.String("organization_id", org.ID.String()),
		zap.String("created_by", creator.ID.String()),
	)
	return org, nil
}

// List returns the caller's organizations with their role.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]models.OrganizationSummary, error) {
	return s.store.ListForUser(ctx, userID)
}

// Get describes the organization for a member, including the menu the member may use.
func (s *Service) Get(m *models.Membership) View {
	perms := m.Permissions
	if perms == nil {
		perms = []string{}
	}
	menu := s.resolver.Menu(m.Organization.OrganizationType, m.Role.Name, m.Permissions)
	if menu == nil {
		menu = []access.MenuItem{}
	}
	return View{Organization: m.Organization, Role: m.Role, Permissions: perms, Menu: menu}
}

// Members lists the organization's members.
func (s *Service) Members(ctx context.Context, orgID uuid.UUID, page utils.Page) (utils.Paginated[models.MemberDetail], error) {
	items, total, err := s.store.ListMembers(ctx, orgID, page)
	if err != nil {
		return utils.Paginated[models.MemberDetail]{}, err
	}
	return utils.NewPaginated(items, total, page), nil
}

// Roles lists the roles of the organization's type.
func (s *Service) Roles(ctx context.Context, orgID uuid.UUID) ([]models.OrganizationRole, error) {
	return s.store.ListRoles(ctx, orgID)
}

// RemoveMember deletes a membership.
func (s *Service) RemoveMember(ctx context.Context, orgID, actorID, memberID uuid.UUID) error {
	if err := s.store.RemoveMember(ctx, orgID, memberID); err != nil {
		return err
	}
	s.logger.Info("member removed",
		zap.String("organization_id", orgID.String()),
		zap.String("member_id", memberID.String()),
		zap.String("by", actorID.String()),
	)
	return nil
}

// ChangeRole assigns another role of the organization's type to a member.
func (s *Service) ChangeRole(ctx context.Context, orgID, actorID, memberID, roleID uuid.UUID) (*models.MemberDetail, error) {
	member, err := s.store.ChangeRole(ctx, orgID, memberID, roleID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("member role changed",
		zap.String("organization_id", orgID.String()),
		zap.String("member_id", memberID.String()),
		zap.String("role", string(member.Role)),
		zap.String("by", actorID.String()),
	)
	return member, nil
}
