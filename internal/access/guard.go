package access

import (
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
)

// MembershipStore loads a caller's membership in an organization. It returns an
// apperr NotFound error both when the organization does not exist and when the
// user is not a member of it.
type MembershipStore interface {
	GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error)
}

// ErrNotMember is returned when the caller holds no role in the organization.
var ErrNotMember = apperr.Unauthorized("No perteneces a esta organización")

// Reason explains a denied Decision.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNoRole            Reason = "no_role"
	ReasonMissingPermission Reason = "missing_permission"
	ReasonRoleNotAllowed    Reason = "role_not_allowed"
)

// Decision is the outcome of a route access check.
type Decision struct {
	HasAccess  bool
	Membership *models.Membership
	Reason     Reason
}

// Err returns the error a handler should surface for a denied decision, nil otherwise.
func (d Decision) Err() error {
	switch {
	case d.HasAccess:
		return nil
	case d.Reason == ReasonNoRole:
		return ErrNotMember
	default:
		return apperr.Unauthorized("No tienes permisos para acceder a esta sección")
	}
}

// Guard authorizes organization-scoped requests. Memberships are loaded on every
// call and are never cached across requests.
type Guard struct {
	store    MembershipStore
	resolver *Resolver
}

// NewGuard creates a guard.
func NewGuard(store MembershipStore, resolver *Resolver) *Guard {
	return &Guard{store: store, resolver: resolver}
}

// Resolver returns the resolver the guard checks routes with.
func (g *Guard) Resolver() *Resolver { return g.resolver }

func (g *Guard) membership(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error) {
	m, err := g.store.GetMembership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if m == nil || m.Role.Name == "" {
		return nil, nil
	}
	return m, nil
}

// CheckRouteAccess decides whether userID may reach routePath inside orgID. A
// declared permission code is authoritative; otherwise the role must be among the
// roles the route table allows for the organization's type. Non-members are denied.
// The returned error is only set when the membership could not be loaded.
func (g *Guard) CheckRouteAccess(ctx context.Context, userID, orgID uuid.UUID, routePath string) (Decision, error) {
	m, err := g.membership(ctx, orgID, userID)
	if err != nil {
		return Decision{}, err
	}
	if m == nil {
		return Decision{Reason: ReasonNoRole}, nil
	}
	orgType := m.Organization.OrganizationType
	if code, ok := g.resolver.PermissionFor(routePath, orgType); ok {
		if !m.HasPermission(code) {
			return Decision{Membership: m, Reason: ReasonMissingPermission}, nil
		}
		return Decision{HasAccess: true, Membership: m}, nil
	}
	if !g.resolver.HasRouteAccess(routePath, m.Role.Name, orgType) {
		return Decision{Membership: m, Reason: ReasonRoleNotAllowed}, nil
	}
	return Decision{HasAccess: true, Membership: m}, nil
}

// RequireRole loads the caller's membership and checks its role name against an
// explicit allow-list, bypassing the route table.
func (g *Guard) RequireRole(ctx context.Context, userID, orgID uuid.UUID, roles ...models.RoleName) (*models.Membership, error) {
	m, err := g.membership(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotMember
	}
	if !slices.Contains(roles, m.Role.Name) {
		return nil, apperr.Unauthorized("Tu rol no tiene acceso a esta acción")
	}
	return m, nil
}

// Membership loads the caller's membership without any route check. Non-members
// get an Unauthorized error.
func (g *Guard) Membership(ctx context.Context, userID, orgID uuid.UUID) (*models.Membership, error) {
	m, err := g.membership(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotMember
	}
	return m, nil
}
