package access

import (
	"slices"
	"sync"

	"github.com/porteria/backend/internal/models"
)

// Resolver maps (route path, organization type) to the roles allowed there.
// Per-type lookups are built on first use and never change afterwards because
// the route table itself is immutable.
type Resolver struct {
	table *RouteTable

	mu       sync.Mutex
	resolved map[models.OrganizationType]*resolvedType
}

type resolvedType struct {
	roles       map[string]map[models.RoleName]struct{}
	permissions map[string]string
	items       []MenuItem
}

// NewResolver creates a resolver over table.
func NewResolver(table *RouteTable) *Resolver {
	return &Resolver{table: table, resolved: make(map[models.OrganizationType]*resolvedType)}
}

// Table returns the route table the resolver was built from.
func (r *Resolver) Table() *RouteTable { return r.table }

func (r *Resolver) lookup(orgType models.OrganizationType) *resolvedType {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.resolved[orgType]; ok {
		return rt
	}
	rt := &resolvedType{
		roles:       make(map[string]map[models.RoleName]struct{}),
		permissions: make(map[string]string),
	}
	for _, item := range r.table.Types[orgType] {
		set, ok := rt.roles[item.Path]
		if !ok {
			set = make(map[models.RoleName]struct{})
			rt.roles[item.Path] = set
		}
		for _, role := range item.AllowedRoles {
			set[role] = struct{}{}
		}
		// First declared code wins when entries disagree.
		if item.Permission != "" {
			if _, seen := rt.permissions[item.Path]; !seen {
				rt.permissions[item.Path] = item.Permission
			}
		}
		rt.items = append(rt.items, item)
	}
	r.resolved[orgType] = rt
	return rt
}

// AllowedRoles returns the union of roles declared for path, sorted. Nil when undeclared.
func (r *Resolver) AllowedRoles(path string, orgType models.OrganizationType) []models.RoleName {
	set, ok := r.lookup(orgType).roles[NormalizePath(path)]
	if !ok {
		return nil
	}
	out := make([]models.RoleName, 0, len(set))
	for role := range set {
		out = append(out, role)
	}
	slices.Sort(out)
	return out
}

// HasRouteAccess reports whether role may reach path. Undeclared paths are denied.
func (r *Resolver) HasRouteAccess(path string, role models.RoleName, orgType models.OrganizationType) bool {
	set, ok := r.lookup(orgType).roles[NormalizePath(path)]
	if !ok {
		return false
	}
	_, allowed := set[role]
	return allowed
}

// PermissionFor returns the permission code declared for path, if any.
func (r *Resolver) PermissionFor(path string, orgType models.OrganizationType) (string, bool) {
	code, ok := r.lookup(orgType).permissions[NormalizePath(path)]
	return code, ok
}

// Allows applies the access rule: a declared permission code is authoritative,
// otherwise the role must be in the path's merged role set.
func (r *Resolver) Allows(path string, orgType models.OrganizationType, role models.RoleName, permissions []string) bool {
	if code, ok := r.PermissionFor(path, orgType); ok {
		return slices.Contains(permissions, code)
	}
	return r.HasRouteAccess(path, role, orgType)
}

// Menu returns the menu entries reachable by a role holding permissions, one per path.
// When a path is declared several times the entry naming the role supplies the label.
func (r *Resolver) Menu(orgType models.OrganizationType, role models.RoleName, permissions []string) []MenuItem {
	rt := r.lookup(orgType)
	preferred := make(map[string]int)
	for i, item := range rt.items {
		cur, ok := preferred[item.Path]
		if !ok {
			preferred[item.Path] = i
			continue
		}
		if !slices.Contains(rt.items[cur].AllowedRoles, role) && slices.Contains(item.AllowedRoles, role) {
			preferred[item.Path] = i
		}
	}
	var out []MenuItem
	for i, item := range rt.items {
		if preferred[item.Path] != i {
			continue
		}
		if !r.Allows(item.Path, orgType, role, permissions) {
			continue
		}
		out = append(out, MenuItem{Label: item.Label, Path: item.Path, Icon: item.Icon, Permission: item.Permission})
	}
	return out
}
