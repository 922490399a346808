package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porteria/backend/internal/models"
)

const testRoutes = `
version: 1
types:
  residential:
    - label: Home
      path: /
      allowed_roles: [admin, resident, security]
    - label: Members
      path: /members/
      allowed_roles: [admin]
    - label: Visitors
      path: qr-codes
      allowed_roles: [resident]
    - label: Visitors (admin)
      path: /qr-codes
      allowed_roles: [admin]
    - label: Logs
      path: /access-logs
      allowed_roles: [admin, security]
      permission: access_logs:view
`

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	table, err := LoadRouteTable([]byte(testRoutes))
	require.NoError(t, err)
	return NewResolver(table)
}

func TestHasRouteAccess_MembersIsAdminOnly(t *testing.T) {
	r := newTestResolver(t)

	assert.False(t, r.HasRouteAccess("/members", models.RoleResident, models.OrganizationTypeResidential))
	assert.True(t, r.HasRouteAccess("/members", models.RoleAdmin, models.OrganizationTypeResidential))
}

func TestHasRouteAccess_UnionAcrossEntries(t *testing.T) {
	r := newTestResolver(t)
	all := []models.RoleName{models.RoleAdmin, models.RoleResident, models.RoleSecurity}

	for _, path := range []string{"/", "/members", "/qr-codes", "/access-logs"} {
		allowed := r.AllowedRoles(path, models.OrganizationTypeResidential)
		require.NotEmpty(t, allowed, path)
		for _, role := range all {
			want := false
			for _, a := range allowed {
				if a == role {
					want = true
				}
			}
			assert.Equal(t, want, r.HasRouteAccess(path, role, models.OrganizationTypeResidential), "%s %s", path, role)
		}
	}

	assert.Equal(t, []models.RoleName{models.RoleAdmin, models.RoleResident},
		r.AllowedRoles("/qr-codes", models.OrganizationTypeResidential))
}

func TestHasRouteAccess_DefaultDeny(t *testing.T) {
	r := newTestResolver(t)

	assert.Nil(t, r.AllowedRoles("/billing", models.OrganizationTypeResidential))
	assert.False(t, r.HasRouteAccess("/billing", models.RoleAdmin, models.OrganizationTypeResidential))
	assert.False(t, r.HasRouteAccess("/members", models.RoleAdmin, models.OrganizationType("commercial")))
}

func TestHasRouteAccess_NormalizesPaths(t *testing.T) {
	r := newTestResolver(t)

	assert.True(t, r.HasRouteAccess("members/", models.RoleAdmin, models.OrganizationTypeResidential))
	assert.True(t, r.HasRouteAccess("/qr-codes/", models.RoleResident, models.OrganizationTypeResidential))
}

func TestAllows_PermissionCodeIsAuthoritative(t *testing.T) {
	r := newTestResolver(t)
	res := models.OrganizationTypeResidential

	code, ok := r.PermissionFor("/access-logs", res)
	require.True(t, ok)
	assert.Equal(t, "access_logs:view", code)

	// Admin is in the role list but lacks the code.
	assert.False(t, r.Allows("/access-logs", res, models.RoleAdmin, nil))
	// Resident is not in the role list but holds the code.
	assert.True(t, r.Allows("/access-logs", res, models.RoleResident, []string{"access_logs:view"}))
	// No code declared: role fallback.
	assert.True(t, r.Allows("/members", res, models.RoleAdmin, nil))
	assert.False(t, r.Allows("/members", res, models.RoleResident, []string{"members:manage"}))
}

func TestMenu_OneEntryPerPathWithRoleLabel(t *testing.T) {
	r := newTestResolver(t)
	res := models.OrganizationTypeResidential

	resident := r.Menu(res, models.RoleResident, nil)
	require.Len(t, resident, 2)
	assert.Equal(t, "/", resident[0].Path)
	assert.Equal(t, "Visitors", resident[1].Label)

	admin := r.Menu(res, models.RoleAdmin, []string{"access_logs:view"})
	paths := make([]string, 0, len(admin))
	for _, item := range admin {
		paths = append(paths, item.Path)
	}
	assert.Equal(t, []string{"/", "/members", "/qr-codes", "/access-logs"}, paths)
	assert.Equal(t, "Visitors (admin)", admin[2].Label)
}

func TestLoadRouteTable_Rejects(t *testing.T) {
	cases := map[string]string{
		"no version":   "types:\n  residential:\n    - {label: a, path: /, allowed_roles: [admin]}\n",
		"no types":     "version: 1\n",
		"no path":      "version: 1\ntypes:\n  residential:\n    - {label: a, allowed_roles: [admin]}\n",
		"no roles":     "version: 1\ntypes:\n  residential:\n    - {label: a, path: /x}\n",
		"unknown key":  "version: 1\ntypes:\n  residential:\n    - {label: a, path: /x, allowed_roles: [admin], roles: [x]}\n",
		"invalid yaml": "version: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadRouteTable([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestDefaultRouteTable(t *testing.T) {
	table, err := DefaultRouteTable()
	require.NoError(t, err)
	r := NewResolver(table)
	res := models.OrganizationTypeResidential

	assert.False(t, r.HasRouteAccess("/members", models.RoleResident, res))
	assert.True(t, r.HasRouteAccess("/members", models.RoleAdmin, res))
	assert.True(t, r.HasRouteAccess("/qr-codes/validate", models.RoleSecurity, res))
	assert.False(t, r.HasRouteAccess("/qr-codes/validate", models.RoleResident, res))
	assert.ElementsMatch(t, []models.RoleName{models.RoleAdmin, models.RoleResident, models.RoleSecurity},
		r.AllowedRoles("/chat", res))
}
