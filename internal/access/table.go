// Package access decides which members of an organization may reach which routes.
package access

import (
	_ "embed"
	"fmt"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/porteria/backend/internal/models"
)

//go:embed routes.yaml
var defaultRoutes []byte

// MenuItem is one declared menu entry of an organization type.
type MenuItem struct {
	Label        string            `json:"label"`
	Path         string            `json:"path"`
	Icon         string            `json:"icon,omitempty"`
	AllowedRoles []models.RoleName `json:"allowed_roles"`
	Permission   string            `json:"permission,omitempty"`
}

// RouteTable is the immutable menu declaration for every organization type.
type RouteTable struct {
	Version int                                    `json:"version"`
	Types   map[models.OrganizationType][]MenuItem `json:"types"`
}

// LoadRouteTable parses and validates a YAML route table.
func LoadRouteTable(data []byte) (*RouteTable, error) {
	var t RouteTable
	if err := yaml.UnmarshalStrict(data, &t); err != nil {
		return nil, fmt.Errorf("parse route table: %w", err)
	}
	if t.Version <= 0 {
		return nil, fmt.Errorf("route table: version must be positive")
	}
	if len(t.Types) == 0 {
		return nil, fmt.Errorf("route table: no organization types declared")
	}
	for orgType, items := range t.Types {
		for i := range items {
			if strings.TrimSpace(items[i].Path) == "" {
				return nil, fmt.Errorf("route table: %s entry %d has no path", orgType, i)
			}
			if len(items[i].AllowedRoles) == 0 {
				return nil, fmt.Errorf("route table: %s %s has no allowed roles", orgType, items[i].Path)
			}
			items[i].Path = NormalizePath(items[i].Path)
		}
	}
	return &t, nil
}

// DefaultRouteTable returns the embedded route table.
func DefaultRouteTable() (*RouteTable, error) {
	return LoadRouteTable(defaultRoutes)
}

// NormalizePath gives paths a leading slash and no trailing slash.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}
