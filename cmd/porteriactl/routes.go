package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/porteria/backend/internal/access"
	"github.com/porteria/backend/internal/models"
)

func newRoutesCmd() *cobra.Command {
	var (
		orgType string
		role    string
		file    string
	)
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the route table of an organization type",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := loadTable(file)
			if err != nil {
				return err
			}
			t := models.OrganizationType(orgType)
			items, ok := table.Types[t]
			if !ok {
				return fmt.Errorf("unknown organization type %q", orgType)
			}
			resolver := access.NewResolver(table)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tLABEL\tROLES\tPERMISSION")
			for _, item := range items {
				if role != "" && !resolver.HasRouteAccess(item.Path, models.RoleName(role), t) {
					continue
				}
				roles := make([]string, 0, len(item.AllowedRoles))
				for _, r := range item.AllowedRoles {
					roles = append(roles, string(r))
				}
				perm := item.Permission
				if perm == "" {
					perm = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.Path, item.Label, strings.Join(roles, ","), perm)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&orgType, "type", string(models.OrganizationTypeResidential), "organization type")
	cmd.Flags().StringVar(&role, "role", "", "only routes this role reaches by role fallback")
	cmd.Flags().StringVar(&file, "file", "", "route table YAML (defaults to the embedded table)")
	return cmd
}

func loadTable(file string) (*access.RouteTable, error) {
	if file == "" {
		return access.DefaultRouteTable()
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return access.LoadRouteTable(data)
}
