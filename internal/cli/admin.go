package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/crmdesk/server/internal/cli/output"
	"github.com/crmdesk/server/internal/database"
	"github.com/crmdesk/server/internal/models"
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/pkg/utils"
	"github.com/spf13/cobra"
)

func newSeedAdminCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-admin",
		Short: "Create or promote the default admin when no admin exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seeded, err := database.SeedAdmin(app.DB, app.Config.Admin)
			if err != nil {
				return fmt.Errorf("seeding admin: %w", err)
			}
			if app.jsonOutput {
				return output.JSON(app.Out, map[string]interface{}{
					"seeded": seeded,
					"email":  models.NormalizeEmail(app.Config.Admin.Email),
				})
			}
			if seeded {
				fmt.Fprintf(app.Out, "Admin %s is ready.\n", models.NormalizeEmail(app.Config.Admin.Email))
			} else {
				fmt.Fprintln(app.Out, "An admin already exists; nothing to do.")
			}
			return nil
		},
	}
}

func newUsersCommand(app *App) *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect user accounts",
	}

	var (
		search string
		limit  int
	)
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				limit = 1
			}
			users, total, err := services.NewUserService(app.DB).List(cmd.Context(), services.ListOptions{
				Search: search,
				Sort:   "email ASC",
				Page:   utils.PaginationParams{Page: 1, Limit: limit},
			})
			if err != nil {
				return err
			}
			if app.jsonOutput {
				return output.JSON(app.Out, map[string]interface{}{
					"users": users,
					"total": total,
				})
			}
			output.UserTable(app.Out, users, app.Now())
			if total > int64(len(users)) {
				fmt.Fprintf(app.Out, "\n%d of %d users shown.\n", len(users), total)
			}
			return nil
		},
	}
	ls.Flags().StringVar(&search, "search", "", "Filter by email or name")
	ls.Flags().IntVar(&limit, "limit", 100, "Maximum number of users to show")

	usersCmd.AddCommand(ls)
	return usersCmd
}

var orphanKinds = []string{"products", "clients", "documents"}

func newAssignOrphansCommand(app *App) *cobra.Command {
	var (
		to   string
		kind string
	)
	cmd := &cobra.Command{
		Use:   "assign-orphans",
		Short: "Give every record without an owner to one user",
		Long: `Give every product, client or document without an owner to one user.

  crmctl assign-orphans --to sales@example.com
  crmctl assign-orphans --to sales@example.com --type clients`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := orphanKinds
			if kind != "all" {
				if !contains(orphanKinds, kind) {
					return fmt.Errorf("unknown type %q (want %s or all)", kind, strings.Join(orphanKinds, ", "))
				}
				kinds = []string{kind}
			}

			ctx := cmd.Context()
			admin, err := app.actingAdmin(ctx)
			if err != nil {
				return err
			}
			target, err := services.NewUserService(app.DB).FindByEmail(ctx, to)
			if err != nil {
				return fmt.Errorf("looking up %s: %w", to, err)
			}

			assigned, err := assignOrphans(ctx, app, admin, target, kinds)
			if err != nil {
				return err
			}
			if app.jsonOutput {
				return output.JSON(app.Out, assigned)
			}
			for _, k := range kinds {
				fmt.Fprintf(app.Out, "Assigned %d %s to %s\n", assigned[k], k, target.Email)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Email of the new owner")
	cmd.Flags().StringVar(&kind, "type", "all", "Record type: products, clients, documents or all")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func assignOrphans(ctx context.Context, app *App, admin, target *models.User, kinds []string) (map[string]int64, error) {
	products := services.NewProductService(app.DB)
	clients := services.NewClientService(app.DB, products)
	documents := services.NewDocumentService(app.DB, clients, nil)

	assigned := make(map[string]int64, len(kinds))
	for _, k := range kinds {
		var (
			n   int64
			err error
		)
		switch k {
		case "products":
			n, err = products.Guard.AssignOrphans(ctx, admin, target.ID)
		case "clients":
			n, err = clients.Guard.AssignOrphans(ctx, admin, target.ID)
		case "documents":
			n, err = documents.Guard.AssignOrphans(ctx, admin, target.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("assigning %s: %w", k, err)
		}
		assigned[k] = n
	}
	return assigned, nil
}

func newStatsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show record counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db := app.DB.WithContext(cmd.Context())

			var s output.Stats
			var orphans [3]int64
			steps := []error{
				db.Model(&models.User{}).Count(&s.Users).Error,
				db.Model(&models.Product{}).Count(&s.Products).Error,
				db.Model(&models.Client{}).Count(&s.Clients).Error,
				db.Model(&models.Document{}).Count(&s.Documents).Error,
				db.Model(&models.Document{}).Select("COALESCE(SUM(size), 0)").Scan(&s.DocumentBytes).Error,
				db.Model(&models.Product{}).Where("user_id IS NULL").Count(&orphans[0]).Error,
				db.Model(&models.Client{}).Where("user_id IS NULL").Count(&orphans[1]).Error,
				db.Model(&models.Document{}).Where("user_id IS NULL").Count(&orphans[2]).Error,
			}
			for _, err := range steps {
				if err != nil {
					return fmt.Errorf("counting records: %w", err)
				}
			}
			s.Orphans = orphans[0] + orphans[1] + orphans[2]

			if app.jsonOutput {
				return output.JSON(app.Out, s)
			}
			output.StatsTable(app.Out, s)
			return nil
		},
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
