// Package cli implements crmctl, the operator command line for the CRM
// database. It talks to the database directly rather than over HTTP.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/crmdesk/server/internal/config"
	"github.com/crmdesk/server/internal/database"
	"github.com/crmdesk/server/internal/models"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// App holds what every command needs. Fields left nil are filled in by the
// root command before any subcommand runs.
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Out    io.Writer
	Now    func() time.Time

	jsonOutput bool
}

// NewRootCommand builds the crmctl command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	if app.Out == nil {
		app.Out = os.Stdout
	}
	if app.Now == nil {
		app.Now = time.Now
	}

	root := &cobra.Command{
		Use:   "crmctl",
		Short: "CRM operator tool",
		Long: `crmctl manages a CRM database from the terminal.

Get started:
  crmctl seed-admin                        Make sure an admin exists
  crmctl legacy import data.json           Load a legacy JSON data file
  crmctl assign-orphans --to a@b.com       Hand ownerless records to a user
  crmctl stats                             Show record counts`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["offline"] == "true" {
				return nil
			}
			return app.open()
		},
	}
	root.SetOut(app.Out)
	root.PersistentFlags().BoolVar(&app.jsonOutput, "json", false, "Output as JSON")

	root.AddCommand(
		newVersionCommand(app),
		newSeedAdminCommand(app),
		newUsersCommand(app),
		newAssignOrphansCommand(app),
		newStatsCommand(app),
		newLegacyCommand(app),
		newAuditCommand(app),
	)
	return root
}

// Execute runs crmctl with the process arguments.
func Execute() error {
	if err := NewRootCommand(&App{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func (a *App) open() error {
	if a.Config == nil {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		a.Config = cfg
	}
	if a.DB != nil {
		return nil
	}

	db, err := database.Connect(a.Config.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	a.DB = db
	return nil
}

// actingAdmin returns the oldest admin account. Commands that go through the
// ownership rules run on its behalf.
func (a *App) actingAdmin(ctx context.Context) (*models.User, error) {
	var admin models.User
	err := a.DB.WithContext(ctx).
		Where("role = ?", models.UserRoleAdmin).
		Order("created_at ASC").
		First(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.New(`no admin account exists; run "crmctl seed-admin" first`)
	}
	if err != nil {
		return nil, err
	}
	return &admin, nil
}
