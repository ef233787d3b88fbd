package cli

import (
	"fmt"

	"github.com/crmdesk/server/internal/cli/output"
	"github.com/crmdesk/server/internal/services"
	"github.com/crmdesk/server/internal/storage"
	"github.com/spf13/cobra"
)

func newAuditCommand(app *App) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Manage the audit trail",
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Ship audit entries recorded since the last export to blob storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.New(cmd.Context(), app.Config.Storage)
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}

			audit := services.NewAuditService(app.DB, store, 1)
			defer audit.Close()

			n, err := audit.Export(cmd.Context(), app.Now())
			if err != nil {
				return err
			}
			if app.jsonOutput {
				return output.JSON(app.Out, map[string]int{"exported": n})
			}
			fmt.Fprintf(app.Out, "Exported %d audit entries\n", n)
			return nil
		},
	}

	auditCmd.AddCommand(export)
	return auditCmd
}
