package cli

import (
	"fmt"

	"github.com/crmdesk/server/internal/cli/output"
	"github.com/spf13/cobra"
)

// Version is the crmctl version, injected at build time:
//
//	go build -ldflags "-X github.com/crmdesk/server/internal/cli.Version=1.2.3"
var Version = "dev"

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show crmctl version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"offline": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.jsonOutput {
				return output.JSON(app.Out, map[string]string{"version": Version})
			}
			fmt.Fprintf(app.Out, "crmctl %s\n", Version)
			return nil
		},
	}
}
