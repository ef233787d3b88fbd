package cli

import (
	"errors"
	"fmt"

	"github.com/crmdesk/server/internal/cli/output"
	"github.com/crmdesk/server/internal/datastore"
	"github.com/spf13/cobra"
)

func newLegacyCommand(app *App) *cobra.Command {
	legacyCmd := &cobra.Command{
		Use:   "legacy",
		Short: "Move data between the database and a legacy JSON data file",
	}
	legacyCmd.AddCommand(newLegacyImportCommand(app), newLegacyExportCommand(app))
	return legacyCmd
}

// dataFile picks the path argument, falling back to the configured file.
func dataFile(app *App, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if app.Config.Legacy.DataFile != "" {
		return app.Config.Legacy.DataFile, nil
	}
	return "", errors.New("no data file given and LEGACY_DATA_FILE is not set")
}

func newLegacyImportCommand(app *App) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Load a legacy data file into the database",
		Long: `Load a legacy data file into the database.

By default the file is merged into existing tables. With --replace, rows
missing from the file are deleted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := dataFile(app, args)
			if err != nil {
				return err
			}

			res := datastore.Read(path)
			if !res.OK() {
				return fmt.Errorf("reading %s: %s: %w", path, res.Status, res.Err)
			}

			summary, err := datastore.ToDatabase(cmd.Context(), app.DB, res.Document, datastore.LoadOptions{Replace: replace})
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			if app.jsonOutput {
				return output.JSON(app.Out, summary)
			}
			fmt.Fprintf(app.Out, "Loaded %s\n", path)
			output.LoadSummary(app.Out, summary)
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Delete rows that are absent from the file")
	return cmd
}

func newLegacyExportCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the database out as a legacy data file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := dataFile(app, args)
			if err != nil {
				return err
			}

			doc, err := datastore.FromDatabase(cmd.Context(), app.DB)
			if err != nil {
				return fmt.Errorf("reading database: %w", err)
			}
			if err := datastore.Write(path, doc); err != nil {
				return err
			}
			if app.jsonOutput {
				return output.JSON(app.Out, map[string]interface{}{
					"path":     path,
					"users":    len(doc.Users),
					"products": len(doc.Products),
					"clients":  len(doc.Clients),
				})
			}
			fmt.Fprintf(app.Out, "Wrote %s (%d users, %d products, %d clients)\n",
				path, len(doc.Users), len(doc.Products), len(doc.Clients))
			return nil
		},
	}
}
