package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-huddle/cli/config"
	"github.com/AshkanYarmoradi/go-huddle/cli/styles"
)

var drivers = []string{config.DriverMemory, config.DriverPgx, config.DriverPostgres, config.DriverRedis}

func newInitCommand() *cobra.Command {
	var (
		name   string
		driver string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a default huddle.yaml",
		Long: `Write a huddle.yaml configuration file with default values.

Examples:
  huddle init                    # Initialize in current directory
  huddle init ./matches          # Initialize in another directory
  huddle init --driver=pgx       # Use PostgreSQL through pgx`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return err
			}

			if config.Exists(absDir) && !force {
				fmt.Fprintln(out, styles.FormatWarning(config.ConfigFileName+" already exists, use --force to overwrite"))
				return nil
			}

			if !slices.Contains(drivers, driver) {
				return fmt.Errorf("unknown driver %q (expected one of %v)", driver, drivers)
			}

			if err := os.MkdirAll(absDir, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

			cfg := config.DefaultConfig()
			if name == "" {
				name = filepath.Base(absDir)
			}
			cfg.Project.Name = name
			cfg.Database.Driver = driver
			if driver == config.DriverPgx || driver == config.DriverPostgres {
				cfg.Database.URL = "${" + config.EnvDatabaseURL + "}"
			}

			if err := cfg.Save(absDir); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Fprintln(out, styles.FormatSuccess("Created "+filepath.Join(absDir, config.ConfigFileName)))
			fmt.Fprintln(out)
			fmt.Fprintln(out, styles.Subtitle.Render("Next steps:"))
			if cfg.Database.URL != "" {
				fmt.Fprintf(out, "  %s export %s=postgres://...\n", styles.IconArrow, config.EnvDatabaseURL)
				fmt.Fprintf(out, "  %s huddle migrate\n", styles.IconArrow)
			}
			fmt.Fprintf(out, "  %s huddle demo\n", styles.IconArrow)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Project name (default: directory name)")
	cmd.Flags().StringVarP(&driver, "driver", "d", config.DriverMemory, "Storage driver: memory, pgx, postgres or redis")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")

	return cmd
}
