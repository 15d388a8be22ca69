package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AshkanYarmoradi/go-huddle/adapters"
	"github.com/AshkanYarmoradi/go-huddle/cli/config"
	"github.com/AshkanYarmoradi/go-huddle/cli/styles"
)

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the event store schema",
		Long: `Create the events and snapshots tables of the configured store.

Migrations are idempotent; running them twice is safe. The memory
driver keeps no schema.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if err := a.validate(); err != nil {
				return err
			}

			if a.cfg.Database.Driver == config.DriverMemory {
				fmt.Fprintln(out, styles.FormatInfo("Memory driver doesn't require migrations"))
				return nil
			}

			adapter, err := a.openAdapter(cmd.Context())
			if err != nil {
				return err
			}
			defer adapter.Close()

			m, ok := adapter.(adapters.Migrator)
			if !ok {
				return fmt.Errorf("driver %s does not support migrations", a.cfg.Database.Driver)
			}
			if err := m.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			a.logger.Info("schema migrated", zap.String("driver", a.cfg.Database.Driver))
			fmt.Fprintln(out, styles.FormatSuccess("Event store schema is up to date ("+a.cfg.Database.Driver+")"))
			return nil
		},
	}
}
