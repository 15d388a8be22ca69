// Package commands provides the CLI command implementations for huddle.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/AshkanYarmoradi/go-huddle"
	"github.com/AshkanYarmoradi/go-huddle/cli/config"
	"github.com/AshkanYarmoradi/go-huddle/cli/styles"
	"github.com/AshkanYarmoradi/go-huddle/middleware/metrics"
	"github.com/AshkanYarmoradi/go-huddle/middleware/tracing"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// app is the state shared by all subcommands of one invocation.
type app struct {
	configPath string
	trace      bool
	noColor    bool

	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   *tracing.Tracer
	provider *sdktrace.TracerProvider
}

// NewRootCommand creates the root command for the huddle CLI
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "huddle",
		Short: "Event-sourced match organisation",
		Long: styles.Banner() + `

Huddle stores matches as event streams and rebuilds them from snapshots
and the events that follow.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("huddle init") + `              Write a default huddle.yaml
  ` + styles.Code.Render("huddle migrate") + `           Create the event store schema
  ` + styles.Code.Render("huddle demo") + `              Run the match scenarios in memory
  ` + styles.Code.Render("huddle stream <id>") + `       Print the events of a match`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.noColor {
				styles.DisableColors()
			}
			return a.setup(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.shutdown(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to huddle.yaml (default: search upwards from the working directory)")
	rootCmd.PersistentFlags().BoolVar(&a.trace, "trace", false, "Print OpenTelemetry spans to stderr")
	rootCmd.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newMigrateCommand(a))
	rootCmd.AddCommand(newStreamCommand(a))
	rootCmd.AddCommand(newSnapshotCommand(a))
	rootCmd.AddCommand(newDemoCommand(a))
	rootCmd.AddCommand(newDiagnoseCommand(a))
	rootCmd.AddCommand(newVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
		return err
	}

	return nil
}

func (a *app) setup(stderr io.Writer) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	a.cfg = cfg

	a.logger = cfg.Logging.NewLogger(stderr)
	a.metrics = metrics.New(metrics.WithMetricsServiceName(cfg.Project.Name))

	if a.trace || cfg.Tracing.Enabled {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		a.provider = sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		a.tracer = tracing.NewTracer(
			tracing.WithTracerProvider(a.provider),
			tracing.WithServiceName(cfg.Project.Name),
		)
	}
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		return config.LoadFile(a.configPath)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	_, cfg, err := config.FindConfig(cwd)
	if errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return cfg, err
}

func (a *app) shutdown(ctx context.Context) error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.provider != nil {
		return a.provider.Shutdown(ctx)
	}
	return nil
}

// huddleLogger adapts the zap logger for library components.
func (a *app) huddleLogger() huddle.Logger {
	return huddle.NewZapLogger(a.logger)
}

// validate fails when the loaded configuration has problems.
func (a *app) validate() error {
	if problems := a.cfg.Validate(); len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}
