package commands

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-huddle/adapters"
	"github.com/AshkanYarmoradi/go-huddle/cli/config"
	"github.com/AshkanYarmoradi/go-huddle/cli/styles"
)

func newDiagnoseCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Run diagnostic checks",
		Long: `Run diagnostic checks on your huddle setup.

This command verifies the configuration file, storage connectivity and
the subscribers events will be published to.`,
		Aliases: []string{"diag", "doctor"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDiagnose(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

// CheckStatus represents the status of a diagnostic check
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusWarning
	StatusError
)

// CheckResult represents the result of a diagnostic check
type CheckResult struct {
	Name           string
	Status         CheckStatus
	Message        string
	Recommendation string
}

func newCheckResult(name string, status CheckStatus, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message}
}

func (r CheckResult) withRecommendation(rec string) CheckResult {
	r.Recommendation = rec
	return r
}

func (a *app) runDiagnose(ctx context.Context, out io.Writer) error {
	fmt.Fprintln(out, styles.Banner())
	fmt.Fprintln(out)

	results := []CheckResult{
		newCheckResult("Go Version", StatusOK, runtime.Version()),
		a.checkConfiguration(),
		a.checkStorage(ctx),
		a.checkPublisher(),
	}

	failed := false
	for _, r := range results {
		var status string
		switch r.Status {
		case StatusOK:
			status = styles.SuccessStyle.Render("OK")
		case StatusWarning:
			status = styles.WarningStyle.Render("WARNING")
			failed = true
		default:
			status = styles.ErrorStyle.Render("FAILED")
			failed = true
		}
		fmt.Fprintf(out, "  %s %-20s %s\n", styles.IconDot, r.Name, status)
		if r.Message != "" {
			fmt.Fprintf(out, "    %s\n", styles.Muted.Render(r.Message))
		}
	}

	fmt.Fprintln(out)
	if !failed {
		fmt.Fprintln(out, styles.FormatSuccess("All checks passed"))
		return nil
	}

	fmt.Fprintln(out, styles.FormatWarning("Some checks failed or have warnings."))
	for _, r := range results {
		if r.Recommendation != "" {
			fmt.Fprintf(out, "  %s %s\n", styles.IconArrow, r.Recommendation)
		}
	}
	return nil
}

func (a *app) checkConfiguration() CheckResult {
	const name = "Configuration"
	if problems := a.cfg.Validate(); len(problems) > 0 {
		return newCheckResult(name, StatusError, strings.Join(problems, "; ")).
			withRecommendation("Fix " + config.ConfigFileName + " or run 'huddle init --force'")
	}
	return newCheckResult(name, StatusOK, "project "+a.cfg.Project.Name+", driver "+a.cfg.Database.Driver)
}

func (a *app) checkStorage(ctx context.Context) CheckResult {
	const name = "Storage"
	if len(a.cfg.Validate()) > 0 {
		return newCheckResult(name, StatusWarning, "skipped: configuration is invalid")
	}

	adapter, err := a.openAdapter(ctx)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Check database.url, redis.addr or the " + config.EnvDatabaseURL + " variable")
	}
	defer adapter.Close()

	if hc, ok := adapter.(adapters.HealthChecker); ok {
		if err := hc.Ping(ctx); err != nil {
			return newCheckResult(name, StatusError, err.Error())
		}
	}
	if a.cfg.Database.Driver == config.DriverMemory {
		return newCheckResult(name, StatusWarning, "memory driver keeps nothing between runs").
			withRecommendation("Use the pgx or redis driver to persist matches")
	}
	return newCheckResult(name, StatusOK, a.cfg.Database.Driver+" reachable")
}

func (a *app) checkPublisher() CheckResult {
	const name = "Publisher"
	pc := a.cfg.Publisher

	var enabled []string
	if len(pc.Kafka.Brokers) > 0 {
		enabled = append(enabled, "kafka")
	}
	if pc.NATS.URL != "" {
		enabled = append(enabled, "nats")
	}
	if pc.Webhook.URL != "" {
		enabled = append(enabled, "webhook")
	}
	if pc.SNS.TopicARN != "" {
		enabled = append(enabled, "sns")
	}

	if len(enabled) == 0 {
		return newCheckResult(name, StatusOK, pc.Mode+" mode, no external subscribers")
	}
	return newCheckResult(name, StatusOK, pc.Mode+" mode, subscribers: "+strings.Join(enabled, ", "))
}
