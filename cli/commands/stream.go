package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-huddle/adapters"
	"github.com/AshkanYarmoradi/go-huddle/cli/styles"
)

func newStreamCommand(a *app) *cobra.Command {
	var (
		from     int64
		limit    int
		showData bool
	)

	cmd := &cobra.Command{
		Use:   "stream <aggregate-id>",
		Short: "Print the stored events of an aggregate",
		Long: `Print the events stored for an aggregate in version order.

Examples:
  huddle stream 7f1c...            # All events
  huddle stream 7f1c... --from 25  # Events after version 25
  huddle stream 7f1c... --data     # Include payloads`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.validate(); err != nil {
				return err
			}
			adapter, err := a.openAdapter(cmd.Context())
			if err != nil {
				return err
			}
			defer adapter.Close()

			return printStream(cmd.Context(), cmd.OutOrStdout(), adapter, args[0], from, limit, showData)
		},
	}

	cmd.Flags().Int64VarP(&from, "from", "f", 0, "Only show events after this version")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum events to show (0 = all)")
	cmd.Flags().BoolVar(&showData, "data", false, "Print event payloads")

	return cmd
}

func printStream(ctx context.Context, out io.Writer, adapter adapters.Adapter, id string, from int64, limit int, showData bool) error {
	var records []adapters.EventRecord
	for rec, err := range adapter.Events().LoadSince(ctx, id, from) {
		if err != nil {
			return fmt.Errorf("failed to load events: %w", err)
		}
		records = append(records, rec)
		if limit > 0 && len(records) == limit {
			break
		}
	}

	if len(records) == 0 {
		fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("No events in stream '%s'", id)))
		return nil
	}

	fmt.Fprintln(out, styles.Title.Render(fmt.Sprintf("%s Stream: %s", styles.IconStream, id)))
	fmt.Fprintln(out)

	table := styles.NewTable("Version", "Type", "Time", "ID")
	for _, r := range records {
		table.AddRow(strconv.FormatInt(r.Version, 10), r.EventType, r.Timestamp.UTC().Format(time.RFC3339), r.ID)
	}
	fmt.Fprint(out, table.Render())

	if showData {
		for _, r := range records {
			fmt.Fprintln(out)
			fmt.Fprintln(out, styles.Subtitle.Render(fmt.Sprintf("#%d %s", r.Version, r.EventType)))
			fmt.Fprintln(out, formatPayload(r.Data))
		}
	}
	return nil
}

// formatPayload indents JSON payloads and summarizes binary ones.
func formatPayload(data []byte) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "  ", "  "); err == nil {
		return "  " + pretty.String()
	}
	return fmt.Sprintf("  <%d bytes binary>", len(data))
}
