package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-huddle/adapters"
	"github.com/AshkanYarmoradi/go-huddle/cli/styles"
)

func newSnapshotCommand(a *app) *cobra.Command {
	var showData bool

	cmd := &cobra.Command{
		Use:   "snapshot <aggregate-id>",
		Short: "Print the latest snapshot of an aggregate",
		Long: `Print the latest snapshot of an aggregate and how many events a load
replays on top of it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			id := args[0]
			if err := a.validate(); err != nil {
				return err
			}
			adapter, err := a.openAdapter(cmd.Context())
			if err != nil {
				return err
			}
			defer adapter.Close()

			return printSnapshot(cmd.Context(), out, adapter, id, showData)
		},
	}

	cmd.Flags().BoolVar(&showData, "data", false, "Print the snapshot payload")

	return cmd
}

func printSnapshot(ctx context.Context, out io.Writer, adapter adapters.Adapter, id string, showData bool) error {
	snap, err := adapter.Snapshots().Load(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap == nil {
		fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("No snapshot for '%s'", id)))
		return nil
	}

	replay := 0
	for _, err := range adapter.Events().LoadSince(ctx, id, snap.Version) {
		if err != nil {
			return fmt.Errorf("failed to load events: %w", err)
		}
		replay++
	}

	fmt.Fprintln(out, styles.Title.Render(fmt.Sprintf("%s Snapshot: %s", styles.IconSnapshot, id)))
	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.FormatKeyValue("Aggregate type", snap.AggregateType))
	fmt.Fprintln(out, styles.FormatKeyValue("Version", strconv.FormatInt(snap.Version, 10)))
	fmt.Fprintln(out, styles.FormatKeyValue("Taken at", snap.Timestamp.UTC().Format(time.RFC3339)))
	fmt.Fprintln(out, styles.FormatKeyValue("Size", fmt.Sprintf("%d bytes", len(snap.Data))))
	fmt.Fprintln(out, styles.FormatKeyValue("Events to replay", strconv.Itoa(replay)))

	if showData {
		fmt.Fprintln(out)
		fmt.Fprintln(out, formatPayload(snap.Data))
	}
	return nil
}
