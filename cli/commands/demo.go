package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-huddle"
	"github.com/AshkanYarmoradi/go-huddle/adapters"
	"github.com/AshkanYarmoradi/go-huddle/adapters/memory"
	"github.com/AshkanYarmoradi/go-huddle/cli/styles"
	"github.com/AshkanYarmoradi/go-huddle/match"
	"github.com/AshkanYarmoradi/go-huddle/middleware/tracing"
)

const (
	demoCoach = "coach"
	demoGroup = "sunday-league"
)

func newDemoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the match scenarios against an in-memory store",
		Long: `Plan matches, register players and enter results against an in-memory
event store, printing every event as it is published.

Events also reach the subscribers configured under publisher.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDemo(cmd.Context(), &lockedWriter{w: cmd.OutOrStdout()})
		},
	}
}

func (a *app) runDemo(ctx context.Context, out io.Writer) error {
	if err := a.validate(); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	if err := a.metrics.Register(registry); err != nil {
		return err
	}

	subs, closeSubs, err := a.subscribers(ctx)
	if err != nil {
		return err
	}
	subs = append([]huddle.Subscriber{a.instrumentSubscriber(newEventPrinter(out))}, subs...)

	publisher, err := a.newPublisher(subs)
	if err != nil {
		_ = closeSubs()
		return err
	}

	clock := &demoClock{t: time.Now().UTC().Truncate(time.Minute)}
	matchOpts := []match.Option{match.WithClock(clock.Now)}

	adapter := a.instrument(memory.NewAdapter())
	repo := a.newRepository(adapter, publisher, matchOpts...)

	d := &demo{
		out:     out,
		bus:     a.newCommandBus(),
		repo:    repo,
		adapter: adapter,
		clock:   clock,
	}
	match.NewHandlers(repo, match.CoachAuthorizer(match.CoachCheckerFunc(
		func(_ context.Context, userID, _ string) (bool, error) {
			return userID == demoCoach, nil
		})), matchOpts...).Register(d.bus)

	fmt.Fprintln(out, styles.Banner())
	fmt.Fprintln(out)

	runErr := d.run(ctx)

	// Drains queued deliveries before the summary.
	closeErr := errors.Join(publisher.Close(), closeSubs(), adapter.Close())
	if runErr != nil {
		return runErr
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.Divider(60))
	if err := printMetricsSummary(out, registry); err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.FormatSuccess("All scenarios completed"))
	return nil
}

func (a *app) newCommandBus() *huddle.CommandBus {
	middleware := []huddle.Middleware{
		huddle.CorrelationIDMiddleware(nil),
		huddle.RecoveryMiddleware(),
		huddle.LoggingMiddleware(a.huddleLogger()),
		a.metrics.CommandMiddleware(),
	}
	if a.tracer != nil {
		middleware = append(middleware, tracing.CommandMiddleware(a.tracer))
	}
	middleware = append(middleware, huddle.ValidationMiddleware())
	return huddle.NewCommandBus(huddle.WithMiddleware(middleware...))
}

// demoClock advances one second on every read so registrations are ordered.
type demoClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *demoClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *demoClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type demo struct {
	out     io.Writer
	bus     *huddle.CommandBus
	repo    *huddle.Repository
	adapter adapters.Adapter
	clock   *demoClock
}

type scenario struct {
	title string
	run   func(ctx context.Context) error
}

func (d *demo) run(ctx context.Context) error {
	var matchID string
	scenarios := []scenario{
		{"Six players fill the cadre", func(ctx context.Context) error {
			id, err := d.plan(ctx, 6)
			if err != nil {
				return err
			}
			matchID = id
			if err := d.register(ctx, id, 0, "anna", "ben", "carla", "dario", "emil", "fatma"); err != nil {
				return err
			}
			return d.expect(ctx, id, 6, 0)
		}},
		{"A seventh player waits on the bench", func(ctx context.Context) error {
			if err := d.register(ctx, matchID, 0, "gus"); err != nil {
				return err
			}
			return d.expect(ctx, matchID, 6, 1)
		}},
		{"Deregistration promotes the waiting player", func(ctx context.Context) error {
			before, err := d.load(ctx, matchID)
			if err != nil {
				return err
			}
			res, err := d.dispatch(ctx, "carla", match.RegisterPlayerCommand{MatchID: matchID, UserID: "carla", Status: match.StatusDeregistered})
			if err != nil {
				return err
			}
			if raised := res.Version - before.Version(); raised != 2 {
				return fmt.Errorf("deregistration raised %d events, want 2", raised)
			}
			return d.expect(ctx, matchID, 6, 0)
		}},
		{"Guests split between cadre and bench", func(ctx context.Context) error {
			id, err := d.plan(ctx, 6)
			if err != nil {
				return err
			}
			if err := d.register(ctx, id, 0, "anna", "ben", "carla", "dario"); err != nil {
				return err
			}
			if err := d.register(ctx, id, 2, "emil"); err != nil {
				return err
			}
			return d.expect(ctx, id, 6, 1)
		}},
		{"A draw mixed with a win is rejected", func(ctx context.Context) error {
			id, err := d.plan(ctx, 6)
			if err != nil {
				return err
			}
			d.clock.advance(72 * time.Hour)
			_, err = d.dispatch(ctx, demoCoach, match.EnterResultCommand{MatchID: id, Participants: []match.Participant{
				{UserID: "anna", Team: "team1", Result: match.ResultWin},
				{UserID: "ben", Team: "team2", Result: match.ResultDraw},
			}})
			if !errors.Is(err, match.ErrInvalidResult) {
				return fmt.Errorf("expected the result to be rejected, got %v", err)
			}
			fmt.Fprintln(d.out, "    "+styles.FormatInfo("rejected: "+err.Error()))
			return nil
		}},
		{"Loads replay only the events after the snapshot", func(ctx context.Context) error {
			freq := int(d.repo.SnapshotFrequency())
			id, err := d.plan(ctx, min(max(freq+1, 4), 1000))
			if err != nil {
				return err
			}
			for i := range freq {
				if err := d.register(ctx, id, 0, fmt.Sprintf("player-%02d", i+1)); err != nil {
					return err
				}
			}

			snap, err := d.adapter.Snapshots().Load(ctx, id)
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("no snapshot written for %s", id)
			}
			replayed, err := adapters.Collect(d.adapter.Events().LoadSince(ctx, id, snap.Version))
			if err != nil {
				return err
			}
			m, err := d.load(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(d.out, "    %s snapshot at version %d, version %d loads by replaying %d event(s)\n",
				styles.IconSnapshot, snap.Version, m.Version(), len(replayed))
			return nil
		}},
	}

	for i, s := range scenarios {
		fmt.Fprintln(d.out, styles.FormatStep(i+1, len(scenarios), styles.Subtitle.Render(s.title)))
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("scenario %d (%s): %w", i+1, s.title, err)
		}
		fmt.Fprintln(d.out)
	}
	return nil
}

func (d *demo) dispatch(ctx context.Context, userID string, cmd huddle.Command) (huddle.CommandResult, error) {
	return d.bus.Dispatch(huddle.WithIdentity(ctx, huddle.Identity{UserID: userID}), cmd)
}

func (d *demo) plan(ctx context.Context, maxPlayer int) (string, error) {
	res, err := d.dispatch(ctx, demoCoach, match.PlanMatchCommand{
		GroupID:     demoGroup,
		Start:       d.clock.Now().Add(48 * time.Hour),
		Playground:  &match.Playground{Name: "Riverside"},
		PlayerCount: match.PlayerCount{MinPlayer: 4, MaxPlayer: maxPlayer},
	})
	return res.AggregateID, err
}

// register signs players up themselves, each with the same number of guests.
func (d *demo) register(ctx context.Context, matchID string, guests int, users ...string) error {
	for _, u := range users {
		cmd := match.RegisterPlayerCommand{MatchID: matchID, UserID: u, Status: match.StatusRegistered, Guests: guests}
		if _, err := d.dispatch(ctx, u, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (d *demo) load(ctx context.Context, id string) (*match.Match, error) {
	return huddle.LoadAs[*match.Match](ctx, d.repo, match.AggregateType, id)
}

func (d *demo) expect(ctx context.Context, id string, cadre, bench int) error {
	m, err := d.load(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "    cadre:  %s\n", strings.Join(playerNames(m.Cadre()), ", "))
	fmt.Fprintf(d.out, "    bench:  %s\n", strings.Join(playerNames(m.WaitingBench()), ", "))
	if len(m.Cadre()) != cadre || len(m.WaitingBench()) != bench {
		return fmt.Errorf("got cadre %d and bench %d, want %d and %d", len(m.Cadre()), len(m.WaitingBench()), cadre, bench)
	}
	return nil
}

func playerNames(players []match.RegisteredPlayer) []string {
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, match.Visit(p,
			func(m match.MainPlayer) string { return m.UserID },
			func(g match.GuestPlayer) string { return "guest of " + g.GuestOf },
		))
	}
	if len(names) == 0 {
		return []string{"-"}
	}
	return names
}

// newEventPrinter returns a subscriber that prints every published event.
func newEventPrinter(out io.Writer) huddle.Subscriber {
	return huddle.NewSubscriberFunc("console", func(_ context.Context, events []huddle.Event) error {
		for _, e := range events {
			fmt.Fprintf(out, "    %s v%-3d %-32s %s\n", styles.IconArrow, e.Version, e.Type, describeEvent(e.Data))
		}
		return nil
	})
}

func describeEvent(data interface{}) string {
	player := func(r match.PlayerRegistration) string {
		if r.GuestID != "" {
			return "guest of " + r.UserID
		}
		return r.UserID
	}

	switch e := data.(type) {
	case match.MatchPlannedEvent:
		return fmt.Sprintf("%s, %d-%d players", e.Start.Format(time.DateTime), e.PlayerCount.MinPlayer, e.PlayerCount.MaxPlayer)
	case match.PlayerAddedToCadreEvent:
		return player(e.Player)
	case match.PlayerPlacedOnWaitingBenchEvent:
		return player(e.Player)
	case match.PlayerDeregisteredEvent:
		return player(e.Player)
	case match.PlaygroundChangedEvent:
		return e.Playground.Name
	case match.MatchResultEnteredEvent:
		return fmt.Sprintf("%d participants", len(e.Participants))
	default:
		return ""
	}
}

var summaryMetrics = []struct{ name, label string }{
	{"huddle_commands_total", "Commands"},
	{"huddle_events_appended_total", "Events appended"},
	{"huddle_events_loaded_total", "Events replayed"},
	{"huddle_snapshots_written_total", "Snapshots written"},
	{"huddle_subscriber_deliveries_total", "Deliveries"},
}

func printMetricsSummary(out io.Writer, registry prometheus.Gatherer) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}

	totals := make(map[string]float64, len(families))
	for _, f := range families {
		for _, m := range f.GetMetric() {
			totals[f.GetName()] += m.GetCounter().GetValue()
		}
	}

	for _, s := range summaryMetrics {
		fmt.Fprintln(out, styles.FormatKeyValue(s.label, fmt.Sprintf("%.0f", totals[s.name])))
	}
	return nil
}

// lockedWriter serializes writes from async publisher workers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
