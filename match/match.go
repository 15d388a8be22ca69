// Package match implements the match registration aggregate: planning,
// cadre and waiting-bench placement with guest seats, cancellation and results.
package match

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AshkanYarmoradi/go-huddle"
)

// AggregateType is the type tag of match aggregates.
const AggregateType = "Match"

// Match is the event-sourced match aggregate.
//
// A registered player lives in exactly one of three lists: the cadre,
// the waiting bench or the deregistered list. The cadre never holds more
// than PlayerCount.MaxPlayer players.
type Match struct {
	huddle.AggregateBase

	planned      bool
	groupID      string
	start        time.Time
	isCanceled   bool
	playground   *Playground
	playerCount  PlayerCount
	cadre        []RegisteredPlayer
	waitingBench []RegisteredPlayer
	deregistered []RegisteredPlayer
	result       []Participant

	now   func() time.Time
	newID func() string
}

// Option configures a Match.
type Option func(*Match)

// WithClock sets the time source used for start-time checks and registration times.
func WithClock(now func() time.Time) Option {
	return func(m *Match) {
		m.now = now
	}
}

// WithIDGenerator sets the generator for guest identities.
func WithIDGenerator(newID func() string) Option {
	return func(m *Match) {
		m.newID = newID
	}
}

// New creates an empty match with the given ID.
func New(id string, opts ...Option) *Match {
	m := &Match{
		AggregateBase: huddle.NewAggregateBase(id, AggregateType),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Factory returns an AggregateFactory for the repository.
func Factory(opts ...Option) huddle.AggregateFactory {
	return func(id string) huddle.Aggregate {
		return New(id, opts...)
	}
}

func (m *Match) clock() time.Time {
	return m.now().UTC()
}

func (m *Match) raise(event interface{}) error {
	return huddle.Apply(m, event)
}

// PlanMatch raises the first event of the match.
func (m *Match) PlanMatch(groupID string, start time.Time, playground *Playground, pc PlayerCount) error {
	if m.planned {
		return ErrMatchAlreadyPlanned
	}
	if groupID == "" {
		return huddle.NewValidationError(AggregateType, "groupId", "is required")
	}
	if err := pc.Validate(); err != nil {
		return err
	}
	if now := m.clock(); !now.Before(start) {
		return &StartTimeError{Operation: "plan match", Start: start, Now: now}
	}

	var pg *Playground
	if playground != nil {
		p := *playground
		pg = &p
	}
	return m.raise(MatchPlannedEvent{
		MatchID:     m.AggregateID(),
		GroupID:     groupID,
		Start:       start.UTC(),
		Playground:  pg,
		PlayerCount: pc,
	})
}

// AddRegistration registers, deregisters or cancels userID with the
// given number of guest seats. Repeating the current status and guest count
// is a no-op.
func (m *Match) AddRegistration(userID string, requested PlayerStatus, guests int) error {
	if !m.planned {
		return ErrMatchNotPlanned
	}
	if m.isCanceled {
		return ErrMatchCanceled
	}
	now := m.clock()
	if !now.Before(m.start) {
		return &StartTimeError{Operation: "registration", Start: m.start, Now: now}
	}
	if userID == "" {
		return huddle.NewValidationError(AggregateType, "userId", "is required")
	}
	if !requested.Valid() {
		return newValidationError(ErrInvalidStatus, "status", fmt.Sprintf("unknown status %q", requested))
	}
	if guests < 0 || guests > m.playerCount.MaxGuests() {
		return newValidationError(ErrGuestBounds, "guests",
			fmt.Sprintf("must be between 0 and %d, got %d", m.playerCount.MaxGuests(), guests))
	}

	existing, ok := m.mainPlayer(userID)
	if !ok {
		switch requested {
		case StatusRegistered:
			main := MainPlayer{UserID: userID, Guests: guests, RegisteredAt: now, Status: StatusRegistered}
			if err := m.place(main, guests, nil); err != nil {
				return err
			}
		case StatusDeregistered:
			main := MainPlayer{UserID: userID, RegisteredAt: now, Status: StatusDeregistered}
			if err := m.raise(PlayerDeregisteredEvent{MatchID: m.AggregateID(), Player: ToRegistration(main)}); err != nil {
				return err
			}
		default:
			return nil
		}
		return m.refill()
	}

	next := existing.Status.Transition(requested)
	if next == existing.Status {
		if guests == existing.Guests || !existing.Status.Active() {
			return nil
		}
		if err := m.updateJustGuests(existing, guests); err != nil {
			return err
		}
		return m.refill()
	}

	switch next {
	case StatusDeregistered, StatusCancelled:
		if err := m.withdraw(existing, next); err != nil {
			return err
		}
	case StatusRegistered, StatusAdded:
		main := existing
		main.Status = next
		main.Guests = guests
		if existing.Status == StatusDeregistered {
			main.RegisteredAt = now
		}
		if err := m.place(main, guests, m.guestsIn(m.deregistered, userID)); err != nil {
			return err
		}
	}
	return m.refill()
}

// place seats a main player and its guests. Seats go to the cadre while it
// has capacity and to the waiting bench otherwise. When the cadre is full but
// holds guests, the most recently registered guest yields its seat to the
// main player. Guests listed in reuse are re-seated before new guest
// identities are generated.
func (m *Match) place(main MainPlayer, guests int, reuse []GuestPlayer) error {
	capacity := m.playerCount.MaxPlayer - len(m.cadre)
	if capacity <= 0 {
		if g, ok := m.latestCadreGuest(); ok {
			if err := m.toBench(g); err != nil {
				return err
			}
			capacity = 1
		}
	}
	inCadre := min(1+guests, max(capacity, 0))

	seat := func(p RegisteredPlayer, i int) error {
		if i < inCadre {
			return m.toCadre(p)
		}
		return m.toBench(p)
	}

	if err := seat(main, 0); err != nil {
		return err
	}
	for i := 1; i <= guests; i++ {
		g := m.nextGuest(main, &reuse)
		if err := seat(g, i); err != nil {
			return err
		}
	}
	return nil
}

// updateJustGuests changes the number of guest seats held by an active main
// player without touching the main registration.
func (m *Match) updateJustGuests(main MainPlayer, guests int) error {
	bench := m.guestsIn(m.waitingBench, main.UserID)
	cadre := m.guestsIn(m.cadre, main.UserID)
	current := len(bench) + len(cadre)

	if current > guests {
		excess := current - guests
		// Most recent first: bench guests, then cadre guests.
		var victims []GuestPlayer
		for i := len(bench) - 1; i >= 0 && len(victims) < excess; i-- {
			victims = append(victims, bench[i])
		}
		for i := len(cadre) - 1; i >= 0 && len(victims) < excess; i-- {
			victims = append(victims, cadre[i])
		}
		for _, g := range victims {
			if err := m.raise(PlayerDeregisteredEvent{MatchID: m.AggregateID(), Player: ToRegistration(withStatus(g, StatusDeregistered))}); err != nil {
				return err
			}
		}
		return nil
	}

	reuse := m.guestsIn(m.deregistered, main.UserID)
	for range guests - current {
		g := m.nextGuest(main, &reuse)
		g.RegisteredAt = m.clock()
		var err error
		if len(m.cadre) < m.playerCount.MaxPlayer {
			err = m.toCadre(g)
		} else {
			err = m.toBench(g)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// withdraw moves a main player and all of its seated guests to the
// deregistered list with the given status.
func (m *Match) withdraw(main MainPlayer, status PlayerStatus) error {
	if err := m.raise(PlayerDeregisteredEvent{MatchID: m.AggregateID(), Player: ToRegistration(withStatus(main, status))}); err != nil {
		return err
	}
	guests := append(m.guestsIn(m.cadre, main.UserID), m.guestsIn(m.waitingBench, main.UserID)...)
	for _, g := range guests {
		if err := m.raise(PlayerDeregisteredEvent{MatchID: m.AggregateID(), Player: ToRegistration(withStatus(g, status))}); err != nil {
			return err
		}
	}
	return nil
}

// refill promotes waiting players into free cadre seats: main players before
// guests, earliest registration first.
func (m *Match) refill() error {
	for len(m.cadre) < m.playerCount.MaxPlayer && len(m.waitingBench) > 0 {
		next, ok := m.earliestOnBench(false)
		if !ok {
			next, _ = m.earliestOnBench(true)
		}
		if err := m.toCadre(next); err != nil {
			return err
		}
	}
	return nil
}

func (m *Match) earliestOnBench(guest bool) (RegisteredPlayer, bool) {
	var found RegisteredPlayer
	for _, p := range m.waitingBench {
		if IsGuest(p) != guest {
			continue
		}
		if found == nil || p.Since().Before(found.Since()) {
			found = p
		}
	}
	return found, found != nil
}

// latestCadreGuest returns the cadre guest with the latest registration time.
// Ties go to the first one in cadre order.
func (m *Match) latestCadreGuest() (GuestPlayer, bool) {
	var (
		found GuestPlayer
		ok    bool
	)
	for _, p := range m.cadre {
		g, isGuest := p.(GuestPlayer)
		if !isGuest {
			continue
		}
		if !ok || g.RegisteredAt.After(found.RegisteredAt) {
			found, ok = g, true
		}
	}
	return found, ok
}

func (m *Match) nextGuest(main MainPlayer, reuse *[]GuestPlayer) GuestPlayer {
	if len(*reuse) > 0 {
		g := (*reuse)[0]
		*reuse = (*reuse)[1:]
		g.Status = main.Status
		g.RegisteredAt = main.RegisteredAt
		return g
	}
	return GuestPlayer{
		GuestID:      m.newID(),
		GuestOf:      main.UserID,
		RegisteredAt: main.RegisteredAt,
		Status:       main.Status,
	}
}

func (m *Match) toCadre(p RegisteredPlayer) error {
	return m.raise(PlayerAddedToCadreEvent{MatchID: m.AggregateID(), Player: ToRegistration(p)})
}

func (m *Match) toBench(p RegisteredPlayer) error {
	return m.raise(PlayerPlacedOnWaitingBenchEvent{MatchID: m.AggregateID(), Player: ToRegistration(p)})
}

// CancelMatch cancels a match that has not started yet. Canceling twice is a no-op.
func (m *Match) CancelMatch() error {
	if !m.planned {
		return ErrMatchNotPlanned
	}
	if m.isCanceled {
		return nil
	}
	if now := m.clock(); !now.Before(m.start) {
		return &StartTimeError{Operation: "cancel match", Start: m.start, Now: now}
	}
	return m.raise(MatchCanceledEvent{MatchID: m.AggregateID()})
}

// ChangePlayground replaces the playground.
func (m *Match) ChangePlayground(pg Playground) error {
	if !m.planned {
		return ErrMatchNotPlanned
	}
	return m.raise(PlaygroundChangedEvent{MatchID: m.AggregateID(), Playground: pg})
}

// EnterResult records the outcome of a played match.
func (m *Match) EnterResult(participants []Participant) error {
	if !m.planned {
		return ErrMatchNotPlanned
	}
	if m.isCanceled {
		return ErrMatchCanceled
	}
	if now := m.clock(); !m.start.Before(now) {
		return &StartTimeError{Operation: "enter result", Start: m.start, Now: now}
	}
	if err := ValidateResult(participants); err != nil {
		return err
	}
	return m.raise(MatchResultEnteredEvent{
		MatchID:      m.AggregateID(),
		Participants: append([]Participant(nil), participants...),
	})
}

// ApplyEvent implements huddle.Aggregate.
func (m *Match) ApplyEvent(event interface{}) error {
	switch e := event.(type) {
	case MatchPlannedEvent:
		m.planned = true
		m.groupID = e.GroupID
		m.start = e.Start.UTC()
		m.playground = e.Playground
		m.playerCount = e.PlayerCount
	case PlayerAddedToCadreEvent:
		m.move(e.Player, &m.cadre)
	case PlayerPlacedOnWaitingBenchEvent:
		m.move(e.Player, &m.waitingBench)
	case PlayerDeregisteredEvent:
		m.move(e.Player, &m.deregistered)
	case MatchCanceledEvent:
		m.isCanceled = true
	case PlaygroundChangedEvent:
		pg := e.Playground
		m.playground = &pg
	case MatchResultEnteredEvent:
		m.result = append([]Participant(nil), e.Participants...)
	default:
		return huddle.NewUnknownEventTypeError(AggregateType, fmt.Sprintf("%T", event))
	}
	return nil
}

// move removes the player from whichever list holds it, appends it to dst
// and recounts the owning main player's seated guests.
func (m *Match) move(reg PlayerRegistration, dst *[]RegisteredPlayer) {
	p := reg.Player()
	id := p.PlayerID()
	m.cadre = removePlayer(m.cadre, id)
	m.waitingBench = removePlayer(m.waitingBench, id)
	m.deregistered = removePlayer(m.deregistered, id)
	*dst = append(*dst, p)

	owner := guestOf(p)
	if owner == "" {
		owner = id
	}
	m.recountGuests(owner)
}

func (m *Match) recountGuests(userID string) {
	n := len(m.guestsIn(m.cadre, userID)) + len(m.guestsIn(m.waitingBench, userID))
	for _, list := range [][]RegisteredPlayer{m.cadre, m.waitingBench, m.deregistered} {
		for i, p := range list {
			if mp, ok := p.(MainPlayer); ok && mp.UserID == userID {
				mp.Guests = n
				list[i] = mp
				return
			}
		}
	}
}

func removePlayer(list []RegisteredPlayer, id string) []RegisteredPlayer {
	for i, p := range list {
		if p.PlayerID() == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func (m *Match) mainPlayer(userID string) (MainPlayer, bool) {
	for _, list := range [][]RegisteredPlayer{m.cadre, m.waitingBench, m.deregistered} {
		for _, p := range list {
			if mp, ok := p.(MainPlayer); ok && mp.UserID == userID {
				return mp, true
			}
		}
	}
	return MainPlayer{}, false
}

func (m *Match) guestsIn(list []RegisteredPlayer, userID string) []GuestPlayer {
	var out []GuestPlayer
	for _, p := range list {
		if g, ok := p.(GuestPlayer); ok && g.GuestOf == userID {
			out = append(out, g)
		}
	}
	return out
}

// Planned reports whether the match has been planned.
func (m *Match) Planned() bool { return m.planned }

// GroupID returns the owning group.
func (m *Match) GroupID() string { return m.groupID }

// Start returns the match start time.
func (m *Match) Start() time.Time { return m.start }

// IsCanceled reports whether the match was canceled.
func (m *Match) IsCanceled() bool { return m.isCanceled }

// Playground returns the playground, if any.
func (m *Match) Playground() (Playground, bool) {
	if m.playground == nil {
		return Playground{}, false
	}
	return *m.playground, true
}

// PlayerCount returns the player bounds.
func (m *Match) PlayerCount() PlayerCount { return m.playerCount }

// Cadre returns a copy of the cadre in placement order.
func (m *Match) Cadre() []RegisteredPlayer { return clonePlayers(m.cadre) }

// WaitingBench returns a copy of the waiting bench in placement order.
func (m *Match) WaitingBench() []RegisteredPlayer { return clonePlayers(m.waitingBench) }

// Deregistered returns a copy of the deregistered list.
func (m *Match) Deregistered() []RegisteredPlayer { return clonePlayers(m.deregistered) }

// Result returns the entered result, or nil.
func (m *Match) Result() []Participant {
	if m.result == nil {
		return nil
	}
	return append([]Participant(nil), m.result...)
}

// RegistrationOf returns the main registration of userID.
func (m *Match) RegistrationOf(userID string) (MainPlayer, bool) {
	return m.mainPlayer(userID)
}

// GuestsOf returns the guests of userID holding a cadre or bench seat.
func (m *Match) GuestsOf(userID string) []GuestPlayer {
	return append(m.guestsIn(m.cadre, userID), m.guestsIn(m.waitingBench, userID)...)
}

func clonePlayers(list []RegisteredPlayer) []RegisteredPlayer {
	if list == nil {
		return nil
	}
	return append([]RegisteredPlayer(nil), list...)
}
