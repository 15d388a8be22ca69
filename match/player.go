package match

import (
	"fmt"
	"time"
)

// PlayerStatus is the registration state of a player in a match.
type PlayerStatus string

// Player statuses.
const (
	StatusRegistered   PlayerStatus = "REGISTERED"
	StatusDeregistered PlayerStatus = "DEREGISTERED"
	StatusCancelled    PlayerStatus = "CANCELLED"
	StatusAdded        PlayerStatus = "ADDED"
)

// transitions[current][requested] is the resulting status.
var transitions = map[PlayerStatus]map[PlayerStatus]PlayerStatus{
	StatusRegistered: {
		StatusRegistered:   StatusRegistered,
		StatusDeregistered: StatusDeregistered,
		StatusCancelled:    StatusCancelled,
		StatusAdded:        StatusRegistered,
	},
	StatusDeregistered: {
		StatusRegistered:   StatusRegistered,
		StatusDeregistered: StatusDeregistered,
		StatusCancelled:    StatusDeregistered,
		StatusAdded:        StatusDeregistered,
	},
	StatusCancelled: {
		StatusRegistered:   StatusCancelled,
		StatusDeregistered: StatusCancelled,
		StatusCancelled:    StatusCancelled,
		StatusAdded:        StatusAdded,
	},
	StatusAdded: {
		StatusRegistered:   StatusAdded,
		StatusDeregistered: StatusDeregistered,
		StatusCancelled:    StatusCancelled,
		StatusAdded:        StatusAdded,
	},
}

// Valid reports whether s is one of the four statuses.
func (s PlayerStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Transition returns the status that results from requesting requested while in s.
// Unknown statuses yield s unchanged.
func (s PlayerStatus) Transition(requested PlayerStatus) PlayerStatus {
	row, ok := transitions[s]
	if !ok {
		return s
	}
	next, ok := row[requested]
	if !ok {
		return s
	}
	return next
}

// Active reports whether a player in this status holds or waits for a seat.
func (s PlayerStatus) Active() bool {
	return s == StatusRegistered || s == StatusAdded
}

// ParsePlayerStatus parses a status name.
func ParsePlayerStatus(s string) (PlayerStatus, error) {
	st := PlayerStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("match: unknown player status %q", s)
	}
	return st, nil
}

// RegisteredPlayer is a player registration in a match: either a MainPlayer
// or a GuestPlayer. The set of variants is closed; use Visit to handle both.
type RegisteredPlayer interface {
	// PlayerID is the user ID of a main player or the guest ID of a guest.
	PlayerID() string

	// Since returns when the registration was made.
	Since() time.Time

	// State returns the registration status.
	State() PlayerStatus

	isRegisteredPlayer()
}

// MainPlayer is a group member registered for a match.
type MainPlayer struct {
	UserID       string
	Guests       int
	RegisteredAt time.Time
	Status       PlayerStatus
}

// PlayerID implements RegisteredPlayer.
func (p MainPlayer) PlayerID() string { return p.UserID }

// Since implements RegisteredPlayer.
func (p MainPlayer) Since() time.Time { return p.RegisteredAt }

// State implements RegisteredPlayer.
func (p MainPlayer) State() PlayerStatus { return p.Status }

func (MainPlayer) isRegisteredPlayer() {}

// GuestPlayer is an extra seat requested by a main player.
type GuestPlayer struct {
	GuestID      string
	GuestOf      string
	RegisteredAt time.Time
	Status       PlayerStatus
}

// PlayerID implements RegisteredPlayer.
func (p GuestPlayer) PlayerID() string { return p.GuestID }

// Since implements RegisteredPlayer.
func (p GuestPlayer) Since() time.Time { return p.RegisteredAt }

// State implements RegisteredPlayer.
func (p GuestPlayer) State() PlayerStatus { return p.Status }

func (GuestPlayer) isRegisteredPlayer() {}

// Visit calls onMain or onGuest depending on the variant of p.
func Visit[T any](p RegisteredPlayer, onMain func(MainPlayer) T, onGuest func(GuestPlayer) T) T {
	switch v := p.(type) {
	case MainPlayer:
		return onMain(v)
	case GuestPlayer:
		return onGuest(v)
	default:
		panic(fmt.Sprintf("match: unexpected player variant %T", p))
	}
}

// IsGuest reports whether p is a GuestPlayer.
func IsGuest(p RegisteredPlayer) bool {
	return Visit(p,
		func(MainPlayer) bool { return false },
		func(GuestPlayer) bool { return true })
}

// guestOf returns the owning user of a guest, or "" for a main player.
func guestOf(p RegisteredPlayer) string {
	return Visit(p,
		func(MainPlayer) string { return "" },
		func(g GuestPlayer) string { return g.GuestOf })
}

// withStatus returns a copy of p with its status replaced.
func withStatus(p RegisteredPlayer, s PlayerStatus) RegisteredPlayer {
	return Visit(p,
		func(m MainPlayer) RegisteredPlayer { m.Status = s; return m },
		func(g GuestPlayer) RegisteredPlayer { g.Status = s; return g })
}

// PlayerRegistration is the serialized form of a RegisteredPlayer.
// A non-empty GuestID marks a guest.
type PlayerRegistration struct {
	UserID       string       `json:"userId"`
	GuestID      string       `json:"guestId,omitempty"`
	Guests       int          `json:"guests,omitempty"`
	RegisteredAt time.Time    `json:"registeredAt"`
	Status       PlayerStatus `json:"status"`
}

// ToRegistration converts a player to its serialized form.
func ToRegistration(p RegisteredPlayer) PlayerRegistration {
	return Visit(p,
		func(m MainPlayer) PlayerRegistration {
			return PlayerRegistration{UserID: m.UserID, Guests: m.Guests, RegisteredAt: m.RegisteredAt, Status: m.Status}
		},
		func(g GuestPlayer) PlayerRegistration {
			return PlayerRegistration{UserID: g.GuestOf, GuestID: g.GuestID, RegisteredAt: g.RegisteredAt, Status: g.Status}
		})
}

// Player converts the serialized form back to a RegisteredPlayer. The
// registration time is always in UTC, whatever zone the codec decoded it in.
func (r PlayerRegistration) Player() RegisteredPlayer {
	at := r.RegisteredAt.UTC()
	if r.GuestID != "" {
		return GuestPlayer{GuestID: r.GuestID, GuestOf: r.UserID, RegisteredAt: at, Status: r.Status}
	}
	return MainPlayer{UserID: r.UserID, Guests: r.Guests, RegisteredAt: at, Status: r.Status}
}

// PlayerCount bounds the size of a match.
type PlayerCount struct {
	MinPlayer int `json:"minPlayer"`
	MaxPlayer int `json:"maxPlayer"`
}

// Limits of PlayerCount fields.
const (
	MinPlayerLimit = 4
	MaxPlayerLimit = 1000
)

// NewPlayerCount validates and returns a PlayerCount.
func NewPlayerCount(minPlayer, maxPlayer int) (PlayerCount, error) {
	pc := PlayerCount{MinPlayer: minPlayer, MaxPlayer: maxPlayer}
	return pc, pc.Validate()
}

// Validate checks both bounds lie in [4, 1000] and min does not exceed max.
func (pc PlayerCount) Validate() error {
	if pc.MinPlayer < MinPlayerLimit || pc.MinPlayer > MaxPlayerLimit {
		return newValidationError(ErrInvalidPlayerCount, "minPlayer",
			fmt.Sprintf("must be between %d and %d, got %d", MinPlayerLimit, MaxPlayerLimit, pc.MinPlayer))
	}
	if pc.MaxPlayer < MinPlayerLimit || pc.MaxPlayer > MaxPlayerLimit {
		return newValidationError(ErrInvalidPlayerCount, "maxPlayer",
			fmt.Sprintf("must be between %d and %d, got %d", MinPlayerLimit, MaxPlayerLimit, pc.MaxPlayer))
	}
	if pc.MinPlayer > pc.MaxPlayer {
		return newValidationError(ErrInvalidPlayerCount, "minPlayer",
			fmt.Sprintf("%d exceeds maxPlayer %d", pc.MinPlayer, pc.MaxPlayer))
	}
	return nil
}

// MaxGuests is the largest guest count one registration may request.
func (pc PlayerCount) MaxGuests() int {
	return pc.MaxPlayer / 2
}

// Playground is where a match takes place.
type Playground struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}
