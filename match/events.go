package match

import (
	"time"

	"github.com/AshkanYarmoradi/go-huddle"
)

// Stable event tags. Tags are versioned and never reused.
const (
	TagMatchPlanned        = "MATCH_PLANNED_V1"
	TagPlayerAddedToCadre  = "PLAYER_ADDED_TO_CADRE_V1"
	TagPlayerDeregistered  = "PLAYER_DEREGISTERED_V1"
	TagPlayerPlacedOnBench = "PLAYER_PLACED_ON_WAITING_BENCH_V1"
	TagMatchCanceled       = "MATCH_CANCELED_V1"
	TagPlaygroundChanged   = "PLAYGROUND_CHANGED_V1"
	TagMatchResultEntered  = "MATCH_RESULT_ENTERED_V1"
)

// MatchPlannedEvent is the first event of every match.
type MatchPlannedEvent struct {
	MatchID     string      `json:"matchId"`
	GroupID     string      `json:"groupId"`
	Start       time.Time   `json:"start"`
	Playground  *Playground `json:"playground,omitempty"`
	PlayerCount PlayerCount `json:"playerCount"`
}

// PlayerAddedToCadreEvent moves a player into the cadre.
type PlayerAddedToCadreEvent struct {
	MatchID string             `json:"matchId"`
	Player  PlayerRegistration `json:"player"`
}

// PlayerDeregisteredEvent moves a player to the deregistered list.
type PlayerDeregisteredEvent struct {
	MatchID string             `json:"matchId"`
	Player  PlayerRegistration `json:"player"`
}

// PlayerPlacedOnWaitingBenchEvent moves a player onto the waiting bench.
type PlayerPlacedOnWaitingBenchEvent struct {
	MatchID string             `json:"matchId"`
	Player  PlayerRegistration `json:"player"`
}

// MatchCanceledEvent flags the match as canceled.
type MatchCanceledEvent struct {
	MatchID string `json:"matchId"`
}

// PlaygroundChangedEvent replaces the playground.
type PlaygroundChangedEvent struct {
	MatchID    string     `json:"matchId"`
	Playground Playground `json:"playground"`
}

// MatchResultEnteredEvent records the result of a played match.
type MatchResultEnteredEvent struct {
	MatchID      string        `json:"matchId"`
	Participants []Participant `json:"participants"`
}

// NewSerializer returns the serializer for match events and snapshots.
func NewSerializer(opts ...huddle.EventSerializerOption) *huddle.EventSerializer {
	return huddle.NewEventSerializer(AggregateType, opts...).
		Register(TagMatchPlanned, MatchPlannedEvent{}).
		Register(TagPlayerAddedToCadre, PlayerAddedToCadreEvent{}).
		Register(TagPlayerDeregistered, PlayerDeregisteredEvent{}).
		Register(TagPlayerPlacedOnBench, PlayerPlacedOnWaitingBenchEvent{}).
		Register(TagMatchCanceled, MatchCanceledEvent{}).
		Register(TagPlaygroundChanged, PlaygroundChangedEvent{}).
		Register(TagMatchResultEntered, MatchResultEnteredEvent{})
}
