package match

import (
	"fmt"
	"time"
)

// SnapshotSchema tags the snapshot payload layout.
const SnapshotSchema = "MATCH_SNAPSHOT_V1"

type snapshotState struct {
	Schema       string               `json:"schema"`
	Planned      bool                 `json:"planned"`
	GroupID      string               `json:"groupId"`
	Start        time.Time            `json:"start"`
	IsCanceled   bool                 `json:"isCanceled"`
	Playground   *Playground          `json:"playground,omitempty"`
	PlayerCount  PlayerCount          `json:"playerCount"`
	Cadre        []PlayerRegistration `json:"cadre,omitempty"`
	WaitingBench []PlayerRegistration `json:"waitingBench,omitempty"`
	Deregistered []PlayerRegistration `json:"deregistered,omitempty"`
	Result       []Participant        `json:"result,omitempty"`
}

// SnapshotState implements huddle.Snapshotter.
func (m *Match) SnapshotState() (interface{}, error) {
	return snapshotState{
		Schema:       SnapshotSchema,
		Planned:      m.planned,
		GroupID:      m.groupID,
		Start:        m.start,
		IsCanceled:   m.isCanceled,
		Playground:   m.playground,
		PlayerCount:  m.playerCount,
		Cadre:        toRegistrations(m.cadre),
		WaitingBench: toRegistrations(m.waitingBench),
		Deregistered: toRegistrations(m.deregistered),
		Result:       m.Result(),
	}, nil
}

// RestoreSnapshot implements huddle.Snapshotter.
func (m *Match) RestoreSnapshot(decode func(target interface{}) error) error {
	var st snapshotState
	if err := decode(&st); err != nil {
		return err
	}
	if st.Schema != SnapshotSchema {
		return fmt.Errorf("match: unsupported snapshot schema %q", st.Schema)
	}
	m.planned = st.Planned
	m.groupID = st.GroupID
	m.start = st.Start.UTC()
	m.isCanceled = st.IsCanceled
	m.playground = st.Playground
	m.playerCount = st.PlayerCount
	m.cadre = fromRegistrations(st.Cadre)
	m.waitingBench = fromRegistrations(st.WaitingBench)
	m.deregistered = fromRegistrations(st.Deregistered)
	m.result = st.Result
	return nil
}

func toRegistrations(list []RegisteredPlayer) []PlayerRegistration {
	if len(list) == 0 {
		return nil
	}
	out := make([]PlayerRegistration, len(list))
	for i, p := range list {
		out[i] = ToRegistration(p)
	}
	return out
}

func fromRegistrations(list []PlayerRegistration) []RegisteredPlayer {
	if len(list) == 0 {
		return nil
	}
	out := make([]RegisteredPlayer, len(list))
	for i, r := range list {
		out[i] = r.Player()
	}
	return out
}
