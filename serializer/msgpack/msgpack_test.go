package msgpack_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-huddle"
	"github.com/AshkanYarmoradi/go-huddle/adapters"
	"github.com/AshkanYarmoradi/go-huddle/adapters/memory"
	"github.com/AshkanYarmoradi/go-huddle/match"
	"github.com/AshkanYarmoradi/go-huddle/serializer/msgpack"
)

type lineup struct {
	MatchID string            `json:"matchId"`
	Players []string          `json:"players,omitempty"`
	Start   time.Time         `json:"start"`
	Notes   map[string]string `json:"notes,omitempty"`
	Size    int               `json:"size"`
}

func TestCodec(t *testing.T) {
	c := msgpack.NewCodec()
	assert.Equal(t, "msgpack", c.Name())

	in := lineup{
		MatchID: "m-1",
		Players: []string{"anna", "ben"},
		Start:   time.Date(2026, 5, 1, 18, 30, 0, 0, time.UTC),
		Notes:   map[string]string{"pitch": "north"},
		Size:    10,
	}
	data, err := c.Marshal(in)
	require.NoError(t, err)

	var out lineup
	require.NoError(t, c.Unmarshal(data, &out))
	assert.True(t, in.Start.Equal(out.Start))
	out.Start = in.Start
	assert.Equal(t, in, out)

	t.Run("fields are named by json tags", func(t *testing.T) {
		var raw map[string]interface{}
		require.NoError(t, c.Unmarshal(data, &raw))
		assert.Contains(t, raw, "matchId")
		assert.NotContains(t, raw, "MatchID")
	})

	t.Run("custom struct tag", func(t *testing.T) {
		type tagged struct {
			Name string `msgpack:"n" json:"name"`
		}
		mc := msgpack.NewCodec(msgpack.WithStructTag("msgpack"), msgpack.WithCompactInts())
		data, err := mc.Marshal(tagged{Name: "x"})
		require.NoError(t, err)

		var raw map[string]interface{}
		require.NoError(t, mc.Unmarshal(data, &raw))
		assert.Equal(t, map[string]interface{}{"n": "x"}, raw)
	})

	t.Run("smaller than json", func(t *testing.T) {
		js, err := json.Marshal(in)
		require.NoError(t, err)
		assert.Less(t, len(data), len(js))
	})

	t.Run("errors", func(t *testing.T) {
		_, err := c.Marshal(nil)
		assert.Error(t, err)

		assert.ErrorContains(t, c.Unmarshal(nil, &out), "empty payload")
		assert.Error(t, c.Unmarshal([]byte{0xc1}, &out))
	})
}

func TestCodec_MatchRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	adapter := memory.NewAdapter()
	repo := huddle.NewRepository(
		adapter,
		huddle.NewSerializerRegistry(match.NewSerializer(huddle.WithCodec(msgpack.NewCodec()))),
		huddle.WithSnapshotFrequency(2),
		huddle.WithFactory(match.AggregateType, match.Factory(match.WithClock(clock))),
	)

	m := match.New("match-1", match.WithClock(clock))
	require.NoError(t, m.PlanMatch("group-1", now.Add(48*time.Hour), &match.Playground{Name: "Riverside"},
		match.PlayerCount{MinPlayer: 4, MaxPlayer: 4}))
	for _, u := range []string{"anna", "ben", "carl", "dora", "emil"} {
		require.NoError(t, m.AddRegistration(u, match.StatusRegistered, 0))
	}
	require.NoError(t, repo.Save(ctx, m))

	records, err := adapters.Collect(adapter.Events().LoadSince(ctx, "match-1", 0))
	require.NoError(t, err)
	require.NotEmpty(t, records)
	for _, rec := range records {
		assert.NotEqual(t, byte('{'), rec.Data[0], "%s stored as json", rec.EventType)
	}

	snap, err := adapter.Snapshots().Load(ctx, "match-1")
	require.NoError(t, err)
	require.NotNil(t, snap)

	loaded, err := huddle.LoadAs[*match.Match](ctx, repo, match.AggregateType, "match-1")
	require.NoError(t, err)
	assert.Equal(t, m.Version(), loaded.Version())
	assert.Equal(t, "group-1", loaded.GroupID())
	assert.True(t, m.Start().Equal(loaded.Start()))

	ids := func(list []match.RegisteredPlayer) []string {
		var out []string
		for _, p := range list {
			out = append(out, p.PlayerID())
		}
		return out
	}
	assert.Equal(t, ids(m.Cadre()), ids(loaded.Cadre()))
	assert.Equal(t, ids(m.WaitingBench()), ids(loaded.WaitingBench()))
	assert.Equal(t, []string{"emil"}, ids(loaded.WaitingBench()))
}
