package huddle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateBase(t *testing.T) {
	t.Run("NewAggregateBase", func(t *testing.T) {
		base := NewAggregateBase("tally-1", tallyType)

		assert.Equal(t, "tally-1", base.AggregateID())
		assert.Equal(t, tallyType, base.AggregateType())
		assert.Equal(t, int64(0), base.Version())
		assert.Empty(t, base.PendingChanges())
		assert.False(t, base.HasPendingChanges())
	})

	t.Run("ClearPendingChanges keeps the version", func(t *testing.T) {
		tally := NewTally("tally-1")
		require.NoError(t, tally.Increment(1))
		require.NoError(t, tally.Increment(2))

		tally.ClearPendingChanges()

		assert.Empty(t, tally.PendingChanges())
		assert.Equal(t, int64(2), tally.Version())
		assert.Equal(t, int64(2), tally.PersistedVersion())
	})
}

func TestApply(t *testing.T) {
	tally := NewTally("tally-1")

	require.NoError(t, tally.Increment(3))
	require.NoError(t, tally.Increment(4))

	assert.Equal(t, 7, tally.Total)
	assert.Equal(t, int64(2), tally.Version())
	assert.Equal(t, []interface{}{TallyIncremented{By: 3}, TallyIncremented{By: 4}}, tally.PendingChanges())
	assert.Equal(t, int64(0), tally.PersistedVersion())

	t.Run("failed fold changes nothing", func(t *testing.T) {
		err := Apply(tally, "not an event")
		assert.ErrorIs(t, err, ErrUnknownEventType)
		assert.Equal(t, int64(2), tally.Version())
		assert.Len(t, tally.PendingChanges(), 2)
	})

	t.Run("nil aggregate", func(t *testing.T) {
		assert.ErrorIs(t, Apply(nil, TallyIncremented{}), ErrNilAggregate)
	})
}

func TestRehydrate(t *testing.T) {
	tally := NewTally("tally-1")

	require.NoError(t, Rehydrate(tally, TallyIncremented{By: 5}))
	require.NoError(t, Rehydrate(tally, TallyClosed{Reason: "done"}))

	assert.Equal(t, 5, tally.Total)
	assert.True(t, tally.Closed)
	assert.Equal(t, int64(2), tally.Version())
	assert.Empty(t, tally.PendingChanges(), "replay must not enqueue")

	assert.ErrorIs(t, Rehydrate(nil, TallyIncremented{}), ErrNilAggregate)
}

func TestReplayMatchesApply(t *testing.T) {
	live := NewTally("tally-1")
	require.NoError(t, live.Increment(2))
	require.NoError(t, live.Increment(8))
	require.NoError(t, live.Close("full"))

	replayed := NewTally("tally-1")
	for _, e := range live.PendingChanges() {
		require.NoError(t, Rehydrate(replayed, e))
	}

	assert.Equal(t, live.Total, replayed.Total)
	assert.Equal(t, live.Closed, replayed.Closed)
	assert.Equal(t, live.Version(), replayed.Version())
}
