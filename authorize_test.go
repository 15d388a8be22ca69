package huddle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityFromContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	_, ok = IdentityFromContext(WithIdentity(context.Background(), Identity{}))
	assert.False(t, ok, "empty user ID is anonymous")

	who, ok := IdentityFromContext(WithIdentity(context.Background(), Identity{UserID: "u-1"}))
	require.True(t, ok)
	assert.Equal(t, "u-1", who.UserID)
}

func TestGuard(t *testing.T) {
	match := Resource{Kind: "match", ID: "m-1", GroupID: "g-1"}
	ctx := WithIdentity(context.Background(), Identity{UserID: "coach-1"})

	t.Run("anonymous is rejected", func(t *testing.T) {
		err := Guard(context.Background(), AllowAll, match)
		assert.ErrorIs(t, err, ErrUnauthorized)

		var ue *UnauthorizedError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, match, ue.Resource)
	})

	t.Run("allow all", func(t *testing.T) {
		assert.NoError(t, Guard(ctx, AllowAll, match))
		assert.NoError(t, Guard(ctx, nil, match))
	})

	t.Run("authorizer sees identity and resource", func(t *testing.T) {
		var gotWho Identity
		var gotWhat Resource
		authz := AuthorizerFunc(func(_ context.Context, who Identity, what Resource) error {
			gotWho, gotWhat = who, what
			return &UnauthorizedError{UserID: who.UserID, Resource: what, Reason: "not a coach"}
		})

		err := Guard(ctx, authz, match)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, `huddle: user "coach-1" may not act on match "m-1": not a coach`, err.Error())
		assert.Equal(t, "coach-1", gotWho.UserID)
		assert.Equal(t, match, gotWhat)
	})

	t.Run("authorizer failures pass through", func(t *testing.T) {
		boom := errors.New("directory down")
		err := Guard(ctx, AuthorizerFunc(func(context.Context, Identity, Resource) error { return boom }), match)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrUnauthorized)
	})
}
