package authclient_test

import (
	"context"
	"testing"

	"github.com/dom/event-portal/internal/authclient"
	"github.com/dom/event-portal/internal/domain"
	"github.com/dom/event-portal/internal/session"
	"github.com/dom/event-portal/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionsAgainstServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := testutil.NewTestServer(t)
	log := testutil.TestLogger(t)
	client := authclient.New(ts.BaseURL(), authclient.WithLogger(log))
	ctx := context.Background()

	newTab := func(store session.Store) (*session.Manager, *session.MemoryPointer) {
		p := session.NewMemoryPointer()
		return session.NewManager(store, p, client, session.WithLogger(log)), p
	}

	t.Run("Health", func(t *testing.T) {
		assert.NoError(t, client.Health(ctx))
	})

	t.Run("TwoIdentitiesSideBySide", func(t *testing.T) {
		ts.DB.Truncate(t)
		store := session.NewMemoryStore(log)

		testutil.NewUserBuilder().WithUsername("userA").WithPassword("password-a").Build(t, ts.DB.DB)
		testutil.NewUserBuilder().WithUsername("userB").WithPassword("password-b").
			WithRole(domain.RoleOrganizer).Build(t, ts.DB.DB)

		tab1, _ := newTab(store)
		tab2, _ := newTab(store)

		recA, err := tab1.Login(ctx, session.Credentials{Username: "userA", Password: "password-a"})
		require.NoError(t, err)
		recB, err := tab2.Login(ctx, session.Credentials{Username: "userB", Password: "password-b"})
		require.NoError(t, err)

		assert.Equal(t, "userA", tab1.Projection().User.Username)
		assert.Equal(t, "participant", tab1.Projection().User.Role)
		assert.Equal(t, "organizer", tab2.Projection().User.Role)

		list := tab1.ListSessions(ctx)
		require.Len(t, list, 2)
		assert.Equal(t, recA.SessionID, list[0].SessionID)
		assert.True(t, list[0].IsCurrent)
		assert.False(t, list[1].IsCurrent)

		// Logging out one identity leaves the other usable.
		require.NoError(t, tab1.Logout(ctx))
		require.NoError(t, tab2.Refresh(ctx))
		user, err := tab2.FetchProfile(ctx)
		require.NoError(t, err)
		assert.Equal(t, "userB", user.Username)
		assert.Equal(t, recB.SessionID, tab2.Projection().SessionID)
	})

	t.Run("InvalidCredentials", func(t *testing.T) {
		ts.DB.Truncate(t)
		tab, _ := newTab(session.NewMemoryStore(log))

		_, err := tab.Login(ctx, session.Credentials{Username: "nobody", Password: "whatever1"})
		assert.ErrorIs(t, err, session.ErrInvalidCredentials)
		assert.Equal(t, session.Unauthenticated, tab.State())
	})

	t.Run("RegisterUpdateDelete", func(t *testing.T) {
		ts.DB.Truncate(t)
		store := session.NewMemoryStore(log)
		tab, _ := newTab(store)

		rec, err := tab.Register(ctx, session.Registration{
			Username: "carol",
			Password: "password-c",
			Email:    "carol@example.com",
			Role:     "organizer",
		})
		require.NoError(t, err)
		assert.Equal(t, "organizer", rec.User.Role)

		name := "Carol C."
		user, err := tab.UpdateProfile(ctx, session.ProfileUpdate{DisplayName: &name})
		require.NoError(t, err)
		assert.Equal(t, "Carol C.", user.DisplayName)
		stored, ok := store.Get(ctx, rec.SessionID)
		require.True(t, ok)
		assert.Equal(t, "Carol C.", stored.User.DisplayName)

		require.NoError(t, tab.DeleteAccount(ctx))
		assert.Equal(t, session.Unauthenticated, tab.State())

		_, err = tab.Login(ctx, session.Credentials{Username: "carol", Password: "password-c"})
		assert.ErrorIs(t, err, session.ErrInvalidCredentials)
	})

	t.Run("RevokedSessionFailsClosed", func(t *testing.T) {
		ts.DB.Truncate(t)
		store := session.NewMemoryStore(log)
		auth := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)

		tab, pointer := newTab(store)
		rec, err := tab.SimulateSession(ctx, session.Tokens{Access: auth.Access, Refresh: auth.Refresh}, nil)
		require.NoError(t, err)

		require.NoError(t, client.Logout(ctx, auth.Refresh))

		// The access token died with its backend session.
		_, err = client.Me(ctx, auth.Access)
		assert.ErrorIs(t, err, session.ErrUnauthorized)

		err = tab.Refresh(ctx)
		assert.ErrorIs(t, err, session.ErrTokenExpired)
		_, ok := store.Get(ctx, rec.SessionID)
		assert.False(t, ok)
		_, ok = pointer.Get(ctx)
		assert.False(t, ok)
	})

	t.Run("RestoreFetchesProfileWithRefreshedToken", func(t *testing.T) {
		ts.DB.Truncate(t)
		store := session.NewMemoryStore(log)
		auth := testutil.NewUserBuilder().WithUsername("dave").BuildAndAuthenticate(t, ts)

		first, pointer := newTab(store)
		_, err := first.SimulateSession(ctx, session.Tokens{Access: "not-a-jwt", Refresh: auth.Refresh}, nil)
		require.NoError(t, err)

		reloaded := session.NewManager(store, pointer, client, session.WithLogger(log))
		require.NoError(t, reloaded.RestoreAtBoot(ctx))

		p := reloaded.Projection()
		assert.True(t, p.IsAuthenticated)
		assert.Equal(t, "dave", p.User.Username)
		assert.NotEqual(t, "not-a-jwt", p.Token)
	})
}
