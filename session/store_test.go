package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Marveltechapps/selorg-console-core/config"
)

var testKeys = config.SessionKeys{
	Token:      "selorg:token",
	User:       "selorg:user",
	ActiveUnit: "selorg:active_unit",
	Logout:     "selorg:logout_at",
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func testUser() User {
	return User{
		ID:            "u-1",
		DisplayName:   "Asha",
		Role:          RoleFleet,
		AssignedUnits: []string{"unit-1", "unit-2"},
		PrimaryUnit:   "unit-2",
	}
}

func TestLoginDerivesActiveUnit(t *testing.T) {
	testCases := []struct {
		name     string
		user     User
		expected string
	}{
		{
			name:     "primary unit wins",
			user:     User{ID: "u-1", AssignedUnits: []string{"unit-1", "unit-2"}, PrimaryUnit: "unit-2"},
			expected: "unit-2",
		},
		{
			name:     "first assigned unit when no primary",
			user:     User{ID: "u-1", AssignedUnits: []string{"unit-1", "unit-2"}},
			expected: "unit-1",
		},
		{
			name:     "absent when user has no units",
			user:     User{ID: "u-1"},
			expected: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewStore(NewMemoryStorage(), testKeys)
			require.NoError(t, store.Login(context.Background(), "tok", tc.user))
			assert.Equal(t, tc.expected, store.ActiveUnit())
		})
	}
}

func TestSessionInvariantTokenAndUserTogether(t *testing.T) {
	store := NewStore(NewMemoryStorage(), testKeys)

	sess := store.Current()
	assert.Empty(t, sess.Token)
	assert.Nil(t, sess.User)

	require.NoError(t, store.Login(context.Background(), "tok", testUser()))
	sess = store.Current()
	assert.NotEmpty(t, sess.Token)
	assert.NotNil(t, sess.User)

	store.Logout(context.Background())
	sess = store.Current()
	assert.Empty(t, sess.Token)
	assert.Nil(t, sess.User)
	assert.Empty(t, sess.ActiveUnit)
}

func TestLoginRejectsPartialIdentity(t *testing.T) {
	store := NewStore(NewMemoryStorage(), testKeys)
	assert.ErrorIs(t, store.Login(context.Background(), "", testUser()), ErrInvalidLogin)
	assert.ErrorIs(t, store.Login(context.Background(), "tok", User{}), ErrInvalidLogin)
}

func TestSwitchUnit(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), testKeys)
	require.NoError(t, store.Login(ctx, "tok", testUser()))

	assert.ErrorIs(t, store.SwitchUnit(ctx, "unit-999"), ErrUnitNotAssigned)
	assert.Equal(t, "unit-2", store.ActiveUnit())

	require.NoError(t, store.SwitchUnit(ctx, "unit-1"))
	assert.Equal(t, "unit-1", store.ActiveUnit())

	sess := store.Current()
	assert.True(t, sess.User.CanOperate(sess.ActiveUnit))
}

func TestSwitchUnitRequiresSession(t *testing.T) {
	store := NewStore(NewMemoryStorage(), testKeys)
	assert.ErrorIs(t, store.SwitchUnit(context.Background(), "unit-1"), ErrNotAuthenticated)
}

func TestRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()

	first := NewStore(storage, testKeys)
	token := signedToken(t, jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, first.Login(ctx, token, testUser()))
	require.NoError(t, first.SwitchUnit(ctx, "unit-1"))

	second := NewStore(storage, testKeys)
	require.NoError(t, second.Restore(ctx))

	sess := second.Current()
	require.NotNil(t, sess.User)
	assert.Equal(t, "u-1", sess.User.ID)
	assert.Equal(t, "unit-1", sess.ActiveUnit)
}

func TestRestoreClearsExpiredToken(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()

	first := NewStore(storage, testKeys)
	expired := signedToken(t, jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(-time.Hour).Unix()})
	require.NoError(t, first.Login(ctx, expired, testUser()))

	second := NewStore(storage, testKeys)
	require.NoError(t, second.Restore(ctx))
	assert.False(t, second.Current().Authenticated())

	// The persisted snapshot is gone too: a third restore finds nothing.
	raw, err := storage.Get(ctx, testKeys.Token)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestRestoreAcceptsTokenWithoutExpiryClaim(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()

	first := NewStore(storage, testKeys)
	claimless := signedToken(t, jwt.MapClaims{"sub": "u-1"})
	require.NoError(t, first.Login(ctx, claimless, testUser()))

	second := NewStore(storage, testKeys)
	require.NoError(t, second.Restore(ctx))
	assert.True(t, second.Current().Authenticated())
	assert.False(t, second.IsExpired())
}

func TestRestoreClearsTokenWithoutIdentity(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	require.NoError(t, storage.Set(ctx, testKeys.Token, "orphan-token"))

	store := NewStore(storage, testKeys)
	require.NoError(t, store.Restore(ctx))
	assert.False(t, store.Current().Authenticated())
}

func TestIsExpired(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), testKeys)

	expired := signedToken(t, jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(-time.Minute).Unix()})
	require.NoError(t, store.Login(ctx, expired, testUser()))
	assert.True(t, store.IsExpired())

	live := signedToken(t, jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(time.Minute).Unix()})
	require.NoError(t, store.Login(ctx, live, testUser()))
	assert.False(t, store.IsExpired())

	// A token that does not parse is not local evidence of expiry; the
	// server stays authoritative for it.
	require.NoError(t, store.Login(ctx, "not-a-jwt", testUser()))
	assert.False(t, store.IsExpired())
}

func TestCrossTabLogout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two stores over one storage behave like two tabs of the same origin.
	storage := NewMemoryStorage()
	tabA := NewStore(storage, testKeys)
	tabB := NewStore(storage, testKeys)

	require.NoError(t, tabA.Login(ctx, "tok", testUser()))
	require.NoError(t, tabB.Restore(ctx))
	require.NoError(t, tabB.Watch(ctx))
	require.True(t, tabB.Current().Authenticated())

	var tabBSawLogout bool
	done := make(chan struct{})
	tabB.OnChange(func(s Session) {
		if !s.Authenticated() && !tabBSawLogout {
			tabBSawLogout = true
			close(done)
		}
	})

	tabA.Logout(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tab B never observed the logout broadcast")
	}
	assert.False(t, tabB.Current().Authenticated())
}

func TestLogoutNotifiesBackendWithCapturedToken(t *testing.T) {
	ctx := context.Background()
	notified := make(chan string, 1)
	store := NewStore(NewMemoryStorage(), testKeys,
		WithLogoutNotifier(func(_ context.Context, token string) {
			notified <- token
		}))

	require.NoError(t, store.Login(ctx, "tok-123", testUser()))
	store.Logout(ctx)

	select {
	case token := <-notified:
		assert.Equal(t, "tok-123", token)
	case <-time.After(time.Second):
		t.Fatal("backend logout notification never fired")
	}
}
