package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionFixture struct {
	repo      Repository
	clock     *fakeClock
	store     *SessionStore
	validator *Validator
	user      *User
}

func newSessionFixture(t *testing.T, repo Repository, touchInterval time.Duration) *sessionFixture {
	t.Helper()
	clock := newFakeClock()
	log := newTestLogger(t)
	tokens := NewTokenGenerator(clock.Now)
	store := NewSessionStore(repo, tokens, DefaultTokenBytes, 24*time.Hour, 0, clock.Now, log)

	user := newTestUser("a@x.com", "alice")
	require.NoError(t, repo.CreateUser(context.Background(), user))

	return &sessionFixture{
		repo:      repo,
		clock:     clock,
		store:     store,
		validator: NewValidator(store, repo, repo, touchInterval, clock.Now, log),
		user:      user,
	}
}

func TestSessions_RoundTripAndExpiry(t *testing.T) {
	for name, newRepo := range repositoryFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newSessionFixture(t, newRepo(t), 0)

			session, err := f.store.Create(ctx, f.user.ID, ClientInfo{IPAddress: "10.0.0.1", UserAgent: "test-agent"})
			require.NoError(t, err)
			require.NotEmpty(t, session.Token)
			assert.Equal(t, hashToken(session.Token), session.TokenHash)
			assert.Equal(t, f.clock.Now().Add(24*time.Hour), session.ExpiresAt)
			require.NotNil(t, session.IPAddress)
			assert.Equal(t, "10.0.0.1", *session.IPAddress)

			auth, ok, err := f.validator.GetValidSession(ctx, session.Token)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, f.user.ID, auth.User.ID)
			assert.Equal(t, session.ID, auth.Session.ID)

			f.clock.Advance(24*time.Hour - time.Second)
			_, ok, err = f.validator.GetValidSession(ctx, session.Token)
			require.NoError(t, err)
			assert.True(t, ok, "still valid one second before expiry")

			f.clock.Advance(time.Second)
			auth, ok, err = f.validator.GetValidSession(ctx, session.Token)
			require.NoError(t, err)
			assert.False(t, ok, "expiry instant is already invalid")
			assert.Nil(t, auth)

			// the expired row is still present, it is only judged invalid
			_, found, err := f.store.Find(ctx, session.Token)
			require.NoError(t, err)
			assert.True(t, found)
		})
	}
}

func TestSessions_UnknownAndExpiredLookAlike(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, NewMemoryRepository(), 0)

	session, err := f.store.Create(ctx, f.user.ID, ClientInfo{})
	require.NoError(t, err)
	f.clock.Advance(48 * time.Hour)

	expiredAuth, expiredOK, expiredErr := f.validator.GetValidSession(ctx, session.Token)
	unknownAuth, unknownOK, unknownErr := f.validator.GetValidSession(ctx, "deadbeef")

	assert.Equal(t, unknownAuth, expiredAuth)
	assert.Equal(t, unknownOK, expiredOK)
	assert.Equal(t, unknownErr, expiredErr)
}

func TestSessions_InvalidateIsIdempotent(t *testing.T) {
	for name, newRepo := range repositoryFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newSessionFixture(t, newRepo(t), 0)

			session, err := f.store.Create(ctx, f.user.ID, ClientInfo{})
			require.NoError(t, err)

			require.NoError(t, f.store.Invalidate(ctx, session.Token))
			require.NoError(t, f.store.Invalidate(ctx, session.Token))
			require.NoError(t, f.store.Invalidate(ctx, ""))

			_, ok, err := f.validator.GetValidSession(ctx, session.Token)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSessions_TokensAreNotReused(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, NewMemoryRepository(), 0)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		session, err := f.store.Create(ctx, f.user.ID, ClientInfo{})
		require.NoError(t, err)
		require.False(t, seen[session.Token])
		seen[session.Token] = true
	}
}

// collidingRepository reports a duplicate token hash for the first n inserts.
type collidingRepository struct {
	Repository
	collisions int
	attempts   int
}

func (r *collidingRepository) CreateSession(ctx context.Context, session *Session) error {
	r.attempts++
	if r.attempts <= r.collisions {
		return errDuplicateKey
	}
	return r.Repository.CreateSession(ctx, session)
}

func TestSessions_TokenCollisionRetry(t *testing.T) {
	tests := []struct {
		name         string
		collisions   int
		wantErr      bool
		wantAttempts int
	}{
		{name: "no collision", collisions: 0, wantAttempts: 1},
		{name: "one collision is retried", collisions: 1, wantAttempts: 2},
		{name: "second collision surfaces", collisions: 2, wantErr: true, wantAttempts: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := &collidingRepository{Repository: NewMemoryRepository(), collisions: tt.collisions}
			f := newSessionFixture(t, repo, 0)

			session, err := f.store.Create(ctx, f.user.ID, ClientInfo{})
			assert.Equal(t, tt.wantAttempts, repo.attempts)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPersistence)
				assert.Nil(t, session)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, session.Token)
		})
	}
}

func TestSessions_MaxPerUserEvictsOldest(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	clock := newFakeClock()
	log := newTestLogger(t)
	store := NewSessionStore(repo, NewTokenGenerator(clock.Now), DefaultTokenBytes, time.Hour, 2, clock.Now, log)

	user := newTestUser("a@x.com", "alice")
	require.NoError(t, repo.CreateUser(ctx, user))

	var issued []*Session
	for i := 0; i < 3; i++ {
		s, err := store.Create(ctx, user.ID, ClientInfo{})
		require.NoError(t, err)
		issued = append(issued, s)
		clock.Advance(time.Minute)
	}

	sessions, err := repo.SessionsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, issued[1].ID, sessions[0].ID)
	assert.Equal(t, issued[2].ID, sessions[1].ID)
}

func TestValidator_TouchesAfterInterval(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, NewMemoryRepository(), time.Minute)

	session, err := f.store.Create(ctx, f.user.ID, ClientInfo{})
	require.NoError(t, err)
	issuedAt := session.LastActiveAt

	f.clock.Advance(30 * time.Second)
	auth, ok, err := f.validator.GetValidSession(ctx, session.Token)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, issuedAt, auth.Session.LastActiveAt, "not touched inside the interval")

	f.clock.Advance(time.Minute)
	_, ok, err = f.validator.GetValidSession(ctx, session.Token)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := f.repo.SessionByTokenHash(ctx, session.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), stored.LastActiveAt)
}

func TestValidator_DeletedUserInvalidatesSession(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, NewMemoryRepository(), 0)

	session, err := f.store.Create(ctx, f.user.ID, ClientInfo{})
	require.NoError(t, err)
	require.NoError(t, f.repo.DeleteUser(ctx, f.user.ID))

	_, ok, err := f.validator.GetValidSession(ctx, session.Token)
	require.NoError(t, err)
	assert.False(t, ok)
}
