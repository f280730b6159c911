package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitor_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	repo := NewMemoryRepository()
	svc := newTestServiceWithRepo(t, repo, WithClock(clock.Now))
	res := mustRegister(t, svc, "a@x.com", "pw123!", "alice")

	janitor := NewJanitor(svc, time.Hour, newTestLogger(t))
	assert.Zero(t, janitor.Sweep(ctx))

	clock.Advance(25 * time.Hour)
	assert.Equal(t, int64(1), janitor.Sweep(ctx))

	_, err := repo.SessionByTokenHash(ctx, hashToken(res.Session.Token))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJanitor_StartStop(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	repo := NewMemoryRepository()
	svc := newTestServiceWithRepo(t, repo, WithClock(clock.Now))
	res := mustRegister(t, svc, "a@x.com", "pw123!", "alice")
	clock.Advance(25 * time.Hour)

	janitor := NewJanitor(svc, 10*time.Millisecond, newTestLogger(t))
	janitor.Start()
	defer janitor.Stop()

	require.Eventually(t, func() bool {
		_, err := repo.SessionByTokenHash(ctx, hashToken(res.Session.Token))
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestJanitor_DisabledInterval(t *testing.T) {
	janitor := NewJanitor(newTestService(t), 0, newTestLogger(t))
	janitor.Start()
	janitor.Stop()
}
