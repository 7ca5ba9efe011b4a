package lockout_test

import (
	"context"
	"testing"
	"time"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/lockout"
	"github.com/kellandavies/riskd/internal/storage"
	"github.com/kellandavies/riskd/internal/timer"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*lockout.Manager, *storage.Store, *timer.Manager) {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	tm := timer.New(nil)
	tm.SetTick(5 * time.Millisecond)
	return lockout.New(s, tm), s, tm
}

func runTimers(t *testing.T, tm *timer.Manager, for_ time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), for_)
	defer cancel()
	done := make(chan struct{})
	go func() { _ = tm.Run(ctx); close(done) }()
	<-done
}

func TestSetHardThenIsLocked(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	locked, err := m.IsLocked(ctx, "ACC-1")
	require.NoError(t, err)
	require.False(t, locked)

	require.NoError(t, m.SetHard(ctx, "ACC-1", "daily loss breach", nil, "R003"))

	locked, err = m.IsLocked(ctx, "ACC-1")
	require.NoError(t, err)
	require.True(t, locked)
}

func TestSetHardTwiceReArms(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetHard(ctx, "ACC-1", "first reason", nil, "R003"))
	require.NoError(t, m.SetHard(ctx, "ACC-1", "second reason", nil, "R013"))

	info, err := m.Info(ctx, "ACC-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, "second reason", info.Reason)
}

func TestSetCooldownExpiresAutomatically(t *testing.T) {
	m, _, tm := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetCooldown(ctx, "ACC-1", "cooldown after loss", 10*time.Millisecond, "R006"))

	locked, err := m.IsLocked(ctx, "ACC-1")
	require.NoError(t, err)
	require.True(t, locked)

	runTimers(t, tm, 80*time.Millisecond)

	locked, err = m.IsLocked(ctx, "ACC-1")
	require.NoError(t, err)
	require.False(t, locked)
}

func TestHardTakesPrecedenceOverCooldownInInfo(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetCooldown(ctx, "ACC-1", "cooldown after loss", time.Hour, "R006"))
	require.NoError(t, m.SetHard(ctx, "ACC-1", "daily loss breach", nil, "R003"))

	info, err := m.Info(ctx, "ACC-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, domain.LockoutHard, info.Kind)
}

func TestClearHardLeavesCooldownActive(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetCooldown(ctx, "ACC-1", "cooldown after loss", time.Hour, "R006"))
	require.NoError(t, m.SetHard(ctx, "ACC-1", "daily loss breach", nil, "R003"))

	require.NoError(t, m.ClearHard(ctx, "ACC-1"))

	info, err := m.Info(ctx, "ACC-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, domain.LockoutCooldown, info.Kind)
}

func TestClearRemovesEverythingAndCancelsTimer(t *testing.T) {
	m, _, tm := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetCooldown(ctx, "ACC-1", "cooldown after loss", time.Hour, "R006"))
	require.NoError(t, m.SetHard(ctx, "ACC-1", "daily loss breach", nil, "R003"))
	require.True(t, tm.Has("lockout-cooldown:ACC-1"))

	require.NoError(t, m.Clear(ctx, "ACC-1"))

	require.False(t, tm.Has("lockout-cooldown:ACC-1"))
	locked, err := m.IsLocked(ctx, "ACC-1")
	require.NoError(t, err)
	require.False(t, locked)
}

func TestHardLockoutReleasesOnceUnlockAtPasses(t *testing.T) {
	m, s, _ := newManager(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.SetLockout(ctx, domain.Lockout{
		AccountID: "ACC-1", Kind: domain.LockoutHard, Reason: "outside session hours",
		SourceRuleID: "R009", SetAt: time.Now().UTC().Add(-time.Hour), UnlockAt: &past,
	}))

	locked, err := m.IsLocked(ctx, "ACC-1")
	require.NoError(t, err)
	require.False(t, locked, "a HARD lockout whose unlock_at has passed must self-release, e.g. R009 at session open")

	info, err := m.Info(ctx, "ACC-1")
	require.NoError(t, err)
	require.Nil(t, info)
}

func TestInfoNilWhenClear(t *testing.T) {
	m, _, _ := newManager(t)
	info, err := m.Info(context.Background(), "ACC-1")
	require.NoError(t, err)
	require.Nil(t, info)
}

func TestRehydrateClearsExpiredCooldownAndReArmsLive(t *testing.T) {
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, s.SetLockout(context.Background(), domain.Lockout{
		AccountID: "EXPIRED", Kind: domain.LockoutCooldown, Reason: "r", SourceRuleID: "R006",
		SetAt: time.Now().UTC().Add(-2 * time.Hour), UnlockAt: &past,
	}))
	require.NoError(t, s.SetLockout(context.Background(), domain.Lockout{
		AccountID: "LIVE", Kind: domain.LockoutCooldown, Reason: "r", SourceRuleID: "R006",
		SetAt: time.Now().UTC(), UnlockAt: &future,
	}))
	require.NoError(t, s.SetLockout(context.Background(), domain.Lockout{
		AccountID: "HARDACC", Kind: domain.LockoutHard, Reason: "r", SourceRuleID: "R013",
		SetAt: time.Now().UTC(), UnlockAt: nil,
	}))

	tm := timer.New(nil)
	m := lockout.New(s, tm)
	require.NoError(t, m.Rehydrate(context.Background()))

	locked, err := m.IsLocked(context.Background(), "EXPIRED")
	require.NoError(t, err)
	require.False(t, locked)

	require.True(t, tm.Has("lockout-cooldown:LIVE"))

	locked, err = m.IsLocked(context.Background(), "HARDACC")
	require.NoError(t, err)
	require.True(t, locked)
}
