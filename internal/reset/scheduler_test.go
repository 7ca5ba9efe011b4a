package reset_test

import (
	"context"
	"testing"
	"time"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/reset"
	"github.com/stretchr/testify/require"
)

type fakePnL struct{ resetCalls []string }

func (f *fakePnL) ResetDailyPnL(_ context.Context, account string, _ time.Time) error {
	f.resetCalls = append(f.resetCalls, account)
	return nil
}

type fakeLockoutStore struct {
	all     []domain.Lockout
	cleared []string
}

func (f *fakeLockoutStore) AllLockouts(_ context.Context) ([]domain.Lockout, error) { return f.all, nil }
func (f *fakeLockoutStore) ClearLockoutKind(_ context.Context, accountID string, kind domain.LockoutKind) error {
	f.cleared = append(f.cleared, accountID+"|"+string(kind))
	return nil
}

type fakeAccounts struct{ accounts []string }

func (f *fakeAccounts) KnownAccounts(_ context.Context) ([]string, error) { return f.accounts, nil }

type fakeEngine struct{ events []domain.RiskEvent }

func (f *fakeEngine) Process(_ context.Context, event domain.RiskEvent) error {
	f.events = append(f.events, event)
	return nil
}

func TestFireResetsEveryKnownAccountAndEmitsDailyReset(t *testing.T) {
	pnl := &fakePnL{}
	lockouts := &fakeLockoutStore{}
	accounts := &fakeAccounts{accounts: []string{"ACC-1", "ACC-2"}}
	engine := &fakeEngine{}
	sched := reset.New(pnl, lockouts, accounts, engine, time.UTC, 17*time.Hour, nil)

	require.NoError(t, sched.Fire(context.Background()))
	require.ElementsMatch(t, []string{"ACC-1", "ACC-2"}, pnl.resetCalls)
	require.Len(t, engine.events, 2)
	for _, e := range engine.events {
		require.Equal(t, domain.EventDailyReset, e.EventType)
	}
}

func TestFireClearsExpiredAndDailyRuleLockouts(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	lockouts := &fakeLockoutStore{all: []domain.Lockout{
		{AccountID: "ACC-1", Kind: domain.LockoutHard, SourceRuleID: "R009", UnlockAt: &past},
		{AccountID: "ACC-2", Kind: domain.LockoutHard, SourceRuleID: "R003", UnlockAt: nil}, // until_reset
		{AccountID: "ACC-3", Kind: domain.LockoutCooldown, SourceRuleID: "R006", UnlockAt: &future},
	}}
	sched := reset.New(&fakePnL{}, lockouts, &fakeAccounts{}, &fakeEngine{}, time.UTC, 17*time.Hour, nil)

	require.NoError(t, sched.Fire(context.Background()))
	require.ElementsMatch(t, []string{"ACC-1|HARD", "ACC-2|HARD"}, lockouts.cleared)
}
