package pnl_test

import (
	"context"
	"testing"
	"time"

	"github.com/kellandavies/riskd/internal/money"
	"github.com/kellandavies/riskd/internal/pnl"
	"github.com/kellandavies/riskd/internal/storage"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T) (*pnl.Tracker, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return pnl.New(s, loc, 17*time.Hour), s
}

func TestAddTradePnLAccumulatesAcrossTrades(t *testing.T) {
	tr, _ := newTracker(t)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	total, err := tr.AddTradePnL(context.Background(), "ACC-1", money.MustNew("-40"), now)
	require.NoError(t, err)
	require.Equal(t, "-40", total.String())

	total, err = tr.AddTradePnL(context.Background(), "ACC-1", money.MustNew("-60"), now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, "-100", total.String())
}

func TestGetDailyPnLLazyZero(t *testing.T) {
	tr, _ := newTracker(t)
	total, err := tr.GetDailyPnL(context.Background(), "ACC-1", time.Now())
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestTradingDayRollsAtResetTimeNotMidnight(t *testing.T) {
	tr, _ := newTracker(t)
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	// 09:00 CT on the 31st is still part of the trading day that began
	// at 17:00 CT on the 30th, even though the calendar date changed
	// at midnight.
	beforeReset := time.Date(2026, 7, 31, 9, 0, 0, 0, loc)
	afterReset := time.Date(2026, 7, 31, 18, 0, 0, 0, loc)

	total, err := tr.AddTradePnL(context.Background(), "ACC-1", money.MustNew("-50"), beforeReset)
	require.NoError(t, err)
	require.Equal(t, "-50", total.String())

	// Same trading day, still before 17:00 CT on the 31st.
	sameDay, err := tr.GetDailyPnL(context.Background(), "ACC-1", beforeReset.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "-50", sameDay.String())

	// After the 17:00 CT reset boundary, this belongs to a new trading
	// day and reads back as zero until a trade is recorded.
	nextDay, err := tr.GetDailyPnL(context.Background(), "ACC-1", afterReset)
	require.NoError(t, err)
	require.True(t, nextDay.IsZero())
}

func TestResetDailyPnLZeroesLedger(t *testing.T) {
	tr, _ := newTracker(t)
	now := time.Now().UTC()
	_, err := tr.AddTradePnL(context.Background(), "ACC-1", money.MustNew("-156.50"), now)
	require.NoError(t, err)

	require.NoError(t, tr.ResetDailyPnL(context.Background(), "ACC-1", now))

	total, err := tr.GetDailyPnL(context.Background(), "ACC-1", now)
	require.NoError(t, err)
	require.True(t, total.IsZero())
}
