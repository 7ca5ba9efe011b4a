// Package pnl implements the P&L Tracker: the account's realized-P&L
// ledger for the current trading day, durably backed by the
// Persistence Store.
package pnl

import (
	"context"
	"time"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/money"
)

// Store is the subset of storage.Store the tracker needs.
type Store interface {
	AddTradePnL(ctx context.Context, accountID, tradingDay string, delta money.Money) (domain.PnLLedgerRow, error)
	GetDailyPnL(ctx context.Context, accountID, tradingDay string) (domain.PnLLedgerRow, error)
	ResetDailyPnL(ctx context.Context, accountID, tradingDay string) error
}

// Tracker is the P&L Tracker. Trading days are keyed by the daily
// reset's timezone and wall-clock time, since a trading day runs from
// one reset firing to the next rather than from local midnight.
type Tracker struct {
	store       Store
	location    *time.Location
	resetOffset time.Duration // time-of-day the daily reset fires, e.g. 17h for "17:00:00"
}

// New builds a Tracker whose trading-day boundary follows loc (the
// configured daily_reset.timezone) and resetOffset (the configured
// daily_reset.time expressed as a duration since local midnight).
func New(store Store, loc *time.Location, resetOffset time.Duration) *Tracker {
	return &Tracker{store: store, location: loc, resetOffset: resetOffset}
}

// tradingDay returns the calendar date (in the configured timezone)
// that labels the trading day containing at. A trading day runs from
// the reset instant on one date to the reset instant on the next, so
// a timestamp before today's reset still belongs to yesterday's day.
func (t *Tracker) tradingDay(at time.Time) string {
	local := at.In(t.location)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.location).Add(t.resetOffset)
	day := local
	if local.Before(boundary) {
		day = local.AddDate(0, 0, -1)
	}
	return day.Format("2006-01-02")
}

// AddTradePnL adds delta to account's realized P&L for the trading day
// containing at, and returns the new cumulative total.
func (t *Tracker) AddTradePnL(ctx context.Context, account string, delta money.Money, at time.Time) (money.Money, error) {
	row, err := t.store.AddTradePnL(ctx, account, t.tradingDay(at), delta)
	if err != nil {
		return money.Zero, err
	}
	return row.CumulativePnL, nil
}

// GetDailyPnL returns account's cumulative realized P&L for the
// trading day containing now, creating the row lazily (a day with no
// trades yet reads as zero).
func (t *Tracker) GetDailyPnL(ctx context.Context, account string, now time.Time) (money.Money, error) {
	row, err := t.store.GetDailyPnL(ctx, account, t.tradingDay(now))
	if err != nil {
		return money.Zero, err
	}
	return row.CumulativePnL, nil
}

// ResetDailyPnL zeroes account's ledger for the trading day containing
// now. Called only by the Reset Scheduler at the configured instant.
func (t *Tracker) ResetDailyPnL(ctx context.Context, account string, now time.Time) error {
	return t.store.ResetDailyPnL(ctx, account, t.tradingDay(now))
}
