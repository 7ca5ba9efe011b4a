// Package reset implements the Reset Scheduler: the daily wall-clock
// task that zeroes every account's realized-P&L ledger, releases
// daily-scoped lockouts, and tells the Risk Engine a new trading day
// has begun (spec.md §4.6).
package reset

import (
	"context"
	"time"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/rules"
	"github.com/sirupsen/logrus"
)

// PnLManager is the subset of pnl.Tracker the scheduler needs.
type PnLManager interface {
	ResetDailyPnL(ctx context.Context, account string, now time.Time) error
}

// LockoutStore is the subset of storage.Store the scheduler needs to
// release daily-scoped lockouts. It bypasses lockout.Manager's
// narrower interface deliberately: releasing by source_rule or
// unlock_at is a bulk, cross-account operation the Manager itself has
// no vocabulary for (its API is per-account, per-rule-triggered).
type LockoutStore interface {
	AllLockouts(ctx context.Context) ([]domain.Lockout, error)
	ClearLockoutKind(ctx context.Context, accountID string, kind domain.LockoutKind) error
}

// AccountSource lists every account the scheduler must reset.
type AccountSource interface {
	KnownAccounts(ctx context.Context) ([]string, error)
}

// EventSink is the subset of engine.Engine the scheduler needs to
// publish the synthesized DAILY_RESET event.
type EventSink interface {
	Process(ctx context.Context, event domain.RiskEvent) error
}

// Scheduler is the Reset Scheduler.
type Scheduler struct {
	PnL      PnLManager
	Lockouts LockoutStore
	Accounts AccountSource
	Engine   EventSink
	Location *time.Location
	Offset   time.Duration // daily_reset.time, expressed as a duration since local midnight
	Log      *logrus.Entry
}

// New builds a Scheduler.
func New(pnlMgr PnLManager, lockouts LockoutStore, accounts AccountSource, engine EventSink, loc *time.Location, offset time.Duration, log *logrus.Entry) *Scheduler {
	return &Scheduler{PnL: pnlMgr, Lockouts: lockouts, Accounts: accounts, Engine: engine, Location: loc, Offset: offset, Log: log}
}

// Run blocks, firing Fire at each computed daily-reset instant, until
// ctx is canceled. It recomputes the next fire time after every
// firing (and at startup) rather than using a fixed ticker, so it
// self-corrects across DST transitions instead of drifting.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := nextResetInstant(time.Now().UTC(), s.Location, s.Offset)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := s.Fire(ctx); err != nil && s.Log != nil {
				s.Log.WithError(err).Error("daily-reset-failed")
			}
		}
	}
}

// Fire runs one daily reset: reset_daily_pnl for every known account,
// clear daily-scoped lockouts, then publish DAILY_RESET so rules with
// internal per-day counters (R006) can rearm.
func (s *Scheduler) Fire(ctx context.Context) error {
	now := time.Now().UTC()
	accounts, err := s.Accounts.KnownAccounts(ctx)
	if err != nil {
		return err
	}
	reset := make([]string, 0, len(accounts))
	for _, account := range accounts {
		if err := s.PnL.ResetDailyPnL(ctx, account, now); err != nil {
			if s.Log != nil {
				s.Log.WithError(err).WithField("account_id", account).Error("reset-daily-pnl-failed")
			}
			continue
		}
		reset = append(reset, account)
	}
	clearErr := s.clearDailyLockouts(ctx, now)
	for _, account := range reset {
		if err := s.Engine.Process(ctx, domain.RiskEvent{
			EventType: domain.EventDailyReset,
			AccountID: account,
			Timestamp: now,
		}); err != nil && s.Log != nil {
			s.Log.WithError(err).WithField("account_id", account).Error("daily-reset-event-failed")
		}
	}
	return clearErr
}

// clearDailyLockouts releases every lockout whose unlock_at has passed
// or whose source_rule is a daily rule (spec.md §4.6 step 2): R003,
// R013, and R009 all set HARD lockouts this scheduler — not the
// triggering rule — is responsible for clearing.
func (s *Scheduler) clearDailyLockouts(ctx context.Context, now time.Time) error {
	all, err := s.Lockouts.AllLockouts(ctx)
	if err != nil {
		return err
	}
	for _, l := range all {
		expired := l.UnlockAt != nil && !l.UnlockAt.After(now)
		daily := rules.DailyRuleIDs[l.SourceRuleID]
		if !expired && !daily {
			continue
		}
		if err := s.Lockouts.ClearLockoutKind(ctx, l.AccountID, l.Kind); err != nil {
			if s.Log != nil {
				s.Log.WithError(err).WithField("account_id", l.AccountID).Error("clear-daily-lockout-failed")
			}
		}
	}
	return nil
}

// nextResetInstant returns the next UTC instant at which offset (a
// time-of-day, e.g. 17h00m for "17:00") occurs on loc's calendar,
// strictly after now.
func nextResetInstant(now time.Time, loc *time.Location, offset time.Duration) time.Time {
	local := now.In(loc)
	candidate := dailyInstant(local, loc, offset)
	if !candidate.After(now) {
		candidate = dailyInstant(local.AddDate(0, 0, 1), loc, offset)
	}
	return candidate
}

// dailyInstant resolves offset on day's calendar date in loc.
//
// A DST spring-forward gap (the wall clock requested doesn't exist)
// resolves to the instant just past the gap: when time.Date's own
// pick lands before the gap, it is moved forward by the offset change.
//
// A DST fall-back overlap (the wall clock occurs twice, once under
// each offset) is detected by probing the zone offset an hour before
// and an hour after the candidate time.Date picked; when shifting by
// the offset difference gives the same wall clock at a later
// instant, that later UTC instant is used, per spec.md §4.6.
func dailyInstant(day time.Time, loc *time.Location, offset time.Duration) time.Time {
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	sec := int((offset % time.Minute) / time.Second)
	naive := time.Date(day.Year(), day.Month(), day.Day(), h, m, sec, 0, loc)
	_, naiveOffset := naive.Zone()

	if naive.Hour() != h || naive.Minute() != m {
		// spring-forward gap
		_, afterOffset := naive.Add(2 * time.Hour).Zone()
		if afterOffset > naiveOffset {
			return naive.Add(time.Duration(afterOffset-naiveOffset) * time.Second)
		}
		return naive
	}

	for _, probe := range []time.Duration{-time.Hour, time.Hour} {
		_, otherOffset := naive.Add(probe).Zone()
		alt := naive.Add(time.Duration(naiveOffset-otherOffset) * time.Second)
		if alt.After(naive) && alt.Hour() == h && alt.Minute() == m {
			return alt
		}
	}
	return naive
}
