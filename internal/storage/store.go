// Package storage is the daemon's durable Persistence Store: daily
// realized P&L per account, active lockouts, the append-only violation
// audit log, and (optionally) named timer deadlines. It is backed by a
// single pure-Go sqlite file so the daemon never needs cgo.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/money"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the sqlite-backed Persistence Store. Every mutation runs in
// its own short-lived transaction; Store performs no in-memory
// caching, so every read reflects the last committed write.
type Store struct {
	db *sqlx.DB
}

// Open creates the parent directory if needed, opens (or creates) the
// sqlite file at path, and applies migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("storage: creating parent directory: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: opening %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, avoid SQLITE_BUSY
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("storage: reading embedded migrations: %w", err)
	}
	for _, entry := range entries {
		sqlBytes, err := migrations.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("storage: reading migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("storage: applying migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const timeLayout = time.RFC3339Nano

// AddTradePnL adds delta to account's cumulative realized P&L for
// tradingDay, creating the row if absent, and returns the row after
// the update. The ledger accepts writes unconditionally — PRE-CHECK
// suppression happens only at rule evaluation, never here.
func (s *Store) AddTradePnL(ctx context.Context, accountID, tradingDay string, delta money.Money) (domain.PnLLedgerRow, error) {
	var row domain.PnLLedgerRow
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var existing struct {
			CumulativePnL string `db:"cumulative_pnl"`
			TradeCount    int    `db:"trade_count"`
		}
		err := tx.GetContext(ctx, &existing,
			`SELECT cumulative_pnl, trade_count FROM pnl_daily WHERE account_id = ? AND trading_day = ?`,
			accountID, tradingDay)
		now := time.Now().UTC()
		switch {
		case errors.Is(err, sql.ErrNoRows):
			total := delta
			_, execErr := tx.ExecContext(ctx,
				`INSERT INTO pnl_daily (account_id, trading_day, cumulative_pnl, trade_count, updated_at) VALUES (?, ?, ?, ?, ?)`,
				accountID, tradingDay, total.String(), 1, now.Format(timeLayout))
			if execErr != nil {
				return execErr
			}
			row = domain.PnLLedgerRow{AccountID: accountID, TradingDay: tradingDay, CumulativePnL: total, TradeCount: 1, UpdatedAt: now}
			return nil
		case err != nil:
			return err
		default:
			current, perr := money.New(existing.CumulativePnL)
			if perr != nil {
				return perr
			}
			total := current.Add(delta)
			count := existing.TradeCount + 1
			_, execErr := tx.ExecContext(ctx,
				`UPDATE pnl_daily SET cumulative_pnl = ?, trade_count = ?, updated_at = ? WHERE account_id = ? AND trading_day = ?`,
				total.String(), count, now.Format(timeLayout), accountID, tradingDay)
			if execErr != nil {
				return execErr
			}
			row = domain.PnLLedgerRow{AccountID: accountID, TradingDay: tradingDay, CumulativePnL: total, TradeCount: count, UpdatedAt: now}
			return nil
		}
	})
	if err != nil {
		return domain.PnLLedgerRow{}, &domain.PersistenceError{Operation: "add_trade_pnl", Cause: err}
	}
	return row, nil
}

// GetDailyPnL returns the ledger row for account/tradingDay, or a zero
// row with TradeCount 0 if no trade has been recorded yet today.
func (s *Store) GetDailyPnL(ctx context.Context, accountID, tradingDay string) (domain.PnLLedgerRow, error) {
	var r struct {
		CumulativePnL string    `db:"cumulative_pnl"`
		TradeCount    int       `db:"trade_count"`
		UpdatedAt     string    `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &r,
		`SELECT cumulative_pnl, trade_count, updated_at FROM pnl_daily WHERE account_id = ? AND trading_day = ?`,
		accountID, tradingDay)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PnLLedgerRow{AccountID: accountID, TradingDay: tradingDay, CumulativePnL: money.Zero}, nil
	}
	if err != nil {
		return domain.PnLLedgerRow{}, &domain.PersistenceError{Operation: "get_daily_pnl", Cause: err}
	}
	pnl, err := money.New(r.CumulativePnL)
	if err != nil {
		return domain.PnLLedgerRow{}, &domain.PersistenceError{Operation: "get_daily_pnl", Cause: err}
	}
	updated, _ := time.Parse(timeLayout, r.UpdatedAt)
	return domain.PnLLedgerRow{AccountID: accountID, TradingDay: tradingDay, CumulativePnL: pnl, TradeCount: r.TradeCount, UpdatedAt: updated}, nil
}

// ResetDailyPnL zeroes account's ledger row for tradingDay, called by
// the Reset Scheduler at the configured daily reset instant.
func (s *Store) ResetDailyPnL(ctx context.Context, accountID, tradingDay string) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO pnl_daily (account_id, trading_day, cumulative_pnl, trade_count, updated_at)
			 VALUES (?, ?, '0', 0, ?)
			 ON CONFLICT(account_id, trading_day) DO UPDATE SET cumulative_pnl = '0', trade_count = 0, updated_at = excluded.updated_at`,
			accountID, tradingDay, time.Now().UTC().Format(timeLayout))
		return execErr
	})
	if err != nil {
		return &domain.PersistenceError{Operation: "reset_daily_pnl", Cause: err}
	}
	return nil
}

// SetLockout durably records a lockout for account, replacing any
// prior row of the same kind. HARD and COOLDOWN rows for the same
// account coexist independently.
func (s *Store) SetLockout(ctx context.Context, l domain.Lockout) error {
	var unlockAt sql.NullString
	if l.UnlockAt != nil {
		unlockAt = sql.NullString{String: l.UnlockAt.UTC().Format(timeLayout), Valid: true}
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO lockouts (account_id, kind, reason, source_rule_id, set_at, unlock_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(account_id, kind) DO UPDATE SET
			   reason = excluded.reason, source_rule_id = excluded.source_rule_id,
			   set_at = excluded.set_at, unlock_at = excluded.unlock_at`,
			l.AccountID, string(l.Kind), l.Reason, l.SourceRuleID, l.SetAt.UTC().Format(timeLayout), unlockAt)
		return execErr
	})
	if err != nil {
		return &domain.PersistenceError{Operation: "set_lockout", Cause: err}
	}
	return nil
}

// ClearLockoutKind removes the row of the given kind for account, if any.
func (s *Store) ClearLockoutKind(ctx context.Context, accountID string, kind domain.LockoutKind) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, execErr := tx.ExecContext(ctx, `DELETE FROM lockouts WHERE account_id = ? AND kind = ?`, accountID, string(kind))
		return execErr
	})
	if err != nil {
		return &domain.PersistenceError{Operation: "clear_lockout", Cause: err}
	}
	return nil
}

// ClearAllLockouts removes every lockout row for account (both kinds).
func (s *Store) ClearAllLockouts(ctx context.Context, accountID string) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, execErr := tx.ExecContext(ctx, `DELETE FROM lockouts WHERE account_id = ?`, accountID)
		return execErr
	})
	if err != nil {
		return &domain.PersistenceError{Operation: "clear_lockout", Cause: err}
	}
	return nil
}

// GetLockout returns account's lockout rows (at most one HARD, one
// COOLDOWN). Callers apply precedence themselves (see internal/lockout).
func (s *Store) GetLockout(ctx context.Context, accountID string) ([]domain.Lockout, error) {
	var rows []struct {
		AccountID    string         `db:"account_id"`
		Reason       string         `db:"reason"`
		Kind         string         `db:"kind"`
		SourceRuleID string         `db:"source_rule_id"`
		SetAt        string         `db:"set_at"`
		UnlockAt     sql.NullString `db:"unlock_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT account_id, reason, kind, source_rule_id, set_at, unlock_at FROM lockouts WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, &domain.PersistenceError{Operation: "get_lockout", Cause: err}
	}
	out := make([]domain.Lockout, 0, len(rows))
	for _, row := range rows {
		setAt, _ := time.Parse(timeLayout, row.SetAt)
		l := domain.Lockout{
			AccountID:    row.AccountID,
			Reason:       row.Reason,
			Kind:         domain.LockoutKind(row.Kind),
			SourceRuleID: row.SourceRuleID,
			SetAt:        setAt,
		}
		if row.UnlockAt.Valid {
			t, perr := time.Parse(timeLayout, row.UnlockAt.String)
			if perr == nil {
				l.UnlockAt = &t
			}
		}
		out = append(out, l)
	}
	return out, nil
}

// AllLockouts returns every currently persisted lockout, used by the
// Lockout Manager's startup rehydration.
func (s *Store) AllLockouts(ctx context.Context) ([]domain.Lockout, error) {
	var rows []struct {
		AccountID    string         `db:"account_id"`
		Reason       string         `db:"reason"`
		Kind         string         `db:"kind"`
		SourceRuleID string         `db:"source_rule_id"`
		SetAt        string         `db:"set_at"`
		UnlockAt     sql.NullString `db:"unlock_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT account_id, reason, kind, source_rule_id, set_at, unlock_at FROM lockouts`); err != nil {
		return nil, &domain.PersistenceError{Operation: "all_lockouts", Cause: err}
	}
	out := make([]domain.Lockout, 0, len(rows))
	for _, row := range rows {
		setAt, _ := time.Parse(timeLayout, row.SetAt)
		l := domain.Lockout{
			AccountID:    row.AccountID,
			Reason:       row.Reason,
			Kind:         domain.LockoutKind(row.Kind),
			SourceRuleID: row.SourceRuleID,
			SetAt:        setAt,
		}
		if row.UnlockAt.Valid {
			t, perr := time.Parse(timeLayout, row.UnlockAt.String)
			if perr == nil {
				l.UnlockAt = &t
			}
		}
		out = append(out, l)
	}
	return out, nil
}

// AppendViolation writes one append-only audit row.
func (s *Store) AppendViolation(ctx context.Context, v domain.ViolationAudit) error {
	contextJSON, err := encodeCompositeContext(v.CompositeContext)
	if err != nil {
		return &domain.PersistenceError{Operation: "append_violation", Cause: err}
	}
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO violations (id, timestamp, account_id, rule_id, severity, message, action_taken, composite_context_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID, v.Timestamp.UTC().Format(timeLayout), v.AccountID, v.RuleID, string(v.Severity), v.Message, v.ActionTaken, contextJSON)
		return execErr
	})
	if err != nil {
		return &domain.PersistenceError{Operation: "append_violation", Cause: err}
	}
	return nil
}

// KnownAccounts returns every distinct account_id the store has ever
// recorded a P&L row or lockout for, used by the Reset Scheduler to
// decide which accounts need reset_daily_pnl at the daily firing.
func (s *Store) KnownAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := s.db.SelectContext(ctx, &accounts,
		`SELECT account_id FROM pnl_daily UNION SELECT account_id FROM lockouts`)
	if err != nil {
		return nil, &domain.PersistenceError{Operation: "known_accounts", Cause: err}
	}
	return accounts, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
