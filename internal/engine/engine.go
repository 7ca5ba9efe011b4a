package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kellandavies/riskd/internal/config"
	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/money"
	"github.com/sirupsen/logrus"
)

// Rule is one risk rule. Evaluate must be a pure read over event and
// view: a rule never calls the broker, the store, or a timer directly.
// A non-nil Violation fires; a nil Violation means the rule held.
type Rule interface {
	ID() string
	Evaluate(event domain.RiskEvent, view View) (*domain.Violation, error)
}

// LockoutManager is the subset of lockout.Manager the engine needs.
type LockoutManager interface {
	IsLocked(ctx context.Context, account string) (bool, error)
	Info(ctx context.Context, account string) (*domain.Lockout, error)
	SetHard(ctx context.Context, account, reason string, until *time.Time, sourceRule string) error
	SetCooldown(ctx context.Context, account, reason string, duration time.Duration, sourceRule string) error
	Clear(ctx context.Context, account string) error
	ClearHard(ctx context.Context, account string) error
}

// PnLManager is the subset of pnl.Tracker the engine needs.
type PnLManager interface {
	GetDailyPnL(ctx context.Context, account string, now time.Time) (money.Money, error)
	AddTradePnL(ctx context.Context, account string, delta money.Money, at time.Time) (money.Money, error)
}

// PositionBook is the subset of router.Router the engine needs.
type PositionBook interface {
	Positions(accountID string) []domain.Position
	MarkPrice(accountID string, root domain.SymbolRoot) (money.Money, bool)
}

// TickTable is the subset of ticktable.Registry the engine needs.
type TickTable interface {
	TickSizeForRoot(root domain.SymbolRoot) (domain.TickEconomics, bool)
}

// Enforcer is the subset of enforcement.Executor the engine needs.
type Enforcer interface {
	Apply(ctx context.Context, accountID string, v domain.Violation) error
}

// AuditWriter is the subset of storage.Store the engine needs.
type AuditWriter interface {
	AppendViolation(ctx context.Context, v domain.ViolationAudit) error
}

// bypassEvents never trip PRE-CHECK suppression: a locked account
// still needs its auth state, connectivity state, and daily reset
// accounted for, even though every trading rule is suppressed.
var bypassEvents = map[domain.EventType]bool{
	domain.EventDailyReset:      true,
	domain.EventSDKConnected:    true,
	domain.EventSDKDisconnected: true,
	domain.EventAuthFailed:      true,
}

// Engine is the Risk Engine: PRE-CHECK lockout gate, sequential rule
// evaluation, and ordered enforcement dispatch (spec.md §4.7).
type Engine struct {
	Lockouts LockoutManager
	PnL      PnLManager
	Book     PositionBook
	Enforce  Enforcer
	Audit    AuditWriter
	Ticks    TickTable
	Rules    []Rule
	Cfg      *config.Config
	Log      *logrus.Entry

	degraded atomic.Bool
}

// New builds an Engine. Rules are evaluated in the order given. ticks
// may be nil for callers that never register a trade-management rule.
func New(lockouts LockoutManager, pnl PnLManager, book PositionBook, enforce Enforcer, audit AuditWriter, ticks TickTable, rules []Rule, cfg *config.Config, log *logrus.Entry) *Engine {
	return &Engine{Lockouts: lockouts, PnL: pnl, Book: book, Enforce: enforce, Audit: audit, Ticks: ticks, Rules: rules, Cfg: cfg, Log: log}
}

// SetDegraded flips the engine into (or out of) degraded mode. In
// degraded mode the engine stops trusting rule evaluation entirely and
// synthesizes a permanent hard lockout for every account it sees,
// since it can no longer durably record lockouts, P&L, or audit rows.
// The flag changes only through this method: no component in this
// module calls it when a persistence write fails, and nothing clears
// it on its own.
func (e *Engine) SetDegraded(v bool) { e.degraded.Store(v) }

// Degraded reports whether the engine is currently in degraded mode.
func (e *Engine) Degraded() bool { return e.degraded.Load() }

// Process evaluates one RiskEvent: PRE-CHECK, rule evaluation, and
// enforcement dispatch, in that order. It never returns an error for a
// single rule's failure — per-rule errors are logged and isolated so
// one broken rule can never suppress its siblings.
func (e *Engine) Process(ctx context.Context, event domain.RiskEvent) error {
	if e.degraded.Load() {
		return e.enforceDegraded(ctx, event.AccountID)
	}

	// Ledger writes happen before PRE-CHECK and unconditionally on a
	// closed position: spec.md §9's open question defers to the
	// source's behavior of accepting realized P&L regardless of
	// lockout state, suppressing only rule evaluation below.
	if event.EventType == domain.EventPositionClosed && event.RealizedPnL != nil {
		if _, err := e.PnL.AddTradePnL(ctx, event.AccountID, *event.RealizedPnL, event.Timestamp); err != nil {
			return fmt.Errorf("engine: recording realized pnl: %w", err)
		}
	}

	locked, err := e.Lockouts.IsLocked(ctx, event.AccountID)
	if err != nil {
		return fmt.Errorf("engine: checking lockout: %w", err)
	}
	if locked && !bypassEvents[event.EventType] {
		return nil // PRE-CHECK suppression: zero violations while locked
	}

	view, err := e.buildView(ctx, event)
	if err != nil {
		return fmt.Errorf("engine: building view: %w", err)
	}

	var violations []domain.Violation
	for _, rule := range e.Rules {
		v, err := e.evaluateIsolated(rule, event, view)
		if err != nil {
			if e.Log != nil {
				e.Log.WithFields(logrus.Fields{
					"account_id": event.AccountID,
					"rule_id":    rule.ID(),
					"error":      err.Error(),
				}).Error("rule-evaluation-failed")
			}
			continue
		}
		if v != nil {
			violations = append(violations, *v)
		}
	}

	for _, v := range violations {
		if err := e.dispatch(ctx, event.AccountID, v); err != nil {
			if e.Log != nil {
				e.Log.WithFields(logrus.Fields{
					"account_id": event.AccountID,
					"rule_id":    v.RuleID,
					"error":      err.Error(),
				}).Error("enforcement-dispatch-failed")
			}
		}
	}
	return nil
}

// evaluateIsolated recovers from a panicking rule so a single buggy
// rule can never take down event processing for every other rule.
func (e *Engine) evaluateIsolated(rule Rule, event domain.RiskEvent, view View) (v *domain.Violation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.ID(), r)
		}
	}()
	return rule.Evaluate(event, view)
}

// dispatch writes the audit row first, then applies the enforcement
// action, matching spec.md's audit-before-effect ordering so a crash
// between the two always under-reports the action rather than losing
// the violation entirely.
func (e *Engine) dispatch(ctx context.Context, accountID string, v domain.Violation) error {
	audit := domain.ViolationAudit{
		ID:               uuid.NewString(),
		Timestamp:        time.Now().UTC(),
		AccountID:        accountID,
		RuleID:           v.RuleID,
		Severity:         v.Severity,
		Message:          v.Message,
		ActionTaken:      string(v.Action),
		CompositeContext: v.CompositeContext,
	}
	if err := e.Audit.AppendViolation(ctx, audit); err != nil {
		return fmt.Errorf("appending violation audit: %w", err)
	}
	if e.Log != nil {
		e.Log.WithFields(logrus.Fields{
			"account_id": accountID,
			"rule_id":    v.RuleID,
			"action":     string(v.Action),
			"message":    v.Message,
		}).Error("enforcement-triggered")
	}
	if err := e.Enforce.Apply(ctx, accountID, v); err != nil {
		return fmt.Errorf("applying enforcement action %s: %w", v.Action, err)
	}
	return nil
}

// buildView assembles a fresh, read-only View for one event. The
// position slice is copied and realized P&L and lock state are read
// once at build time; market-price and tick-economics lookups stay
// live calls into the position book and tick table.
func (e *Engine) buildView(ctx context.Context, event domain.RiskEvent) (View, error) {
	now := event.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	realized, err := e.PnL.GetDailyPnL(ctx, event.AccountID, now)
	if err != nil {
		return View{}, err
	}
	locked, err := e.Lockouts.IsLocked(ctx, event.AccountID)
	if err != nil {
		return View{}, err
	}
	info, err := e.Lockouts.Info(ctx, event.AccountID)
	if err != nil {
		return View{}, err
	}
	positions := e.Book.Positions(event.AccountID)
	snapshot := make([]domain.Position, len(positions))
	copy(snapshot, positions)

	return NewView(ViewParams{
		Now:              now,
		AccountID:        event.AccountID,
		Cfg:              e.Cfg,
		Positions:        snapshot,
		RealizedPnLToday: realized,
		Locked:           locked,
		LockInfo:         info,
		MarketPriceFn: func(root domain.SymbolRoot) (money.Money, bool) {
			return e.Book.MarkPrice(event.AccountID, root)
		},
		TickEconomicsFn: func(root domain.SymbolRoot) (domain.TickEconomics, bool) {
			if e.Ticks == nil {
				return domain.TickEconomics{}, false
			}
			return e.Ticks.TickSizeForRoot(root)
		},
	}), nil
}

// enforceDegraded synthesizes the fail-safe permanent hard lockout
// degraded mode demands: with the store unreachable, SetHard itself
// may fail too, in which case the caller (the composition root's
// task-runtime supervisor) must already have stopped accepting new
// orders at the SDK boundary.
func (e *Engine) enforceDegraded(ctx context.Context, accountID string) error {
	return e.Lockouts.SetHard(ctx, accountID, "state store unavailable", nil, "DEGRADED")
}
