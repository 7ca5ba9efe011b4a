// Package lockout implements the Lockout Manager: per-account
// CLEAR/HARD_LOCKED/COOLDOWN state, durable via the Persistence Store
// and coordinated with the Timer Manager for cooldown expiry.
//
// The CLEAR -> HARD_LOCKED -> CLEAR and CLEAR -> COOLDOWN -> CLEAR
// transitions are validated the same way the teacher's position state
// machine validates football-system transitions: a precomputed
// from/to/condition lookup table gives O(1) checks instead of a chain
// of if-statements.
package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/kellandavies/riskd/internal/domain"
)

// State is one account's lockout state. Unlike the underlying storage
// rows (which track HARD and COOLDOWN independently), State is the
// precedence-resolved view: HARD wins whenever both are active.
type State string

const (
	StateClear      State = "CLEAR"
	StateHardLocked State = "HARD_LOCKED"
	StateCooldown   State = "COOLDOWN"
)

type transition struct {
	From      State
	To        State
	Condition string
}

// validTransitions enumerates every allowed state change. Precomputed
// into transitionLookup at init for O(1) validation.
var validTransitions = []transition{
	{StateClear, StateHardLocked, "set_hard"},
	{StateClear, StateCooldown, "set_cooldown"},
	{StateHardLocked, StateClear, "clear"},
	{StateCooldown, StateClear, "clear"},
	{StateCooldown, StateClear, "cooldown_expired"},
	{StateHardLocked, StateHardLocked, "set_hard"}, // re-arming with a new reason/rule
	{StateCooldown, StateCooldown, "set_cooldown"}, // new cooldown replaces one in flight
}

var transitionLookup map[State]map[State]map[string]bool

func init() {
	transitionLookup = make(map[State]map[State]map[string]bool)
	for _, tr := range validTransitions {
		if transitionLookup[tr.From] == nil {
			transitionLookup[tr.From] = make(map[State]map[string]bool)
		}
		if transitionLookup[tr.From][tr.To] == nil {
			transitionLookup[tr.From][tr.To] = make(map[string]bool)
		}
		transitionLookup[tr.From][tr.To][tr.Condition] = true
	}
}

func isValidTransition(from, to State, condition string) bool {
	if toMap, ok := transitionLookup[from]; ok {
		if condSet, ok := toMap[to]; ok {
			return condSet[condition]
		}
	}
	return false
}

func errInvalidTransition(from, to State) error {
	return fmt.Errorf("lockout: invalid transition %s -> %s", from, to)
}

// Store is the subset of storage.Store the manager needs.
type Store interface {
	SetLockout(ctx context.Context, l domain.Lockout) error
	ClearLockoutKind(ctx context.Context, accountID string, kind domain.LockoutKind) error
	ClearAllLockouts(ctx context.Context, accountID string) error
	GetLockout(ctx context.Context, accountID string) ([]domain.Lockout, error)
	AllLockouts(ctx context.Context) ([]domain.Lockout, error)
}

// Timers is the subset of timer.Manager the manager needs.
type Timers interface {
	Start(name string, duration time.Duration, cb func())
	Cancel(name string)
}

// Manager is the Lockout Manager.
type Manager struct {
	store  Store
	timers Timers
}

// New builds a Manager. Call Rehydrate once at startup before serving events.
func New(store Store, timers Timers) *Manager {
	return &Manager{store: store, timers: timers}
}

func cooldownTimerName(account string) string { return "lockout-cooldown:" + account }

// activeRows returns account's lockout rows with any row whose
// unlock_at has already passed filtered out as inactive — a HARD row
// set with an absolute unlock time (e.g. R009's "until session open")
// releases itself the instant that time passes rather than waiting for
// the next daily reset, and a COOLDOWN row self-heals the same way
// even if its timer callback never ran (e.g. after a crash/restart
// window before Rehydrate re-arms it). Expired rows are best-effort
// cleared from the store so they don't linger.
func (m *Manager) activeRows(ctx context.Context, account string) ([]domain.Lockout, error) {
	rows, err := m.store.GetLockout(ctx, account)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	active := make([]domain.Lockout, 0, len(rows))
	for _, row := range rows {
		if row.UnlockAt != nil && !row.UnlockAt.After(now) {
			_ = m.store.ClearLockoutKind(ctx, account, row.Kind)
			continue
		}
		active = append(active, row)
	}
	return active, nil
}

// kindState reports whether account currently carries an active row
// of kind, expressed as the corresponding State for transition checks.
func (m *Manager) kindState(ctx context.Context, account string, kind domain.LockoutKind) (State, error) {
	rows, err := m.activeRows(ctx, account)
	if err != nil {
		return StateClear, err
	}
	for _, row := range rows {
		if row.Kind != kind {
			continue
		}
		if kind == domain.LockoutHard {
			return StateHardLocked, nil
		}
		return StateCooldown, nil
	}
	return StateClear, nil
}

// SetHard persists a HARD lockout. A nil until means
// condition-cleared: only Clear (called by the owning rule, e.g.
// AuthLossGuard on re-auth) removes it.
func (m *Manager) SetHard(ctx context.Context, account, reason string, until *time.Time, sourceRule string) error {
	current, err := m.kindState(ctx, account, domain.LockoutHard)
	if err != nil {
		return err
	}
	if !isValidTransition(current, StateHardLocked, "set_hard") {
		return &domain.PersistenceError{Operation: "set_hard", Cause: errInvalidTransition(current, StateHardLocked)}
	}
	return m.store.SetLockout(ctx, domain.Lockout{
		AccountID:    account,
		Reason:       reason,
		Kind:         domain.LockoutHard,
		SourceRuleID: sourceRule,
		SetAt:        time.Now().UTC(),
		UnlockAt:     until,
	})
}

// SetCooldown persists a COOLDOWN lockout and arms a timer that clears
// it automatically on expiry.
func (m *Manager) SetCooldown(ctx context.Context, account, reason string, duration time.Duration, sourceRule string) error {
	current, err := m.kindState(ctx, account, domain.LockoutCooldown)
	if err != nil {
		return err
	}
	if !isValidTransition(current, StateCooldown, "set_cooldown") {
		return &domain.PersistenceError{Operation: "set_cooldown", Cause: errInvalidTransition(current, StateCooldown)}
	}
	unlockAt := time.Now().UTC().Add(duration)
	if err := m.store.SetLockout(ctx, domain.Lockout{
		AccountID:    account,
		Reason:       reason,
		Kind:         domain.LockoutCooldown,
		SourceRuleID: sourceRule,
		SetAt:        time.Now().UTC(),
		UnlockAt:     &unlockAt,
	}); err != nil {
		return err
	}
	m.timers.Start(cooldownTimerName(account), duration, func() {
		_ = m.store.ClearLockoutKind(context.Background(), account, domain.LockoutCooldown)
	})
	return nil
}

// Clear removes every lockout row for account and cancels any pending
// cooldown timer.
func (m *Manager) Clear(ctx context.Context, account string) error {
	m.timers.Cancel(cooldownTimerName(account))
	return m.store.ClearAllLockouts(ctx, account)
}

// ClearHard removes only the HARD row, leaving a concurrent COOLDOWN
// (if any) untouched. Used by rules whose own condition clears them,
// e.g. AuthLossGuard on SDK_CONNECTED + canTrade=true.
func (m *Manager) ClearHard(ctx context.Context, account string) error {
	return m.store.ClearLockoutKind(ctx, account, domain.LockoutHard)
}

// IsLocked reports whether account has any active lockout.
func (m *Manager) IsLocked(ctx context.Context, account string) (bool, error) {
	rows, err := m.activeRows(ctx, account)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Info returns the precedence-resolved lockout for account: HARD wins
// over COOLDOWN when both are active. Returns nil if neither is active.
func (m *Manager) Info(ctx context.Context, account string) (*domain.Lockout, error) {
	rows, err := m.activeRows(ctx, account)
	if err != nil {
		return nil, err
	}
	var hard, cooldown *domain.Lockout
	for i := range rows {
		switch rows[i].Kind {
		case domain.LockoutHard:
			hard = &rows[i]
		case domain.LockoutCooldown:
			cooldown = &rows[i]
		}
	}
	if hard != nil {
		return hard, nil
	}
	return cooldown, nil
}

// Rehydrate is called once at startup: expired cooldown rows are
// cleared, non-expired ones re-register their timers, and hard
// lockouts are left untouched (they persist until their owning rule
// clears them).
func (m *Manager) Rehydrate(ctx context.Context) error {
	all, err := m.store.AllLockouts(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, l := range all {
		if l.Kind != domain.LockoutCooldown {
			continue
		}
		if l.UnlockAt == nil || !l.UnlockAt.After(now) {
			if err := m.store.ClearLockoutKind(ctx, l.AccountID, domain.LockoutCooldown); err != nil {
				return err
			}
			continue
		}
		remaining := l.UnlockAt.Sub(now)
		account := l.AccountID
		m.timers.Start(cooldownTimerName(account), remaining, func() {
			_ = m.store.ClearLockoutKind(context.Background(), account, domain.LockoutCooldown)
		})
	}
	return nil
}
