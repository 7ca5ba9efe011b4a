// Package engine implements the Risk Engine: the PRE-CHECK gate,
// sequential rule evaluation, and enforcement dispatch described in
// spec.md §4.7. Rules never touch the broker or the persistence store
// directly; they read everything through the read-only View this
// package hands them.
package engine

import (
	"time"

	"github.com/kellandavies/riskd/internal/config"
	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/money"
)

// View is the immutable per-event snapshot spec.md's Design Notes
// describe as EngineView: pnl_for, is_locked, positions,
// market_price, config. It is built fresh from the live state fabric
// before every rule evaluation (copy-on-read, not copy-on-write — no
// rule ever sees a reference it could mutate) and handed to every
// rule by value.
type View struct {
	Now       time.Time
	AccountID string
	Cfg       *config.Config

	positions        []domain.Position
	realizedPnLToday money.Money
	locked           bool
	lockInfo         *domain.Lockout
	marketPriceFn    func(domain.SymbolRoot) (money.Money, bool)
	tickEconomicsFn  func(domain.SymbolRoot) (domain.TickEconomics, bool)
}

// Positions returns every currently open position for the account.
func (v View) Positions() []domain.Position { return v.positions }

// PositionsForSymbol filters Positions to one symbol root, a
// convenience most per-symbol rules (R002, R011) need.
func (v View) PositionsForSymbol(root domain.SymbolRoot) []domain.Position {
	var out []domain.Position
	for _, p := range v.positions {
		if p.SymbolRoot == root {
			out = append(out, p)
		}
	}
	return out
}

// TotalQuantity sums quantity across every open position (R001).
func (v View) TotalQuantity() int {
	total := 0
	for _, p := range v.positions {
		total += p.Quantity
	}
	return total
}

// TotalUnrealizedPnL sums unrealized P&L across every open position (R004).
func (v View) TotalUnrealizedPnL() money.Money {
	total := money.Zero
	for _, p := range v.positions {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}

// PnLForToday returns the account's cumulative realized P&L for the
// current trading day (spec.md's "pnl_for" accessor).
func (v View) PnLForToday() money.Money { return v.realizedPnLToday }

// IsLocked reports whether the account was locked at snapshot time.
func (v View) IsLocked() bool { return v.locked }

// LockInfo returns the precedence-resolved active lockout, or nil.
func (v View) LockInfo() *domain.Lockout { return v.lockInfo }

// MarketPrice returns the last observed mark for root, if any.
func (v View) MarketPrice(root domain.SymbolRoot) (money.Money, bool) {
	if v.marketPriceFn == nil {
		return money.Money{}, false
	}
	return v.marketPriceFn(root)
}

// TickEconomics returns the static tick size/value for root, if known.
func (v View) TickEconomics(root domain.SymbolRoot) (domain.TickEconomics, bool) {
	if v.tickEconomicsFn == nil {
		return domain.TickEconomics{}, false
	}
	return v.tickEconomicsFn(root)
}

// Config exposes the immutable configuration snapshot.
func (v View) Config() *config.Config { return v.Cfg }

// ViewParams is the exported field set behind View, used by buildView
// and by rule-package tests that need to construct a View without an
// Engine to drive it.
type ViewParams struct {
	Now              time.Time
	AccountID        string
	Cfg              *config.Config
	Positions        []domain.Position
	RealizedPnLToday money.Money
	Locked           bool
	LockInfo         *domain.Lockout
	MarketPriceFn    func(domain.SymbolRoot) (money.Money, bool)
	TickEconomicsFn  func(domain.SymbolRoot) (domain.TickEconomics, bool)
}

// NewView builds a View from ViewParams.
func NewView(p ViewParams) View {
	return View{
		Now:              p.Now,
		AccountID:        p.AccountID,
		Cfg:              p.Cfg,
		positions:        p.Positions,
		realizedPnLToday: p.RealizedPnLToday,
		locked:           p.Locked,
		lockInfo:         p.LockInfo,
		marketPriceFn:    p.MarketPriceFn,
		tickEconomicsFn:  p.TickEconomicsFn,
	}
}
