package router

import (
	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/money"
)

// recomputeAndMaybeSynthesize implements spec.md §4.2 steps 4-5:
// update the per-contract mark cache from quote, recompute unrealized
// P&L for every tracked position on that contract's root, and — if
// the account's total unrealized P&L moved by at least
// unrealizedPnLThreshold since the last emit — publish a synthesized
// UNREALIZED_PNL_UPDATE so rule re-evaluation is throttled rather
// than firing on every tick.
func (r *Router) recomputeAndMaybeSynthesize(accountID string, quote domain.Quote) {
	mark := quote.ReferencePrice()

	r.mu.Lock()
	r.ensureAccount(accountID)
	r.marks[accountID][quote.SymbolRoot] = mark
	newTotal := r.recomputeTrackedLocked(accountID, quote.SymbolRoot, mark)

	last := r.lastTotalUnrealized[accountID] // zero value (money.Zero-equivalent) if never emitted
	delta := newTotal.Sub(last)
	if delta.IsNegative() {
		delta = delta.Neg()
	}
	shouldSynthesize := delta.GreaterThanOrEqual(unrealizedPnLThreshold)
	if shouldSynthesize {
		r.lastTotalUnrealized[accountID] = newTotal
	}
	r.mu.Unlock()

	if shouldSynthesize {
		r.publish(domain.RiskEvent{
			EventType: domain.EventUnrealizedPnLUpdate,
			AccountID: accountID,
			Timestamp: quote.Timestamp,
			RawData: map[string]any{
				"total_unrealized_pnl": newTotal.String(),
			},
		})
	}
}

// recomputeTrackedLocked recomputes every tracked position whose
// symbol root is root against mark, and returns account's new total
// unrealized P&L across every tracked position (not just root's).
// Callers must hold r.mu.
func (r *Router) recomputeTrackedLocked(accountID string, root domain.SymbolRoot, mark money.Money) money.Money {
	total := money.Zero
	for contractID, tp := range r.positions[accountID] {
		if tp.position.SymbolRoot == root {
			tp.position.UnrealizedPnL = domain.ComputeUnrealizedPnL(tp.position.Side, tp.position.EntryPrice, mark, tp.tick, tp.position.Quantity)
			r.positions[accountID][contractID] = tp
		}
		total = total.Add(tp.position.UnrealizedPnL)
	}
	return total
}
