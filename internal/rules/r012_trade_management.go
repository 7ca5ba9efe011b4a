package rules

import (
	"fmt"
	"sync"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
	"github.com/kellandavies/riskd/internal/money"
)

// TradeManagement is R012: move a position's resting stop to breakeven
// once unrealized profit crosses a trigger, then trail it by a
// configured tick distance as the position continues in its favor.
//
// The wire schema has no field linking a position to its resting stop
// order's id (spec.md §6's Position schema carries no order
// reference), so TradeManagement tracks the stop order id itself,
// learned the same way NoStopLossGrace learns it: by observing
// ORDER_PLACED events of a stop type for the same contract.
type TradeManagement struct {
	mu         sync.Mutex
	stopOrders map[string]string      // accountID|contractID -> order id
	lastStop   map[string]money.Money // accountID|contractID -> last stop price this rule set
}

// NewTradeManagement builds an empty TradeManagement tracker.
func NewTradeManagement() *TradeManagement {
	return &TradeManagement{
		stopOrders: make(map[string]string),
		lastStop:   make(map[string]money.Money),
	}
}

func (TradeManagement) ID() string { return IDTradeManagement }

func tmKey(accountID, contractID string) string { return accountID + "|" + contractID }

func (r *TradeManagement) Evaluate(event domain.RiskEvent, view engine.View) (*domain.Violation, error) {
	cfg := view.Config().Rules.TradeManagement
	if !cfg.Enabled {
		return nil, nil
	}

	switch event.EventType {
	case domain.EventOrderPlaced:
		if event.Order != nil && event.Order.Type.IsStopLoss() {
			r.mu.Lock()
			r.stopOrders[tmKey(event.AccountID, event.Order.ContractID)] = event.Order.OrderID
			r.mu.Unlock()
		}
		return nil, nil
	case domain.EventPositionClosed:
		if event.Position != nil {
			key := tmKey(event.AccountID, event.Position.ContractID)
			r.mu.Lock()
			delete(r.stopOrders, key)
			delete(r.lastStop, key)
			r.mu.Unlock()
		}
		return nil, nil
	case domain.EventPositionUpdated, domain.EventUnrealizedPnLUpdate:
	default:
		return nil, nil
	}

	positions := view.Positions()
	if event.Position != nil {
		positions = []domain.Position{*event.Position}
	}

	trigger, err := money.New(cfg.BreakevenTrigger)
	if err != nil {
		return nil, fmt.Errorf("trade_management.breakeven_trigger: %w", err)
	}

	for _, p := range positions {
		if !p.UnrealizedPnL.GreaterThanOrEqual(trigger) {
			continue
		}
		key := tmKey(event.AccountID, p.ContractID)
		r.mu.Lock()
		orderID, haveStop := r.stopOrders[key]
		r.mu.Unlock()
		if !haveStop {
			continue
		}

		desired := r.desiredStop(p, view, cfg.TrailingStopTicks)
		r.mu.Lock()
		last, seen := r.lastStop[key]
		r.mu.Unlock()
		if seen && !stopIsImprovementOver(desired, last, p.Side) {
			continue
		}
		r.mu.Lock()
		r.lastStop[key] = desired
		r.mu.Unlock()

		return &domain.Violation{
			RuleID:   IDTradeManagement,
			Severity: domain.SeverityInfo,
			Message:  fmt.Sprintf("moving %s stop to %s", p.ContractID, desired),
			Action:   domain.ActionModifyOrder,
			Payload: map[string]string{
				PayloadOrderID:    orderID,
				PayloadContractID: p.ContractID,
				PayloadStopPrice:  desired.String(),
			},
		}, nil
	}
	return nil, nil
}

// desiredStop returns the breakeven price, or — once a mark is
// available and trailing_stop_ticks is configured — a price trailing
// the mark by that many ticks in the position's favor.
func (r *TradeManagement) desiredStop(p domain.Position, view engine.View, trailingTicks int) money.Money {
	breakeven := p.EntryPrice
	if trailingTicks <= 0 {
		return breakeven
	}
	mark, ok := view.MarketPrice(p.SymbolRoot)
	if !ok {
		return breakeven
	}
	tick, ok := view.TickEconomics(p.SymbolRoot)
	if !ok {
		return breakeven
	}
	distance := tick.TickSize.MulInt(trailingTicks)
	var trailing money.Money
	if p.Side == domain.Short {
		trailing = mark.Add(distance)
	} else {
		trailing = mark.Sub(distance)
	}
	if stopIsImprovementOver(trailing, breakeven, p.Side) {
		return trailing
	}
	return breakeven
}

// stopIsImprovementOver reports whether candidate is a tighter (more
// protective) stop than prior for side: higher for a long, lower for
// a short.
func stopIsImprovementOver(candidate, prior money.Money, side domain.Side) bool {
	if side == domain.Short {
		return candidate.Cmp(prior) < 0
	}
	return candidate.Cmp(prior) > 0
}
