package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
)

// TradeFrequency is R006: flatten and cooldown once an account's fill
// rate exceeds configured per-minute, per-hour, or per-session caps.
//
// The wire schema's Order fields don't distinguish an entry fill from
// an exit fill (spec.md §6 lists only type/side/size/status), so every
// ORDER_FILLED event counts toward the frequency window; a closing
// trade's accompanying POSITION_CLOSED event is a distinct EventType
// and is never counted here.
type TradeFrequency struct {
	mu        sync.Mutex
	fillsByAccount map[string][]time.Time
	sessionStart   map[string]time.Time
}

// NewTradeFrequency builds an empty TradeFrequency tracker.
func NewTradeFrequency() *TradeFrequency {
	return &TradeFrequency{
		fillsByAccount: make(map[string][]time.Time),
		sessionStart:   make(map[string]time.Time),
	}
}

func (TradeFrequency) ID() string { return IDTradeFrequency }

func (r *TradeFrequency) Evaluate(event domain.RiskEvent, view engine.View) (*domain.Violation, error) {
	if event.EventType == domain.EventDailyReset {
		r.mu.Lock()
		delete(r.fillsByAccount, event.AccountID)
		delete(r.sessionStart, event.AccountID)
		r.mu.Unlock()
		return nil, nil
	}

	cfg := view.Config().Rules.TradeFrequency
	if !cfg.Enabled {
		return nil, nil
	}
	if event.EventType != domain.EventOrderFilled {
		return nil, nil
	}

	now := view.Now
	r.mu.Lock()
	if _, ok := r.sessionStart[event.AccountID]; !ok {
		r.sessionStart[event.AccountID] = now
	}
	fills := append(r.fillsByAccount[event.AccountID], now)
	r.fillsByAccount[event.AccountID] = fills
	sessionStart := r.sessionStart[event.AccountID]
	r.mu.Unlock()

	perMinute := countSince(fills, now.Add(-time.Minute))
	perHour := countSince(fills, now.Add(-time.Hour))
	perSession := countSince(fills, sessionStart)

	var breached string
	switch {
	case cfg.PerMinute > 0 && perMinute > cfg.PerMinute:
		breached = fmt.Sprintf("%d fills/min exceeds %d", perMinute, cfg.PerMinute)
	case cfg.PerHour > 0 && perHour > cfg.PerHour:
		breached = fmt.Sprintf("%d fills/hour exceeds %d", perHour, cfg.PerHour)
	case cfg.PerSession > 0 && perSession > cfg.PerSession:
		breached = fmt.Sprintf("%d fills/session exceeds %d", perSession, cfg.PerSession)
	default:
		return nil, nil
	}

	return &domain.Violation{
		RuleID:   IDTradeFrequency,
		Severity: domain.SeverityCritical,
		Message:  "trade frequency breach: " + breached,
		Action:   domain.ActionFlattenAndLockout,
		Payload: map[string]string{
			PayloadLockoutKind:     "COOLDOWN",
			PayloadDurationSeconds: fmt.Sprintf("%d", int64(cfg.BreachCooldown.Seconds())),
		},
	}, nil
}

func countSince(times []time.Time, since time.Time) int {
	n := 0
	for _, t := range times {
		if !t.Before(since) {
			n++
		}
	}
	return n
}
