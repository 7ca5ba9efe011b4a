package rules

import (
	"fmt"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
	"github.com/kellandavies/riskd/internal/money"
)

// DailyRealizedProfitTarget is R013: lock in the day's gains once
// cumulative realized P&L reaches a configured positive target.
// Symmetric to R003, but the lockout is a disciplined stop rather than
// a loss guard.
type DailyRealizedProfitTarget struct{}

func (DailyRealizedProfitTarget) ID() string { return IDDailyRealizedProfit }

func (DailyRealizedProfitTarget) Evaluate(event domain.RiskEvent, view engine.View) (*domain.Violation, error) {
	cfg := view.Config().Rules.DailyRealizedProfit
	if !cfg.Enabled {
		return nil, nil
	}
	if event.EventType != domain.EventPositionClosed {
		return nil, nil
	}
	target, err := money.New(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("daily_realized_profit_target.target: %w", err)
	}
	daily := view.PnLForToday()
	if !daily.GreaterThanOrEqual(target) {
		return nil, nil
	}
	return &domain.Violation{
		RuleID:   IDDailyRealizedProfit,
		Severity: domain.SeverityInfo,
		Message:  fmt.Sprintf("daily realized P&L %s reached target %s", daily, target),
		Action:   domain.ActionFlattenAndLockout,
		Payload: map[string]string{
			PayloadLockoutKind: "HARD",
			PayloadUntilReset:  "true",
		},
	}, nil
}
