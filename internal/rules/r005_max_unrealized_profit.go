package rules

import (
	"fmt"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
	"github.com/kellandavies/riskd/internal/money"
)

// MaxUnrealizedProfit is R005: lock in gains by closing any single
// position whose unrealized P&L reaches a configured positive target.
type MaxUnrealizedProfit struct{}

func (MaxUnrealizedProfit) ID() string { return IDMaxUnrealizedProfit }

func (MaxUnrealizedProfit) Evaluate(event domain.RiskEvent, view engine.View) (*domain.Violation, error) {
	cfg := view.Config().Rules.MaxUnrealizedProfit
	if !cfg.Enabled {
		return nil, nil
	}
	if event.EventType != domain.EventUnrealizedPnLUpdate {
		return nil, nil
	}
	target, err := money.New(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("max_unrealized_profit.target: %w", err)
	}
	for _, p := range view.Positions() {
		if p.UnrealizedPnL.GreaterThanOrEqual(target) {
			return &domain.Violation{
				RuleID:   IDMaxUnrealizedProfit,
				Severity: domain.SeverityInfo,
				Message:  fmt.Sprintf("%s unrealized P&L %s reached target %s", p.ContractID, p.UnrealizedPnL, target),
				Action:   domain.ActionClosePosition,
				Payload:  map[string]string{PayloadContractID: p.ContractID},
			}, nil
		}
	}
	return nil, nil
}
