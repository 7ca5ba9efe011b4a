package rules

import (
	"fmt"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
	"github.com/kellandavies/riskd/internal/money"
)

// DailyRealizedLoss is R003: flatten and hard-lock the account for the
// rest of the trading day once cumulative realized P&L breaches a
// configured negative limit. The P&L Tracker has already folded the
// closing trade's realized P&L into the ledger by the time the engine
// builds its View (spec.md's Open Questions note the ledger accepts
// writes unconditionally, ahead of rule evaluation).
type DailyRealizedLoss struct{}

func (DailyRealizedLoss) ID() string { return IDDailyRealizedLoss }

func (DailyRealizedLoss) Evaluate(event domain.RiskEvent, view engine.View) (*domain.Violation, error) {
	cfg := view.Config().Rules.DailyRealizedLoss
	if !cfg.Enabled {
		return nil, nil
	}
	if event.EventType != domain.EventPositionClosed {
		return nil, nil
	}
	limit, err := money.New(cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("daily_realized_loss.limit: %w", err)
	}
	daily := view.PnLForToday()
	if !daily.LessThanOrEqual(limit) {
		return nil, nil // strictly above (less negative than) the limit: no breach
	}
	return &domain.Violation{
		RuleID:   IDDailyRealizedLoss,
		Severity: domain.SeverityCritical,
		Message:  fmt.Sprintf("daily realized P&L %s breached limit %s", daily, limit),
		Action:   domain.ActionFlattenAndLockout,
		Payload: map[string]string{
			PayloadLockoutKind: "HARD",
			PayloadUntilReset:  "true",
		},
	}, nil
}
