package rules

import (
	"fmt"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
	"github.com/kellandavies/riskd/internal/money"
	"github.com/sirupsen/logrus"
)

// DailyUnrealizedLoss is R004: close a position once the account's
// total unrealized loss breaches a configured (possibly composite)
// limit. When composite enforcement is on and respects the realized
// limit, the effective threshold tightens as realized losses consume
// R003's budget (spec.md §4.8's composite-enforcement note).
type DailyUnrealizedLoss struct {
	Log *logrus.Entry
}

func (DailyUnrealizedLoss) ID() string { return IDDailyUnrealizedLoss }

func (r DailyUnrealizedLoss) Evaluate(event domain.RiskEvent, view engine.View) (*domain.Violation, error) {
	cfg := view.Config().Rules.DailyUnrealizedLoss
	if !cfg.Enabled {
		return nil, nil
	}
	switch event.EventType {
	case domain.EventUnrealizedPnLUpdate, domain.EventPositionOpened, domain.EventPositionUpdated, domain.EventPositionClosed:
	default:
		return nil, nil
	}

	configured, err := money.New(cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("daily_unrealized_loss.limit: %w", err)
	}
	effective := configured
	if cfg.CompositeEnforcement.Enabled && cfg.CompositeEnforcement.RespectRealizedLimit {
		realizedLimit, err := money.New(view.Config().Rules.DailyRealizedLoss.Limit)
		if err != nil {
			return nil, fmt.Errorf("composite_enforcement needs a valid daily_realized_loss.limit: %w", err)
		}
		budget := realizedLimit.Sub(view.PnLForToday())
		effective = money.Max(configured, budget)
		if effective.Cmp(configured) != 0 && r.Log != nil {
			r.Log.WithFields(logrus.Fields{
				"account_id": event.AccountID,
				"configured": configured.String(),
				"effective":  effective.String(),
			}).Info("r004-composite-threshold-tightened")
		}
	}

	total := view.TotalUnrealizedPnL()
	if !total.LessThanOrEqual(effective) {
		return nil, nil
	}

	contractID := worstLosingContract(event, view)
	return &domain.Violation{
		RuleID:   IDDailyUnrealizedLoss,
		Severity: domain.SeverityCritical,
		Message:  fmt.Sprintf("total unrealized P&L %s breached effective limit %s", total, effective),
		Action:   domain.ActionClosePosition,
		Payload: map[string]string{
			PayloadContractID:          contractID,
			PayloadConfiguredThreshold: configured.String(),
			PayloadEffectiveThreshold:  effective.String(),
		},
		CompositeContext: map[string]string{
			"configured_limit":    configured.String(),
			"effective_limit":     effective.String(),
			"realized_pnl_so_far": view.PnLForToday().String(),
		},
	}, nil
}

// worstLosingContract picks the event's own position when present,
// falling back to the single most negative open position — the
// natural target when the triggering event is a synthesized
// account-wide UNREALIZED_PNL_UPDATE rather than a specific position.
func worstLosingContract(event domain.RiskEvent, view engine.View) string {
	if event.Position != nil {
		return event.Position.ContractID
	}
	positions := view.Positions()
	if len(positions) == 0 {
		return ""
	}
	worst := positions[0]
	for _, p := range positions[1:] {
		if p.UnrealizedPnL.Cmp(worst.UnrealizedPnL) < 0 {
			worst = p
		}
	}
	return worst.ContractID
}
