package rules

import (
	"fmt"

	"github.com/kellandavies/riskd/internal/config"
	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
	"github.com/kellandavies/riskd/internal/money"
)

// CooldownAfterLoss is R007: arm a tiered cooldown when a single closed
// trade's realized loss crosses a configured threshold. Tiers are
// configured smallest-loss-first; the deepest (most negative) tier the
// trade still satisfies wins, since a -$300 trade should draw the
// -$300 tier's cooldown rather than the first, shallowest match.
type CooldownAfterLoss struct{}

func (CooldownAfterLoss) ID() string { return IDCooldownAfterLoss }

func (CooldownAfterLoss) Evaluate(event domain.RiskEvent, view engine.View) (*domain.Violation, error) {
	cfg := view.Config().Rules.CooldownAfterLoss
	if !cfg.Enabled {
		return nil, nil
	}
	if event.EventType != domain.EventPositionClosed || event.RealizedPnL == nil {
		return nil, nil
	}
	tradePnL := *event.RealizedPnL
	if !tradePnL.IsNegative() {
		return nil, nil
	}

	tier, ok, err := deepestMatchingTier(cfg.Tiers, tradePnL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	return &domain.Violation{
		RuleID:   IDCooldownAfterLoss,
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("single-trade loss %s crossed cooldown tier %s", tradePnL, tier.LossAtOrBelow),
		Action:   domain.ActionAlertAndLockout,
		Payload: map[string]string{
			PayloadLockoutKind:     "COOLDOWN",
			PayloadDurationSeconds: fmt.Sprintf("%d", int64(tier.Cooldown.Seconds())),
		},
	}, nil
}

func deepestMatchingTier(tiers []config.LossCooldownTier, tradePnL money.Money) (config.LossCooldownTier, bool, error) {
	var best config.LossCooldownTier
	found := false
	for _, tier := range tiers {
		threshold, err := money.New(tier.LossAtOrBelow)
		if err != nil {
			return config.LossCooldownTier{}, false, fmt.Errorf("cooldown_after_loss tier %q: %w", tier.LossAtOrBelow, err)
		}
		if !tradePnL.LessThanOrEqual(threshold) {
			continue
		}
		if !found {
			best, found = tier, true
			continue
		}
		bestThreshold, _ := money.New(best.LossAtOrBelow)
		if threshold.Cmp(bestThreshold) < 0 {
			best = tier
		}
	}
	return best, found, nil
}
