package rules

import (
	"context"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
)

// AuthGuardLockouts is the subset of lockout.Manager AuthLossGuard
// needs to clear itself on reconnect.
type AuthGuardLockouts interface {
	ClearHard(ctx context.Context, account string) error
}

// AuthLossGuard is R010: hard-lock the account the instant the broker
// reports it cannot trade, and clear that lockout itself once
// SDK_CONNECTED reports canTrade=true again (spec.md §4.8's note:
// "cleared on SDK_CONNECTED + canTrade=true"). Both AUTH_FAILED and
// SDK_CONNECTED are in the engine's PRE-CHECK bypass set, so this rule
// still runs even while the account it's guarding is locked.
type AuthLossGuard struct {
	lockouts AuthGuardLockouts
}

// NewAuthLossGuard builds the rule. Clearing is a direct side effect
// on lockouts, not a returned Violation — documented alongside
// NoStopLossGrace as the package's second acknowledged exception to
// pure rule evaluation.
func NewAuthLossGuard(lockouts AuthGuardLockouts) *AuthLossGuard {
	return &AuthLossGuard{lockouts: lockouts}
}

func (AuthLossGuard) ID() string { return IDAuthLossGuard }

func (r *AuthLossGuard) Evaluate(event domain.RiskEvent, view engine.View) (*domain.Violation, error) {
	cfg := view.Config().Rules.AuthLossGuard
	if !cfg.Enabled {
		return nil, nil
	}

	switch event.EventType {
	case domain.EventSDKConnected:
		if canTrade, ok := event.RawData["canTrade"].(bool); ok && canTrade {
			return nil, r.lockouts.ClearHard(context.Background(), event.AccountID)
		}
		return nil, nil
	case domain.EventAuthFailed, domain.EventSDKDisconnected:
		canTrade, ok := event.RawData["canTrade"].(bool)
		if ok && canTrade {
			return nil, nil
		}
		return &domain.Violation{
			RuleID:   IDAuthLossGuard,
			Severity: domain.SeverityCritical,
			Message:  "broker reports account cannot trade",
			Action:   domain.ActionAlertAndLockout,
			Payload:  map[string]string{PayloadLockoutKind: "HARD"},
		}, nil
	default:
		return nil, nil
	}
}
