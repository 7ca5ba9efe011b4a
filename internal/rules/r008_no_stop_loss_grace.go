package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
)

// Timers is the subset of timer.Manager NoStopLossGrace needs.
type Timers interface {
	Start(name string, duration time.Duration, cb func())
	Cancel(name string)
}

// NoStopLossGrace is R008: per-contract state machine NO_POSITION ->
// OPEN_NO_STOP -> OPEN_STOP_PRESENT -> NO_POSITION (spec.md §4.8's
// rule-008 state machine). A grace timer started on POSITION_OPENED
// fires a violation if no stop-type ORDER_PLACED arrives in time.
//
// Grace expiry happens with no new RiskEvent to drive Engine.Process,
// so — unlike every other rule in this package — NoStopLossGrace
// writes its audit row and applies enforcement directly from the
// timer callback, the same pattern internal/lockout's cooldown-expiry
// callback uses against the store. This is one of the package's two
// documented exceptions to "rules are pure functions over (event,
// view)" (AuthLossGuard is the other); the engine's own PRE-CHECK
// bypass set for DAILY_RESET/SDK_CONNECTED/SDK_DISCONNECTED/
// AUTH_FAILED likewise acknowledges that some state transitions can't
// wait for the next inbound event.
type NoStopLossGrace struct {
	timers  Timers
	enforce engine.Enforcer
	audit   engine.AuditWriter
}

// NewNoStopLossGrace builds the rule. enforce/audit are invoked only
// from the timer callback, never from Evaluate.
func NewNoStopLossGrace(timers Timers, enforce engine.Enforcer, audit engine.AuditWriter) *NoStopLossGrace {
	return &NoStopLossGrace{timers: timers, enforce: enforce, audit: audit}
}

func (NoStopLossGrace) ID() string { return IDNoStopLossGrace }

func graceTimerName(accountID, contractID string) string {
	return "no-stop-loss-grace:" + accountID + ":" + contractID
}

func (r *NoStopLossGrace) Evaluate(event domain.RiskEvent, view engine.View) (*domain.Violation, error) {
	cfg := view.Config().Rules.NoStopLossGrace
	if !cfg.Enabled {
		return nil, nil
	}
	switch event.EventType {
	case domain.EventPositionOpened:
		if event.Position == nil {
			return nil, nil
		}
		accountID, contractID := event.AccountID, event.Position.ContractID
		r.timers.Start(graceTimerName(accountID, contractID), time.Duration(cfg.GraceSeconds)*time.Second, func() {
			r.onGraceExpired(accountID, contractID)
		})
	case domain.EventOrderPlaced:
		if event.Order == nil || !event.Order.Type.IsStopLoss() {
			return nil, nil
		}
		r.timers.Cancel(graceTimerName(event.AccountID, event.Order.ContractID))
	case domain.EventPositionClosed:
		if event.Position == nil {
			return nil, nil
		}
		r.timers.Cancel(graceTimerName(event.AccountID, event.Position.ContractID))
	}
	return nil, nil
}

func (r *NoStopLossGrace) onGraceExpired(accountID, contractID string) {
	ctx := context.Background()
	v := domain.Violation{
		RuleID:   IDNoStopLossGrace,
		Severity: domain.SeverityCritical,
		Message:  fmt.Sprintf("no stop-loss order observed for %s within grace period", contractID),
		Action:   domain.ActionClosePosition,
		Payload:  map[string]string{PayloadContractID: contractID},
	}
	_ = r.audit.AppendViolation(ctx, domain.ViolationAudit{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		AccountID:   accountID,
		RuleID:      v.RuleID,
		Severity:    v.Severity,
		Message:     v.Message,
		ActionTaken: string(v.Action),
	})
	_ = r.enforce.Apply(ctx, accountID, v)
}
