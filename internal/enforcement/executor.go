// Package enforcement implements the Enforcement Executor: the only
// component that turns a fired Violation into broker commands and
// durable lockout state (spec.md §4.9). It is the sole writer of
// enforcement-triggered audit rows and the sole caller of the SDK
// port's outbound commands.
package enforcement

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/rules"
	"github.com/kellandavies/riskd/internal/sdkport"
	"github.com/sirupsen/logrus"
)

// Lockouts is the subset of lockout.Manager the executor needs to set
// the durable side of flatten_and_lockout / alert_and_lockout / cooldown
// actions.
type Lockouts interface {
	SetHard(ctx context.Context, account, reason string, until *time.Time, sourceRule string) error
	SetCooldown(ctx context.Context, account, reason string, duration time.Duration, sourceRule string) error
}

// AuditWriter is the subset of storage.Store the executor needs.
type AuditWriter interface {
	AppendViolation(ctx context.Context, v domain.ViolationAudit) error
}

// RetryConfig governs the backoff-with-jitter policy spec.md §4.9
// assigns per action category: flatten actions (close_position,
// close_all_positions, flatten_and_lockout's close step) retry up to 3
// times with 1-second initial backoff; cancel and
// modify retry once. Grounded on internal/retry's exponential-backoff-
// with-jitter client, adapted here for two fixed retry budgets instead
// of one configurable one.
type RetryConfig struct {
	FlattenRetries int
	OtherRetries   int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig matches spec.md §4.9's retry policy exactly.
var DefaultRetryConfig = RetryConfig{
	FlattenRetries: 3,
	OtherRetries:   1,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     10 * time.Second,
}

// Executor is the Enforcement Executor.
type Executor struct {
	Commander sdkport.Commander
	Lockouts  Lockouts
	Audit     AuditWriter
	Retry     RetryConfig
	Log       *logrus.Entry
}

// New builds an Executor with DefaultRetryConfig.
func New(commander sdkport.Commander, lockouts Lockouts, audit AuditWriter, log *logrus.Entry) *Executor {
	return &Executor{Commander: commander, Lockouts: lockouts, Audit: audit, Retry: DefaultRetryConfig, Log: log}
}

// Apply dispatches one fired Violation: close-then-lockout for actions
// that demand both, lockout-only for alert_and_lockout, a single SDK
// command for close/cancel/modify, and nothing at all for alert. It
// satisfies engine.Enforcer.
func (e *Executor) Apply(ctx context.Context, accountID string, v domain.Violation) error {
	switch v.Action {
	case domain.ActionAlert:
		return nil
	case domain.ActionClosePosition:
		return e.retryFlatten(ctx, func() error {
			return e.Commander.ClosePosition(ctx, v.Payload[rules.PayloadContractID], v.RuleID)
		})
	case domain.ActionCloseAllPositions:
		return e.retryFlatten(ctx, func() error {
			return e.Commander.CloseAllPositions(ctx, v.RuleID)
		})
	case domain.ActionCancelOrder:
		return e.retryOther(ctx, func() error {
			return e.Commander.CancelOrder(ctx, v.Payload[rules.PayloadOrderID], v.RuleID)
		})
	case domain.ActionModifyOrder:
		return e.retryOther(ctx, func() error {
			return e.Commander.ModifyOrder(ctx, v.Payload[rules.PayloadOrderID], stopUpdate(v.Payload), v.RuleID)
		})
	case domain.ActionFlattenAndLockout:
		return e.flattenAndLockout(ctx, accountID, v)
	case domain.ActionAlertAndLockout:
		return e.setLockout(ctx, accountID, v)
	default:
		return fmt.Errorf("enforcement: unknown action %q", v.Action)
	}
}

// flattenAndLockout closes first, then locks — but only if the close
// didn't fail terminally, so the trader is never locked out with open
// positions the system couldn't flatten (spec.md §4.9's note).
func (e *Executor) flattenAndLockout(ctx context.Context, accountID string, v domain.Violation) error {
	closeErr := e.retryFlatten(ctx, func() error {
		if contractID := v.Payload[rules.PayloadContractID]; contractID != "" {
			return e.Commander.ClosePosition(ctx, contractID, v.RuleID)
		}
		return e.Commander.CloseAllPositions(ctx, v.RuleID)
	})
	if closeErr != nil && !isAlreadyFlat(closeErr) {
		e.recordEnforcementFailed(ctx, accountID, v, closeErr)
		return fmt.Errorf("%w: lockout withheld, close failed: %v", ErrEnforcementFailed, closeErr)
	}
	return e.setLockout(ctx, accountID, v)
}

// setLockout applies only the durable lockout half of a violation,
// used directly by alert_and_lockout (R010 — the broker itself is
// refusing trades; nothing to flatten) and after a successful or
// already-flat close in flattenAndLockout.
func (e *Executor) setLockout(ctx context.Context, accountID string, v domain.Violation) error {
	switch v.Payload[rules.PayloadLockoutKind] {
	case "COOLDOWN":
		seconds, err := strconv.ParseInt(v.Payload[rules.PayloadDurationSeconds], 10, 64)
		if err != nil {
			return fmt.Errorf("enforcement: invalid duration_seconds %q: %w", v.Payload[rules.PayloadDurationSeconds], err)
		}
		return e.Lockouts.SetCooldown(ctx, accountID, v.Message, time.Duration(seconds)*time.Second, v.RuleID)
	default: // "HARD", or absent (defaults to HARD for lockout-bearing actions)
		until := lockoutUntil(v.Payload)
		return e.Lockouts.SetHard(ctx, accountID, v.Message, until, v.RuleID)
	}
}

// lockoutUntil resolves the HARD lockout's unlock instant: explicit
// unlock_at wins, until_reset leaves it nil (the Reset Scheduler
// clears it by source_rule membership in rules.DailyRuleIDs), and
// absence of both also means "permanent until condition."
func lockoutUntil(payload map[string]string) *time.Time {
	if raw := payload[rules.PayloadUnlockAt]; raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return &t
		}
	}
	return nil
}

func stopUpdate(payload map[string]string) sdkport.OrderUpdate {
	var update sdkport.OrderUpdate
	if price, ok := payload[rules.PayloadStopPrice]; ok && price != "" {
		update.NewStopPrice = &price
	}
	return update
}

// isAlreadyFlat treats "nothing to close" as success: every
// enforcement operation is idempotent by intent (spec.md §4.9).
func isAlreadyFlat(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already flat")
}

// recordEnforcementFailed surfaces a terminal close failure as both a
// CRITICAL log line and a follow-up audit row (spec.md §4.9): since
// violations is append-only, the original row is never mutated — the
// failure gets its own row instead, naming the rule it blocked.
func (e *Executor) recordEnforcementFailed(ctx context.Context, accountID string, v domain.Violation, closeErr error) {
	if e.Log != nil {
		e.Log.WithFields(logrus.Fields{
			"account_id": accountID,
			"rule_id":    v.RuleID,
			"error":      closeErr.Error(),
		}).Error("ENFORCEMENT_FAILED")
	}
	if e.Audit == nil {
		return
	}
	_ = e.Audit.AppendViolation(ctx, domain.ViolationAudit{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		AccountID:   accountID,
		RuleID:      v.RuleID,
		Severity:    domain.SeverityCritical,
		Message:     fmt.Sprintf("ENFORCEMENT_FAILED: close before lockout failed: %v", closeErr),
		ActionTaken: "enforcement_failed",
	})
}

func (e *Executor) retryFlatten(ctx context.Context, op func() error) error {
	return e.retry(ctx, e.Retry.FlattenRetries, op)
}

func (e *Executor) retryOther(ctx context.Context, op func() error) error {
	return e.retry(ctx, e.Retry.OtherRetries, op)
}

// retry runs op up to maxRetries additional times past the first
// attempt, backing off 1.5x with up-to-25%-jitter between attempts,
// the same shape internal/retry's client uses against the broker.
func (e *Executor) retry(ctx context.Context, maxRetries int, op func() error) error {
	backoff := e.Retry.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}
		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff, e.Retry.MaxBackoff)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * 1.5)
	if next > max {
		next = max
	}
	maxJitter := int64(next / 4)
	if maxJitter <= 0 {
		return next
	}
	jitter, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
	if err != nil {
		return next
	}
	return next + time.Duration(jitter.Int64())
}

// ErrEnforcementFailed marks a terminal enforcement failure for
// callers (the composition root) that want to distinguish it from a
// transient rule-evaluation error when deciding whether to page.
var ErrEnforcementFailed = errors.New("enforcement: terminal failure")
