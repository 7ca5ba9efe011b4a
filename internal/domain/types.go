// Package domain defines the canonical, invariant-checked entities
// that flow from the SDK adapter into the risk engine. Nothing outside
// internal/adapter constructs these directly from raw broker payloads;
// everywhere else treats them as already-valid.
package domain

import (
	"time"

	"github.com/kellandavies/riskd/internal/money"
	"github.com/shopspring/decimal"
)

var decimalTwo = decimal.NewFromInt(2)

// Side is the directional sense of a position. It is derived from the
// broker's integer position type and never defaulted.
type Side int

const (
	// SideUnknown is the zero value; it must never appear on a
	// constructed Position.
	SideUnknown Side = iota
	Long
	Short
)

func (s Side) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// Sign returns +1 for Long, -1 for Short. Callers must not call this
// on SideUnknown.
func (s Side) Sign() int {
	if s == Short {
		return -1
	}
	return 1
}

// SymbolRoot is a normalized, alias-resolved contract root, e.g. "NQ".
type SymbolRoot string

// TickEconomics is the static tick size/value pair for a symbol root.
type TickEconomics struct {
	TickSize  money.Money
	TickValue money.Money
}

// OrderType enumerates the broker order types this spec distinguishes.
// Any broker integer outside this set maps to OrderTypeOther and must
// never be treated as a stop order (spec.md §9 open question).
type OrderType int

const (
	OrderTypeOther OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStopLimit
	OrderTypeStop
	OrderTypeTrailingStop
)

// IsStopLoss reports whether this order type counts as stop-loss
// protection for R008's grace-period state machine.
func (t OrderType) IsStopLoss() bool {
	switch t {
	case OrderTypeStopLimit, OrderTypeStop, OrderTypeTrailingStop:
		return true
	default:
		return false
	}
}

// OrderStatus is the broker-reported lifecycle status of an order.
type OrderStatus string

// Order is an observed broker order. The engine does not own an
// order's full lifecycle; it only ever reads these fields.
type Order struct {
	OrderID    string
	ContractID string
	Type       OrderType
	Side       Side
	Size       int
	StopPrice  *money.Money
	LimitPrice *money.Money
	Status     OrderStatus
}

// Position is a canonical open futures position.
type Position struct {
	ContractID    string
	SymbolRoot    SymbolRoot
	Side          Side
	Quantity      int
	EntryPrice    money.Money
	UnrealizedPnL money.Money
	CreatedAt     time.Time
}

// EventType enumerates every kind of RiskEvent the engine evaluates.
type EventType string

const (
	EventOrderFilled        EventType = "ORDER_FILLED"
	EventOrderPlaced        EventType = "ORDER_PLACED"
	EventOrderCancelled     EventType = "ORDER_CANCELLED"
	EventPositionOpened     EventType = "POSITION_OPENED"
	EventPositionUpdated    EventType = "POSITION_UPDATED"
	EventPositionClosed     EventType = "POSITION_CLOSED"
	EventQuoteUpdate        EventType = "QUOTE_UPDATE"
	EventUnrealizedPnLUpdate EventType = "UNREALIZED_PNL_UPDATE"
	EventAuthFailed         EventType = "AUTH_FAILED"
	EventSDKDisconnected    EventType = "SDK_DISCONNECTED"
	EventSDKConnected       EventType = "SDK_CONNECTED"
	EventDailyReset         EventType = "DAILY_RESET"
)

// Quote is a canonical top-of-book quote for one contract.
type Quote struct {
	ContractID string
	SymbolRoot SymbolRoot
	Bid        money.Money
	Ask        money.Money
	LastPrice  money.Money
	Timestamp  time.Time
}

// ReferencePrice implements spec.md §4.2 step 4: prefer last trade
// price, fall back to the bid/ask midpoint when last is zero (futures
// frequently report last_price=0 outside market hours).
func (q Quote) ReferencePrice() money.Money {
	if q.LastPrice.IsPositive() {
		return q.LastPrice
	}
	sum := q.Bid.Add(q.Ask)
	return money.FromDecimal(sum.Decimal().Div(decimalTwo))
}

// RiskEvent is the only value a rule ever reads.
type RiskEvent struct {
	EventType   EventType
	AccountID   string
	Timestamp   time.Time
	Position    *Position
	Order       *Order
	Quote       *Quote
	RealizedPnL *money.Money
	RawData     map[string]any
}

// LockoutKind distinguishes a permanent-until-condition lockout from a
// duration-based cooldown.
type LockoutKind string

const (
	LockoutHard     LockoutKind = "HARD"
	LockoutCooldown LockoutKind = "COOLDOWN"
)

// Lockout is a persisted account-level trading block.
type Lockout struct {
	AccountID    string
	Reason       string
	Kind         LockoutKind
	SourceRuleID string
	SetAt        time.Time
	// UnlockAt is nil for a hard lockout that is condition-cleared
	// rather than time-cleared (e.g. AuthLossGuard, clears on
	// reconnect).
	UnlockAt *time.Time
}

// RemainingSeconds returns the seconds left on a cooldown lockout, or
// 0 if already expired or not time-bound.
func (l Lockout) RemainingSeconds(now time.Time) int64 {
	if l.UnlockAt == nil {
		return 0
	}
	d := l.UnlockAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d.Seconds())
}

// PnLLedgerRow is one (account, trading_day) accumulation row.
type PnLLedgerRow struct {
	AccountID      string
	TradingDay     string // "2006-01-02" in the configured timezone
	CumulativePnL  money.Money
	TradeCount     int
	UpdatedAt      time.Time
}

// Severity classifies a ViolationAudit row.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
)

// ViolationAudit is an append-only audit row. CompositeContext is
// populated only by composite-aware rules (R004).
type ViolationAudit struct {
	ID               string
	Timestamp        time.Time
	AccountID        string
	RuleID           string
	Severity         Severity
	Message          string
	ActionTaken      string
	CompositeContext map[string]string
}

// Violation is what a rule returns when it fires.
type Violation struct {
	RuleID           string
	Severity         Severity
	Message          string
	Action           EnforcementAction
	Payload          map[string]string
	CompositeContext map[string]string
}

// EnforcementAction is the action a violation demands.
type EnforcementAction string

const (
	ActionAlert             EnforcementAction = "alert"
	ActionClosePosition     EnforcementAction = "close_position"
	ActionCloseAllPositions EnforcementAction = "close_all_positions"
	ActionCancelOrder       EnforcementAction = "cancel_order"
	ActionModifyOrder       EnforcementAction = "modify_order"
	ActionFlattenAndLockout EnforcementAction = "flatten_and_lockout"
	// ActionAlertAndLockout sets a lockout without flattening open
	// positions — R010's "alert + hard lockout" (the broker itself is
	// the one refusing trades; there is nothing to flatten).
	ActionAlertAndLockout EnforcementAction = "alert_and_lockout"
)
