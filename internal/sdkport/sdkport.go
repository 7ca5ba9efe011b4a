// Package sdkport defines the typed boundary between this daemon and
// the trading SDK: an inbound raw event stream and an outbound command
// port the Enforcement Executor drives. Nothing above this package
// touches the SDK directly.
package sdkport

import "context"

// RawEvent is an unnormalized payload as received from the SDK. The
// SDK Adapter is solely responsible for turning these into typed
// domain.RiskEvent values; nothing downstream of the adapter sees a
// RawEvent.
type RawEvent struct {
	Type string
	Data map[string]any
}

// EventSource is the inbound half of the SDK boundary: a stream of raw
// events for one account, plus connection-state signals the adapter
// maps to SDK_CONNECTED/SDK_DISCONNECTED/AUTH_FAILED risk events.
type EventSource interface {
	// Events returns a channel of raw events. The channel is closed
	// when the context passed to Run is canceled.
	Events() <-chan RawEvent
	// Run connects and pumps events until ctx is canceled or a fatal
	// error occurs.
	Run(ctx context.Context) error
}

// Commander is the outbound half of the SDK boundary: every command
// the Enforcement Executor can issue. Implementations must be safe for
// concurrent use.
type Commander interface {
	ClosePosition(ctx context.Context, contractID string, reason string) error
	CloseAllPositions(ctx context.Context, reason string) error
	CancelOrder(ctx context.Context, orderID string, reason string) error
	ModifyOrder(ctx context.Context, orderID string, updates OrderUpdate, reason string) error
}

// OrderUpdate carries the fields R012 (Trade Management) may change on
// a resting stop order: moving it to breakeven or trailing it.
type OrderUpdate struct {
	NewStopPrice *string // decimal string, nil means leave unchanged
	NewLimitPrice *string
}
