package adapter

import (
	"fmt"
	"time"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/money"
	"github.com/kellandavies/riskd/internal/ticktable"
)

// Options carries context the router knows but a raw broker payload
// doesn't: the current mark price for a contract (used to compute
// unrealized P&L on position events) and, for POSITION_CLOSED, the
// exit price used to validate the realized-P&L sign invariant.
//
// spec.md §6's Position wire shape has no documented exit-price field
// on close; this adapter resolves it from the Event Router's
// per-contract mark cache (the same value already used to recompute
// unrealized P&L). When ExitPrice is nil the sign check is skipped
// rather than guessed at.
type Options struct {
	MarkPrice *money.Money
	ExitPrice *money.Money
}

// NormalizeEvent is the sole entry point from a raw broker payload to
// a canonical domain.RiskEvent. Every sub-value it assembles has
// already passed through NormalizePosition/NormalizeOrder/
// NormalizeQuote, so nothing downstream re-validates.
func NormalizeEvent(registry *ticktable.Registry, accountID string, kind domain.EventType, raw map[string]any, opts Options) (domain.RiskEvent, error) {
	if err := domain.ValidateRawDataNoShadow(raw); err != nil {
		return domain.RiskEvent{}, err
	}

	event := domain.RiskEvent{
		EventType: kind,
		AccountID: accountID,
		Timestamp: time.Now().UTC(),
		RawData:   raw,
	}

	switch kind {
	case domain.EventOrderFilled, domain.EventOrderPlaced, domain.EventOrderCancelled:
		order, err := NormalizeOrder(raw)
		if err != nil {
			return domain.RiskEvent{}, err
		}
		event.Order = &order

	case domain.EventPositionOpened, domain.EventPositionUpdated:
		pos, err := NormalizePosition(registry, raw, opts.MarkPrice)
		if err != nil {
			return domain.RiskEvent{}, err
		}
		event.Position = &pos

	case domain.EventPositionClosed:
		pos, err := NormalizePosition(registry, raw, opts.ExitPrice)
		if err != nil {
			return domain.RiskEvent{}, err
		}
		event.Position = &pos
		realized, err := requireMoney(raw, "profitAndLoss")
		if err != nil {
			return domain.RiskEvent{}, err
		}
		if opts.ExitPrice != nil {
			if err := domain.ValidateClosedPositionSign(pos.Side, pos.EntryPrice, *opts.ExitPrice, realized); err != nil {
				return domain.RiskEvent{}, err
			}
		}
		event.RealizedPnL = &realized

	case domain.EventQuoteUpdate:
		q, err := NormalizeQuote(registry, raw)
		if err != nil {
			return domain.RiskEvent{}, err
		}
		event.Quote = &q

	case domain.EventAuthFailed, domain.EventSDKDisconnected, domain.EventSDKConnected, domain.EventDailyReset:
		// No typed sub-value beyond RawData; these carry connection/
		// auth state (canTrade, reason) that no rule reads as a typed
		// field today.

	default:
		return domain.RiskEvent{}, &domain.MappingError{Field: "event_type", Cause: fmt.Errorf("unrecognized event kind %q", kind)}
	}

	return event, nil
}
