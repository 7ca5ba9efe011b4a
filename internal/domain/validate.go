package domain

import (
	"fmt"

	"github.com/kellandavies/riskd/internal/money"
)

// typedFieldKeys are the RawData keys that would shadow a typed
// RiskEvent field; normalize_event (internal/adapter) must never set
// any of these in RawData.
var typedFieldKeys = map[string]struct{}{
	"event_type":   {},
	"account_id":   {},
	"timestamp":    {},
	"position":     {},
	"order":        {},
	"quote":        {},
	"realized_pnl": {},
}

// ValidateRawDataNoShadow enforces spec.md §3's RiskEvent invariant:
// raw_data may carry rule-level fields not yet modeled, but it may
// never contain a key that exists as a typed field.
func ValidateRawDataNoShadow(raw map[string]any) error {
	for k := range raw {
		if _, shadowed := typedFieldKeys[k]; shadowed {
			return &MappingError{Field: k, Cause: fmt.Errorf("raw_data key shadows a typed RiskEvent field")}
		}
	}
	return nil
}

// ValidatePosition enforces spec.md §3's Position invariants.
func ValidatePosition(p Position, tick TickEconomics) error {
	if p.Quantity <= 0 {
		return &QuantityError{Symbol: string(p.SymbolRoot), Quantity: p.Quantity}
	}
	if !priceAlignsToTick(p.EntryPrice, tick.TickSize) {
		return &PriceError{
			Symbol: string(p.SymbolRoot),
			Price:  p.EntryPrice.String(),
			Tick:   tick.TickSize.String(),
		}
	}
	return nil
}

// priceAlignsToTick reports whether price is an exact integer
// multiple of tick using decimal (never binary float) division.
func priceAlignsToTick(price, tick money.Money) bool {
	if tick.IsZero() {
		return false
	}
	quotient := price.Decimal().Div(tick.Decimal())
	return quotient.Equal(quotient.Truncate(0))
}

// ValidateClosedPositionSign enforces spec.md §8 property 1: the
// realized P&L sign must agree with sign(exit-entry) * sign(side).
func ValidateClosedPositionSign(side Side, entry, exit money.Money, realized money.Money) error {
	if realized.IsZero() {
		return nil
	}
	priceDelta := exit.Sub(entry)
	if priceDelta.IsZero() {
		return nil
	}
	expectedSign := priceDelta.Sign() * side.Sign()
	if realized.Sign() != expectedSign {
		return &SignConventionError{
			Detail: fmt.Sprintf("realized pnl sign %d does not match expected sign %d (side=%s, entry=%s, exit=%s)",
				realized.Sign(), expectedSign, side, entry, exit),
		}
	}
	return nil
}
