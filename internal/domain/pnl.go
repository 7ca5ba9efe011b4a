package domain

import (
	"github.com/kellandavies/riskd/internal/money"
	"github.com/shopspring/decimal"
)

// ComputeUnrealizedPnL implements the GLOSSARY definition: ticks(mark -
// entry) × tick_value × quantity × sign(side). Division is exact
// decimal division (shopspring/decimal), never a binary float.
func ComputeUnrealizedPnL(side Side, entry, mark money.Money, tick TickEconomics, quantity int) money.Money {
	diffTicks := mark.Decimal().Sub(entry.Decimal()).Div(tick.TickSize.Decimal())
	perContract := diffTicks.Mul(tick.TickValue.Decimal())
	signed := perContract.Mul(decimal.NewFromInt(int64(side.Sign())))
	total := signed.Mul(decimal.NewFromInt(int64(quantity)))
	return money.FromDecimal(total)
}
