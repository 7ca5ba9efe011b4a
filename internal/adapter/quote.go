package adapter

import (
	"time"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/ticktable"
)

// NormalizeQuote converts a raw quote payload (spec.md §6: symbol with
// an "F.US." prefix, bid, ask, last_price, timestamp) into a
// canonical domain.Quote.
func NormalizeQuote(registry *ticktable.Registry, raw map[string]any) (domain.Quote, error) {
	symbol, err := requireString(raw, "symbol")
	if err != nil {
		return domain.Quote{}, err
	}
	root, _, err := registry.Lookup(symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	bid, err := requireMoney(raw, "bid")
	if err != nil {
		return domain.Quote{}, err
	}
	ask, err := requireMoney(raw, "ask")
	if err != nil {
		return domain.Quote{}, err
	}
	last, err := requireMoney(raw, "last_price")
	if err != nil {
		return domain.Quote{}, err
	}

	ts := time.Now().UTC()
	if v, ok := raw["timestamp"]; ok {
		if s, ok := v.(string); ok {
			if parsed, perr := time.Parse(time.RFC3339, s); perr == nil {
				ts = parsed.UTC()
			}
		}
	}

	return domain.Quote{
		ContractID: symbol,
		SymbolRoot: root,
		Bid:        bid,
		Ask:        ask,
		LastPrice:  last,
		Timestamp:  ts,
	}, nil
}
