package adapter

import (
	"time"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/money"
	"github.com/kellandavies/riskd/internal/ticktable"
)

// NormalizePosition converts a raw position payload (spec.md §6) into
// a canonical domain.Position, resolving the symbol root and tick
// economics via registry and validating every invariant in spec.md
// §4.1 (quantity strictly positive, entry price tick-aligned). When
// markPrice is known, unrealized P&L is computed and its sign is
// never trusted from the broker — it is derived, not read off the
// wire.
func NormalizePosition(registry *ticktable.Registry, raw map[string]any, markPrice *money.Money) (domain.Position, error) {
	contractID, err := requireString(raw, "contractId")
	if err != nil {
		return domain.Position{}, err
	}
	typeInt, err := requireInt(raw, "type")
	if err != nil {
		return domain.Position{}, err
	}
	side, err := sideFromPositionType(typeInt)
	if err != nil {
		return domain.Position{}, err
	}
	size, err := requireInt(raw, "size")
	if err != nil {
		return domain.Position{}, err
	}
	entryPrice, err := requireMoney(raw, "averagePrice")
	if err != nil {
		return domain.Position{}, err
	}

	root, tick, err := registry.Lookup(contractID)
	if err != nil {
		return domain.Position{}, err
	}

	createdAt := time.Now().UTC()
	if ts, ok := raw["creationTimestamp"]; ok {
		if s, ok := ts.(string); ok {
			if parsed, perr := time.Parse(time.RFC3339, s); perr == nil {
				createdAt = parsed.UTC()
			}
		}
	}

	pos := domain.Position{
		ContractID: contractID,
		SymbolRoot: root,
		Side:       side,
		Quantity:   size,
		EntryPrice: entryPrice,
		CreatedAt:  createdAt,
	}

	if err := domain.ValidatePosition(pos, tick); err != nil {
		return domain.Position{}, err
	}

	if markPrice != nil {
		pos.UnrealizedPnL = domain.ComputeUnrealizedPnL(side, entryPrice, *markPrice, tick, size)
	}

	return pos, nil
}
