package adapter

import (
	"fmt"

	"github.com/kellandavies/riskd/internal/domain"
)

// sideFromPositionType maps spec.md §6's Position.type (FLAT=0,
// LONG=1, SHORT=2) to domain.Side. Any value outside {1,2} fails
// loud per spec.md §3 ("any other value fails loud") — including 0
// (FLAT), since no typed RiskEvent should ever carry a flat position.
func sideFromPositionType(t int) (domain.Side, error) {
	switch t {
	case 1:
		return domain.Long, nil
	case 2:
		return domain.Short, nil
	default:
		return domain.SideUnknown, &domain.MappingError{Field: "type", Cause: fmt.Errorf("position type %d is not LONG(1) or SHORT(2)", t)}
	}
}

// sideFromOrderSide maps the broker's order side (BUY=0, SELL=1) to
// domain.Side, used only for display/audit; the engine's canonical
// directionality always comes from the position, not the order.
func sideFromOrderSide(t int) (domain.Side, error) {
	switch t {
	case 0:
		return domain.Long, nil
	case 1:
		return domain.Short, nil
	default:
		return domain.SideUnknown, &domain.MappingError{Field: "side", Cause: fmt.Errorf("order side %d is not BUY(0) or SELL(1)", t)}
	}
}

// orderTypeFromInt maps the broker's order type integer to
// domain.OrderType. Per spec.md §9's open question, any integer
// outside the documented {1..5} set passes through as OrderTypeOther
// rather than being guessed at or treated as a stop order.
func orderTypeFromInt(t int) domain.OrderType {
	switch t {
	case 1:
		return domain.OrderTypeMarket
	case 2:
		return domain.OrderTypeLimit
	case 3:
		return domain.OrderTypeStopLimit
	case 4:
		return domain.OrderTypeStop
	case 5:
		return domain.OrderTypeTrailingStop
	default:
		return domain.OrderTypeOther
	}
}

// NormalizeOrder converts a raw order payload (spec.md §6) into a
// canonical domain.Order. Stop/limit prices are optional; size, id,
// contractId, type, and side are required.
func NormalizeOrder(raw map[string]any) (domain.Order, error) {
	orderID, err := requireString(raw, "id")
	if err != nil {
		return domain.Order{}, err
	}
	contractID, err := requireString(raw, "contractId")
	if err != nil {
		return domain.Order{}, err
	}
	typeInt, err := requireInt(raw, "type")
	if err != nil {
		return domain.Order{}, err
	}
	sideInt, err := requireInt(raw, "side")
	if err != nil {
		return domain.Order{}, err
	}
	side, err := sideFromOrderSide(sideInt)
	if err != nil {
		return domain.Order{}, err
	}
	size, err := requireInt(raw, "size")
	if err != nil {
		return domain.Order{}, err
	}
	stopPrice, err := optionalMoney(raw, "stopPrice")
	if err != nil {
		return domain.Order{}, err
	}
	limitPrice, err := optionalMoney(raw, "limitPrice")
	if err != nil {
		return domain.Order{}, err
	}

	return domain.Order{
		OrderID:    orderID,
		ContractID: contractID,
		Type:       orderTypeFromInt(typeInt),
		Side:       side,
		Size:       size,
		StopPrice:  stopPrice,
		LimitPrice: limitPrice,
		Status:     domain.OrderStatus(optionalString(raw, "status")),
	}, nil
}
