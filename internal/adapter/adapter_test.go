package adapter_test

import (
	"testing"

	"github.com/kellandavies/riskd/internal/adapter"
	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/money"
	"github.com/kellandavies/riskd/internal/ticktable"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *ticktable.Registry {
	t.Helper()
	reg, err := ticktable.New(
		[]ticktable.Entry{
			{Root: "MNQ", TickSize: "0.25", TickValue: "0.50"},
			{Root: "NQ", TickSize: "0.25", TickValue: "5.00"},
		},
		map[string]string{"ENQ": "NQ"},
	)
	require.NoError(t, err)
	return reg
}

// S1 — tick math for an MNQ long: entry 21000.00, mark 21010.00 ->
// $40.00 unrealized.
func TestNormalizePositionComputesUnrealizedPnL(t *testing.T) {
	reg := testRegistry(t)
	mark := money.MustNew("21010.00")
	pos, err := adapter.NormalizePosition(reg, map[string]any{
		"contractId":   "CON.F.US.MNQ.Z25",
		"type":         1,
		"size":         2,
		"averagePrice": "21000.00",
	}, &mark)
	require.NoError(t, err)
	require.Equal(t, domain.Long, pos.Side)
	require.Equal(t, "40", pos.UnrealizedPnL.String())
}

// S3 — symbol alias: CON.F.US.ENQ.Z25 normalizes to NQ.
func TestNormalizePositionResolvesAlias(t *testing.T) {
	reg := testRegistry(t)
	pos, err := adapter.NormalizePosition(reg, map[string]any{
		"contractId":   "CON.F.US.ENQ.Z25",
		"type":         2,
		"size":         1,
		"averagePrice": "21000.00",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, domain.SymbolRoot("NQ"), pos.SymbolRoot)
	require.Equal(t, domain.Short, pos.Side)
}

// S4 — unknown symbol raises UnitsError listing known roots.
func TestNormalizePositionUnknownSymbolIsUnitsError(t *testing.T) {
	reg := testRegistry(t)
	_, err := adapter.NormalizePosition(reg, map[string]any{
		"contractId":   "CON.F.US.XYZ.Z25",
		"type":         1,
		"size":         1,
		"averagePrice": "100.00",
	}, nil)
	require.Error(t, err)
	var uerr *domain.UnitsError
	require.ErrorAs(t, err, &uerr)
	require.Contains(t, uerr.KnownRoot, "MNQ")
	require.Contains(t, uerr.KnownRoot, "NQ")
}

func TestNormalizePositionRejectsNonPositiveQuantity(t *testing.T) {
	reg := testRegistry(t)
	_, err := adapter.NormalizePosition(reg, map[string]any{
		"contractId":   "CON.F.US.MNQ.Z25",
		"type":         1,
		"size":         0,
		"averagePrice": "21000.00",
	}, nil)
	require.Error(t, err)
	var qerr *domain.QuantityError
	require.ErrorAs(t, err, &qerr)
}

func TestNormalizePositionRejectsOffTickPrice(t *testing.T) {
	reg := testRegistry(t)
	_, err := adapter.NormalizePosition(reg, map[string]any{
		"contractId":   "CON.F.US.MNQ.Z25",
		"type":         1,
		"size":         1,
		"averagePrice": "21000.10",
	}, nil)
	require.Error(t, err)
	var perr *domain.PriceError
	require.ErrorAs(t, err, &perr)
}

func TestNormalizePositionRejectsUnknownSideType(t *testing.T) {
	reg := testRegistry(t)
	_, err := adapter.NormalizePosition(reg, map[string]any{
		"contractId":   "CON.F.US.MNQ.Z25",
		"type":         0, // FLAT — never valid on a typed position event
		"size":         1,
		"averagePrice": "21000.00",
	}, nil)
	require.Error(t, err)
	var merr *domain.MappingError
	require.ErrorAs(t, err, &merr)
}

func TestNormalizePositionMissingFieldIsMappingError(t *testing.T) {
	reg := testRegistry(t)
	_, err := adapter.NormalizePosition(reg, map[string]any{
		"type": 1,
		"size": 1,
	}, nil)
	require.Error(t, err)
	var merr *domain.MappingError
	require.ErrorAs(t, err, &merr)
}

func TestNormalizeOrderMapsStopTypes(t *testing.T) {
	order, err := adapter.NormalizeOrder(map[string]any{
		"id":         "ord-1",
		"contractId": "CON.F.US.MNQ.Z25",
		"type":       4, // STOP
		"side":       1, // SELL
		"size":       1,
		"stopPrice":  "20950.00",
		"status":     "working",
	})
	require.NoError(t, err)
	require.True(t, order.Type.IsStopLoss())
	require.Equal(t, domain.OrderStatus("working"), order.Status)
}

func TestNormalizeOrderUnknownTypePassesThroughAsOther(t *testing.T) {
	order, err := adapter.NormalizeOrder(map[string]any{
		"id":         "ord-2",
		"contractId": "CON.F.US.MNQ.Z25",
		"type":       99,
		"side":       0,
		"size":       1,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderTypeOther, order.Type)
	require.False(t, order.Type.IsStopLoss())
}

func TestNormalizeQuoteResolvesSymbolRoot(t *testing.T) {
	reg := testRegistry(t)
	q, err := adapter.NormalizeQuote(reg, map[string]any{
		"symbol":     "F.US.MNQ.Z25",
		"bid":        "21000.00",
		"ask":        "21000.25",
		"last_price": "0",
	})
	require.NoError(t, err)
	require.Equal(t, domain.SymbolRoot("MNQ"), q.SymbolRoot)
	// last_price is zero, so ReferencePrice falls back to the midpoint.
	require.Equal(t, "21000.125", q.ReferencePrice().String())
}

func TestNormalizeEventPositionClosedValidatesSign(t *testing.T) {
	reg := testRegistry(t)
	raw := map[string]any{
		"contractId":   "CON.F.US.MNQ.Z25",
		"type":         1, // LONG
		"size":         2,
		"averagePrice": "21000.00",
		"profitAndLoss": "40.00",
	}
	exit := money.MustNew("21010.00")
	event, err := adapter.NormalizeEvent(reg, "ACC-1", domain.EventPositionClosed, raw, adapter.Options{ExitPrice: &exit})
	require.NoError(t, err)
	require.Equal(t, "40", event.RealizedPnL.String())
}

func TestNormalizeEventPositionClosedRejectsSignMismatch(t *testing.T) {
	reg := testRegistry(t)
	raw := map[string]any{
		"contractId":    "CON.F.US.MNQ.Z25",
		"type":          1, // LONG, price rose
		"size":          2,
		"averagePrice":  "21000.00",
		"profitAndLoss": "-40.00", // but realized pnl reported negative
	}
	exit := money.MustNew("21010.00")
	_, err := adapter.NormalizeEvent(reg, "ACC-1", domain.EventPositionClosed, raw, adapter.Options{ExitPrice: &exit})
	require.Error(t, err)
	var serr *domain.SignConventionError
	require.ErrorAs(t, err, &serr)
}

func TestNormalizeEventRejectsRawDataShadowingTypedField(t *testing.T) {
	reg := testRegistry(t)
	raw := map[string]any{
		"id":         "ord-1",
		"contractId": "CON.F.US.MNQ.Z25",
		"type":       1,
		"side":       0,
		"size":       1,
		"position":   "shadowing a typed field",
	}
	_, err := adapter.NormalizeEvent(reg, "ACC-1", domain.EventOrderFilled, raw, adapter.Options{})
	require.Error(t, err)
	var merr *domain.MappingError
	require.ErrorAs(t, err, &merr)
}

func TestNormalizeEventUnrecognizedKind(t *testing.T) {
	reg := testRegistry(t)
	_, err := adapter.NormalizeEvent(reg, "ACC-1", domain.EventType("BOGUS"), map[string]any{}, adapter.Options{})
	require.Error(t, err)
}
