package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/router"
	"github.com/kellandavies/riskd/internal/sdkport"
	"github.com/kellandavies/riskd/internal/ticktable"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *ticktable.Registry {
	t.Helper()
	reg, err := ticktable.New([]ticktable.Entry{
		{Root: "MNQ", TickSize: "0.25", TickValue: "0.50"},
	}, nil)
	require.NoError(t, err)
	return reg
}

func newTestRouter(t *testing.T) (*router.Router, *[]domain.RiskEvent, *[]error) {
	t.Helper()
	var published []domain.RiskEvent
	var dropped []error
	log := logrus.NewEntry(logrus.New())
	r := router.New(testRegistry(t), log,
		func(e domain.RiskEvent) { published = append(published, e) },
		func(_ string, err error, _ sdkport.RawEvent) { dropped = append(dropped, err) },
	)
	return r, &published, &dropped
}

func positionOpenedRaw(id string, ts string) sdkport.RawEvent {
	return sdkport.RawEvent{
		Type: string(domain.EventPositionOpened),
		Data: map[string]any{
			"id":           id,
			"contractId":   "CON.F.US.MNQ.Z25",
			"type":         1,
			"size":         2,
			"averagePrice": "21000.00",
			"timestamp":    ts,
		},
	}
}

func TestIngestDeduplicatesWithinWindow(t *testing.T) {
	r, published, _ := newTestRouter(t)
	raw := positionOpenedRaw("pos-1", "2026-07-31T10:00:00Z")

	r.Ingest("ACC-1", raw)
	r.Ingest("ACC-1", raw)

	require.Len(t, *published, 1)
}

func TestIngestDropsInvalidPayloadAndNotifies(t *testing.T) {
	r, published, dropped := newTestRouter(t)
	raw := sdkport.RawEvent{
		Type: string(domain.EventPositionOpened),
		Data: map[string]any{
			"contractId":   "CON.F.US.XYZ.Z25", // unknown root
			"type":         1,
			"size":         1,
			"averagePrice": "100.00",
		},
	}
	r.Ingest("ACC-1", raw)

	require.Empty(t, *published)
	require.Len(t, *dropped, 1)
	var uerr *domain.UnitsError
	require.ErrorAs(t, (*dropped)[0], &uerr)
}

func TestQuoteUpdateRecomputesTrackedPositionAndSynthesizesThrottled(t *testing.T) {
	r, published, _ := newTestRouter(t)
	r.Ingest("ACC-1", positionOpenedRaw("pos-1", "2026-07-31T10:00:00Z"))
	require.Len(t, *published, 1)

	// Small move: total unrealized change is well under the $10
	// synthesis threshold ((21000.10-21000.00)/0.25 * 0.50 * 2 = $0.40).
	r.Ingest("ACC-1", sdkport.RawEvent{
		Type: string(domain.EventQuoteUpdate),
		Data: map[string]any{
			"symbol":     "F.US.MNQ.Z25",
			"bid":        "21000.10",
			"ask":        "21000.10",
			"last_price": "21000.10",
			"timestamp":  "2026-07-31T10:00:01Z",
		},
	})
	require.Len(t, *published, 2, "quote itself always publishes")

	positions := r.Positions("ACC-1")
	require.Len(t, positions, 1)
	require.Equal(t, "0.4", positions[0].UnrealizedPnL.String())

	// Big move past the $10 threshold: ticks=(21020-21000)/0.25=80,
	// *0.50*2 = $80.00, synthesizing an UNREALIZED_PNL_UPDATE.
	r.Ingest("ACC-1", sdkport.RawEvent{
		Type: string(domain.EventQuoteUpdate),
		Data: map[string]any{
			"symbol":     "F.US.MNQ.Z25",
			"bid":        "21020.00",
			"ask":        "21020.00",
			"last_price": "21020.00",
			"timestamp":  "2026-07-31T10:00:02Z",
		},
	})

	require.Len(t, *published, 4) // quote + synthesized UNREALIZED_PNL_UPDATE
	last := (*published)[len(*published)-1]
	require.Equal(t, domain.EventUnrealizedPnLUpdate, last.EventType)
}

func TestPositionClosedRemovesFromBook(t *testing.T) {
	r, _, _ := newTestRouter(t)
	r.Ingest("ACC-1", positionOpenedRaw("pos-1", "2026-07-31T10:00:00Z"))
	require.Len(t, r.Positions("ACC-1"), 1)

	r.Ingest("ACC-1", sdkport.RawEvent{
		Type: string(domain.EventPositionClosed),
		Data: map[string]any{
			"id":            "pos-1",
			"contractId":    "CON.F.US.MNQ.Z25",
			"type":          1,
			"size":          2,
			"averagePrice":  "21000.00",
			"profitAndLoss": "0",
			"timestamp":     "2026-07-31T10:05:00Z",
		},
	})
	require.Empty(t, r.Positions("ACC-1"))
}

func TestRunCoalescesConsecutiveQuotesForSameContract(t *testing.T) {
	r, published, _ := newTestRouter(t)
	src := sdkport.NewFakeEventSource(16)
	src.Push(positionOpenedRaw("pos-1", "2026-07-31T10:00:00Z"))
	for i := 0; i < 5; i++ {
		src.Push(sdkport.RawEvent{
			Type: string(domain.EventQuoteUpdate),
			Data: map[string]any{
				"symbol":     "F.US.MNQ.Z25",
				"bid":        "21000.00",
				"ask":        "21000.00",
				"last_price": "21000.00",
				"timestamp":  "2026-07-31T10:00:0" + string(rune('0'+i)) + "Z",
			},
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, "ACC-1", src)
		close(done)
	}()

	// Give the goroutine a moment to drain the pre-populated buffer in
	// one batch, then shut it down.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	quoteCount := 0
	for _, e := range *published {
		if e.EventType == domain.EventQuoteUpdate {
			quoteCount++
		}
	}
	require.Equal(t, 1, quoteCount, "5 buffered quotes for the same contract collapse to 1")
}

func TestRunStatusPublisherStopsOnCancel(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- r.RunStatusPublisher(ctx, func() []string { return []string{"ACC-1"} })
	}()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunStatusPublisher did not stop after context cancellation")
	}
}
