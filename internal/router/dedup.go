package router

import (
	"fmt"
	"time"

	"github.com/kellandavies/riskd/internal/sdkport"
)

// isDuplicate implements spec.md §4.2 step 1: hash (event_kind,
// contract_id, order_id or position_id, size, price,
// timestamp_epoch_seconds) and suppress a repeat within dedupWindow.
// Callers must hold r.mu.
func (r *Router) isDuplicate(accountID string, raw sdkport.RawEvent) bool {
	key := accountID + "|" + dedupKey(raw)
	now := time.Now()
	r.pruneDedupLocked(now)
	if last, ok := r.dedup[key]; ok && now.Sub(last) < dedupWindow {
		return true
	}
	r.dedup[key] = now
	return false
}

func (r *Router) pruneDedupLocked(now time.Time) {
	for k, t := range r.dedup {
		if now.Sub(t) > dedupWindow {
			delete(r.dedup, k)
		}
	}
}

// dedupKey builds the identity string spec.md §4.2 step 1 describes.
// The broker is documented to emit 2-3 copies of fill/position events
// with identical contract/id/size/price but possibly jittered
// sub-second timestamps, so the timestamp component is truncated to
// whole seconds.
func dedupKey(raw sdkport.RawEvent) string {
	id := firstString(raw.Data, "id", "orderId", "positionId")
	price := firstValue(raw.Data, "averagePrice", "filledPrice", "price", "limitPrice", "stopPrice")
	epoch := epochSeconds(raw.Data["timestamp"])
	return fmt.Sprintf("%s|%v|%v|%v|%v|%d", raw.Type, raw.Data["contractId"], id, raw.Data["size"], price, epoch)
}

func firstString(data map[string]any, fields ...string) string {
	for _, f := range fields {
		if s, ok := data[f].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstValue(data map[string]any, fields ...string) any {
	for _, f := range fields {
		if v, ok := data[f]; ok {
			return v
		}
	}
	return nil
}

func epochSeconds(v any) int64 {
	switch t := v.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.Unix()
		}
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	}
	return time.Now().Unix()
}
