package rules

// Payload keys the Enforcement Executor reads off a fired Violation.
// The four lockout keys (kind, duration, until-reset, unlock-at) are
// set only by flatten_and_lockout and alert_and_lockout violations; the
// remaining keys name the contract, order, or stop price an action
// targets, or record R004's thresholds.
const (
	// PayloadLockoutKind is "HARD" or "COOLDOWN".
	PayloadLockoutKind = "lockout_kind"
	// PayloadDurationSeconds is present only for COOLDOWN lockouts.
	PayloadDurationSeconds = "duration_seconds"
	// PayloadUntilReset marks a HARD lockout released only by the Reset
	// Scheduler (set to "true"); UnlockAt is left nil.
	PayloadUntilReset = "until_reset"
	// PayloadUnlockAt carries an explicit RFC3339 unlock instant for a
	// HARD lockout that clears at a known future time (R009's "until
	// session open") rather than via the Reset Scheduler or a condition.
	PayloadUnlockAt = "unlock_at"
	// PayloadContractID names the contract an enforcement action targets.
	PayloadContractID = "contract_id"
	// PayloadOrderID names the order an enforcement action targets.
	PayloadOrderID = "order_id"
	// PayloadStopPrice carries a modify_order's new stop price.
	PayloadStopPrice = "stop_price"
	// PayloadConfiguredThreshold and PayloadEffectiveThreshold record
	// R004's composite-enforcement bound for audit purposes.
	PayloadConfiguredThreshold = "configured_threshold"
	PayloadEffectiveThreshold  = "effective_threshold"
)
