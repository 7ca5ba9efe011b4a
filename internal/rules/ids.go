// Package rules implements the 13-rule Rule Library (spec.md §4.8).
// Every rule is a pure evaluator over (domain.RiskEvent, engine.View):
// no rule calls the broker or the persistence store directly, except
// the two narrowly-scoped exceptions documented on NoStopLossGrace's
// and AuthLossGuard's constructors, which the engine's own PRE-CHECK
// bypass set already carves out as special cases.
package rules

// Rule IDs. The Reset Scheduler matches DailyRealizedLoss,
// DailyRealizedProfit, and SessionBlock by these constants to decide
// which lockouts a daily reset releases (spec.md §4.6 step 2).
const (
	IDMaxContracts          = "R001"
	IDMaxContractsPerSymbol = "R002"
	IDDailyRealizedLoss     = "R003"
	IDDailyUnrealizedLoss   = "R004"
	IDMaxUnrealizedProfit   = "R005"
	IDTradeFrequency        = "R006"
	IDCooldownAfterLoss     = "R007"
	IDNoStopLossGrace       = "R008"
	IDSessionBlock          = "R009"
	IDAuthLossGuard         = "R010"
	IDSymbolBlocks          = "R011"
	IDTradeManagement       = "R012"
	IDDailyRealizedProfit   = "R013"
)

// DailyRuleIDs are the rules whose lockouts the Reset Scheduler clears
// at the configured daily reset instant, regardless of unlock_at.
var DailyRuleIDs = map[string]bool{
	IDDailyRealizedLoss:   true,
	IDDailyRealizedProfit: true,
	IDSessionBlock:        true,
}
