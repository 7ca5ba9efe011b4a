package config

import "github.com/kellandavies/riskd/internal/money"

// parseMoneyLimit parses a configured threshold string into exact
// decimal Money, used only during Validate's cross-rule checks.
func parseMoneyLimit(s string) (money.Money, error) {
	return money.New(s)
}
