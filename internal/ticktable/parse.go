package ticktable

import "github.com/kellandavies/riskd/internal/money"

func parseMoney(s string) (money.Money, error) {
	return money.New(s)
}
