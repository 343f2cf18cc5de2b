// README: Money helpers shared across modules (two-decimal rounding, currency default).
package types

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places every persisted or quoted amount carries.
const MoneyPlaces = 2

const DefaultCurrency = "EUR"

// RoundMoney rounds half away from zero to MoneyPlaces.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}
