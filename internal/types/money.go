// README: Common money value object used across modules.
package types

import "fmt"

const CurrencyINR = "INR"

// Money keeps the fare as an unrounded amount; rounding happens only when it is displayed.
type Money struct {
	Amount   float64 `json:"amount" bson:"amount"`
	Currency string  `json:"currency" bson:"currency"`
}

func (m Money) String() string {
	if m.Currency == CurrencyINR || m.Currency == "" {
		return fmt.Sprintf("₹%.2f", m.Amount)
	}
	return fmt.Sprintf("%.2f %s", m.Amount, m.Currency)
}
