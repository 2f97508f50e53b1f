// README: Common money value object used across modules.
package types

import "fmt"

type Money struct {
	Amount   int64
	Currency string
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}

func (m Money) IsZero() bool {
	return m.Amount == 0
}
