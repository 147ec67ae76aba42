package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PrecisionFromStep returns the number of decimals in an exchange increment
// such as tickSize "0.10" or stepSize "0.001". Trailing zeros are ignored.
func PrecisionFromStep(step string) (int32, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(step))
	if err != nil {
		return 0, fmt.Errorf("parse increment %q: %w", step, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("increment %q must be positive", step)
	}
	s := d.String()
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0, nil
	}
	return int32(len(strings.TrimRight(s[dot+1:], "0"))), nil
}
