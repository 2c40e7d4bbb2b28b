package maker

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Policy fixes the decimal precision of resting orders for one market.
// Buy prices and sizes round up (never post below the bid, never order less
// than requested); sell prices and sizes round down (never post above the
// ask, never sell more than held). The values are configuration and stay
// constant for the life of the process.
type Policy struct {
	BuyPriceDigits  int32
	BuySizeDigits   int32
	SellPriceDigits int32
	SellSizeDigits  int32
}

// DefaultPolicy matches the CLOB precision rails for a 0.01-tick market:
// buy price 2dp, buy size 4dp, sell price 4dp, sell size 2dp.
func DefaultPolicy() Policy {
	return Policy{
		BuyPriceDigits:  2,
		BuySizeDigits:   4,
		SellPriceDigits: 4,
		SellSizeDigits:  2,
	}
}

func (p Policy) validate() error {
	for _, d := range []int32{p.BuyPriceDigits, p.BuySizeDigits, p.SellPriceDigits, p.SellSizeDigits} {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: digit count %d out of range [0,6]", ErrInvalidInput, d)
		}
	}
	return nil
}

// RoundUp rounds v away from zero at the given number of fractional digits.
func RoundUp(v decimal.Decimal, digits int32) decimal.Decimal {
	return v.RoundUp(digits)
}

// RoundDown rounds v toward zero at the given number of fractional digits.
func RoundDown(v decimal.Decimal, digits int32) decimal.Decimal {
	return v.RoundDown(digits)
}

// Tick is the smallest representable price increment at the given precision.
func Tick(digits int32) decimal.Decimal {
	return decimal.New(1, -digits)
}

// MinViableSize returns the smallest order size, quantized up at sizeDigits,
// whose notional at price meets minNotional. A zero or negative minNotional
// yields zero.
func MinViableSize(minNotional, price decimal.Decimal, sizeDigits int32) (decimal.Decimal, error) {
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	if minNotional.Sign() <= 0 {
		return decimal.Zero, nil
	}
	// Div carries 16 fractional digits, far beyond any size precision we
	// quantize to, so the round-up below sees the exact quotient.
	return minNotional.Div(price).RoundUp(sizeDigits), nil
}
