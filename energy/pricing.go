// Package energy implements the energy economy: the purchase discount
// schedule and the balance check that gates posting to the feed.
package energy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Schedule is a linear volume discount between Floor and Ceiling currency
// units. An amount at Floor earns no bonus; an amount at Ceiling earns
// MaxDiscount percent.
type Schedule struct {
	Floor       int64
	Ceiling     int64
	MaxDiscount int64
}

// DefaultSchedule is the schedule used in production.
var DefaultSchedule = Schedule{Floor: 500, Ceiling: 10000, MaxDiscount: 30}

// Quote is the outcome of pricing a purchase.
type Quote struct {
	AmountPaid int64 `json:"amount_paid"`
	Energy     int64 `json:"energy"`
	Discount   int64 `json:"discount"`
}

var hundred = decimal.NewFromInt(100)

// DiscountPercent returns the exact, unrounded discount percentage for
// amount. Amounts below Floor get 0.
func (s Schedule) DiscountPercent(amount int64) decimal.Decimal {
	if amount <= s.Floor || s.Ceiling <= s.Floor {
		return decimal.Zero
	}
	return decimal.NewFromInt(amount - s.Floor).
		Mul(decimal.NewFromInt(s.MaxDiscount)).
		Div(decimal.NewFromInt(s.Ceiling - s.Floor))
}

// Quote prices amount. It does not check the amount against the schedule's
// range; see ValidateAmount.
func (s Schedule) Quote(amount int64) Quote {
	pct := s.DiscountPercent(amount)

	// bonus = floor(amount * pct / 100), evaluated as one integer division
	// so that no intermediate rounding leaks into the result.
	var bonus int64
	if pct.IsPositive() {
		num := decimal.NewFromInt(amount).
			Mul(decimal.NewFromInt(amount - s.Floor)).
			Mul(decimal.NewFromInt(s.MaxDiscount))
		den := decimal.NewFromInt(s.Ceiling - s.Floor).Mul(hundred)
		q, _ := num.QuoRem(den, 0)
		bonus = q.IntPart()
	}

	return Quote{
		AmountPaid: amount,
		Energy:     amount + bonus,
		Discount:   pct.Round(0).IntPart(),
	}
}

// ValidateAmount returns ErrInvalidAmount if amount is outside
// [Floor, Ceiling].
func (s Schedule) ValidateAmount(amount int64) error {
	if amount < s.Floor || amount > s.Ceiling {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidAmount, amount, s.Floor, s.Ceiling)
	}
	return nil
}

// PaymentMethod is the way an external payment is collected. It has no
// effect on pricing.
type PaymentMethod string

const (
	MethodSBP     PaymentMethod = "sbp"
	MethodSberPay PaymentMethod = "sberPay"
	MethodTPay    PaymentMethod = "tPay"
)

// Valid reports whether m is one of the supported payment methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodSBP, MethodSberPay, MethodTPay:
		return true
	}
	return false
}
