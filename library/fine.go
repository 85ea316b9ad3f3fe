package library

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FINE POLICY
// =============================================================================

// FinePolicy turns lateness into money. There is exactly one policy per
// engine; rate and cap come from configuration.
type FinePolicy struct {
	Rate decimal.Decimal // per started day late
	Cap  decimal.Decimal // zero means uncapped
}

// DefaultFinePolicy charges 1 per day, capped at 50.
func DefaultFinePolicy() FinePolicy {
	return FinePolicy{Rate: decimal.NewFromInt(1), Cap: decimal.NewFromInt(50)}
}

// Assessment is the outcome of Assess.
type Assessment struct {
	DaysLate int
	Amount   decimal.Decimal
}

// Due reports whether anything is owed.
func (a Assessment) Due() bool {
	return a.Amount.IsPositive()
}

// Reason is the ledger text for this assessment.
func (a Assessment) Reason() string {
	return fmt.Sprintf("Overdue by %d days", a.DaysLate)
}

// Assess computes the fine for a loan due at due and returned at now.
// Any started day counts as a full day.
func (p FinePolicy) Assess(due, now time.Time) Assessment {
	if !now.After(due) {
		return Assessment{Amount: decimal.Zero}
	}
	days := int(math.Ceil(now.Sub(due).Hours() / 24))
	amount := p.Rate.Mul(decimal.NewFromInt(int64(days)))
	if p.Cap.IsPositive() && amount.GreaterThan(p.Cap) {
		amount = p.Cap
	}
	return Assessment{DaysLate: days, Amount: amount}
}

// Validate rejects negative rates and caps.
func (p FinePolicy) Validate() error {
	if p.Rate.IsNegative() {
		return invalid("fineRate", "must be >= 0")
	}
	if p.Cap.IsNegative() {
		return invalid("fineCap", "must be >= 0")
	}
	return nil
}
