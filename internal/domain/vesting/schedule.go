package vesting

import (
	"github.com/shopspring/decimal"
	"github.com/weeargh/kiwi/internal/civil"
)

// ShareScale is the number of decimal places tranche sizes are rounded to.
const ShareScale = 3

// divisionScale bounds the intermediate quotient before banker's rounding.
// A share count with 3 decimals divided by 48 either terminates within 7
// places or repeats 3s or 6s, so no tie is misjudged at this precision.
const divisionScale = 16

var monthsDecimal = decimal.NewFromInt(Months)

// ProjectSchedule returns the 48 vesting dates for a grant. Date N is the
// effective date plus N months, with the day clamped to the target month.
//
// effective must already be a tenant-local calendar date. Callers holding an
// instant convert it with civil.Today(now, loc) using the tenant's location;
// no zone or DST adjustment applies here.
func ProjectSchedule(effective civil.Date) [Months]civil.Date {
	var dates [Months]civil.Date
	for i := range dates {
		dates[i] = effective.AddMonthsClamped(i + 1)
	}
	return dates
}

// AllocateTranches splits total into 48 tranches. Tranches 1 to 47 each equal
// total/48 rounded half-to-even at 3 decimals; tranche 48 takes the remainder
// so the tranches sum to total exactly.
func AllocateTranches(total decimal.Decimal) [Months]decimal.Decimal {
	standard := total.DivRound(monthsDecimal, divisionScale).RoundBank(ShareScale)

	var tranches [Months]decimal.Decimal
	for i := 0; i < Months-1; i++ {
		tranches[i] = standard
	}
	tranches[Months-1] = total.Sub(standard.Mul(decimal.NewFromInt(Months - 1)))
	return tranches
}

// Tranche is one (date, shares) pair of a schedule.
type Tranche struct {
	Index  int             `json:"index"`
	Date   civil.Date      `json:"date"`
	Shares decimal.Decimal `json:"shares"`
}

// Schedule is the derived 48-entry vesting schedule of a grant.
type Schedule struct {
	EffectiveDate civil.Date
	Tranches      [Months]Tranche
}

// BuildSchedule pairs the projected dates with the allocated tranches.
func BuildSchedule(effective civil.Date, total decimal.Decimal) Schedule {
	dates := ProjectSchedule(effective)
	sizes := AllocateTranches(total)

	s := Schedule{EffectiveDate: effective}
	for i := 0; i < Months; i++ {
		s.Tranches[i] = Tranche{Index: i, Date: dates[i], Shares: sizes[i]}
	}
	return s
}

// CliffDate is the first date anything vests.
func (s Schedule) CliffDate() civil.Date {
	return s.Tranches[CliffIndex].Date
}

// CliffShares is the lump vesting on the cliff date: tranches 1 through 12.
func (s Schedule) CliffShares() decimal.Decimal {
	sum := decimal.Zero
	for i := 0; i <= CliffIndex; i++ {
		sum = sum.Add(s.Tranches[i].Shares)
	}
	return sum
}

// Events returns the vesting events the schedule produces over its lifetime:
// one cliff event carrying the first 12 tranches, then one per month.
func (s Schedule) Events() []Tranche {
	out := make([]Tranche, 0, Months-CliffIndex)
	out = append(out, Tranche{Index: CliffIndex, Date: s.CliffDate(), Shares: s.CliffShares()})
	for i := CliffIndex + 1; i < Months; i++ {
		out = append(out, s.Tranches[i])
	}
	return out
}

// Candidates returns the events due on or before asOf. It is empty before
// the cliff.
func (s Schedule) Candidates(asOf civil.Date) []Tranche {
	if asOf.Before(s.CliffDate()) {
		return nil
	}
	var out []Tranche
	for _, t := range s.Events() {
		if t.Date.After(asOf) {
			break
		}
		out = append(out, t)
	}
	return out
}

// pendingAgainst drops candidates whose date is already in recorded.
func pendingAgainst(candidates []Tranche, recorded []civil.Date) []Tranche {
	if len(recorded) == 0 {
		return candidates
	}
	seen := make(map[civil.Date]struct{}, len(recorded))
	for _, d := range recorded {
		seen[d] = struct{}{}
	}
	var out []Tranche
	for _, c := range candidates {
		if _, ok := seen[c.Date]; !ok {
			out = append(out, c)
		}
	}
	return out
}
