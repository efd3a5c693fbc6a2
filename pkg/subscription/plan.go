package subscription

import (
	"strings"
	"time"
)

// TrialDuration is the validity window granted by a free-trial activation.
const TrialDuration = 30 * 24 * time.Hour

// ClassifyInterval maps a provider billing interval and count to a canonical tier.
// Anything unrecognized falls back to PlanMonthly. The day buckets are inclusive
// and intentionally coarse: counts between them resolve to monthly.
func ClassifyInterval(interval Interval, count int64) PlanType {
	switch interval {
	case IntervalYear:
		return PlanYearly
	case IntervalMonth:
		switch count {
		case 3:
			return PlanQuarterly
		case 6:
			return PlanSemiannual
		default:
			return PlanMonthly
		}
	case IntervalDay:
		switch {
		case count >= 80 && count <= 100:
			return PlanQuarterly
		case count >= 170 && count <= 190:
			return PlanSemiannual
		case count >= 360 && count <= 370:
			return PlanYearly
		default:
			return PlanMonthly
		}
	default:
		return PlanMonthly
	}
}

// ParsePlanType normalizes a loose plan identifier (as sent in checkout
// metadata, e.g. "month", "year", "quarterly") into a canonical tier.
// The boolean is false when the input was not recognized and monthly was assumed.
func ParsePlanType(s string) (PlanType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "month", "monthly":
		return PlanMonthly, true
	case "quarter", "quarterly":
		return PlanQuarterly, true
	case "semiannual", "semi_annual", "semi-annual", "half_year":
		return PlanSemiannual, true
	case "year", "yearly", "annual":
		return PlanYearly, true
	default:
		return PlanMonthly, false
	}
}

// Months returns the length of the tier in calendar months.
func (p PlanType) Months() int {
	switch p {
	case PlanYearly:
		return 12
	case PlanSemiannual:
		return 6
	case PlanQuarterly:
		return 3
	default:
		return 1
	}
}

// EndDate computes the end of the validity window starting at from.
func (p PlanType) EndDate(from time.Time) time.Time {
	return addMonths(from, p.Months())
}

// addMonths adds calendar months, clamping to the last day of the target month
// when the source day does not exist there (Jan 31 + 1 month = Feb 28/29).
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	lastDay := time.Date(y, m+time.Month(months)+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(y, m+time.Month(months), d, hh, mm, ss, t.Nanosecond(), t.Location())
}
