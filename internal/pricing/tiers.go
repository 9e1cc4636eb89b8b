// Package pricing implements the tiered volume discount math used to rank
// sellers and the percentage adjustments applied by promotions and margins.
package pricing

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// EvaluationBatch is the fixed lookahead window, in units, used when
// comparing sellers by their discount schedules.
const EvaluationBatch = 100

// NoThreshold marks the partition of units that fall below every threshold.
const NoThreshold = -1

var hundred = decimal.NewFromInt(100)

// Tier is a run of consecutive units priced at the same discount percent.
type Tier struct {
	Threshold int
	Percent   int
	Units     int
}

// Thresholds returns the schedule thresholds in ascending order.
func Thresholds(schedule map[int]int) []int {
	out := make([]int, 0, len(schedule))
	for t := range schedule {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// PercentAt returns the discount earned by the unit at cumulative position
// pos (0-based): the percent of the largest threshold not above pos, or 0.
func PercentAt(schedule map[int]int, pos int) int {
	best, pct := math.MinInt, 0
	for t, p := range schedule {
		if t <= pos && t > best {
			best, pct = t, p
		}
	}
	return pct
}

// Partition splits a purchase of units, made after purchased units were
// already bought from the same seller, into runs priced at one percent.
//
// The unit at cumulative position p pays the percent of the largest threshold
// t <= p. A threshold reached during the purchase discounts the units after
// it, never the ones before. Runs are returned in position order.
func Partition(schedule map[int]int, purchased, units int) []Tier {
	if units <= 0 {
		return nil
	}
	if purchased < 0 {
		purchased = 0
	}
	start, end := purchased, purchased+units

	thresholds := Thresholds(schedule)
	tiers := make([]Tier, 0, len(thresholds)+1)

	lo := math.MinInt
	for i := -1; i < len(thresholds); i++ {
		threshold, pct := NoThreshold, 0
		if i >= 0 {
			lo = thresholds[i]
			threshold, pct = lo, schedule[lo]
		}
		hi := math.MaxInt
		if i+1 < len(thresholds) {
			hi = thresholds[i+1]
		}

		n := overlap(start, end, lo, hi)
		if n > 0 {
			tiers = append(tiers, Tier{Threshold: threshold, Percent: pct, Units: n})
		}
	}
	return tiers
}

// BatchTotal prices units bought at unitPrice under the schedule.
func BatchTotal(schedule map[int]int, purchased int, unitPrice decimal.Decimal, units int) decimal.Decimal {
	total := decimal.Zero
	for _, t := range Partition(schedule, purchased, units) {
		price := Discounted(unitPrice, decimal.NewFromInt(int64(t.Percent)))
		total = total.Add(price.Mul(decimal.NewFromInt(int64(t.Units))))
	}
	return total
}

// DealSum prices a full evaluation batch. It is the figure sellers are ranked by.
func DealSum(schedule map[int]int, purchased int, unitPrice decimal.Decimal) decimal.Decimal {
	return BatchTotal(schedule, purchased, unitPrice, EvaluationBatch)
}

// Discounted returns price × (100 − percent) / 100.
func Discounted(price, percent decimal.Decimal) decimal.Decimal {
	return price.Mul(hundred.Sub(percent)).Div(hundred)
}

// WithMargin returns price × (100 + margin) / 100.
func WithMargin(price decimal.Decimal, margin int) decimal.Decimal {
	return price.Mul(hundred.Add(decimal.NewFromInt(int64(margin)))).Div(hundred)
}

// AffordableUnits returns how many whole units of price the balance covers.
// A non-positive price buys nothing.
func AffordableUnits(balance, price decimal.Decimal) int {
	if !price.IsPositive() || balance.LessThan(price) {
		return 0
	}
	q, _ := balance.QuoRem(price, 0)
	return int(q.IntPart())
}

// overlap returns the size of [start, end) ∩ [lo, hi).
func overlap(start, end, lo, hi int) int {
	if lo > start {
		start = lo
	}
	if hi < end {
		end = hi
	}
	if end <= start {
		return 0
	}
	return end - start
}
