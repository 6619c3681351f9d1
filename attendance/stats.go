/*
stats.go - Engagement, streak, and loyalty calculations

PURPOSE:
  Derives the read-optimized Stats projection from a target's monthly
  records. Everything in this file is a pure function: the projection is
  fully determined by the record history, the as-of instant, and the
  model's validation config.

ONE PROJECTION FUNCTION:
  Project() is the single source of truth. The per-check-in update path
  and the backfill recalculation both call it over the same record set,
  which is what makes the two paths produce identical output for the
  same history.

STREAK RULES:
  The streak counts consecutive calendar days ending at the most recent
  visit. Multiple visits on one day neither advance nor break it. A gap
  of more than ResetStreakAfterDays between the last visit and "now"
  makes the current streak read as zero.

ENGAGEMENT RULES:
  Recency dominates frequency: 30+ days without a visit is dormant and
  14+ days is at_risk regardless of this month's visit count. Otherwise
  the month's visits bucket against 12/8/4/1, highest first.

SEE ALSO:
  - session.go: Maintains the projection on every check-in/check-out
  - aggregate.go: The per-month counters this file aggregates
*/
package attendance

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STREAKS
// =============================================================================

// CalculateStreak returns the current streak for visit days sorted in
// descending order. resetAfterDays is the maximum allowed gap between
// the most recent visit and asOf before the streak reads as zero.
func CalculateStreak(daysDesc []time.Time, asOf time.Time, resetAfterDays int) int {
	if len(daysDesc) == 0 {
		return 0
	}
	if resetAfterDays <= 0 {
		resetAfterDays = 1
	}
	if daysBetween(daysDesc[0], asOf) > resetAfterDays {
		return 0
	}

	streak := 1
	for i := 1; i < len(daysDesc); i++ {
		gap := daysBetween(daysDesc[i], daysDesc[i-1])
		if gap == 0 {
			continue // same day, multiple visits
		}
		if gap > 1 {
			break
		}
		streak++
	}
	return streak
}

// LongestStreak returns the longest run of consecutive visit days
// anywhere in the history. Input order does not matter.
func LongestStreak(days []time.Time) int {
	if len(days) == 0 {
		return 0
	}
	sorted := make([]time.Time, len(days))
	copy(sorted, days)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	longest, run := 1, 1
	for i := 1; i < len(sorted); i++ {
		gap := daysBetween(sorted[i-1], sorted[i])
		switch {
		case gap == 0:
			continue
		case gap == 1:
			run++
		default:
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// daysBetween returns whole calendar days from a to b.
func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}

// =============================================================================
// ENGAGEMENT
// =============================================================================

// EngagementFor classifies a target. daysSinceLastVisit is nil when the
// target has never visited.
func EngagementFor(thisMonthVisits int, daysSinceLastVisit *int) EngagementLevel {
	if daysSinceLastVisit == nil {
		return EngagementDormant
	}
	switch {
	case *daysSinceLastVisit >= 30:
		return EngagementDormant
	case *daysSinceLastVisit >= 14:
		return EngagementAtRisk
	}
	switch {
	case thisMonthVisits >= 12:
		return EngagementHighlyActive
	case thisMonthVisits >= 8:
		return EngagementActive
	case thisMonthVisits >= 4:
		return EngagementRegular
	case thisMonthVisits >= 1:
		return EngagementOccasional
	default:
		return EngagementInactive
	}
}

// =============================================================================
// LOYALTY
// =============================================================================

var (
	streakWeight  = decimal.NewFromInt(5)
	averageWeight = decimal.NewFromInt(10)
)

// LoyaltyScore is a deterministic weighted sum, non-decreasing in each
// input while the others are held fixed.
func LoyaltyScore(totalVisits, longestStreak int, monthlyAverage decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(totalVisits)).
		Add(streakWeight.Mul(decimal.NewFromInt(int64(longestStreak)))).
		Add(averageWeight.Mul(monthlyAverage))
}

// =============================================================================
// FAVORITE TIME SLOT
// =============================================================================

// FavoriteTimeSlot returns the slot with the highest count, breaking
// ties by the canonical slot ordering (early_morning first). An empty
// distribution yields the empty slot.
func FavoriteTimeSlot(distribution map[TimeSlot]int) TimeSlot {
	var best TimeSlot
	bestCount := 0
	for _, slot := range SlotOrder {
		if count := distribution[slot]; count > bestCount {
			best = slot
			bestCount = count
		}
	}
	return best
}

// =============================================================================
// PROJECTION
// =============================================================================

// Project computes the full Stats projection from a target's monthly
// records. Both the incremental update path and the backfill
// recalculation call this, so their outputs are identical for the same
// history by construction.
func Project(records []*MonthlyRecord, asOf time.Time, cfg ValidationConfig) Stats {
	stats := EmptyStats(asOf)

	var (
		totalVisits int
		daySet      = map[string]bool{}
		slots       = map[TimeSlot]int{}
		first, last *time.Time
	)

	for _, record := range records {
		totalVisits += record.MonthlyTotal
		for _, day := range record.VisitedDays {
			daySet[day] = true
		}
		for slot, count := range record.TimeSlotDistribution {
			slots[slot] += count
		}
		if record.Ref.Year == asOf.Year() && record.Ref.Month == asOf.Month() {
			stats.ThisMonthVisits = record.MonthlyTotal
		}
		prevYear, prevMonth := previousMonth(asOf.Year(), asOf.Month())
		if record.Ref.Year == prevYear && record.Ref.Month == prevMonth {
			stats.LastMonthVisits = record.MonthlyTotal
		}

		for i := range record.CheckIns {
			e := &record.CheckIns[i]
			if !countable(e.Status) {
				continue
			}
			if e.AttendanceType == TypeUnpaidLeave && !cfg.CountUnpaidLeaveInTotals {
				continue
			}
			ts := e.Timestamp
			if first == nil || ts.Before(*first) {
				t := ts
				first = &t
			}
			if last == nil || ts.After(*last) {
				t := ts
				last = &t
			}
		}
	}

	stats.TotalVisits = totalVisits
	stats.FirstVisitedAt = first
	stats.LastVisitedAt = last

	if last != nil {
		since := daysBetween(*last, asOf)
		stats.DaysSinceLastVisit = &since
	}

	days := make([]time.Time, 0, len(daySet))
	for day := range daySet {
		if t, err := time.Parse("2006-01-02", day); err == nil {
			days = append(days, t)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })

	stats.CurrentStreak = CalculateStreak(days, asOf, cfg.ResetStreakAfterDays)
	stats.LongestStreak = LongestStreak(days)
	stats.FavoriteTimeSlot = FavoriteTimeSlot(slots)

	if first != nil {
		months := monthsBetween(*first, asOf)
		stats.MonthlyAverage = decimal.NewFromInt(int64(totalVisits)).
			DivRound(decimal.NewFromInt(int64(months)), 4)
	}

	stats.EngagementLevel = EngagementFor(stats.ThisMonthVisits, stats.DaysSinceLastVisit)
	stats.LoyaltyScore = LoyaltyScore(stats.TotalVisits, stats.LongestStreak, stats.MonthlyAverage)
	stats.UpdatedAt = asOf
	return stats
}

// previousMonth returns the (year, month) preceding the given one.
func previousMonth(year int, month time.Month) (int, time.Month) {
	if month == time.January {
		return year - 1, time.December
	}
	return year, month - 1
}

// monthsBetween returns the number of calendar months covered from a
// through b, inclusive. Never less than 1.
func monthsBetween(a, b time.Time) int {
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month()) + 1
	if months < 1 {
		return 1
	}
	return months
}
