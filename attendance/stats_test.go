package attendance_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func intPtr(n int) *int { return &n }

// =============================================================================
// STREAK TESTS
// =============================================================================

func TestCalculateStreak_ConsecutiveDays(t *testing.T) {
	// GIVEN: Visits on three consecutive days ending yesterday
	// WHEN: The streak is calculated as of today
	// THEN: The streak is 3

	asOf := day(2025, time.March, 14)
	days := []time.Time{
		day(2025, time.March, 13),
		day(2025, time.March, 12),
		day(2025, time.March, 11),
	}

	assert.Equal(t, 3, attendance.CalculateStreak(days, asOf, 1))
}

func TestCalculateStreak_GapBreaksStreak(t *testing.T) {
	// GIVEN: Visits with a two-day hole in the middle
	// WHEN: The streak is calculated
	// THEN: Only the run up to the hole counts

	asOf := day(2025, time.March, 14)
	days := []time.Time{
		day(2025, time.March, 14),
		day(2025, time.March, 13),
		day(2025, time.March, 10), // gap of 3 days
		day(2025, time.March, 9),
	}

	assert.Equal(t, 2, attendance.CalculateStreak(days, asOf, 1))
}

func TestCalculateStreak_SameDayVisitsNeutral(t *testing.T) {
	// GIVEN: Multiple visits on the same day
	// WHEN: The streak is calculated
	// THEN: Repeat visits neither extend nor break the streak

	asOf := day(2025, time.March, 12)
	days := []time.Time{
		day(2025, time.March, 12),
		day(2025, time.March, 12),
		day(2025, time.March, 11),
	}

	assert.Equal(t, 2, attendance.CalculateStreak(days, asOf, 1))
}

func TestCalculateStreak_StaleHistoryReadsZero(t *testing.T) {
	// GIVEN: The most recent visit is beyond the reset window
	// WHEN: The streak is calculated
	// THEN: It reads as zero without mutating history

	asOf := day(2025, time.March, 20)
	days := []time.Time{
		day(2025, time.March, 14),
		day(2025, time.March, 13),
	}

	assert.Equal(t, 0, attendance.CalculateStreak(days, asOf, 1))

	// A wider reset window sees the same history as a live streak.
	assert.Equal(t, 2, attendance.CalculateStreak(days, asOf, 7))
}

func TestLongestStreak_AnywhereInHistory(t *testing.T) {
	// GIVEN: A four-day run in January and a two-day run in March
	// WHEN: The longest streak is calculated
	// THEN: The January run wins regardless of recency

	days := []time.Time{
		day(2025, time.March, 10),
		day(2025, time.March, 9),
		day(2025, time.January, 6),
		day(2025, time.January, 7),
		day(2025, time.January, 8),
		day(2025, time.January, 9),
	}

	assert.Equal(t, 4, attendance.LongestStreak(days))
}

// =============================================================================
// ENGAGEMENT TESTS
// =============================================================================

func TestEngagementFor_RecencyDominatesFrequency(t *testing.T) {
	// GIVEN: A target with many visits this month but a long absence
	// WHEN: The engagement level is classified
	// THEN: Recency wins over the frequency buckets

	assert.Equal(t, attendance.EngagementDormant, attendance.EngagementFor(15, intPtr(30)))
	assert.Equal(t, attendance.EngagementAtRisk, attendance.EngagementFor(15, intPtr(14)))
}

func TestEngagementFor_FrequencyBuckets(t *testing.T) {
	cases := []struct {
		visits int
		want   attendance.EngagementLevel
	}{
		{12, attendance.EngagementHighlyActive},
		{8, attendance.EngagementActive},
		{4, attendance.EngagementRegular},
		{1, attendance.EngagementOccasional},
		{0, attendance.EngagementInactive},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, attendance.EngagementFor(tc.visits, intPtr(2)),
			"visits=%d", tc.visits)
	}
}

func TestEngagementFor_NeverVisited(t *testing.T) {
	assert.Equal(t, attendance.EngagementDormant, attendance.EngagementFor(0, nil))
}

// =============================================================================
// LOYALTY TESTS
// =============================================================================

func TestLoyaltyScore_Deterministic(t *testing.T) {
	// GIVEN: Fixed inputs
	// WHEN: The score is computed twice
	// THEN: The results are identical

	avg := decimal.RequireFromString("4.25")
	first := attendance.LoyaltyScore(50, 6, avg)
	second := attendance.LoyaltyScore(50, 6, avg)

	assert.True(t, first.Equal(second))
	// 50 + 5*6 + 10*4.25 = 122.5
	assert.True(t, first.Equal(decimal.RequireFromString("122.5")), "got %s", first)
}

func TestLoyaltyScore_MonotonicInEachInput(t *testing.T) {
	// GIVEN: A baseline score
	// WHEN: Any single input increases
	// THEN: The score never decreases

	avg := decimal.NewFromInt(3)
	base := attendance.LoyaltyScore(10, 2, avg)

	assert.True(t, attendance.LoyaltyScore(11, 2, avg).GreaterThanOrEqual(base))
	assert.True(t, attendance.LoyaltyScore(10, 3, avg).GreaterThanOrEqual(base))
	assert.True(t, attendance.LoyaltyScore(10, 2, avg.Add(decimal.NewFromInt(1))).GreaterThanOrEqual(base))
}

// =============================================================================
// FAVORITE TIME SLOT TESTS
// =============================================================================

func TestFavoriteTimeSlot_TieBreaksByCanonicalOrder(t *testing.T) {
	// GIVEN: Two slots with the same count
	// WHEN: The favorite is picked
	// THEN: The earlier slot in the canonical ordering wins

	dist := map[attendance.TimeSlot]int{
		attendance.SlotEvening: 5,
		attendance.SlotMorning: 5,
		attendance.SlotNight:   2,
	}

	assert.Equal(t, attendance.SlotMorning, attendance.FavoriteTimeSlot(dist))
}

func TestFavoriteTimeSlot_EmptyDistribution(t *testing.T) {
	assert.Equal(t, attendance.TimeSlot(""), attendance.FavoriteTimeSlot(nil))
}

// =============================================================================
// PROJECTION TESTS
// =============================================================================

func buildRecord(t *testing.T, tenant, model, id string, year int, month time.Month, visitDays []int, hour int) *attendance.MonthlyRecord {
	t.Helper()

	ref := attendance.RecordRef{TenantID: tenant, TargetModel: model, TargetID: id, Year: year, Month: month}
	record := attendance.NewMonthlyRecord(ref, day(year, month, 1))

	for i, d := range visitDays {
		in := time.Date(year, month, d, hour, 0, 0, 0, time.UTC)
		out := in.Add(8 * time.Hour)
		minutes := 8 * 60
		record.CheckIns = append(record.CheckIns, attendance.CheckInEntry{
			ID:              "ci-" + ref.String() + "-" + string(rune('a'+i)),
			Timestamp:       in,
			CheckOutAt:      &out,
			DurationMinutes: &minutes,
			Method:          attendance.MethodManual,
			Status:          attendance.StatusValid,
			TimeSlot:        attendance.SlotForHour(hour),
			AttendanceType:  attendance.TypeFullDay,
		})
	}

	record.Recompute(attendance.DefaultConfig(model).Validation, day(year, month, 28))
	return record
}

func TestProject_AggregatesAcrossMonths(t *testing.T) {
	// GIVEN: Records for February and March
	// WHEN: The projection is computed as of mid-March
	// THEN: Totals, month counters, and the favorite slot reflect both months

	feb := buildRecord(t, "t1", "Member", "m1", 2025, time.February, []int{3, 4, 5}, 9)
	mar := buildRecord(t, "t1", "Member", "m1", 2025, time.March, []int{10, 11}, 18)

	asOf := time.Date(2025, time.March, 12, 12, 0, 0, 0, time.UTC)
	cfg := attendance.DefaultConfig("Member").Validation

	stats := attendance.Project([]*attendance.MonthlyRecord{feb, mar}, asOf, cfg)

	assert.Equal(t, 5, stats.TotalVisits)
	assert.Equal(t, 2, stats.ThisMonthVisits)
	assert.Equal(t, 3, stats.LastMonthVisits)
	assert.Equal(t, 2, stats.CurrentStreak)
	assert.Equal(t, 3, stats.LongestStreak)
	require.NotNil(t, stats.DaysSinceLastVisit)
	assert.Equal(t, 1, *stats.DaysSinceLastVisit)
	// 3 morning visits vs 2 evening visits
	assert.Equal(t, attendance.SlotMorning, stats.FavoriteTimeSlot)
	// 5 visits over 2 months (February through March, inclusive)
	assert.True(t, stats.MonthlyAverage.Equal(decimal.RequireFromString("2.5")), "got %s", stats.MonthlyAverage)
}

func TestProject_EmptyHistory(t *testing.T) {
	// GIVEN: No records
	// WHEN: The projection is computed
	// THEN: Everything is zero and the target reads as dormant

	stats := attendance.Project(nil, day(2025, time.March, 1), attendance.DefaultConfig("Member").Validation)

	assert.Zero(t, stats.TotalVisits)
	assert.Nil(t, stats.DaysSinceLastVisit)
	assert.Equal(t, attendance.EngagementDormant, stats.EngagementLevel)
	assert.True(t, stats.MonthlyAverage.IsZero())
}

func TestProject_DeterministicForSameHistory(t *testing.T) {
	// GIVEN: The same record history
	// WHEN: The projection is computed twice
	// THEN: The outputs are identical, so the incremental and backfill
	//       paths can never drift apart

	records := []*attendance.MonthlyRecord{
		buildRecord(t, "t1", "Member", "m1", 2025, time.March, []int{3, 4, 10}, 9),
	}
	asOf := time.Date(2025, time.March, 11, 9, 0, 0, 0, time.UTC)
	cfg := attendance.DefaultConfig("Member").Validation

	first := attendance.Project(records, asOf, cfg)
	second := attendance.Project(records, asOf, cfg)

	assert.Equal(t, first, second)
}
