package attendance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func at(hour, minute int) time.Time {
	// March 10, 2025 is a Monday.
	return time.Date(2025, time.March, 10, hour, minute, 0, 0, time.UTC)
}

func timePtr(t time.Time) *time.Time { return &t }

func timeBasedConfig() attendance.TargetModelConfig {
	return attendance.DefaultConfig("Visitor")
}

func scheduleAwareConfig() attendance.TargetModelConfig {
	return attendance.DefaultConfig("Employee")
}

// =============================================================================
// TIME-BASED POLICY TESTS
// =============================================================================

func TestDetect_TimeBased_FullDay(t *testing.T) {
	// GIVEN: A time-based policy with a 1 hour full-day threshold
	// WHEN: An 8 hour session is classified
	// THEN: It is a full day

	out := at(17, 0)
	d, err := attendance.Detect(at(9, 0), &out, timeBasedConfig(), attendance.DetectContext{})

	require.NoError(t, err)
	assert.Equal(t, attendance.TypeFullDay, d.Type)
	assert.Equal(t, 8*60, d.DurationMinutes)
	assert.False(t, d.FlaggedForReview)
}

func TestDetect_TimeBased_Overtime(t *testing.T) {
	// GIVEN: A time-based policy with a 10 hour overtime threshold
	// WHEN: An 11 hour session is classified
	// THEN: It is overtime

	out := at(19, 0)
	d, err := attendance.Detect(at(8, 0), &out, timeBasedConfig(), attendance.DetectContext{})

	require.NoError(t, err)
	assert.Equal(t, attendance.TypeOvertime, d.Type)
}

func TestDetect_TimeBased_HalfDayMorning(t *testing.T) {
	// GIVEN: A 45 minute session, above minimal but below the full-day threshold
	// WHEN: It starts and ends in the morning
	// THEN: It is a morning half day

	out := at(9, 45)
	d, err := attendance.Detect(at(9, 0), &out, timeBasedConfig(), attendance.DetectContext{})

	require.NoError(t, err)
	assert.Equal(t, attendance.TypeHalfDayMorning, d.Type)
	assert.Equal(t, 45, d.DurationMinutes)
}

func TestDetect_TimeBased_BelowMinimal_WarnOnly_Flagged(t *testing.T) {
	// GIVEN: A warn-only validation policy
	// WHEN: A 20 minute session below the minimal threshold is classified
	// THEN: It is recorded as a morning half day flagged for review

	cfg := timeBasedConfig()
	require.True(t, cfg.Validation.WarnOnly)

	out := at(9, 20)
	d, err := attendance.Detect(at(9, 0), &out, cfg, attendance.DetectContext{})

	require.NoError(t, err)
	assert.Equal(t, attendance.TypeHalfDayMorning, d.Type)
	assert.True(t, d.FlaggedForReview)
}

func TestDetect_TimeBased_BelowMinimal_Strict_Rejected(t *testing.T) {
	// GIVEN: A strict validation policy
	// WHEN: A session below the minimal threshold is classified
	// THEN: It is rejected as a validation error

	cfg := timeBasedConfig()
	cfg.Validation.WarnOnly = false

	out := at(9, 20)
	_, err := attendance.Detect(at(9, 0), &out, cfg, attendance.DetectContext{})

	assert.ErrorIs(t, err, attendance.ErrValidation)
}

// =============================================================================
// SCHEDULE-AWARE POLICY TESTS
// =============================================================================

func TestDetect_ScheduleAware_Ratios(t *testing.T) {
	// GIVEN: A schedule-aware policy with 1.10/0.75/0.40 ratios
	// WHEN: Sessions of varying length against an 8 hour schedule are classified
	// THEN: The ratio ladder picks overtime, full day, half day, unpaid leave

	cfg := scheduleAwareConfig()
	dctx := attendance.DetectContext{ScheduledHours: 8}

	cases := []struct {
		name    string
		in, out time.Time
		want    attendance.AttendanceType
	}{
		{"ratio 1.125 is overtime", at(8, 0), at(17, 0), attendance.TypeOvertime},
		{"ratio 1.0 is full day", at(9, 0), at(17, 0), attendance.TypeFullDay},
		{"ratio 0.5 is half day", at(8, 0), at(12, 0), attendance.TypeHalfDayMorning},
		{"ratio 0.25 is unpaid leave", at(9, 0), at(11, 0), attendance.TypeUnpaidLeave},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := attendance.Detect(tc.in, timePtr(tc.out), cfg, dctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.Type)
		})
	}
}

func TestDetect_ScheduleAware_FallbackStandardHours(t *testing.T) {
	// GIVEN: No per-day schedule, but a fallback of 8 standard hours
	// WHEN: A 6 hour session is classified
	// THEN: The fallback makes the ratio exactly 0.75, a full day

	out := at(15, 0)
	d, err := attendance.Detect(at(9, 0), &out, scheduleAwareConfig(), attendance.DetectContext{})

	require.NoError(t, err)
	assert.Equal(t, attendance.TypeFullDay, d.Type)
}

func TestDetect_ScheduleAware_NoScheduleNoFallback(t *testing.T) {
	// GIVEN: No schedule and a zero fallback
	// WHEN: A session is classified
	// THEN: The detector reports an unconfigured schedule

	cfg := scheduleAwareConfig()
	cfg.Detection.Rules.Fallback.StandardHours = 0

	out := at(15, 0)
	_, err := attendance.Detect(at(9, 0), &out, cfg, attendance.DetectContext{})

	assert.ErrorIs(t, err, attendance.ErrUnconfiguredSchedule)
}

// =============================================================================
// HALF-DAY SIDE TESTS
// =============================================================================

func halfDayConfig() attendance.TargetModelConfig {
	cfg := timeBasedConfig()
	cfg.Detection.Rules.FullDayHours = 6
	cfg.Detection.Rules.MinimalHours = 1
	return cfg
}

func TestDetect_HalfDaySide_SpanningTieGoesToMorning(t *testing.T) {
	// GIVEN: A 09:00-13:00 session spanning the afternoon-start boundary
	// WHEN: The half-day side is decided
	// THEN: The morning portion (4h vs 0h) wins

	out := at(13, 0)
	d, err := attendance.Detect(at(9, 0), &out, halfDayConfig(), attendance.DetectContext{})

	require.NoError(t, err)
	assert.Equal(t, attendance.TypeHalfDayMorning, d.Type)
}

func TestDetect_HalfDaySide_SpanningLongerAfternoon(t *testing.T) {
	// GIVEN: An 11:00-16:00 session, 2h before the boundary and 3h after
	// WHEN: The half-day side is decided
	// THEN: The afternoon portion wins

	out := at(16, 0)
	d, err := attendance.Detect(at(11, 0), &out, halfDayConfig(), attendance.DetectContext{})

	require.NoError(t, err)
	assert.Equal(t, attendance.TypeHalfDayAfternoon, d.Type)
}

func TestDetect_HalfDaySide_AfternoonCheckIn(t *testing.T) {
	// GIVEN: A session starting after the morning cutoff
	// WHEN: The half-day side is decided
	// THEN: It is an afternoon half day

	out := at(17, 30)
	d, err := attendance.Detect(at(13, 30), &out, halfDayConfig(), attendance.DetectContext{})

	require.NoError(t, err)
	assert.Equal(t, attendance.TypeHalfDayAfternoon, d.Type)
}

// =============================================================================
// EDGE CASES
// =============================================================================

func TestDetect_OpenSession_ProvisionalDefault(t *testing.T) {
	// GIVEN: A check-in with no check-out yet
	// WHEN: The session is classified
	// THEN: The provisional default type is returned with zero duration

	d, err := attendance.Detect(at(9, 0), nil, timeBasedConfig(), attendance.DetectContext{})

	require.NoError(t, err)
	assert.Equal(t, attendance.TypeFullDay, d.Type)
	assert.Zero(t, d.DurationMinutes)
}

func TestDetect_CheckOutBeforeCheckIn_Invalid(t *testing.T) {
	// GIVEN: A check-out timestamp before the check-in
	// WHEN: The session is classified
	// THEN: An InvalidSessionError is returned

	out := at(8, 0)
	_, err := attendance.Detect(at(9, 0), &out, timeBasedConfig(), attendance.DetectContext{})

	var invalid *attendance.InvalidSessionError
	assert.ErrorAs(t, err, &invalid)
	assert.ErrorIs(t, err, attendance.ErrInvalidSession)
}

func TestDetect_Pure_SameInputsSameOutput(t *testing.T) {
	// GIVEN: Identical timestamps, config, and schedule context
	// WHEN: Classification runs twice
	// THEN: The results are identical

	cfg := scheduleAwareConfig()
	dctx := attendance.DetectContext{ScheduledHours: 7.5}
	out := at(16, 30)

	first, err1 := attendance.Detect(at(9, 0), &out, cfg, dctx)
	second, err2 := attendance.Detect(at(9, 0), &out, cfg, dctx)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first, second)
}
