/*
detector.go - Attendance-type detection

PURPOSE:
  Classifies a completed check-in/check-out pair into an attendance type
  and a session duration. This is a pure function of its inputs: the same
  timestamps, configuration, and schedule context always produce the same
  classification.

POLICIES:
  Time-based:
    Absolute hour thresholds, checked highest first:
      hours >= OvertimeHours  -> overtime
      hours >= FullDayHours   -> full_day
      hours >= MinimalHours   -> half_day (side disambiguated below)
      below minimal           -> half_day flagged for review when the
                                 validation policy is warn-only, rejected
                                 otherwise

  Schedule-aware:
    ratio = hours worked / scheduled hours for the day (falling back to
    Rules.Fallback.StandardHours when no schedule is available), checked
    highest first against OvertimeRatio / FullDayRatio / HalfDayRatio;
    below the half-day ratio classifies as unpaid_leave.

HALF-DAY SIDE:
  TimeHints decide morning vs afternoon. A check-in before MorningCutoff
  hints morning; a check-out at/after AfternoonStart hints afternoon.
  When both hints match (a session spanning the boundary), the side
  covering the longer portion of the session wins, with ties going to
  morning.

SEE ALSO:
  - config.go: DetectionConfig and thresholds
  - engine.go: Invokes Detect at check-out and correction time
*/
package attendance

import (
	"time"
)

// =============================================================================
// DETECTOR
// =============================================================================

// DetectContext carries per-call schedule information for the
// schedule-aware policy.
type DetectContext struct {
	// ScheduledHours is the target's scheduled hours for the session day.
	// Zero means no schedule is available.
	ScheduledHours float64
}

// Detection is the detector's result.
type Detection struct {
	Type            AttendanceType
	DurationMinutes int

	// FlaggedForReview marks sessions shorter than the minimal threshold
	// that were accepted under a warn-only validation policy.
	FlaggedForReview bool
}

// Detect classifies a session. A nil checkOut yields the provisional
// default type with zero duration; the classification is recomputed when
// the session is closed.
func Detect(checkIn time.Time, checkOut *time.Time, cfg TargetModelConfig, dctx DetectContext) (Detection, error) {
	if checkOut == nil {
		return Detection{Type: cfg.Detection.Rules.DefaultType}, nil
	}

	dur := checkOut.Sub(checkIn)
	if dur <= 0 {
		return Detection{}, &InvalidSessionError{CheckIn: checkIn, CheckOut: *checkOut}
	}
	minutes := int(dur / time.Minute)
	hours := dur.Hours()

	switch cfg.Detection.Policy {
	case PolicyScheduleAware:
		return detectScheduleAware(checkIn, *checkOut, minutes, hours, cfg, dctx)
	default:
		return detectTimeBased(checkIn, *checkOut, minutes, hours, cfg)
	}
}

func detectTimeBased(checkIn, checkOut time.Time, minutes int, hours float64, cfg TargetModelConfig) (Detection, error) {
	rules := cfg.Detection.Rules
	switch {
	case hours >= rules.OvertimeHours:
		return Detection{Type: TypeOvertime, DurationMinutes: minutes}, nil
	case hours >= rules.FullDayHours:
		return Detection{Type: TypeFullDay, DurationMinutes: minutes}, nil
	case hours >= rules.MinimalHours:
		side := halfDaySide(checkIn, checkOut, cfg.Detection.TimeHints)
		return Detection{Type: side, DurationMinutes: minutes}, nil
	}

	// Below the minimal threshold. Warn-only policies record the session
	// as a morning half day flagged for review; strict policies reject.
	if cfg.Validation.WarnOnly {
		return Detection{Type: TypeHalfDayMorning, DurationMinutes: minutes, FlaggedForReview: true}, nil
	}
	return Detection{}, &ValidationError{Field: "duration", Message: "session below minimal duration"}
}

func detectScheduleAware(checkIn, checkOut time.Time, minutes int, hours float64, cfg TargetModelConfig, dctx DetectContext) (Detection, error) {
	rules := cfg.Detection.Rules

	scheduled := dctx.ScheduledHours
	if scheduled <= 0 {
		scheduled = rules.Fallback.StandardHours
	}
	if scheduled <= 0 {
		return Detection{}, ErrUnconfiguredSchedule
	}

	ratio := hours / scheduled
	switch {
	case ratio >= rules.OvertimeRatio:
		return Detection{Type: TypeOvertime, DurationMinutes: minutes}, nil
	case ratio >= rules.FullDayRatio:
		return Detection{Type: TypeFullDay, DurationMinutes: minutes}, nil
	case ratio >= rules.HalfDayRatio:
		side := halfDaySide(checkIn, checkOut, cfg.Detection.TimeHints)
		return Detection{Type: side, DurationMinutes: minutes}, nil
	default:
		return Detection{Type: TypeUnpaidLeave, DurationMinutes: minutes}, nil
	}
}

// halfDaySide disambiguates which half of the day a half-day session
// covers. When the session spans both hint boundaries, the side holding
// the longer portion of the session wins; ties go to morning.
func halfDaySide(checkIn, checkOut time.Time, hints TimeHints) AttendanceType {
	inBeforeCutoff := checkIn.Hour() < hints.MorningCutoff
	outInAfternoon := checkOut.Hour() >= hints.AfternoonStart

	switch {
	case inBeforeCutoff && !outInAfternoon:
		return TypeHalfDayMorning
	case !inBeforeCutoff:
		return TypeHalfDayAfternoon
	}

	// Spanning session: both hints match. Split at the afternoon-start
	// boundary of the check-in day and compare the portions.
	boundary := time.Date(checkIn.Year(), checkIn.Month(), checkIn.Day(),
		hints.AfternoonStart, 0, 0, 0, checkIn.Location())
	morning := boundary.Sub(checkIn)
	afternoon := checkOut.Sub(boundary)
	if afternoon > morning {
		return TypeHalfDayAfternoon
	}
	return TypeHalfDayMorning
}
