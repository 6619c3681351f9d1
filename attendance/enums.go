/*
enums.go - Closed vocabularies for the attendance engine

PURPOSE:
  Defines the fixed enumerations used across the system: how a check-in
  was recorded, what kind of work day a session represents, which time
  slot a check-in falls into, and how engaged a target entity is.

KEY CONCEPTS:
  - CheckInMethod: The channel that produced a check-in (kiosk, RFID, ...)
  - AttendanceStatus: Lifecycle status of a check-in entry
  - AttendanceType: Work-day classification assigned by the detector
  - TimeSlot: Coarse bucket derived from the check-in hour
  - EngagementLevel: Recency/frequency classification of a target

TIME SLOT BOUNDARIES:
  early_morning  05:00 - 08:00
  morning        08:00 - 12:00
  afternoon      12:00 - 17:00
  evening        17:00 - 21:00
  night          21:00 - 05:00

SEE ALSO:
  - detector.go: Assigns AttendanceType
  - stats.go: Assigns EngagementLevel, ranks TimeSlots
*/
package attendance

// =============================================================================
// CHECK-IN METHOD - How the check-in was recorded
// =============================================================================

type CheckInMethod string

const (
	MethodManual CheckInMethod = "manual"
	MethodKiosk  CheckInMethod = "kiosk"
	MethodQR     CheckInMethod = "qr"
	MethodRFID   CheckInMethod = "rfid"
	MethodMobile CheckInMethod = "mobile"
	MethodAdmin  CheckInMethod = "admin"
)

func (m CheckInMethod) Valid() bool {
	switch m {
	case MethodManual, MethodKiosk, MethodQR, MethodRFID, MethodMobile, MethodAdmin:
		return true
	}
	return false
}

// =============================================================================
// ATTENDANCE STATUS - Lifecycle status of a check-in entry
// =============================================================================

type AttendanceStatus string

const (
	StatusValid     AttendanceStatus = "valid"
	StatusInvalid   AttendanceStatus = "invalid"
	StatusCorrected AttendanceStatus = "corrected"
	StatusDisputed  AttendanceStatus = "disputed"
)

// =============================================================================
// ATTENDANCE TYPE - Work-day classification
// =============================================================================

type AttendanceType string

const (
	TypeFullDay          AttendanceType = "full_day"
	TypeHalfDayMorning   AttendanceType = "half_day_morning"
	TypeHalfDayAfternoon AttendanceType = "half_day_afternoon"
	TypePaidLeave        AttendanceType = "paid_leave"
	TypeUnpaidLeave      AttendanceType = "unpaid_leave"
	TypeOvertime         AttendanceType = "overtime"
)

func (t AttendanceType) Valid() bool {
	switch t {
	case TypeFullDay, TypeHalfDayMorning, TypeHalfDayAfternoon,
		TypePaidLeave, TypeUnpaidLeave, TypeOvertime:
		return true
	}
	return false
}

// IsHalfDay reports whether the type is either half-day variant.
func (t AttendanceType) IsHalfDay() bool {
	return t == TypeHalfDayMorning || t == TypeHalfDayAfternoon
}

// IsLeave reports whether the type represents leave rather than presence.
func (t AttendanceType) IsLeave() bool {
	return t == TypePaidLeave || t == TypeUnpaidLeave
}

// =============================================================================
// TIME SLOT - Coarse bucket derived from the check-in hour
// =============================================================================

type TimeSlot string

const (
	SlotEarlyMorning TimeSlot = "early_morning" // 05-08
	SlotMorning      TimeSlot = "morning"       // 08-12
	SlotAfternoon    TimeSlot = "afternoon"     // 12-17
	SlotEvening      TimeSlot = "evening"       // 17-21
	SlotNight        TimeSlot = "night"         // 21-05
)

// SlotOrder is the canonical ordering used for deterministic tie-breaking.
var SlotOrder = []TimeSlot{SlotEarlyMorning, SlotMorning, SlotAfternoon, SlotEvening, SlotNight}

// SlotForHour maps an hour of day (0-23) to its time slot.
func SlotForHour(hour int) TimeSlot {
	switch {
	case hour >= 5 && hour < 8:
		return SlotEarlyMorning
	case hour >= 8 && hour < 12:
		return SlotMorning
	case hour >= 12 && hour < 17:
		return SlotAfternoon
	case hour >= 17 && hour < 21:
		return SlotEvening
	default:
		return SlotNight
	}
}

// =============================================================================
// ENGAGEMENT LEVEL - Recency/frequency classification
// =============================================================================

type EngagementLevel string

const (
	EngagementHighlyActive EngagementLevel = "highly_active"
	EngagementActive       EngagementLevel = "active"
	EngagementRegular      EngagementLevel = "regular"
	EngagementOccasional   EngagementLevel = "occasional"
	EngagementInactive     EngagementLevel = "inactive"
	EngagementAtRisk       EngagementLevel = "at_risk"
	EngagementDormant      EngagementLevel = "dormant"
)
