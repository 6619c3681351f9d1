/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO / *Response: Types returned to clients

VALIDATION:
  Request types carry validator struct tags. Handlers run the shared
  validator instance before touching domain logic, so malformed input
  never reaches the tracker.

SEE ALSO:
  - handlers.go: Uses these types
  - attendance/types.go: Domain types these map onto
*/
package api

import (
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// CHECK-IN / CHECK-OUT REQUESTS
// =============================================================================

// CheckInRequest is the request body for check-in and toggle.
type CheckInRequest struct {
	TenantID       string  `json:"tenant_id" validate:"required"`
	TargetModel    string  `json:"target_model" validate:"required"`
	TargetID       string  `json:"target_id" validate:"required"`
	Method         string  `json:"method" validate:"required"`
	At             string  `json:"at,omitempty"` // RFC3339, empty means now
	Notes          string  `json:"notes,omitempty"`
	Location       string  `json:"location,omitempty"`
	Device         string  `json:"device,omitempty"`
	ScheduledHours float64 `json:"scheduled_hours,omitempty" validate:"gte=0"`
	ActorID        string  `json:"actor_id,omitempty"`
	ActorType      string  `json:"actor_type,omitempty"`
}

// CheckOutRequest is the request body for check-out.
type CheckOutRequest struct {
	TenantID       string  `json:"tenant_id" validate:"required"`
	TargetModel    string  `json:"target_model" validate:"required"`
	TargetID       string  `json:"target_id" validate:"required"`
	CheckInID      string  `json:"check_in_id" validate:"required"`
	At             string  `json:"at,omitempty"`
	ScheduledHours float64 `json:"scheduled_hours,omitempty" validate:"gte=0"`
	ActorID        string  `json:"actor_id,omitempty"`
	ActorType      string  `json:"actor_type,omitempty"`
}

// SweepRequest triggers an auto-checkout pass over expired sessions.
type SweepRequest struct {
	TenantID    string `json:"tenant_id" validate:"required"`
	TargetModel string `json:"target_model,omitempty"`
	Before      string `json:"before,omitempty"` // RFC3339, empty means now
	Limit       int    `json:"limit,omitempty" validate:"gte=0"`
}

// =============================================================================
// CORRECTION REQUESTS
// =============================================================================

// CorrectTimeRequest updates a check-in or check-out timestamp.
type CorrectTimeRequest struct {
	NewTime   string `json:"new_time" validate:"required"`
	ActorID   string `json:"actor_id" validate:"required"`
	ActorType string `json:"actor_type,omitempty"`
}

// OverrideTypeRequest re-classifies an entry's attendance type.
type OverrideTypeRequest struct {
	AttendanceType string `json:"attendance_type" validate:"required"`
	ActorID        string `json:"actor_id" validate:"required"`
	ActorType      string `json:"actor_type,omitempty"`
}

// DeleteCheckInRequest removes an entry with actor attribution.
type DeleteCheckInRequest struct {
	ActorID   string `json:"actor_id" validate:"required"`
	ActorType string `json:"actor_type,omitempty"`
}

// RetroactiveRequest records a past leave day.
type RetroactiveRequest struct {
	Day            string `json:"day" validate:"required"` // YYYY-MM-DD
	AttendanceType string `json:"attendance_type" validate:"required"`
	Notes          string `json:"notes,omitempty"`
	ActorID        string `json:"actor_id" validate:"required"`
	ActorType      string `json:"actor_type,omitempty"`
}

// =============================================================================
// CONFIG REQUESTS
// =============================================================================

// RegisterConfigRequest registers a target model with overrides that
// deep-merge over the model defaults.
type RegisterConfigRequest struct {
	Override map[string]any `json:"override"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// CheckInDTO is a check-in entry in API responses.
type CheckInDTO struct {
	ID                 string  `json:"id"`
	Timestamp          string  `json:"timestamp"`
	CheckOutAt         *string `json:"check_out_at,omitempty"`
	ExpectedCheckOutAt *string `json:"expected_check_out_at,omitempty"`
	DurationMinutes    *int    `json:"duration_minutes,omitempty"`
	Method             string  `json:"method"`
	Status             string  `json:"status"`
	TimeSlot           string  `json:"time_slot"`
	AttendanceType     string  `json:"attendance_type"`
	AutoCheckedOut     bool    `json:"auto_checked_out"`
	FlaggedForReview   bool    `json:"flagged_for_review"`
	Notes              string  `json:"notes,omitempty"`
	Location           string  `json:"location,omitempty"`
	Device             string  `json:"device,omitempty"`
}

// RecordDTO is a monthly record in API responses.
type RecordDTO struct {
	TenantID             string         `json:"tenant_id"`
	TargetModel          string         `json:"target_model"`
	TargetID             string         `json:"target_id"`
	Year                 int            `json:"year"`
	Month                int            `json:"month"`
	CheckIns             []CheckInDTO   `json:"check_ins"`
	MonthlyTotal         int            `json:"monthly_total"`
	UniqueDaysVisited    int            `json:"unique_days_visited"`
	VisitedDays          []string       `json:"visited_days"`
	TimeSlotDistribution map[string]int `json:"time_slot_distribution"`
	FullDays             int            `json:"full_days"`
	HalfDays             int            `json:"half_days"`
	PaidLeaveDays        int            `json:"paid_leave_days"`
	UnpaidLeaveDays      int            `json:"unpaid_leave_days"`
	OvertimeDays         int            `json:"overtime_days"`
	TotalWorkDays        string         `json:"total_work_days"`
	Version              int64          `json:"version"`
	UpdatedAt            string         `json:"updated_at"`
}

// StatsDTO is the engagement projection in API responses.
type StatsDTO struct {
	TotalVisits        int     `json:"total_visits"`
	ThisMonthVisits    int     `json:"this_month_visits"`
	LastMonthVisits    int     `json:"last_month_visits"`
	CurrentStreak      int     `json:"current_streak"`
	LongestStreak      int     `json:"longest_streak"`
	MonthlyAverage     string  `json:"monthly_average"`
	EngagementLevel    string  `json:"engagement_level"`
	DaysSinceLastVisit *int    `json:"days_since_last_visit,omitempty"`
	FavoriteTimeSlot   string  `json:"favorite_time_slot,omitempty"`
	LoyaltyScore       string  `json:"loyalty_score"`
	LastVisitedAt      *string `json:"last_visited_at,omitempty"`
	FirstVisitedAt     *string `json:"first_visited_at,omitempty"`
}

// CheckInResponse wraps a successful check-in or check-out.
type CheckInResponse struct {
	Entry  CheckInDTO `json:"entry"`
	Record RecordDTO  `json:"record"`
	Stats  StatsDTO   `json:"stats"`
}

// ToggleResponse reports which direction a toggle dispatched.
type ToggleResponse struct {
	CheckedIn bool             `json:"checked_in"`
	CheckIn   *CheckInResponse `json:"check_in,omitempty"`
	CheckOut  *CheckInResponse `json:"check_out,omitempty"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}

func toCheckInDTO(e attendance.CheckInEntry) CheckInDTO {
	return CheckInDTO{
		ID:                 e.ID,
		Timestamp:          fmtTime(e.Timestamp),
		CheckOutAt:         fmtTimePtr(e.CheckOutAt),
		ExpectedCheckOutAt: fmtTimePtr(e.ExpectedCheckOutAt),
		DurationMinutes:    e.DurationMinutes,
		Method:             string(e.Method),
		Status:             string(e.Status),
		TimeSlot:           string(e.TimeSlot),
		AttendanceType:     string(e.AttendanceType),
		AutoCheckedOut:     e.AutoCheckedOut,
		FlaggedForReview:   e.FlaggedForReview,
		Notes:              e.Notes,
		Location:           e.Location,
		Device:             e.Device,
	}
}

func toRecordDTO(r *attendance.MonthlyRecord) RecordDTO {
	entries := make([]CheckInDTO, len(r.CheckIns))
	for i, e := range r.CheckIns {
		entries[i] = toCheckInDTO(e)
	}
	slots := make(map[string]int, len(r.TimeSlotDistribution))
	for slot, n := range r.TimeSlotDistribution {
		slots[string(slot)] = n
	}
	return RecordDTO{
		TenantID:             r.Ref.TenantID,
		TargetModel:          r.Ref.TargetModel,
		TargetID:             r.Ref.TargetID,
		Year:                 r.Ref.Year,
		Month:                int(r.Ref.Month),
		CheckIns:             entries,
		MonthlyTotal:         r.MonthlyTotal,
		UniqueDaysVisited:    r.UniqueDaysVisited,
		VisitedDays:          r.VisitedDays,
		TimeSlotDistribution: slots,
		FullDays:             r.FullDaysCount,
		HalfDays:             r.HalfDaysCount,
		PaidLeaveDays:        r.PaidLeaveDaysCount,
		UnpaidLeaveDays:      r.UnpaidLeaveDaysCount,
		OvertimeDays:         r.OvertimeDaysCount,
		TotalWorkDays:        r.TotalWorkDays.String(),
		Version:              r.Version,
		UpdatedAt:            fmtTime(r.UpdatedAt),
	}
}

func toStatsDTO(s attendance.Stats) StatsDTO {
	return StatsDTO{
		TotalVisits:        s.TotalVisits,
		ThisMonthVisits:    s.ThisMonthVisits,
		LastMonthVisits:    s.LastMonthVisits,
		CurrentStreak:      s.CurrentStreak,
		LongestStreak:      s.LongestStreak,
		MonthlyAverage:     s.MonthlyAverage.String(),
		EngagementLevel:    string(s.EngagementLevel),
		DaysSinceLastVisit: s.DaysSinceLastVisit,
		FavoriteTimeSlot:   string(s.FavoriteTimeSlot),
		LoyaltyScore:       s.LoyaltyScore.String(),
		LastVisitedAt:      fmtTimePtr(s.LastVisitedAt),
		FirstVisitedAt:     fmtTimePtr(s.FirstVisitedAt),
	}
}
