/*
Package attendance provides the attendance-type detection and
monthly-aggregation engine.

PURPOSE:
  This package records check-in/check-out events for arbitrary "target"
  entities (members, employees, students), maintains one aggregated
  attendance record per (tenant, target, year, month), and derives
  engagement, streak, and loyalty metrics from the visit history.

KEY CONCEPTS IN THIS FILE (types.go):
  - CheckInEntry: One visit record embedded in a monthly record
  - MonthlyRecord: The aggregate root, unique per (tenant, target, year, month)
  - Stats: Read-optimized engagement projection kept on the target entity
  - CurrentSession: The single open-session projection on the target entity
  - RecordRef: The identity tuple of a monthly record

DESIGN PRINCIPLES:
  1. Derived fields are recomputed from the entry array, never hand-edited
  2. Precision: decimal.Decimal for payroll-relevant work-day totals
  3. The target entity is externally owned; we only touch the attendance
     projection fields (enabled flag, stats, current session)

SEE ALSO:
  - aggregate.go: Recompute rules for MonthlyRecord
  - detector.go: AttendanceType assignment
  - stats.go: Stats projection
*/
package attendance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECORD REF - Identity of one monthly aggregate
// =============================================================================

// RecordRef uniquely identifies a monthly attendance record.
type RecordRef struct {
	TenantID    string     `json:"tenantId" bson:"tenantId"`
	TargetModel string     `json:"targetModel" bson:"targetModel"`
	TargetID    string     `json:"targetId" bson:"targetId"`
	Year        int        `json:"year" bson:"year"`
	Month       time.Month `json:"month" bson:"month"`
}

// RefFor builds the RecordRef for a target at the given timestamp.
func RefFor(tenantID, targetModel, targetID string, at time.Time) RecordRef {
	return RecordRef{
		TenantID:    tenantID,
		TargetModel: targetModel,
		TargetID:    targetID,
		Year:        at.Year(),
		Month:       at.Month(),
	}
}

func (r RecordRef) String() string {
	return fmt.Sprintf("%s/%s/%s/%04d-%02d", r.TenantID, r.TargetModel, r.TargetID, r.Year, int(r.Month))
}

// TargetKey identifies the target entity independent of period.
type TargetKey struct {
	TenantID    string `json:"tenantId" bson:"tenantId"`
	TargetModel string `json:"targetModel" bson:"targetModel"`
	TargetID    string `json:"targetId" bson:"targetId"`
}

func (r RecordRef) Target() TargetKey {
	return TargetKey{TenantID: r.TenantID, TargetModel: r.TargetModel, TargetID: r.TargetID}
}

// =============================================================================
// CHECK-IN ENTRY - One visit embedded in a monthly record
// =============================================================================

// Actor references whoever performed an action on behalf of the target
// (front-desk staff, admin, or the system itself).
type Actor struct {
	ID   string `json:"id" bson:"id"`
	Type string `json:"type" bson:"type"` // "member", "staff", "admin", "system"
}

// CheckInEntry is one visit record. AttendanceType is provisional until
// CheckOutAt is set; the detector finalizes it at check-out time.
type CheckInEntry struct {
	ID                string           `json:"id" bson:"id"`
	Timestamp         time.Time        `json:"timestamp" bson:"timestamp"`
	CheckOutAt        *time.Time       `json:"checkOutAt,omitempty" bson:"checkOutAt,omitempty"`
	ExpectedCheckOutAt *time.Time      `json:"expectedCheckOutAt,omitempty" bson:"expectedCheckOutAt,omitempty"`
	DurationMinutes   *int             `json:"durationMinutes,omitempty" bson:"durationMinutes,omitempty"`
	Method            CheckInMethod    `json:"method" bson:"method"`
	Status            AttendanceStatus `json:"status" bson:"status"`
	TimeSlot          TimeSlot         `json:"timeSlot" bson:"timeSlot"`
	AttendanceType    AttendanceType   `json:"attendanceType" bson:"attendanceType"`
	AutoCheckedOut    bool             `json:"autoCheckedOut" bson:"autoCheckedOut"`
	FlaggedForReview  bool             `json:"flaggedForReview" bson:"flaggedForReview"`
	RecordedBy        *Actor           `json:"recordedBy,omitempty" bson:"recordedBy,omitempty"`
	CheckedOutBy      *Actor           `json:"checkedOutBy,omitempty" bson:"checkedOutBy,omitempty"`
	Notes             string           `json:"notes,omitempty" bson:"notes,omitempty"`
	Location          string           `json:"location,omitempty" bson:"location,omitempty"`
	Device            string           `json:"device,omitempty" bson:"device,omitempty"`
}

// IsOpen reports whether the entry has not been checked out yet.
// Leave entries are recorded closed and are never "open".
func (e *CheckInEntry) IsOpen() bool {
	return e.CheckOutAt == nil && !e.AttendanceType.IsLeave()
}

// Day returns the entry's calendar day as an ISO date string.
func (e *CheckInEntry) Day() string {
	return e.Timestamp.Format("2006-01-02")
}

// =============================================================================
// MONTHLY RECORD - The aggregate root
// =============================================================================

// MonthlyRecord holds every check-in for one target in one calendar month,
// plus counters derived from the entry array.
//
// INVARIANT: TotalWorkDays = FullDaysCount + 0.5*HalfDaysCount + PaidLeaveDaysCount.
// The derived fields are recomputed by Recompute() after every mutation;
// they are never edited directly.
type MonthlyRecord struct {
	Ref      RecordRef      `json:"ref" bson:"ref"`
	CheckIns []CheckInEntry `json:"checkIns" bson:"checkIns"`

	MonthlyTotal         int              `json:"monthlyTotal" bson:"monthlyTotal"`
	UniqueDaysVisited    int              `json:"uniqueDaysVisited" bson:"uniqueDaysVisited"`
	VisitedDays          []string         `json:"visitedDays" bson:"visitedDays"` // sorted ISO dates
	TimeSlotDistribution map[TimeSlot]int `json:"timeSlotDistribution" bson:"timeSlotDistribution"`

	FullDaysCount       int             `json:"fullDaysCount" bson:"fullDaysCount"`
	HalfDaysCount       int             `json:"halfDaysCount" bson:"halfDaysCount"`
	PaidLeaveDaysCount  int             `json:"paidLeaveDaysCount" bson:"paidLeaveDaysCount"`
	UnpaidLeaveDaysCount int            `json:"unpaidLeaveDaysCount" bson:"unpaidLeaveDaysCount"`
	OvertimeDaysCount   int             `json:"overtimeDaysCount" bson:"overtimeDaysCount"`
	TotalWorkDays       decimal.Decimal `json:"totalWorkDays" bson:"totalWorkDays"`

	Audit []AuditEntry `json:"audit,omitempty" bson:"audit,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
	Version   int64     `json:"version" bson:"version"`
}

// NewMonthlyRecord creates an empty record for the given ref.
func NewMonthlyRecord(ref RecordRef, now time.Time) *MonthlyRecord {
	return &MonthlyRecord{
		Ref:                  ref,
		CheckIns:             []CheckInEntry{},
		VisitedDays:          []string{},
		TimeSlotDistribution: map[TimeSlot]int{},
		TotalWorkDays:        decimal.Zero,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Entry returns the entry with the given id, or nil.
func (r *MonthlyRecord) Entry(checkInID string) *CheckInEntry {
	for i := range r.CheckIns {
		if r.CheckIns[i].ID == checkInID {
			return &r.CheckIns[i]
		}
	}
	return nil
}

// OpenEntry returns the open entry, or nil. At most one entry may be open
// at a time; the session tracker enforces this before appends.
func (r *MonthlyRecord) OpenEntry() *CheckInEntry {
	for i := range r.CheckIns {
		if r.CheckIns[i].IsOpen() {
			return &r.CheckIns[i]
		}
	}
	return nil
}

// AuditEntry records a correction made to a monthly record.
type AuditEntry struct {
	At        time.Time `json:"at" bson:"at"`
	Actor     Actor     `json:"actor" bson:"actor"`
	Action    string    `json:"action" bson:"action"`
	CheckInID string    `json:"checkInId" bson:"checkInId"`
	Previous  string    `json:"previous,omitempty" bson:"previous,omitempty"`
	Current   string    `json:"current,omitempty" bson:"current,omitempty"`
}

// =============================================================================
// STATS - Read-optimized engagement projection on the target entity
// =============================================================================

// Stats is the engagement projection embedded on the target entity.
// It is eventually consistent with the target's monthly records and is
// recomputed wholesale by the Calculator.
type Stats struct {
	TotalVisits       int             `json:"totalVisits" bson:"totalVisits"`
	ThisMonthVisits   int             `json:"thisMonthVisits" bson:"thisMonthVisits"`
	LastMonthVisits   int             `json:"lastMonthVisits" bson:"lastMonthVisits"`
	CurrentStreak     int             `json:"currentStreak" bson:"currentStreak"`
	LongestStreak     int             `json:"longestStreak" bson:"longestStreak"`
	MonthlyAverage    decimal.Decimal `json:"monthlyAverage" bson:"monthlyAverage"`
	EngagementLevel   EngagementLevel `json:"engagementLevel" bson:"engagementLevel"`
	DaysSinceLastVisit *int           `json:"daysSinceLastVisit,omitempty" bson:"daysSinceLastVisit,omitempty"`
	FavoriteTimeSlot  TimeSlot        `json:"favoriteTimeSlot,omitempty" bson:"favoriteTimeSlot,omitempty"`
	LoyaltyScore      decimal.Decimal `json:"loyaltyScore" bson:"loyaltyScore"`
	LastVisitedAt     *time.Time      `json:"lastVisitedAt,omitempty" bson:"lastVisitedAt,omitempty"`
	FirstVisitedAt    *time.Time      `json:"firstVisitedAt,omitempty" bson:"firstVisitedAt,omitempty"`
	UpdatedAt         time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// EmptyStats returns the projection for a target with no visits.
func EmptyStats(now time.Time) Stats {
	return Stats{
		MonthlyAverage:  decimal.Zero,
		LoyaltyScore:    decimal.Zero,
		EngagementLevel: EngagementDormant,
		UpdatedAt:       now,
	}
}

// =============================================================================
// CURRENT SESSION - The single open-session projection
// =============================================================================

// CurrentSession is the open-session projection on the target entity.
//
// INVARIANT: IsActive == false implies every other field is nil/zero;
// IsActive == true implies CheckInID, CheckInTime and Method are set.
// Every write path goes through Activate/Clear to keep this true.
type CurrentSession struct {
	IsActive           bool           `json:"isActive" bson:"isActive"`
	CheckInID          *string        `json:"checkInId,omitempty" bson:"checkInId,omitempty"`
	CheckInTime        *time.Time     `json:"checkInTime,omitempty" bson:"checkInTime,omitempty"`
	ExpectedCheckOutAt *time.Time     `json:"expectedCheckOutAt,omitempty" bson:"expectedCheckOutAt,omitempty"`
	Method             *CheckInMethod `json:"method,omitempty" bson:"method,omitempty"`
}

// Activate returns an active session projection for the given entry.
func ActivateSession(entry *CheckInEntry) CurrentSession {
	method := entry.Method
	return CurrentSession{
		IsActive:           true,
		CheckInID:          &entry.ID,
		CheckInTime:        &entry.Timestamp,
		ExpectedCheckOutAt: entry.ExpectedCheckOutAt,
		Method:             &method,
	}
}

// ClearSession returns the inactive projection with all fields nil.
func ClearSession() CurrentSession {
	return CurrentSession{}
}

// Consistent reports whether the active/nil-field invariant holds.
func (s CurrentSession) Consistent() bool {
	if s.IsActive {
		return s.CheckInID != nil && s.CheckInTime != nil && s.Method != nil
	}
	return s.CheckInID == nil && s.CheckInTime == nil && s.ExpectedCheckOutAt == nil && s.Method == nil
}

// =============================================================================
// TARGET ENTITY - Minimal attendance-facing view of the host entity
// =============================================================================

// TargetEntity is the minimal required-fields contract the engine needs
// from the externally-owned entity record. Anything else on the host
// entity is opaque to this package.
type TargetEntity struct {
	Key               TargetKey      `json:"key" bson:"key"`
	AttendanceEnabled bool           `json:"attendanceEnabled" bson:"attendanceEnabled"`
	Stats             Stats          `json:"attendanceStats" bson:"attendanceStats"`
	Session           CurrentSession `json:"currentSession" bson:"currentSession"`
}
