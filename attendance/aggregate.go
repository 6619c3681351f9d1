/*
aggregate.go - Derived-field recomputation for monthly records

PURPOSE:
  Every mutation of a monthly record's entry array funnels through
  Recompute(), which rebuilds the derived counters from a full rescan of
  the entries. Recomputing instead of incrementally patching avoids
  drift from repeated partial updates; the cost is bounded by the
  per-month check-in cap.

COUNTING RULES:
  - An entry counts when its status is valid or corrected. Invalid and
    disputed entries are kept for audit but contribute nothing.
  - MonthlyTotal and VisitedDays count visits; unpaid leave entries are
    included only when the model's CountUnpaidLeaveInTotals flag is set.
  - TimeSlotDistribution covers presence entries only. Leave entries
    carry no meaningful check-in hour.
  - Day-type counters cover finalized entries: closed sessions and leave
    entries. An open session's provisional type is never counted.

INVARIANT:
  TotalWorkDays = FullDaysCount + 0.5*HalfDaysCount + PaidLeaveDaysCount,
  computed in decimal so the half-day fraction is exact.

SEE ALSO:
  - engine.go: Calls Recompute after every mutation
  - detector.go: Assigns the types being counted
*/
package attendance

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var half = decimal.NewFromFloat(0.5)

// countable reports whether an entry contributes to derived fields.
func countable(status AttendanceStatus) bool {
	return status == StatusValid || status == StatusCorrected
}

// Recompute rebuilds every derived field of the record from its entry
// array. Callers mutate CheckIns first, then invoke Recompute before
// persisting, so the stored aggregate is never stale relative to its
// own entries.
func (r *MonthlyRecord) Recompute(cfg ValidationConfig, now time.Time) {
	var (
		total     int
		days      = map[string]bool{}
		slots     = map[TimeSlot]int{}
		full      int
		halfDays  int
		paid      int
		unpaid    int
		overtime  int
	)

	for i := range r.CheckIns {
		e := &r.CheckIns[i]
		if !countable(e.Status) {
			continue
		}

		isLeave := e.AttendanceType.IsLeave()
		countsAsVisit := true
		if e.AttendanceType == TypeUnpaidLeave && !cfg.CountUnpaidLeaveInTotals {
			countsAsVisit = false
		}

		if countsAsVisit {
			total++
			days[e.Day()] = true
		}
		if !isLeave {
			slots[e.TimeSlot]++
		}

		// Day-type counters cover finalized entries only.
		if e.CheckOutAt == nil && !isLeave {
			continue
		}
		switch e.AttendanceType {
		case TypeFullDay:
			full++
		case TypeHalfDayMorning, TypeHalfDayAfternoon:
			halfDays++
		case TypePaidLeave:
			paid++
		case TypeUnpaidLeave:
			unpaid++
		case TypeOvertime:
			overtime++
		}
	}

	visited := make([]string, 0, len(days))
	for d := range days {
		visited = append(visited, d)
	}
	sort.Strings(visited)

	r.MonthlyTotal = total
	r.VisitedDays = visited
	r.UniqueDaysVisited = len(visited)
	r.TimeSlotDistribution = slots
	r.FullDaysCount = full
	r.HalfDaysCount = halfDays
	r.PaidLeaveDaysCount = paid
	r.UnpaidLeaveDaysCount = unpaid
	r.OvertimeDaysCount = overtime
	r.TotalWorkDays = decimal.NewFromInt(int64(full)).
		Add(half.Mul(decimal.NewFromInt(int64(halfDays)))).
		Add(decimal.NewFromInt(int64(paid)))
	r.UpdatedAt = now
}

// sortEntries keeps the entry array ordered by check-in timestamp.
// Corrections can move an entry's timestamp, so ordering is restored
// after every mutation.
func (r *MonthlyRecord) sortEntries() {
	sort.SliceStable(r.CheckIns, func(i, j int) bool {
		return r.CheckIns[i].Timestamp.Before(r.CheckIns[j].Timestamp)
	})
}

// removeEntry deletes the entry with the given id, reporting whether it
// was present.
func (r *MonthlyRecord) removeEntry(checkInID string) bool {
	for i := range r.CheckIns {
		if r.CheckIns[i].ID == checkInID {
			r.CheckIns = append(r.CheckIns[:i], r.CheckIns[i+1:]...)
			return true
		}
	}
	return false
}

// audit appends a correction audit entry.
func (r *MonthlyRecord) audit(at time.Time, actor Actor, action, checkInID, previous, current string) {
	r.Audit = append(r.Audit, AuditEntry{
		At:        at,
		Actor:     actor,
		Action:    action,
		CheckInID: checkInID,
		Previous:  previous,
		Current:   current,
	})
}
