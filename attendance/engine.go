/*
engine.go - Monthly aggregate engine

PURPOSE:
  Owns the lifecycle of monthly attendance records: lazy creation on
  first check-in, idempotent check-in append, check-out application
  (which retroactively finalizes the entry's type and recomputes the
  counters), corrections, and the bounded auto-checkout sweep.

ATOMICITY:
  Every operation here is a single read-modify-write against one record
  document via RecordStore.Update. The engine holds no locks of its own;
  the store's per-document atomicity contract (see store.go) is what
  makes concurrent calls safe.

STRUCTURAL INVARIANT:
  At most one entry per record may be open. AppendCheckIn enforces this
  inside the same atomic mutation that appends the entry, so two
  concurrent check-ins cannot both slip through.

SEE ALSO:
  - aggregate.go: Recompute rules
  - session.go: The tracker driving check-in/check-out
  - store.go: Persistence contract
*/
package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// newEntryID returns a fresh check-in entry id.
func newEntryID() string { return uuid.NewString() }

// =============================================================================
// ENGINE
// =============================================================================

// Engine mutates monthly attendance records. Construct with NewEngine;
// a zero Engine returns ErrNotInitialized from every operation.
type Engine struct {
	records  RecordStore
	registry *Registry
	queue    *Queue
	log      *logrus.Logger
	now      func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock replaces the engine's time source. Tests use this to pin time.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithEventQueue attaches the outbound event queue.
func WithEventQueue(q *Queue) EngineOption {
	return func(e *Engine) { e.queue = q }
}

// WithLogger replaces the engine's logger.
func WithLogger(log *logrus.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates an engine over the given record store and config
// registry.
func NewEngine(records RecordStore, registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		records:  records,
		registry: registry,
		log:      logrus.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) ready() error {
	if e == nil || e.records == nil || e.registry == nil {
		return ErrNotInitialized
	}
	return nil
}

func (e *Engine) publish(event Event) {
	if e.queue != nil {
		e.queue.Publish(event)
	}
}

// config returns the validation config for a record's target model.
func (e *Engine) config(ref RecordRef) TargetModelConfig {
	return e.registry.Get(ref.TargetModel)
}

// =============================================================================
// CHECK-IN APPEND
// =============================================================================

// AppendCheckIn locates or creates the aggregate for the entry's month
// and appends the entry. The append is rejected with
// DuplicateCheckInError when another entry is still open: the structural
// "at most one open entry" rule is enforced inside the same atomic
// mutation as the append.
func (e *Engine) AppendCheckIn(ctx context.Context, ref RecordRef, entry CheckInEntry) (*MonthlyRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if entry.ID == "" {
		return nil, &ValidationError{Field: "id", Message: "required"}
	}
	if entry.Timestamp.IsZero() {
		return nil, &ValidationError{Field: "timestamp", Message: "required"}
	}

	cfg := e.config(ref)

	record, err := e.records.Update(ctx, ref, func(r *MonthlyRecord) error {
		if open := r.OpenEntry(); open != nil {
			next := open.Timestamp.Add(time.Duration(cfg.Validation.DuplicatePreventionMinutes) * time.Minute)
			return &DuplicateCheckInError{
				LastCheckIn:     open.Timestamp,
				NextAllowedTime: next,
				OpenCheckInID:   open.ID,
			}
		}
		if r.Entry(entry.ID) != nil {
			// Same entry id re-sent: idempotent no-op.
			return nil
		}
		if cfg.Validation.MaxCheckInsPerMonth > 0 && len(r.CheckIns) >= cfg.Validation.MaxCheckInsPerMonth {
			return &ValidationError{Field: "checkIns", Message: "monthly check-in limit reached"}
		}
		r.CheckIns = append(r.CheckIns, entry)
		r.sortEntries()
		r.Recompute(cfg.Validation, e.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"record":  ref.String(),
		"checkIn": entry.ID,
		"method":  entry.Method,
	}).Debug("check-in appended")
	return record, nil
}

// =============================================================================
// CHECK-OUT APPLICATION
// =============================================================================

// CheckOutOptions qualifies an ApplyCheckOut call.
type CheckOutOptions struct {
	AutoCheckedOut bool
	CheckedOutBy   *Actor
	ScheduledHours float64
}

// ApplyCheckOut closes the entry, invokes the detector to finalize its
// attendance type and duration, and recomputes the record's counters.
// Closing an already-closed entry fails with ErrAlreadyCheckedOut, which
// makes the auto-checkout sweep safely re-entrant.
func (e *Engine) ApplyCheckOut(ctx context.Context, ref RecordRef, checkInID string, checkOutAt time.Time, opts CheckOutOptions) (*MonthlyRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	cfg := e.config(ref)

	record, err := e.records.Update(ctx, ref, func(r *MonthlyRecord) error {
		entry := r.Entry(checkInID)
		if entry == nil {
			return fmt.Errorf("check-in %s: %w", checkInID, ErrRecordNotFound)
		}
		if entry.CheckOutAt != nil {
			return ErrAlreadyCheckedOut
		}

		detection, err := Detect(entry.Timestamp, &checkOutAt, cfg, DetectContext{ScheduledHours: opts.ScheduledHours})
		if err != nil {
			return err
		}

		out := checkOutAt
		entry.CheckOutAt = &out
		entry.DurationMinutes = &detection.DurationMinutes
		entry.AttendanceType = detection.Type
		entry.FlaggedForReview = detection.FlaggedForReview
		entry.AutoCheckedOut = opts.AutoCheckedOut
		entry.CheckedOutBy = opts.CheckedOutBy

		r.Recompute(cfg.Validation, e.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"record":  ref.String(),
		"checkIn": checkInID,
		"auto":    opts.AutoCheckedOut,
	}).Debug("check-out applied")
	return record, nil
}

// =============================================================================
// CORRECTIONS
// =============================================================================

// UpdateCheckInTime moves an entry's check-in timestamp, reclassifies a
// closed session against the new duration, and marks the entry corrected.
func (e *Engine) UpdateCheckInTime(ctx context.Context, ref RecordRef, checkInID string, newTime time.Time, actor Actor) (*MonthlyRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cfg := e.config(ref)

	return e.records.Update(ctx, ref, func(r *MonthlyRecord) error {
		entry := r.Entry(checkInID)
		if entry == nil {
			return fmt.Errorf("check-in %s: %w", checkInID, ErrRecordNotFound)
		}
		previous := entry.Timestamp

		entry.Timestamp = newTime
		entry.TimeSlot = SlotForHour(newTime.Hour())
		if entry.CheckOutAt != nil {
			detection, err := Detect(entry.Timestamp, entry.CheckOutAt, cfg, DetectContext{})
			if err != nil {
				return err
			}
			entry.DurationMinutes = &detection.DurationMinutes
			entry.AttendanceType = detection.Type
			entry.FlaggedForReview = detection.FlaggedForReview
		}
		entry.Status = StatusCorrected

		r.audit(e.now(), actor, "update_check_in_time", checkInID,
			previous.Format(time.RFC3339), newTime.Format(time.RFC3339))
		r.sortEntries()
		r.Recompute(cfg.Validation, e.now())
		return nil
	})
}

// UpdateCheckOutTime moves an entry's check-out timestamp, reclassifies,
// and marks the entry corrected.
func (e *Engine) UpdateCheckOutTime(ctx context.Context, ref RecordRef, checkInID string, newTime time.Time, actor Actor) (*MonthlyRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cfg := e.config(ref)

	return e.records.Update(ctx, ref, func(r *MonthlyRecord) error {
		entry := r.Entry(checkInID)
		if entry == nil {
			return fmt.Errorf("check-in %s: %w", checkInID, ErrRecordNotFound)
		}
		var previous string
		if entry.CheckOutAt != nil {
			previous = entry.CheckOutAt.Format(time.RFC3339)
		}

		detection, err := Detect(entry.Timestamp, &newTime, cfg, DetectContext{})
		if err != nil {
			return err
		}
		out := newTime
		entry.CheckOutAt = &out
		entry.DurationMinutes = &detection.DurationMinutes
		entry.AttendanceType = detection.Type
		entry.FlaggedForReview = detection.FlaggedForReview
		entry.Status = StatusCorrected

		r.audit(e.now(), actor, "update_check_out_time", checkInID,
			previous, newTime.Format(time.RFC3339))
		r.Recompute(cfg.Validation, e.now())
		return nil
	})
}

// OverrideAttendanceType replaces an entry's classification. Unlike the
// time corrections, the entry keeps its valid status; the override is
// recorded on the audit trail instead.
func (e *Engine) OverrideAttendanceType(ctx context.Context, ref RecordRef, checkInID string, newType AttendanceType, actor Actor) (*MonthlyRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !newType.Valid() {
		return nil, &ValidationError{Field: "attendanceType", Message: "unknown type"}
	}
	cfg := e.config(ref)

	return e.records.Update(ctx, ref, func(r *MonthlyRecord) error {
		entry := r.Entry(checkInID)
		if entry == nil {
			return fmt.Errorf("check-in %s: %w", checkInID, ErrRecordNotFound)
		}
		previous := entry.AttendanceType
		entry.AttendanceType = newType

		r.audit(e.now(), actor, "override_attendance_type", checkInID,
			string(previous), string(newType))
		r.Recompute(cfg.Validation, e.now())
		return nil
	})
}

// DeleteCheckIn removes an entry from the record.
func (e *Engine) DeleteCheckIn(ctx context.Context, ref RecordRef, checkInID string, actor Actor) (*MonthlyRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cfg := e.config(ref)

	return e.records.Update(ctx, ref, func(r *MonthlyRecord) error {
		if !r.removeEntry(checkInID) {
			return fmt.Errorf("check-in %s: %w", checkInID, ErrRecordNotFound)
		}
		r.audit(e.now(), actor, "delete_check_in", checkInID, "", "")
		r.Recompute(cfg.Validation, e.now())
		return nil
	})
}

// AddRetroactiveAttendance records a leave day (or a backfilled session)
// without an open session having existed. Leave entries are recorded
// closed; backfilled sessions must carry a checkout time.
func (e *Engine) AddRetroactiveAttendance(ctx context.Context, ref RecordRef, day time.Time, attendanceType AttendanceType, actor Actor, notes string) (*MonthlyRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !attendanceType.Valid() {
		return nil, &ValidationError{Field: "attendanceType", Message: "unknown type"}
	}
	if !attendanceType.IsLeave() {
		return nil, &ValidationError{Field: "attendanceType", Message: "retroactive entries must be leave types"}
	}
	cfg := e.config(ref)

	entry := CheckInEntry{
		ID:             newEntryID(),
		Timestamp:      day,
		Method:         MethodAdmin,
		Status:         StatusCorrected,
		TimeSlot:       SlotForHour(day.Hour()),
		AttendanceType: attendanceType,
		RecordedBy:     &actor,
		Notes:          notes,
	}

	return e.records.Update(ctx, ref, func(r *MonthlyRecord) error {
		r.CheckIns = append(r.CheckIns, entry)
		r.audit(e.now(), actor, "add_retroactive_attendance", entry.ID, "", string(attendanceType))
		r.sortEntries()
		r.Recompute(cfg.Validation, e.now())
		return nil
	})
}

// =============================================================================
// READS
// =============================================================================

// Record returns the monthly record for ref.
func (e *Engine) Record(ctx context.Context, ref RecordRef) (*MonthlyRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.records.Get(ctx, ref)
}

// History returns every monthly record for a target, oldest first.
func (e *Engine) History(ctx context.Context, target TargetKey) ([]*MonthlyRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.records.ListForTarget(ctx, target)
}
