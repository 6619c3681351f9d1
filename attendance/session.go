/*
session.go - Session state machine and occupancy tracking

PURPOSE:
  Drives the idle/active state machine on each target entity. Check-in,
  check-out, and toggle all pass through the same guards; there is no
  weaker toggle-only code path. After every successful mutation the
  target's Stats projection is refreshed and the outbound events fire.

STATE MACHINE:
  idle --checkIn--> active
    Guards: attendance enabled, target model allowlisted, no open
    session within the duplicate-prevention window, weekend policy.
  active --checkOut--> idle
    Guards: a session must be open; the referenced entry must not be
    closed already.

EVENTS:
  Events are published after the store write commits. A failed or
  dropped delivery never affects the stored state.

SEE ALSO:
  - engine.go: The aggregate mutations behind each transition
  - stats.go: The projection refreshed on each transition
*/
package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// visitMilestones are the total-visit counts that trigger
// milestone.achieved events.
var visitMilestones = []int{10, 25, 50, 100, 250, 500}

// =============================================================================
// TRACKER
// =============================================================================

// Tracker coordinates session transitions across the aggregate engine
// and the target-entity projection.
type Tracker struct {
	engine   *Engine
	entities EntityStore
	registry *Registry
	queue    *Queue
	log      *logrus.Logger
	now      func() time.Time
}

// NewTracker wires a tracker over an engine and entity store. The
// registry, queue, clock, and logger are shared with the engine.
func NewTracker(engine *Engine, entities EntityStore) *Tracker {
	return &Tracker{
		engine:   engine,
		entities: entities,
		registry: engine.registry,
		queue:    engine.queue,
		log:      engine.log,
		now:      engine.now,
	}
}

func (t *Tracker) ready() error {
	if t == nil || t.engine == nil || t.entities == nil {
		return ErrNotInitialized
	}
	return t.engine.ready()
}

func (t *Tracker) publish(event Event) {
	if t.queue != nil {
		t.queue.Publish(event)
	}
}

// =============================================================================
// CHECK-IN
// =============================================================================

// CheckInRequest describes a check-in attempt.
type CheckInRequest struct {
	Target         TargetKey
	At             time.Time // zero means "now"
	Method         CheckInMethod
	RecordedBy     *Actor
	Notes          string
	Location       string
	Device         string
	ScheduledHours float64 // forwarded to the detector at check-out
}

// CheckInResult reports a successful check-in.
type CheckInResult struct {
	Entry  CheckInEntry
	Record *MonthlyRecord
	Stats  Stats
}

// CheckIn performs the idle -> active transition.
func (t *Tracker) CheckIn(ctx context.Context, req CheckInRequest) (*CheckInResult, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}

	result, err := t.checkIn(ctx, req)
	if err != nil {
		event := NewEvent(EventCheckInFailed, req.Target)
		event.Payload = map[string]any{"code": Code(err), "error": err.Error()}
		t.publish(event)
		return nil, err
	}
	return result, nil
}

func (t *Tracker) checkIn(ctx context.Context, req CheckInRequest) (*CheckInResult, error) {
	if req.Target.TargetID == "" || req.Target.TargetModel == "" {
		return nil, &ValidationError{Field: "target", Message: "targetModel and targetId required"}
	}
	if !t.registry.Allowed(req.Target.TargetModel) {
		return nil, fmt.Errorf("%s: %w", req.Target.TargetModel, ErrTargetModelNotAllowed)
	}
	if req.Method == "" {
		req.Method = MethodManual
	}
	if !req.Method.Valid() {
		return nil, &ValidationError{Field: "method", Message: "unknown check-in method"}
	}

	now := req.At
	if now.IsZero() {
		now = t.now()
	}

	entity, err := t.entities.GetEntity(ctx, req.Target)
	if err != nil {
		return nil, err
	}
	if !entity.AttendanceEnabled {
		return nil, fmt.Errorf("%s/%s: %w", req.Target.TargetModel, req.Target.TargetID, ErrAttendanceNotEnabled)
	}

	cfg := t.registry.Get(req.Target.TargetModel)

	// Duplicate-prevention pre-check against the session projection. The
	// aggregate's one-open-entry rule backs this up atomically.
	if entity.Session.IsActive && entity.Session.CheckInTime != nil {
		window := time.Duration(cfg.Validation.DuplicatePreventionMinutes) * time.Minute
		next := entity.Session.CheckInTime.Add(window)
		if now.Before(next) {
			return nil, &DuplicateCheckInError{
				LastCheckIn:     *entity.Session.CheckInTime,
				NextAllowedTime: next,
				OpenCheckInID:   deref(entity.Session.CheckInID),
			}
		}
	}

	weekend := now.Weekday() == time.Saturday || now.Weekday() == time.Sunday
	flagWeekend := false
	if weekend && !cfg.Validation.AllowWeekends {
		if !cfg.Validation.WarnOnly {
			return nil, &ValidationError{Field: "timestamp", Message: "weekend check-ins not allowed"}
		}
		flagWeekend = true
		t.log.WithFields(logrus.Fields{
			"target": req.Target.TargetID,
			"model":  req.Target.TargetModel,
		}).Warn("weekend check-in accepted under warn-only policy")
	}

	provisional, err := Detect(now, nil, cfg, DetectContext{ScheduledHours: req.ScheduledHours})
	if err != nil {
		return nil, err
	}

	entry := CheckInEntry{
		ID:                 newEntryID(),
		Timestamp:          now,
		ExpectedCheckOutAt: cfg.AutoCheckout.ExpectedCheckOut(now),
		Method:             req.Method,
		Status:             StatusValid,
		TimeSlot:           SlotForHour(now.Hour()),
		AttendanceType:     provisional.Type,
		FlaggedForReview:   flagWeekend,
		RecordedBy:         req.RecordedBy,
		Notes:              req.Notes,
		Location:           req.Location,
		Device:             req.Device,
	}

	ref := RefFor(req.Target.TenantID, req.Target.TargetModel, req.Target.TargetID, now)
	record, err := t.engine.AppendCheckIn(ctx, ref, entry)
	if err != nil {
		return nil, err
	}

	previousLevel := entity.Stats.EngagementLevel
	previousVisits := entity.Stats.TotalVisits

	stats, err := t.refreshProjection(ctx, entity, ActivateSession(&entry), now)
	if err != nil {
		return nil, err
	}

	t.emitCheckInEvents(req.Target, entry, stats, previousLevel, previousVisits)
	return &CheckInResult{Entry: entry, Record: record, Stats: stats}, nil
}

func (t *Tracker) emitCheckInEvents(target TargetKey, entry CheckInEntry, stats Stats, previousLevel EngagementLevel, previousVisits int) {
	event := NewEvent(EventCheckInRecorded, target)
	event.Stats = &stats
	event.Payload = map[string]any{"checkInId": entry.ID, "method": entry.Method}
	t.publish(event)

	for _, milestone := range visitMilestones {
		if previousVisits < milestone && stats.TotalVisits >= milestone {
			me := NewEvent(EventMilestoneAchieved, target)
			me.Stats = &stats
			me.Payload = map[string]any{"milestone": milestone}
			t.publish(me)
		}
	}

	t.emitStatsEvents(target, stats, previousLevel)
}

func (t *Tracker) emitStatsEvents(target TargetKey, stats Stats, previousLevel EngagementLevel) {
	se := NewEvent(EventStatsUpdated, target)
	se.Stats = &stats
	t.publish(se)

	if stats.EngagementLevel != previousLevel {
		ee := NewEvent(EventEngagementChanged, target)
		ee.Stats = &stats
		ee.Payload = map[string]any{"previous": previousLevel, "current": stats.EngagementLevel}
		t.publish(ee)

		if stats.EngagementLevel == EngagementAtRisk {
			re := NewEvent(EventMemberAtRisk, target)
			re.Stats = &stats
			t.publish(re)
		}
	}
}

// =============================================================================
// CHECK-OUT
// =============================================================================

// CheckOutRequest describes a check-out attempt. CheckInID is required;
// check-out never guesses which session to close.
type CheckOutRequest struct {
	Target         TargetKey
	CheckInID      string
	At             time.Time // zero means "now"
	CheckedOutBy   *Actor
	ScheduledHours float64
}

// CheckOutResult reports a successful check-out.
type CheckOutResult struct {
	Entry  CheckInEntry
	Record *MonthlyRecord
	Stats  Stats
}

// CheckOut performs the active -> idle transition.
func (t *Tracker) CheckOut(ctx context.Context, req CheckOutRequest) (*CheckOutResult, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	if req.CheckInID == "" {
		return nil, &ValidationError{Field: "checkInId", Message: "required"}
	}

	now := req.At
	if now.IsZero() {
		now = t.now()
	}

	entity, err := t.entities.GetEntity(ctx, req.Target)
	if err != nil {
		return nil, err
	}
	if !entity.Session.IsActive {
		return nil, fmt.Errorf("%s/%s: %w", req.Target.TargetModel, req.Target.TargetID, ErrNoActiveSession)
	}

	// The session projection must reference a check-in time so we can
	// locate the month the open entry lives in.
	checkInTime := entity.Session.CheckInTime
	if checkInTime == nil {
		return nil, fmt.Errorf("inconsistent session projection for %s: %w", req.Target.TargetID, ErrNoActiveSession)
	}

	ref := RefFor(req.Target.TenantID, req.Target.TargetModel, req.Target.TargetID, *checkInTime)
	record, err := t.engine.ApplyCheckOut(ctx, ref, req.CheckInID, now, CheckOutOptions{
		CheckedOutBy:   req.CheckedOutBy,
		ScheduledHours: req.ScheduledHours,
	})
	if err != nil {
		return nil, err
	}

	entry := record.Entry(req.CheckInID)
	if entry == nil {
		return nil, fmt.Errorf("check-in %s: %w", req.CheckInID, ErrRecordNotFound)
	}

	previousLevel := entity.Stats.EngagementLevel
	stats, err := t.refreshProjection(ctx, entity, ClearSession(), now)
	if err != nil {
		return nil, err
	}

	event := NewEvent(EventCheckOutRecorded, req.Target)
	event.Stats = &stats
	event.Payload = map[string]any{
		"checkInId":       entry.ID,
		"attendanceType":  entry.AttendanceType,
		"durationMinutes": deref(entry.DurationMinutes),
	}
	t.publish(event)
	t.emitStatsEvents(req.Target, stats, previousLevel)

	return &CheckOutResult{Entry: *entry, Record: record, Stats: stats}, nil
}

// =============================================================================
// TOGGLE
// =============================================================================

// ToggleResult reports which direction a toggle dispatched.
type ToggleResult struct {
	CheckedIn bool
	CheckIn   *CheckInResult
	CheckOut  *CheckOutResult
}

// Toggle reads the current session state and dispatches to check-in or
// check-out. Kiosk, RFID, and QR flows use this; it runs exactly the
// same guards as the direct calls.
func (t *Tracker) Toggle(ctx context.Context, req CheckInRequest) (*ToggleResult, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}

	entity, err := t.entities.GetEntity(ctx, req.Target)
	if err != nil {
		return nil, err
	}

	if entity.Session.IsActive && entity.Session.CheckInID != nil {
		out, err := t.CheckOut(ctx, CheckOutRequest{
			Target:         req.Target,
			CheckInID:      *entity.Session.CheckInID,
			At:             req.At,
			CheckedOutBy:   req.RecordedBy,
			ScheduledHours: req.ScheduledHours,
		})
		if err != nil {
			return nil, err
		}
		return &ToggleResult{CheckOut: out}, nil
	}

	in, err := t.CheckIn(ctx, req)
	if err != nil {
		return nil, err
	}
	return &ToggleResult{CheckedIn: true, CheckIn: in}, nil
}

// =============================================================================
// OCCUPANCY
// =============================================================================

// Occupant is one live entry in the occupancy list.
type Occupant struct {
	Target      TargetKey      `json:"target"`
	CheckInID   string         `json:"checkInId"`
	CheckInTime time.Time      `json:"checkInTime"`
	Method      CheckInMethod  `json:"method"`
	ExpectedOut *time.Time     `json:"expectedCheckOutAt,omitempty"`
}

// Occupancy returns the live list of checked-in targets, optionally
// filtered by target model. This is a point-in-time read; concurrent
// checkouts may not be reflected.
func (t *Tracker) Occupancy(ctx context.Context, tenantID, targetModel string) ([]Occupant, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}

	entities, err := t.entities.ListActiveSessions(ctx, ActiveSessionFilter{
		TenantID:    tenantID,
		TargetModel: targetModel,
	})
	if err != nil {
		return nil, err
	}

	occupants := make([]Occupant, 0, len(entities))
	for _, entity := range entities {
		s := entity.Session
		if !s.IsActive || s.CheckInID == nil || s.CheckInTime == nil || s.Method == nil {
			continue
		}
		occupants = append(occupants, Occupant{
			Target:      entity.Key,
			CheckInID:   *s.CheckInID,
			CheckInTime: *s.CheckInTime,
			Method:      *s.Method,
			ExpectedOut: s.ExpectedCheckOutAt,
		})
	}
	return occupants, nil
}

// =============================================================================
// AUTO-CHECKOUT SWEEP
// =============================================================================

// SweepRequest selects expired sessions to close.
type SweepRequest struct {
	TenantID    string
	TargetModel string // empty means all models
	Before      time.Time
	Limit       int
}

// SweepResult reports per-model counts and per-target failures.
type SweepResult struct {
	Found   map[string]int `json:"found"`
	Cleaned map[string]int `json:"cleaned"`
	Errors  []SweepError   `json:"errors,omitempty"`
}

type SweepError struct {
	Target TargetKey `json:"target"`
	Error  string    `json:"error"`
}

// CheckoutExpired closes open sessions whose expected check-out deadline
// passed before the cutoff, in bounded batches. Targets are processed
// independently: one failure never aborts the others. Re-running over an
// overlapping window is safe because closing an already-closed entry
// fails the "must be open" precondition and the session projection has
// already been cleared.
func (t *Tracker) CheckoutExpired(ctx context.Context, req SweepRequest) (*SweepResult, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	if req.Before.IsZero() {
		req.Before = t.now()
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	before := req.Before
	expired, err := t.entities.ListActiveSessions(ctx, ActiveSessionFilter{
		TenantID:      req.TenantID,
		TargetModel:   req.TargetModel,
		ExpiredBefore: &before,
		Limit:         req.Limit,
	})
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Found: map[string]int{}, Cleaned: map[string]int{}}

	for _, entity := range expired {
		model := entity.Key.TargetModel
		result.Found[model]++

		s := entity.Session
		if s.CheckInID == nil || s.CheckInTime == nil || s.ExpectedCheckOutAt == nil {
			continue
		}

		ref := RefFor(entity.Key.TenantID, model, entity.Key.TargetID, *s.CheckInTime)
		_, err := t.engine.ApplyCheckOut(ctx, ref, *s.CheckInID, *s.ExpectedCheckOutAt, CheckOutOptions{
			AutoCheckedOut: true,
			CheckedOutBy:   &Actor{ID: "system", Type: "system"},
		})
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Target: entity.Key, Error: err.Error()})
			t.log.WithFields(logrus.Fields{
				"target": entity.Key.TargetID,
				"model":  model,
			}).WithError(err).Warn("auto-checkout failed")
			continue
		}

		if _, err := t.refreshProjection(ctx, entity, ClearSession(), t.now()); err != nil {
			result.Errors = append(result.Errors, SweepError{Target: entity.Key, Error: err.Error()})
			continue
		}
		result.Cleaned[model]++

		event := NewEvent(EventSessionExpired, entity.Key)
		event.Payload = map[string]any{"checkInId": *s.CheckInID, "expectedCheckOutAt": *s.ExpectedCheckOutAt}
		t.publish(event)
	}

	t.log.WithFields(logrus.Fields{
		"tenant":  req.TenantID,
		"found":   result.Found,
		"cleaned": result.Cleaned,
		"errors":  len(result.Errors),
	}).Info("auto-checkout sweep completed")
	return result, nil
}

// =============================================================================
// STATS RECALCULATION
// =============================================================================

// RecalculateStats rebuilds the target's Stats projection from its full
// record history. Used for backfills and after corrections.
func (t *Tracker) RecalculateStats(ctx context.Context, target TargetKey) (Stats, error) {
	if err := t.ready(); err != nil {
		return Stats{}, err
	}

	entity, err := t.entities.GetEntity(ctx, target)
	if err != nil {
		return Stats{}, err
	}

	stats, err := t.refreshProjection(ctx, entity, entity.Session, t.now())
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// refreshProjection recomputes stats from the target's records, writes
// the projection (stats + session) back, and returns the new stats.
// The session invariant is checked on every write path.
func (t *Tracker) refreshProjection(ctx context.Context, entity *TargetEntity, session CurrentSession, asOf time.Time) (Stats, error) {
	if !session.Consistent() {
		return Stats{}, fmt.Errorf("session projection violates active/nil invariant: %w", ErrValidation)
	}

	records, err := t.engine.History(ctx, entity.Key)
	if err != nil {
		return Stats{}, err
	}

	cfg := t.registry.Get(entity.Key.TargetModel)
	stats := Project(records, asOf, cfg.Validation)

	entity.Stats = stats
	entity.Session = session
	if err := t.entities.SaveProjection(ctx, entity); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
