package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/attendance/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func memberKey(id string) attendance.TargetKey {
	return attendance.TargetKey{TenantID: "t1", TargetModel: "Member", TargetID: id}
}

func newTestTracker(t *testing.T) (*attendance.Tracker, *store.Memory, *attendance.Registry) {
	t.Helper()
	mem := store.NewMemory()
	registry := attendance.NewRegistry("Member", "Employee")
	engine := attendance.NewEngine(mem, registry,
		attendance.WithClock(func() time.Time {
			return time.Date(2025, time.March, 10, 17, 0, 0, 0, time.UTC)
		}),
	)
	tracker := attendance.NewTracker(engine, mem)

	mem.SeedEntity(attendance.TargetEntity{
		Key:               memberKey("m1"),
		AttendanceEnabled: true,
		Stats:             attendance.EmptyStats(time.Now().UTC()),
	})
	return tracker, mem, registry
}

func monday(hour int) time.Time {
	return time.Date(2025, time.March, 10, hour, 0, 0, 0, time.UTC)
}

// =============================================================================
// CHECK-IN TESTS
// =============================================================================

func TestTracker_CheckIn_ActivatesSession(t *testing.T) {
	// GIVEN: An enabled member with no open session
	// WHEN: They check in
	// THEN: The entry is recorded and the session projection activates

	tracker, mem, _ := newTestTracker(t)
	ctx := context.Background()

	result, err := tracker.CheckIn(ctx, attendance.CheckInRequest{
		Target: memberKey("m1"),
		At:     monday(9),
		Method: attendance.MethodKiosk,
	})
	require.NoError(t, err)

	assert.Equal(t, attendance.MethodKiosk, result.Entry.Method)
	assert.Equal(t, attendance.SlotMorning, result.Entry.TimeSlot)
	assert.Equal(t, 1, result.Stats.TotalVisits)

	entity, err := mem.GetEntity(ctx, memberKey("m1"))
	require.NoError(t, err)
	assert.True(t, entity.Session.IsActive)
	assert.True(t, entity.Session.Consistent())
	require.NotNil(t, entity.Session.CheckInID)
	assert.Equal(t, result.Entry.ID, *entity.Session.CheckInID)
	require.NotNil(t, entity.Session.ExpectedCheckOutAt)
	assert.Equal(t, monday(9).Add(12*time.Hour), *entity.Session.ExpectedCheckOutAt)
}

func TestTracker_CheckIn_DuplicateWithinWindow(t *testing.T) {
	// GIVEN: A member who checked in two minutes ago
	// WHEN: They check in again inside the five minute window
	// THEN: The attempt is rejected with the next allowed time

	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	first, err := tracker.CheckIn(ctx, attendance.CheckInRequest{
		Target: memberKey("m1"),
		At:     monday(9),
		Method: attendance.MethodKiosk,
	})
	require.NoError(t, err)

	_, err = tracker.CheckIn(ctx, attendance.CheckInRequest{
		Target: memberKey("m1"),
		At:     monday(9).Add(2 * time.Minute),
		Method: attendance.MethodKiosk,
	})

	var dup *attendance.DuplicateCheckInError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.Entry.ID, dup.OpenCheckInID)
	assert.Equal(t, monday(9).Add(5*time.Minute), dup.NextAllowedTime)
}

func TestTracker_CheckIn_DisabledTarget(t *testing.T) {
	// GIVEN: A member with attendance tracking disabled
	// WHEN: They check in
	// THEN: The attempt is rejected

	tracker, mem, _ := newTestTracker(t)
	mem.SeedEntity(attendance.TargetEntity{
		Key:               memberKey("m2"),
		AttendanceEnabled: false,
	})

	_, err := tracker.CheckIn(context.Background(), attendance.CheckInRequest{
		Target: memberKey("m2"),
		At:     monday(9),
	})
	assert.ErrorIs(t, err, attendance.ErrAttendanceNotEnabled)
}

func TestTracker_CheckIn_UnknownTarget(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	_, err := tracker.CheckIn(context.Background(), attendance.CheckInRequest{
		Target: memberKey("ghost"),
		At:     monday(9),
	})
	assert.ErrorIs(t, err, attendance.ErrMemberNotFound)
}

func TestTracker_CheckIn_ModelNotAllowed(t *testing.T) {
	// GIVEN: A registry restricted to Member and Employee
	// WHEN: A Robot target checks in
	// THEN: The attempt is rejected before any store access

	tracker, _, _ := newTestTracker(t)

	_, err := tracker.CheckIn(context.Background(), attendance.CheckInRequest{
		Target: attendance.TargetKey{TenantID: "t1", TargetModel: "Robot", TargetID: "r2d2"},
		At:     monday(9),
	})
	assert.ErrorIs(t, err, attendance.ErrTargetModelNotAllowed)
}

func TestTracker_CheckIn_WeekendRejectedUnderStrictPolicy(t *testing.T) {
	// GIVEN: A model configured to reject weekend check-ins
	// WHEN: A member checks in on Saturday
	// THEN: The attempt is rejected

	tracker, _, registry := newTestTracker(t)
	require.NoError(t, registry.Register("Member", map[string]any{
		"validation": map[string]any{"allowWeekends": false, "warnOnly": false},
	}))

	saturday := time.Date(2025, time.March, 8, 9, 0, 0, 0, time.UTC)
	_, err := tracker.CheckIn(context.Background(), attendance.CheckInRequest{
		Target: memberKey("m1"),
		At:     saturday,
	})
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

// =============================================================================
// CHECK-OUT TESTS
// =============================================================================

func TestTracker_CheckOut_ClearsSession(t *testing.T) {
	// GIVEN: An active session
	// WHEN: The member checks out eight hours later
	// THEN: The entry finalizes and the session projection clears

	tracker, mem, _ := newTestTracker(t)
	ctx := context.Background()

	in, err := tracker.CheckIn(ctx, attendance.CheckInRequest{
		Target: memberKey("m1"),
		At:     monday(9),
	})
	require.NoError(t, err)

	out, err := tracker.CheckOut(ctx, attendance.CheckOutRequest{
		Target:    memberKey("m1"),
		CheckInID: in.Entry.ID,
		At:        monday(17),
	})
	require.NoError(t, err)

	assert.Equal(t, attendance.TypeFullDay, out.Entry.AttendanceType)
	require.NotNil(t, out.Entry.DurationMinutes)
	assert.Equal(t, 8*60, *out.Entry.DurationMinutes)

	entity, err := mem.GetEntity(ctx, memberKey("m1"))
	require.NoError(t, err)
	assert.False(t, entity.Session.IsActive)
	assert.True(t, entity.Session.Consistent())
	assert.Nil(t, entity.Session.CheckInID)
}

func TestTracker_CheckOut_NoActiveSession(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	_, err := tracker.CheckOut(context.Background(), attendance.CheckOutRequest{
		Target:    memberKey("m1"),
		CheckInID: "ci-nope",
		At:        monday(17),
	})
	assert.ErrorIs(t, err, attendance.ErrNoActiveSession)
}

// =============================================================================
// TOGGLE TESTS
// =============================================================================

func TestTracker_Toggle_DispatchesBothDirections(t *testing.T) {
	// GIVEN: A member with no open session
	// WHEN: Toggle runs twice
	// THEN: The first toggles in and the second toggles out

	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	first, err := tracker.Toggle(ctx, attendance.CheckInRequest{
		Target: memberKey("m1"),
		At:     monday(9),
		Method: attendance.MethodRFID,
	})
	require.NoError(t, err)
	assert.True(t, first.CheckedIn)
	require.NotNil(t, first.CheckIn)

	second, err := tracker.Toggle(ctx, attendance.CheckInRequest{
		Target: memberKey("m1"),
		At:     monday(17),
		Method: attendance.MethodRFID,
	})
	require.NoError(t, err)
	assert.False(t, second.CheckedIn)
	require.NotNil(t, second.CheckOut)
	assert.Equal(t, first.CheckIn.Entry.ID, second.CheckOut.Entry.ID)
}

// =============================================================================
// OCCUPANCY TESTS
// =============================================================================

func TestTracker_Occupancy_ListsActiveSessions(t *testing.T) {
	// GIVEN: Two members, one checked in
	// WHEN: Occupancy is read
	// THEN: Only the active session is listed

	tracker, mem, _ := newTestTracker(t)
	ctx := context.Background()
	mem.SeedEntity(attendance.TargetEntity{
		Key:               memberKey("m2"),
		AttendanceEnabled: true,
	})

	in, err := tracker.CheckIn(ctx, attendance.CheckInRequest{
		Target: memberKey("m1"),
		At:     monday(9),
	})
	require.NoError(t, err)

	occupants, err := tracker.Occupancy(ctx, "t1", "Member")
	require.NoError(t, err)

	require.Len(t, occupants, 1)
	assert.Equal(t, "m1", occupants[0].Target.TargetID)
	assert.Equal(t, in.Entry.ID, occupants[0].CheckInID)
}

// =============================================================================
// AUTO-CHECKOUT SWEEP TESTS
// =============================================================================

func TestTracker_CheckoutExpired_ClosesAndClears(t *testing.T) {
	// GIVEN: A session past its 12 hour auto-checkout deadline
	// WHEN: The sweep runs
	// THEN: The entry closes at the deadline, marked auto-checked-out,
	//       and the session projection clears

	tracker, mem, _ := newTestTracker(t)
	ctx := context.Background()

	in, err := tracker.CheckIn(ctx, attendance.CheckInRequest{
		Target: memberKey("m1"),
		At:     monday(9),
	})
	require.NoError(t, err)

	result, err := tracker.CheckoutExpired(ctx, attendance.SweepRequest{
		TenantID: "t1",
		Before:   monday(9).Add(13 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Found["Member"])
	assert.Equal(t, 1, result.Cleaned["Member"])
	assert.Empty(t, result.Errors)

	ref := attendance.RefFor("t1", "Member", "m1", monday(9))
	record, err := mem.Get(ctx, ref)
	require.NoError(t, err)

	entry := record.Entry(in.Entry.ID)
	require.NotNil(t, entry)
	assert.True(t, entry.AutoCheckedOut)
	require.NotNil(t, entry.CheckOutAt)
	assert.Equal(t, monday(9).Add(12*time.Hour), *entry.CheckOutAt)

	entity, err := mem.GetEntity(ctx, memberKey("m1"))
	require.NoError(t, err)
	assert.False(t, entity.Session.IsActive)
}

func TestTracker_CheckoutExpired_Rerunnable(t *testing.T) {
	// GIVEN: A sweep that already cleaned a session
	// WHEN: The same window is swept again
	// THEN: Nothing is found and nothing changes

	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.CheckIn(ctx, attendance.CheckInRequest{
		Target: memberKey("m1"),
		At:     monday(9),
	})
	require.NoError(t, err)

	cutoff := monday(9).Add(13 * time.Hour)
	first, err := tracker.CheckoutExpired(ctx, attendance.SweepRequest{TenantID: "t1", Before: cutoff})
	require.NoError(t, err)
	require.Equal(t, 1, first.Cleaned["Member"])

	second, err := tracker.CheckoutExpired(ctx, attendance.SweepRequest{TenantID: "t1", Before: cutoff})
	require.NoError(t, err)
	assert.Zero(t, second.Found["Member"])
	assert.Empty(t, second.Errors)
}

func TestTracker_CheckoutExpired_SkipsUnexpiredSessions(t *testing.T) {
	// GIVEN: An active session whose deadline has not passed
	// WHEN: The sweep runs with an earlier cutoff
	// THEN: The session survives untouched

	tracker, mem, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.CheckIn(ctx, attendance.CheckInRequest{
		Target: memberKey("m1"),
		At:     monday(9),
	})
	require.NoError(t, err)

	result, err := tracker.CheckoutExpired(ctx, attendance.SweepRequest{
		TenantID: "t1",
		Before:   monday(9).Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Zero(t, result.Found["Member"])

	entity, err := mem.GetEntity(ctx, memberKey("m1"))
	require.NoError(t, err)
	assert.True(t, entity.Session.IsActive)
}

// =============================================================================
// STATS RECALCULATION TESTS
// =============================================================================

func TestTracker_RecalculateStats_MatchesIncremental(t *testing.T) {
	// GIVEN: Stats maintained incrementally across two sessions
	// WHEN: The projection is rebuilt from full history
	// THEN: The rebuilt stats match the incremental ones exactly

	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	in, err := tracker.CheckIn(ctx, attendance.CheckInRequest{
		Target: memberKey("m1"),
		At:     monday(9),
	})
	require.NoError(t, err)
	out, err := tracker.CheckOut(ctx, attendance.CheckOutRequest{
		Target:    memberKey("m1"),
		CheckInID: in.Entry.ID,
		At:        monday(17),
	})
	require.NoError(t, err)

	rebuilt, err := tracker.RecalculateStats(ctx, memberKey("m1"))
	require.NoError(t, err)

	// UpdatedAt differs by wall clock; everything derived must match.
	out.Stats.UpdatedAt = rebuilt.UpdatedAt
	assert.Equal(t, out.Stats, rebuilt)
}
