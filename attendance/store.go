/*
store.go - Persistence interfaces for records and target entities

PURPOSE:
  Defines the contract between the engine and its persistence
  collaborator. The engine never implements locking of its own; it
  requires the store to provide per-document atomicity.

ATOMICITY CONTRACT:
  FindOrCreate and Update must each execute as a single atomic operation
  keyed by the unique (tenant, targetModel, targetId, year, month) tuple.
  Update re-reads the document, applies the mutator, and writes it back
  conditionally (optimistic concurrency or document-level locking); a
  lost race surfaces as ErrConcurrentModification, which callers may
  retry.

IMPLEMENTATIONS:
  - attendance/store (memory): In-memory, for tests and development
  - store/sqlite: Production SQLite, documents as JSON rows
  - store/mongo: MongoDB document store

SEE ALSO:
  - engine.go: RecordStore consumer
  - session.go: EntityStore consumer
  - events.go: Outbound event surface
*/
package attendance

import (
	"context"
	"time"
)

// =============================================================================
// RECORD STORE - Monthly aggregate persistence
// =============================================================================

// RecordStore persists monthly attendance records.
type RecordStore interface {
	// FindOrCreate atomically locates or creates the record for ref.
	FindOrCreate(ctx context.Context, ref RecordRef) (*MonthlyRecord, error)

	// Get returns the record for ref, or ErrRecordNotFound.
	Get(ctx context.Context, ref RecordRef) (*MonthlyRecord, error)

	// Update atomically applies mutate to the record for ref and persists
	// the result. The mutator runs against the current stored state; an
	// error from the mutator aborts the write and is returned unchanged.
	// Creates the record first when it does not exist yet.
	Update(ctx context.Context, ref RecordRef, mutate func(*MonthlyRecord) error) (*MonthlyRecord, error)

	// ListForTarget returns every monthly record for a target, ordered by
	// (year, month) ascending.
	ListForTarget(ctx context.Context, target TargetKey) ([]*MonthlyRecord, error)

	// ListForMonth returns all records of a tenant for one (year, month),
	// optionally filtered by target model (empty string means all).
	ListForMonth(ctx context.Context, tenantID, targetModel string, year int, month time.Month) ([]*MonthlyRecord, error)
}

// =============================================================================
// ENTITY STORE - Attendance projection on the externally-owned entity
// =============================================================================

// ActiveSessionFilter selects targets with an open session.
type ActiveSessionFilter struct {
	TenantID    string
	TargetModel string // empty means all models

	// ExpiredBefore, when set, restricts to sessions whose
	// ExpectedCheckOutAt is before this instant.
	ExpiredBefore *time.Time

	// Limit bounds the result size; zero means no bound.
	Limit int
}

// EntityStore reads and writes the attendance-facing fields of the
// externally-owned target entity. The engine never creates or deletes
// entities.
type EntityStore interface {
	// GetEntity returns the target's attendance view, or ErrMemberNotFound.
	GetEntity(ctx context.Context, key TargetKey) (*TargetEntity, error)

	// SaveProjection persists the stats and session projection for the
	// target. The write must be atomic with respect to concurrent
	// SaveProjection calls for the same target; a second concurrent
	// session activation must fail with ErrConcurrentModification
	// rather than silently producing two open sessions.
	SaveProjection(ctx context.Context, entity *TargetEntity) error

	// ListActiveSessions returns targets whose CurrentSession.IsActive is
	// true, per filter. The result is a point-in-time read, not
	// transactionally consistent with concurrent checkouts.
	ListActiveSessions(ctx context.Context, filter ActiveSessionFilter) ([]*TargetEntity, error)
}
