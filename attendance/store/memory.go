// Package store provides in-memory implementations of the attendance
// persistence interfaces, for tests and development.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// MEMORY STORE - In-memory RecordStore + EntityStore
// =============================================================================

// Memory holds records and entities behind one mutex. Update runs its
// mutator under the lock, which gives the same per-document atomicity
// the production stores provide via conditional writes.
type Memory struct {
	mu       sync.RWMutex
	records  map[attendance.RecordRef]*attendance.MonthlyRecord
	entities map[attendance.TargetKey]*attendance.TargetEntity
}

func NewMemory() *Memory {
	return &Memory{
		records:  make(map[attendance.RecordRef]*attendance.MonthlyRecord),
		entities: make(map[attendance.TargetKey]*attendance.TargetEntity),
	}
}

// SeedEntity registers a target entity. Entities are externally owned in
// production; tests create them through this helper.
func (m *Memory) SeedEntity(entity attendance.TargetEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[entity.Key] = cloneEntity(&entity)
}

// -----------------------------------------------------------------------------
// RecordStore
// -----------------------------------------------------------------------------

func (m *Memory) FindOrCreate(_ context.Context, ref attendance.RecordRef) (*attendance.MonthlyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRecord(m.findOrCreateLocked(ref)), nil
}

func (m *Memory) findOrCreateLocked(ref attendance.RecordRef) *attendance.MonthlyRecord {
	if record, ok := m.records[ref]; ok {
		return record
	}
	record := attendance.NewMonthlyRecord(ref, time.Now().UTC())
	m.records[ref] = record
	return record
}

func (m *Memory) Get(_ context.Context, ref attendance.RecordRef) (*attendance.MonthlyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[ref]
	if !ok {
		return nil, attendance.ErrRecordNotFound
	}
	return cloneRecord(record), nil
}

func (m *Memory) Update(_ context.Context, ref attendance.RecordRef, mutate func(*attendance.MonthlyRecord) error) (*attendance.MonthlyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.findOrCreateLocked(ref)

	// Mutate a copy so a failed mutator leaves the stored state intact.
	working := cloneRecord(current)
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.Version = current.Version + 1
	m.records[ref] = working
	return cloneRecord(working), nil
}

func (m *Memory) ListForTarget(_ context.Context, target attendance.TargetKey) ([]*attendance.MonthlyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*attendance.MonthlyRecord
	for ref, record := range m.records {
		if ref.Target() == target {
			result = append(result, cloneRecord(record))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].Ref, result[j].Ref
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})
	return result, nil
}

func (m *Memory) ListForMonth(_ context.Context, tenantID, targetModel string, year int, month time.Month) ([]*attendance.MonthlyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*attendance.MonthlyRecord
	for ref, record := range m.records {
		if ref.TenantID != tenantID || ref.Year != year || ref.Month != month {
			continue
		}
		if targetModel != "" && ref.TargetModel != targetModel {
			continue
		}
		result = append(result, cloneRecord(record))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Ref.TargetID < result[j].Ref.TargetID
	})
	return result, nil
}

// -----------------------------------------------------------------------------
// EntityStore
// -----------------------------------------------------------------------------

func (m *Memory) GetEntity(_ context.Context, key attendance.TargetKey) (*attendance.TargetEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entity, ok := m.entities[key]
	if !ok {
		return nil, attendance.ErrMemberNotFound
	}
	return cloneEntity(entity), nil
}

func (m *Memory) SaveProjection(_ context.Context, entity *attendance.TargetEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entities[entity.Key]
	if !ok {
		return attendance.ErrMemberNotFound
	}
	stored.Stats = cloneEntity(entity).Stats
	stored.Session = entity.Session
	return nil
}

func (m *Memory) ListActiveSessions(_ context.Context, filter attendance.ActiveSessionFilter) ([]*attendance.TargetEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*attendance.TargetEntity
	for key, entity := range m.entities {
		if !entity.Session.IsActive {
			continue
		}
		if filter.TenantID != "" && key.TenantID != filter.TenantID {
			continue
		}
		if filter.TargetModel != "" && key.TargetModel != filter.TargetModel {
			continue
		}
		if filter.ExpiredBefore != nil {
			expected := entity.Session.ExpectedCheckOutAt
			if expected == nil || !expected.Before(*filter.ExpiredBefore) {
				continue
			}
		}
		result = append(result, cloneEntity(entity))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key.TargetID < result[j].Key.TargetID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// -----------------------------------------------------------------------------
// Clone helpers
// -----------------------------------------------------------------------------

// Records and entities are cloned through JSON so callers never share
// slices or maps with the stored state.
func cloneRecord(record *attendance.MonthlyRecord) *attendance.MonthlyRecord {
	raw, _ := json.Marshal(record)
	var clone attendance.MonthlyRecord
	_ = json.Unmarshal(raw, &clone)
	return &clone
}

func cloneEntity(entity *attendance.TargetEntity) *attendance.TargetEntity {
	raw, _ := json.Marshal(entity)
	var clone attendance.TargetEntity
	_ = json.Unmarshal(raw, &clone)
	return &clone
}
