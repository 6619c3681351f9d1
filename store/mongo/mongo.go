/*
Package mongo provides a MongoDB-backed implementation of the attendance
storage interfaces.

PURPOSE:
  The natural home for this engine is a document store: one document per
  (tenant, target, year, month) with the check-in array embedded. This
  package maps RecordStore and EntityStore onto two collections.

ATOMICITY:
  - FindOrCreate uses FindOneAndUpdate with $setOnInsert and upsert, so
    concurrent first check-ins converge on a single document.
  - Update implements optimistic concurrency: the document is read,
    mutated in memory, and replaced with a filter on the previous
    version field. A lost race retries a few times, then surfaces
    ErrConcurrentModification.

INDEXES:
  monthly_records: unique on the (tenantId, targetModel, targetId, year,
  month) tuple. target_entities: unique on the target key, plus a
  partial-style index over (tenantId, session.isActive,
  session.expectedCheckOutAt) for occupancy and the auto-checkout sweep.

SEE ALSO:
  - attendance/store.go: Interface definitions and the atomicity contract
  - store/sqlite: The relational implementation of the same contract
*/
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/warp/attendance-engine/attendance"
)

const updateRetries = 3

// Store implements attendance.RecordStore and attendance.EntityStore.
type Store struct {
	records  *mongo.Collection
	entities *mongo.Collection
}

// New connects to MongoDB and prepares collections and indexes.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(database)
	store := &Store{
		records:  db.Collection("monthly_records"),
		entities: db.Collection("target_entities"),
	}
	if err := store.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.records.Database().Client().Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.records.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "ref.tenantId", Value: 1},
			{Key: "ref.targetModel", Value: 1},
			{Key: "ref.targetId", Value: 1},
			{Key: "ref.year", Value: 1},
			{Key: "ref.month", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create record index: %w", err)
	}

	_, err = s.entities.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "key.tenantId", Value: 1},
				{Key: "key.targetModel", Value: 1},
				{Key: "key.targetId", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "key.tenantId", Value: 1},
				{Key: "currentSession.isActive", Value: 1},
				{Key: "currentSession.expectedCheckOutAt", Value: 1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create entity indexes: %w", err)
	}
	return nil
}

func refFilter(ref attendance.RecordRef) bson.M {
	return bson.M{
		"ref.tenantId":    ref.TenantID,
		"ref.targetModel": ref.TargetModel,
		"ref.targetId":    ref.TargetID,
		"ref.year":        ref.Year,
		"ref.month":       int(ref.Month),
	}
}

// =============================================================================
// RECORD STORE
// =============================================================================

func (s *Store) FindOrCreate(ctx context.Context, ref attendance.RecordRef) (*attendance.MonthlyRecord, error) {
	fresh := attendance.NewMonthlyRecord(ref, time.Now().UTC())

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var record attendance.MonthlyRecord
	err := s.records.FindOneAndUpdate(ctx,
		refFilter(ref),
		bson.M{"$setOnInsert": fresh},
		opts,
	).Decode(&record)
	if err != nil {
		return nil, fmt.Errorf("find-or-create record %s: %w", ref, err)
	}
	return &record, nil
}

func (s *Store) Get(ctx context.Context, ref attendance.RecordRef) (*attendance.MonthlyRecord, error) {
	var record attendance.MonthlyRecord
	err := s.records.FindOne(ctx, refFilter(ref)).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, attendance.ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (s *Store) Update(ctx context.Context, ref attendance.RecordRef, mutate func(*attendance.MonthlyRecord) error) (*attendance.MonthlyRecord, error) {
	for attempt := 0; attempt < updateRetries; attempt++ {
		record, err := s.FindOrCreate(ctx, ref)
		if err != nil {
			return nil, err
		}

		previous := record.Version
		if err := mutate(record); err != nil {
			return nil, err
		}
		record.Version = previous + 1

		filter := refFilter(ref)
		filter["version"] = previous

		result, err := s.records.ReplaceOne(ctx, filter, record)
		if err != nil {
			return nil, err
		}
		if result.MatchedCount == 1 {
			return record, nil
		}
		// Lost the optimistic-concurrency race; re-read and retry.
	}
	return nil, attendance.ErrConcurrentModification
}

func (s *Store) ListForTarget(ctx context.Context, target attendance.TargetKey) ([]*attendance.MonthlyRecord, error) {
	filter := bson.M{
		"ref.tenantId":    target.TenantID,
		"ref.targetModel": target.TargetModel,
		"ref.targetId":    target.TargetID,
	}
	opts := options.Find().SetSort(bson.D{{Key: "ref.year", Value: 1}, {Key: "ref.month", Value: 1}})

	cursor, err := s.records.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*attendance.MonthlyRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ListForMonth(ctx context.Context, tenantID, targetModel string, year int, month time.Month) ([]*attendance.MonthlyRecord, error) {
	filter := bson.M{
		"ref.tenantId": tenantID,
		"ref.year":     year,
		"ref.month":    int(month),
	}
	if targetModel != "" {
		filter["ref.targetModel"] = targetModel
	}
	opts := options.Find().SetSort(bson.D{{Key: "ref.targetId", Value: 1}})

	cursor, err := s.records.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*attendance.MonthlyRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// =============================================================================
// ENTITY STORE
// =============================================================================

func keyFilter(key attendance.TargetKey) bson.M {
	return bson.M{
		"key.tenantId":    key.TenantID,
		"key.targetModel": key.TargetModel,
		"key.targetId":    key.TargetID,
	}
}

// UpsertEntity creates or replaces a target entity document. Entities
// are externally owned; this is the provisioning hook the host calls.
func (s *Store) UpsertEntity(ctx context.Context, entity attendance.TargetEntity) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.entities.ReplaceOne(ctx, keyFilter(entity.Key), entity, opts)
	return err
}

func (s *Store) GetEntity(ctx context.Context, key attendance.TargetKey) (*attendance.TargetEntity, error) {
	var entity attendance.TargetEntity
	err := s.entities.FindOne(ctx, keyFilter(key)).Decode(&entity)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, attendance.ErrMemberNotFound
		}
		return nil, err
	}
	return &entity, nil
}

func (s *Store) SaveProjection(ctx context.Context, entity *attendance.TargetEntity) error {
	update := bson.M{"$set": bson.M{
		"attendanceStats": entity.Stats,
		"currentSession":  entity.Session,
	}}
	result, err := s.entities.UpdateOne(ctx, keyFilter(entity.Key), update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return attendance.ErrMemberNotFound
	}
	return nil
}

func (s *Store) ListActiveSessions(ctx context.Context, filter attendance.ActiveSessionFilter) ([]*attendance.TargetEntity, error) {
	query := bson.M{
		"key.tenantId":            filter.TenantID,
		"currentSession.isActive": true,
	}
	if filter.TargetModel != "" {
		query["key.targetModel"] = filter.TargetModel
	}
	if filter.ExpiredBefore != nil {
		query["currentSession.expectedCheckOutAt"] = bson.M{"$lt": *filter.ExpiredBefore}
	}

	opts := options.Find().SetSort(bson.D{{Key: "key.targetId", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.entities.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entities []*attendance.TargetEntity
	if err := cursor.All(ctx, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}
