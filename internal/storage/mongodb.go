package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/crimewatch/crime-ingestion-service/internal/config"
	"github.com/crimewatch/crime-ingestion-service/internal/models"
)

// MongoDBStorage implements Storage using MongoDB. A unique index on
// incident_id plus upsert-mode UpdateOne gives the same per-key
// serialization the PostgreSQL backend gets from its constraint.
type MongoDBStorage struct {
	client    *mongo.Client
	incidents *mongo.Collection
	sources   *mongo.Collection
}

// NewMongoDBStorage creates a new MongoDB storage instance
func NewMongoDBStorage(cfg config.StorageConfig) (*MongoDBStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(cfg.MongoDBName)
	storage := &MongoDBStorage{
		client:    client,
		incidents: db.Collection("incidents"),
		sources:   db.Collection("sources"),
	}

	if err := storage.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	return storage, nil
}

// ensureIndexes creates the unique dedup indexes
func (m *MongoDBStorage) ensureIndexes(ctx context.Context) error {
	_, err := m.incidents.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "incident_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = m.sources.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "source", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// UpsertBatch applies incidents one document at a time. $setOnInsert keeps
// created_at stable across repeat writes of the same identity.
func (m *MongoDBStorage) UpsertBatch(ctx context.Context, incidents []models.Incident) (models.BatchResult, error) {
	var result models.BatchResult

	for _, inc := range incidents {
		if reason := validateIncident(inc); reason != "" {
			result.Skipped = append(result.Skipped, models.SkippedIncident{Incident: inc, Reason: reason})
			continue
		}

		now := time.Now().UTC()
		update := bson.M{
			"$set": bson.M{
				"occurred_at": inc.OccurredAt,
				"description": inc.Description,
				"location":    inc.Location,
				"crime_type":  inc.CrimeType,
				"source":      inc.Source,
				"updated_at":  now,
			},
			"$setOnInsert": bson.M{
				"created_at": now,
			},
		}

		_, err := m.incidents.UpdateOne(ctx,
			bson.M{"incident_id": inc.IncidentID},
			update,
			options.Update().SetUpsert(true))
		if err != nil {
			return result, fmt.Errorf("failed to upsert incident %s: %w", inc.IncidentID, err)
		}
		result.Affected++
	}

	return result, nil
}

// mongoIncident mirrors the stored document shape
type mongoIncident struct {
	IncidentID  string    `bson:"incident_id"`
	OccurredAt  time.Time `bson:"occurred_at"`
	Description string    `bson:"description"`
	Location    string    `bson:"location"`
	CrimeType   string    `bson:"crime_type"`
	Source      string    `bson:"source"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// ListIncidents returns the most recent incidents with pagination
func (m *MongoDBStorage) ListIncidents(ctx context.Context, limit int, offset int) ([]models.Incident, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cur, err := m.incidents.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer cur.Close(ctx)

	var incidents []models.Incident
	for cur.Next(ctx) {
		var doc mongoIncident
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode incident: %w", err)
		}
		incidents = append(incidents, models.Incident(doc))
	}
	return incidents, cur.Err()
}

// Statistics returns total count, per-source counts and the occurred_at range
func (m *MongoDBStorage) Statistics(ctx context.Context) (models.Statistics, error) {
	stats := models.Statistics{BySource: make(map[string]int)}

	total, err := m.incidents.CountDocuments(ctx, bson.M{})
	if err != nil {
		return stats, fmt.Errorf("failed to count incidents: %w", err)
	}
	stats.Total = int(total)

	cur, err := m.incidents.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$source", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate by source: %w", err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var row struct {
			Source string `bson:"_id"`
			Count  int    `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return stats, fmt.Errorf("failed to decode source count: %w", err)
		}
		stats.BySource[row.Source] = row.Count
	}
	if err := cur.Err(); err != nil {
		return stats, err
	}

	rangeCur, err := m.incidents.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id": nil,
			"min": bson.M{"$min": "$occurred_at"},
			"max": bson.M{"$max": "$occurred_at"},
		}}},
	})
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate date range: %w", err)
	}
	defer rangeCur.Close(ctx)
	if rangeCur.Next(ctx) {
		var row struct {
			Min time.Time `bson:"min"`
			Max time.Time `bson:"max"`
		}
		if err := rangeCur.Decode(&row); err != nil {
			return stats, fmt.Errorf("failed to decode date range: %w", err)
		}
		stats.DateRange.Min = row.Min
		stats.DateRange.Max = row.Max
	}

	return stats, rangeCur.Err()
}

// RecordCycle upserts the single status row for a source, latest write wins
func (m *MongoDBStorage) RecordCycle(ctx context.Context, source string, status string, recordsCount int) error {
	_, err := m.sources.UpdateOne(ctx,
		bson.M{"source": source},
		bson.M{"$set": bson.M{
			"last_fetch_at": time.Now().UTC(),
			"status":        status,
			"records_count": recordsCount,
		}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to record cycle for %s: %w", source, err)
	}
	return nil
}

// SourceStatuses returns the latest recorded cycle for every source
func (m *MongoDBStorage) SourceStatuses(ctx context.Context) ([]models.SourceStatus, error) {
	cur, err := m.sources.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "source", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer cur.Close(ctx)

	var statuses []models.SourceStatus
	for cur.Next(ctx) {
		var doc struct {
			Source       string    `bson:"source"`
			LastFetchAt  time.Time `bson:"last_fetch_at"`
			Status       string    `bson:"status"`
			RecordsCount int       `bson:"records_count"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode source status: %w", err)
		}
		statuses = append(statuses, models.SourceStatus(doc))
	}
	return statuses, cur.Err()
}

// Close disconnects the MongoDB client
func (m *MongoDBStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
