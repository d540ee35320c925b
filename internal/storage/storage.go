package storage

import (
	"context"
	"fmt"

	"github.com/crimewatch/crime-ingestion-service/internal/config"
	"github.com/crimewatch/crime-ingestion-service/internal/models"
)

// Storage is the persistence boundary. UpsertBatch guarantees at-most-one
// stored row per incident_id and merges on conflict; RecordCycle keeps one
// latest-wins row per source. The read methods back the statistics API.
type Storage interface {
	UpsertBatch(ctx context.Context, incidents []models.Incident) (models.BatchResult, error)
	ListIncidents(ctx context.Context, limit int, offset int) ([]models.Incident, error)
	Statistics(ctx context.Context) (models.Statistics, error)
	RecordCycle(ctx context.Context, source string, status string, recordsCount int) error
	SourceStatuses(ctx context.Context) ([]models.SourceStatus, error)
	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "postgresql":
		return NewPostgreSQLStorage(cfg)
	case "mongodb":
		return NewMongoDBStorage(cfg)
	case "dynamodb":
		return NewDynamoDBStorage(cfg)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// validateIncident returns a non-empty reason when the incident fails
// structural validation and must be skipped.
func validateIncident(inc models.Incident) string {
	if inc.IncidentID == "" {
		return "empty incident_id"
	}
	if inc.OccurredAt.IsZero() {
		return "missing occurred_at timestamp"
	}
	if inc.Source == "" {
		return "empty source"
	}
	return ""
}
