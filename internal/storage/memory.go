package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crimewatch/crime-ingestion-service/internal/models"
)

// MemoryStorage implements Storage with in-process maps. Used for local runs
// without a database and as the reference implementation of the upsert
// semantics in tests. A single mutex serializes all writes, which trivially
// satisfies the per-key serialization requirement.
type MemoryStorage struct {
	mu        sync.RWMutex
	incidents map[string]models.Incident
	sources   map[string]models.SourceStatus
}

// NewMemoryStorage creates an empty in-memory storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		incidents: make(map[string]models.Incident),
		sources:   make(map[string]models.SourceStatus),
	}
}

// UpsertBatch applies incidents under the write lock. Repeat identities
// overwrite the mutable fields and bump updated_at; created_at never changes
// after first insert.
func (m *MemoryStorage) UpsertBatch(ctx context.Context, incidents []models.Incident) (models.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result models.BatchResult
	for _, inc := range incidents {
		if reason := validateIncident(inc); reason != "" {
			result.Skipped = append(result.Skipped, models.SkippedIncident{Incident: inc, Reason: reason})
			continue
		}

		now := time.Now().UTC()
		if existing, ok := m.incidents[inc.IncidentID]; ok {
			existing.OccurredAt = inc.OccurredAt
			existing.Description = inc.Description
			existing.Location = inc.Location
			existing.CrimeType = inc.CrimeType
			if !now.After(existing.UpdatedAt) {
				// Clock did not advance between writes; keep updated_at monotonic.
				now = existing.UpdatedAt.Add(time.Nanosecond)
			}
			existing.UpdatedAt = now
			m.incidents[inc.IncidentID] = existing
		} else {
			inc.CreatedAt = now
			inc.UpdatedAt = now
			m.incidents[inc.IncidentID] = inc
		}
		result.Affected++
	}

	return result, nil
}

// ListIncidents returns the most recent incidents with pagination
func (m *MemoryStorage) ListIncidents(ctx context.Context, limit int, offset int) ([]models.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	incidents := make([]models.Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		incidents = append(incidents, inc)
	}
	sort.Slice(incidents, func(i, j int) bool {
		return incidents[i].OccurredAt.After(incidents[j].OccurredAt)
	})

	if offset >= len(incidents) {
		return nil, nil
	}
	incidents = incidents[offset:]
	if limit < len(incidents) {
		incidents = incidents[:limit]
	}
	return incidents, nil
}

// Statistics returns total count, per-source counts and the occurred_at range
func (m *MemoryStorage) Statistics(ctx context.Context) (models.Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.Statistics{
		Total:    len(m.incidents),
		BySource: make(map[string]int),
	}
	for _, inc := range m.incidents {
		stats.BySource[inc.Source]++
		if stats.DateRange.Min.IsZero() || inc.OccurredAt.Before(stats.DateRange.Min) {
			stats.DateRange.Min = inc.OccurredAt
		}
		if inc.OccurredAt.After(stats.DateRange.Max) {
			stats.DateRange.Max = inc.OccurredAt
		}
	}
	return stats, nil
}

// RecordCycle upserts the single status row for a source, latest write wins
func (m *MemoryStorage) RecordCycle(ctx context.Context, source string, status string, recordsCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sources[source] = models.SourceStatus{
		Source:       source,
		LastFetchAt:  time.Now().UTC(),
		Status:       status,
		RecordsCount: recordsCount,
	}
	return nil
}

// SourceStatuses returns the latest recorded cycle for every source
func (m *MemoryStorage) SourceStatuses(ctx context.Context) ([]models.SourceStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]models.SourceStatus, 0, len(m.sources))
	for _, st := range m.sources {
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Source < statuses[j].Source
	})
	return statuses, nil
}

// Close is a no-op for the in-memory backend
func (m *MemoryStorage) Close() error {
	return nil
}
