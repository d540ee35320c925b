package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/crimewatch/crime-ingestion-service/internal/config"
	"github.com/crimewatch/crime-ingestion-service/internal/models"
)

// PostgreSQLStorage implements Storage using PostgreSQL. The unique
// constraint on incidents.incident_id plus ON CONFLICT DO UPDATE serializes
// concurrent writes to the same identity at the database level.
type PostgreSQLStorage struct {
	db *sql.DB
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(cfg config.StorageConfig) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	storage := &PostgreSQLStorage{db: db}
	if err := storage.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return storage, nil
}

// ensureSchema creates the tables and indexes if they don't exist
func (p *PostgreSQLStorage) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id          SERIAL PRIMARY KEY,
			incident_id TEXT NOT NULL UNIQUE,
			occurred_at TIMESTAMPTZ NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			location    TEXT NOT NULL DEFAULT '',
			crime_type  TEXT NOT NULL DEFAULT '',
			source      TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ix_incidents_occurred_at ON incidents (occurred_at)`,
		`CREATE INDEX IF NOT EXISTS ix_incidents_source ON incidents (source)`,
		`CREATE INDEX IF NOT EXISTS ix_incidents_crime_type ON incidents (crime_type)`,
		`CREATE TABLE IF NOT EXISTS sources (
			id            SERIAL PRIMARY KEY,
			source        TEXT NOT NULL UNIQUE,
			last_fetch_at TIMESTAMPTZ NOT NULL,
			status        TEXT NOT NULL,
			records_count INTEGER NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := p.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt[:30], err)
		}
	}
	return nil
}

// UpsertBatch applies incidents one row at a time. Rows failing structural
// validation are skipped and reported; rows already applied stay committed
// when a later row hits a persistence error.
func (p *PostgreSQLStorage) UpsertBatch(ctx context.Context, incidents []models.Incident) (models.BatchResult, error) {
	var result models.BatchResult

	for _, inc := range incidents {
		if reason := validateIncident(inc); reason != "" {
			result.Skipped = append(result.Skipped, models.SkippedIncident{Incident: inc, Reason: reason})
			continue
		}

		now := time.Now().UTC()
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO incidents (incident_id, occurred_at, description, location, crime_type, source, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (incident_id) DO UPDATE SET
				occurred_at = EXCLUDED.occurred_at,
				description = EXCLUDED.description,
				location    = EXCLUDED.location,
				crime_type  = EXCLUDED.crime_type,
				updated_at  = EXCLUDED.updated_at`,
			inc.IncidentID, inc.OccurredAt, inc.Description, inc.Location, inc.CrimeType, inc.Source, now)
		if err != nil {
			return result, fmt.Errorf("failed to upsert incident %s: %w", inc.IncidentID, err)
		}
		result.Affected++
	}

	return result, nil
}

// ListIncidents returns the most recent incidents with pagination
func (p *PostgreSQLStorage) ListIncidents(ctx context.Context, limit int, offset int) ([]models.Incident, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT incident_id, occurred_at, description, location, crime_type, source, created_at, updated_at
		FROM incidents
		ORDER BY occurred_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		var inc models.Incident
		if err := rows.Scan(&inc.IncidentID, &inc.OccurredAt, &inc.Description, &inc.Location,
			&inc.CrimeType, &inc.Source, &inc.CreatedAt, &inc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// Statistics returns total count, per-source counts and the occurred_at range
func (p *PostgreSQLStorage) Statistics(ctx context.Context) (models.Statistics, error) {
	stats := models.Statistics{BySource: make(map[string]int)}

	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents`).Scan(&stats.Total); err != nil {
		return stats, fmt.Errorf("failed to count incidents: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM incidents GROUP BY source`)
	if err != nil {
		return stats, fmt.Errorf("failed to count by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return stats, fmt.Errorf("failed to scan source count: %w", err)
		}
		stats.BySource[source] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	var min, max sql.NullTime
	if err := p.db.QueryRowContext(ctx, `SELECT MIN(occurred_at), MAX(occurred_at) FROM incidents`).Scan(&min, &max); err != nil {
		return stats, fmt.Errorf("failed to query date range: %w", err)
	}
	if min.Valid {
		stats.DateRange.Min = min.Time
	}
	if max.Valid {
		stats.DateRange.Max = max.Time
	}

	return stats, nil
}

// RecordCycle upserts the single status row for a source, latest write wins
func (p *PostgreSQLStorage) RecordCycle(ctx context.Context, source string, status string, recordsCount int) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sources (source, last_fetch_at, status, records_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source) DO UPDATE SET
			last_fetch_at = EXCLUDED.last_fetch_at,
			status        = EXCLUDED.status,
			records_count = EXCLUDED.records_count`,
		source, time.Now().UTC(), status, recordsCount)
	if err != nil {
		return fmt.Errorf("failed to record cycle for %s: %w", source, err)
	}
	return nil
}

// SourceStatuses returns the latest recorded cycle for every source
func (p *PostgreSQLStorage) SourceStatuses(ctx context.Context) ([]models.SourceStatus, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT source, last_fetch_at, status, records_count FROM sources ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var statuses []models.SourceStatus
	for rows.Next() {
		var st models.SourceStatus
		if err := rows.Scan(&st.Source, &st.LastFetchAt, &st.Status, &st.RecordsCount); err != nil {
			return nil, fmt.Errorf("failed to scan source status: %w", err)
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	return p.db.Close()
}
