package ingestion

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/crimewatch/crime-ingestion-service/internal/config"
	"github.com/crimewatch/crime-ingestion-service/internal/identity"
	"github.com/crimewatch/crime-ingestion-service/internal/models"
	"github.com/crimewatch/crime-ingestion-service/internal/normalize"
	"github.com/crimewatch/crime-ingestion-service/internal/sources"
	"github.com/crimewatch/crime-ingestion-service/internal/storage"
)

// Service runs fetch cycles over the configured source adapters. Each
// adapter's fetch-normalize-identify pipeline is independent; adapters run
// concurrently and one source failing never fails the others.
type Service struct {
	config   config.IngestionConfig
	storage  storage.Storage
	adapters []sources.Adapter
}

// CycleResult summarizes one source's part of a fetch cycle.
type CycleResult struct {
	Source   string
	Status   string
	Affected int
	Skipped  int
	Err      error
}

// NewService creates a new ingestion service
func NewService(cfg config.IngestionConfig, store storage.Storage, adapters ...sources.Adapter) *Service {
	return &Service{
		config:   cfg,
		storage:  store,
		adapters: adapters,
	}
}

// Start runs an initial cycle and then one cycle per interval until the
// context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.RunCycle(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle fetches every configured source concurrently, one goroutine per
// source with its own timeout, and records each source's outcome. Failures
// are isolated per source; the slowest source bounds the cycle, nothing
// blocks indefinitely.
func (s *Service) RunCycle(ctx context.Context) []CycleResult {
	window := sources.Window{
		Since: time.Now().UTC().AddDate(0, 0, -s.config.DaysBack),
	}

	results := make([]CycleResult, len(s.adapters))
	var wg sync.WaitGroup
	for i, adapter := range s.adapters {
		wg.Add(1)
		go func(i int, adapter sources.Adapter) {
			defer wg.Done()
			results[i] = s.ingestSource(ctx, adapter, window)
		}(i, adapter)
	}
	wg.Wait()

	for _, r := range results {
		if r.Err != nil {
			log.Printf("cycle %s: %s (%v)", r.Source, r.Status, r.Err)
		} else {
			log.Printf("cycle %s: %s, %d affected, %d skipped", r.Source, r.Status, r.Affected, r.Skipped)
		}
	}
	return results
}

// ingestSource runs one source's full pipeline: fetch, normalize, assign
// identity, upsert, record outcome. Every failure path still records a cycle
// outcome for the source.
func (s *Service) ingestSource(ctx context.Context, adapter sources.Adapter, window sources.Window) CycleResult {
	result := CycleResult{Source: adapter.Name()}

	fetchCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	raws, err := s.fetchWithRetry(fetchCtx, adapter, window)
	if err != nil {
		result.Status = models.StatusFailed
		result.Err = err
		s.recordCycle(ctx, result)
		return result
	}

	incidents := make([]models.Incident, 0, len(raws))
	rejected := 0
	for _, raw := range raws {
		inc, err := normalize.Normalize(raw, adapter.Name())
		if err != nil {
			rejected++
			continue
		}
		inc.IncidentID = identity.Assign(raw, adapter.Name())
		incidents = append(incidents, inc)
	}

	batch, err := s.storage.UpsertBatch(ctx, incidents)
	result.Affected = batch.Affected
	result.Skipped = rejected + len(batch.Skipped)
	if err != nil {
		// Rows applied before the error stay committed; the cycle still
		// reports the real affected count.
		result.Status = models.StatusFailed
		result.Err = err
	} else if result.Skipped > 0 {
		result.Status = models.StatusPartial
	} else {
		result.Status = models.StatusSuccess
	}

	s.recordCycle(ctx, result)
	return result
}

// fetchWithRetry retries transient fetch failures within the cycle with
// linear backoff. Cross-cycle retry belongs to the scheduler, not here.
func (s *Service) fetchWithRetry(ctx context.Context, adapter sources.Adapter, window sources.Window) ([]models.RawRecord, error) {
	attempts := s.config.RetryCount
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		raws, err := adapter.Fetch(ctx, window)
		if err == nil {
			return raws, nil
		}

		lastErr = err
		if attempt < attempts-1 {
			waitTime := time.Duration(attempt+1) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func (s *Service) recordCycle(ctx context.Context, result CycleResult) {
	if err := s.storage.RecordCycle(ctx, result.Source, result.Status, result.Affected); err != nil {
		log.Printf("failed to record cycle for %s: %v", result.Source, err)
	}
}
