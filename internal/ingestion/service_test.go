package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/crimewatch/crime-ingestion-service/internal/config"
	"github.com/crimewatch/crime-ingestion-service/internal/models"
	"github.com/crimewatch/crime-ingestion-service/internal/sources"
	"github.com/crimewatch/crime-ingestion-service/internal/storage"
)

// MockStorage is a mock implementation of the Storage interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) UpsertBatch(ctx context.Context, incidents []models.Incident) (models.BatchResult, error) {
	args := m.Called(ctx, incidents)
	return args.Get(0).(models.BatchResult), args.Error(1)
}

func (m *MockStorage) ListIncidents(ctx context.Context, limit int, offset int) ([]models.Incident, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]models.Incident), args.Error(1)
}

func (m *MockStorage) Statistics(ctx context.Context) (models.Statistics, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.Statistics), args.Error(1)
}

func (m *MockStorage) RecordCycle(ctx context.Context, source string, status string, recordsCount int) error {
	args := m.Called(ctx, source, status, recordsCount)
	return args.Error(0)
}

func (m *MockStorage) SourceStatuses(ctx context.Context) ([]models.SourceStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.SourceStatus), args.Error(1)
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

// stubAdapter is a canned source adapter for pipeline tests
type stubAdapter struct {
	name    string
	records []models.RawRecord
	err     error
	calls   int
	failFor int // fail the first N calls, then succeed
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Fetch(ctx context.Context, w sources.Window) ([]models.RawRecord, error) {
	s.calls++
	if s.failFor >= s.calls {
		return nil, &sources.FetchError{Source: s.name, Err: errors.New("connection refused")}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func testConfig() config.IngestionConfig {
	return config.IngestionConfig{
		DaysBack:   1,
		Timeout:    5 * time.Second,
		RetryCount: 1,
	}
}

func newsRecord(url string) models.RawRecord {
	return models.RawRecord{
		Title:       "Shooting reported",
		Description: "Police responded to gunfire",
		Location:    "Tribune",
		OccurredAt:  "2024-03-01T12:30:00Z",
		URL:         url,
		PublishedAt: "2024-03-01T12:30:00Z",
	}
}

func TestService_RunCycle_Success(t *testing.T) {
	store := storage.NewMemoryStorage()
	adapter := &stubAdapter{
		name: "newsapi",
		records: []models.RawRecord{
			newsRecord("https://example.com/a/1"),
			newsRecord("https://example.com/a/2"),
		},
	}

	service := NewService(testConfig(), store, adapter)
	results := service.RunCycle(context.Background())

	assert.Len(t, results, 1)
	assert.Equal(t, models.StatusSuccess, results[0].Status)
	assert.Equal(t, 2, results[0].Affected)
	assert.Equal(t, 0, results[0].Skipped)

	stats, err := store.Statistics(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.BySource["newsapi"])

	statuses, err := store.SourceStatuses(context.Background())
	assert.NoError(t, err)
	assert.Len(t, statuses, 1)
	assert.Equal(t, models.StatusSuccess, statuses[0].Status)
	assert.Equal(t, 2, statuses[0].RecordsCount)
}

func TestService_RunCycle_FailureIsolatedPerSource(t *testing.T) {
	store := storage.NewMemoryStorage()
	broken := &stubAdapter{
		name: "newsapi",
		err:  &sources.FetchError{Source: "newsapi", Err: errors.New("connection refused")},
	}
	healthy := &stubAdapter{
		name: "chicago_police",
		records: []models.RawRecord{
			{NaturalID: "1", Description: "THEFT", OccurredAt: "2024-03-01T12:30:00.000"},
		},
	}

	service := NewService(testConfig(), store, broken, healthy)
	results := service.RunCycle(context.Background())

	assert.Len(t, results, 2)
	assert.Equal(t, models.StatusFailed, results[0].Status)
	assert.Equal(t, 0, results[0].Affected)
	assert.Error(t, results[0].Err)
	assert.Equal(t, models.StatusSuccess, results[1].Status)
	assert.Equal(t, 1, results[1].Affected)

	statuses, err := store.SourceStatuses(context.Background())
	assert.NoError(t, err)
	assert.Len(t, statuses, 2)
	for _, st := range statuses {
		switch st.Source {
		case "newsapi":
			assert.Equal(t, models.StatusFailed, st.Status)
			assert.Equal(t, 0, st.RecordsCount)
		case "chicago_police":
			assert.Equal(t, models.StatusSuccess, st.Status)
			assert.Equal(t, 1, st.RecordsCount)
		}
	}
}

func TestService_RunCycle_PartialOnRejectedRecords(t *testing.T) {
	store := storage.NewMemoryStorage()
	adapter := &stubAdapter{
		name: "newsapi",
		records: []models.RawRecord{
			newsRecord("https://example.com/a/1"),
			{URL: "https://example.com/a/2", PublishedAt: "2024-03-01T12:35:00Z", OccurredAt: "2024-03-01T12:35:00Z"},
			{URL: "https://example.com/a/3"}, // no timestamp, rejected
		},
	}

	service := NewService(testConfig(), store, adapter)
	results := service.RunCycle(context.Background())

	assert.Equal(t, models.StatusPartial, results[0].Status)
	assert.Equal(t, 2, results[0].Affected)
	assert.Equal(t, 1, results[0].Skipped)

	statuses, err := store.SourceStatuses(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPartial, statuses[0].Status)
	assert.Equal(t, 2, statuses[0].RecordsCount, "partial cycle reports the real affected count")
}

func TestService_RunCycle_EmptyFetchIsSuccess(t *testing.T) {
	store := storage.NewMemoryStorage()
	adapter := &stubAdapter{name: "newsapi"}

	service := NewService(testConfig(), store, adapter)
	results := service.RunCycle(context.Background())

	assert.Equal(t, models.StatusSuccess, results[0].Status)
	assert.Equal(t, 0, results[0].Affected)
	assert.NoError(t, results[0].Err)
}

func TestService_RunCycle_IdempotentAcrossOverlappingWindows(t *testing.T) {
	store := storage.NewMemoryStorage()
	adapter := &stubAdapter{
		name:    "newsapi",
		records: []models.RawRecord{newsRecord("https://example.com/a/1")},
	}

	service := NewService(testConfig(), store, adapter)
	service.RunCycle(context.Background())
	service.RunCycle(context.Background())

	stats, err := store.Statistics(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Total, "re-ingesting the same article never duplicates the row")
}

func TestService_RunCycle_PersistenceErrorRecordsFailed(t *testing.T) {
	mockStorage := new(MockStorage)
	mockStorage.On("UpsertBatch", mock.Anything, mock.AnythingOfType("[]models.Incident")).
		Return(models.BatchResult{Affected: 1}, errors.New("connection reset by peer"))
	mockStorage.On("RecordCycle", mock.Anything, "newsapi", models.StatusFailed, 1).Return(nil)

	adapter := &stubAdapter{
		name: "newsapi",
		records: []models.RawRecord{
			newsRecord("https://example.com/a/1"),
			newsRecord("https://example.com/a/2"),
		},
	}

	service := NewService(testConfig(), mockStorage, adapter)
	results := service.RunCycle(context.Background())

	assert.Equal(t, models.StatusFailed, results[0].Status)
	assert.Equal(t, 1, results[0].Affected, "rows committed before the error stay counted")
	assert.Error(t, results[0].Err)
	mockStorage.AssertExpectations(t)
}

func TestService_RunCycle_FetchFailureRecordsFailedWithZero(t *testing.T) {
	mockStorage := new(MockStorage)
	mockStorage.On("RecordCycle", mock.Anything, "newsapi", models.StatusFailed, 0).Return(nil)

	adapter := &stubAdapter{
		name: "newsapi",
		err:  &sources.FetchError{Source: "newsapi", Err: errors.New("no route to host")},
	}

	service := NewService(testConfig(), mockStorage, adapter)
	results := service.RunCycle(context.Background())

	assert.Equal(t, models.StatusFailed, results[0].Status)
	mockStorage.AssertExpectations(t)
	mockStorage.AssertNotCalled(t, "UpsertBatch", mock.Anything, mock.Anything)
}

func TestService_fetchWithRetry(t *testing.T) {
	adapter := &stubAdapter{
		name:    "newsapi",
		records: []models.RawRecord{newsRecord("https://example.com/a/1")},
		failFor: 2,
	}

	cfg := testConfig()
	cfg.RetryCount = 3
	service := NewService(cfg, storage.NewMemoryStorage(), adapter)

	raws, err := service.fetchWithRetry(context.Background(), adapter, sources.Window{Since: time.Now()})
	assert.NoError(t, err)
	assert.Len(t, raws, 1)
	assert.Equal(t, 3, adapter.calls) // Should have retried twice
}

func TestService_fetchWithRetry_ExceedsRetryLimit(t *testing.T) {
	adapter := &stubAdapter{
		name:    "newsapi",
		failFor: 10,
	}

	cfg := testConfig()
	cfg.RetryCount = 2
	service := NewService(cfg, storage.NewMemoryStorage(), adapter)

	raws, err := service.fetchWithRetry(context.Background(), adapter, sources.Window{Since: time.Now()})
	assert.Error(t, err)
	assert.Nil(t, raws)
	assert.Contains(t, err.Error(), "failed after 2 attempts")
}

func TestService_RunCycle_AssignsIdentities(t *testing.T) {
	store := storage.NewMemoryStorage()
	adapter := &stubAdapter{
		name: "chicago_police",
		records: []models.RawRecord{
			{NaturalID: "13212345", Description: "THEFT", CrimeType: "THEFT", OccurredAt: "2024-03-01T12:30:00.000"},
		},
	}

	service := NewService(testConfig(), store, adapter)
	service.RunCycle(context.Background())

	rows, err := store.ListIncidents(context.Background(), 10, 0)
	assert.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, "chicago_police_13212345", rows[0].IncidentID)
}
