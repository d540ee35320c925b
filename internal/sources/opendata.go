package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/crimewatch/crime-ingestion-service/internal/models"
)

// OpenDataConfig is the immutable configuration of one OpenDataAdapter.
type OpenDataConfig struct {
	Name     string // source tag, e.g. "chicago_police"
	Endpoint string // tabular open-data endpoint, e.g. .../resource/crimes.json
	Limit    int    // server-side result cap
	Timeout  time.Duration
}

// OpenDataAdapter fetches incident rows from a Socrata-style municipal
// open-data endpoint. Rows carry a natural unique id (the case record id),
// which later becomes the dedup identity. No authentication is required.
type OpenDataAdapter struct {
	cfg    OpenDataConfig
	client *http.Client
}

// NewOpenDataAdapter creates an open-data adapter from its immutable config.
func NewOpenDataAdapter(cfg OpenDataConfig) *OpenDataAdapter {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	return &OpenDataAdapter{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

func (a *OpenDataAdapter) Name() string { return a.cfg.Name }

// openDataRecord is the subset of the open-data row shape we map.
type openDataRecord struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Block       string `json:"block"`
	PrimaryType string `json:"primary_type"`
}

// Fetch issues one filtered, ordered, size-bounded query. Rows missing a
// natural id are dropped; timestamp validation belongs to the normalizer.
func (a *OpenDataAdapter) Fetch(ctx context.Context, w Window) ([]models.RawRecord, error) {
	u, err := url.Parse(a.cfg.Endpoint)
	if err != nil {
		return nil, &FetchError{Source: a.Name(), Err: fmt.Errorf("invalid endpoint: %w", err)}
	}

	q := u.Query()
	q.Set("$limit", strconv.Itoa(a.cfg.Limit))
	q.Set("$order", ":id")
	q.Set("$where", fmt.Sprintf("date >= '%s'", w.Since.UTC().Format("2006-01-02")))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{Source: a.Name(), Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: a.Name(), Err: fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: a.Name(), Err: fmt.Errorf("API returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Source: a.Name(), Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	var rows []openDataRecord
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &FetchError{Source: a.Name(), Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	records := make([]models.RawRecord, 0, len(rows))
	for _, row := range rows {
		if row.ID == "" {
			continue
		}
		location := row.Block
		if location == "" {
			location = "Unknown"
		}
		records = append(records, models.RawRecord{
			NaturalID:   row.ID,
			Description: row.Description,
			Location:    location,
			CrimeType:   row.PrimaryType,
			OccurredAt:  row.Date,
		})
	}

	return records, nil
}
