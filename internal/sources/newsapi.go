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

// SourceNewsAPI is the source tag carried by every record the news adapter
// returns.
const SourceNewsAPI = "newsapi"

// NewsFeedConfig is the immutable configuration of one NewsFeedAdapter.
type NewsFeedConfig struct {
	Endpoint string // search endpoint, e.g. https://newsapi.org/v2/everything
	APIKey   string
	Query    string
	PageSize int
	MaxPages int
	Timeout  time.Duration
}

// NewsFeedAdapter fetches crime-related articles from a NewsAPI-style search
// endpoint. Articles carry no stable natural id; identity is derived later
// from (url, publishedAt).
type NewsFeedAdapter struct {
	cfg    NewsFeedConfig
	client *http.Client
}

// NewNewsFeedAdapter creates a news adapter from its immutable config.
func NewNewsFeedAdapter(cfg NewsFeedConfig) *NewsFeedAdapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	return &NewsFeedAdapter{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

func (a *NewsFeedAdapter) Name() string { return SourceNewsAPI }

// newsResponse is the NewsAPI envelope.
type newsResponse struct {
	Status       string        `json:"status"`
	Message      string        `json:"message"`
	TotalResults int           `json:"totalResults"`
	Articles     []newsArticle `json:"articles"`
}

type newsArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
}

// Fetch queries the search endpoint page by page and maps each article into a
// RawRecord. Articles missing a URL or publish timestamp are dropped here
// because no identity can be derived for them.
func (a *NewsFeedAdapter) Fetch(ctx context.Context, w Window) ([]models.RawRecord, error) {
	var records []models.RawRecord

	for page := 1; page <= a.cfg.MaxPages; page++ {
		articles, err := a.fetchPage(ctx, w, page)
		if err != nil {
			return nil, &FetchError{Source: a.Name(), Err: err}
		}

		for _, art := range articles {
			if art.URL == "" || art.PublishedAt == "" {
				continue
			}
			location := art.Source.Name
			if location == "" {
				location = "Unknown"
			}
			records = append(records, models.RawRecord{
				Title:       art.Title,
				Description: art.Description,
				Location:    location,
				OccurredAt:  art.PublishedAt,
				URL:         art.URL,
				PublishedAt: art.PublishedAt,
			})
		}

		// Short page means the server has no more results.
		if len(articles) < a.cfg.PageSize {
			break
		}
	}

	return records, nil
}

// fetchPage performs one GET against the search endpoint.
func (a *NewsFeedAdapter) fetchPage(ctx context.Context, w Window, page int) ([]newsArticle, error) {
	u, err := url.Parse(a.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	q := u.Query()
	q.Set("q", a.cfg.Query)
	q.Set("language", "en")
	q.Set("pageSize", strconv.Itoa(a.cfg.PageSize))
	q.Set("page", strconv.Itoa(page))
	q.Set("sortBy", "publishedAt")
	q.Set("from", w.Since.UTC().Format("2006-01-02"))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var nr newsResponse
	if err := json.Unmarshal(body, &nr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if nr.Status != "ok" {
		return nil, fmt.Errorf("API error: %s", nr.Message)
	}

	return nr.Articles, nil
}
