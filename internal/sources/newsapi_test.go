package sources

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newsWindow() Window {
	return Window{Since: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func TestNewsFeedAdapter_Fetch(t *testing.T) {
	var gotQuery map[string]string
	var gotAPIKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-Api-Key")
		gotQuery = map[string]string{
			"q":        r.URL.Query().Get("q"),
			"pageSize": r.URL.Query().Get("pageSize"),
			"sortBy":   r.URL.Query().Get("sortBy"),
			"from":     r.URL.Query().Get("from"),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"articles": []map[string]interface{}{
				{
					"source":      map[string]string{"name": "Tribune"},
					"title":       "Shooting reported downtown",
					"description": "Police responded to gunfire",
					"url":         "https://example.com/a/1",
					"publishedAt": "2024-03-01T12:30:00Z",
				},
				{
					// No URL: no identity can be derived, dropped
					"title":       "Untraceable article",
					"publishedAt": "2024-03-01T13:00:00Z",
				},
			},
		})
	}))
	defer server.Close()

	adapter := NewNewsFeedAdapter(NewsFeedConfig{
		Endpoint: server.URL,
		APIKey:   "test-key",
		Query:    "crime AND police",
		PageSize: 100,
	})

	records, err := adapter.Fetch(context.Background(), newsWindow())
	assert.NoError(t, err)
	assert.Len(t, records, 1)

	assert.Equal(t, "test-key", gotAPIKey)
	assert.Equal(t, "crime AND police", gotQuery["q"])
	assert.Equal(t, "100", gotQuery["pageSize"])
	assert.Equal(t, "publishedAt", gotQuery["sortBy"])
	assert.Equal(t, "2024-03-01", gotQuery["from"])

	rec := records[0]
	assert.Equal(t, "Shooting reported downtown", rec.Title)
	assert.Equal(t, "Police responded to gunfire", rec.Description)
	assert.Equal(t, "Tribune", rec.Location)
	assert.Equal(t, "https://example.com/a/1", rec.URL)
	assert.Equal(t, "2024-03-01T12:30:00Z", rec.PublishedAt)
	assert.Equal(t, "2024-03-01T12:30:00Z", rec.OccurredAt)
	assert.Empty(t, rec.NaturalID)
}

func TestNewsFeedAdapter_EmptyResultIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "ok",
			"articles": []interface{}{},
		})
	}))
	defer server.Close()

	adapter := NewNewsFeedAdapter(NewsFeedConfig{Endpoint: server.URL})

	records, err := adapter.Fetch(context.Background(), newsWindow())
	assert.NoError(t, err)
	assert.Empty(t, records)
}

func TestNewsFeedAdapter_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := NewNewsFeedAdapter(NewsFeedConfig{Endpoint: server.URL})

	records, err := adapter.Fetch(context.Background(), newsWindow())
	assert.Error(t, err)
	assert.Nil(t, records)

	var fetchErr *FetchError
	assert.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, SourceNewsAPI, fetchErr.Source)
	assert.Contains(t, err.Error(), "API returned status 401")
}

func TestNewsFeedAdapter_EnvelopeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "error",
			"message": "apiKeyInvalid",
		})
	}))
	defer server.Close()

	adapter := NewNewsFeedAdapter(NewsFeedConfig{Endpoint: server.URL})

	_, err := adapter.Fetch(context.Background(), newsWindow())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "apiKeyInvalid")
}

func TestNewsFeedAdapter_MalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	adapter := NewNewsFeedAdapter(NewsFeedConfig{Endpoint: server.URL})

	_, err := adapter.Fetch(context.Background(), newsWindow())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal response")
}

func TestNewsFeedAdapter_Pagination(t *testing.T) {
	pages := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		articles := []map[string]interface{}{}
		count := 2
		if pages == 2 {
			count = 1 // short page ends the loop
		}
		for i := 0; i < count; i++ {
			articles = append(articles, map[string]interface{}{
				"title":       "article",
				"url":         "https://example.com/a/" + r.URL.Query().Get("page") + "-" + string(rune('a'+i)),
				"publishedAt": "2024-03-01T12:30:00Z",
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "ok",
			"articles": articles,
		})
	}))
	defer server.Close()

	adapter := NewNewsFeedAdapter(NewsFeedConfig{
		Endpoint: server.URL,
		PageSize: 2,
		MaxPages: 5,
	})

	records, err := adapter.Fetch(context.Background(), newsWindow())
	assert.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Len(t, records, 3)
}
