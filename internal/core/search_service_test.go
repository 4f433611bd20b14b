package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSearch(t *testing.T, handler http.HandlerFunc) *SearchService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	s, err := NewSearchService(context.Background(), SearchConfig{
		APIKey:   "test-key",
		EngineID: "test-cx",
		Endpoint: server.URL + "/",
	}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func searchItems(n int) map[string]any {
	items := make([]map[string]string, n)
	for i := range items {
		items[i] = map[string]string{
			"title":   fmt.Sprintf("Result %d", i+1),
			"link":    fmt.Sprintf("https://site%d.example.com/page?x=1", i+1),
			"snippet": fmt.Sprintf("Snippet %d", i+1),
		}
	}
	return map[string]any{"items": items}
}

func TestSearchNormalizesResults(t *testing.T) {
	s := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customsearch/v1", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "golang streaming", q.Get("q"))
		assert.Equal(t, "test-cx", q.Get("cx"))
		assert.Equal(t, "5", q.Get("num"))
		assert.Equal(t, "test-key", q.Get("key"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(searchItems(2))
	})

	results := s.Search(context.Background(), "golang streaming")
	require.Len(t, results, 2)

	assert.Equal(t, SearchResult{
		Title:       "Result 1",
		URL:         "https://site1.example.com/page?x=1",
		Description: "Snippet 1",
		Favicon:     "https://www.google.com/s2/favicons?domain=site1.example.com&sz=32",
		Index:       1,
	}, results[0])
	assert.Equal(t, 2, results[1].Index)
}

func TestSearchCapsAtFive(t *testing.T) {
	s := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchItems(8))
	})

	results := s.Search(context.Background(), "many")
	require.Len(t, results, MaxSearchResults)
	for i, r := range results {
		assert.Equal(t, i+1, r.Index)
	}
}

func TestSearchDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"no items", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}},
		{"upstream error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":{"code":403,"message":"daily limit"}}`))
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSearch(t, tt.handler)
			results := s.Search(context.Background(), "anything")
			assert.NotNil(t, results)
			assert.Empty(t, results)
		})
	}
}

func TestSearchWithoutCredentials(t *testing.T) {
	s, err := NewSearchService(context.Background(), SearchConfig{APIKey: "key"}, zap.NewNop())
	require.NoError(t, err)

	results := s.Search(context.Background(), "q")
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestFaviconURL(t *testing.T) {
	assert.Equal(t, "https://www.google.com/s2/favicons?domain=go.dev&sz=32", faviconURL("https://go.dev/doc/"))
	assert.Equal(t, "https://www.google.com/s2/favicons?domain=example.com&sz=32", faviconURL("http://example.com:8080/x"))
	assert.Empty(t, faviconURL("not a url"))
	assert.Empty(t, faviconURL("://bad"))
}
