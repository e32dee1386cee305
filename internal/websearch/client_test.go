package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeturtle/reviewd/internal/config"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: url, APIKey: config.Secret("test-key")})
	require.NoError(t, err)
	return c
}

func TestSearchSummarizesTopResults(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotKey = r.URL.Query().Get("api_key")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"organic_results": []map[string]string{
				{"title": "First", "link": "https://a.example", "snippet": "alpha"},
				{"title": "Second", "link": "https://b.example", "snippet": "beta"},
				{"title": "Third", "link": "https://c.example", "snippet": "gamma"},
				{"title": "Fourth", "link": "https://d.example", "snippet": "delta"},
			},
		})
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Search(context.Background(), "golang error wrapping")
	require.NoError(t, err)

	assert.Equal(t, "golang error wrapping", gotQuery)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "golang error wrapping", result.Query)

	want := "- **First**: alpha (https://a.example)\n" +
		"- **Second**: beta (https://b.example)\n" +
		"- **Third**: gamma (https://c.example)"
	assert.Equal(t, want, result.Summary, "only the top three results are summarized")
}

func TestSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"organic_results": []any{}})
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Search(context.Background(), "no hits at all")
	require.NoError(t, err)
	assert.Empty(t, result.Summary)
}

func TestSearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Search(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrSearchFailed)
}

func TestSearchEmptyQuery(t *testing.T) {
	_, err := newTestClient(t, "http://localhost:1").Search(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewClient(Config{BaseURL: "https://serpapi.com/search.json"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
