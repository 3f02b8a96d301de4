package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

const searchPage = `<html><body>
<div class="results">
  <article class="result">
    <h3 class="name"><a href="/title/alpha-adventures">Alpha Adventures</a></h3>
    <img class="cover" data-src="/covers/alpha.jpg"/>
    <p class="summary">First story.</p>
  </article>
  <article class="result">
    <h3 class="name"><a href="/title/beta-chronicles">Beta Chronicles</a></h3>
    <img class="cover" src="/covers/beta.jpg"/>
    <p class="summary">Second story.</p>
  </article>
  <article class="result">
    <img class="cover" src="/covers/orphan.jpg"/>
  </article>
</div>
</body></html>`

func searchProvider(baseURL string) *domain.ProviderDescriptor {
	return &domain.ProviderDescriptor{
		ID:               "alpha",
		Name:             "Alpha",
		BaseURL:          baseURL,
		SearchURLPattern: baseURL + "/search?q={query}",
		Tier:             domain.TierPrimary,
		Enabled:          true,
		Selectors: domain.SelectorSet{
			SearchItems: []string{".missing .item", "article.result"},
			Title:       []string{"h2.title", "h3.name"},
			Cover:       []string{"img.cover"},
			Link:        []string{"h3.name a"},
			Description: []string{"p.summary"},
		},
	}
}

func TestSearchParsesItemsWithFallbackSelectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "dark tower", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	s := NewSearcher(New(Config{}))

	results, err := s.Search(context.Background(), searchProvider(srv.URL), "dark tower")
	require.NoError(t, err)

	require.Len(t, results, 2, "the item without a title must be skipped")

	assert.Equal(t, "Alpha Adventures", results[0].Title)
	assert.Equal(t, srv.URL+"/title/alpha-adventures", results[0].Link)
	assert.Equal(t, srv.URL+"/covers/alpha.jpg", results[0].CoverURL, "data-src fallback")
	assert.Equal(t, "First story.", results[0].Description)
	assert.Equal(t, "alpha", results[0].SourceID)
	assert.Equal(t, domain.TierPrimary, results[0].Tier)
	assert.InDelta(t, 1.0, results[0].Confidence, 0.001)

	assert.Equal(t, "Beta Chronicles", results[1].Title)
	assert.Equal(t, srv.URL+"/covers/beta.jpg", results[1].CoverURL)
}

func TestSearchEmptyPageIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>no results found</p></body></html>"))
	}))
	defer srv.Close()

	s := NewSearcher(New(Config{}))

	results, err := s.Search(context.Background(), searchProvider(srv.URL), "nothing")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchPropagatesFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSearcher(New(Config{}))

	_, err := s.Search(context.Background(), searchProvider(srv.URL), "anything")

	var throttle *domain.ThrottleError

	assert.ErrorAs(t, err, &throttle)
}

func TestSearchTierConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	s := NewSearcher(New(Config{}))

	provider := searchProvider(srv.URL)
	provider.Tier = domain.TierSecondary

	results, err := s.Search(context.Background(), provider, "anything")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.InDelta(t, 0.7, results[0].Confidence, 0.001)
}
