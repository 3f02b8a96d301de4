package fetch

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/logging"
)

// Searcher turns provider search pages into normalized metadata using the
// descriptor's selector fallback chains. A selector list is tried in order
// until one expression yields a match.
type Searcher struct {
	client *Client
	log    zerolog.Logger
}

// NewSearcher creates a searcher on top of the fetch client
func NewSearcher(client *Client) *Searcher {
	return &Searcher{
		client: client,
		log:    logging.WithComponent("Searcher"),
	}
}

// Search fetches the provider's search page for the query and extracts one
// metadata record per result item. Items that cannot be parsed are skipped
// individually; an empty page is a valid empty result, not an error.
func (s *Searcher) Search(ctx context.Context, provider *domain.ProviderDescriptor, query string) ([]domain.Metadata, error) {
	resp, err := s.client.Fetch(ctx, provider.ID, provider.SearchURL(query))
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, &domain.ParseError{ProviderID: provider.ID, Field: "document", Err: err}
	}

	items := findFirst(doc.Selection, provider.Selectors.SearchItems)
	if items == nil {
		s.log.Debug().Str("provider", provider.ID).Str("query", query).
			Msg("no search items matched any selector")

		return nil, nil
	}

	base, _ := url.Parse(provider.BaseURL)
	confidence := domain.TierConfidence(provider.Tier)

	var (
		results []domain.Metadata
		skipped int
	)

	items.Each(func(_ int, item *goquery.Selection) {
		title := textFirst(item, provider.Selectors.Title)
		if title == "" {
			skipped++

			return
		}

		md := domain.Metadata{
			Title:       title,
			Description: textFirst(item, provider.Selectors.Description),
			CoverURL:    resolveURL(base, attrFirst(item, provider.Selectors.Cover, "src", "data-src", "data-lazy-src")),
			Link:        resolveURL(base, attrFirst(item, provider.Selectors.Link, "href")),
			SourceID:    provider.ID,
			Tier:        provider.Tier,
			Confidence:  confidence,
		}

		results = append(results, md)
	})

	if skipped > 0 {
		s.log.Debug().Str("provider", provider.ID).Int("skipped", skipped).
			Int("parsed", len(results)).Msg("skipped unparseable search items")
	}

	return results, nil
}

// findFirst returns matches for the first expression that hits anything
func findFirst(root *goquery.Selection, exprs []string) *goquery.Selection {
	for _, expr := range exprs {
		if expr == "" {
			continue
		}

		if sel := root.Find(expr); sel.Length() > 0 {
			return sel
		}
	}

	return nil
}

// selectFirst resolves one expression within an item, falling back to the
// item itself when it matches directly (a result item that is the anchor)
func selectFirst(item *goquery.Selection, expr string) *goquery.Selection {
	if sel := item.Find(expr).First(); sel.Length() > 0 {
		return sel
	}

	if item.Is(expr) {
		return item
	}

	return nil
}

// textFirst walks the fallback chain and returns the first non-empty text
func textFirst(item *goquery.Selection, exprs []string) string {
	for _, expr := range exprs {
		if expr == "" {
			continue
		}

		sel := selectFirst(item, expr)
		if sel == nil {
			continue
		}

		if text := strings.TrimSpace(sel.Text()); text != "" {
			return text
		}
	}

	return ""
}

// attrFirst walks the fallback chain and returns the first non-empty value
// among the candidate attributes
func attrFirst(item *goquery.Selection, exprs []string, attrs ...string) string {
	for _, expr := range exprs {
		if expr == "" {
			continue
		}

		sel := selectFirst(item, expr)
		if sel == nil {
			continue
		}

		for _, attr := range attrs {
			if value, ok := sel.Attr(attr); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
	}

	return ""
}

// resolveURL absolutizes scraped links against the provider base
func resolveURL(base *url.URL, raw string) string {
	if raw == "" || base == nil {
		return raw
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return base.ResolveReference(ref).String()
}
