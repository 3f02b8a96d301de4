package aggregator

import (
	"sort"
	"strings"
	"unicode"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

// Merge deduplicates results from multiple providers and ranks the survivors
// by confidence. Two records are the same work when their normalized titles
// match and their genre sets do not contradict each other. The surviving
// record keeps the metadata of the highest-confidence source and the union
// of all genres. Returns the merged list and how many duplicates were folded.
func Merge(results []domain.Metadata) ([]domain.Metadata, int) {
	if len(results) == 0 {
		return nil, 0
	}

	var (
		merged []domain.Metadata
		byKey  = make(map[string][]int)
		folded int
	)

	for _, candidate := range results {
		key := normalizeTitle(candidate.Title)

		matched := false

		for _, idx := range byKey[key] {
			if !genresCompatible(merged[idx].Genres, candidate.Genres) {
				continue
			}

			merged[idx] = mergePair(merged[idx], candidate)
			folded++
			matched = true

			break
		}

		if matched {
			continue
		}

		byKey[key] = append(byKey[key], len(merged))
		merged = append(merged, candidate)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Confidence != merged[j].Confidence {
			return merged[i].Confidence > merged[j].Confidence
		}

		return merged[i].Title < merged[j].Title
	})

	return merged, folded
}

// mergePair folds two records for the same work. The higher-confidence
// record wins every field; genres are unioned either way.
func mergePair(a, b domain.Metadata) domain.Metadata {
	winner, loser := a, b
	if b.Confidence > a.Confidence {
		winner, loser = b, a
	}

	winner.Genres = unionGenres(winner.Genres, loser.Genres)

	// fill gaps the winner did not have
	if winner.Description == "" {
		winner.Description = loser.Description
	}

	if winner.CoverURL == "" {
		winner.CoverURL = loser.CoverURL
	}

	if winner.Year == 0 {
		winner.Year = loser.Year
	}

	if winner.Rating == 0 {
		winner.Rating = loser.Rating
	}

	return winner
}

// normalizeTitle lowers, strips punctuation and collapses whitespace so
// "The Dark-Tower!" and "the dark tower" compare equal
func normalizeTitle(title string) string {
	var b strings.Builder

	lastSpace := true

	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)

			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')

			lastSpace = true
		}
	}

	return strings.TrimSpace(b.String())
}

// genresCompatible reports whether two genre sets could describe the same
// work: either set empty counts as compatible, otherwise they must overlap
func genresCompatible(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}

	seen := make(map[string]bool, len(a))
	for _, g := range a {
		seen[strings.ToLower(strings.TrimSpace(g))] = true
	}

	for _, g := range b {
		if seen[strings.ToLower(strings.TrimSpace(g))] {
			return true
		}
	}

	return false
}

// unionGenres merges two genre lists preserving first-seen casing and order
func unionGenres(a, b []string) []string {
	if len(b) == 0 {
		return a
	}

	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, g := range list {
			key := strings.ToLower(strings.TrimSpace(g))
			if key == "" || seen[key] {
				continue
			}

			seen[key] = true

			out = append(out, strings.TrimSpace(g))
		}
	}

	return out
}
