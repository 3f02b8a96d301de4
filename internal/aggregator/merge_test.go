package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

func md(title string, tier domain.Tier, genres ...string) domain.Metadata {
	return domain.Metadata{
		Title:      title,
		Genres:     genres,
		SourceID:   "src",
		Tier:       tier,
		Confidence: domain.TierConfidence(tier),
	}
}

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"The Dark-Tower!", "the dark tower"},
		{"  the   dark tower  ", "the dark tower"},
		{"DARK TOWER: Part 2", "dark tower part 2"},
		{"solo", "solo"},
		{"", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeTitle(tc.in), "input %q", tc.in)
	}
}

func TestMergeFoldsSameTitleWithOverlappingGenres(t *testing.T) {
	results, folded := Merge([]domain.Metadata{
		md("The Dark Tower", domain.TierPrimary, "Fantasy", "Horror"),
		md("the dark-tower", domain.TierSecondary, "fantasy", "Western"),
	})

	require.Len(t, results, 1)
	assert.Equal(t, 1, folded)
	assert.Equal(t, "The Dark Tower", results[0].Title, "highest tier keeps its casing")
	assert.Equal(t, domain.TierPrimary, results[0].Tier)
	assert.InDelta(t, 1.0, results[0].Confidence, 0.001)
	assert.ElementsMatch(t, []string{"Fantasy", "Horror", "Western"}, results[0].Genres)
}

func TestMergeWinnerIsHighestConfidenceRegardlessOfOrder(t *testing.T) {
	lower := md("Solaris", domain.TierTertiary, "SciFi")
	lower.Description = "tertiary description"
	lower.CoverURL = "https://tertiary.example/cover.jpg"
	lower.Year = 1961

	higher := md("Solaris", domain.TierPrimary, "SciFi", "Drama")
	higher.Description = "primary description"

	results, folded := Merge([]domain.Metadata{lower, higher})

	require.Len(t, results, 1)
	assert.Equal(t, 1, folded)
	assert.Equal(t, domain.TierPrimary, results[0].Tier)
	assert.Equal(t, "primary description", results[0].Description)
	assert.Equal(t, "https://tertiary.example/cover.jpg", results[0].CoverURL,
		"gaps fill from the losing record")
	assert.Equal(t, 1961, results[0].Year)
}

func TestMergeKeepsDisjointGenresApart(t *testing.T) {
	results, folded := Merge([]domain.Metadata{
		md("Phoenix", domain.TierPrimary, "Romance"),
		md("Phoenix", domain.TierSecondary, "Mecha", "Action"),
	})

	assert.Len(t, results, 2, "same title with unrelated genres is two works")
	assert.Zero(t, folded)
}

func TestMergeEmptyGenreSetIsCompatible(t *testing.T) {
	results, folded := Merge([]domain.Metadata{
		md("Phoenix", domain.TierPrimary, "Romance"),
		md("Phoenix", domain.TierSecondary),
	})

	require.Len(t, results, 1)
	assert.Equal(t, 1, folded)
	assert.Equal(t, []string{"Romance"}, results[0].Genres)
}

func TestMergeRanksByConfidenceThenTitle(t *testing.T) {
	results, _ := Merge([]domain.Metadata{
		md("Zebra", domain.TierSecondary, "a"),
		md("Alpha", domain.TierPrimary, "b"),
		md("Beta", domain.TierSecondary, "c"),
		md("Omega", domain.TierTertiary, "d"),
	})

	require.Len(t, results, 4)
	assert.Equal(t, "Alpha", results[0].Title)
	assert.Equal(t, "Beta", results[1].Title, "ties break alphabetically")
	assert.Equal(t, "Zebra", results[2].Title)
	assert.Equal(t, "Omega", results[3].Title)
}

func TestMergeEmptyInput(t *testing.T) {
	results, folded := Merge(nil)
	assert.Nil(t, results)
	assert.Zero(t, folded)
}
