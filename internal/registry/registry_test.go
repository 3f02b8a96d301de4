package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

const testCatalog = `[
	{
		"id": "alpha",
		"name": "Alpha",
		"base_url": "https://alpha.example",
		"search_url_pattern": "https://alpha.example/search?q={query}",
		"tier": 1,
		"selectors": {"search_items": [".result"], "title": ["h3"]}
	},
	{
		"id": "",
		"name": "Broken",
		"base_url": "https://broken.example",
		"tier": 1
	},
	{
		"id": "beta",
		"name": "Beta",
		"base_url": "https://beta.example",
		"search_url_pattern": "https://beta.example/find/{query}",
		"tier": 2,
		"enabled": false
	},
	{
		"id": "gamma",
		"name": "Gamma",
		"base_url": "https://gamma.example",
		"search_url_pattern": "https://gamma.example/s?term={query}",
		"tier": 2,
		"nsfw": true
	}
]`

func TestLoadBytes(t *testing.T) {
	r := New()

	loaded, err := r.LoadBytes([]byte(testCatalog))
	require.NoError(t, err)

	// The entry without an id is skipped, the rest load.
	assert.Equal(t, 3, loaded)
	assert.Equal(t, 3, r.Len())

	alpha, err := r.Get("alpha")
	require.NoError(t, err)
	assert.True(t, alpha.Enabled, "enabled should default to true")
	assert.Equal(t, domain.TierPrimary, alpha.Tier)

	beta, err := r.Get("beta")
	require.NoError(t, err)
	assert.False(t, beta.Enabled, "explicit enabled=false should survive load")
}

func TestLoadBytesInvalidJSON(t *testing.T) {
	r := New()

	_, err := r.LoadBytes([]byte(`{"not": "an array"`))
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name     string
		provider domain.ProviderDescriptor
		wantErr  bool
	}{
		{
			name: "valid",
			provider: domain.ProviderDescriptor{
				ID:               "ok",
				BaseURL:          "https://ok.example",
				SearchURLPattern: "https://ok.example/q/{query}",
				Tier:             domain.TierPrimary,
			},
			wantErr: false,
		},
		{
			name:     "missing id",
			provider: domain.ProviderDescriptor{BaseURL: "https://x.example", Tier: 1},
			wantErr:  true,
		},
		{
			name:     "missing base url",
			provider: domain.ProviderDescriptor{ID: "x", Tier: 1},
			wantErr:  true,
		},
		{
			name: "pattern without query placeholder",
			provider: domain.ProviderDescriptor{
				ID:               "x",
				BaseURL:          "https://x.example",
				SearchURLPattern: "https://x.example/search",
				Tier:             1,
			},
			wantErr: true,
		},
		{
			name:     "zero tier",
			provider: domain.ProviderDescriptor{ID: "x", BaseURL: "https://x.example"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			err := r.Register(&tt.provider)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTiersGroupsEnabledByAscendingTier(t *testing.T) {
	r := New()

	_, err := r.LoadBytes([]byte(testCatalog))
	require.NoError(t, err)

	groups := r.Tiers()
	require.Len(t, groups, 2)

	assert.Equal(t, domain.TierPrimary, groups[0].Tier)
	assert.Len(t, groups[0].Providers, 1)
	assert.Equal(t, "alpha", groups[0].Providers[0].ID)

	// beta is disabled, so tier 2 only holds gamma.
	assert.Equal(t, domain.TierSecondary, groups[1].Tier)
	assert.Len(t, groups[1].Providers, 1)
	assert.Equal(t, "gamma", groups[1].Providers[0].ID)
}

func TestSetEnabledIsImmediatelyVisible(t *testing.T) {
	r := New()

	_, err := r.LoadBytes([]byte(testCatalog))
	require.NoError(t, err)

	require.NoError(t, r.SetEnabled("alpha", false))

	p, err := r.Get("alpha")
	require.NoError(t, err)
	assert.False(t, p.Enabled)

	groups := r.Tiers()
	require.Len(t, groups, 1, "tier 1 should vanish once alpha is disabled")
	assert.Equal(t, domain.TierSecondary, groups[0].Tier)

	err = r.SetEnabled("nope", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetTier(t *testing.T) {
	r := New()

	_, err := r.LoadBytes([]byte(testCatalog))
	require.NoError(t, err)

	require.NoError(t, r.SetTier("gamma", domain.TierPrimary))

	p, err := r.Get("gamma")
	require.NoError(t, err)
	assert.Equal(t, domain.TierPrimary, p.Tier)

	assert.Error(t, r.SetTier("gamma", 0))
	assert.ErrorIs(t, r.SetTier("nope", domain.TierSecondary), ErrNotFound)
}

func TestApplyOverride(t *testing.T) {
	r := New()

	_, err := r.LoadBytes([]byte(testCatalog))
	require.NoError(t, err)

	disabled := false
	tier := domain.TierTertiary

	err = r.ApplyOverride(&domain.ProviderOverride{
		ProviderID: "alpha",
		Enabled:    &disabled,
		Tier:       &tier,
	})
	require.NoError(t, err)

	p, err := r.Get("alpha")
	require.NoError(t, err)
	assert.False(t, p.Enabled)
	assert.Equal(t, domain.TierTertiary, p.Tier)

	err = r.ApplyOverride(&domain.ProviderOverride{ProviderID: "stale"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	r := New()

	_, err := r.LoadBytes([]byte(testCatalog))
	require.NoError(t, err)

	p, err := r.Get("alpha")
	require.NoError(t, err)

	p.Enabled = false
	p.Tier = domain.TierTertiary

	fresh, err := r.Get("alpha")
	require.NoError(t, err)
	assert.True(t, fresh.Enabled, "mutating a returned descriptor must not touch the registry")
	assert.Equal(t, domain.TierPrimary, fresh.Tier)
}
