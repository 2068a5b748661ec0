package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/kerf/internal/domain"
)

func TestDefault_Loads(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Equal(t, domain.Limit{Daily: 5, Monthly: 100}, c.LimitFor(domain.TierStarter, domain.FeatureAIGeneration))
	assert.True(t, c.LimitFor(domain.TierPro, domain.FeatureAIGeneration).IsUnlimited())
	assert.True(t, c.HasEntitlement(domain.TierMaker, domain.EntitlementPremiumTemplates))
	assert.False(t, c.HasEntitlement(domain.TierFree, domain.EntitlementPremiumTemplates))
	assert.Equal(t, "Maker", c.Definition(domain.TierMaker).DisplayName)
}

func TestLimitFor_FailsClosed(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	free := c.LimitFor(domain.TierFree, domain.FeatureAIGeneration)

	tests := []struct {
		name    string
		tier    domain.Tier
		feature domain.Feature
		want    domain.Limit
	}{
		{"unknown tier resolves to free", domain.Tier("enterprise"), domain.FeatureAIGeneration, free},
		{"empty tier resolves to free", domain.Tier(""), domain.FeatureAIGeneration, free},
		{"unknown feature on free", domain.TierFree, domain.Feature("laser_time"), domain.Limit{}},
		{"unknown feature on pro is not unlimited", domain.TierPro, domain.Feature("laser_time"), domain.Limit{}},
		{"unknown tier and feature", domain.Tier("gold"), domain.Feature("x"), domain.Limit{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.LimitFor(tt.tier, tt.feature))
		})
	}
}

func TestEveryTierDefinesEveryFeature(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	for _, tier := range domain.Tiers {
		for _, feature := range domain.Features {
			_, ok := c.Definition(tier).Limits[feature]
			assert.True(t, ok, "tier %s feature %s", tier, feature)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "tiers: ["},
		{"unknown tier", `
tiers:
  platinum:
    features: {}
`},
		{"unknown feature", `
tiers:
  free:
    features:
      teleport: {daily: 1, monthly: 1}
`},
		{"limit below unlimited", `
tiers:
  free:
    features:
      ai_generation: {daily: -2, monthly: 1}
`},
		{"missing tiers", `
tiers:
  free:
    features:
      ai_generation: {daily: 1, monthly: 1}
      gcode_generation: {daily: 1, monthly: 1}
      template_download: {daily: 1, monthly: 1}
`},
		{"unknown entitlement", `
tiers:
  free:
    features:
      ai_generation: {daily: 1, monthly: 1}
    entitlements: [free_lunch]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestWithPrices(t *testing.T) {
	base, err := Default()
	require.NoError(t, err)

	c, err := base.WithPrices(map[string]domain.Tier{
		"price_starter_m": domain.TierStarter,
		"price_maker_m":   domain.TierMaker,
		"":                domain.TierPro,
	})
	require.NoError(t, err)

	tier, ok := c.TierForPrice("price_maker_m")
	assert.True(t, ok)
	assert.Equal(t, domain.TierMaker, tier)

	_, ok = c.TierForPrice("price_unknown")
	assert.False(t, ok)

	_, ok = base.TierForPrice("price_maker_m")
	assert.False(t, ok, "WithPrices must not mutate the receiver")

	_, err = base.WithPrices(map[string]domain.Tier{"price_x": domain.Tier("gold")})
	assert.Error(t, err)
}
