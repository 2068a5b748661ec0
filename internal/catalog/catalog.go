// Package catalog provides the static tier catalog: per-feature quota limits,
// entitlement flags and the Stripe price ids that map to each tier.
//
// The catalog is built once at startup from an embedded YAML document and is
// never mutated afterwards, so it is safe for concurrent use.
package catalog

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/DukeRupert/kerf/internal/domain"
)

//go:embed tiers.yaml
var defaultTiers []byte

// Definition is the immutable description of one tier.
type Definition struct {
	Tier         domain.Tier
	DisplayName  string
	Limits       map[domain.Feature]domain.Limit
	Entitlements map[domain.Entitlement]bool
	PriceIDs     []string
}

// Catalog maps tiers to their definitions and price ids to tiers.
type Catalog struct {
	tiers       map[domain.Tier]Definition
	priceToTier map[string]domain.Tier
}

type fileFormat struct {
	Tiers map[string]struct {
		DisplayName  string                  `yaml:"display_name"`
		Features     map[string]domain.Limit `yaml:"features"`
		Entitlements []string                `yaml:"entitlements"`
	} `yaml:"tiers"`
}

// Default loads the catalog shipped with the binary.
func Default() (*Catalog, error) {
	return Parse(defaultTiers)
}

// Parse builds a catalog from a YAML document. Every known tier must be
// present and must list every metered feature; unknown names are rejected.
func Parse(data []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tier catalog: %w", err)
	}

	c := &Catalog{
		tiers:       make(map[domain.Tier]Definition, len(f.Tiers)),
		priceToTier: make(map[string]domain.Tier),
	}

	for name, raw := range f.Tiers {
		tier := domain.Tier(name)
		if !tier.Valid() {
			return nil, fmt.Errorf("tier catalog: unknown tier %q", name)
		}

		def := Definition{
			Tier:         tier,
			DisplayName:  raw.DisplayName,
			Limits:       make(map[domain.Feature]domain.Limit, len(raw.Features)),
			Entitlements: make(map[domain.Entitlement]bool, len(raw.Entitlements)),
		}
		for fname, limit := range raw.Features {
			feature := domain.Feature(fname)
			if !feature.Valid() {
				return nil, fmt.Errorf("tier catalog: tier %q: unknown feature %q", name, fname)
			}
			if limit.Daily < domain.Unlimited || limit.Monthly < domain.Unlimited {
				return nil, fmt.Errorf("tier catalog: tier %q feature %q: limits must be >= -1", name, fname)
			}
			def.Limits[feature] = limit
		}
		for _, name := range raw.Entitlements {
			e := domain.Entitlement(name)
			if !e.Valid() {
				return nil, fmt.Errorf("tier catalog: tier %q: unknown entitlement %q", tier, name)
			}
			def.Entitlements[e] = true
		}
		c.tiers[tier] = def
	}

	for _, tier := range domain.Tiers {
		def, ok := c.tiers[tier]
		if !ok {
			return nil, fmt.Errorf("tier catalog: missing tier %q", tier)
		}
		for _, feature := range domain.Features {
			if _, ok := def.Limits[feature]; !ok {
				return nil, fmt.Errorf("tier catalog: tier %q missing feature %q", tier, feature)
			}
		}
	}

	return c, nil
}

// WithPrices returns a copy of the catalog that resolves the given Stripe
// price ids to tiers. Empty price ids are skipped.
func (c *Catalog) WithPrices(prices map[string]domain.Tier) (*Catalog, error) {
	out := &Catalog{
		tiers:       make(map[domain.Tier]Definition, len(c.tiers)),
		priceToTier: make(map[string]domain.Tier, len(c.priceToTier)+len(prices)),
	}
	for t, def := range c.tiers {
		def.PriceIDs = append([]string(nil), def.PriceIDs...)
		out.tiers[t] = def
	}
	for p, t := range c.priceToTier {
		out.priceToTier[p] = t
	}

	for priceID, tier := range prices {
		if priceID == "" {
			continue
		}
		def, ok := out.tiers[tier]
		if !ok {
			return nil, fmt.Errorf("price %q: unknown tier %q", priceID, tier)
		}
		out.priceToTier[priceID] = tier
		def.PriceIDs = append(def.PriceIDs, priceID)
		out.tiers[tier] = def
	}
	return out, nil
}

// LimitFor returns the quota of feature on tier. An unknown tier is treated
// as free and an unknown feature gets a zero limit, so nothing unrecognised
// is ever granted unlimited access.
func (c *Catalog) LimitFor(tier domain.Tier, feature domain.Feature) domain.Limit {
	def, ok := c.tiers[tier]
	if !ok {
		def = c.tiers[domain.TierFree]
	}
	limit, ok := def.Limits[feature]
	if !ok {
		return domain.Limit{Daily: 0, Monthly: 0}
	}
	return limit
}

// Definition returns the definition of tier, falling back to free.
func (c *Catalog) Definition(tier domain.Tier) Definition {
	if def, ok := c.tiers[tier]; ok {
		return def
	}
	return c.tiers[domain.TierFree]
}

// HasEntitlement reports whether tier grants the given flag.
func (c *Catalog) HasEntitlement(tier domain.Tier, e domain.Entitlement) bool {
	return c.Definition(tier).Entitlements[e]
}

// TierForPrice resolves a Stripe price id. The second result is false for
// prices the catalog does not know.
func (c *Catalog) TierForPrice(priceID string) (domain.Tier, bool) {
	t, ok := c.priceToTier[priceID]
	return t, ok
}
