package tier

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

var ErrUnknownTier = errors.New("unknown tier")

// Currency all catalog prices are quoted in. The push gateway only collects KES.
const Currency = "KES"

var defaultPlans = map[Tier]Plan{
	Free: {
		Tier:     Free,
		Name:     "Community Advocate",
		Rank:     0,
		Price:    decimal.Zero,
		Currency: Currency,
		Features: []string{"history_30d", "basic_insights", "education"},
	},
	Champion: {
		Tier:     Champion,
		Name:     "Health Champion",
		Rank:     1,
		Price:    decimal.NewFromInt(150),
		Currency: Currency,
		Features: []string{"history_unlimited", "advanced_insights", "weekly_reports", "data_export", "family_sharing"},
	},
	GlobalAdvocate: {
		Tier:     GlobalAdvocate,
		Name:     "Global Advocate",
		Rank:     2,
		Price:    decimal.NewFromInt(400),
		Currency: Currency,
		Features: []string{
			"history_unlimited", "advanced_insights", "weekly_reports", "data_export", "family_sharing",
			"expert_consultations", "research_participation", "impact_reports",
		},
	},
}

// Catalog is the read-only tier table.
type Catalog struct {
	plans map[Tier]Plan
}

func NewCatalog() *Catalog {
	return &Catalog{plans: defaultPlans}
}

func (c *Catalog) Lookup(t Tier) (Plan, error) {
	p, ok := c.plans[t]
	if !ok {
		return Plan{}, ErrUnknownTier
	}
	return p, nil
}

// Rank returns -1 for tiers missing from the catalog.
func (c *Catalog) Rank(t Tier) int {
	p, ok := c.plans[t]
	if !ok {
		return -1
	}
	return p.Rank
}

// IsUpgrade reports whether to ranks strictly above from.
func (c *Catalog) IsUpgrade(from, to Tier) bool {
	fromRank, toRank := c.Rank(from), c.Rank(to)
	if fromRank < 0 || toRank < 0 {
		return false
	}
	return toRank > fromRank
}

func (c *Catalog) Features(t Tier) []string {
	return c.plans[t].Features
}

// Plans returns the catalog ordered by rank.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}
