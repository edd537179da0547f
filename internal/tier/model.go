package tier

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Tier is a named subscription level. The zero value is not a valid tier.
type Tier string

const (
	Free           Tier = "free"
	Champion       Tier = "champion"
	GlobalAdvocate Tier = "global_advocate"
)

// Names used by the first version of the app, still sent by older clients.
var legacyNames = map[string]Tier{
	"community_advocate": Free,
	"health_champion":    Champion,
}

// Plan is one row of the static catalog.
type Plan struct {
	Tier     Tier            `json:"tier"`
	Name     string          `json:"name"`
	Rank     int             `json:"rank"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Features []string        `json:"features"`
}

// IsPremium reports whether the tier must be paid for.
func (t Tier) IsPremium() bool {
	return t != Free && t != ""
}

func (t Tier) String() string { return string(t) }

// Parse normalises a tier name, accepting legacy aliases.
func Parse(s string) (Tier, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	if t, ok := legacyNames[name]; ok {
		return t, true
	}
	t := Tier(name)
	if _, ok := defaultPlans[t]; !ok {
		return "", false
	}
	return t, true
}
