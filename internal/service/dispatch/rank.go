package dispatch

import (
	"sort"

	"github.com/Additional-Code/nightowl/internal/presence"
	"github.com/Additional-Code/nightowl/internal/pricing"
)

const (
	StrategyNearest = "nearest"
	StrategyScore   = "score"
)

// Rank orders candidates best first. Nearest ranks by distance from the
// driver's last fix to the shop with drivers lacking a fix last; both
// strategies break ties by score, then id.
func Rank(drivers []presence.Driver, shop pricing.Point, strategy string) []presence.Driver {
	type candidate struct {
		driver   presence.Driver
		distance float64
		hasFix   bool
	}
	cands := make([]candidate, len(drivers))
	for i, d := range drivers {
		c := candidate{driver: d}
		if pos, ok := d.Position(); ok && pos.Valid() {
			c.distance = pricing.DistanceKm(pos, shop)
			c.hasFix = true
		}
		cands[i] = c
	}

	byScore := func(a, b candidate) bool {
		if a.driver.Score != b.driver.Score {
			return a.driver.Score > b.driver.Score
		}
		return a.driver.ID < b.driver.ID
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if strategy == StrategyScore {
			return byScore(a, b)
		}
		if a.hasFix != b.hasFix {
			return a.hasFix
		}
		if a.hasFix && a.distance != b.distance {
			return a.distance < b.distance
		}
		return byScore(a, b)
	})

	out := make([]presence.Driver, len(cands))
	for i, c := range cands {
		out[i] = c.driver
	}
	return out
}
