// Package priority selects the single hot source for a refill cycle.
package priority

import (
	"github.com/rlorentegh/tramitador/internal/filing"
)

// Arbiter picks the hot source from backlog counts. It is a pure function of
// its inputs: same counts and ranks, same answer.
type Arbiter struct {
	ranks map[filing.SourceID]int
}

// NewArbiter builds an Arbiter over a fixed rank map. Lower rank wins.
func NewArbiter(ranks map[filing.SourceID]int) *Arbiter {
	copied := make(map[filing.SourceID]int, len(ranks))
	for source, rank := range ranks {
		copied[source] = rank
	}
	return &Arbiter{ranks: copied}
}

// Select returns the source with non-terminal backlog whose (rank, source id)
// is smallest. The second return is false when no source has backlog, which
// signals the bootstrap probe rather than an error.
func (a *Arbiter) Select(counts map[filing.SourceID]int) (filing.SourceID, bool) {
	var (
		best  filing.SourceID
		found bool
	)
	for source, count := range counts {
		if count <= 0 {
			continue
		}
		if _, known := a.ranks[source]; !known {
			continue
		}
		if !found || a.less(source, best) {
			best = source
			found = true
		}
	}
	return best, found
}

func (a *Arbiter) less(x, y filing.SourceID) bool {
	rx, ry := a.ranks[x], a.ranks[y]
	if rx != ry {
		return rx < ry
	}
	return x < y
}
