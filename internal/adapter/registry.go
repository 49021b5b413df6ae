// Package adapter implements the per-source discovery, claiming and payload
// construction strategies.
package adapter

import (
	"fmt"
	"sort"

	"github.com/rlorentegh/tramitador/internal/filing"
)

// Entry pairs an adapter with its read-only tuning.
type Entry struct {
	Adapter filing.SiteAdapter
	Config  filing.AdapterConfig
}

// Registry maps source identifiers to adapter instances. It is built once at
// startup; lookup is typed, never reflective.
type Registry struct {
	entries map[filing.SourceID]Entry
	ordered []filing.SourceID
}

// NewRegistry builds a Registry from the given entries. Iteration order is
// (rank ascending, source id ascending), matching the arbiter's tie-break.
func NewRegistry(entries map[filing.SourceID]Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("at least one site adapter is required")
	}
	ordered := make([]filing.SourceID, 0, len(entries))
	for source, entry := range entries {
		if entry.Adapter == nil {
			return nil, fmt.Errorf("adapter for source %q is nil", source)
		}
		if entry.Adapter.Source() != source {
			return nil, fmt.Errorf("adapter source %q registered under %q", entry.Adapter.Source(), source)
		}
		ordered = append(ordered, source)
	}
	sort.Slice(ordered, func(i, j int) bool {
		ri, rj := entries[ordered[i]].Config.Rank, entries[ordered[j]].Config.Rank
		if ri != rj {
			return ri < rj
		}
		return ordered[i] < ordered[j]
	})
	return &Registry{entries: entries, ordered: ordered}, nil
}

// Get returns the entry for a source.
func (r *Registry) Get(source filing.SourceID) (Entry, bool) {
	entry, ok := r.entries[source]
	return entry, ok
}

// Sources returns all registered source ids in (rank, id) order.
func (r *Registry) Sources() []filing.SourceID {
	out := make([]filing.SourceID, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Ranks returns the rank map the arbiter consumes.
func (r *Registry) Ranks() map[filing.SourceID]int {
	ranks := make(map[filing.SourceID]int, len(r.entries))
	for source, entry := range r.entries {
		ranks[source] = entry.Config.Rank
	}
	return ranks
}
