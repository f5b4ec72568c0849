// Package results holds synced records and merges new batches into a
// de-duplicated, recency-sorted result set.
package results

import (
	"slices"
)

// Record is a single synced resource.
type Record struct {
	// ID is the remote identifier, unique within the remote system.
	ID string `json:"id"`

	// SortKey orders records by recency (higher is newer).
	SortKey int64 `json:"sort_key"`

	// Payload is the transport-specific record body.
	Payload any `json:"payload,omitempty"`
}

// Set is an ordered sequence of records, unique by ID and sorted
// descending by SortKey.
type Set []*Record

// IDs returns the record ids in set order.
func (s Set) IDs() []string {
	ids := make([]string, 0, len(s))
	for _, r := range s {
		ids = append(ids, r.ID)
	}
	return ids
}

// Contains reports whether a record with the given id is in the set.
func (s Set) Contains(id string) bool {
	for _, r := range s {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Merge returns a new set holding existing plus incoming. Nil entries in
// incoming are dropped. A record whose id is already present replaces the
// earlier one, also within incoming itself. The result is stably sorted by
// SortKey, newest first. existing is never modified.
func Merge(existing Set, incoming []*Record) Set {
	batch := make([]*Record, 0, len(incoming))
	pos := make(map[string]int, len(incoming))
	for _, r := range incoming {
		if r == nil {
			continue
		}
		if i, ok := pos[r.ID]; ok {
			batch[i] = r
			continue
		}
		pos[r.ID] = len(batch)
		batch = append(batch, r)
	}

	merged := make(Set, 0, len(existing)+len(batch))
	for _, r := range existing {
		if _, replaced := pos[r.ID]; replaced {
			continue
		}
		merged = append(merged, r)
	}
	merged = append(merged, batch...)

	slices.SortStableFunc(merged, func(a, b *Record) int {
		switch {
		case a.SortKey > b.SortKey:
			return -1
		case a.SortKey < b.SortKey:
			return 1
		default:
			return 0
		}
	})

	return merged
}

// IsSorted reports whether the set is in non-increasing SortKey order.
func (s Set) IsSorted() bool {
	for i := 1; i < len(s); i++ {
		if s[i].SortKey > s[i-1].SortKey {
			return false
		}
	}
	return true
}
