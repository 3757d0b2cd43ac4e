package algorithm

// MergeRefCounts combines the reference counts a row already has with the
// counts received from query execution.
//
// Counts held for queries in reset are dropped first: those queries were
// re-executed or removed in the current cycle, so their contribution is
// recomputed from what is received. Zero and negative totals are removed.
// The result is nil when no query references the row.
func MergeRefCounts(existing, received map[string]int, reset map[string]struct{}) map[string]int {
	merged := make(map[string]int, len(existing)+len(received))
	for hash, count := range existing {
		if _, ok := reset[hash]; ok {
			continue
		}
		merged[hash] = count
	}
	for hash, count := range received {
		merged[hash] += count
	}
	for hash, count := range merged {
		if count <= 0 {
			delete(merged, hash)
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// RefCountsEqual reports whether two sets of reference counts are the same,
// treating nil and empty as equal.
func RefCountsEqual(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for hash, count := range a {
		if other, ok := b[hash]; !ok || other != count {
			return false
		}
	}
	return true
}
