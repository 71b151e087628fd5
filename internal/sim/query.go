package sim

import "time"

// selectWhere keeps the items matching every predicate, in their original
// order, then truncates to limit when limit > 0.
func selectWhere[T any](items []T, limit int, preds ...func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if matchesAll(item, preds) {
			out = append(out, item)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matchesAll[T any](item T, preds []func(T) bool) bool {
	for _, pred := range preds {
		if pred != nil && !pred(item) {
			return false
		}
	}
	return true
}

// inWindow treats a zero bound as open.
func inWindow(ts, start, end time.Time) bool {
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && ts.After(end) {
		return false
	}
	return true
}
