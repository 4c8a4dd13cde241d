package sequence

import "github.com/jdziat/simple-process-tracking/pkg/core"

// Latest returns the most recently closed attempt: completed_at descending,
// attempt ID descending on ties. Open attempts are ignored.
func Latest(attempts []core.Attempt) *core.Attempt {
	var latest *core.Attempt
	for i := range attempts {
		a := &attempts[i]
		if a.Open() {
			continue
		}
		if latest == nil || after(a, latest) {
			latest = a
		}
	}
	return latest
}

// Passed returns a closed PASS attempt, or nil.
func Passed(attempts []core.Attempt) *core.Attempt {
	for i := range attempts {
		if !attempts[i].Open() && attempts[i].Result.Passed() {
			return &attempts[i]
		}
	}
	return nil
}

// IsRework reports whether a new attempt would be a rework: some earlier
// attempt for the pair closed with FAIL or REWORK.
func IsRework(attempts []core.Attempt) bool {
	for i := range attempts {
		if !attempts[i].Open() && !attempts[i].Result.Passed() {
			return true
		}
	}
	return false
}

// LatestEntry is Latest for history entries.
func LatestEntry(entries []core.HistoryEntry) *core.HistoryEntry {
	var latest *core.HistoryEntry
	for i := range entries {
		e := &entries[i]
		if latest == nil ||
			e.CompletedAt.After(latest.CompletedAt) ||
			(e.CompletedAt.Equal(latest.CompletedAt) && e.AttemptID > latest.AttemptID) {
			latest = e
		}
	}
	return latest
}

func after(a, b *core.Attempt) bool {
	if a.CompletedAt.Equal(*b.CompletedAt) {
		return a.ID > b.ID
	}
	return a.CompletedAt.After(*b.CompletedAt)
}
