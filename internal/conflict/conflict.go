// Package conflict implements last-write-wins resolution on the
// lastModified timestamp. The same comparison runs in three places:
// local store writes, server-side upserts, and the sync engine's pull
// merge. All three must call into this package rather than comparing
// timestamps inline, so the resolution policy cannot drift.
package conflict

import "time"

// IncomingWins reports whether an incoming revision should replace the
// stored one. A zero existing timestamp means no stored record, so the
// incoming revision wins unconditionally. On a tie the stored record is
// kept, which makes re-applying an identical write a no-op.
func IncomingWins(incoming, existing time.Time) bool {
	if existing.IsZero() {
		return true
	}
	return incoming.After(existing)
}

// IncomingWinsMillis is IncomingWins on epoch-millisecond clocks, for
// call sites that persist timestamps as integers. Zero existing means
// no stored record.
func IncomingWinsMillis(incoming, existing int64) bool {
	if existing == 0 {
		return true
	}
	return incoming > existing
}
