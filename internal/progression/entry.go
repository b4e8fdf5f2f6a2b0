// Package progression keeps the shared, durable table of per-level XP requirements.
//
// A level's requirement is never observable directly. While a character stays on a level the
// largest XP seen is kept as an unconfirmed observation; when the character is seen leaving the
// level the last XP value becomes the confirmed requirement. Entries only move up a semilattice
// (unconfirmed < confirmed, then larger XP), so several instances of the tool can merge their
// views of the same file in any order and converge.
package progression

// Entry is the recorded requirement for one level.
type Entry struct {
	XP        uint64 `json:"xp"`
	Confirmed bool   `json:"confirmed"`
}

// Merge is the join of two entries: the larger XP and the logical OR of Confirmed.
// It is commutative, associative and idempotent.
func Merge(a, b Entry) Entry {
	out := a
	if b.XP > out.XP {
		out.XP = b.XP
	}
	out.Confirmed = a.Confirmed || b.Confirmed
	return out
}

// Levels maps a level to its entry.
type Levels map[uint16]Entry

// mergeInto joins src into dst key by key and reports whether dst changed.
func mergeInto(dst, src Levels) bool {
	changed := false
	for level, entry := range src {
		cur, ok := dst[level]
		next := entry
		if ok {
			next = Merge(cur, entry)
		}
		if !ok || next != cur {
			dst[level] = next
			changed = true
		}
	}
	return changed
}

func (l Levels) clone() Levels {
	out := make(Levels, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}
