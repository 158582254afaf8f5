package library

import "strings"

// Deduplicate collapses a sequence of items into a canonical, duplicate-free
// sequence. The first occurrence wins and keeps its position and field
// values.
//
// Server-assigned IDs are authoritative: a repeated non-temporary ID is a
// duplicate outright. Temporary IDs are expected to collide across
// independent imports referring to the same logical item, so they fall
// through to content identity: lowercased, trimmed title concatenated with
// the literal type tag. Two genuinely different items sharing a normalized
// title and type are indistinguishable here; the later one is dropped.
func Deduplicate(items []Item) []Item {
	seenIDs := make(map[int64]struct{}, len(items))
	seenKeys := make(map[string]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if !IsTemporaryID(item.ID) {
			if _, dup := seenIDs[item.ID]; dup {
				continue
			}
		}
		key := contentKey(item)
		if _, dup := seenKeys[key]; dup {
			continue
		}
		seenIDs[item.ID] = struct{}{}
		seenKeys[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// contentKey normalizes title case and surrounding whitespace. The type tag
// is compared literally: it comes from a closed enumeration, not free text.
func contentKey(item Item) string {
	return strings.ToLower(strings.TrimSpace(item.Title)) + "\x00" + item.Type
}
