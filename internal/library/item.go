package library

import (
	"math/rand"
	"time"
)

const (
	TypeSong  = "song"
	TypePoem  = "poem"
	TypeStory = "story"
)

// SnapshotVersion gates schema compatibility of persisted snapshots. A
// cached snapshot carrying any other version is treated as absent.
const SnapshotVersion = 1

// TemporaryIDThreshold separates server-assigned sequential IDs from
// client-synthesized ones. Temporary IDs are derived from a millisecond
// unix timestamp (~1.7e12 as of 2023), so anything above 1e12 cannot be a
// sequential row ID and is classified as temporary. The threshold is
// coupled to the timestamp epoch; if ID synthesis ever changes, this
// constant has to move with it.
const TemporaryIDThreshold int64 = 1_000_000_000_000

// Item is the domain shape consumed by the UI layer. The remote gateway
// speaks a snake_case transport shape; see client.go for the mapping.
type Item struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	ReadCount int    `json:"readCount"`
	Favorite  bool   `json:"favorite"`
	Archived  bool   `json:"archived"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Snapshot is the unit persisted to the local cache.
type Snapshot struct {
	Version int    `json:"version"`
	Items   []Item `json:"items"`
}

// IsTemporaryID reports whether id was synthesized locally rather than
// assigned by the server.
func IsTemporaryID(id int64) bool {
	return id > TemporaryIDThreshold
}

// NewTemporaryID synthesizes a client-side ID from the current millisecond
// timestamp, perturbed with a sub-tick random component so that several IDs
// generated within the same millisecond stay distinct.
func NewTemporaryID() int64 {
	return time.Now().UnixMilli()*1000 + rand.Int63n(1000)
}

// IsValidType reports whether t belongs to the closed content type set.
func IsValidType(t string) bool {
	switch t {
	case TypeSong, TypePoem, TypeStory:
		return true
	default:
		return false
	}
}
