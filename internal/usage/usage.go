// Package usage tracks per-session token consumption. The router reads the
// previous request's input tokens to decide long-context promotion; entries
// live only until LRU eviction, nothing is persisted.
package usage

import (
	"github.com/haasonsaas/relay/internal/cache"
)

// defaultCapacity bounds the number of tracked sessions.
const defaultCapacity = 512

// Usage is the last observed token counts for one session.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Tracker is a concurrent-safe rolling record of session usage.
type Tracker struct {
	sessions *cache.TTLCache[Usage]
}

// NewTracker creates a tracker with the default capacity and no TTL;
// entries expire by LRU eviction only.
func NewTracker() *Tracker {
	return &Tracker{sessions: cache.New[Usage](defaultCapacity, 0)}
}

// Record stores the latest token counts for a session. Empty session ids
// are ignored.
func (t *Tracker) Record(sessionID string, inputTokens, outputTokens int) {
	if sessionID == "" {
		return
	}
	t.sessions.Put(sessionID, Usage{InputTokens: inputTokens, OutputTokens: outputTokens})
}

// Lookup returns the last usage for a session.
func (t *Tracker) Lookup(sessionID string) (Usage, bool) {
	if sessionID == "" {
		return Usage{}, false
	}
	return t.sessions.Get(sessionID)
}
