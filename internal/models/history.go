package models

import "time"

// HistoryEntry records one query sent (or about to be sent) to the answer
// engine. Response is the cache key: an entry with an empty Response is
// still in flight or failed, and is never replayed.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Query     string    `json:"query"`
	Response  string    `json:"response,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
