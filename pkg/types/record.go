// Package types holds the shared value types passed between the memory
// facade, the delegated backend, and the MCP tool layer.
package types

import "time"

// MemoryRecord represents a single memory as stored by the delegated backend.
// The server forwards Content and Metadata opaquely; the only field it
// interprets is UserID, which scopes every operation. A record always
// round-trips with the UserID it was written under.
type MemoryRecord struct {
	ID        string                 `json:"id"`                   // Unique identifier assigned at add time
	Content   string                 `json:"content"`              // Raw memory content
	UserID    string                 `json:"user_id"`              // Owner; isolation boundary for all operations
	Metadata  map[string]interface{} `json:"metadata,omitempty"`   // Arbitrary caller-supplied metadata
	CreatedAt time.Time              `json:"created_at"`           // When the record was stored
	Score     float64                `json:"relevance_score,omitempty"` // Relevance for search results, 0 otherwise
}
