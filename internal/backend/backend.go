// Package backend defines the delegated memory backend boundary. The server
// does not implement semantic storage or similarity search itself; it
// forwards scoped operations to a Store implementation and treats the
// backend's indexing internals as opaque.
package backend

import (
	"context"
	"errors"

	"github.com/memgate-io/memgate/pkg/types"
)

// ErrNotFound is returned when a memory id does not exist in the caller's
// partition. Callers distinguish it from transport failures: a missing
// record is a request problem, not a backend outage.
var ErrNotFound = errors.New("backend: memory not found")

// Store is the delegated memory backend. Every operation is scoped to a
// single user_id; implementations must never return or mutate a record
// belonging to a different user than the one named in the call.
type Store interface {
	// Add stores new content under userID and returns the stored record.
	Add(ctx context.Context, content, userID string, metadata map[string]interface{}) (*types.MemoryRecord, error)

	// Search returns up to limit records from userID's partition ranked by
	// relevance to query. An empty result is not an error.
	Search(ctx context.Context, query, userID string, limit int) ([]types.MemoryRecord, error)

	// GetAll returns every record in userID's partition.
	GetAll(ctx context.Context, userID string) ([]types.MemoryRecord, error)

	// Delete removes memoryID from userID's partition. Returns ErrNotFound
	// if the record does not exist there.
	Delete(ctx context.Context, memoryID, userID string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
