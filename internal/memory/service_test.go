package memory

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memgate-io/memgate/internal/backend"
	"github.com/memgate-io/memgate/internal/config"
	"github.com/memgate-io/memgate/internal/conn"
	"github.com/memgate-io/memgate/internal/faults"
	"github.com/memgate-io/memgate/pkg/types"
)

// countingStore records every call so tests can assert whether the backend
// was reached at all. Per-method error queues let a call fail once and then
// succeed.
type countingStore struct {
	mu      sync.Mutex
	calls   map[string]int
	addErrs []error
	delErrs []error
	records []types.MemoryRecord
}

func newCountingStore() *countingStore {
	return &countingStore{calls: map[string]int{}}
}

func (c *countingStore) count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *countingStore) pop(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (c *countingStore) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["ping"]++
	return nil
}

func (c *countingStore) Add(ctx context.Context, content, userID string, metadata map[string]interface{}) (*types.MemoryRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["add"]++
	if err := c.pop(&c.addErrs); err != nil {
		return nil, err
	}
	rec := types.MemoryRecord{ID: "m1", Content: content, UserID: userID, Metadata: metadata}
	c.records = append(c.records, rec)
	return &rec, nil
}

func (c *countingStore) Search(ctx context.Context, query, userID string, limit int) ([]types.MemoryRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["search"]++
	out := make([]types.MemoryRecord, len(c.records))
	copy(out, c.records)
	return out, nil
}

func (c *countingStore) GetAll(ctx context.Context, userID string) ([]types.MemoryRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["get_all"]++
	var out []types.MemoryRecord
	for _, r := range c.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *countingStore) Delete(ctx context.Context, memoryID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["delete"]++
	if err := c.pop(&c.delErrs); err != nil {
		return err
	}
	for i, r := range c.records {
		if r.ID == memoryID && r.UserID == userID {
			c.records = append(c.records[:i], c.records[i+1:]...)
			return nil
		}
	}
	return backend.ErrNotFound
}

func (c *countingStore) Close() error { return nil }

func resolvedConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Resolve(config.Options{Getenv: func(string) string { return "" }})
	require.NoError(t, err)
	return cfg
}

func newTestService(t *testing.T, store *countingStore) *Service {
	t.Helper()
	connCfg := conn.DefaultConfig()
	connCfg.AcquireTimeout = 2 * time.Second
	svc, err := NewService(resolvedConfig(t),
		WithStoreFactory(func(config.RedisConfig) (backend.Store, error) { return store, nil }),
		WithConnConfig(connCfg),
		WithRateLimit(1000, 1000),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func kindOf(t *testing.T, err error) faults.Kind {
	t.Helper()
	var classified *faults.Classified
	require.ErrorAs(t, err, &classified)
	return classified.Kind
}

func TestAddEmptyUserIDNeverReachesBackend(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store)

	_, err := svc.Add(context.Background(), "remember this", "", nil)
	require.Error(t, err)
	assert.Equal(t, faults.BackendRejected, kindOf(t, err))
	assert.Equal(t, 0, store.count("add"))
}

func TestAddStoresRecord(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store)

	rec, err := svc.Add(context.Background(), "likes black coffee", "alice", map[string]interface{}{"topic": "food"})
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.UserID)
	assert.Equal(t, "likes black coffee", rec.Content)
	assert.Equal(t, 1, store.count("add"))

	// Provenance stamps are applied without clobbering caller metadata.
	assert.Equal(t, "food", rec.Metadata["topic"])
	assert.Equal(t, "memgate", rec.Metadata["source"])
	assert.NotEmpty(t, rec.Metadata["stored_at"])
}

func TestAddRejectsOversizedContent(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store)

	_, err := svc.Add(context.Background(), strings.Repeat("x", maxContentLength+1), "alice", nil)
	require.Error(t, err)
	assert.Equal(t, faults.BackendRejected, kindOf(t, err))
	assert.Equal(t, 0, store.count("add"))
}

func TestAddRejectsOversizedMetadata(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store)

	_, err := svc.Add(context.Background(), "hello", "alice", map[string]interface{}{
		"blob": strings.Repeat("y", maxMetadataBytes+1),
	})
	require.Error(t, err)
	assert.Equal(t, faults.BackendRejected, kindOf(t, err))
	assert.Equal(t, 0, store.count("add"))
}

func TestSearchFiltersForeignRecords(t *testing.T) {
	store := newCountingStore()
	store.records = []types.MemoryRecord{
		{ID: "a1", Content: "coffee order", UserID: "alice"},
		{ID: "b1", Content: "coffee order", UserID: "bob"},
	}
	svc := newTestService(t, store)

	// The fake leaks bob's record past the backend scope; the facade must
	// still drop it.
	records, err := svc.Search(context.Background(), "coffee", "alice", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].UserID)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store)

	_, err := svc.Search(context.Background(), "   ", "alice", 5)
	require.Error(t, err)
	assert.Equal(t, faults.BackendRejected, kindOf(t, err))
	assert.Equal(t, 0, store.count("search"))
}

func TestDeleteForeignMemoryRejected(t *testing.T) {
	store := newCountingStore()
	store.records = []types.MemoryRecord{{ID: "b1", Content: "bob's note", UserID: "bob"}}
	svc := newTestService(t, store)

	err := svc.Delete(context.Background(), "b1", "alice")
	require.Error(t, err)
	assert.Equal(t, faults.BackendRejected, kindOf(t, err))

	// Record untouched.
	left, err := svc.GetAll(context.Background(), "bob")
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestDeleteOwnMemory(t *testing.T) {
	store := newCountingStore()
	store.records = []types.MemoryRecord{{ID: "a1", Content: "note", UserID: "alice"}}
	svc := newTestService(t, store)

	require.NoError(t, svc.Delete(context.Background(), "a1", "alice"))
	left, err := svc.GetAll(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRetryableFailureIsRetriedOnce(t *testing.T) {
	store := newCountingStore()
	store.addErrs = []error{io.ErrUnexpectedEOF}
	svc := newTestService(t, store)

	rec, err := svc.Add(context.Background(), "note", "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.UserID)
	assert.Equal(t, 2, store.count("add"))
}

func TestRejectionIsNotRetried(t *testing.T) {
	store := newCountingStore()
	store.delErrs = []error{backend.ErrNotFound, nil}
	svc := newTestService(t, store)

	err := svc.Delete(context.Background(), "nope", "alice")
	require.Error(t, err)
	assert.Equal(t, faults.BackendRejected, kindOf(t, err))
	assert.Equal(t, 1, store.count("delete"))
}

func TestRetriesExhaustedSurfaceClassifiedError(t *testing.T) {
	store := newCountingStore()
	store.addErrs = []error{io.ErrUnexpectedEOF, io.ErrUnexpectedEOF, io.ErrUnexpectedEOF}
	svc := newTestService(t, store)

	_, err := svc.Add(context.Background(), "note", "alice", nil)
	require.Error(t, err)
	assert.Equal(t, faults.BackendUnavailable, kindOf(t, err))
	assert.Equal(t, opRetries+1, store.count("add"))
}

func TestReloadRejectedKeepsPriorConfig(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store)
	before := svc.Config()

	bad := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"server":{"log_level":"SHOUTING"}}`), 0o644))

	err := svc.Reload(config.Options{Path: bad, Getenv: func(string) string { return "" }})
	require.Error(t, err)
	assert.Equal(t, faults.ConfigurationInvalid, kindOf(t, err))
	assert.Same(t, before, svc.Config())
}

func TestReloadSwapsConfigAtomically(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store)

	next := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(next, []byte(`{"redis":{"collection_name":"after_reload"}}`), 0o644))

	require.NoError(t, svc.Reload(config.Options{Path: next, Getenv: func(string) string { return "" }}))
	assert.Equal(t, "after_reload", svc.Config().Redis.CollectionName)

	// The rebuilt connection layer still serves operations.
	_, err := svc.Add(context.Background(), "post-reload note", "alice", nil)
	require.NoError(t, err)
}

func TestOperationsAfterCloseFail(t *testing.T) {
	store := newCountingStore()
	svc := newTestService(t, store)
	require.NoError(t, svc.Close())

	_, err := svc.Add(context.Background(), "note", "alice", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, conn.ErrClosed) || kindOf(t, err) == faults.BackendUnavailable)
}
