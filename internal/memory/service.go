// Package memory is the operation facade in front of the backend store.
// Every tool call passes through here: arguments are validated before any
// connection is touched, the connection is borrowed from the manager for
// exactly one operation, and every failure leaves as a classified error.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/memgate-io/memgate/internal/backend"
	"github.com/memgate-io/memgate/internal/config"
	"github.com/memgate-io/memgate/internal/conn"
	"github.com/memgate-io/memgate/internal/faults"
	"github.com/memgate-io/memgate/pkg/types"
)

const (
	maxContentLength  = 10000
	maxMetadataBytes  = 1000
	defaultSearchHits = 10
	maxSearchHits     = 100

	// opRetries is the number of extra tries after the first, taken only
	// for retryable failure kinds.
	opRetries    = 2
	retryBackoff = 200 * time.Millisecond
)

// StoreFactory builds a backend store from resolved Redis settings. It is a
// seam for tests and for Reload, which rebuilds the connection layer.
type StoreFactory func(cfg config.RedisConfig) (backend.Store, error)

// Option configures a Service.
type Option func(*Service)

// WithStoreFactory overrides how backend stores are constructed.
func WithStoreFactory(f StoreFactory) Option {
	return func(s *Service) { s.newStore = f }
}

// WithConnConfig overrides the connection manager tunables.
func WithConnConfig(cfg conn.Config) Option {
	return func(s *Service) { s.connCfg = cfg }
}

// WithRateLimit overrides the per-second operation budget.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Service) { s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// Service implements the add/get/delete memory operations over a managed
// backend connection. The resolved configuration and the connection manager
// are swapped together on reload; readers take a snapshot per operation so
// in-flight calls drain against the manager they started with.
type Service struct {
	limiter  *rate.Limiter
	newStore StoreFactory
	connCfg  conn.Config

	swap chan *generation
}

// generation is one (config, manager) pairing. Reload replaces the whole
// pair so no operation ever sees a half-swapped view.
type generation struct {
	cfg *config.Config
	mgr *conn.Manager
}

// NewService builds the facade from a resolved configuration.
func NewService(cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		limiter: rate.NewLimiter(rate.Limit(50), 100),
		newStore: func(rc config.RedisConfig) (backend.Store, error) {
			return backend.NewRedisStore(rc)
		},
		connCfg: conn.DefaultConfig(),
		swap:    make(chan *generation, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	store, err := s.newStore(cfg.Redis)
	if err != nil {
		return nil, faults.Wrap(faults.ConfigurationInvalid, "backend configuration is invalid", err)
	}
	s.swap <- &generation{cfg: cfg, mgr: conn.NewManager(store, s.connCfg)}
	return s, nil
}

// current snapshots the active generation without blocking reloads.
func (s *Service) current() *generation {
	gen := <-s.swap
	s.swap <- gen
	return gen
}

// Config returns the active resolved configuration.
func (s *Service) Config() *config.Config {
	return s.current().cfg
}

// ConnState reports the connection manager's lifecycle state.
func (s *Service) ConnState() conn.State {
	return s.current().mgr.State()
}

// Reload resolves a fresh configuration and, if it validates, swaps it in
// atomically together with a new connection manager. On any failure the
// prior configuration stays active and the error reports why the reload was
// rejected. The old manager is closed after the swap; operations that
// borrowed it beforehand finish against it.
func (s *Service) Reload(opts config.Options) error {
	cfg, err := config.Resolve(opts)
	if err != nil {
		return faults.Classify(err)
	}
	store, err := s.newStore(cfg.Redis)
	if err != nil {
		return faults.Wrap(faults.ConfigurationInvalid, "backend configuration is invalid", err)
	}

	next := &generation{cfg: cfg, mgr: conn.NewManager(store, s.connCfg)}
	prev := <-s.swap
	s.swap <- next

	log.Info("configuration reloaded",
		"redis_url", cfg.Redis.URL,
		"collection", cfg.Redis.CollectionName,
		"log_level", cfg.Server.LogLevel)

	if err := prev.mgr.Close(); err != nil {
		log.Warn("closing previous backend connection", "err", err)
	}
	return nil
}

// Close shuts down the active connection manager.
func (s *Service) Close() error {
	return s.current().mgr.Close()
}

// Add stores a memory for userID and returns the created record.
func (s *Service) Add(ctx context.Context, content, userID string, metadata map[string]interface{}) (*types.MemoryRecord, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, faults.New(faults.BackendRejected, "content must not be empty")
	}
	if len(content) > maxContentLength {
		return nil, faults.Newf(faults.BackendRejected, "content exceeds %d characters", maxContentLength)
	}
	if err := checkMetadata(metadata); err != nil {
		return nil, err
	}
	metadata = stampMetadata(metadata)

	var record *types.MemoryRecord
	err := s.do(ctx, func(ctx context.Context, store backend.Store) error {
		var opErr error
		record, opErr = store.Add(ctx, content, userID, metadata)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	if record.UserID != userID {
		log.Error("backend returned record outside caller scope", "want", userID, "got", record.UserID)
		return nil, faults.New(faults.Internal, "backend returned a record outside the requested scope")
	}
	return record, nil
}

// Search returns up to limit records for userID ranked against query. A
// limit of zero means the default page size.
func (s *Service) Search(ctx context.Context, query, userID string, limit int) ([]types.MemoryRecord, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, faults.New(faults.BackendRejected, "query must not be empty")
	}
	if limit < 0 {
		return nil, faults.New(faults.BackendRejected, "limit must not be negative")
	}
	if limit == 0 {
		limit = defaultSearchHits
	}
	if limit > maxSearchHits {
		limit = maxSearchHits
	}

	var records []types.MemoryRecord
	err := s.do(ctx, func(ctx context.Context, store backend.Store) error {
		var opErr error
		records, opErr = store.Search(ctx, query, userID, limit)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return filterScope(records, userID), nil
}

// GetAll returns every record stored for userID.
func (s *Service) GetAll(ctx context.Context, userID string) ([]types.MemoryRecord, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}

	var records []types.MemoryRecord
	err := s.do(ctx, func(ctx context.Context, store backend.Store) error {
		var opErr error
		records, opErr = store.GetAll(ctx, userID)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return filterScope(records, userID), nil
}

// Delete removes one record owned by userID. Deleting a record that does
// not exist under that user, including one owned by another user, fails
// with a rejection rather than touching it.
func (s *Service) Delete(ctx context.Context, memoryID, userID string) error {
	if err := requireUserID(userID); err != nil {
		return err
	}
	if strings.TrimSpace(memoryID) == "" {
		return faults.New(faults.BackendRejected, "memory_id must not be empty")
	}

	return s.do(ctx, func(ctx context.Context, store backend.Store) error {
		return store.Delete(ctx, memoryID, userID)
	})
}

// do runs one backend operation through the connection manager, retrying
// retryable failures up to the bounded budget. The handle is released after
// every try so transport failures degrade the connection.
func (s *Service) do(ctx context.Context, op func(ctx context.Context, store backend.Store) error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return faults.Wrap(faults.UpstreamTimeout, "operation timed out waiting for capacity", err)
	}

	gen := s.current()
	var lastErr *faults.Classified
	for try := 0; try <= opRetries; try++ {
		if try > 0 {
			select {
			case <-ctx.Done():
				return faults.Wrap(faults.UpstreamTimeout, "operation timed out", ctx.Err())
			case <-time.After(backoffStep(try)):
			}
		}

		handle, err := gen.mgr.Acquire(ctx)
		if err != nil {
			lastErr = faults.Classify(err)
			if lastErr.Retryable() {
				continue
			}
			return lastErr
		}

		opErr := op(ctx, handle.Store())
		gen.mgr.Release(handle, opErr)
		if opErr == nil {
			return nil
		}

		lastErr = faults.Classify(opErr)
		if lastErr.Kind == faults.Internal {
			log.Error("unclassified backend failure", "err", opErr)
		}
		if !lastErr.Retryable() {
			return lastErr
		}
		log.Warn("retrying backend operation", "try", try+1, "kind", string(lastErr.Kind))
	}
	return lastErr
}

func backoffStep(try int) time.Duration {
	return retryBackoff * time.Duration(try)
}

func requireUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return faults.New(faults.BackendRejected, "user_id must not be empty")
	}
	return nil
}

// checkMetadata bounds the serialized metadata size and rejects values that
// cannot round-trip through JSON.
func checkMetadata(metadata map[string]interface{}) error {
	if len(metadata) == 0 {
		return nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return faults.Wrap(faults.BackendRejected, "metadata is not serializable", err)
	}
	if len(raw) > maxMetadataBytes {
		return faults.New(faults.BackendRejected, fmt.Sprintf("metadata exceeds %d bytes", maxMetadataBytes))
	}
	return nil
}

// stampMetadata records provenance on every stored memory. Caller-supplied
// keys win over the stamps. The input map is never mutated.
func stampMetadata(metadata map[string]interface{}) map[string]interface{} {
	stamped := map[string]interface{}{
		"source":    "memgate",
		"stored_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range metadata {
		stamped[k] = v
	}
	return stamped
}

// filterScope drops any record whose owner does not match userID. The
// backend already scopes its queries; this is the last line holding the
// isolation guarantee if it ever misbehaves.
func filterScope(records []types.MemoryRecord, userID string) []types.MemoryRecord {
	out := records[:0]
	for _, r := range records {
		if r.UserID == userID {
			out = append(out, r)
		} else {
			log.Error("dropping record outside caller scope", "id", r.ID, "owner", r.UserID, "caller", userID)
		}
	}
	return out
}
