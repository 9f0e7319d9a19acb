package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/memgate-io/memgate/internal/config"
	"github.com/memgate-io/memgate/pkg/types"
)

// RedisStore implements Store against a Redis-compatible server.
//
// Layout: each record is a hash at <collection>:<id>; the set
// <collection>:user:<user_id> indexes the ids belonging to one user. The
// per-user index is what enforces the isolation guarantee: every read path
// starts from the caller's index set and can never observe another user's
// records. Similarity ranking beyond what the server provides is kept to
// simple lexical overlap; semantic indexing belongs to the backend, not here.
type RedisStore struct {
	client     *redis.Client
	collection string
}

// NewRedisStore builds a client from the resolved redis section. The client
// is lazy: no connection is made until the first command, so construction
// never blocks. Reachability is the connection manager's concern, via Ping.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse redis url: %w", err)
	}
	opts.DB = cfg.DB
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second
	// Reconnect pacing is handled by the connection manager's backoff, not
	// by the client's internal retries.
	opts.MaxRetries = -1

	return &RedisStore{
		client:     redis.NewClient(opts),
		collection: cfg.CollectionName,
	}, nil
}

func (s *RedisStore) recordKey(id string) string {
	return fmt.Sprintf("%s:%s", s.collection, id)
}

func (s *RedisStore) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", s.collection, userID)
}

// Add stores the record and indexes it under the owner in one pipeline.
func (s *RedisStore) Add(ctx context.Context, content, userID string, metadata map[string]interface{}) (*types.MemoryRecord, error) {
	record := &types.MemoryRecord{
		ID:        uuid.NewString(),
		Content:   content,
		UserID:    userID,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	metaJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return nil, fmt.Errorf("backend: encode metadata: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.recordKey(record.ID), map[string]interface{}{
			"content":    record.Content,
			"user_id":    record.UserID,
			"metadata":   string(metaJSON),
			"created_at": record.CreatedAt.Format(time.RFC3339Nano),
		})
		pipe.SAdd(ctx, s.userKey(userID), record.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backend: store record: %w", err)
	}

	return record, nil
}

// GetAll reads every record indexed under userID. Ids whose hash has
// disappeared are dropped from the index rather than surfaced as errors.
func (s *RedisStore) GetAll(ctx context.Context, userID string) ([]types.MemoryRecord, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("backend: read user index: %w", err)
	}

	records := make([]types.MemoryRecord, 0, len(ids))
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("backend: read record %s: %w", id, err)
		}
		if len(fields) == 0 {
			// Stale index entry.
			if err := s.client.SRem(ctx, s.userKey(userID), id).Err(); err != nil {
				log.Warn("failed to prune stale index entry", "id", id, "err", err)
			}
			continue
		}
		records = append(records, decodeRecord(id, fields))
	}
	return records, nil
}

// Search ranks the user's records by lexical overlap with the query and
// returns the top limit matches. Records with no overlap are omitted.
func (s *RedisStore) Search(ctx context.Context, query, userID string, limit int) ([]types.MemoryRecord, error) {
	records, err := s.GetAll(ctx, userID)
	if err != nil {
		return nil, err
	}

	terms := tokenize(query)
	matched := records[:0]
	for i := range records {
		score := overlapScore(terms, tokenize(records[i].Content))
		if score > 0 {
			records[i].Score = score
			matched = append(matched, records[i])
		}
	}

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Score > matched[j].Score })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Delete removes the record and its index entry. A record that is not in the
// user's partition reports ErrNotFound without touching anything.
func (s *RedisStore) Delete(ctx context.Context, memoryID, userID string) error {
	owned, err := s.client.SIsMember(ctx, s.userKey(userID), memoryID).Result()
	if err != nil {
		return fmt.Errorf("backend: check ownership: %w", err)
	}
	if !owned {
		return ErrNotFound
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(memoryID))
		pipe.SRem(ctx, s.userKey(userID), memoryID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("backend: delete record %s: %w", memoryID, err)
	}
	return nil
}

// Ping verifies the server answers within the context deadline.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client's connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// decodeRecord rebuilds a MemoryRecord from its hash fields. Unparseable
// metadata or timestamps degrade to zero values rather than failing a read.
func decodeRecord(id string, fields map[string]string) types.MemoryRecord {
	record := types.MemoryRecord{
		ID:      id,
		Content: fields["content"],
		UserID:  fields["user_id"],
	}
	if raw := fields["metadata"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &record.Metadata)
	}
	if raw := fields["created_at"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			record.CreatedAt = ts
		}
	}
	return record
}

func tokenize(text string) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()[]{}")
		if word != "" {
			tokens[word] = struct{}{}
		}
	}
	return tokens
}

// overlapScore is the fraction of query terms present in the content.
func overlapScore(query, content map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for term := range query {
		if _, ok := content[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
