package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/chainwallet/internal/infra/metacache"
)

// MetadataRepo implements metacache.Store using Redis.
type MetadataRepo struct {
	client *Client
	prefix string
}

// NewMetadataRepo creates a Redis-backed metadata store. Keys are
// namespaced by prefix so several deployments can share one Redis.
func NewMetadataRepo(client *Client, prefix string) *MetadataRepo {
	if prefix == "" {
		prefix = "chainwallet"
	}
	return &MetadataRepo{client: client, prefix: prefix}
}

func (r *MetadataRepo) key(genesis string) string {
	return fmt.Sprintf("%s:metadata:%s", r.prefix, genesis)
}

// Get returns the persisted entry for genesis.
func (r *MetadataRepo) Get(ctx context.Context, genesis string) (metacache.Entry, error) {
	data, err := r.client.rdb.Get(ctx, r.key(genesis)).Bytes()
	if errors.Is(err, redis.Nil) {
		return metacache.Entry{}, metacache.ErrNotFound
	}
	if err != nil {
		return metacache.Entry{}, fmt.Errorf("get metadata entry: %w", err)
	}

	var entry metacache.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return metacache.Entry{}, fmt.Errorf("failed to unmarshal metadata entry: %w", err)
	}
	return entry, nil
}

// Put stores entry without expiry; it is replaced when the chain upgrades.
func (r *MetadataRepo) Put(ctx context.Context, entry metacache.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata entry: %w", err)
	}
	if err := r.client.rdb.Set(ctx, r.key(entry.ChainGenesisID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set metadata entry: %w", err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner.
func (r *MetadataRepo) Close() error { return nil }
