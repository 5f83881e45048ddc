// Package metacache persists minimized chain metadata between runs.
//
// The persisted store keeps one entry per chain genesis, the latest spec
// version seen. Metadata of older spec versions lives only in an in-memory
// overlay for the lifetime of the process.
package metacache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vietddude/chainwallet/internal/indexing/metrics"
)

// Entry is the persisted form of one chain's metadata.
type Entry struct {
	ChainGenesisID string `json:"chainGenesisId"`
	SpecVersion    uint32 `json:"specVersion"`
	// EncodedMetadataBlob is the base64 of the raw wire metadata.
	EncodedMetadataBlob string `json:"encodedMetadataBlob"`
}

// NewEntry encodes raw metadata into an entry.
func NewEntry(genesis string, specVersion uint32, raw []byte) Entry {
	return Entry{
		ChainGenesisID:      genesis,
		SpecVersion:         specVersion,
		EncodedMetadataBlob: base64.StdEncoding.EncodeToString(raw),
	}
}

// Metadata decodes the blob.
func (e Entry) Metadata() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(e.EncodedMetadataBlob)
	if err != nil {
		return nil, fmt.Errorf("metadata blob for %s v%d: %w", e.ChainGenesisID, e.SpecVersion, err)
	}
	return raw, nil
}

// ErrNotFound is returned by stores for an unknown genesis.
var ErrNotFound = errors.New("metadata entry not found")

// Store persists entries keyed by genesis.
type Store interface {
	Get(ctx context.Context, genesis string) (Entry, error)
	Put(ctx context.Context, entry Entry) error
	Close() error
}

type overlayKey struct {
	genesis     string
	specVersion uint32
}

// Cache combines a persisted store with the in-memory overlay.
type Cache struct {
	store Store
	log   *slog.Logger

	mu      sync.RWMutex
	overlay map[overlayKey][]byte
}

// New creates a cache over store.
func New(store Store) *Cache {
	return &Cache{
		store:   store,
		log:     slog.Default().With("component", "metacache"),
		overlay: make(map[overlayKey][]byte),
	}
}

// Get returns metadata for (genesis, specVersion).
func (c *Cache) Get(ctx context.Context, genesis string, specVersion uint32) ([]byte, bool, error) {
	c.mu.RLock()
	raw, ok := c.overlay[overlayKey{genesis, specVersion}]
	c.mu.RUnlock()
	if ok {
		metrics.MetadataCacheTotal.WithLabelValues("overlay").Inc()
		return raw, true, nil
	}

	entry, err := c.store.Get(ctx, genesis)
	if errors.Is(err, ErrNotFound) {
		metrics.MetadataCacheTotal.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load metadata for %s: %w", genesis, err)
	}
	if entry.SpecVersion != specVersion {
		metrics.MetadataCacheTotal.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	raw, err = entry.Metadata()
	if err != nil {
		return nil, false, err
	}
	metrics.MetadataCacheTotal.WithLabelValues("hit").Inc()
	return raw, true, nil
}

// Put records metadata. The latest spec version per genesis is persisted;
// anything older goes to the overlay.
func (c *Cache) Put(ctx context.Context, genesis string, specVersion uint32, raw []byte) error {
	current, err := c.store.Get(ctx, genesis)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return fmt.Errorf("load metadata for %s: %w", genesis, err)
	case current.SpecVersion > specVersion:
		c.mu.Lock()
		c.overlay[overlayKey{genesis, specVersion}] = raw
		c.mu.Unlock()
		c.log.Debug("stored non-latest metadata in overlay", "genesis", genesis, "spec_version", specVersion)
		return nil
	}

	if err := c.store.Put(ctx, NewEntry(genesis, specVersion, raw)); err != nil {
		return fmt.Errorf("persist metadata for %s: %w", genesis, err)
	}
	return nil
}

// Close closes the store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Get(_ context.Context, genesis string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[genesis]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) Put(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ChainGenesisID] = entry
	return nil
}

func (s *MemoryStore) Close() error { return nil }
