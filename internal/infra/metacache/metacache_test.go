package metacache

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestEntryFormat(t *testing.T) {
	e := NewEntry("0x91b1", 1002000, []byte("meta\x0f"))
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"chainGenesisId":"0x91b1","specVersion":1002000,"encodedMetadataBlob":"bWV0YQ8="}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
	raw, err := e.Metadata()
	if err != nil || !bytes.Equal(raw, []byte("meta\x0f")) {
		t.Errorf("unexpected blob %q (%v)", raw, err)
	}
}

func testCache(t *testing.T, store Store) {
	ctx := context.Background()
	c := New(store)

	if _, ok, err := c.Get(ctx, "g", 1); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := c.Put(ctx, "g", 2, []byte("v2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// An older version must not replace the persisted latest one.
	if err := c.Put(ctx, "g", 1, []byte("v1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	persisted, err := store.Get(ctx, "g")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persisted.SpecVersion != 2 {
		t.Errorf("expected v2 persisted, got v%d", persisted.SpecVersion)
	}

	for version, want := range map[uint32]string{1: "v1", 2: "v2"} {
		raw, ok, err := c.Get(ctx, "g", version)
		if err != nil || !ok || string(raw) != want {
			t.Errorf("v%d: expected %q, got %q ok=%v err=%v", version, want, raw, ok, err)
		}
	}

	// A newer version replaces the persisted entry.
	if err := c.Put(ctx, "g", 3, []byte("v3")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "g", 2); ok {
		t.Error("expected v2 to be gone after v3 was persisted")
	}
}

func TestCache_Memory(t *testing.T) {
	testCache(t, NewMemoryStore())
}

func TestCache_Badger(t *testing.T) {
	store, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()
	testCache(t, store)
}
