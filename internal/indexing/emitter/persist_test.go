package emitter

import (
	"context"
	"errors"
	"testing"

	"github.com/vietddude/chainwallet/internal/core/balance"
)

type flakyRepo struct {
	saved   [][]balance.Storage
	deleted [][]string
	failing bool
}

func (r *flakyRepo) Save(ctx context.Context, items []balance.Storage) error {
	if r.failing {
		return errors.New("connection refused")
	}
	r.saved = append(r.saved, items)
	return nil
}

func (r *flakyRepo) LoadAll(ctx context.Context) ([]balance.Storage, error) { return nil, nil }

func (r *flakyRepo) Delete(ctx context.Context, ids []string) error {
	if r.failing {
		return errors.New("connection refused")
	}
	r.deleted = append(r.deleted, ids)
	return nil
}

func TestPersister_CoalescesWrites(t *testing.T) {
	repo := &flakyRepo{}
	p := NewPersister(repo, 0)

	p.Save([]balance.Storage{native("alice", "1").Storage()})
	p.Save([]balance.Storage{native("alice", "2").Storage()})
	p.Save([]balance.Storage{native("bob", "3").Storage()})
	p.Delete([]string{native("bob", "").ID()})

	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.saved) != 1 || len(repo.saved[0]) != 1 || repo.saved[0][0].Free != "2" {
		t.Fatalf("expected one save of alice=2, got %+v", repo.saved)
	}
	if len(repo.deleted) != 1 || repo.deleted[0][0] != native("bob", "").ID() {
		t.Errorf("expected bob deleted, got %+v", repo.deleted)
	}
	if p.Pending() != 0 {
		t.Errorf("expected empty buffer, got %d", p.Pending())
	}
}

func TestPersister_RequeuesOnFailure(t *testing.T) {
	repo := &flakyRepo{failing: true}
	p := NewPersister(repo, 0)
	ctx := context.Background()

	p.Save([]balance.Storage{native("alice", "1").Storage()})
	if err := p.Flush(ctx); err == nil {
		t.Fatal("expected error")
	}
	// newer write wins over the requeued one
	p.Save([]balance.Storage{native("alice", "5").Storage()})
	if p.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", p.Pending())
	}

	repo.failing = false
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.saved[0][0].Free; got != "5" {
		t.Errorf("expected 5, got %s", got)
	}
}

func TestPersister_FlushEmptyIsNoop(t *testing.T) {
	repo := &flakyRepo{}
	if err := NewPersister(repo, 0).Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.saved)+len(repo.deleted) != 0 {
		t.Error("expected no repository calls")
	}
}
