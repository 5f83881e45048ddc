package memory

import (
	"context"
	"testing"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
)

func raw(address, free string) balance.Storage {
	return balance.Storage{
		Source:  domain.SourceSubstrateNative,
		Status:  balance.StatusLive,
		Address: address,
		ChainID: "polkadot",
		TokenID: "polkadot-substrate-native",
		Free:    free,
	}
}

func TestBalanceRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewBalanceRepo(NewMemoryStorage())

	if err := repo.Save(ctx, []balance.Storage{raw("alice", "1"), raw("bob", "2")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.Save(ctx, []balance.Storage{raw("alice", "3")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 || all[0].Address != "alice" || all[0].Free != "3" {
		t.Fatalf("expected upsert by id, got %+v", all)
	}

	if err := repo.Delete(ctx, []string{raw("bob", "").ID()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all, _ = repo.LoadAll(ctx)
	if len(all) != 1 {
		t.Errorf("expected 1 balance after delete, got %d", len(all))
	}
}

func TestAccountRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepo(NewMemoryStorage())

	if err := repo.Save(ctx, domain.Account{Address: "alice", Hardware: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, err := repo.GetByAddress(ctx, "alice")
	if err != nil || a == nil || !a.Hardware {
		t.Fatalf("expected hardware account, got %+v (%v)", a, err)
	}
	missing, err := repo.GetByAddress(ctx, "bob")
	if err != nil || missing != nil {
		t.Errorf("expected nil for an unknown account, got %+v (%v)", missing, err)
	}
	all, _ := repo.GetAll(ctx)
	if len(all) != 1 {
		t.Errorf("expected 1 account, got %d", len(all))
	}
}
