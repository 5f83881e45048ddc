package metadata_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
	"github.com/vietddude/chainwallet/internal/codec/metadata/metadatatest"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	fixtures := map[string]*metadata.Metadata{
		"native v14":  metadatatest.Native(14),
		"native v15":  metadatatest.Native(15),
		"tokens":      metadatatest.Tokens(),
		"equilibrium": metadatatest.Equilibrium(),
	}

	for name, m := range fixtures {
		t.Run(name, func(t *testing.T) {
			blob := m.Encode()
			decoded, err := metadata.Decode(blob)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if decoded.Version != m.Version {
				t.Errorf("expected version %d, got %d", m.Version, decoded.Version)
			}
			if decoded.Registry.Len() != m.Registry.Len() {
				t.Errorf("expected %d types, got %d", m.Registry.Len(), decoded.Registry.Len())
			}
			if !bytes.Equal(decoded.Encode(), blob) {
				t.Error("re-encoded metadata differs from original blob")
			}
		})
	}
}

func TestDecodeV14RecoversExtrinsicTypes(t *testing.T) {
	m := metadatatest.Native(14)
	decoded, err := metadata.Decode(m.Encode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Extrinsic.AddressType != m.Extrinsic.AddressType {
		t.Errorf("expected address type %d, got %d", m.Extrinsic.AddressType, decoded.Extrinsic.AddressType)
	}
	if decoded.Extrinsic.SignatureType != m.Extrinsic.SignatureType {
		t.Errorf("expected signature type %d, got %d", m.Extrinsic.SignatureType, decoded.Extrinsic.SignatureType)
	}
	if len(decoded.Extrinsic.SignedExtensions) != 8 {
		t.Errorf("expected 8 signed extensions, got %d", len(decoded.Extrinsic.SignedExtensions))
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	if _, err := metadata.Decode([]byte("nope!")); err == nil {
		t.Error("expected error for missing magic")
	}

	blob := metadatatest.Native(15).Encode()
	blob[4] = 13
	if _, err := metadata.Decode(blob); !errors.Is(err, metadata.ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}

	truncated := metadatatest.Native(15).Encode()
	if _, err := metadata.Decode(truncated[:len(truncated)/2]); err == nil {
		t.Error("expected error for truncated metadata")
	}
}

func TestLookups(t *testing.T) {
	m := metadatatest.Tokens()

	if _, entry, ok := m.StorageEntry("Tokens", "Accounts"); !ok || len(entry.Hashers) != 2 {
		t.Fatalf("expected Tokens.Accounts with 2 hashers, got %+v", entry)
	}
	if _, _, ok := m.StorageEntry("Tokens", "Missing"); ok {
		t.Error("expected missing storage entry")
	}
	if c, ok := m.Constant("Balances", "ExistentialDeposit"); !ok || len(c.Value) != 16 {
		t.Errorf("expected 16-byte existential deposit, got %+v", c)
	}
	if _, ok := m.APIMethod("TransactionPaymentApi", "query_info"); !ok {
		t.Error("expected TransactionPaymentApi.query_info")
	}
}

func TestMinimize(t *testing.T) {
	full := metadatatest.Tokens()
	mini := metadata.Minimize(full, metadata.Keep{
		Pallets: []metadata.Selection{
			{Pallet: "System", Items: []string{"Account"}},
			{Pallet: "Balances", Calls: true, Constants: []string{"ExistentialDeposit"}},
		},
		APIs:      []string{"TransactionPaymentApi"},
		Extrinsic: true,
	})

	if mini.Registry.Len() >= full.Registry.Len() {
		t.Errorf("expected fewer types, got %d of %d", mini.Registry.Len(), full.Registry.Len())
	}
	if _, ok := mini.Pallet("Tokens"); ok {
		t.Error("expected Tokens pallet to be dropped")
	}
	_, entry, ok := mini.StorageEntry("System", "Account")
	if !ok {
		t.Fatal("expected System.Account to survive")
	}
	if _, ok := mini.Registry.Lookup(entry.Value); !ok {
		t.Error("expected System.Account value type to survive")
	}
	if p, _ := mini.Pallet("Balances"); p == nil || p.Calls == nil || p.Index != metadatatest.BalancesIndex {
		t.Errorf("expected Balances calls with index %d, got %+v", metadatatest.BalancesIndex, p)
	}

	decoded, err := metadata.Decode(mini.Encode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Registry.Len() != mini.Registry.Len() {
		t.Errorf("expected %d types after round trip, got %d", mini.Registry.Len(), decoded.Registry.Len())
	}
}

func TestMergeSelections(t *testing.T) {
	merged := metadata.MergeSelections(
		[]metadata.Selection{
			{Pallet: "System", Items: []string{"Account"}},
			{Pallet: "Balances", Calls: true, Constants: []string{"ExistentialDeposit"}},
		},
		[]metadata.Selection{
			{Pallet: "Tokens", Items: []string{"Accounts"}},
			{Pallet: "Balances", Constants: []string{"ExistentialDeposit"}},
			{Pallet: "System", Items: []string{"Account", "Number"}},
		},
	)

	if len(merged) != 3 {
		t.Fatalf("expected 3 pallets, got %+v", merged)
	}
	if merged[0].Pallet != "System" || len(merged[0].Items) != 2 {
		t.Errorf("unexpected system selection %+v", merged[0])
	}
	if !merged[1].Calls || len(merged[1].Constants) != 1 {
		t.Errorf("unexpected balances selection %+v", merged[1])
	}
	if merged[2].Pallet != "Tokens" {
		t.Errorf("expected tokens last, got %s", merged[2].Pallet)
	}
}
