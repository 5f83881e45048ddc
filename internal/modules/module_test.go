package modules

import "testing"

func TestParseTransferMode(t *testing.T) {
	tests := map[string]TransferMode{
		"":            TransferKeepAlive,
		"keep-alive":  TransferKeepAlive,
		"allow-death": TransferAllowDeath,
		"all":         TransferAll,
	}
	for in, want := range tests {
		got, err := ParseTransferMode(in)
		if err != nil || got != want {
			t.Errorf("%q: got %v, %v", in, got, err)
		}
	}
	if _, err := ParseTransferMode("reap"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
