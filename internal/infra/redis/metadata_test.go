package redis

import "testing"

func TestMetadataRepoKey(t *testing.T) {
	r := NewMetadataRepo(&Client{}, "")
	if got := r.key("0x91b1"); got != "chainwallet:metadata:0x91b1" {
		t.Errorf("unexpected key %s", got)
	}
	r = NewMetadataRepo(&Client{}, "staging")
	if got := r.key("0x91b1"); got != "staging:metadata:0x91b1" {
		t.Errorf("unexpected key %s", got)
	}
}
