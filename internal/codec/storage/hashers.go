package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
)

// Twox returns the xxhash64 digest of data repeated over n seeds, each
// written little endian (n=2 is twox128, n=4 is twox256).
func Twox(data []byte, n int) []byte {
	out := make([]byte, 0, 8*n)
	for seed := 0; seed < n; seed++ {
		h := xxhash.NewWithSeed(uint64(seed))
		_, _ = h.Write(data)
		out = binary.LittleEndian.AppendUint64(out, h.Sum64())
	}
	return out
}

// Blake2 returns the blake2b digest of data with the given size in bytes.
func Blake2(data []byte, size int) []byte {
	h, err := blake2b.New(size, nil)
	if err != nil {
		panic(err)
	}
	h.Write(data)
	return h.Sum(nil)
}

// Hash applies a storage hasher to an encoded key argument.
func Hash(h metadata.Hasher, data []byte) ([]byte, error) {
	switch h {
	case metadata.HasherBlake2_128:
		return Blake2(data, 16), nil
	case metadata.HasherBlake2_256:
		return Blake2(data, 32), nil
	case metadata.HasherBlake2_128Concat:
		return append(Blake2(data, 16), data...), nil
	case metadata.HasherTwox128:
		return Twox(data, 2), nil
	case metadata.HasherTwox256:
		return Twox(data, 4), nil
	case metadata.HasherTwox64Concat:
		return append(Twox(data, 1), data...), nil
	case metadata.HasherIdentity:
		return append([]byte{}, data...), nil
	}
	return nil, fmt.Errorf("storage: unknown hasher %d", h)
}

// Prefix returns twox128(pallet) ++ twox128(item).
func Prefix(pallet, item string) []byte {
	return append(Twox([]byte(pallet), 2), Twox([]byte(item), 2)...)
}
