// Package ss58 encodes and decodes state-query chain account addresses.
package ss58

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrInvalidAddress  = errors.New("ss58: invalid address")
	ErrInvalidChecksum = errors.New("ss58: invalid checksum")
)

var checksumPrefix = []byte("SS58PRE")

// GenericPrefix is the network prefix of the generic substrate format.
const GenericPrefix = 42

func checksumLen(payload int) (int, error) {
	switch payload {
	case 1, 2, 4, 8:
		return 1, nil
	case 32, 33:
		return 2, nil
	}
	return 0, fmt.Errorf("%w: unsupported payload length %d", ErrInvalidAddress, payload)
}

func checksum(data []byte) []byte {
	sum := blake2b.Sum512(append(append([]byte{}, checksumPrefix...), data...))
	return sum[:]
}

// Encode returns the address of pub under network prefix.
func Encode(pub []byte, prefix uint16) (string, error) {
	if prefix >= 16384 {
		return "", fmt.Errorf("%w: prefix %d out of range", ErrInvalidAddress, prefix)
	}
	n, err := checksumLen(len(pub))
	if err != nil {
		return "", err
	}

	var data []byte
	if prefix < 64 {
		data = []byte{byte(prefix)}
	} else {
		data = []byte{
			byte((prefix&0xfc)>>2) | 0x40,
			byte(prefix>>8) | byte((prefix&0x03)<<6),
		}
	}
	data = append(data, pub...)
	data = append(data, checksum(data)[:n]...)
	return base58.Encode(data), nil
}

// Decode returns the public key and network prefix of addr.
func Decode(addr string) ([]byte, uint16, error) {
	data, err := base58.Decode(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(data) < 2 {
		return nil, 0, ErrInvalidAddress
	}

	var prefix uint16
	var prefixLen int
	switch {
	case data[0] < 64:
		prefix, prefixLen = uint16(data[0]), 1
	case data[0] < 128:
		lower := (data[0] << 2) | (data[1] >> 6)
		upper := data[1] & 0x3f
		prefix, prefixLen = uint16(lower)|uint16(upper)<<8, 2
	default:
		return nil, 0, fmt.Errorf("%w: reserved prefix byte %d", ErrInvalidAddress, data[0])
	}

	rest := len(data) - prefixLen
	var n int
	switch {
	case rest == 3 || rest == 4 || rest == 6 || rest == 10:
		n = 1
	case rest == 34 || rest == 35:
		n = 2
	default:
		return nil, 0, fmt.Errorf("%w: unexpected length %d", ErrInvalidAddress, len(data))
	}

	body := data[:len(data)-n]
	if !bytes.Equal(checksum(body)[:n], data[len(data)-n:]) {
		return nil, 0, ErrInvalidChecksum
	}
	return append([]byte{}, body[prefixLen:]...), prefix, nil
}

// PublicKey decodes addr and returns only the key, ignoring the prefix.
func PublicKey(addr string) ([]byte, error) {
	pub, _, err := Decode(addr)
	return pub, err
}

// Reencode converts addr to the format of another network prefix.
func Reencode(addr string, prefix uint16) (string, error) {
	pub, _, err := Decode(addr)
	if err != nil {
		return "", err
	}
	return Encode(pub, prefix)
}
