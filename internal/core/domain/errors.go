package domain

import "errors"

var (
	// ErrNotFound is returned for an unknown chain, network, token or genesis hash.
	ErrNotFound = errors.New("not found")
	// ErrProtocolMismatch is returned when an item is routed to a module that
	// does not own its protocol tag.
	ErrProtocolMismatch = errors.New("protocol mismatch")
	// ErrDecode is returned when raw bytes do not match the expected shape.
	ErrDecode = errors.New("decode failed")
	// ErrConstruction is returned when a transaction cannot be built.
	ErrConstruction = errors.New("construction failed")
)
