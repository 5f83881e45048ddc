package domain

import "strings"

// Source is the protocol tag of a balance module.
type Source string

const (
	SourceSubstrateNative      Source = "substrate-native"
	SourceSubstrateTokens      Source = "substrate-tokens"
	SourceSubstrateEquilibrium Source = "substrate-equilibrium"
	SourceEvmNative            Source = "evm-native"
	SourceEvmErc20             Source = "evm-erc20"
)

// Sources lists every supported protocol tag.
var Sources = []Source{
	SourceSubstrateNative,
	SourceSubstrateTokens,
	SourceSubstrateEquilibrium,
	SourceEvmNative,
	SourceEvmErc20,
}

// Family returns the chain family the source runs on.
func (s Source) Family() Family {
	switch s {
	case SourceEvmNative, SourceEvmErc20:
		return FamilyEVM
	}
	return FamilySubstrate
}

// Valid reports whether s is a known protocol tag.
func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

// MakeTokenID builds the id of a token: chainRef-source for native tokens,
// chainRef-source-suffix otherwise. The suffix is lowercased.
func MakeTokenID(chainRef string, source Source, suffix string) TokenID {
	if suffix == "" {
		return TokenID(chainRef + "-" + string(source))
	}
	return TokenID(chainRef + "-" + string(source) + "-" + strings.ToLower(suffix))
}
