package tvl

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// SupportedTokensFunc returns the full allow-list of token addresses counted
// toward TVL on the target chain. It is read once per computation, before
// discovery begins.
type SupportedTokensFunc func(ctx context.Context) ([]common.Address, error)

// TokenSet is an immutable membership set over token addresses.
// common.Address is canonical bytes, so membership is case-insensitive by
// construction.
type TokenSet struct {
	members map[common.Address]struct{}
}

// NewTokenSet builds a TokenSet from a list of addresses. Duplicates collapse.
func NewTokenSet(tokens []common.Address) *TokenSet {
	members := make(map[common.Address]struct{}, len(tokens))
	for _, token := range tokens {
		members[token] = struct{}{}
	}
	return &TokenSet{members: members}
}

// Contains reports whether token is in the set.
func (s *TokenSet) Contains(token common.Address) bool {
	_, ok := s.members[token]
	return ok
}

// Len returns the number of distinct tokens in the set.
func (s *TokenSet) Len() int {
	return len(s.members)
}
