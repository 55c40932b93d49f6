package models

import (
	"fmt"
	"math/big"
)

// Trade flag bits as encoded by the settlement contract.
const (
	FlagBuyOrder          uint8 = 1 << 0
	FlagPartiallyFillable uint8 = 1 << 1
)

// Settlement represents a decoded settle() call.
type Settlement struct {
	Tokens         []Token
	ClearingPrices []*big.Int
	Trades         []SettlementTrade
	// Interactions holds the pre, intra and post settlement interactions.
	Interactions [3][]Interaction
}

// SettlementTrade is a single trade of a settlement, referring to tokens by index.
type SettlementTrade struct {
	SellTokenIndex       int
	BuyTokenIndex        int
	Receiver             string
	LimitSellAmount      *big.Int
	LimitBuyAmount       *big.Int
	PrecomputedFeeAmount *big.Int
	ExecutedAmount       *big.Int
	Flags                uint8
}

// IsSellOrder reports whether flag bit 0 is unset.
func (t SettlementTrade) IsSellOrder() bool { return t.Flags&FlagBuyOrder == 0 }

// IsPartiallyFillable reports whether flag bit 1 is set.
func (t SettlementTrade) IsPartiallyFillable() bool { return t.Flags&FlagPartiallyFillable != 0 }

// Interaction is an arbitrary contract call executed during a settlement.
type Interaction struct {
	Target   Token
	Value    *big.Int
	CallData []byte
}

// Validate checks the index invariants of the settlement.
func (s *Settlement) Validate() error {
	if len(s.Tokens) != len(s.ClearingPrices) {
		return fmt.Errorf("%w: %d tokens but %d clearing prices", ErrIntegrity, len(s.Tokens), len(s.ClearingPrices))
	}
	for i, t := range s.Trades {
		if t.SellTokenIndex < 0 || t.SellTokenIndex >= len(s.Tokens) ||
			t.BuyTokenIndex < 0 || t.BuyTokenIndex >= len(s.Tokens) {
			return fmt.Errorf("%w: trade %d refers to a token outside the settlement", ErrIntegrity, i)
		}
	}
	return nil
}

// TokenIndex returns the first index of token, or -1.
func (s *Settlement) TokenIndex(token Token) int {
	for i, t := range s.Tokens {
		if t == token {
			return i
		}
	}
	return -1
}
