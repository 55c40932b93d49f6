package models

import (
	"fmt"
	"math/big"
	"strings"
)

// Token is a lower-cased hex address, usable as a map key.
type Token string

// NewToken normalizes an address string.
func NewToken(address string) Token {
	return Token(strings.ToLower(strings.TrimSpace(address)))
}

func (t Token) String() string { return string(t) }

// Pair is a directed sell -> buy token pair.
type Pair struct {
	Sell Token
	Buy  Token
}

func (p Pair) String() string {
	return fmt.Sprintf("(%s, %s)", p.Sell, p.Buy)
}

// Less orders pairs lexicographically by sell then buy token.
func (p Pair) Less(o Pair) bool {
	if p.Sell != o.Sell {
		return p.Sell < o.Sell
	}
	return p.Buy < o.Buy
}

// Prices maps tokens to their external price. price/10^36 is ETH per atom.
type Prices map[Token]*big.Int

// PricesFrom lower-cases the keys of a wire-level price map.
func PricesFrom(raw map[string]Amount) Prices {
	out := make(Prices, len(raw))
	for k, v := range raw {
		if v.IsSet() {
			out[NewToken(k)] = v.Int()
		}
	}
	return out
}

// MissingPriceError is returned when a token has no external price.
type MissingPriceError struct {
	Token Token
}

func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("missing external price for token %s", e.Token)
}
