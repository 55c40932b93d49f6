package models

import (
	"fmt"
	"math/big"
)

// CompetitionAuction is the solver competition for one settled auction.
// The last solution is the on-chain winner.
type CompetitionAuction struct {
	AuctionID         int64      `json:"auctionId"`
	TransactionHash   string     `json:"transactionHash,omitempty"`
	TransactionHashes []string   `json:"transactionHashes,omitempty"`
	Auction           Auction    `json:"auction"`
	Solutions         []Solution `json:"solutions"`
}

// Auction carries the external (native) prices of the auction.
type Auction struct {
	Orders []string          `json:"orders,omitempty"`
	Prices map[string]Amount `json:"prices"`
}

// Solution is one solver's proposed settlement.
type Solution struct {
	Solver                      string            `json:"solver"`
	SolverAddress               string            `json:"solverAddress,omitempty"`
	Objective                   Objective         `json:"objective"`
	Score                       FixedPoint        `json:"score"`
	ScoreDiscounted             FixedPoint        `json:"scoreDiscounted"`
	ScoreProtocol               FixedPoint        `json:"scoreProtocol"`
	ScoreProtocolWithSolverRisk FixedPoint        `json:"scoreProtocolWithSolverRisk"`
	ClearingPrices              map[string]Amount `json:"clearingPrices"`
	Orders                      []SolutionOrder   `json:"orders"`
	CallData                    string            `json:"callData,omitempty"`
	UninternalizedCallData      string            `json:"uninternalizedCallData,omitempty"`
}

// Objective is the self-reported value of a solution, 1e18-scaled.
type Objective struct {
	Total   FixedPoint `json:"total"`
	Surplus FixedPoint `json:"surplus"`
	Fees    FixedPoint `json:"fees"`
	Cost    FixedPoint `json:"cost"`
	Gas     FixedPoint `json:"gas"`
}

// SolutionOrder is the execution of one order inside a solution.
type SolutionOrder struct {
	ID             string `json:"id"`
	SellAmount     Amount `json:"sellAmount"`
	BuyAmount      Amount `json:"buyAmount"`
	ExecutedAmount Amount `json:"executedAmount"`
}

// TxHash returns the settlement hash the competition refers to.
func (c *CompetitionAuction) TxHash() string {
	if len(c.TransactionHashes) > 0 {
		return c.TransactionHashes[0]
	}
	return c.TransactionHash
}

// Winner returns the on-chain winning solution.
func (c *CompetitionAuction) Winner() *Solution {
	if len(c.Solutions) == 0 {
		return nil
	}
	return &c.Solutions[len(c.Solutions)-1]
}

// Losers returns every solution except the winner.
func (c *CompetitionAuction) Losers() []Solution {
	if len(c.Solutions) == 0 {
		return nil
	}
	return c.Solutions[:len(c.Solutions)-1]
}

// ExternalPrices returns the auction prices keyed by lower-cased token.
func (c *CompetitionAuction) ExternalPrices() Prices {
	return PricesFrom(c.Auction.Prices)
}

// Validate checks the fields every consumer relies on.
func (c *CompetitionAuction) Validate() error {
	if len(c.Solutions) == 0 {
		return fmt.Errorf("%w: competition for %s has no solutions", ErrIntegrity, c.TxHash())
	}
	for i, s := range c.Solutions {
		if s.Solver == "" {
			return fmt.Errorf("%w: solution %d has no solver", ErrIntegrity, i)
		}
		for _, o := range s.Orders {
			if o.ID == "" || !o.SellAmount.IsSet() || !o.BuyAmount.IsSet() {
				return fmt.Errorf("%w: solution %d (%s) has an incomplete order", ErrIntegrity, i, s.Solver)
			}
		}
	}
	return nil
}

// Executions maps order UIDs to their execution in this solution. The fee is not part of
// the competition payload and is reported as zero.
func (s *Solution) Executions() map[string]OrderExecution {
	out := make(map[string]OrderExecution, len(s.Orders))
	for _, o := range s.Orders {
		out[o.ID] = OrderExecution{
			BuyAmount:  o.BuyAmount.Int(),
			SellAmount: o.SellAmount.Int(),
			FeeAmount:  new(big.Int),
		}
	}
	return out
}

// ClearingPricesByToken lower-cases the keys of the solution's clearing prices.
func (s *Solution) ClearingPricesByToken() Prices {
	return PricesFrom(s.ClearingPrices)
}

// ReferenceScore returns the score used as the second-price reference, trying the
// score fields in order of preference.
func (s *Solution) ReferenceScore() (*big.Int, bool) {
	for _, f := range []FixedPoint{s.Score, s.ScoreDiscounted, s.ScoreProtocolWithSolverRisk, s.ScoreProtocol} {
		if f.IsSet() {
			return f.Int(), true
		}
	}
	return nil, false
}
