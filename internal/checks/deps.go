// Package checks implements the monitoring tests run by the daemon against every
// settlement hash.
//
// Each test is constructed with the upstream clients it needs and satisfies
// monitoring.Test. Run returns false when upstream data is not available yet or is
// malformed, and true once the hash has been evaluated or found not applicable.
package checks

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/ebbo_monitor/internal/apis"
	"github.com/Aidin1998/ebbo_monitor/internal/chain"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// Competitions fetches solver competitions and the orders they settle.
type Competitions interface {
	GetCompetitionData(ctx context.Context, txHash string) (*models.CompetitionAuction, error)
	GetUIDTrades(ctx context.Context, solution *models.Solution) ([]apis.UIDTrade, error)
}

// Quoter prices an order at the current market.
type Quoter interface {
	GetQuote(ctx context.Context, req apis.QuoteRequest) (models.OrderExecution, error)
}

// Chain is the read-only view of the node used by the tests.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Transaction(ctx context.Context, hash string) (*chain.Transaction, error)
	Receipt(ctx context.Context, hash string) (*chain.Receipt, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	LogDataSum(ctx context.Context, from, to uint64, target, topic string) (*big.Int, error)
	Commitment(ctx context.Context, helper, owner common.Address) (common.Hash, error)
}

// Instances fetches archived auction instances.
type Instances interface {
	Get(ctx context.Context, auctionID int64) (*apis.AuctionInstance, error)
}

// ReferenceSolver solves reduced auction instances.
type ReferenceSolver interface {
	Solve(ctx context.Context, instance *apis.AuctionInstance) (*apis.SolverSolution, error)
}

// Tracer returns execution traces of mined transactions.
type Tracer interface {
	TraceTransaction(ctx context.Context, hash string) (*chain.Trace, error)
}

// USDPricer prices a token in USD.
type USDPricer interface {
	TokenPriceUSD(ctx context.Context, address string) (decimal.Decimal, error)
}

// TokenList returns the curated set of tokens.
type TokenList interface {
	Tokens(ctx context.Context) (map[models.Token]struct{}, error)
}

// Holdings lists the token balances of an address.
type Holdings interface {
	AddressTokens(ctx context.Context, address string) ([]apis.TokenHolding, error)
}
