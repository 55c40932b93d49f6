package checks

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Aidin1998/ebbo_monitor/internal/apis"
	"github.com/Aidin1998/ebbo_monitor/internal/chain"
	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

var errUnavailable = errors.New("connection reset")

const (
	tokenA = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	tokenB = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	tokenC = "0x6b175474e89094c44da98b954eedeac495271d0f"
	tokenD = "0xdac17f958d2ee523a2206206994597c13d831ec7"
	trader = "0x00000000000000000000000000000000000000aa"
)

type finding struct {
	Test     string
	Severity monitoring.Severity
	Msg      string
	Fields   map[string]interface{}
}

type recordingReporter struct {
	mu       sync.Mutex
	findings []finding
}

func (r *recordingReporter) Report(_ context.Context, test string, severity monitoring.Severity, msg string, fields ...zap.Field) {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findings = append(r.findings, finding{Test: test, Severity: severity, Msg: msg, Fields: enc.Fields})
}

func (r *recordingReporter) only(t *testing.T) finding {
	t.Helper()
	require.Len(t, r.findings, 1)
	return r.findings[0]
}

type fakeCompetitions struct {
	competition *models.CompetitionAuction
	err         error
	// trades by solver name
	trades   map[string][]apis.UIDTrade
	tradeErr error
	quote    models.OrderExecution
	quoteErr error
	quotes   []apis.QuoteRequest
}

func (f *fakeCompetitions) GetCompetitionData(context.Context, string) (*models.CompetitionAuction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.competition, nil
}

func (f *fakeCompetitions) GetUIDTrades(_ context.Context, s *models.Solution) ([]apis.UIDTrade, error) {
	if f.tradeErr != nil {
		return nil, f.tradeErr
	}
	return f.trades[s.Solver], nil
}

func (f *fakeCompetitions) GetQuote(_ context.Context, req apis.QuoteRequest) (models.OrderExecution, error) {
	f.quotes = append(f.quotes, req)
	if f.quoteErr != nil {
		return models.OrderExecution{}, f.quoteErr
	}
	return f.quote.Clone(), nil
}

type fakeChain struct {
	tx         *chain.Transaction
	txErr      error
	receipt    *chain.Receipt
	gasPrice   *big.Int
	heads      []uint64
	logSums    map[string]*big.Int
	logQueries []uint64
	commitment common.Hash
	owners     []common.Address
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	if len(f.heads) == 0 {
		return 0, errUnavailable
	}
	head := f.heads[0]
	if len(f.heads) > 1 {
		f.heads = f.heads[1:]
	}
	return head, nil
}

func (f *fakeChain) Transaction(context.Context, string) (*chain.Transaction, error) {
	if f.txErr != nil {
		return nil, f.txErr
	}
	return f.tx, nil
}

func (f *fakeChain) Receipt(context.Context, string) (*chain.Receipt, error) {
	if f.receipt == nil {
		return nil, chain.ErrNotFound
	}
	return f.receipt, nil
}

func (f *fakeChain) GasPrice(context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeChain) LogDataSum(_ context.Context, from, _ uint64, target, _ string) (*big.Int, error) {
	f.logQueries = append(f.logQueries, from)
	sum, ok := f.logSums[target]
	if !ok {
		return nil, errUnavailable
	}
	return sum, nil
}

func (f *fakeChain) Commitment(_ context.Context, _, owner common.Address) (common.Hash, error) {
	f.owners = append(f.owners, owner)
	return f.commitment, nil
}

func order(isSell, partial bool, sellToken, buyToken string, limitSell, limitBuy int64) models.OrderData {
	return models.OrderData{
		LimitSellAmount:      big.NewInt(limitSell),
		LimitBuyAmount:       big.NewInt(limitBuy),
		PrecomputedFeeAmount: new(big.Int),
		SellToken:            models.NewToken(sellToken),
		BuyToken:             models.NewToken(buyToken),
		IsSellOrder:          isSell,
		IsPartiallyFillable:  partial,
	}
}

func solutionOrder(uid string, sell, buy int64) models.SolutionOrder {
	return models.SolutionOrder{
		ID:         uid,
		SellAmount: models.NewAmount(big.NewInt(sell)),
		BuyAmount:  models.NewAmount(big.NewInt(buy)),
	}
}

// ethPerAtom prices a token at one ETH per atom.
var ethPerAtom = models.NewAmount(models.PriceScale)

// settleCalldata packs a settle() call over tokens A and B at equal prices.
func settleCalldata(t *testing.T, flags int64, executed int64, fee int64, pre []chain.SettleInteraction) []byte {
	t.Helper()
	data, err := chain.SettlementABI.Pack("settle",
		[]common.Address{common.HexToAddress(tokenA), common.HexToAddress(tokenB)},
		[]*big.Int{big.NewInt(1), big.NewInt(1)},
		[]chain.SettleTrade{{
			SellTokenIndex: big.NewInt(0),
			BuyTokenIndex:  big.NewInt(1),
			Receiver:       common.HexToAddress(trader),
			SellAmount:     big.NewInt(executed),
			BuyAmount:      big.NewInt(executed / 2),
			FeeAmount:      big.NewInt(fee),
			Flags:          big.NewInt(flags),
			ExecutedAmount: big.NewInt(executed),
			Signature:      []byte{},
		}},
		[3][]chain.SettleInteraction{pre, {}, {}},
	)
	require.NoError(t, err)
	return data
}

func nopLogger() *zap.Logger { return zap.NewNop() }
