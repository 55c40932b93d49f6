package checks

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/apis"
	"github.com/Aidin1998/ebbo_monitor/internal/chain"
	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/internal/surplus"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// TokenImbalancesTest reconciles the token flows of the settlement contract during a
// settlement: what traders sold and bought against what actually entered and left the
// contract. Whatever remains is an imbalance absorbed by the contract's buffers.
type TokenImbalancesTest struct {
	base
	chain        Chain
	tracer       Tracer
	competitions Competitions
	contract     string
	rule         monitoring.Rule
}

// NewTokenImbalancesTest creates the test for the settlement contract at contract.
func NewTokenImbalancesTest(c Chain, tracer Tracer, competitions Competitions, contract string, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) *TokenImbalancesTest {
	if contract == "" {
		contract = chain.SettlementContract
	}
	return &TokenImbalancesTest{
		base:         newBase(NameTokenImbalances, reporter, logger),
		chain:        c,
		tracer:       tracer,
		competitions: competitions,
		contract:     strings.ToLower(contract),
		rule: monitoring.Rule{
			Absolute:     t.TokenImbalanceETH,
			UseMagnitude: true,
			Tiers: []monitoring.Tier{
				{Severity: monitoring.SeverityAlert, AbsoluteDivisor: 1},
				{Severity: monitoring.SeverityInfo, AbsoluteDivisor: 10},
			},
		},
	}
}

// Run implements monitoring.Test.
func (t *TokenImbalancesTest) Run(ctx context.Context, hash string) bool {
	_, settlement, err := loadSettlement(ctx, t.chain, hash)
	if err != nil {
		return t.finish(hash, err)
	}
	trace, err := t.tracer.TraceTransaction(ctx, hash)
	if err != nil {
		return t.retry(hash, err)
	}
	imbalances, err := t.Imbalances(settlement, trace)
	if err != nil {
		return t.retry(hash, err)
	}

	var prices models.Prices
	competition, err := t.competitions.GetCompetitionData(ctx, hash)
	switch {
	case err == nil:
		prices = competition.ExternalPrices()
	case errors.Is(err, apis.ErrNotFound):
		t.logger.Debug("No competition for settlement, imbalances stay unpriced", zap.String("tx_hash", hash))
	default:
		return t.retry(hash, err)
	}

	tokens := make([]models.Token, 0, len(imbalances))
	for token, amount := range imbalances {
		if amount.Sign() != 0 {
			tokens = append(tokens, token)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	for _, token := range tokens {
		amount := imbalances[token]
		fields := []zap.Field{
			zap.String("tx_hash", hash),
			zap.String("token", token.String()),
			zap.Stringer("imbalance_atoms", amount),
		}
		eth, err := imbalanceValue(token, amount, prices)
		if err != nil {
			t.report(ctx, monitoring.SeverityInfo, "Unpriced token imbalance", fields...)
			continue
		}
		fields = append(fields, ethField("imbalance_eth", eth))
		t.report(ctx, t.rule.Evaluate(eth, nil), "Token imbalance", fields...)
	}
	return true
}

// Imbalances returns the net amount per token that the settlement left in (positive) or
// took from (negative) the settlement contract beyond what its trades account for.
func (t *TokenImbalancesTest) Imbalances(settlement *models.Settlement, trace *chain.Trace) (map[models.Token]*big.Int, error) {
	events, err := trace.TradeEvents()
	if err != nil {
		return nil, err
	}
	transfers, err := trace.TransfersOf(t.contract)
	if err != nil {
		return nil, err
	}

	traders := make(map[string]struct{})
	for _, trade := range settlement.Trades {
		traders[strings.ToLower(trade.Receiver)] = struct{}{}
	}
	for _, e := range events {
		traders[e.Owner] = struct{}{}
	}

	out := make(map[models.Token]*big.Int)
	add := func(token models.Token, delta *big.Int) {
		if acc, ok := out[token]; ok {
			acc.Add(acc, delta)
			return
		}
		out[token] = new(big.Int).Set(delta)
	}

	for _, e := range events {
		add(e.SellToken, new(big.Int).Sub(e.SellAmount, e.FeeAmount))
		add(e.BuyToken, new(big.Int).Neg(e.BuyAmount))
	}

	for _, tr := range transfers {
		from, to := strings.ToLower(tr.From), strings.ToLower(tr.To)
		if t.isTrader(traders, from) || t.isTrader(traders, to) {
			continue
		}
		// Self-transfers of the contract are covered by Trade events.
		if from == t.contract && to == t.contract {
			continue
		}
		atoms, err := tr.Atoms()
		if err != nil {
			return nil, err
		}
		if from == t.contract {
			atoms.Neg(atoms)
		}
		add(tr.Token(), atoms)
	}
	return out, nil
}

func (t *TokenImbalancesTest) isTrader(traders map[string]struct{}, address string) bool {
	if address == t.contract {
		return false
	}
	_, ok := traders[address]
	return ok
}

func imbalanceValue(token models.Token, amount *big.Int, prices models.Prices) (*big.Rat, error) {
	if token == chain.NativeToken {
		return surplus.WeiToEth(amount), nil
	}
	return surplus.ToEthValue(amount, token, prices)
}
