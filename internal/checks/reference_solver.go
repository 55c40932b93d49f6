package checks

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/apis"
	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/internal/surplus"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// ReferenceSolverSurplusTest re-solves every order of the winning solution in isolation
// with a reference solver, on the liquidity of the archived auction instance, and
// compares the two executions.
type ReferenceSolverSurplusTest struct {
	base
	competitions Competitions
	instances    Instances
	solver       ReferenceSolver
	rule         monitoring.Rule
}

// NewReferenceSolverSurplusTest creates the test.
func NewReferenceSolverSurplusTest(competitions Competitions, instances Instances, solver ReferenceSolver, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) *ReferenceSolverSurplusTest {
	return &ReferenceSolverSurplusTest{
		base:         newBase(NameReferenceSolverSurplus, reporter, logger),
		competitions: competitions,
		instances:    instances,
		solver:       solver,
		rule: t.surplusRule(
			monitoring.Tier{Severity: monitoring.SeverityAlert, AbsoluteDivisor: 1, RelativeDivisor: 1},
			monitoring.Tier{Severity: monitoring.SeverityInfo, AbsoluteDivisor: 10, RelativeDivisor: 10},
		),
	}
}

// Run implements monitoring.Test.
func (r *ReferenceSolverSurplusTest) Run(ctx context.Context, hash string) bool {
	competition, err := r.competitions.GetCompetitionData(ctx, hash)
	if err != nil {
		return r.retry(hash, err)
	}
	instance, err := r.instances.Get(ctx, competition.AuctionID)
	if err != nil {
		return r.retry(hash, err)
	}
	winner := competition.Winner()
	trades, err := r.winnerTrades(ctx, winner)
	if err != nil {
		return r.retry(hash, err)
	}
	prices := competition.ExternalPrices()

	for _, ut := range trades {
		reduced, err := instance.ReduceToOrder(ut.UID)
		if err != nil {
			if errors.Is(err, apis.ErrNotFound) {
				r.logger.Debug("Order missing from auction instance",
					zap.String("tx_hash", hash),
					zap.String("order_uid", ut.UID),
					zap.Int64("auction_id", instance.AuctionID))
				continue
			}
			return r.retry(hash, err)
		}
		solution, err := r.solver.Solve(ctx, reduced)
		if err != nil {
			if errors.Is(err, apis.ErrNotFound) || apis.IsClientError(err) {
				return r.skip(hash, "no reference solution",
					zap.String("order_uid", ut.UID),
					zap.Int64("auction_id", instance.AuctionID),
					zap.Error(err))
			}
			return r.retry(hash, err)
		}
		alt, err := solution.Execution()
		if err != nil {
			return r.retry(hash, err)
		}
		if !priced(alt) || !priced(ut.Trade.Execution) {
			continue
		}
		data, err := instance.OrderData(ut.UID)
		if err != nil {
			return r.retry(hash, err)
		}
		rate, err := surplus.TokenToEth(data.SurplusToken(), prices)
		if err != nil {
			return r.retry(hash, err)
		}

		atoms := surplus.CompareSurplus(alt, ut.Trade.Execution, data)
		abs := new(big.Rat).Mul(new(big.Rat).SetInt(atoms), rate)
		rel := surplus.ComparePrice(alt, ut.Trade.Execution)
		severity := r.rule.Evaluate(abs, rel)

		fields := surplusFields(hash, ut.UID, winner.Solver, "reference_solver", abs, rel, atoms)
		if severity >= monitoring.SeverityAlert {
			fields = append(fields, zap.ByteString("reference_solution", solution.Raw))
		}
		r.report(ctx, severity, "Reference solver surplus", fields...)
	}
	return true
}

// winnerTrades prefers the executions encoded in the winner's calldata, which carry
// fees, and falls back to the competition amounts.
func (r *ReferenceSolverSurplusTest) winnerTrades(ctx context.Context, winner *models.Solution) ([]apis.UIDTrade, error) {
	if winner.CallData == "" {
		return r.competitions.GetUIDTrades(ctx, winner)
	}
	settlement, err := decodeCallData(winner.CallData)
	if err != nil {
		return nil, err
	}
	trades := surplus.TradesFromSettlement(settlement)
	if len(trades) != len(winner.Orders) {
		return nil, fmt.Errorf("%w: winner calldata has %d trades for %d orders",
			models.ErrIntegrity, len(trades), len(winner.Orders))
	}
	out := make([]apis.UIDTrade, len(trades))
	for i, t := range trades {
		out[i] = apis.UIDTrade{UID: winner.Orders[i].ID, Trade: t}
	}
	return out, nil
}
