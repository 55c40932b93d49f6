package checks

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
)

// Test names, in the order the daemon registers them.
const (
	NameSolverCompetitionSurplus = "solver_competition_surplus"
	NameReferenceSolverSurplus   = "reference_solver_surplus"
	NameCombinatorialAuction     = "combinatorial_auction_surplus"
	NameUniformDirectedPrices    = "uniform_directed_prices"
	NamePartialFillFeeQuote      = "partial_fill_fee_quote"
	NamePartialFillCostCoverage  = "partial_fill_cost_coverage"
	NameCostCoveragePerSolver    = "cost_coverage_per_solver"
	NameCoWAMMCommitment         = "cowamm_commitment"
	NameTokenImbalances          = "token_imbalances"
	NamePriceSensitivity         = "price_sensitivity"
	NameHighScore                = "high_score"
	NameMEVBlockerKickbacks      = "mev_blocker_kickbacks"
	NameBuffersMonitoring        = "buffers_monitoring"
)

// AllNames lists every test.
func AllNames() []string {
	return []string{
		NameSolverCompetitionSurplus,
		NameReferenceSolverSurplus,
		NameCombinatorialAuction,
		NameUniformDirectedPrices,
		NamePartialFillFeeQuote,
		NamePartialFillCostCoverage,
		NameCostCoveragePerSolver,
		NameCoWAMMCommitment,
		NameTokenImbalances,
		NamePriceSensitivity,
		NameHighScore,
		NameMEVBlockerKickbacks,
		NameBuffersMonitoring,
	}
}

// Deps bundles the upstream clients. A nil client disables the tests that need it.
type Deps struct {
	Orderbook interface {
		Competitions
		Quoter
	}
	Chain              Chain
	Instances          Instances
	Solver             ReferenceSolver
	Tracer             Tracer
	Holdings           Holdings
	TokenList          TokenList
	USDPricer          USDPricer
	SettlementContract string
	CoWAMMHelper       string
}

// Build creates the named tests. Tests whose dependencies are missing are left out with
// a warning; unknown names are an error.
func Build(names []string, deps Deps, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) ([]monitoring.Test, error) {
	tests := make([]monitoring.Test, 0, len(names))
	for _, name := range names {
		test, missing, err := build(name, deps, t, reporter, logger)
		if err != nil {
			return nil, err
		}
		if test == nil {
			logger.Warn("Test disabled, dependency not configured",
				zap.String("test", name),
				zap.String("missing", missing))
			continue
		}
		tests = append(tests, test)
	}
	return tests, nil
}

func build(name string, d Deps, t Thresholds, reporter monitoring.Reporter, logger *zap.Logger) (monitoring.Test, string, error) {
	ob := d.Orderbook
	switch name {
	case NameSolverCompetitionSurplus:
		if ob == nil {
			return nil, "orderbook", nil
		}
		return NewSolverCompetitionSurplusTest(ob, t, reporter, logger), "", nil
	case NameReferenceSolverSurplus:
		if ob == nil || d.Instances == nil || d.Solver == nil {
			return nil, "orderbook, auction instances or reference solver", nil
		}
		return NewReferenceSolverSurplusTest(ob, d.Instances, d.Solver, t, reporter, logger), "", nil
	case NameCombinatorialAuction:
		if ob == nil {
			return nil, "orderbook", nil
		}
		return NewCombinatorialAuctionSurplusTest(ob, t, reporter, logger), "", nil
	case NameUniformDirectedPrices:
		if ob == nil {
			return nil, "orderbook", nil
		}
		return NewUniformDirectedPricesTest(ob, t, reporter, logger), "", nil
	case NamePartialFillFeeQuote:
		if ob == nil || d.Chain == nil {
			return nil, "orderbook or chain", nil
		}
		return NewPartialFillFeeQuoteTest(d.Chain, ob, t, reporter, logger), "", nil
	case NamePartialFillCostCoverage:
		if ob == nil || d.Chain == nil {
			return nil, "orderbook or chain", nil
		}
		return NewPartialFillCostCoverageTest(d.Chain, ob, t, reporter, logger), "", nil
	case NameCostCoveragePerSolver:
		if ob == nil || d.Chain == nil {
			return nil, "orderbook or chain", nil
		}
		return NewCostCoveragePerSolverTest(d.Chain, ob, t, reporter, logger), "", nil
	case NameCoWAMMCommitment:
		if d.Chain == nil {
			return nil, "chain", nil
		}
		return NewCoWAMMCommitmentTest(d.Chain, d.CoWAMMHelper, reporter, logger), "", nil
	case NameTokenImbalances:
		if ob == nil || d.Chain == nil || d.Tracer == nil {
			return nil, "orderbook, chain or tenderly", nil
		}
		return NewTokenImbalancesTest(d.Chain, d.Tracer, ob, d.SettlementContract, t, reporter, logger), "", nil
	case NamePriceSensitivity:
		if ob == nil {
			return nil, "orderbook", nil
		}
		return NewPriceSensitivityTest(ob, t, reporter, logger), "", nil
	case NameHighScore:
		if ob == nil {
			return nil, "orderbook", nil
		}
		return NewHighScoreTest(ob, t, reporter, logger), "", nil
	case NameMEVBlockerKickbacks:
		if d.Chain == nil || len(t.KickbackAddresses) == 0 {
			return nil, "chain or kickback addresses", nil
		}
		return NewMEVBlockerKickbacksTest(d.Chain, t, reporter, logger), "", nil
	case NameBuffersMonitoring:
		if d.Holdings == nil || d.TokenList == nil || d.USDPricer == nil {
			return nil, "ethplorer, token lists or coingecko", nil
		}
		return NewBuffersMonitoringTest(d.SettlementContract, d.Holdings, d.TokenList, d.USDPricer, t, reporter, logger), "", nil
	default:
		return nil, "", fmt.Errorf("unknown test %q", name)
	}
}
