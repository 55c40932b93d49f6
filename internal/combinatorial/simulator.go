// Package combinatorial simulates how a per token pair combinatorial auction would have
// awarded a solver competition.
//
// The auction runs in four steps:
//  1. aggregate the ETH surplus of every solution per directed (sell, buy) token pair,
//  2. build a baseline per pair from solutions touching exactly one pair,
//  3. filter solutions that deliver less than the baseline on any pair they touch,
//  4. pick one batch winner and award the remaining pairs to baseline solutions.
package combinatorial

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/Aidin1998/ebbo_monitor/internal/surplus"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// Config holds the simulator heuristics.
type Config struct {
	// FeeCostRatio excludes solutions whose objective fees are below this fraction of the
	// objective cost. Nil disables the exclusion.
	FeeCostRatio *big.Rat
}

// DefaultConfig returns the historical heuristics.
func DefaultConfig() Config {
	return Config{FeeCostRatio: big.NewRat(9, 10)}
}

// SolutionInput is one solution of the competition, with its orders already resolved.
type SolutionInput struct {
	Solver    string
	Trades    []models.Trade
	Objective models.Objective
}

// BaselineEntry is the best single-pair solution on a pair.
type BaselineEntry struct {
	Surplus *big.Rat
	Index   int
}

// Filter records that the baseline solution at Index beats a solution by Deficit ETH on
// one pair.
type Filter struct {
	Index   int
	Pair    models.Pair
	Deficit *big.Rat
}

// Result is the outcome of a simulated combinatorial auction.
type Result struct {
	Solvers []string
	// Aggregates holds the ETH surplus per pair of each solution, as reported.
	Aggregates []map[models.Pair]*big.Rat
	Excluded   []bool
	Baseline   map[models.Pair]BaselineEntry
	Filters    [][]Filter
	// BatchWinner is -1 when every solution was filtered or excluded.
	BatchWinner int
	Winners     map[models.Pair]int

	CombinatorialSurplus *big.Rat
	ActualSurplus        *big.Rat

	effective []map[models.Pair]*big.Rat
}

// Aggregate sums the ETH value of each trade's surplus per directed token pair.
func Aggregate(trades []models.Trade, prices models.Prices) (map[models.Pair]*big.Rat, error) {
	out := make(map[models.Pair]*big.Rat)
	for _, t := range trades {
		s := surplus.Surplus(t.Data, t.Execution)
		eth, err := surplus.ToEthValue(s, t.Data.SurplusToken(), prices)
		if err != nil {
			return nil, err
		}
		pair := t.Data.Pair()
		if acc, ok := out[pair]; ok {
			acc.Add(acc, eth)
		} else {
			out[pair] = eth
		}
	}
	return out, nil
}

// Excluded reports whether the objective fees fall below ratio times the objective cost.
func Excluded(obj models.Objective, ratio *big.Rat) bool {
	if ratio == nil {
		return false
	}
	minFees := new(big.Rat).Mul(obj.Cost.Rat(), ratio)
	return obj.Fees.Rat().Cmp(minFees) < 0
}

// InputsFromCompetition pairs the executions of every solution with the order data of
// its orders. Executions carry no fee.
func InputsFromCompetition(c *models.CompetitionAuction, orders map[string]models.OrderData) ([]SolutionInput, error) {
	inputs := make([]SolutionInput, len(c.Solutions))
	for i := range c.Solutions {
		sol := &c.Solutions[i]
		execs := sol.Executions()
		trades := make([]models.Trade, 0, len(sol.Orders))
		for _, o := range sol.Orders {
			data, ok := orders[o.ID]
			if !ok {
				return nil, fmt.Errorf("%w: order %s of solution %d not resolved", models.ErrIntegrity, o.ID, i)
			}
			trades = append(trades, models.Trade{Data: data, Execution: execs[o.ID]})
		}
		inputs[i] = SolutionInput{Solver: sol.Solver, Trades: trades, Objective: sol.Objective}
	}
	return inputs, nil
}

// Simulate runs the auction over the solutions of one competition. The last solution is the
// on-chain winner.
func Simulate(inputs []SolutionInput, prices models.Prices, cfg Config) (*Result, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: competition without solutions", models.ErrIntegrity)
	}
	solvers := make([]string, len(inputs))
	aggregates := make([]map[models.Pair]*big.Rat, len(inputs))
	excluded := make([]bool, len(inputs))
	for i, in := range inputs {
		agg, err := Aggregate(in.Trades, prices)
		if err != nil {
			return nil, fmt.Errorf("solution %d (%s): %w", i, in.Solver, err)
		}
		solvers[i] = in.Solver
		aggregates[i] = agg
		excluded[i] = Excluded(in.Objective, cfg.FeeCostRatio)
	}
	return SimulateAggregates(solvers, aggregates, excluded), nil
}

// SimulateAggregates runs steps 2 to 4 on precomputed aggregates. Excluded solutions keep
// their pairs but count zero surplus on each of them and cannot win the batch.
func SimulateAggregates(solvers []string, aggregates []map[models.Pair]*big.Rat, excluded []bool) *Result {
	if len(excluded) != len(aggregates) {
		padded := make([]bool, len(aggregates))
		copy(padded, excluded)
		excluded = padded
	}
	r := &Result{
		Solvers:    solvers,
		Aggregates: aggregates,
		Excluded:   excluded,
	}

	r.effective = make([]map[models.Pair]*big.Rat, len(aggregates))
	for i, agg := range aggregates {
		if excluded[i] {
			zeroed := make(map[models.Pair]*big.Rat, len(agg))
			for pair := range agg {
				zeroed[pair] = new(big.Rat)
			}
			r.effective[i] = zeroed
			continue
		}
		r.effective[i] = agg
	}

	r.Baseline = baseline(r.effective)
	r.Filters = filter(r.effective, r.Baseline)
	r.BatchWinner = r.batchWinner()
	r.Winners = r.award()

	r.CombinatorialSurplus = new(big.Rat)
	for pair, idx := range r.Winners {
		r.CombinatorialSurplus.Add(r.CombinatorialSurplus, r.effective[idx][pair])
	}
	r.ActualSurplus = total(aggregates[len(aggregates)-1])
	return r
}

func baseline(aggregates []map[models.Pair]*big.Rat) map[models.Pair]BaselineEntry {
	out := make(map[models.Pair]BaselineEntry)
	for i, agg := range aggregates {
		if len(agg) != 1 {
			continue
		}
		for pair, s := range agg {
			best := new(big.Rat)
			if prev, ok := out[pair]; ok {
				best = prev.Surplus
			}
			if s.Cmp(best) > 0 {
				out[pair] = BaselineEntry{Surplus: s, Index: i}
			}
		}
	}
	return out
}

func filter(aggregates []map[models.Pair]*big.Rat, base map[models.Pair]BaselineEntry) [][]Filter {
	out := make([][]Filter, len(aggregates))
	for i, agg := range aggregates {
		for _, pair := range SortedPairs(agg) {
			ref, ok := base[pair]
			if !ok {
				continue
			}
			if s := agg[pair]; s.Cmp(ref.Surplus) < 0 {
				out[i] = append(out[i], Filter{
					Index:   ref.Index,
					Pair:    pair,
					Deficit: new(big.Rat).Sub(ref.Surplus, s),
				})
			}
		}
	}
	return out
}

func (r *Result) batchWinner() int {
	for i := len(r.effective) - 1; i >= 0; i-- {
		if len(r.Filters[i]) == 0 && !r.Excluded[i] {
			return i
		}
	}
	return -1
}

func (r *Result) award() map[models.Pair]int {
	out := make(map[models.Pair]int)
	if r.BatchWinner >= 0 {
		for pair := range r.effective[r.BatchWinner] {
			out[pair] = r.BatchWinner
		}
	}
	for pair, entry := range r.Baseline {
		if _, ok := out[pair]; !ok {
			out[pair] = entry.Index
		}
	}
	if r.BatchWinner < 0 {
		// Pairs nobody else can take stay with the on-chain winner.
		last := len(r.effective) - 1
		for pair := range r.effective[last] {
			if _, ok := out[pair]; !ok {
				out[pair] = last
			}
		}
	}
	return out
}

// Gap returns the combinatorial surplus minus the actual surplus, in ETH.
func (r *Result) Gap() *big.Rat {
	return new(big.Rat).Sub(r.CombinatorialSurplus, r.ActualSurplus)
}

// WinnerFilters returns the filter entries of the on-chain winner.
func (r *Result) WinnerFilters() []Filter {
	return r.Filters[len(r.Filters)-1]
}

// FilteringSolvers returns the solvers whose baseline solutions filtered the winner.
func (r *Result) FilteringSolvers() []string {
	var out []string
	seen := make(map[int]bool)
	for _, f := range r.WinnerFilters() {
		if !seen[f.Index] {
			seen[f.Index] = true
			out = append(out, r.Solvers[f.Index])
		}
	}
	return out
}

// WinningSolvers groups the awarded pairs and their surplus by solver.
func (r *Result) WinningSolvers() map[string]map[models.Pair]*big.Rat {
	out := make(map[string]map[models.Pair]*big.Rat)
	for pair, idx := range r.Winners {
		solver := r.Solvers[idx]
		if out[solver] == nil {
			out[solver] = make(map[models.Pair]*big.Rat)
		}
		out[solver][pair] = r.effective[idx][pair]
	}
	return out
}

// SortedPairs returns the keys of m in a stable order.
func SortedPairs[V any](m map[models.Pair]V) []models.Pair {
	pairs := make([]models.Pair, 0, len(m))
	for p := range m {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Less(pairs[j]) })
	return pairs
}

func total(agg map[models.Pair]*big.Rat) *big.Rat {
	sum := new(big.Rat)
	for _, s := range agg {
		sum.Add(sum, s)
	}
	return sum
}
