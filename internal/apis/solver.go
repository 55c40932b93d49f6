package apis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// SolverSolution is the answer of the reference solver. Only the executed orders are
// interpreted.
type SolverSolution struct {
	Orders map[string]SolverOrder `json:"orders"`
	Raw    json.RawMessage        `json:"-"`
}

// SolverOrder is the execution of one order in a solver answer.
type SolverOrder struct {
	ExecBuyAmount  models.Amount `json:"exec_buy_amount"`
	ExecSellAmount models.Amount `json:"exec_sell_amount"`
	ExecFeeAmount  models.Amount `json:"exec_fee_amount"`
	Fee            struct {
		Amount models.Amount `json:"amount"`
	} `json:"fee"`
}

// Execution returns the execution of the single order of the solution. A solution without
// orders yields the trivial execution.
func (s *SolverSolution) Execution() (models.OrderExecution, error) {
	switch len(s.Orders) {
	case 0:
		return models.ExecutionFromInt64(0, 0, 0), nil
	case 1:
		for _, o := range s.Orders {
			if !o.ExecBuyAmount.IsSet() || !o.ExecSellAmount.IsSet() {
				return models.OrderExecution{}, fmt.Errorf("%w: solver order is missing executed amounts", models.ErrIntegrity)
			}
			fee := o.ExecFeeAmount
			if !fee.IsSet() {
				fee = o.Fee.Amount
			}
			return models.OrderExecution{
				BuyAmount:  o.ExecBuyAmount.Int(),
				SellAmount: o.ExecSellAmount.Int(),
				FeeAmount:  fee.Int(),
			}, nil
		}
	}
	return models.OrderExecution{}, fmt.Errorf("%w: unexpected number of orders in solution: %d", models.ErrIntegrity, len(s.Orders))
}

// Solver calls an HTTP solver with auction instances.
type Solver struct {
	client    *Client
	baseURL   string
	timeLimit int
	logger    *zap.Logger
}

// NewSolver creates the client. The client's timeout must leave room for timeLimit
// seconds of solving.
func NewSolver(client *Client, baseURL string, timeLimit int, logger *zap.Logger) *Solver {
	return &Solver{
		client:    client,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		timeLimit: timeLimit,
		logger:    logger,
	}
}

// Enabled reports whether a solver URL is configured.
func (s *Solver) Enabled() bool { return s.baseURL != "" }

// Solve posts instance to the solver.
func (s *Solver) Solve(ctx context.Context, instance *AuctionInstance) (*SolverSolution, error) {
	q := url.Values{}
	q.Set("time_limit", strconv.Itoa(s.timeLimit))
	q.Set("use_internal_buffers", "false")
	q.Set("objective", "surplusfeescosts")
	endpoint := s.baseURL + "/solve?" + q.Encode()

	payload, err := json.Marshal(instance)
	if err != nil {
		return nil, fmt.Errorf("failed to encode auction %d: %w", instance.AuctionID, err)
	}
	body, err := s.client.Do(ctx, "POST", endpoint, payload)
	if err != nil {
		return nil, err
	}
	var solution SolverSolution
	if err := decode(endpoint, body, &solution); err != nil {
		return nil, err
	}
	solution.Raw = body
	s.logger.Debug("Reference solution received",
		zap.Int64("auction_id", instance.AuctionID),
		zap.Int("orders", len(solution.Orders)))
	return &solution, nil
}
