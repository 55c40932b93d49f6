package apis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Aidin1998/ebbo_monitor/internal/cache"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// Default orderbook endpoints.
const (
	OrderbookProdURL = "https://api.cow.fi/mainnet/api/v1/"
	OrderbookBarnURL = "https://barn.api.cow.fi/mainnet/api/v1/"
)

const zeroAppData = "0x0000000000000000000000000000000000000000000000000000000000000000"

var validate = validator.New()

// Orderbook reads competitions, orders and quotes from the orderbook. Every lookup tries
// the production endpoint first and falls back to barn only when production answers 404.
type Orderbook struct {
	client  *Client
	prodURL string
	barnURL string
	store   cache.Store
	group   singleflight.Group
	logger  *zap.Logger
}

// NewOrderbook creates an orderbook client. store may be nil.
func NewOrderbook(client *Client, prodURL, barnURL string, store cache.Store, logger *zap.Logger) *Orderbook {
	return &Orderbook{
		client:  client,
		prodURL: withSlash(prodURL),
		barnURL: withSlash(barnURL),
		store:   store,
		logger:  logger,
	}
}

// GetCompetitionData returns the solver competition that produced txHash.
func (o *Orderbook) GetCompetitionData(ctx context.Context, txHash string) (*models.CompetitionAuction, error) {
	body, err := o.fetch(ctx, http.MethodGet, "solver_competition/by_tx_hash/"+txHash, nil)
	if err != nil {
		return nil, err
	}
	var competition models.CompetitionAuction
	if err := decode("solver_competition", body, &competition); err != nil {
		return nil, err
	}
	if competition.TxHash() == "" {
		competition.TransactionHash = txHash
	}
	if err := competition.Validate(); err != nil {
		return nil, err
	}
	return &competition, nil
}

// GetOrder returns the order with the given UID. Orders are immutable, so answers are
// cached and concurrent lookups of the same UID share one request.
func (o *Orderbook) GetOrder(ctx context.Context, uid string) (*models.Order, error) {
	key := "order:" + strings.ToLower(uid)
	v, err, _ := o.group.Do(key, func() (interface{}, error) {
		if body, ok := o.cached(ctx, key); ok {
			return parseOrder(body)
		}
		body, err := o.fetch(ctx, http.MethodGet, "orders/"+uid, nil)
		if err != nil {
			return nil, err
		}
		order, err := parseOrder(body)
		if err != nil {
			return nil, err
		}
		if o.store != nil {
			if err := o.store.Set(ctx, key, body, 0); err != nil {
				o.logger.Warn("Failed to cache order", zap.String("order_uid", uid), zap.Error(err))
			}
		}
		return order, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Order), nil
}

// UIDTrade is one order of a solution together with its execution in that solution.
type UIDTrade struct {
	UID   string
	Trade models.Trade
}

// GetUIDTrades resolves every order of solution. The fee of the execution is zero since
// the competition payload does not carry it.
func (o *Orderbook) GetUIDTrades(ctx context.Context, solution *models.Solution) ([]UIDTrade, error) {
	executions := solution.Executions()
	trades := make([]UIDTrade, 0, len(solution.Orders))
	for _, so := range solution.Orders {
		order, err := o.GetOrder(ctx, so.ID)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", so.ID, err)
		}
		trades = append(trades, UIDTrade{
			UID:   so.ID,
			Trade: models.Trade{Data: order.Data(), Execution: executions[so.ID]},
		})
	}
	return trades, nil
}

// QuoteRequest describes a fill-or-kill quote for an executed amount.
type QuoteRequest struct {
	SellToken   string
	BuyToken    string
	Receiver    string
	IsSellOrder bool
	Amount      *big.Int
}

type quotePayload struct {
	SellToken           string `json:"sellToken"`
	BuyToken            string `json:"buyToken"`
	Receiver            string `json:"receiver"`
	From                string `json:"from"`
	AppData             string `json:"appData"`
	PartiallyFillable   bool   `json:"partiallyFillable"`
	SellTokenBalance    string `json:"sellTokenBalance"`
	BuyTokenBalance     string `json:"buyTokenBalance"`
	PriceQuality        string `json:"priceQuality"`
	SigningScheme       string `json:"signingScheme"`
	OnchainOrder        bool   `json:"onchainOrder"`
	Kind                string `json:"kind"`
	SellAmountBeforeFee string `json:"sellAmountBeforeFee,omitempty"`
	BuyAmountAfterFee   string `json:"buyAmountAfterFee,omitempty"`
}

type quoteResponse struct {
	Quote struct {
		SellAmount models.Amount `json:"sellAmount"`
		BuyAmount  models.Amount `json:"buyAmount"`
		FeeAmount  models.Amount `json:"feeAmount"`
	} `json:"quote"`
}

// GetQuote asks the orderbook how it would execute req right now.
func (o *Orderbook) GetQuote(ctx context.Context, req QuoteRequest) (models.OrderExecution, error) {
	payload := quotePayload{
		SellToken:        req.SellToken,
		BuyToken:         req.BuyToken,
		Receiver:         req.Receiver,
		From:             req.Receiver,
		AppData:          zeroAppData,
		SellTokenBalance: "erc20",
		BuyTokenBalance:  "erc20",
		PriceQuality:     "optimal",
		SigningScheme:    "eip712",
		Kind:             "buy",
	}
	if req.IsSellOrder {
		payload.Kind = "sell"
		payload.SellAmountBeforeFee = req.Amount.String()
	} else {
		payload.BuyAmountAfterFee = req.Amount.String()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return models.OrderExecution{}, fmt.Errorf("failed to encode quote request: %w", err)
	}

	body, err := o.fetch(ctx, http.MethodPost, "quote", data)
	if err != nil {
		return models.OrderExecution{}, err
	}
	var resp quoteResponse
	if err := decode("quote", body, &resp); err != nil {
		return models.OrderExecution{}, err
	}
	q := resp.Quote
	if !q.SellAmount.IsSet() || !q.BuyAmount.IsSet() || !q.FeeAmount.IsSet() {
		return models.OrderExecution{}, fmt.Errorf("%w: quote is missing amounts", models.ErrIntegrity)
	}
	return models.OrderExecution{
		BuyAmount:  q.BuyAmount.Int(),
		SellAmount: q.SellAmount.Int(),
		FeeAmount:  q.FeeAmount.Int(),
	}, nil
}

func (o *Orderbook) fetch(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	body, err := o.client.Do(ctx, method, o.prodURL+path, payload)
	if errors.Is(err, ErrNotFound) && o.barnURL != "" {
		o.logger.Debug("Falling back to barn", zap.String("path", path))
		body, err = o.client.Do(ctx, method, o.barnURL+path, payload)
	}
	return body, err
}

func (o *Orderbook) cached(ctx context.Context, key string) ([]byte, bool) {
	if o.store == nil {
		return nil, false
	}
	body, ok, err := o.store.Get(ctx, key)
	if err != nil {
		o.logger.Warn("Cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return body, ok
}

func parseOrder(body []byte) (*models.Order, error) {
	var order models.Order
	if err := decode("order", body, &order); err != nil {
		return nil, err
	}
	if err := validate.Struct(order); err != nil {
		return nil, fmt.Errorf("%w: order %s: %v", models.ErrIntegrity, order.UID, err)
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return &order, nil
}

func withSlash(u string) string {
	if u == "" || strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
