package apis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/cache"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// Default auction instance buckets.
const (
	AuctionInstanceProdURL = "https://solver-instances.s3.eu-central-1.amazonaws.com/prod/mainnet/legacy/"
	AuctionInstanceBarnURL = "https://solver-instances.s3.eu-central-1.amazonaws.com/barn/mainnet/legacy/"
)

// AuctionInstance is the liquidity snapshot solvers received for an auction. Fields the
// monitor does not interpret are kept verbatim so the instance can be forwarded to a solver.
type AuctionInstance struct {
	AuctionID int64

	raw    map[string]json.RawMessage
	orders map[string]json.RawMessage
}

type instanceOrder struct {
	ID         string        `json:"id"`
	SellToken  string        `json:"sell_token"`
	BuyToken   string        `json:"buy_token"`
	SellAmount models.Amount `json:"sell_amount"`
	BuyAmount  models.Amount `json:"buy_amount"`
	Fee        struct {
		Amount models.Amount `json:"amount"`
	} `json:"fee"`
	IsSellOrder      bool `json:"is_sell_order"`
	AllowPartialFill bool `json:"allow_partial_fill"`
}

type instanceMetadata struct {
	AuctionID json.Number `json:"auction_id"`
}

// ParseAuctionInstance decodes an instance file.
func ParseAuctionInstance(body []byte) (*AuctionInstance, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: auction instance: %v", models.ErrIntegrity, err)
	}
	inst := &AuctionInstance{raw: raw, orders: map[string]json.RawMessage{}}
	if data, ok := raw["orders"]; ok {
		if err := json.Unmarshal(data, &inst.orders); err != nil {
			return nil, fmt.Errorf("%w: auction instance orders: %v", models.ErrIntegrity, err)
		}
	}
	if data, ok := raw["metadata"]; ok {
		var meta instanceMetadata
		if err := json.Unmarshal(data, &meta); err == nil && meta.AuctionID != "" {
			id, err := strconv.ParseInt(meta.AuctionID.String(), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: auction instance id %q", models.ErrIntegrity, meta.AuctionID)
			}
			inst.AuctionID = id
		}
	}
	return inst, nil
}

// OrderCount returns the number of orders in the instance.
func (a *AuctionInstance) OrderCount() int { return len(a.orders) }

func (a *AuctionInstance) findOrder(uid string) (string, instanceOrder, error) {
	for key, data := range a.orders {
		var o instanceOrder
		if err := json.Unmarshal(data, &o); err != nil {
			return "", instanceOrder{}, fmt.Errorf("%w: auction %d order %s: %v", models.ErrIntegrity, a.AuctionID, key, err)
		}
		if strings.EqualFold(o.ID, uid) {
			return key, o, nil
		}
	}
	return "", instanceOrder{}, fmt.Errorf("uid %s not in auction instance for auction id %d: %w", uid, a.AuctionID, ErrNotFound)
}

// OrderData returns the limits of order uid as recorded in the instance.
func (a *AuctionInstance) OrderData(uid string) (models.OrderData, error) {
	_, o, err := a.findOrder(uid)
	if err != nil {
		return models.OrderData{}, err
	}
	if !o.SellAmount.IsSet() || !o.BuyAmount.IsSet() {
		return models.OrderData{}, fmt.Errorf("%w: auction %d order %s is missing amounts", models.ErrIntegrity, a.AuctionID, uid)
	}
	return models.OrderData{
		LimitBuyAmount:       o.BuyAmount.Int(),
		LimitSellAmount:      o.SellAmount.Int(),
		PrecomputedFeeAmount: o.Fee.Amount.Int(),
		BuyToken:             models.NewToken(o.BuyToken),
		SellToken:            models.NewToken(o.SellToken),
		IsSellOrder:          o.IsSellOrder,
		IsPartiallyFillable:  o.AllowPartialFill,
	}, nil
}

// ReduceToOrder returns a copy of the instance whose only order is uid. All liquidity is
// kept.
func (a *AuctionInstance) ReduceToOrder(uid string) (*AuctionInstance, error) {
	key, _, err := a.findOrder(uid)
	if err != nil {
		return nil, err
	}
	reduced := &AuctionInstance{
		AuctionID: a.AuctionID,
		raw:       make(map[string]json.RawMessage, len(a.raw)),
		orders:    map[string]json.RawMessage{key: a.orders[key]},
	}
	for k, v := range a.raw {
		reduced.raw[k] = v
	}
	return reduced, nil
}

// MarshalJSON renders the instance with its current order set.
func (a *AuctionInstance) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(a.raw)+1)
	for k, v := range a.raw {
		out[k] = v
	}
	orders, err := json.Marshal(a.orders)
	if err != nil {
		return nil, err
	}
	out["orders"] = orders
	return json.Marshal(out)
}

// AuctionInstances fetches instance files from S3, prod first, barn on 404.
type AuctionInstances struct {
	client  *Client
	prodURL string
	barnURL string
	store   cache.Store
	logger  *zap.Logger
}

// NewAuctionInstances creates the client. store may be nil.
func NewAuctionInstances(client *Client, prodURL, barnURL string, store cache.Store, logger *zap.Logger) *AuctionInstances {
	return &AuctionInstances{
		client:  client,
		prodURL: withSlash(prodURL),
		barnURL: withSlash(barnURL),
		store:   store,
		logger:  logger,
	}
}

// Get returns the instance of auctionID.
func (a *AuctionInstances) Get(ctx context.Context, auctionID int64) (*AuctionInstance, error) {
	file := strconv.FormatInt(auctionID, 10) + ".json"
	key := "instance:" + file
	if a.store != nil {
		if body, ok, err := a.store.Get(ctx, key); err != nil {
			a.logger.Warn("Cache lookup failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return ParseAuctionInstance(body)
		}
	}

	body, err := a.client.Do(ctx, http.MethodGet, a.prodURL+file, nil)
	if errors.Is(err, ErrNotFound) && a.barnURL != "" {
		body, err = a.client.Do(ctx, http.MethodGet, a.barnURL+file, nil)
	}
	if err != nil {
		return nil, err
	}

	inst, err := ParseAuctionInstance(body)
	if err != nil {
		return nil, err
	}
	if a.store != nil {
		if err := a.store.Set(ctx, key, body, 0); err != nil {
			a.logger.Warn("Failed to cache auction instance", zap.Int64("auction_id", auctionID), zap.Error(err))
		}
	}
	return inst, nil
}
