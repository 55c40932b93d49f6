package apis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

const instanceJSON = `{
  "tokens": {"0xaaa": {"decimals": 18}},
  "orders": {
    "0": {"id": "0x01", "sell_token": "0xAAA", "buy_token": "0xbbb", "sell_amount": "1000", "buy_amount": "900",
          "fee": {"amount": "5", "token": "0xaaa"}, "is_sell_order": true, "allow_partial_fill": false},
    "1": {"id": "0x02", "sell_token": "0xbbb", "buy_token": "0xaaa", "sell_amount": "10", "buy_amount": "20",
          "fee": {"amount": "0", "token": "0xbbb"}, "is_sell_order": false, "allow_partial_fill": true}
  },
  "amms": {"0xpool": {"kind": "ConstantProduct"}},
  "metadata": {"auction_id": 8123, "environment": "prod"}
}`

func TestParseAuctionInstance(t *testing.T) {
	inst, err := ParseAuctionInstance([]byte(instanceJSON))
	require.NoError(t, err)
	assert.EqualValues(t, 8123, inst.AuctionID)
	assert.Equal(t, 2, inst.OrderCount())

	data, err := inst.OrderData("0x02")
	require.NoError(t, err)
	assert.False(t, data.IsSellOrder)
	assert.True(t, data.IsPartiallyFillable)
	assert.Equal(t, models.Token("0xbbb"), data.SellToken)
	assert.Equal(t, "20", data.LimitBuyAmount.String())

	_, err = inst.OrderData("0x03")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ParseAuctionInstance([]byte(`[1,2]`))
	assert.ErrorIs(t, err, models.ErrIntegrity)
}

func TestAuctionInstance_ReduceToOrder(t *testing.T) {
	inst, err := ParseAuctionInstance([]byte(instanceJSON))
	require.NoError(t, err)

	reduced, err := inst.ReduceToOrder("0x01")
	require.NoError(t, err)
	assert.Equal(t, 1, reduced.OrderCount())
	assert.Equal(t, 2, inst.OrderCount(), "the original instance is untouched")

	raw, err := json.Marshal(reduced)
	require.NoError(t, err)
	var decoded map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded["orders"], "0")
	assert.NotContains(t, decoded["orders"], "1")
	assert.Contains(t, decoded["amms"], "0xpool")
	assert.EqualValues(t, 8123, decoded["metadata"]["auction_id"])

	data, err := reduced.OrderData("0x01")
	require.NoError(t, err)
	assert.True(t, data.IsSellOrder)
	assert.Equal(t, "5", data.PrecomputedFeeAmount.String())

	_, err = inst.ReduceToOrder("0x09")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuctionInstances_FallbackAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/barn/8123.json" {
			_, _ = w.Write([]byte(instanceJSON))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := newMemStore()
	api := NewAuctionInstances(newTestClient("auction_instance"), srv.URL+"/prod", srv.URL+"/barn", store, zap.NewNop())

	inst, err := api.Get(context.Background(), 8123)
	require.NoError(t, err)
	assert.EqualValues(t, 8123, inst.AuctionID)
	assert.EqualValues(t, 2, hits.Load())

	inst, err = api.Get(context.Background(), 8123)
	require.NoError(t, err)
	assert.Equal(t, 2, inst.OrderCount())
	assert.EqualValues(t, 2, hits.Load())

	_, err = api.Get(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}
