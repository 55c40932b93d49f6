package apis

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

// Default price and token list endpoints.
const (
	CoingeckoURL = "https://api.coingecko.com/api/v3"
	EthplorerURL = "https://api.ethplorer.io"
)

// DefaultTokenLists are tried in order.
var DefaultTokenLists = []string{
	"http://t2crtokens.eth.link",
	"https://tokens.1inch.eth.link",
	"https://tokenlist.aave.eth.link",
}

// Coingecko reads USD token prices.
type Coingecko struct {
	client  *Client
	baseURL string
}

// NewCoingecko creates the client.
func NewCoingecko(client *Client, baseURL string) *Coingecko {
	return &Coingecko{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// TokenPriceUSD returns the USD price of the token at address.
func (c *Coingecko) TokenPriceUSD(ctx context.Context, address string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("contract_addresses", address)
	q.Set("vs_currencies", "usd")
	endpoint := c.baseURL + "/simple/token_price/ethereum?" + q.Encode()

	var resp map[string]struct {
		USD *decimal.Decimal `json:"usd"`
	}
	if err := c.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return decimal.Zero, err
	}
	for token, price := range resp {
		if strings.EqualFold(token, address) && price.USD != nil {
			return *price.USD, nil
		}
	}
	return decimal.Zero, fmt.Errorf("no coingecko price for %s: %w", address, ErrNotFound)
}

// TokenLists returns a curated set of token addresses.
type TokenLists struct {
	client *Client
	urls   []string
	logger *zap.Logger
}

// NewTokenLists creates the client. The lists are tried in the given order.
func NewTokenLists(client *Client, urls []string, logger *zap.Logger) *TokenLists {
	return &TokenLists{client: client, urls: urls, logger: logger}
}

// Tokens returns the lower-cased addresses of the first list that yields at least one
// address.
func (t *TokenLists) Tokens(ctx context.Context) (map[models.Token]struct{}, error) {
	var lastErr error
	for _, u := range t.urls {
		var list struct {
			Tokens []struct {
				Address string `json:"address"`
			} `json:"tokens"`
		}
		if err := t.client.GetJSON(ctx, u, &list); err != nil {
			t.logger.Warn("Failed to fetch token list", zap.String("url", u), zap.Error(err))
			lastErr = err
			continue
		}
		tokens := make(map[models.Token]struct{}, len(list.Tokens))
		for _, tok := range list.Tokens {
			if tok.Address != "" {
				tokens[models.NewToken(tok.Address)] = struct{}{}
			}
		}
		if len(tokens) > 0 {
			return tokens, nil
		}
	}
	if lastErr == nil {
		lastErr = ErrNotFound
	}
	return nil, fmt.Errorf("no usable token list: %w", lastErr)
}

// Ethplorer reads token holdings of an address.
type Ethplorer struct {
	client  *Client
	baseURL string
	apiKey  string
}

// NewEthplorer creates the client.
func NewEthplorer(client *Client, baseURL, apiKey string) *Ethplorer {
	if apiKey == "" {
		apiKey = "freekey"
	}
	return &Ethplorer{client: client, baseURL: strings.TrimSuffix(baseURL, "/"), apiKey: apiKey}
}

// TokenHolding is one token balance of an address.
type TokenHolding struct {
	Token    models.Token
	Symbol   string
	Decimals int32
	// Balance is in atoms.
	Balance decimal.Decimal
	// PriceUSD is nil when ethplorer has no price for the token.
	PriceUSD *decimal.Decimal
}

// Units returns the balance in whole tokens.
func (h TokenHolding) Units() decimal.Decimal {
	return h.Balance.Shift(-h.Decimals)
}

type ethplorerPrice struct {
	Rate *decimal.Decimal
}

// UnmarshalJSON accepts false for "no price".
func (p *ethplorerPrice) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("false")) || bytes.Equal(data, []byte("null")) {
		p.Rate = nil
		return nil
	}
	var v struct {
		Rate *decimal.Decimal `json:"rate"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	p.Rate = v.Rate
	return nil
}

type flexInt int32

// UnmarshalJSON accepts "18" and 18.
func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// AddressTokens returns the token holdings of address.
func (e *Ethplorer) AddressTokens(ctx context.Context, address string) ([]TokenHolding, error) {
	endpoint := fmt.Sprintf("%s/getAddressInfo/%s?apiKey=%s", e.baseURL, address, url.QueryEscape(e.apiKey))
	var resp struct {
		Tokens *[]struct {
			TokenInfo struct {
				Address  string         `json:"address"`
				Symbol   string         `json:"symbol"`
				Decimals flexInt        `json:"decimals"`
				Price    ethplorerPrice `json:"price"`
			} `json:"tokenInfo"`
			Balance    decimal.Decimal `json:"balance"`
			RawBalance string          `json:"rawBalance"`
		} `json:"tokens"`
	}
	if err := e.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	if resp.Tokens == nil {
		return nil, fmt.Errorf("%w: ethplorer answer for %s has no tokens", models.ErrIntegrity, address)
	}

	holdings := make([]TokenHolding, 0, len(*resp.Tokens))
	for _, t := range *resp.Tokens {
		balance := t.Balance
		if t.RawBalance != "" {
			if raw, err := decimal.NewFromString(t.RawBalance); err == nil {
				balance = raw
			}
		}
		holdings = append(holdings, TokenHolding{
			Token:    models.NewToken(t.TokenInfo.Address),
			Symbol:   t.TokenInfo.Symbol,
			Decimals: int32(t.TokenInfo.Decimals),
			Balance:  balance,
			PriceUSD: t.TokenInfo.Price.Rate,
		})
	}
	return holdings, nil
}
