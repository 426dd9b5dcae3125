package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marketcore/aggregator/internal/domain"
)

var defaultCoinPaprikaSymbols = map[domain.Symbol]string{
	"BTC": "btc-bitcoin", "ETH": "eth-ethereum", "USDT": "usdt-tether",
	"BNB": "bnb-binance-coin", "XRP": "xrp-xrp", "USDC": "usdc-usd-coin",
	"ADA": "ada-cardano", "DOGE": "doge-dogecoin", "SOL": "sol-solana",
	"DOT": "dot-polkadot", "MATIC": "matic-polygon", "LTC": "ltc-litecoin",
	"SHIB": "shib-shiba-inu", "TRX": "trx-tron", "AVAX": "avax-avalanche",
	"LINK": "link-chainlink", "ATOM": "atom-cosmos", "XLM": "xlm-stellar",
	"ETC": "etc-ethereum-classic", "XMR": "xmr-monero",
}

// CoinPaprika adapts the /v1/tickers/{id} and /v1/coins/{id}/ohlcv/historical
// endpoints. The free tier requires no key; paid tiers pass it as a query
// parameter, per spec.md §4.7.
type CoinPaprika struct {
	cfg    Config
	client *http.Client
}

func NewCoinPaprika(cfg Config, client *http.Client) *CoinPaprika {
	if cfg.Name == "" {
		cfg.Name = "coinpaprika"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.coinpaprika.com/v1"
	}
	if cfg.SymbolTable == nil {
		cfg.SymbolTable = defaultCoinPaprikaSymbols
	}
	if cfg.APIKey != "" {
		cfg.Auth = domain.AuthQueryKey
		cfg.AuthHeader = "token"
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout()}
	}
	return &CoinPaprika{cfg: cfg, client: client}
}

func (c *CoinPaprika) Name() string                        { return c.cfg.Name }
func (c *CoinPaprika) SupportsSymbol(s domain.Symbol) bool  { return c.cfg.supportsSymbol(s) }
func (c *CoinPaprika) SymbolMap(s domain.Symbol) (string, error) { return c.cfg.symbolMap(s) }
func (c *CoinPaprika) AuthKind() domain.AuthKind            { return c.cfg.Auth }
func (c *CoinPaprika) RateCost() uint32                     { return orDefaultU32(c.cfg.RateCost, 1) }
func (c *CoinPaprika) CostPerCall() float64                 { return c.cfg.CostPerCall }

type paprikaQuoteUSD struct {
	Price     float64 `json:"price"`
	Volume24h float64 `json:"volume_24h"`
	MarketCap float64 `json:"market_cap"`
	PercentChange24h float64 `json:"percent_change_24h"`
}

type paprikaTicker struct {
	LastUpdated string                     `json:"last_updated"`
	Quotes      map[string]paprikaQuoteUSD `json:"quotes"`
}

func (c *CoinPaprika) FetchCurrent(ctx context.Context, symbol domain.Symbol, currency string) (domain.RawProviderResponse, error) {
	coinID, err := c.cfg.symbolMap(symbol)
	if err != nil {
		return domain.RawProviderResponse{}, err
	}

	url := fmt.Sprintf("%s/tickers/%s?quotes=%s", c.cfg.BaseURL, coinID, currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrInternal, c.cfg.Name, "build request", err)
	}
	applyAuth(req, c.cfg)

	start := time.Now()
	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return domain.RawProviderResponse{}, classifyTransportError(c.cfg.Name, err)
	}
	defer resp.Body.Close()

	if err := classifyHTTPStatus(c.cfg.Name, resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		return domain.RawProviderResponse{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrSchema, c.cfg.Name, "read body", err)
	}

	var ticker paprikaTicker
	if err := json.Unmarshal(body, &ticker); err != nil {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrSchema, c.cfg.Name, "decode body", err)
	}

	quote, ok := ticker.Quotes[currency]
	if !ok {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrSchema, c.cfg.Name, "quote currency absent", nil)
	}
	if err := validatePrice(c.cfg.Name, quote.Price); err != nil {
		return domain.RawProviderResponse{}, err
	}

	observedAt := time.Now()
	if t, err := time.Parse(time.RFC3339, ticker.LastUpdated); err == nil {
		observedAt = t
	}
	change := quote.PercentChange24h / 100.0

	return domain.RawProviderResponse{
		Provider:      c.cfg.Name,
		Symbol:        symbol,
		PriceUSD:      quote.Price,
		Volume24h:     &quote.Volume24h,
		MarketCap:     &quote.MarketCap,
		Change24h:     &change,
		ObservedAt:    observedAt,
		RawLatencyMS:  latency.Milliseconds(),
		ProvenanceURL: url,
	}, nil
}

type paprikaOHLCVPoint struct {
	TimeOpen string  `json:"time_open"`
	Close    float64 `json:"close"`
}

func (c *CoinPaprika) FetchHistorical(ctx context.Context, symbol domain.Symbol, from, to time.Time, _ domain.Granularity) ([]domain.RawProviderResponse, error) {
	coinID, err := c.cfg.symbolMap(symbol)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/coins/%s/ohlcv/historical?start=%s&end=%s",
		c.cfg.BaseURL, coinID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewError(domain.ErrInternal, c.cfg.Name, "build request", err)
	}
	applyAuth(req, c.cfg)

	start := time.Now()
	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, classifyTransportError(c.cfg.Name, err)
	}
	defer resp.Body.Close()

	if err := classifyHTTPStatus(c.cfg.Name, resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewError(domain.ErrSchema, c.cfg.Name, "read body", err)
	}

	var points []paprikaOHLCVPoint
	if err := json.Unmarshal(body, &points); err != nil {
		return nil, domain.NewError(domain.ErrSchema, c.cfg.Name, "decode body", err)
	}

	out := make([]domain.RawProviderResponse, 0, len(points))
	for _, p := range points {
		if err := validatePrice(c.cfg.Name, p.Close); err != nil {
			continue
		}
		observedAt, err := time.Parse(time.RFC3339, p.TimeOpen)
		if err != nil {
			continue
		}
		out = append(out, domain.RawProviderResponse{
			Provider:     c.cfg.Name,
			Symbol:       symbol,
			PriceUSD:     p.Close,
			ObservedAt:   observedAt,
			RawLatencyMS: latency.Milliseconds(),
		})
	}
	return out, nil
}
