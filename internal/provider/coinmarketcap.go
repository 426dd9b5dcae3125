package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/marketcore/aggregator/internal/domain"
)

var cmcKeyPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// ValidateCoinMarketCapKey enforces spec.md §4.7's format rule: 32 lowercase
// hex characters.
func ValidateCoinMarketCapKey(key string) bool {
	return cmcKeyPattern.MatchString(key)
}

var defaultCMCSymbols = map[domain.Symbol]string{
	"BTC": "BTC", "ETH": "ETH", "USDT": "USDT", "BNB": "BNB", "XRP": "XRP",
	"USDC": "USDC", "ADA": "ADA", "DOGE": "DOGE", "SOL": "SOL", "DOT": "DOT",
	"MATIC": "MATIC", "LTC": "LTC", "SHIB": "SHIB", "TRX": "TRX", "AVAX": "AVAX",
	"LINK": "LINK", "ATOM": "ATOM", "XLM": "XLM", "ETC": "ETC", "XMR": "XMR",
}

// CoinMarketCap adapts the CMC /v2/cryptocurrency/quotes/latest endpoint.
type CoinMarketCap struct {
	cfg    Config
	client *http.Client
}

func NewCoinMarketCap(cfg Config, client *http.Client) *CoinMarketCap {
	if cfg.Name == "" {
		cfg.Name = "coinmarketcap"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://pro-api.coinmarketcap.com/v2"
	}
	if cfg.SymbolTable == nil {
		cfg.SymbolTable = defaultCMCSymbols
	}
	cfg.Auth = domain.AuthHeaderKey
	cfg.AuthHeader = "X-CMC_PRO_API_KEY"
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout()}
	}
	return &CoinMarketCap{cfg: cfg, client: client}
}

func (c *CoinMarketCap) Name() string                        { return c.cfg.Name }
func (c *CoinMarketCap) SupportsSymbol(s domain.Symbol) bool  { return c.cfg.supportsSymbol(s) }
func (c *CoinMarketCap) SymbolMap(s domain.Symbol) (string, error) { return c.cfg.symbolMap(s) }
func (c *CoinMarketCap) AuthKind() domain.AuthKind            { return c.cfg.Auth }
func (c *CoinMarketCap) RateCost() uint32                     { return orDefaultU32(c.cfg.RateCost, 1) }
func (c *CoinMarketCap) CostPerCall() float64                 { return c.cfg.CostPerCall }

type cmcQuote struct {
	Price       float64 `json:"price"`
	Volume24h   float64 `json:"volume_24h"`
	MarketCap   float64 `json:"market_cap"`
	PercentChange24h float64 `json:"percent_change_24h"`
	LastUpdated string  `json:"last_updated"`
}

type cmcCoinData struct {
	Quote map[string]cmcQuote `json:"quote"`
}

type cmcResponse struct {
	Data map[string][]cmcCoinData `json:"data"`
}

func (c *CoinMarketCap) FetchCurrent(ctx context.Context, symbol domain.Symbol, currency string) (domain.RawProviderResponse, error) {
	ticker, err := c.cfg.symbolMap(symbol)
	if err != nil {
		return domain.RawProviderResponse{}, err
	}

	url := fmt.Sprintf("%s/cryptocurrency/quotes/latest?symbol=%s&convert=%s", c.cfg.BaseURL, ticker, currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrInternal, c.cfg.Name, "build request", err)
	}
	applyAuth(req, c.cfg)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return domain.RawProviderResponse{}, classifyTransportError(c.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrAuthInvalid, c.cfg.Name, "invalid API key", nil)
	}
	if err := classifyHTTPStatus(c.cfg.Name, resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		return domain.RawProviderResponse{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrSchema, c.cfg.Name, "read body", err)
	}

	var decoded cmcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrSchema, c.cfg.Name, "decode body", err)
	}

	coins, ok := decoded.Data[ticker]
	if !ok || len(coins) == 0 {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrSchema, c.cfg.Name, "symbol absent from response", nil)
	}
	quote, ok := coins[0].Quote[currency]
	if !ok {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrSchema, c.cfg.Name, "quote currency absent", nil)
	}
	if err := validatePrice(c.cfg.Name, quote.Price); err != nil {
		return domain.RawProviderResponse{}, err
	}

	observedAt := time.Now()
	if t, err := time.Parse(time.RFC3339, quote.LastUpdated); err == nil {
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

// FetchHistorical uses the /v2/cryptocurrency/quotes/historical endpoint.
// CMC's historical quotes require a paid tier; callers without access get
// a PermanentClient error surfaced from classifyHTTPStatus like any other
// 4xx, which the resilience engine does not retry; GetHistorical then
// moves on to the next ranked provider.
func (c *CoinMarketCap) FetchHistorical(ctx context.Context, symbol domain.Symbol, from, to time.Time, gran domain.Granularity) ([]domain.RawProviderResponse, error) {
	ticker, err := c.cfg.symbolMap(symbol)
	if err != nil {
		return nil, err
	}

	interval := "1h"
	if gran == domain.GranularityDay {
		interval = "1d"
	} else if gran == domain.GranularityMinute {
		interval = "5m"
	}

	url := fmt.Sprintf("%s/cryptocurrency/quotes/historical?symbol=%s&time_start=%d&time_end=%d&interval=%s",
		c.cfg.BaseURL, ticker, from.Unix(), to.Unix(), interval)
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

	type quotePoint struct {
		Timestamp string              `json:"timestamp"`
		Quote     map[string]cmcQuote `json:"quote"`
	}
	type historicalData struct {
		Quotes []quotePoint `json:"quotes"`
	}
	var decoded struct {
		Data map[string]historicalData `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, domain.NewError(domain.ErrSchema, c.cfg.Name, "decode body", err)
	}

	series, ok := decoded.Data[ticker]
	if !ok {
		return nil, domain.NewError(domain.ErrSchema, c.cfg.Name, "symbol absent from response", nil)
	}

	out := make([]domain.RawProviderResponse, 0, len(series.Quotes))
	for _, point := range series.Quotes {
		q, ok := point.Quote["USD"]
		if !ok {
			continue
		}
		if err := validatePrice(c.cfg.Name, q.Price); err != nil {
			continue
		}
		observedAt, err := time.Parse(time.RFC3339, point.Timestamp)
		if err != nil {
			continue
		}
		out = append(out, domain.RawProviderResponse{
			Provider:     c.cfg.Name,
			Symbol:       symbol,
			PriceUSD:     q.Price,
			ObservedAt:   observedAt,
			RawLatencyMS: latency.Milliseconds(),
		})
	}
	return out, nil
}
