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

// defaultCoinGeckoSymbols mirrors the common ticker->coin-id mapping used
// throughout the pack (e.g. radmickey-money-control's CoinGecko client);
// operators can override/extend it via Config.SymbolTable.
var defaultCoinGeckoSymbols = map[domain.Symbol]string{
	"BTC": "bitcoin", "ETH": "ethereum", "USDT": "tether", "BNB": "binancecoin",
	"XRP": "ripple", "USDC": "usd-coin", "ADA": "cardano", "DOGE": "dogecoin",
	"SOL": "solana", "DOT": "polkadot", "MATIC": "matic-network", "LTC": "litecoin",
	"SHIB": "shiba-inu", "TRX": "tron", "AVAX": "avalanche-2", "LINK": "chainlink",
	"ATOM": "cosmos", "XLM": "stellar", "ETC": "ethereum-classic", "XMR": "monero",
}

// CoinGecko adapts the CoinGecko /coins/markets and /market_chart endpoints
// to the uniform Adapter capability set.
type CoinGecko struct {
	cfg    Config
	client *http.Client
}

// NewCoinGecko builds a CoinGecko adapter. A missing BaseURL or symbol
// table falls back to sane defaults so tests and small deployments don't
// need to restate them.
func NewCoinGecko(cfg Config, client *http.Client) *CoinGecko {
	if cfg.Name == "" {
		cfg.Name = "coingecko"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.SymbolTable == nil {
		cfg.SymbolTable = defaultCoinGeckoSymbols
	}
	if cfg.Auth == domain.AuthNone && cfg.APIKey != "" {
		cfg.Auth = domain.AuthHeaderKey
		cfg.AuthHeader = "x-cg-pro-api-key"
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout()}
	}
	return &CoinGecko{cfg: cfg, client: client}
}

func (c *CoinGecko) Name() string                        { return c.cfg.Name }
func (c *CoinGecko) SupportsSymbol(s domain.Symbol) bool  { return c.cfg.supportsSymbol(s) }
func (c *CoinGecko) SymbolMap(s domain.Symbol) (string, error) { return c.cfg.symbolMap(s) }
func (c *CoinGecko) AuthKind() domain.AuthKind            { return c.cfg.Auth }
func (c *CoinGecko) RateCost() uint32                     { return orDefaultU32(c.cfg.RateCost, 1) }
func (c *CoinGecko) CostPerCall() float64                 { return c.cfg.CostPerCall }

type coinGeckoMarket struct {
	Symbol                   string  `json:"symbol"`
	CurrentPrice             float64 `json:"current_price"`
	TotalVolume              float64 `json:"total_volume"`
	MarketCap                float64 `json:"market_cap"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	LastUpdated              string  `json:"last_updated"`
}

func (c *CoinGecko) FetchCurrent(ctx context.Context, symbol domain.Symbol, currency string) (domain.RawProviderResponse, error) {
	coinID, err := c.cfg.symbolMap(symbol)
	if err != nil {
		return domain.RawProviderResponse{}, err
	}

	url := fmt.Sprintf("%s/coins/markets?vs_currency=%s&ids=%s", c.cfg.BaseURL, currency, coinID)
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

	var markets []coinGeckoMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrSchema, c.cfg.Name, "decode body", err)
	}
	if len(markets) == 0 {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrSchema, c.cfg.Name, "empty market list", nil)
	}

	m := markets[0]
	if err := validatePrice(c.cfg.Name, m.CurrentPrice); err != nil {
		return domain.RawProviderResponse{}, err
	}

	observedAt := time.Now()
	if t, err := time.Parse(time.RFC3339, m.LastUpdated); err == nil {
		observedAt = t
	}

	change := m.PriceChangePercentage24h / 100.0
	return domain.RawProviderResponse{
		Provider:      c.cfg.Name,
		Symbol:        symbol,
		PriceUSD:      m.CurrentPrice,
		Volume24h:     &m.TotalVolume,
		MarketCap:     &m.MarketCap,
		Change24h:     &change,
		ObservedAt:    observedAt,
		RawLatencyMS:  latency.Milliseconds(),
		ProvenanceURL: url,
	}, nil
}

type coinGeckoChartResponse struct {
	Prices [][2]float64 `json:"prices"`
}

func (c *CoinGecko) FetchHistorical(ctx context.Context, symbol domain.Symbol, from, to time.Time, _ domain.Granularity) ([]domain.RawProviderResponse, error) {
	coinID, err := c.cfg.symbolMap(symbol)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/coins/%s/market_chart/range?vs_currency=usd&from=%d&to=%d",
		c.cfg.BaseURL, coinID, from.Unix(), to.Unix())
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

	var chart coinGeckoChartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, domain.NewError(domain.ErrSchema, c.cfg.Name, "decode body", err)
	}

	out := make([]domain.RawProviderResponse, 0, len(chart.Prices))
	for _, point := range chart.Prices {
		if err := validatePrice(c.cfg.Name, point[1]); err != nil {
			continue
		}
		out = append(out, domain.RawProviderResponse{
			Provider:     c.cfg.Name,
			Symbol:       symbol,
			PriceUSD:     point[1],
			ObservedAt:   time.UnixMilli(int64(point[0])),
			RawLatencyMS: latency.Milliseconds(),
		})
	}
	return out, nil
}

func orDefaultU32(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}
