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

var cryptoCompareKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9]{24,}$`)

// ValidateCryptoCompareKey enforces spec.md §4.7's format rule: alphanumeric,
// at least 24 characters.
func ValidateCryptoCompareKey(key string) bool {
	return cryptoCompareKeyPattern.MatchString(key)
}

var defaultCryptoCompareSymbols = map[domain.Symbol]string{
	"BTC": "BTC", "ETH": "ETH", "USDT": "USDT", "BNB": "BNB", "XRP": "XRP",
	"USDC": "USDC", "ADA": "ADA", "DOGE": "DOGE", "SOL": "SOL", "DOT": "DOT",
	"MATIC": "MATIC", "LTC": "LTC", "SHIB": "SHIB", "TRX": "TRX", "AVAX": "AVAX",
	"LINK": "LINK", "ATOM": "ATOM", "XLM": "XLM", "ETC": "ETC", "XMR": "XMR",
}

// CryptoCompare adapts the /data/pricemultifull and /data/v2/histohour
// (or histoday) endpoints.
type CryptoCompare struct {
	cfg    Config
	client *http.Client
}

func NewCryptoCompare(cfg Config, client *http.Client) *CryptoCompare {
	if cfg.Name == "" {
		cfg.Name = "cryptocompare"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://min-api.cryptocompare.com"
	}
	if cfg.SymbolTable == nil {
		cfg.SymbolTable = defaultCryptoCompareSymbols
	}
	if cfg.APIKey != "" {
		cfg.Auth = domain.AuthHeaderKey
		cfg.AuthHeader = "Authorization"
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout()}
	}
	return &CryptoCompare{cfg: cfg, client: client}
}

func (c *CryptoCompare) Name() string                        { return c.cfg.Name }
func (c *CryptoCompare) SupportsSymbol(s domain.Symbol) bool  { return c.cfg.supportsSymbol(s) }
func (c *CryptoCompare) SymbolMap(s domain.Symbol) (string, error) { return c.cfg.symbolMap(s) }
func (c *CryptoCompare) AuthKind() domain.AuthKind            { return c.cfg.Auth }
func (c *CryptoCompare) RateCost() uint32                     { return orDefaultU32(c.cfg.RateCost, 1) }
func (c *CryptoCompare) CostPerCall() float64                 { return c.cfg.CostPerCall }

// applyCCAuth replaces applyAuth's generic header application: CryptoCompare
// expects "Apikey <key>" rather than a bearer token, so it's applied here
// directly instead of through the shared Authorization-header branch.
func (c *CryptoCompare) applyCCAuth(req *http.Request) {
	if c.cfg.APIKey == "" {
		return
	}
	req.Header.Set("Authorization", "Apikey "+c.cfg.APIKey)
}

type ccRaw struct {
	PRICE     float64 `json:"PRICE"`
	VOLUME24HOUR float64 `json:"VOLUME24HOUR"`
	MKTCAP    float64 `json:"MKTCAP"`
	CHANGEPCT24HOUR float64 `json:"CHANGEPCT24HOUR"`
	LASTUPDATE int64  `json:"LASTUPDATE"`
}

type ccPriceMultiFull struct {
	Raw map[string]map[string]ccRaw `json:"RAW"`
}

func (c *CryptoCompare) FetchCurrent(ctx context.Context, symbol domain.Symbol, currency string) (domain.RawProviderResponse, error) {
	ticker, err := c.cfg.symbolMap(symbol)
	if err != nil {
		return domain.RawProviderResponse{}, err
	}

	url := fmt.Sprintf("%s/data/pricemultifull?fsyms=%s&tsyms=%s", c.cfg.BaseURL, ticker, currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrInternal, c.cfg.Name, "build request", err)
	}
	c.applyCCAuth(req)

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

	var decoded ccPriceMultiFull
	if err := json.Unmarshal(body, &decoded); err != nil {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrSchema, c.cfg.Name, "decode body", err)
	}

	bySym, ok := decoded.Raw[ticker]
	if !ok {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrSchema, c.cfg.Name, "symbol absent from response", nil)
	}
	raw, ok := bySym[currency]
	if !ok {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrSchema, c.cfg.Name, "quote currency absent", nil)
	}
	if err := validatePrice(c.cfg.Name, raw.PRICE); err != nil {
		return domain.RawProviderResponse{}, err
	}

	change := raw.CHANGEPCT24HOUR / 100.0
	return domain.RawProviderResponse{
		Provider:      c.cfg.Name,
		Symbol:        symbol,
		PriceUSD:      raw.PRICE,
		Volume24h:     &raw.VOLUME24HOUR,
		MarketCap:     &raw.MKTCAP,
		Change24h:     &change,
		ObservedAt:    time.Unix(raw.LASTUPDATE, 0),
		RawLatencyMS:  latency.Milliseconds(),
		ProvenanceURL: url,
	}, nil
}

type ccHistoPoint struct {
	Time  int64   `json:"time"`
	Close float64 `json:"close"`
}

type ccHistoResponse struct {
	Data struct {
		Data []ccHistoPoint `json:"Data"`
	} `json:"Data"`
}

func (c *CryptoCompare) FetchHistorical(ctx context.Context, symbol domain.Symbol, from, to time.Time, gran domain.Granularity) ([]domain.RawProviderResponse, error) {
	ticker, err := c.cfg.symbolMap(symbol)
	if err != nil {
		return nil, err
	}

	endpoint := "histohour"
	if gran == domain.GranularityDay {
		endpoint = "histoday"
	} else if gran == domain.GranularityMinute {
		endpoint = "histominute"
	}

	limit := int(to.Sub(from).Hours())
	if gran == domain.GranularityDay {
		limit = int(to.Sub(from).Hours() / 24)
	}
	if limit <= 0 {
		limit = 1
	}
	if limit > 2000 {
		limit = 2000
	}

	url := fmt.Sprintf("%s/data/v2/%s?fsym=%s&tsym=USD&limit=%d&toTs=%d",
		c.cfg.BaseURL, endpoint, ticker, limit, to.Unix())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewError(domain.ErrInternal, c.cfg.Name, "build request", err)
	}
	c.applyCCAuth(req)

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

	var decoded ccHistoResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, domain.NewError(domain.ErrSchema, c.cfg.Name, "decode body", err)
	}

	out := make([]domain.RawProviderResponse, 0, len(decoded.Data.Data))
	for _, point := range decoded.Data.Data {
		if err := validatePrice(c.cfg.Name, point.Close); err != nil {
			continue
		}
		ts := time.Unix(point.Time, 0)
		if ts.Before(from) || ts.After(to) {
			continue
		}
		out = append(out, domain.RawProviderResponse{
			Provider:     c.cfg.Name,
			Symbol:       symbol,
			PriceUSD:     point.Close,
			ObservedAt:   ts,
			RawLatencyMS: latency.Milliseconds(),
		})
	}
	return out, nil
}
