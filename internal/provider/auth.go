package provider

import (
	"net/http"

	"github.com/marketcore/aggregator/internal/domain"
)

// applyAuth attaches the configured API key to a request using whichever
// transport the provider expects: header, query string, or bearer token.
// Providers with AuthNone (e.g. CoinGecko's free tier) are left untouched.
func applyAuth(req *http.Request, cfg Config) {
	if cfg.APIKey == "" {
		return
	}
	switch cfg.Auth {
	case domain.AuthHeaderKey:
		header := cfg.AuthHeader
		if header == "" {
			header = "X-Api-Key"
		}
		req.Header.Set(header, cfg.APIKey)
	case domain.AuthQueryKey:
		q := req.URL.Query()
		param := cfg.AuthHeader
		if param == "" {
			param = "api_key"
		}
		q.Set(param, cfg.APIKey)
		req.URL.RawQuery = q.Encode()
	case domain.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
}
