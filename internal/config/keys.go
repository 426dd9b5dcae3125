package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/marketcore/aggregator/internal/domain"
)

// KeyValidator checks a raw API key against a provider's format rule
// (spec.md §4.7): CoinGecko keys begin with "CG-", CoinMarketCap keys are
// 32 lowercase hex characters, CryptoCompare keys are alphanumeric and at
// least 24 characters long. CoinPaprika's free tier needs no key.
type KeyValidator func(key string) bool

var coinGeckoKeyPattern = regexp.MustCompile(`^CG-[A-Za-z0-9]+$`)

func validateCoinGeckoKey(key string) bool { return coinGeckoKeyPattern.MatchString(key) }

// DefaultValidators returns the validator set for the four required
// providers, grounded in spec.md §4.7.
func DefaultValidators() map[string]KeyValidator {
	return map[string]KeyValidator{
		"coingecko":     validateCoinGeckoKey,
		"coinmarketcap": validateCMCKeyFn,
		"cryptocompare": validateCryptoCompareKeyFn,
	}
}

// validateCMCKeyFn and validateCryptoCompareKeyFn are nil until the wiring
// code binds them through RegisterValidator to the provider package's
// exported validators, avoiding a dependency
// cycle (provider doesn't import config) while keeping one canonical
// implementation of each format rule.
var (
	validateCMCKeyFn           KeyValidator
	validateCryptoCompareKeyFn KeyValidator
)

// RegisterValidator lets the wiring code (cmd/marketcore) bind a
// provider's real key-format check into the registry without config
// importing provider directly.
func RegisterValidator(provider string, fn KeyValidator) {
	switch provider {
	case "coinmarketcap":
		validateCMCKeyFn = fn
	case "cryptocompare":
		validateCryptoCompareKeyFn = fn
	}
}

// KeyRegistry is the hot-reloadable BYOK (bring-your-own-key) store.
// Readers always see a complete, internally-consistent snapshot via an
// atomically-swapped map, so an in-flight request started against the old
// key set finishes against it rather than observing a half-applied
// reload, per spec.md §6.
type KeyRegistry struct {
	snapshot atomic.Pointer[map[string]domain.ApiKeyConfig]
	mu       sync.Mutex // serializes reloads, not reads

	validators map[string]KeyValidator
	watcher    *fsnotify.Watcher
	path       string
	debounce   time.Duration
}

// NewKeyRegistry builds a registry from a KEY=VALUE file (the format
// spec.md §6 calls out under "Persisted state layout") plus any
// COINGECKO_API_KEY / COINMARKETCAP_API_KEY / CRYPTOCOMPARE_API_KEY
// environment variables, which take precedence over the file.
func NewKeyRegistry(path string, validators map[string]KeyValidator) (*KeyRegistry, error) {
	r := &KeyRegistry{validators: validators, path: path, debounce: 100 * time.Millisecond}
	if err := r.reload(true); err != nil {
		return nil, err
	}
	return r, nil
}

// reload rebuilds the snapshot from the key file and environment. strict
// controls what happens when a configured key fails format validation:
// the initial load (strict=true) rejects with a typed error naming the
// provider, per spec.md §4.7; a hot reload (strict=false) instead logs and
// leaves that provider out of the new snapshot while the other keys still
// load, so a running process never loses every key over one bad edit.
func (r *KeyRegistry) reload(strict bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fileVars := map[string]string{}
	if r.path != "" {
		if _, err := os.Stat(r.path); err == nil {
			vars, err := godotenv.Read(r.path)
			if err != nil {
				return fmt.Errorf("config: read key file: %w", err)
			}
			fileVars = vars
		}
	}

	envOverrides := map[string]string{
		"coingecko":     envOr("COINGECKO_API_KEY", fileVars),
		"coinmarketcap": envOr("COINMARKETCAP_API_KEY", fileVars),
		"cryptocompare": envOr("CRYPTOCOMPARE_API_KEY", fileVars),
	}

	next := make(map[string]domain.ApiKeyConfig, len(envOverrides))
	for providerName, key := range envOverrides {
		if key == "" {
			continue
		}
		rule := "none"
		valid := true
		if v, ok := r.validators[providerName]; ok && v != nil {
			valid = v(key)
			rule = providerName
		}
		if !valid {
			if strict {
				return domain.NewError(domain.ErrAuthInvalid, providerName,
					fmt.Sprintf("configured API key for %q fails format validation", providerName), nil)
			}
			log.Warn().Str("provider", providerName).Msg("configured API key fails format validation, ignoring")
			continue
		}
		next[providerName] = domain.ApiKeyConfig{
			Provider:        providerName,
			Key:             key,
			ValidationRule:  rule,
			LastValidatedAt: time.Now(),
		}
	}

	r.snapshot.Store(&next)
	return nil
}

func envOr(name string, fileVars map[string]string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return strings.TrimSpace(fileVars[name])
}

// Get returns the current key config for a provider, if one is set.
func (r *KeyRegistry) Get(provider string) (domain.ApiKeyConfig, bool) {
	snap := r.snapshot.Load()
	if snap == nil {
		return domain.ApiKeyConfig{}, false
	}
	cfg, ok := (*snap)[provider]
	return cfg, ok
}

// Has reports whether a provider has a configured key, the check the
// router's eligibility filter uses for AuthKind-requiring adapters.
func (r *KeyRegistry) Has(provider string) bool {
	_, ok := r.Get(provider)
	return ok
}

// WatchFile starts an fsnotify watch on the key file and debounces
// reloads by r.debounce so editors that write-then-rename don't trigger
// two reloads back to back. Call Close to stop watching.
func (r *KeyRegistry) WatchFile() error {
	if r.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(r.path); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch key file: %w", err)
	}
	r.watcher = watcher

	go func() {
		var timer *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(r.debounce, func() {
					if err := r.reload(false); err != nil {
						log.Error().Err(err).Msg("key registry hot reload failed, keeping previous snapshot")
					} else {
						log.Info().Str("path", r.path).Msg("key registry reloaded")
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("key file watcher error")
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if one is running.
func (r *KeyRegistry) Close() error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}
