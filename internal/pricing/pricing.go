// Package pricing resolves per-token model prices from the OpenRouter model
// catalog and turns token counts into dollar costs.
package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"saas_template/internal/utils"
)

// DefaultCacheTTL is how long a resolved price stays cached
const DefaultCacheTTL = 24 * time.Hour

const cacheKeyPrefix = "openrouter:pricing:"

// ModelPricing is the USD price per token for one model
type ModelPricing struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
}

// Cache is the subset of the cache accessor the resolver needs
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Config configures a Resolver
type Config struct {
	BaseURL    string // catalog base, e.g. https://openrouter.ai/api/v1
	APIKey     string
	CacheTTL   time.Duration
	HTTPClient *http.Client
}

// Resolver looks up model pricing, cache first, then the remote catalog
type Resolver struct {
	cache   Cache
	client  *http.Client
	baseURL string
	apiKey  string
	ttl     time.Duration
	logger  *utils.Logger
}

// NewResolver creates a pricing resolver. cache may be nil, in which case
// every lookup goes to the catalog.
func NewResolver(cache Cache, cfg Config) *Resolver {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{
		cache:   cache,
		client:  client,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		ttl:     ttl,
		logger:  utils.NewLogger("pricing"),
	}
}

// CacheKey returns the cache key holding a model's pricing
func CacheKey(model string) string {
	return cacheKeyPrefix + model
}

// Resolve returns the pricing for model, or nil when it cannot be determined.
// Failures are logged and never returned.
func (r *Resolver) Resolve(ctx context.Context, model string) *ModelPricing {
	key := CacheKey(model)

	if r.cache != nil {
		var cached ModelPricing
		found, err := r.cache.Get(ctx, key, &cached)
		if err != nil {
			r.logger.Warn("Failed to read pricing cache", "model", model, "error", err)
		} else if found {
			return &cached
		}
	}

	p, err := r.fetch(ctx, model)
	if err != nil {
		r.logger.Error("Failed to fetch model pricing", "model", model, "error", err)
		return nil
	}
	if p == nil {
		r.logger.Warn("Model not found in catalog", "model", model)
		return nil
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, p, r.ttl); err != nil {
			r.logger.Warn("Failed to cache model pricing", "model", model, "error", err)
		}
	}
	return p
}

// fetch downloads the catalog and returns the entry for model. A nil
// pricing with nil error means the model is not listed.
func (r *Resolver) fetch(ctx context.Context, model string) (*ModelPricing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("catalog response is not valid JSON")
	}

	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, fmt.Errorf("catalog response has no data array")
	}

	var found *ModelPricing
	var parseErr error
	data.ForEach(func(_, entry gjson.Result) bool {
		if entry.Get("id").String() != model {
			return true
		}
		found, parseErr = parseEntry(entry.Get("pricing"))
		return false
	})
	return found, parseErr
}

func parseEntry(p gjson.Result) (*ModelPricing, error) {
	prompt, err := parsePrice(p.Get("prompt"))
	if err != nil {
		return nil, fmt.Errorf("invalid prompt price: %w", err)
	}
	completion, err := parsePrice(p.Get("completion"))
	if err != nil {
		return nil, fmt.Errorf("invalid completion price: %w", err)
	}
	return &ModelPricing{Prompt: prompt, Completion: completion}, nil
}

// parsePrice reads a decimal price that the catalog encodes as a string.
// Missing values count as "0".
func parsePrice(v gjson.Result) (float64, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return 0, nil
	}
	if v.Type == gjson.Number {
		return v.Float(), nil
	}
	s := v.String()
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
