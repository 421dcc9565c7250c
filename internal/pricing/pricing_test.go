package pricing

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saas_template/internal/cache"
)

const catalogBody = `{
  "data": [
    {"id": "openai/gpt-4o-mini", "pricing": {"prompt": "0.00000015", "completion": "0.0000006"}},
    {"id": "anthropic/claude-3.5-sonnet", "pricing": {"prompt": "0.000003", "completion": "0.000015"}},
    {"id": "meta/free-model", "pricing": {}}
  ]
}`

func newCatalogServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/models", r.URL.Path)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func setupCache(t *testing.T) (*cache.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return cache.New(client), mr
}

func TestResolver_Resolve(t *testing.T) {
	t.Run("fetches and parses string prices", func(t *testing.T) {
		srv, _ := newCatalogServer(t, http.StatusOK, catalogBody)
		r := NewResolver(nil, Config{BaseURL: srv.URL})

		p := r.Resolve(context.Background(), "anthropic/claude-3.5-sonnet")
		require.NotNil(t, p)
		assert.InDelta(t, 0.000003, p.Prompt, 1e-15)
		assert.InDelta(t, 0.000015, p.Completion, 1e-15)
	})

	t.Run("missing prices default to zero", func(t *testing.T) {
		srv, _ := newCatalogServer(t, http.StatusOK, catalogBody)
		r := NewResolver(nil, Config{BaseURL: srv.URL})

		p := r.Resolve(context.Background(), "meta/free-model")
		require.NotNil(t, p)
		assert.Equal(t, ModelPricing{}, *p)
	})

	t.Run("unknown model yields nil", func(t *testing.T) {
		srv, _ := newCatalogServer(t, http.StatusOK, catalogBody)
		r := NewResolver(nil, Config{BaseURL: srv.URL})

		assert.Nil(t, r.Resolve(context.Background(), "nobody/nothing"))
	})

	t.Run("non 2xx yields nil", func(t *testing.T) {
		srv, _ := newCatalogServer(t, http.StatusBadGateway, `{"error":"down"}`)
		r := NewResolver(nil, Config{BaseURL: srv.URL})

		assert.Nil(t, r.Resolve(context.Background(), "openai/gpt-4o-mini"))
	})

	t.Run("malformed body yields nil", func(t *testing.T) {
		srv, _ := newCatalogServer(t, http.StatusOK, `not json`)
		r := NewResolver(nil, Config{BaseURL: srv.URL})

		assert.Nil(t, r.Resolve(context.Background(), "openai/gpt-4o-mini"))
	})

	t.Run("unparseable price yields nil", func(t *testing.T) {
		srv, _ := newCatalogServer(t, http.StatusOK, `{"data":[{"id":"m","pricing":{"prompt":"abc"}}]}`)
		r := NewResolver(nil, Config{BaseURL: srv.URL})

		assert.Nil(t, r.Resolve(context.Background(), "m"))
	})

	t.Run("unreachable catalog yields nil", func(t *testing.T) {
		r := NewResolver(nil, Config{BaseURL: "http://127.0.0.1:1", HTTPClient: &http.Client{Timeout: time.Second}})

		assert.Nil(t, r.Resolve(context.Background(), "openai/gpt-4o-mini"))
	})
}

func TestResolver_CachesForTTL(t *testing.T) {
	srv, calls := newCatalogServer(t, http.StatusOK, catalogBody)
	c, mr := setupCache(t)
	r := NewResolver(c, Config{BaseURL: srv.URL})
	ctx := context.Background()

	first := r.Resolve(ctx, "openai/gpt-4o-mini")
	require.NotNil(t, first)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.Equal(t, DefaultCacheTTL, mr.TTL(CacheKey("openai/gpt-4o-mini")))

	second := r.Resolve(ctx, "openai/gpt-4o-mini")
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls), "second lookup must be served from cache")

	mr.FastForward(DefaultCacheTTL + time.Second)
	third := r.Resolve(ctx, "openai/gpt-4o-mini")
	require.NotNil(t, third)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestResolver_UnknownModelIsNotCached(t *testing.T) {
	srv, calls := newCatalogServer(t, http.StatusOK, catalogBody)
	c, mr := setupCache(t)
	r := NewResolver(c, Config{BaseURL: srv.URL})

	assert.Nil(t, r.Resolve(context.Background(), "nobody/nothing"))
	assert.False(t, mr.Exists(CacheKey("nobody/nothing")))
	assert.Nil(t, r.Resolve(context.Background(), "nobody/nothing"))
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestResolver_CacheFailureStillReturnsPricing(t *testing.T) {
	srv, _ := newCatalogServer(t, http.StatusOK, catalogBody)
	c, mr := setupCache(t)
	r := NewResolver(c, Config{BaseURL: srv.URL})

	mr.Close()

	p := r.Resolve(context.Background(), "openai/gpt-4o-mini")
	require.NotNil(t, p)
	assert.InDelta(t, 0.00000015, p.Prompt, 1e-18)
}

func TestCalculateCost(t *testing.T) {
	tests := []struct {
		name     string
		in, out  int
		pricing  *ModelPricing
		expected Cost
	}{
		{
			name:     "nil pricing is free",
			in:       1000,
			out:      1000,
			pricing:  nil,
			expected: Cost{},
		},
		{
			name:     "per token multiplication",
			in:       5,
			out:      3,
			pricing:  &ModelPricing{Prompt: 0.000003, Completion: 0.000006},
			expected: Cost{InputCost: 0.000015, OutputCost: 0.000018, TotalCost: 0.000033},
		},
		{
			name:     "zero tokens",
			in:       0,
			out:      0,
			pricing:  &ModelPricing{Prompt: 1, Completion: 1},
			expected: Cost{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateCost(tt.in, tt.out, tt.pricing)
			assert.InDelta(t, tt.expected.InputCost, got.InputCost, 1e-12)
			assert.InDelta(t, tt.expected.OutputCost, got.OutputCost, 1e-12)
			assert.InDelta(t, tt.expected.TotalCost, got.TotalCost, 1e-12)
			assert.Equal(t, got.InputCost+got.OutputCost, got.TotalCost)
		})
	}
}

func TestCalculateCost_RandomSweep(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for n := 0; n < 1000; n++ {
		in := rng.Intn(2_000_000)
		out := rng.Intn(2_000_000)
		p := &ModelPricing{
			Prompt:     rng.Float64() * 1e-4,
			Completion: rng.Float64() * 1e-4,
		}

		got := CalculateCost(in, out, p)
		wantIn := float64(in) * p.Prompt
		wantOut := float64(out) * p.Completion
		require.Equal(t, wantIn, got.InputCost, "in=%d p=%v", in, p.Prompt)
		require.Equal(t, wantOut, got.OutputCost, "out=%d c=%v", out, p.Completion)
		require.Equal(t, wantIn+wantOut, got.TotalCost)
		require.GreaterOrEqual(t, got.TotalCost, 0.0)

		require.Equal(t, Cost{}, CalculateCost(in, out, nil))
	}
}
