// Package ai calls the hosted chat-completion API, prices the call and
// records it in the usage ledger.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"saas_template/internal/pricing"
	"saas_template/internal/usage"
	"saas_template/internal/utils"
)

const (
	DefaultModel      = "openai/gpt-4o-mini"
	DefaultSchemaName = "response"
)

// PricingResolver returns per-token pricing or nil when unknown
type PricingResolver interface {
	Resolve(ctx context.Context, model string) *pricing.ModelPricing
}

// UsageRecorder appends a call to the usage ledger without failing
type UsageRecorder interface {
	Record(ctx context.Context, e usage.Entry) usage.Outcome
}

// Config configures a Client
type Config struct {
	APIKey       string
	BaseURL      string // e.g. https://openrouter.ai/api/v1
	DefaultModel string
	Referer      string
	Title        string
	Timeout      time.Duration // applies to non-streaming calls only
	HTTPClient   *http.Client
}

// Client invokes completions
type Client struct {
	apiKey       string
	baseURL      string
	defaultModel string
	referer      string
	title        string
	timeout      time.Duration
	httpClient   *http.Client
	pricing      PricingResolver
	recorder     UsageRecorder
	logger       *utils.Logger
}

// NewClient creates a completion client. pricing and recorder are required.
func NewClient(cfg Config, resolver PricingResolver, recorder UsageRecorder) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	model := cfg.DefaultModel
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: model,
		referer:      cfg.Referer,
		title:        cfg.Title,
		timeout:      cfg.Timeout,
		httpClient:   httpClient,
		pricing:      resolver,
		recorder:     recorder,
		logger:       utils.NewLogger("ai"),
	}
}

// CompletionRequest is one prompt to complete
type CompletionRequest struct {
	Prompt      string
	Model       string                 // empty means the client default
	JSONSchema  map[string]interface{} // optional strict output schema
	SchemaName  string                 // defaults to "response"
	Temperature *float64
	MaxTokens   *int
}

// Completion is the result of a call. Data holds the schema-conforming JSON
// when a schema was requested, {"message": raw} when the model ignored the
// schema, or the content as a JSON string otherwise.
type Completion struct {
	Model   string          `json:"model"`
	Content string          `json:"-"`
	Data    json.RawMessage `json:"data"`
	Usage   Usage           `json:"usage"`
	Cost    pricing.Cost    `json:"cost"`
	Logged  usage.Outcome   `json:"-"`
}

// DecodeData unmarshals the completion payload into T
func DecodeData[T any](c *Completion) (T, error) {
	var out T
	if err := json.Unmarshal(c.Data, &out); err != nil {
		return out, fmt.Errorf("failed to decode completion data: %w", err)
	}
	return out, nil
}

// Complete sends the prompt and waits for the full answer. Upstream failures
// are returned; pricing and logging failures only degrade accounting.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	model := c.model(req.Model)

	body, err := c.buildBody(model, req.Prompt, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, err
	}
	if req.JSONSchema != nil {
		body, err = withJSONSchema(body, req.SchemaName, req.JSONSchema)
		if err != nil {
			return nil, err
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var (
		modelPricing *pricing.ModelPricing
		respBody     []byte
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		modelPricing = c.pricing.Resolve(gctx, model)
		return nil
	})
	g.Go(func() error {
		var err error
		respBody, err = c.post(gctx, body)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(respBody)
	choices := parsed.Get("choices")
	if !gjson.ValidBytes(respBody) || !choices.IsArray() {
		return nil, ErrMalformedResponse
	}

	content := choices.Get("0.message.content").String()
	data := c.payload(content, req.JSONSchema != nil)
	u := ExtractUsage(parsed.Get("usage"))
	cost := pricing.CalculateCost(u.InputTokens, u.OutputTokens, modelPricing)

	outcome := c.recorder.Record(ctx, usage.Entry{
		Model:        model,
		InputText:    req.Prompt,
		OutputText:   content,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.TotalTokens,
		InputCost:    cost.InputCost,
		OutputCost:   cost.OutputCost,
		TotalCost:    cost.TotalCost,
	})

	return &Completion{
		Model:   model,
		Content: content,
		Data:    data,
		Usage:   u,
		Cost:    cost,
		Logged:  outcome,
	}, nil
}

// payload turns the message content into the Data field
func (c *Client) payload(content string, schema bool) json.RawMessage {
	if !schema {
		encoded, _ := json.Marshal(content)
		return encoded
	}
	if json.Valid([]byte(content)) {
		return json.RawMessage(content)
	}

	c.logger.Warn("Completion did not match requested schema, wrapping raw text",
		"length", len(content))
	wrapped, _ := sjson.SetBytes([]byte(`{}`), "message", content)
	return wrapped
}

func (c *Client) model(requested string) string {
	if requested != "" {
		return requested
	}
	return c.defaultModel
}

// buildBody renders the chat request shared by both call styles
func (c *Client) buildBody(model, prompt string, temperature *float64, maxTokens *int) ([]byte, error) {
	body := []byte(`{"messages":[{"role":"user"}]}`)
	var err error
	if body, err = sjson.SetBytes(body, "model", model); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body, err = sjson.SetBytes(body, "messages.0.content", prompt); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if temperature != nil {
		if body, err = sjson.SetBytes(body, "temperature", *temperature); err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
	}
	if maxTokens != nil {
		if body, err = sjson.SetBytes(body, "max_tokens", *maxTokens); err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
	}
	return body, nil
}

func withJSONSchema(body []byte, name string, schema map[string]interface{}) ([]byte, error) {
	if name == "" {
		name = DefaultSchemaName
	}
	format := map[string]interface{}{
		"type": "json_schema",
		"json_schema": map[string]interface{}{
			"name":   name,
			"strict": true,
			"schema": schema,
		},
	}
	out, err := sjson.SetBytes(body, "response_format", format)
	if err != nil {
		return nil, fmt.Errorf("failed to set response format: %w", err)
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}
	return req, nil
}

// post sends a non-streaming request and returns the 2xx body
func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read completion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// apiError prefers the upstream error.message over the raw body
func apiError(status int, body []byte) *APIError {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = string(bytes.TrimSpace(body))
		if len(msg) > 512 {
			msg = msg[:512]
		}
	}
	return &APIError{StatusCode: status, Message: msg}
}
