package ai

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"saas_template/internal/pricing"
	"saas_template/internal/usage"
)

const maxSSELineSize = 1 << 20

// EventType discriminates stream events
type EventType string

const (
	// EventContent carries one piece of generated text
	EventContent EventType = "content"
	// EventComplete is the single final event of a stream
	EventComplete EventType = "complete"
)

// StreamEvent is one item of a streaming completion. Usage and Cost are set
// only on the complete event.
type StreamEvent struct {
	Type    EventType     `json:"type"`
	Content string        `json:"content"`
	Usage   *Usage        `json:"usage,omitempty"`
	Cost    *pricing.Cost `json:"cost,omitempty"`
}

// StreamRequest is a streaming prompt. Schemas are not supported.
type StreamRequest struct {
	Prompt      string
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// Stream yields content events as they arrive upstream, then one complete
// event, then io.EOF. It is not safe for concurrent use.
type Stream struct {
	client  *Client
	model   string
	prompt  string
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	ctx     context.Context

	pricingGroup errgroup.Group
	modelPricing *pricing.ModelPricing

	content strings.Builder
	usage   *Usage
	err     error // sticky terminal error, io.EOF after completion

	closeOnce sync.Once
}

// Stream starts a streaming completion. Errors before the first byte, such
// as a non-2xx status, are returned here.
func (c *Client) Stream(ctx context.Context, req StreamRequest) (*Stream, error) {
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	model := c.model(req.Model)

	body, err := c.buildBody(model, req.Prompt, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "stream", true); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body, err = sjson.SetBytes(body, "stream_options.include_usage", true); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		client: c,
		model:  model,
		prompt: req.Prompt,
		cancel: cancel,
		ctx:    streamCtx,
	}
	s.pricingGroup.Go(func() error {
		s.modelPricing = c.pricing.Resolve(streamCtx, model)
		return nil
	})

	httpReq, err := c.newRequest(streamCtx, body)
	if err != nil {
		s.release()
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		s.release()
		return nil, apiError(resp.StatusCode, respBody)
	}

	s.body = resp.Body
	s.scanner = bufio.NewScanner(resp.Body)
	s.scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return s, nil
}

// Recv returns the next event. After the complete event it returns io.EOF.
func (s *Stream) Recv() (StreamEvent, error) {
	if s.err != nil {
		return StreamEvent{}, s.err
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if !bytes.HasPrefix(line, []byte("data:")) {
			// blank separators and ": keep-alive" comments
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if bytes.Equal(data, []byte("[DONE]")) {
			return s.finish()
		}
		if !gjson.ValidBytes(data) {
			continue
		}

		chunk := gjson.ParseBytes(data)
		if msg := chunk.Get("error.message"); msg.Exists() {
			s.fail(&APIError{StatusCode: int(chunk.Get("error.code").Int()), Message: msg.String()})
			return StreamEvent{}, s.err
		}
		if u := chunk.Get("usage"); u.IsObject() {
			extracted := ExtractUsage(u)
			s.usage = &extracted
		}

		delta := chunk.Get("choices.0.delta.content").String()
		if delta == "" {
			continue
		}
		s.content.WriteString(delta)
		return StreamEvent{Type: EventContent, Content: delta}, nil
	}

	if err := s.scanner.Err(); err != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			s.fail(ctxErr)
		} else {
			s.fail(fmt.Errorf("stream read failed: %w", err))
		}
		return StreamEvent{}, s.err
	}
	return s.finish()
}

// finish builds the complete event and logs the call. It runs once, after
// upstream is exhausted.
func (s *Stream) finish() (StreamEvent, error) {
	s.pricingGroup.Wait()

	u := Usage{}
	if s.usage != nil {
		u = *s.usage
	}
	cost := pricing.CalculateCost(u.InputTokens, u.OutputTokens, s.modelPricing)
	content := s.content.String()

	s.client.recorder.Record(s.ctx, usage.Entry{
		Model:        s.model,
		InputText:    s.prompt,
		OutputText:   content,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.TotalTokens,
		InputCost:    cost.InputCost,
		OutputCost:   cost.OutputCost,
		TotalCost:    cost.TotalCost,
	})

	s.fail(io.EOF)
	return StreamEvent{Type: EventComplete, Content: content, Usage: &u, Cost: &cost}, nil
}

// fail records a terminal state and releases the upstream connection
func (s *Stream) fail(err error) {
	s.err = err
	s.release()
}

// Close abandons the stream. A stream closed before its complete event is
// never logged.
func (s *Stream) Close() error {
	if s.err == nil {
		s.err = ErrStreamClosed
	}
	s.release()
	return nil
}

func (s *Stream) release() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.body != nil {
			s.body.Close()
		}
		s.pricingGroup.Wait()
	})
}

// Collect drains a stream and returns its complete event
func Collect(s *Stream, onContent func(string)) (StreamEvent, error) {
	defer s.Close()
	for {
		ev, err := s.Recv()
		if err != nil {
			return StreamEvent{}, err
		}
		switch ev.Type {
		case EventContent:
			if onContent != nil {
				onContent(ev.Content)
			}
		case EventComplete:
			return ev, nil
		}
	}
}
