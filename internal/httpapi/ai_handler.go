package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"saas_template/internal/ai"
	"saas_template/internal/middleware"
	"saas_template/internal/utils"
)

const maxPromptBody = 1 << 20

var aiLogger = utils.NewLogger("ai-handler")

// completeRequest is the body of both AI endpoints
type completeRequest struct {
	Prompt      string                 `json:"prompt"`
	Model       string                 `json:"model,omitempty"`
	JSONSchema  map[string]interface{} `json:"jsonSchema,omitempty"`
	SchemaName  string                 `json:"schemaName,omitempty"`
	Temperature *float64               `json:"temperature,omitempty"`
	MaxTokens   *int                   `json:"maxTokens,omitempty"`
}

func decodePrompt(w http.ResponseWriter, r *http.Request) (*completeRequest, bool) {
	var req completeRequest
	body := http.MaxBytesReader(w, r.Body, maxPromptBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, "Invalid JSON body")
		return nil, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, "prompt is required")
		return nil, false
	}
	return &req, true
}

// handleComplete answers a single completion
func (d *Dependencies) handleComplete(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	req, ok := decodePrompt(w, r)
	if !ok {
		return
	}

	result, err := d.AI.Complete(r.Context(), ai.CompletionRequest{
		Prompt:      req.Prompt,
		Model:       req.Model,
		JSONSchema:  req.JSONSchema,
		SchemaName:  req.SchemaName,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		userID, _ := middleware.GetUserID(r.Context())
		aiLogger.Error("Completion failed", "user_id", userID, "model", req.Model, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "AI completion failed")
		return
	}

	utils.RespondWithData(w, http.StatusOK, result)
}

// streamError is the terminal SSE event sent when upstream fails mid-stream
type streamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// handleStream relays a streaming completion as Server-Sent Events
func (d *Dependencies) handleStream(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	req, ok := decodePrompt(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "streaming not supported")
		return
	}

	stream, err := d.AI.Stream(r.Context(), ai.StreamRequest{
		Prompt:      req.Prompt,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		aiLogger.Error("Stream failed to start", "model", req.Model, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "AI stream failed")
		return
	}
	defer stream.Close()

	// Set headers for SSE streaming
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if r.Context().Err() != nil {
				// client went away
				return
			}
			aiLogger.Error("Stream failed", "model", req.Model, "error", err)
			writeEvent(w, streamError{Type: "error", Message: "AI stream failed"})
			flusher.Flush()
			return
		}
		if err := writeEvent(w, ev); err != nil {
			return
		}
		flusher.Flush()
	}
}

func writeEvent(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
