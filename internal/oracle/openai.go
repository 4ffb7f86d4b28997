// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/extraction-engine/internal/httputil"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

const systemPrompt = "You extract structured data from documents. Respond with JSON only."

// OpenAIOracle calls the OpenAI chat completions API with a JSON-object
// response format. Rate limits and transient server errors are retried
// with backoff.
type OpenAIOracle struct {
	cfg    types.OracleConfig
	apiKey string
	client *http.Client
	logger *zap.Logger
}

// NewOpenAI builds an oracle backed by the OpenAI API.
func NewOpenAI(cfg types.OracleConfig, apiKey string, logger *zap.Logger) *OpenAIOracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIOracle{
		cfg:    cfg,
		apiKey: apiKey,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// chatRequest is the request body for the chat completions API.
type chatRequest struct {
	Model               string         `json:"model"`
	Messages            []chatMessage  `json:"messages"`
	ResponseFormat      responseFormat `json:"response_format"`
	MaxCompletionTokens int            `json:"max_completion_tokens,omitempty"`
}

// chatMessage is a single message in the conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the response body from the chat completions API.
type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Extract sends the document and field list to the model and parses the
// JSON object it returns. Fields the model leaves out come back as empty
// strings.
func (o *OpenAIOracle) Extract(ctx context.Context, req Request) (Result, error) {
	requestID := uuid.New().String()
	start := time.Now()

	prompt, err := renderPrompt(req)
	if err != nil {
		return Result{}, fmt.Errorf("rendering prompt: %w", err)
	}

	body := chatRequest{
		Model: o.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat:      responseFormat{Type: "json_object"},
		MaxCompletionTokens: o.cfg.MaxOutputTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := strings.TrimRight(o.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	o.logger.Debug("oracle request",
		zap.String("request_id", requestID),
		zap.String("label", req.Label),
		zap.String("model", o.cfg.Model),
		zap.Int("fields", len(req.Fields)),
		zap.Int("document_bytes", len(req.Document)))

	resp, err := httputil.DoWithRetry(ctx, o.client, httpReq, o.cfg.MaxRetries)
	if err != nil {
		return Result{}, fmt.Errorf("calling oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("oracle returned %d: %s", resp.StatusCode, string(data))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Result{}, fmt.Errorf("decoding oracle response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return Result{}, fmt.Errorf("oracle returned no choices")
	}

	var raw map[string]any
	content := strings.TrimSpace(cr.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Result{}, fmt.Errorf("parsing oracle JSON: %w", err)
	}

	result := Result{
		Fields:     make(map[string]string, len(req.Fields)),
		TokensUsed: cr.Usage.TotalTokens,
	}
	for _, field := range req.Fields {
		result.Fields[field.Name] = fieldValue(raw, field.Name)
	}

	o.logger.Info("oracle extraction",
		zap.String("request_id", requestID),
		zap.String("label", req.Label),
		zap.Int("fields", len(req.Fields)),
		zap.Int("tokens", result.TokensUsed),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// fieldValue coerces one answer to a string. Models occasionally return
// numbers or booleans despite the prompt.
func fieldValue(raw map[string]any, name string) string {
	switch v := raw[name].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}
