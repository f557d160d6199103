package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Config holds the extractor settings
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration
	Prompts    *PromptConfig
}

// Extractor implements port.Extractor using the OpenAI chat completion API
type Extractor struct {
	client     *openai.Client
	model      string
	maxRetries int
	backoff    time.Duration
	prompts    *PromptConfig
	logger     *zap.Logger
}

// NewExtractor creates a new OpenAI extractor
func NewExtractor(cfg Config, logger *zap.Logger) *Extractor {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	prompts := cfg.Prompts
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Extractor{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		prompts:    prompts,
		logger:     logger,
	}
}

// Extract turns raw receipt text into a billing record. Transport failures
// are retried; a response that does not match the schema is not.
func (e *Extractor) Extract(ctx context.Context, rawText string) (entity.BillingRecord, error) {
	prompt, err := renderTemplate(e.prompts.ReceiptExtraction.UserTemplate, struct {
		Fields  []FieldSpec
		RawText string
	}{Fields: billingSchema, RawText: rawText})
	if err != nil {
		return entity.BillingRecord{}, &entity.ExtractionError{Reason: "prompt rendering failed", Err: err}
	}

	req := openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: e.prompts.ReceiptExtraction.Temperature,
		MaxTokens:   e.prompts.ReceiptExtraction.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: e.prompts.ReceiptExtraction.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	content, err := e.complete(ctx, req)
	if err != nil {
		return entity.BillingRecord{}, err
	}

	record, err := decodeRecord(content)
	if err != nil {
		e.logger.Error("Failed to parse OpenAI response",
			zap.Error(err),
			zap.String("content", content))
		return entity.BillingRecord{}, &entity.ExtractionError{Reason: "response does not match billing schema", Err: err}
	}

	e.logger.Info("Receipt extracted",
		zap.String("location", record.LocationName),
		zap.String("date", record.Date),
		zap.Float64("total_without_tip", record.TotalWithoutTip))

	return record, nil
}

func (e *Extractor) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			wait := e.backoff * time.Duration(attempt)
			e.logger.Warn("Retrying OpenAI API call",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", &entity.ExtractionError{Reason: "cancelled", Err: ctx.Err()}
			case <-time.After(wait):
			}
		}

		resp, err := e.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			if !retryable(err) {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			return "", &entity.ExtractionError{Reason: "no response from OpenAI"}
		}
		return resp.Choices[0].Message.Content, nil
	}

	e.logger.Error("OpenAI API call failed", zap.Error(lastErr))
	return "", &entity.ExtractionError{Reason: "OpenAI API call failed", Err: lastErr}
}

// retryable reports whether an API error is worth another attempt
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return true
}

// decodeRecord parses the model output, falling back to the first JSON
// object embedded in surrounding prose or code fences
func decodeRecord(content string) (entity.BillingRecord, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		jsonStr := extractJSON(content)
		if jsonStr == "" {
			return entity.BillingRecord{}, fmt.Errorf("no JSON object in response: %w", err)
		}
		if err := json.Unmarshal([]byte(jsonStr), &fields); err != nil {
			return entity.BillingRecord{}, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return entity.RecordFromMap(fields)
}

// extractJSON returns the first balanced JSON object in content
func extractJSON(content string) string {
	start := findJSONStart(content)
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

func findJSONStart(content string) int {
	for i := 0; i < len(content); i++ {
		if content[i] == '{' {
			return i
		}
	}
	return -1
}

// findJSONEnd finds the end of JSON content starting at a given position
func findJSONEnd(content string, start int) int {
	if start < 0 || start >= len(content) || content[start] != '{' {
		return -1
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}

	return -1
}
