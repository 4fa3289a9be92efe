package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/config"
)

// contentGenerator is the slice of *genai.Models the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GoogleClient implements schemas.LLMClient on the Google Gen AI SDK.
type GoogleClient struct {
	client *genai.Client
	models contentGenerator
	config config.LLMModelConfig
	logger *zap.Logger

	// maxElapsed bounds the retry loop of a single Generate call.
	maxElapsed   time.Duration
	firstBackoff time.Duration
}

var _ schemas.LLMClient = (*GoogleClient)(nil)

// NewGoogleClient creates a client for the model described by cfg.
func NewGoogleClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GoogleClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Google/Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model name is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions.BaseURL = cfg.Endpoint
	}
	if cfg.APITimeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.APITimeout}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GoogleClient{
		client:       client,
		models:       client.Models,
		config:       cfg,
		logger:       logger.Named("llm_client.google").With(zap.String("model", cfg.Model)),
		maxElapsed:   2 * time.Minute,
		firstBackoff: 500 * time.Millisecond,
	}, nil
}

// Generate sends the request, retrying transient failures with exponential
// backoff until ctx ends or the retry budget is spent.
func (c *GoogleClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents, cfg := c.buildRequest(req)

	b := backoff.NewExponentialBackOff()
	if c.firstBackoff > 0 {
		b.InitialInterval = c.firstBackoff
	}
	b.MaxElapsedTime = c.maxElapsed
	b.MaxInterval = 30 * time.Second

	var text string
	operation := func() error {
		started := time.Now()
		resp, err := c.models.GenerateContent(ctx, c.config.Model, contents, cfg)
		if err != nil {
			if ctx.Err() != nil || !isRetryable(err) {
				return backoff.Permanent(fmt.Errorf("generate content: %w", err))
			}
			c.logger.Warn("Transient LLM error, retrying", zap.Error(err))
			return fmt.Errorf("generate content: %w", err)
		}

		if len(resp.Candidates) == 0 {
			return backoff.Permanent(errors.New("model returned no candidates"))
		}
		cand := resp.Candidates[0]
		out := resp.Text()
		if strings.TrimSpace(out) == "" {
			switch cand.FinishReason {
			case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
				return backoff.Permanent(fmt.Errorf("model blocked the request (reason: %s)", cand.FinishReason))
			}
			return fmt.Errorf("model returned empty content (reason: %s)", cand.FinishReason)
		}

		fields := []zap.Field{zap.Duration("duration", time.Since(started))}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount),
			)
		}
		c.logger.Debug("LLM generation complete", fields...)
		text = out
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

func (c *GoogleClient) buildRequest(req schemas.GenerationRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	parts := make([]*genai.Part, 0, 1+len(req.Images))
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.UserPrompt))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.config.Temperature),
	}
	if req.Options.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Options.Temperature))
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if topP := firstPositive(req.Options.TopP, float64(c.config.TopP)); topP > 0 {
		cfg.TopP = genai.Ptr(float32(topP))
	}
	if topK := firstPositive(float64(req.Options.TopK), float64(c.config.TopK)); topK > 0 {
		cfg.TopK = genai.Ptr(float32(topK))
	}
	if c.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if req.Options.ForceJSONFormat {
		cfg.ResponseMIMEType = "application/json"
	}
	return contents, cfg
}

// Close releases the client. The SDK holds no resources beyond its HTTP
// client, so this only exists to satisfy schemas.LLMClient.
func (c *GoogleClient) Close() error { return nil }

// isRetryable reports whether err is worth another attempt: rate limiting,
// server-side failures and transport errors are; request errors are not.
func isRetryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
