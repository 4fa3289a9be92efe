package llmclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/xkilldash9x/locus/api/schemas"
)

// scriptedGenerator returns its responses in order, one per call.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []*genai.GenerateContentResponse
	errs      []error
	calls     int
	lastModel string
	lastCfg   *genai.GenerateContentConfig
	lastParts []*genai.Part
}

func (g *scriptedGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	g.lastModel = model
	g.lastCfg = cfg
	if len(contents) > 0 {
		g.lastParts = contents[0].Parts
	}
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	return textResponse("fallback"), nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 5, TotalTokenCount: 15},
	}
}

func newTestClient(t *testing.T, gen contentGenerator) *GoogleClient {
	t.Helper()
	return &GoogleClient{
		models:       gen,
		config:       getValidLLMConfig(),
		logger:       zaptest.NewLogger(t),
		maxElapsed:   5 * time.Second,
		firstBackoff: 5 * time.Millisecond,
	}
}

func TestNewGoogleClient_Success(t *testing.T) {
	c, err := NewGoogleClient(context.Background(), getValidLLMConfig(), setupTestLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, c.client)
	assert.NotNil(t, c.models)
	assert.NoError(t, c.Close())
}

func TestNewGoogleClient_Failure(t *testing.T) {
	cfg := getValidLLMConfig()
	cfg.APIKey = ""
	_, err := NewGoogleClient(context.Background(), cfg, setupTestLogger(t))
	assert.ErrorContains(t, err, "API Key is required")

	cfg = getValidLLMConfig()
	cfg.Model = ""
	_, err = NewGoogleClient(context.Background(), cfg, setupTestLogger(t))
	assert.Error(t, err)
}

func TestBuildRequest(t *testing.T) {
	c := newTestClient(t, &scriptedGenerator{})

	contents, cfg := c.buildRequest(schemas.GenerationRequest{
		SystemPrompt: "system",
		UserPrompt:   "user",
		Images:       []schemas.ImagePart{{MIMEType: "image/png", Data: []byte{1, 2, 3}}},
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	})

	require.Len(t, contents, 1)
	require.Len(t, contents[0].Parts, 2, "image then text")
	require.NotNil(t, contents[0].Parts[0].InlineData)
	assert.Equal(t, "image/png", contents[0].Parts[0].InlineData.MIMEType)
	assert.Equal(t, "user", contents[0].Parts[1].Text)

	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "system", cfg.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	assert.InDelta(t, 0.2, *cfg.Temperature, 1e-6, "model default temperature")
	assert.InDelta(t, 0.9, *cfg.TopP, 1e-6)
	assert.InDelta(t, 40, *cfg.TopK, 1e-6)
	assert.Equal(t, int32(1024), cfg.MaxOutputTokens)

	_, cfg = c.buildRequest(schemas.GenerationRequest{UserPrompt: "u", Options: schemas.GenerationOptions{Temperature: 0.7, TopK: 5}})
	assert.Nil(t, cfg.SystemInstruction)
	assert.Empty(t, cfg.ResponseMIMEType)
	assert.InDelta(t, 0.7, *cfg.Temperature, 1e-6, "request overrides model temperature")
	assert.InDelta(t, 5, *cfg.TopK, 1e-6)
}

func TestGenerate_Success(t *testing.T) {
	gen := &scriptedGenerator{responses: []*genai.GenerateContentResponse{textResponse(`{"ok":true}`)}}
	c := newTestClient(t, gen)

	out, err := c.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "test-model", gen.lastModel)
	assert.Equal(t, 1, gen.calls)
}

func TestGenerate_RetryOnTransientErrors(t *testing.T) {
	gen := &scriptedGenerator{
		errs: []error{
			genai.APIError{Code: http.StatusTooManyRequests, Message: "slow down"},
			genai.APIError{Code: http.StatusServiceUnavailable, Message: "overloaded"},
		},
		responses: []*genai.GenerateContentResponse{nil, nil, textResponse("third time lucky")},
	}
	c := newTestClient(t, gen)

	out, err := c.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", out)
	assert.Equal(t, 3, gen.calls)
}

func TestGenerate_NoRetryOnPermanentErrors(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{genai.APIError{Code: http.StatusBadRequest, Message: "bad request"}}}
	c := newTestClient(t, gen)

	_, err := c.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, gen.calls)
}

func TestGenerate_Failure_SafetyBlock(t *testing.T) {
	blocked := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}
	gen := &scriptedGenerator{responses: []*genai.GenerateContentResponse{blocked}}
	c := newTestClient(t, gen)

	_, err := c.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
	assert.Equal(t, 1, gen.calls)
}

func TestGenerate_Failure_NoCandidates(t *testing.T) {
	gen := &scriptedGenerator{responses: []*genai.GenerateContentResponse{{}}}
	c := newTestClient(t, gen)

	_, err := c.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	assert.ErrorContains(t, err, "no candidates")
	assert.Equal(t, 1, gen.calls)
}

func TestGenerate_EmptyContentIsRetried(t *testing.T) {
	empty := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonOther}}}
	gen := &scriptedGenerator{responses: []*genai.GenerateContentResponse{empty, textResponse("done")}}
	c := newTestClient(t, gen)

	out, err := c.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 2, gen.calls)
}

func TestGenerate_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &scriptedGenerator{errs: []error{context.Canceled}}
	c := newTestClient(t, gen)

	_, err := c.Generate(ctx, schemas.GenerationRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.LessOrEqual(t, gen.calls, 1)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errors.New("connection reset by peer")))
	assert.True(t, isRetryable(genai.APIError{Code: http.StatusInternalServerError}))
	assert.False(t, isRetryable(genai.APIError{Code: http.StatusForbidden}))
	assert.False(t, isRetryable(context.DeadlineExceeded))
}
