package schemas

import (
	"context"
	"time"
)

// -- Page Interface --

// ExtractionPass is the raw output of one DOM extraction. Element refs are only
// valid while PassID is the page's current pass.
type ExtractionPass struct {
	PassID   string       `json:"pass_id"`
	URL      string       `json:"url"`
	Elements []RawElement `json:"elements"`
}

// Page is the live browser page a scenario runs against. Callers pass it
// explicitly; nothing in the engine holds a page globally.
type Page interface {
	// URL returns the current document URL.
	URL(ctx context.Context) (string, error)
	// Navigate loads a URL and invalidates any outstanding element handles.
	Navigate(ctx context.Context, url string) error
	// WaitForLoad blocks until the document reports it has loaded.
	WaitForLoad(ctx context.Context) error
	// Extract tags every candidate element with a fresh pass-scoped handle and
	// reports them. Handles from earlier passes become stale.
	Extract(ctx context.Context) (*ExtractionPass, error)
	// Describe reports durable attributes for a handle from the current pass.
	// Stale handles fail with ErrStaleHandle.
	Describe(ctx context.Context, ref ElementRef) (ElementIdentity, error)

	Click(ctx context.Context, loc Locator) error
	Fill(ctx context.Context, loc Locator, value string) error
	Select(ctx context.Context, loc Locator, value string) error
	Check(ctx context.Context, loc Locator) error
	// IsVisible waits up to timeout for the locator to become visible.
	// A locator that never becomes visible yields (false, nil).
	IsVisible(ctx context.Context, loc Locator, timeout time.Duration) (bool, error)

	// ClickAt dispatches a mouse click at viewport CSS pixel coordinates.
	ClickAt(ctx context.Context, x, y float64) error
	// TypeText inserts text into whatever element currently has focus.
	TypeText(ctx context.Context, text string) error
	// Screenshot captures the current viewport.
	Screenshot(ctx context.Context) (Screenshot, error)
}

// -- Pattern Store Interface --

// PatternStore persists learned patterns. Implementations must make Upsert
// atomic with respect to the pattern's uniqueness key.
type PatternStore interface {
	// Upsert inserts a new pattern or, when the key exists, increments
	// SuccessCount, raises Confidence to max(old, new) and refreshes LastUsedAt.
	// It returns the stored row.
	Upsert(ctx context.Context, p MemoryPattern) (MemoryPattern, error)
	// FindExact returns patterns matching the full key minus selector, ranked
	// by success count then confidence.
	FindExact(ctx context.Context, projectID, actionText, urlPattern string, inModal bool) ([]MemoryPattern, error)
	// FindPartial returns patterns in (projectID, inModal) whose action text
	// contains token, ranked like FindExact.
	FindPartial(ctx context.Context, projectID, token string, inModal bool) ([]MemoryPattern, error)
	// ListScope returns every pattern in (projectID, inModal).
	ListScope(ctx context.Context, projectID string, inModal bool) ([]MemoryPattern, error)
	// Top returns the most reinforced patterns of a project.
	Top(ctx context.Context, projectID string, limit int) ([]MemoryPattern, error)
	// Cleanup deletes patterns with SuccessCount below minSuccess that were
	// last used before cutoff, returning how many were removed.
	Cleanup(ctx context.Context, projectID string, minSuccess int, cutoff time.Time) (int64, error)
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // text oracle decisions
	TierPowerful ModelTier = "powerful" // vision decisions
)

// GenerationOptions tunes a single generation call.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
}

// ImagePart is an inline image attached to a generation request.
type ImagePart struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, any images, the desired model tier and options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Images       []ImagePart       `json:"images,omitempty"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider (e.g., Gemini).
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases any resources held by the client.
	Close() error
}
