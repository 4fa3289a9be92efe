package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
)

// ErrUnknownTier is returned for a request naming a tier locus does not run.
var ErrUnknownTier = errors.New("unknown model tier")

// Router sends text oracle prompts to the fast model and screenshot prompts
// to the powerful one. Both may be the same client.
type Router struct {
	logger *zap.Logger
	text   schemas.LLMClient
	vision schemas.LLMClient
}

var _ schemas.LLMClient = (*Router)(nil)

// NewRouter pairs the text oracle model with the vision model.
func NewRouter(logger *zap.Logger, text, vision schemas.LLMClient) (*Router, error) {
	if text == nil {
		return nil, errors.New("llm router: text oracle client is nil")
	}
	if vision == nil {
		return nil, errors.New("llm router: vision client is nil")
	}
	return &Router{logger: logger.Named("llm_router"), text: text, vision: vision}, nil
}

// Generate picks the model for req. A request with images always goes to the
// vision model since the fast model is not expected to read screenshots.
func (r *Router) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	client, tier, err := r.route(req)
	if err != nil {
		return "", err
	}
	r.logger.Debug("Routing LLM request",
		zap.String("tier", string(tier)),
		zap.Int("images", len(req.Images)))
	return client.Generate(ctx, req)
}

func (r *Router) route(req schemas.GenerationRequest) (schemas.LLMClient, schemas.ModelTier, error) {
	switch req.Tier {
	case schemas.TierPowerful:
		return r.vision, schemas.TierPowerful, nil
	case schemas.TierFast, "":
		if len(req.Images) > 0 {
			if req.Tier == schemas.TierFast {
				r.logger.Warn("Fast tier request carries images, using the vision model")
			}
			return r.vision, schemas.TierPowerful, nil
		}
		return r.text, schemas.TierFast, nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownTier, req.Tier)
	}
}

// Close closes the text and vision clients, once each when they are shared.
func (r *Router) Close() error {
	err := r.text.Close()
	if err != nil {
		err = fmt.Errorf("close text oracle client: %w", err)
	}
	if r.vision == r.text {
		return err
	}
	if verr := r.vision.Close(); verr != nil {
		err = errors.Join(err, fmt.Errorf("close vision client: %w", verr))
	}
	return err
}
