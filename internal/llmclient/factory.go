package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/config"
)

// NewClient builds the tier router described by cfg: one provider client
// for the fast tier (text oracle) and one for the powerful tier (vision).
func NewClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	routing := cfg.LLM
	if routing.DefaultFastModel == "" {
		return nil, fmt.Errorf("configuration error: DefaultFastModel is not specified in LLMRouterConfig")
	}
	if routing.DefaultPowerfulModel == "" {
		return nil, fmt.Errorf("configuration error: DefaultPowerfulModel is not specified in LLMRouterConfig")
	}

	fastCfg, ok := routing.Models[routing.DefaultFastModel]
	if !ok {
		return nil, fmt.Errorf("configuration error: DefaultFastModel '%s' not found in the models map", routing.DefaultFastModel)
	}
	powerfulCfg, ok := routing.Models[routing.DefaultPowerfulModel]
	if !ok {
		return nil, fmt.Errorf("configuration error: DefaultPowerfulModel '%s' not found in the models map", routing.DefaultPowerfulModel)
	}

	fast, err := newProviderClient(ctx, fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Fast tier LLM client (Model: %s): %w", routing.DefaultFastModel, err)
	}
	powerful, err := newProviderClient(ctx, powerfulCfg, logger)
	if err != nil {
		_ = fast.Close()
		return nil, fmt.Errorf("failed to initialize Powerful tier LLM client (Model: %s): %w", routing.DefaultPowerfulModel, err)
	}

	return NewRouter(logger, fast, powerful)
}

func newProviderClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGoogleClient(ctx, cfg, logger)
	case "":
		return nil, fmt.Errorf("LLM provider is not specified in the model configuration")
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}
