// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/internal/browser"
	"github.com/xkilldash9x/locus/internal/config"
	"github.com/xkilldash9x/locus/internal/discovery"
	"github.com/xkilldash9x/locus/internal/heuristic"
	"github.com/xkilldash9x/locus/internal/memory"
	"github.com/xkilldash9x/locus/internal/observability"
	"github.com/xkilldash9x/locus/internal/oracle"
	"github.com/xkilldash9x/locus/internal/smart"
	"github.com/xkilldash9x/locus/internal/snapshot"
)

// Options selects what a command needs.
type Options struct {
	ProjectID string
	// Browser launches Chrome. Pattern maintenance commands leave it off.
	Browser bool
	// AI wires the text and vision oracles. When the LLM client cannot be
	// built the oracle tiers are left out and the run continues without them.
	AI bool
}

// ComponentFactory creates the components for a command. Commands depend on
// the interface so their wiring can be replaced in tests.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires the pattern store, memory, reinforcement sink, oracles,
// discovery executor, runtime actor and, optionally, the browser. Partially
// built components are shut down when a later step fails.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (comps *Components, err error) {
	logger = observability.OrNop(logger)
	c := &Components{logger: logger}
	defer func() {
		if err != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(err))
			_ = c.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	// 1. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = observability.NewMetrics("locus", reg)
	if cfg.Metrics.Enabled {
		c.metricsServer = StartMetricsServer(cfg.Metrics.Addr, reg, logger)
	}

	// 2. Lexicon
	c.Lexicon, err = InitializeLexicon(cfg.Resolver.LexiconFile)
	if err != nil {
		return nil, err
	}

	// 3. Pattern store, memory and reinforcement sink
	c.Store, c.storeCleanup, err = InitializeStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pattern store: %w", err)
	}
	c.Memory = memory.New(c.Store, c.Lexicon, logger, memory.WithMetrics(c.Metrics))
	var sink memory.Sink = memory.NewStoreSink(c.Memory, logger, c.Metrics)
	if cfg.Memory.AsyncQueueSize > 0 {
		c.asyncSink = memory.NewAsyncSink(sink, cfg.Memory.AsyncQueueSize, logger)
		sink = c.asyncSink
	}
	c.Sink = sink

	// 4. Oracles
	discoveryDeps := discovery.Dependencies{
		Extractor: snapshot.NewExtractor(logger, cfg.Resolver.MaxTextLength),
		Matcher:   heuristic.NewMatcher(c.Lexicon),
		Lexicon:   c.Lexicon,
		Memory:    c.Memory,
		Sink:      c.Sink,
		Metrics:   c.Metrics,
	}
	actorDeps := smart.Dependencies{
		Memory:  c.Memory,
		Sink:    c.Sink,
		Lexicon: c.Lexicon,
		Metrics: c.Metrics,
	}
	if opts.AI {
		llm, llmErr := InitializeLLMClient(ctx, cfg.Agent, logger)
		if llmErr != nil {
			logger.Warn("LLM client unavailable; oracle tiers disabled.", zap.Error(llmErr))
		} else {
			c.LLM = llm
			oracleOpts := oracle.Options{
				Timeout:     cfg.Resolver.OracleTimeout,
				Limiter:     oracle.NewLimiter(cfg.Resolver.OracleRateLimit, cfg.Resolver.OracleBurst),
				MaxElements: cfg.Resolver.MaxSnapshotElements,
				Metrics:     c.Metrics,
			}
			text := oracle.NewTextOracle(llm, c.Lexicon, logger, oracleOpts)
			vision := oracle.NewVisionOracle(llm, logger, oracleOpts)
			discoveryDeps.Text = text
			discoveryDeps.Vision = vision
			actorDeps.Vision = vision
		}
	}

	// 5. Discovery executor and runtime actor
	c.Executor = discovery.NewExecutor(discoveryDeps, discovery.Options{
		Threshold:         cfg.Resolver.DiscoveryVisionThreshold,
		HeuristicAccept:   cfg.Resolver.HeuristicAccept,
		SettleDelay:       cfg.Resolver.SettleDelay,
		VisibilityTimeout: cfg.Resolver.VisibilityTimeout,
		StepTimeout:       cfg.Resolver.StepTimeout,
	}, logger)
	c.Actor = smart.NewActor(actorDeps, smart.Options{
		ProjectID:       opts.ProjectID,
		VisionThreshold: cfg.Resolver.RuntimeVisionThreshold,
		DirectTimeout:   cfg.Resolver.VisibilityTimeout,
	}, logger)

	// 6. Browser
	if opts.Browser {
		c.BrowserManager, err = browser.NewManager(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize browser manager: %w", err)
		}
	}

	logger.Debug("All components initialized.", zap.Bool("browser", opts.Browser), zap.Bool("ai", c.LLM != nil))
	return c, nil
}
