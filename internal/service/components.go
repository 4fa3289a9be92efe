// File: internal/service/components.go
package service

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/browser"
	"github.com/xkilldash9x/locus/internal/discovery"
	"github.com/xkilldash9x/locus/internal/lexicon"
	"github.com/xkilldash9x/locus/internal/memory"
	"github.com/xkilldash9x/locus/internal/observability"
	"github.com/xkilldash9x/locus/internal/smart"
)

// Components holds everything a command needs to discover or act, and
// centralizes their lifecycle.
type Components struct {
	Store    schemas.PatternStore
	Memory   *memory.Memory
	Sink     memory.Sink
	LLM      schemas.LLMClient
	Lexicon  *lexicon.Lexicon
	Metrics  *observability.Metrics
	Executor *discovery.Executor
	Actor    *smart.Actor
	// BrowserManager is nil unless a browser was requested.
	BrowserManager *browser.Manager

	asyncSink     *memory.AsyncSink
	metricsServer *http.Server
	storeCleanup  func()
	logger        *zap.Logger
}

// Shutdown releases the components in dependency order: the browser first so
// no new observations arrive, then the reinforcement queue, then the backends
// it writes to. It returns the first error encountered and keeps going.
func (c *Components) Shutdown(ctx context.Context) error {
	logger := observability.OrNop(c.logger)
	logger.Debug("Beginning components shutdown sequence.")
	var errs []error

	if c.BrowserManager != nil {
		if err := c.BrowserManager.Shutdown(ctx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
			errs = append(errs, err)
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	if c.asyncSink != nil {
		if err := c.asyncSink.Close(ctx); err != nil && !errors.Is(err, memory.ErrSinkClosed) {
			logger.Warn("Pattern queue did not drain.", zap.Error(err), zap.Int64("dropped", c.asyncSink.Dropped()))
			errs = append(errs, err)
		} else {
			logger.Debug("Pattern queue drained.", zap.Int64("dropped", c.asyncSink.Dropped()))
		}
	}

	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if c.storeCleanup != nil {
		c.storeCleanup()
		logger.Debug("Pattern store closed.")
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			logger.Warn("Error stopping metrics server.", zap.Error(err))
			errs = append(errs, err)
		}
	}

	logger.Debug("All components shut down.")
	return errors.Join(errs...)
}
