package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/locus/internal/config"
	"github.com/xkilldash9x/locus/internal/observability"
)

const (
	launchTimeout         = 30 * time.Second
	defaultViewportWidth  = 1366
	defaultViewportHeight = 768
)

// Manager owns the browser process and bounds how many pages are open at once.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig
	net    config.NetworkConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc
	pages       *semaphore.Weighted

	wg sync.WaitGroup
}

// NewManager launches the browser and checks that it responds.
func NewManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	concurrency := cfg.Browser.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	m := &Manager{
		logger: observability.OrNop(logger).Named("browser_manager"),
		cfg:    cfg.Browser,
		net:    cfg.Network,
		pages:  semaphore.NewWeighted(int64(concurrency)),
	}

	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg.Browser)...)

	testCtx, cancelTest := context.WithTimeout(m.allocCtx, launchTimeout)
	defer cancelTest()
	testCtx, cancelTab := chromedp.NewContext(testCtx)
	defer cancelTab()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched.", zap.Bool("headless", cfg.Browser.Headless), zap.Int("max_pages", concurrency))
	return m, nil
}

// AllocatorOptions assembles the Chrome flags for cfg.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.WindowSize(viewport(cfg)),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

func viewport(cfg config.BrowserConfig) (int, int) {
	w, h := cfg.Viewport["width"], cfg.Viewport["height"]
	if w <= 0 {
		w = defaultViewportWidth
	}
	if h <= 0 {
		h = defaultViewportHeight
	}
	return w, h
}

// NewPage opens a tab, blocking while the configured number of pages is
// already open. The caller must Close the page.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	if err := m.pages.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a free page slot: %w", err)
	}

	tabCtx, cancel := chromedp.NewContext(m.allocCtx)
	w, h := viewport(m.cfg)
	initCtx, cancelInit := CombineContext(tabCtx, ctx)
	defer cancelInit()
	if err := chromedp.Run(initCtx, chromedp.EmulateViewport(int64(w), int64(h))); err != nil {
		cancel()
		m.pages.Release(1)
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	m.wg.Add(1)
	release := func() {
		cancel()
		m.pages.Release(1)
		m.wg.Done()
	}
	return newPage(tabCtx, release, m.net, m.logger), nil
}

// Shutdown waits for open pages to close, up to ctx's deadline, then stops
// the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}
	m.allocCancel()
	<-m.allocCtx.Done()
	m.logger.Info("Browser stopped.")
	return nil
}
