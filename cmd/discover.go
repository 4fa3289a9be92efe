package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/discovery"
	"github.com/xkilldash9x/locus/internal/observability"
	"github.com/xkilldash9x/locus/internal/reporting"
	"github.com/xkilldash9x/locus/internal/service"
	"github.com/xkilldash9x/locus/internal/steps"
)

// errScenariosHalted is returned when at least one scenario did not map every
// step, so CI jobs fail without treating it as a crash.
var errScenariosHalted = errors.New("one or more scenarios stopped at an unmapped step")

type discoverOptions struct {
	projectID string
	startURL  string
	format    string
	output    string
	noAI      bool
	timeout   time.Duration
}

func newDiscoverCmd(a *app) *cobra.Command {
	var opts discoverOptions

	cmd := &cobra.Command{
		Use:   "discover SCENARIO_FILE...",
		Short: "Map every step of one or more scenarios to durable locators",
		Long: `Runs each scenario's steps in order against a live browser, resolving the
element each step refers to and executing it. The run stops at the first step
no resolution tier can map. Learned patterns are stored in pattern memory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.projectID == "" {
				return fmt.Errorf("--project is required")
			}
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Load every scenario up front so a typo fails before Chrome starts.
			scenarios := make([]schemas.Scenario, 0, len(args))
			for _, path := range args {
				sc, err := steps.LoadScenario(path)
				if err != nil {
					return err
				}
				if opts.startURL != "" {
					sc.StartURL = opts.startURL
				}
				scenarios = append(scenarios, sc)
			}

			reporter, err := reporting.New(opts.format, opts.output, Version)
			if err != nil {
				return err
			}

			comps, err := a.factory.Create(ctx, a.cfg, service.Options{
				ProjectID: opts.projectID,
				Browser:   true,
				AI:        !opts.noAI,
			}, logger)
			if err != nil {
				_ = reporter.Close()
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				defer cancel()
				_ = comps.Shutdown(shutdownCtx)
			}()

			project := schemas.ProjectContext{ProjectID: opts.projectID}
			runErr := runScenarios(ctx, comps, scenarios, project, opts.timeout, reporter, logger)
			if err := reporter.Close(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&opts.projectID, "project", "p", "", "project the learned patterns belong to (required)")
	cmd.Flags().StringVar(&opts.startURL, "url", "", "override every scenario's start_url")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "json", "report format: json or junit")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "stdout", "report path")
	cmd.Flags().BoolVar(&opts.noAI, "no-ai", false, "resolve with heuristics and memory only")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "bound for each scenario (0 means none)")
	return cmd
}

func runScenarios(ctx context.Context, comps *service.Components, scenarios []schemas.Scenario, project schemas.ProjectContext,
	timeout time.Duration, reporter reporting.Reporter, logger *zap.Logger) error {
	halted := 0
	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep, err := runScenario(ctx, comps, sc, project, timeout)
		if rep != nil {
			if werr := reporter.Write(rep); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Error("Scenario failed.", zap.String("scenario", sc.Name), zap.Error(err))
			halted++
			continue
		}
		if rep.State != discovery.StateCompleted {
			halted++
		}
	}
	if halted > 0 {
		return fmt.Errorf("%w (%d of %d)", errScenariosHalted, halted, len(scenarios))
	}
	return nil
}

func runScenario(ctx context.Context, comps *service.Components, sc schemas.Scenario, project schemas.ProjectContext, timeout time.Duration) (*discovery.Report, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	page, err := comps.BrowserManager.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	defer page.Close()
	return comps.Executor.DiscoverElementsSequentially(ctx, page, sc, project)
}
