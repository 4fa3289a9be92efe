package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/observability"
	"github.com/xkilldash9x/locus/internal/service"
	"github.com/xkilldash9x/locus/internal/smart"
)

type actOptions struct {
	projectID   string
	url         string
	target      string
	value       string
	description string
	noAI        bool
	noFallback  bool
}

func newActCmd(a *app) *cobra.Command {
	var opts actOptions

	cmd := &cobra.Command{
		Use:   "act click|fill|wait",
		Short: "Perform one self-healing action on a page",
		Long: `Opens --url and performs the action on --target. Targets are CSS selectors,
"text=Label" or "coords=X,Y". When the target no longer works, locus heals it
from pattern memory and then from the vision oracle. The outcome is printed
as JSON.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"click", "fill", "wait"},
		RunE: func(cmd *cobra.Command, args []string) error {
			verb := args[0]
			switch verb {
			case "click", "wait":
			case "fill":
				if !cmd.Flags().Changed("value") {
					return fmt.Errorf("fill needs --value")
				}
			default:
				return fmt.Errorf("unknown action %q: want click, fill or wait", verb)
			}
			if opts.url == "" || opts.target == "" {
				return fmt.Errorf("--url and --target are required")
			}

			ctx := cmd.Context()
			comps, err := a.factory.Create(ctx, a.cfg, service.Options{
				ProjectID: opts.projectID,
				Browser:   true,
				AI:        !opts.noAI,
			}, observability.GetLogger())
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				defer cancel()
				_ = comps.Shutdown(shutdownCtx)
			}()

			page, err := comps.BrowserManager.NewPage(ctx)
			if err != nil {
				return err
			}
			defer page.Close()
			if err := page.Navigate(ctx, opts.url); err != nil {
				return err
			}
			if err := page.WaitForLoad(ctx); err != nil {
				return err
			}

			out, actErr := perform(ctx, comps.Actor, page, verb, opts)
			if out != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			return actErr
		},
	}

	cmd.Flags().StringVarP(&opts.projectID, "project", "p", "default", "project whose patterns heal the target")
	cmd.Flags().StringVar(&opts.url, "url", "", "page to open (required)")
	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "target descriptor (required)")
	cmd.Flags().StringVar(&opts.value, "value", "", "text to type for fill")
	cmd.Flags().StringVarP(&opts.description, "description", "d", "", "human wording of the action, used for healing")
	cmd.Flags().BoolVar(&opts.noAI, "no-ai", false, "disable the vision tier")
	cmd.Flags().BoolVar(&opts.noFallback, "no-fallback", false, "fail if the target does not work as given; never heal it")
	return cmd
}

func perform(ctx context.Context, actor *smart.Actor, page schemas.Page, verb string, opts actOptions) (*smart.Outcome, error) {
	call := smart.Call{Description: opts.description, NoFallback: opts.noFallback}
	switch verb {
	case "fill":
		return actor.SmartFill(ctx, page, opts.target, opts.value, call)
	case "wait":
		return actor.SmartWaitFor(ctx, page, opts.target, call)
	default:
		return actor.SmartClick(ctx, page, opts.target, call)
	}
}
