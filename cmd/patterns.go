package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/internal/observability"
	"github.com/xkilldash9x/locus/internal/service"
)

func newPatternsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect and maintain pattern memory",
	}
	cmd.AddCommand(newPatternsTopCmd(a), newPatternsCleanupCmd(a))
	return cmd
}

// withMemory creates the components needed for pattern maintenance and
// shuts them down afterwards.
func withMemory(ctx context.Context, a *app, projectID string, fn func(*service.Components) error) error {
	comps, err := a.factory.Create(ctx, a.cfg, service.Options{ProjectID: projectID}, observability.GetLogger())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = comps.Shutdown(shutdownCtx)
	}()
	return fn(comps)
}

func newPatternsTopCmd(a *app) *cobra.Command {
	var projectID string
	var limit int

	cmd := &cobra.Command{
		Use:   "top",
		Short: "List the most reinforced patterns of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project is required")
			}
			return withMemory(cmd.Context(), a, projectID, func(c *service.Components) error {
				patterns, err := c.Memory.TopPatterns(cmd.Context(), projectID, limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SUCCESS\tCONFIDENCE\tHOST\tACTION\tLOCATOR\tLAST USED")
				for _, p := range patterns {
					fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
						p.SuccessCount, p.Confidence, p.URLPattern, p.ActionText, p.Locator(), p.LastUsedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project to list (required)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of patterns to show")
	return cmd
}

func newPatternsCleanupCmd(a *app) *cobra.Command {
	var projectID string
	var minSuccess, maxAgeDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete patterns that are both rarely successful and stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project is required")
			}
			if !cmd.Flags().Changed("min-success") {
				minSuccess = a.cfg.Memory.Cleanup.MinSuccessCount
			}
			if !cmd.Flags().Changed("max-age-days") {
				maxAgeDays = a.cfg.Memory.Cleanup.MaxAgeDays
			}
			return withMemory(cmd.Context(), a, projectID, func(c *service.Components) error {
				n, err := c.Memory.Cleanup(cmd.Context(), projectID, minSuccess, maxAgeDays)
				if err != nil {
					return err
				}
				observability.GetLogger().Info("Pattern cleanup finished.",
					zap.String("project", projectID), zap.Int64("deleted", n))
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d patterns\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project to clean (required)")
	cmd.Flags().IntVar(&minSuccess, "min-success", 0, "delete patterns with fewer successes than this (default from memory.cleanup)")
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "and unused for longer than this many days (default from memory.cleanup)")
	return cmd
}
