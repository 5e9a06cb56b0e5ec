// HiveCore - AI agent orchestration core
// License: MIT
//
// Copyright (c) 2026 HiveCore contributors

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivecore/hivecore/pkg/core"
	"github.com/hivecore/hivecore/pkg/router"
)

func newRunCommand(configPath *string) *cobra.Command {
	var (
		model      string
		strategy   string
		capability string
		caller     string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Send a prompt through the router",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withCore(*configPath, func(ctx context.Context, c *core.Core) error {
				opts := router.Options{
					Model:   model,
					Timeout: timeout,
					Caller:  caller,
				}

				var (
					res *router.Result
					err error
				)
				if strategy != "" {
					res, err = c.Router.RoutedLLM(ctx, args[0], router.RoutedOptions{
						Strategy:   router.Strategy(strategy),
						Capability: capability,
						Options:    opts,
					})
				} else {
					res, err = c.Router.RunLLM(ctx, args[0], opts)
				}
				if err != nil {
					return err
				}

				fmt.Println(res.Text)
				fmt.Printf("\n[%s/%s %din/%dout %s]\n",
					res.Provider, res.Model, res.InputTokens, res.OutputTokens,
					res.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model name or alias (default claude-sonnet-4-5)")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "Selection strategy: cheapest, fastest, best, balanced, specific")
	cmd.Flags().StringVar(&capability, "capability", "", "Restrict strategy selection to models with this capability")
	cmd.Flags().StringVar(&caller, "caller", "cli", "Caller tag recorded in the call log")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-call timeout override")

	return cmd
}

func newStatsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-model call statistics",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withCore(*configPath, func(_ context.Context, c *core.Core) error {
				stats, err := c.Router.GetModelStats()
				if err != nil {
					return err
				}
				if len(stats) == 0 {
					fmt.Println("No calls recorded in the stats window.")
					return nil
				}
				fmt.Printf("%-24s %8s %10s %9s %10s\n", "MODEL", "CALLS", "AVG MS", "SUCCESS", "AVG COST")
				for _, s := range stats {
					fmt.Printf("%-24s %8d %10.0f %8.0f%% %10.6f\n",
						s.Model, s.CallCount, s.AvgLatencyMs, s.SuccessRate*100, s.AvgCost)
				}
				return nil
			})
		},
	}
}
