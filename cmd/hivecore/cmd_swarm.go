// HiveCore - AI agent orchestration core
// License: MIT
//
// Copyright (c) 2026 HiveCore contributors

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hivecore/hivecore/pkg/core"
	"github.com/hivecore/hivecore/pkg/router"
	"github.com/hivecore/hivecore/pkg/swarm"
)

func newDecomposeCommand(configPath *string) *cobra.Command {
	var (
		strategy string
		queue    bool
	)

	cmd := &cobra.Command{
		Use:   "decompose <task>",
		Short: "Split a task into subtasks, optionally queueing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withCore(*configPath, func(ctx context.Context, c *core.Core) error {
				opts := swarm.DecomposeOptions{
					Strategy: router.Strategy(strategy),
					Caller:   "cli",
				}

				var (
					subtasks []swarm.Subtask
					swarmID  string
					err      error
				)
				if queue {
					swarmID, subtasks, err = c.Decomposer.DecomposeAndQueue(ctx, args[0], opts)
				} else {
					subtasks, err = c.Decomposer.Decompose(ctx, args[0], opts)
				}
				if err != nil {
					return err
				}

				if swarmID != "" {
					fmt.Printf("Swarm: %s\n", swarmID)
				}
				for i, st := range subtasks {
					deps := ""
					if len(st.DependsOn) > 0 {
						deps = fmt.Sprintf(" deps=%v", st.DependsOn)
					}
					fmt.Printf("  [%d] %s (%s/%s)%s\n", i, st.Description, st.Capability, st.Mode, deps)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "Strategy for the decomposition call")
	cmd.Flags().BoolVar(&queue, "queue", false, "Persist the subtasks as a swarm")

	return cmd
}

func newExecuteCommand(configPath *string) *cobra.Command {
	var (
		strategy      string
		skipSynthesis bool
	)

	cmd := &cobra.Command{
		Use:   "execute <task>",
		Short: "Decompose a task and run it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withCore(*configPath, func(ctx context.Context, c *core.Core) error {
				res, err := c.Executor.ExecuteDecomposed(ctx, args[0], swarm.ExecuteOptions{
					DefaultStrategy: router.Strategy(strategy),
					Caller:          "cli",
					SkipSynthesis:   skipSynthesis,
					OnSubtaskComplete: func(index int, _ string) {
						fmt.Printf("  subtask %d done\n", index)
					},
					OnSubtaskError: func(index int, err error) {
						fmt.Printf("  subtask %d failed: %v\n", index, err)
					},
				})
				if err != nil {
					return err
				}

				fmt.Printf("Swarm: %s (success=%t)\n", res.SwarmID, res.Success)
				if res.Synthesis != "" {
					fmt.Printf("\n%s\n", res.Synthesis)
					return nil
				}
				for i := 0; i < len(res.Results)+len(res.Errors); i++ {
					if msg, ok := res.Errors[i]; ok {
						fmt.Printf("\n[%d] ERROR: %s\n", i, msg)
					} else if out, ok := res.Results[i]; ok {
						fmt.Printf("\n[%d] %s\n", i, out)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "Default strategy for subtasks")
	cmd.Flags().BoolVar(&skipSynthesis, "skip-synthesis", false, "Print per-subtask results without merging")

	return cmd
}

func newSwarmCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swarm",
		Short: "Inspect persisted swarms",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status <swarm-id>",
		Short: "Show task counts by status",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withCore(*configPath, func(_ context.Context, c *core.Core) error {
				status, err := c.Swarm.GetSwarmStatus(args[0])
				if err != nil {
					return err
				}
				if status.Total == 0 {
					return fmt.Errorf("no swarm %q", args[0])
				}
				fmt.Printf("total=%d pending=%d claimed=%d running=%d done=%d failed=%d\n",
					status.Total, status.Pending, status.Claimed, status.Running,
					status.Done, status.Failed)
				complete, err := c.Swarm.IsSwarmComplete(args[0])
				if err != nil {
					return err
				}
				fmt.Printf("complete=%t\n", complete)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "results <swarm-id>",
		Short: "Print each task's result or error in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withCore(*configPath, func(_ context.Context, c *core.Core) error {
				tasks, err := c.Swarm.GetSwarmResults(args[0])
				if err != nil {
					return err
				}
				if len(tasks) == 0 {
					return fmt.Errorf("no swarm %q", args[0])
				}
				for _, task := range tasks {
					fmt.Printf("[%d] %s (%s)\n", task.Seq, task.Description, task.Status)
					if task.Error != "" {
						fmt.Printf("    error: %s\n", task.Error)
					} else if task.Result != "" {
						fmt.Printf("    %s\n", strings.ReplaceAll(task.Result, "\n", "\n    "))
					}
				}
				return nil
			})
		},
	})

	return cmd
}

func newCleanCommand(configPath *string) *cobra.Command {
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete old completed swarms and expired messages",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withCore(*configPath, func(_ context.Context, c *core.Core) error {
				swarms, err := c.Swarm.CleanCompletedSwarms(retentionDays)
				if err != nil {
					return err
				}
				msgs, err := c.Bus.CleanExpired()
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d swarm tasks and %d expired messages.\n", swarms, msgs)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 7, "Keep completed swarms younger than this")

	return cmd
}
