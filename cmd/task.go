// cmd/task.go
package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/observability"
)

// newTaskCmd creates the `task` command: run one free-form instruction
// through the agent loop and stream its progress.
func newTaskCmd() *cobra.Command {
	var (
		startURL string
		maxSteps int
	)

	taskCmd := &cobra.Command{
		Use:   "task [instruction...]",
		Short: "Run a natural-language task in the browser",
		Example: `  webpilot task "Log into the dashboard and export the monthly report"
  webpilot task --url https://news.ycombinator.com "Open the top story"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			rt, err := buildRuntime(logger)
			if err != nil {
				return err
			}
			shutdown, err := rt.start(ctx)
			if err != nil {
				return err
			}
			defer shutdown()

			stop := rt.streamProgress(cmd.Printf)
			defer stop()

			task, err := rt.svc.CreateTask(ctx, schemas.TaskRequest{
				Instruction: strings.Join(args, " "),
				URL:         startURL,
				MaxSteps:    maxSteps,
			})
			if err != nil {
				return err
			}
			cmd.Printf("Task %s started.\n", task.ID())

			if err := rt.svc.WaitTask(ctx, task.ID()); err != nil {
				// Interrupted: request cancellation and wait for the
				// in-flight step to finish.
				_ = rt.svc.CancelTask(task.ID())
				_ = rt.svc.WaitTask(context.Background(), task.ID())
			}
			return printTaskOutcome(task.View(), cmd.Printf)
		},
	}

	taskCmd.Flags().StringVar(&startURL, "url", "", "page to open before the agent starts")
	taskCmd.Flags().IntVar(&maxSteps, "max-steps", 0, "override the step budget for this task")
	return taskCmd
}
