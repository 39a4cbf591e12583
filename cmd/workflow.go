// cmd/workflow.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/internal/observability"
	"github.com/webpilot-ai/webpilot/internal/replay"
	"github.com/webpilot-ai/webpilot/internal/workflow"
)

// recorderDrainInterval bounds how many captured events a hard
// navigation can destroy while recording.
const recorderDrainInterval = 2 * time.Second

func newWorkflowCmd() *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Record, inspect and replay browser workflows",
	}
	workflowCmd.AddCommand(
		newWorkflowListCmd(),
		newWorkflowShowCmd(),
		newWorkflowRunCmd(),
		newWorkflowDeleteCmd(),
		newWorkflowRecordCmd(),
	)
	return workflowCmd
}

func newWorkflowListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := workflow.NewFileStore(appCfg.Workflows.Dir, observability.GetLogger())
			workflows, err := store.List()
			if err != nil {
				return err
			}
			if len(workflows) == 0 {
				cmd.Println("No workflows recorded yet.")
				return nil
			}
			for _, w := range workflows {
				desc := w.Description
				if desc == "" {
					desc = "(no description)"
				}
				cmd.Printf("%-24s %3d steps  %s\n", w.Name, len(w.Steps), desc)
			}
			return nil
		},
	}
}

func newWorkflowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a stored workflow's steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := workflow.NewFileStore(appCfg.Workflows.Dir, observability.GetLogger())
			w, err := store.Load(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Name:        %s\n", w.Name)
			if w.Description != "" {
				cmd.Printf("Description: %s\n", w.Description)
			}
			if w.StartURL != "" {
				cmd.Printf("Start URL:   %s\n", w.StartURL)
			}
			if len(w.Parameters) > 0 {
				names := make([]string, len(w.Parameters))
				for i, p := range w.Parameters {
					names[i] = p.Name
					if p.Required {
						names[i] += " (required)"
					}
				}
				cmd.Printf("Parameters:  %s\n", strings.Join(names, ", "))
			}
			cmd.Printf("Steps:\n")
			for i, step := range w.Steps {
				desc := step.Description
				if desc == "" {
					desc = step.Action
				}
				cmd.Printf("  %2d. %s\n", i+1, desc)
			}
			return nil
		},
	}
}

func newWorkflowRunCmd() *cobra.Command {
	var (
		mode   string
		params []string
	)

	runCmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Replay a stored workflow",
		Example: `  webpilot workflow run checkout
  webpilot workflow run greet --mode ai --param name=Ada`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			replayMode, err := replay.ParseMode(mode)
			if err != nil {
				return err
			}
			values, err := parseParams(params)
			if err != nil {
				return err
			}

			rt, err := buildRuntime(observability.GetLogger())
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

			task, err := rt.svc.RunWorkflow(ctx, args[0], replayMode, values)
			if err != nil {
				return err
			}
			cmd.Printf("Replaying workflow '%s' (%s mode).\n", args[0], replayMode)

			if err := rt.svc.WaitTask(ctx, task.ID()); err != nil {
				_ = rt.svc.CancelTask(task.ID())
				_ = rt.svc.WaitTask(context.Background(), task.ID())
			}
			return printTaskOutcome(task.View(), cmd.Printf)
		},
	}

	runCmd.Flags().StringVar(&mode, "mode", string(replay.ModeDirect), "replay mode: direct or ai")
	runCmd.Flags().StringArrayVar(&params, "param", nil, "workflow parameter as name=value (repeatable)")
	return runCmd
}

func newWorkflowDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := workflow.NewFileStore(appCfg.Workflows.Dir, observability.GetLogger())
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			cmd.Printf("Workflow '%s' deleted.\n", args[0])
			return nil
		},
	}
}

func newWorkflowRecordCmd() *cobra.Command {
	var (
		startURL    string
		description string
	)

	recordCmd := &cobra.Command{
		Use:   "record <name>",
		Short: "Record browser interactions as a new workflow",
		Long: "Opens the browser and captures clicks, typing and navigation " +
			"until you press Enter. The capture is distilled into clean steps " +
			"and saved under the given name.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := buildRuntime(observability.GetLogger())
			if err != nil {
				return err
			}
			shutdown, err := rt.start(ctx)
			if err != nil {
				return err
			}
			defer shutdown()

			if err := rt.svc.StartRecording(ctx, startURL); err != nil {
				return err
			}
			cmd.Println("Recording. Interact with the browser, then press Enter here to finish.")

			enter := make(chan struct{})
			go func() {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				scanner.Scan()
				close(enter)
			}()

			ticker := time.NewTicker(recorderDrainInterval)
			defer ticker.Stop()
		capture:
			for {
				select {
				case <-enter:
					break capture
				case <-ctx.Done():
					_ = rt.svc.DiscardRecording(context.Background())
					return ctx.Err()
				case <-ticker.C:
					if err := rt.svc.DrainRecording(ctx); err != nil {
						observability.GetLogger().Warn("Failed to drain recording buffer.", zap.Error(err))
					}
				}
			}

			w, err := rt.svc.StopRecording(ctx, args[0], description)
			if err != nil {
				return err
			}
			cmd.Printf("Workflow '%s' saved with %d steps.\n", w.Name, len(w.Steps))
			return nil
		},
	}

	recordCmd.Flags().StringVar(&startURL, "url", "", "page to open before recording starts")
	recordCmd.Flags().StringVar(&description, "description", "", "human-readable workflow description")
	return recordCmd
}

// parseParams turns repeated name=value flags into a map.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q (want name=value)", pair)
		}
		values[name] = value
	}
	return values, nil
}
