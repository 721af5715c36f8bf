package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/engine"
)

var (
	runAgentID  string
	runRole     string
	runThreadID string
	runMessage  string
	runVars     []string
	runMaxIter  int
	runStream   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one agent turn as a manual request",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runAgentID, "agent", "a", "", "Agent id")
	runCmd.Flags().StringVarP(&runRole, "role", "r", "", "Address the active agent holding this role instead of --agent")
	runCmd.Flags().StringVarP(&runThreadID, "thread", "s", "", "Continue an existing thread")
	runCmd.Flags().StringVarP(&runMessage, "message", "m", "", "Message to send to the agent")
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Context entry key=value (repeatable)")
	runCmd.Flags().IntVar(&runMaxIter, "max-iterations", 0, "Override the iteration cap")
	runCmd.Flags().BoolVar(&runStream, "stream", false, "Print the answer as it is generated")
	_ = runCmd.MarkFlagRequired("message")
}

func runRun(cmd *cobra.Command, args []string) error {
	if (runAgentID == "") == (runRole == "") {
		return errors.New("exactly one of --agent or --role is required")
	}

	vars, err := parseVars(runVars)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, _, err := openMesh(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	var agent *core.Agent

	if runRole != "" {
		role, err := core.ParseRole(runRole)
		if err != nil {
			return err
		}

		if agent, err = m.Store.FindActiveByRole(ctx, tenantID, role); err != nil {
			return fmt.Errorf("no active %s agent in tenant %s: %w", role, tenantID, err)
		}
	} else if agent, err = m.Store.GetAgent(ctx, tenantID, runAgentID); err != nil {
		return fmt.Errorf("agent %s: %w", runAgentID, err)
	}

	out := cmd.OutOrStdout()
	req := engine.ExecuteRequest{
		Agent:         agent,
		Input:         runMessage,
		ThreadID:      runThreadID,
		Trigger:       core.TriggerManual,
		MaxIterations: runMaxIter,
		CallerUserID:  "cli",
		Context:       vars,
	}

	if runStream {
		req.OnEvent = func(ev engine.Event) {
			switch ev.Type {
			case engine.EventText:
				fmt.Fprint(out, ev.Text)
			case engine.EventToolCall:
				fmt.Fprintln(out, color.HiBlackString("\n-> %s %s", ev.ToolCall.Name, string(ev.ToolCall.Arguments)))
			}
		}
	}

	res, err := m.Execute(ctx, req)
	if err != nil {
		return err
	}

	if runStream {
		fmt.Fprintln(out)
	}

	printResult(out, res)

	return nil
}
