package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexmesh/lexmesh/core"
)

var (
	tasksAgentID string
	tasksLimit   int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect agent task records",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an agent's tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := openMesh(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		tasks, err := m.Store.ListTasksByAgent(cmd.Context(), tenantID, tasksAgentID, tasksLimit)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TASK\tSTATUS\tTRIGGER\tSTARTED\tDURATION\tTHREAD\tDETAIL")

		for _, t := range tasks {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				t.ID,
				kindColor(core.ResultKind(t.Status))("%s", t.Status),
				t.Trigger,
				t.StartedAt.Local().Format("2006-01-02 15:04:05"),
				taskDuration(t),
				t.ThreadID,
				core.Truncate(taskDetail(t), 60),
			)
		}

		return tw.Flush()
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Print one task record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := openMesh(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		t, err := m.Store.GetTask(cmd.Context(), tenantID, args[0])
		if err != nil {
			return fmt.Errorf("task %s: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "task:       %s\n", t.ID)
		fmt.Fprintf(out, "agent:      %s\n", t.AgentID)
		fmt.Fprintf(out, "status:     %s\n", kindColor(core.ResultKind(t.Status))("%s", t.Status))
		fmt.Fprintf(out, "trigger:    %s\n", t.Trigger)
		fmt.Fprintf(out, "thread:     %s\n", t.ThreadID)
		fmt.Fprintf(out, "tokens:     %d/%d\n", t.InputTokens, t.OutputTokens)
		fmt.Fprintf(out, "duration:   %s\n", taskDuration(*t))

		if t.EscalationReason != "" {
			fmt.Fprintf(out, "escalation: %s (notification %s)\n", t.EscalationReason, t.NotificationID)
		}

		if t.Error != "" {
			fmt.Fprintf(out, "error:      %s\n", t.Error)
		}

		fmt.Fprintf(out, "\ninput:\n%s\n", t.Input)

		if t.Output != "" {
			fmt.Fprintf(out, "\noutput:\n%s\n", t.Output)
		}

		return nil
	},
}

func init() {
	tasksListCmd.Flags().StringVarP(&tasksAgentID, "agent", "a", "", "Agent id")
	tasksListCmd.Flags().IntVarP(&tasksLimit, "limit", "n", 20, "Maximum number of tasks (0 = all)")
	_ = tasksListCmd.MarkFlagRequired("agent")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
}

func taskDuration(t core.Task) string {
	if t.CompletedAt == nil {
		return "-"
	}

	return t.CompletedAt.Sub(t.StartedAt).Round(time.Millisecond).String()
}

func taskDetail(t core.Task) string {
	switch {
	case t.EscalationReason != "":
		return t.EscalationReason
	case t.Error != "":
		return t.Error
	default:
		return t.Output
	}
}
