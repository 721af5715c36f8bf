package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	workflowMessage string
	workflowVars    []string
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "List and run multi-agent workflows",
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := openMesh(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tNAME\tSTEPS")

		for _, w := range m.Workflows.List() {
			roles := w.Roles()
			chain := ""

			for i, r := range roles {
				if i > 0 {
					chain += " -> "
				}

				chain += string(r)
			}

			fmt.Fprintf(tw, "%s\t%s\t%s\n", w.Key, w.Name, chain)
		}

		return tw.Flush()
	},
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <key>",
	Short: "Run a workflow for the tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflow,
}

func init() {
	workflowRunCmd.Flags().StringVarP(&workflowMessage, "message", "m", "", "Request handed to every step")
	workflowRunCmd.Flags().StringArrayVar(&workflowVars, "var", nil, "Context entry key=value (repeatable)")

	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowRunCmd)
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	vars, err := parseVars(workflowVars)
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

	steps, err := m.RunWorkflow(ctx, tenantID, args[0], vars, workflowMessage)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, s := range steps {
		fmt.Fprintf(out, "%s %s %s\n", color.New(color.Bold).Sprintf("%d.", s.Step), s.Role, kindColor(s.Kind)("[%s]", s.Kind))
		fmt.Fprintf(out, "   %s\n", s.Message)
	}

	fmt.Fprintln(out, color.HiBlackString("%d step(s) executed", len(steps)))

	return nil
}
