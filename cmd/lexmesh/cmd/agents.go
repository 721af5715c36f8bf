package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lexmesh/lexmesh/practice"
)

var (
	seedModel    string
	seedApprover string
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage the tenant's agents",
}

var agentsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create one default agent per role",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := openMesh(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		for _, a := range practice.DefaultAgents(tenantID, seedModel) {
			if err := m.Store.SaveAgent(ctx, &a); err != nil {
				return fmt.Errorf("save %s: %w", a.ID, err)
			}

			fmt.Fprintf(out, "%s %s (%s)\n", color.GreenString("+"), a.ID, a.Role)
		}

		if seedApprover != "" {
			if err := m.Store.SetApprover(ctx, tenantID, seedApprover); err != nil {
				return fmt.Errorf("set approver: %w", err)
			}

			fmt.Fprintf(out, "approver: %s\n", seedApprover)
		}

		return nil
	},
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tenant's active agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := openMesh(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		agents, err := m.Store.ListActive(cmd.Context(), tenantID)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tROLE\tMODEL\tSKILLS\tTOOLS")

		for i := range agents {
			a := &agents[i]

			skills := make([]string, 0, len(a.Skills))
			for _, s := range a.Skills {
				switch {
				case !s.Enabled:
					continue
				case s.Autonomous:
					skills = append(skills, s.Key)
				default:
					skills = append(skills, s.Key+"*")
				}
			}

			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", a.ID, a.Role, a.Model,
				strings.Join(skills, ","), len(m.Tools.ResolveForAgent(a)))
		}

		if err := tw.Flush(); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), color.HiBlackString("* needs approval"))

		return nil
	},
}

func init() {
	agentsSeedCmd.Flags().StringVar(&seedModel, "model", "anthropic:claude-sonnet-4-5", "provider:model identifier for every agent")
	agentsSeedCmd.Flags().StringVar(&seedApprover, "approver", "", "Designated human approver for escalations")

	agentsCmd.AddCommand(agentsSeedCmd)
	agentsCmd.AddCommand(agentsListCmd)
}
