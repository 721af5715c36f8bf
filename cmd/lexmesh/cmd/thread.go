package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lexmesh/lexmesh/core"
)

var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "Inspect conversation threads",
}

var threadShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Print a thread in insertion order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := openMesh(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		msgs, err := m.Store.ListThread(cmd.Context(), tenantID, args[0])
		if err != nil {
			return err
		}

		if len(msgs) == 0 {
			return fmt.Errorf("thread %s: %w", args[0], core.ErrNotFound)
		}

		out := cmd.OutOrStdout()
		for _, msg := range msgs {
			fmt.Fprintf(out, "%s %s\n", roleLabel(msg), color.HiBlackString(msg.CreatedAt.Format("2006-01-02 15:04:05")))

			if msg.Content != "" {
				fmt.Fprintf(out, "  %s\n", strings.ReplaceAll(msg.Content, "\n", "\n  "))
			}

			for _, tc := range msg.ToolCalls {
				fmt.Fprintf(out, "  -> %s %s\n", tc.Name, string(tc.Arguments))
			}

			for _, tr := range msg.ToolResults {
				mark := color.GreenString("ok")
				if tr.IsError {
					mark = color.RedString("error")
				}

				fmt.Fprintf(out, "  <- %s [%s] %s\n", tr.Name, mark, tr.Content)
			}
		}

		return nil
	},
}

func init() {
	threadCmd.AddCommand(threadShowCmd)
}

func roleLabel(msg core.Message) string {
	switch msg.Role {
	case core.MessageRoleUser:
		return color.CyanString("user")
	case core.MessageRoleAssistant:
		return color.GreenString("assistant (%s)", msg.SenderAgentID)
	case core.MessageRoleTool:
		return color.MagentaString("tool")
	default:
		return color.HiBlackString(string(msg.Role))
	}
}
