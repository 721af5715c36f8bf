package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lexmesh/lexmesh/bus"
	"github.com/lexmesh/lexmesh/core"
)

var (
	sendFrom     string
	sendTo       string
	sendMessage  string
	sendThreadID string
	sendVars     []string
	sendAll      bool
	sendExclude  []string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Deliver a message to an agent role through the agent bus",
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "Sending agent id (empty for system messages)")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "Target role")
	sendCmd.Flags().StringVarP(&sendMessage, "message", "m", "", "Message to deliver")
	sendCmd.Flags().StringVarP(&sendThreadID, "thread", "s", "", "Continue an existing thread")
	sendCmd.Flags().StringArrayVar(&sendVars, "var", nil, "Context entry key=value (repeatable)")
	sendCmd.Flags().BoolVar(&sendAll, "broadcast", false, "Send to every other active agent instead of --to")
	sendCmd.Flags().StringSliceVar(&sendExclude, "exclude", nil, "Roles skipped by --broadcast")
	_ = sendCmd.MarkFlagRequired("message")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, _, err := openMesh(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	out := cmd.OutOrStdout()

	if sendAll {
		excluded := make([]core.Role, 0, len(sendExclude))

		for _, r := range sendExclude {
			role, err := core.ParseRole(r)
			if err != nil {
				return err
			}

			excluded = append(excluded, role)
		}

		deliveries, err := m.Broadcast(ctx, tenantID, sendFrom, sendMessage, excluded...)
		if err != nil {
			return err
		}

		for _, d := range deliveries {
			fmt.Fprintln(out, color.New(color.Bold).Sprintf("%s (%s)", d.Role, d.AgentID))

			if d.Err != nil {
				fmt.Fprintln(out, color.RedString("  %v", d.Err))
				continue
			}

			printResult(out, d.Result)
		}

		return nil
	}

	role, err := core.ParseRole(sendTo)
	if err != nil {
		return err
	}

	vars, err := parseVars(sendVars)
	if err != nil {
		return err
	}

	res, err := m.SendMessage(ctx, bus.Envelope{
		TenantID:    tenantID,
		FromAgentID: sendFrom,
		ToRole:      role,
		Message:     sendMessage,
		Context:     vars,
		ThreadID:    sendThreadID,
	})
	if err != nil {
		return err
	}

	printResult(out, res)

	return nil
}
