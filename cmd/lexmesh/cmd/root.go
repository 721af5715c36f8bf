package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lexmesh/lexmesh"
	"github.com/lexmesh/lexmesh/config"
	"github.com/lexmesh/lexmesh/core"
)

// version can be overridden at build time via:
// go build -ldflags "-X github.com/lexmesh/lexmesh/cmd/lexmesh/cmd.version=1.2.3"
var version = "dev"

var (
	configPath string
	tenantID   string
)

var rootCmd = &cobra.Command{
	Use:           "lexmesh",
	Short:         "Agent execution runtime for legal-practice operations",
	Long:          color.CyanString("lexmesh") + " runs role-bound agents against practice data, with human approval for sensitive actions.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "lexmesh %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("LEXMESH_CONFIG"), "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&tenantID, "tenant", "t", "default", "Tenant (organization) id")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(threadCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(scheduleCmd)
}

// openMesh loads the configuration and wires a Mesh. The caller closes it.
func openMesh(ctx context.Context, optFns ...func(o *lexmesh.Options)) (*lexmesh.Mesh, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Store.Driver == config.DriverMemory {
		fmt.Fprintln(os.Stderr, color.YellowString("warning: memory store, nothing persists after this command"))
	}

	m, err := lexmesh.Open(ctx, cfg, optFns...)
	if err != nil {
		return nil, nil, err
	}

	return m, cfg, nil
}

func kindColor(kind core.ResultKind) func(format string, a ...any) string {
	switch kind {
	case core.ResultCompleted:
		return color.GreenString
	case core.ResultEscalated, core.ResultIterationLimit, core.ResultTimeout:
		return color.YellowString
	case core.ResultFailed, core.ResultError, core.ResultDepthExceeded:
		return color.RedString
	default:
		return color.CyanString
	}
}

func printResult(w io.Writer, res *core.Result) {
	label := string(res.Kind)
	if res.ErrorKind != core.ErrorNone {
		label += " (" + string(res.ErrorKind) + ")"
	}

	fmt.Fprintf(w, "%s %s\n", kindColor(res.Kind)("[%s]", label), res.Message)

	if res.Output != "" && res.Output != res.Message {
		fmt.Fprintf(w, "\n%s\n", res.Output)
	}

	meta := []string{}
	if res.ThreadID != "" {
		meta = append(meta, "thread="+res.ThreadID)
	}

	if res.TaskID != "" {
		meta = append(meta, "task="+res.TaskID)
	}

	if res.NotificationID != "" {
		meta = append(meta, "notification="+res.NotificationID)
	}

	meta = append(meta,
		fmt.Sprintf("iterations=%d", res.Iterations),
		fmt.Sprintf("tokens=%d/%d", res.InputTokens, res.OutputTokens),
		fmt.Sprintf("latency=%s", res.Latency.Round(time.Millisecond)),
	)

	fmt.Fprintln(w, color.HiBlackString(strings.Join(meta, " ")))
}

// parseVars turns repeated key=value flags into a map.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))

	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", p)
		}

		vars[strings.TrimSpace(k)] = v
	}

	return vars, nil
}
