package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lexmesh/lexmesh"
	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/scheduler"
)

var scheduleOnce string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run scheduled housekeeping jobs until interrupted",
	RunE:  runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleOnce, "once", "", "Run the named job immediately and exit")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()

	m, cfg, err := openMesh(ctx, func(o *lexmesh.Options) {
		o.OnScheduledResult = func(job scheduler.Job, res *core.Result, err error) {
			fmt.Fprintln(out, color.New(color.Bold).Sprintf("%s %s", time.Now().Format(time.TimeOnly), job.Name))

			if err != nil {
				fmt.Fprintln(out, color.RedString("  %v", err))
				return
			}

			printResult(out, res)
		}
	})
	if err != nil {
		return err
	}
	defer m.Close()

	jobs := m.Scheduler.Jobs()
	if len(jobs) == 0 {
		return fmt.Errorf("no jobs configured, set scheduler.jobs_file (config %q)", configPath)
	}

	if scheduleOnce != "" {
		for _, job := range jobs {
			if job.Name != scheduleOnce {
				continue
			}

			res, err := m.Scheduler.RunJob(ctx, job)
			if err != nil {
				return err
			}

			printResult(out, res)

			return nil
		}

		return fmt.Errorf("unknown job %q", scheduleOnce)
	}

	now := time.Now()
	for _, job := range jobs {
		next, _ := m.Scheduler.Next(job.Name, now)
		fmt.Fprintf(out, "%-24s %-16s next %s\n", job.Name, job.Schedule, next.Format(time.DateTime))
	}

	fmt.Fprintf(out, "scheduler running with %s store, press Ctrl+C to stop\n", cfg.Store.Driver)

	if err := m.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
