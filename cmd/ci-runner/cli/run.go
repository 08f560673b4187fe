package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/logging"
	"github.com/davarch/ci-runner/internal/infrastructure/pipeline_yaml"
)

var (
	runEventKind string
	runEventRef  string
	runVerbose   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the pipeline once for a single event",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		pipeline, err := pipeline_yaml.Load(pipelinePath)
		if err != nil {
			return err
		}

		sched, err := buildScheduler(log, cfg, pipeline, nil)
		if err != nil {
			return err
		}

		event := domain.Event{Kind: domain.EventKind(runEventKind), Ref: runEventRef}
		run, started, err := sched.Submit(event)
		if err != nil {
			return err
		}
		if !started {
			fmt.Printf("no trigger of pipeline %q matches %s %q\n", pipeline.Name, event.Kind, event.Ref)
			return nil
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		go func() {
			<-ctx.Done()
			sched.Cancel(run.ID)
		}()

		log.Info("run started",
			zap.String("run", run.ID.String()),
			zap.String("pipeline", pipeline.Name),
		)

		out, err := sched.WaitRun(cmd.Context(), run.ID)
		if err != nil {
			return err
		}
		printRun(out)

		if out.Status != domain.StatusSucceeded {
			return fmt.Errorf("run %s: %s", out.ID, out.Status)
		}
		return nil
	},
}

func printRun(run domain.Run) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tSTEP\tSTATUS\tEXIT\tCACHED\tTOOK")
	for _, j := range run.Jobs {
		if len(j.Results) == 0 {
			_, _ = fmt.Fprintf(w, "%s\t-\t%s\t-\t-\t-\n", j.Job, j.Status)
			continue
		}
		for _, s := range j.Results {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%s\n",
				j.Job, s.Step, s.Status, s.ExitCode, s.Cached, s.Duration.Round(time.Millisecond))
		}
	}
	_ = w.Flush()
	fmt.Printf("\n%s: %s\n", run.Pipeline, run.Status)

	if run.Status == domain.StatusSucceeded && !runVerbose {
		return
	}
	for _, j := range run.Jobs {
		for _, s := range j.Results {
			if s.Output == "" || (!runVerbose && s.Status == domain.StatusSucceeded) {
				continue
			}
			fmt.Printf("\n--- %s / %s ---\n%s", j.Job, s.Step, s.Output)
		}
	}
}

func init() {
	runCmd.Flags().StringVar(&runEventKind, "event", "push", "event kind: push, tag_push or pull_request")
	runCmd.Flags().StringVar(&runEventRef, "ref", "main", "branch or tag name of the event")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "print output of every step")

	rootCmd.AddCommand(runCmd)
}
