package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/davarch/ci-runner/internal/infrastructure/pipeline_yaml"
)

var jobsJSON bool

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs of the pipeline definition",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline, err := pipeline_yaml.Load(pipelinePath)
		if err != nil {
			return err
		}

		if jobsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(pipeline.Jobs)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "JOB\tRUNS-ON\tNEEDS\tSTEPS")
		for _, j := range pipeline.Jobs {
			runsOn := j.RunsOn
			if runsOn == "" {
				runsOn = "(any)"
			}
			needs := strings.Join(j.Needs, ",")
			if needs == "" {
				needs = "-"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", j.Name, runsOn, needs, len(j.Steps))
		}
		_ = w.Flush()
		return nil
	},
}

func init() {
	jobsCmd.Flags().BoolVar(&jobsJSON, "json", false, "print JSON")
	rootCmd.AddCommand(jobsCmd)
}
