package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/davarch/ci-runner/internal/infrastructure/pipeline_yaml"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse the pipeline definition and check its job graph",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline, err := pipeline_yaml.Load(pipelinePath)
		if err != nil {
			return err
		}

		graph, err := domain.BuildGraph(pipeline.Jobs)
		if err != nil {
			return err
		}

		fmt.Printf("pipeline %q: %d trigger(s), %d job(s)\n",
			pipeline.Name, len(pipeline.Triggers), len(pipeline.Jobs))
		for i, layer := range graph.Layers() {
			fmt.Printf("  layer %d: %s\n", i+1, strings.Join(layer, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
