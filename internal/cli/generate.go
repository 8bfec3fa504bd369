package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/throttle/internal/config"
	"github.com/SmitUplenchwar2687/throttle/internal/generate"
)

func newGenerateCmd(_ *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate sample history files and config",
		Long: `Generates sample data for testing and experimentation.

Use "generate requests" to create a synthetic history file for replay.
Use "generate config" to create an example config file.`,
	}

	cmd.AddCommand(newGenerateRequestsCmd(), newGenerateConfigCmd())
	return cmd
}

func newGenerateRequestsCmd() *cobra.Command {
	opts := generate.DefaultOptions()
	var output string

	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Generate a synthetic request history",
		Long: `Creates a history file of admitted requests with configurable shape.

Patterns:
  steady    Evenly distributed requests
  burst     Concentrated bursts with quiet periods
  ramp      Gradually increasing request rate`,
		Example: `  throttle generate requests --output history.json --count 100 --limiters 5
  throttle generate requests --output burst.json --count 200 --pattern burst --duration 10m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := generate.Requests(opts)
			if err != nil {
				return err
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating file: %w", err)
			}
			defer f.Close()

			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			if err := enc.Encode(entries); err != nil {
				return fmt.Errorf("writing entries: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generated %d history entries to %s\n", len(entries), output)
			fmt.Fprintf(out, "  Limiters: %d\n", opts.Limiters)
			fmt.Fprintf(out, "  Duration: %s\n", opts.Duration)
			fmt.Fprintf(out, "  Pattern:  %s\n", opts.Pattern)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "history.json", "output file path")
	cmd.Flags().IntVar(&opts.Count, "count", opts.Count, "number of requests to generate")
	cmd.Flags().IntVar(&opts.Limiters, "limiters", opts.Limiters, "number of distinct limiter names")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", opts.Prefix, "limiter name prefix")
	cmd.Flags().DurationVar(&opts.Duration, "duration", opts.Duration, "time span for generated requests")
	cmd.Flags().StringVar(&opts.Pattern, "pattern", opts.Pattern, "request pattern (steady, burst, ramp)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed (0 = time based)")

	return cmd
}

func newGenerateConfigCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate an example config file",
		Long:  "Writes an example config file, as YAML for .yaml/.yml paths and JSON otherwise.",
		Example: `  throttle generate config --output throttle.yaml
  throttle generate config --output throttle.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteExample(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated example config at %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "throttle.yaml", "output file path")
	return cmd
}
