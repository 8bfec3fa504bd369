package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/throttle/internal/clock"
	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
	"github.com/SmitUplenchwar2687/throttle/internal/replay"
)

func newReplayCmd(g *globalOptions) *cobra.Command {
	var (
		lf         limiterFlags
		file       string
		speed      float64
		names      []string
		types      []string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded history through fresh limiters",
		Long: `Replays a recorded history through fresh limiters built from the
current configuration, and reports where the decisions would differ.

Entries are replayed in timestamp order. The virtual clock advances to
match the gaps between entries, so limits behave exactly as they did
live, at any speed you choose. Request entries are re-decided and
release entries roll back the latest admission.

Speed: 0 = instant, 1 = real-time, 10 = 10x, 100 = 100x`,
		Example: `  throttle replay --file history.json
  throttle replay --file history.ndjson --max-requests 30 --window 1m
  throttle replay --file history.json --limiters user-1,user-2 --speed 100
  throttle replay --file history.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			cfg, err := g.template(cmd, &lf)
			if err != nil {
				return err
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("opening file: %w", err)
			}
			defer f.Close()

			filter := replay.Filter{Limiters: names}
			for _, t := range types {
				filter.Types = append(filter.Types, limiter.EventKind(t))
			}

			vc := clock.NewVirtualClock(time.Now().Truncate(time.Second))
			r := replay.New(cfg.Limiter, vc, speed, filter, limiter.WithLogger(g.logger))
			for name, lc := range cfg.Limiters {
				r.Configure(name, lc)
			}
			if err := r.Load(f); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !outputJSON {
				fmt.Fprintf(out, "Replaying %s at %.0fx speed...\n\n", file, speed)
			}

			var results []replay.Result
			summary, err := r.Run(cmd.Context(), func(res replay.Result) {
				if outputJSON {
					results = append(results, res)
					return
				}
				status := "ALLOW"
				switch {
				case !res.Entry.IsRequest():
					status = "REL  "
				case !res.Admitted:
					status = "DENY "
				}
				changed := ""
				if res.Changed {
					changed = fmt.Sprintf(" (recorded %s)", res.Entry.Type)
				}
				fmt.Fprintf(out, "  [%s] %s limiter=%s%s\n",
					status,
					res.Entry.Timestamp.Format("15:04:05.000"),
					res.Entry.Limiter,
					changed)
			})
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"results": results,
					"summary": summary,
				})
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "--- Replay Summary ---")
			fmt.Fprintf(out, "  Total entries:  %d\n", summary.TotalEntries)
			fmt.Fprintf(out, "  Filtered:       %d\n", summary.Filtered)
			fmt.Fprintf(out, "  Replayed:       %d\n", summary.Replayed)
			fmt.Fprintf(out, "  Allowed:        %d\n", summary.Allowed)
			fmt.Fprintf(out, "  Denied:         %d\n", summary.Denied)
			fmt.Fprintf(out, "  Released:       %d\n", summary.Released)
			fmt.Fprintf(out, "  Changed:        %d\n", summary.Changed)
			fmt.Fprintf(out, "  Virtual time:   %s\n", summary.Duration)
			fmt.Fprintf(out, "  Wall time:      %s\n", summary.WallDuration.Round(time.Millisecond))

			if len(summary.PerLimiter) > 1 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "  Per limiter:")
				limiterNames := make([]string, 0, len(summary.PerLimiter))
				for name := range summary.PerLimiter {
					limiterNames = append(limiterNames, name)
				}
				sort.Strings(limiterNames)
				for _, name := range limiterNames {
					ls := summary.PerLimiter[name]
					fmt.Fprintf(out, "    %s: %d allowed, %d denied, %d changed\n", name, ls.Allowed, ls.Denied, ls.Changed)
				}
			}

			if summary.Changed > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, strings.Repeat("=", 50))
				requests := summary.Allowed + summary.Denied
				fmt.Fprintf(out, "%d of %d decisions differ from the recording (%.1f%%)\n",
					summary.Changed, requests, float64(summary.Changed)/float64(requests)*100)
				fmt.Fprintln(out, strings.Repeat("=", 50))
			}

			return nil
		},
	}

	lf.addFlags(cmd)
	cmd.Flags().StringVar(&file, "file", "", "path to a recorded history file, JSON array or NDJSON (required)")
	cmd.Flags().Float64Var(&speed, "speed", 0, "replay speed (0=instant, 1=real-time, 10=10x)")
	cmd.Flags().StringSliceVar(&names, "limiters", nil, "filter by limiter names (comma-separated)")
	cmd.Flags().StringSliceVar(&types, "types", nil, "filter by entry types (admitted, rejected, released, timeout)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")

	return cmd
}
