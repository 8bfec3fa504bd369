package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SmitUplenchwar2687/throttle/internal/clock"
	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
	"github.com/SmitUplenchwar2687/throttle/internal/tokens"
)

func newSimulateCmd(g *globalOptions) *cobra.Command {
	var (
		lf          limiterFlags
		requests    int
		names       []string
		fastForward time.Duration
		concurrency int
		promptFile  string
		model       string
		completion  int
		outputJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run limiter scenarios on a virtual clock",
		Long: `Runs admissions against a virtual clock, so limiter behavior over
minutes or hours can be checked in milliseconds.

A batch of requests is sent to each limiter, the clock is optionally
fast-forwarded, then a second batch shows how the limits recover.

With --prompt-file, the per-request token cost is sized from the prompt
text (plus --completion-tokens) using the tokenizer for --model.`,
		Example: `  throttle simulate --requests 20 --max-requests 10 --window 1m
  throttle simulate --max-requests 5 --window 30s --fast-forward 31s
  throttle simulate --limiters user1,user2 --concurrency 2 --json
  throttle simulate --bucket-tokens 40000 --refill-rate 500 --prompt-file prompt.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.template(cmd, &lf)
			if err != nil {
				return err
			}
			lim := cfg.Limiter

			if promptFile != "" {
				if lim.Bucket == nil {
					return fmt.Errorf("--prompt-file needs a token bucket; set --bucket-tokens and --refill-rate")
				}
				text, err := os.ReadFile(promptFile)
				if err != nil {
					return fmt.Errorf("reading prompt: %w", err)
				}
				counter, err := tokens.New(model)
				if err != nil {
					g.logger.Warn("tokenizer unavailable, estimating", "model", model, "error", err)
				}
				lim.TokensPerRequest = counter.CostFor(string(text), completion)
				if err := lim.Validate(); err != nil {
					return fmt.Errorf("prompt cost %g: %w", lim.TokensPerRequest, err)
				}
			}

			if len(names) == 0 {
				names = []string{"test-user"}
			}

			vc := clock.NewVirtualClock(time.Now().Truncate(time.Second))
			reg := limiter.NewRegistry(limiter.WithClock(vc), limiter.WithLogger(g.logger))
			for _, name := range names {
				lc, ok := cfg.Limiters[name]
				if !ok {
					lc = lim
				}
				if _, err := reg.GetOrCreate(name, lc); err != nil {
					return err
				}
			}

			result, err := runSimulation(cmd.Context(), vc, reg, names, requests, fastForward, concurrency)
			if err != nil {
				return err
			}
			result.MaxRequests = lim.MaxRequests
			result.Window = lim.Window.String()
			if lim.Bucket != nil {
				result.TokensPerRequest = lim.Cost()
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			printSimulation(out, &result)
			return nil
		},
	}

	lf.addFlags(cmd)
	cmd.Flags().IntVar(&requests, "requests", 15, "number of requests to send per limiter per batch")
	cmd.Flags().StringSliceVar(&names, "limiters", nil, "comma-separated limiter names to exercise")
	cmd.Flags().DurationVar(&fastForward, "fast-forward", 0, "time to fast-forward between batches")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "limiters exercised in parallel")
	cmd.Flags().StringVar(&promptFile, "prompt-file", "", "size the per-request token cost from this prompt")
	cmd.Flags().StringVar(&model, "model", tokens.DefaultModel, "tokenizer model for --prompt-file")
	cmd.Flags().IntVar(&completion, "completion-tokens", 0, "completion tokens reserved per request")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")

	return cmd
}

// SimulationResult captures the full output of a simulation run.
type SimulationResult struct {
	MaxRequests      int                          `json:"max_requests"`
	Window           string                       `json:"window"`
	TokensPerRequest float64                      `json:"tokens_per_request,omitempty"`
	FastForward      string                       `json:"fast_forward,omitempty"`
	Batches          []BatchResult                `json:"batches"`
	Summary          map[string]SimulationSummary `json:"summary"`
}

// BatchResult captures results for one batch of requests.
type BatchResult struct {
	Label     string           `json:"label"`
	Time      string           `json:"time"`
	Decisions []DecisionRecord `json:"decisions"`
}

// DecisionRecord is a single admission attempt and the limiter state
// right after it.
type DecisionRecord struct {
	Limiter  string        `json:"limiter"`
	Admitted bool          `json:"admitted"`
	Stats    limiter.Stats `json:"stats"`
}

// SimulationSummary aggregates stats per limiter.
type SimulationSummary struct {
	TotalRequests int `json:"total_requests"`
	Allowed       int `json:"allowed"`
	Denied        int `json:"denied"`
}

func runSimulation(ctx context.Context, vc *clock.VirtualClock, reg *limiter.Registry, names []string, requests int, fastForward time.Duration, concurrency int) (SimulationResult, error) {
	result := SimulationResult{
		Summary: make(map[string]SimulationSummary),
	}

	batch, err := runBatch(ctx, vc, reg, "Initial requests", names, requests, concurrency, result.Summary)
	if err != nil {
		return result, err
	}
	result.Batches = append(result.Batches, batch)

	if fastForward > 0 {
		vc.Advance(fastForward)
		result.FastForward = fastForward.String()

		batch, err := runBatch(ctx, vc, reg, fmt.Sprintf("After fast-forward %s", fastForward), names, requests, concurrency, result.Summary)
		if err != nil {
			return result, err
		}
		result.Batches = append(result.Batches, batch)
	}

	return result, nil
}

// runBatch sends requests to every limiter. Each limiter is driven by one
// goroutine, so decisions for a single limiter keep their order.
func runBatch(ctx context.Context, vc *clock.VirtualClock, reg *limiter.Registry, label string, names []string, requests, concurrency int, summary map[string]SimulationSummary) (BatchResult, error) {
	batch := BatchResult{
		Label: label,
		Time:  vc.Now().Format(time.RFC3339),
	}

	var mu sync.Mutex
	perLimiter := make(map[string][]DecisionRecord, len(names))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(concurrency, 1))
	for _, name := range names {
		eg.Go(func() error {
			lim, ok := reg.Get(name)
			if !ok {
				return fmt.Errorf("limiter %q not registered", name)
			}
			decisions := make([]DecisionRecord, 0, requests)
			for i := 0; i < requests; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				admitted := lim.TryAcquire()
				decisions = append(decisions, DecisionRecord{Limiter: name, Admitted: admitted, Stats: lim.Stats()})
			}

			mu.Lock()
			perLimiter[name] = decisions
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return batch, err
	}

	for _, name := range names {
		s := summary[name]
		for _, d := range perLimiter[name] {
			s.TotalRequests++
			if d.Admitted {
				s.Allowed++
			} else {
				s.Denied++
			}
		}
		summary[name] = s
		batch.Decisions = append(batch.Decisions, perLimiter[name]...)
	}
	return batch, nil
}

func printSimulation(w io.Writer, r *SimulationResult) {
	fmt.Fprintln(w, "=== Throttle Simulation ===")
	fmt.Fprintf(w, "Window: %d per %s", r.MaxRequests, r.Window)
	if r.TokensPerRequest > 0 {
		fmt.Fprintf(w, ", %g tokens per request", r.TokensPerRequest)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)

	for _, batch := range r.Batches {
		fmt.Fprintf(w, "--- %s (at %s) ---\n", batch.Label, batch.Time)
		for i, d := range batch.Decisions {
			status := "ALLOW"
			if !d.Admitted {
				status = "DENY "
			}
			fmt.Fprintf(w, "  #%03d [%s] limiter=%s window=%d/%d",
				i+1, status, d.Limiter, d.Stats.WindowOccupancy, d.Stats.WindowLimit)
			if b := d.Stats.Bucket; b != nil {
				fmt.Fprintf(w, " tokens=%.1f/%.0f", b.Tokens, b.Capacity)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "--- Summary ---")
	names := make([]string, 0, len(r.Summary))
	for name := range r.Summary {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := r.Summary[name]
		fmt.Fprintf(w, "  %s: %d total, %d allowed, %d denied\n",
			name, s.TotalRequests, s.Allowed, s.Denied)
	}

	if r.FastForward != "" {
		fmt.Fprintf(w, "\nTime travel: fast-forwarded %s\n", r.FastForward)
	}

	// Denials in the first batch followed by admissions in the second show
	// the limits recovering.
	hasDenials := false
	for _, d := range r.Batches[0].Decisions {
		if !d.Admitted {
			hasDenials = true
			break
		}
	}
	hasRecovery := false
	if len(r.Batches) > 1 {
		for _, d := range r.Batches[1].Decisions {
			if d.Admitted {
				hasRecovery = true
				break
			}
		}
	}
	if hasDenials && hasRecovery {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("=", 50))
		fmt.Fprintln(w, "Limits recovered: requests were denied, then")
		fmt.Fprintln(w, "admitted again after fast-forwarding the clock.")
		fmt.Fprintln(w, strings.Repeat("=", 50))
	}
}
