package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/throttle/internal/history"
	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
	"github.com/SmitUplenchwar2687/throttle/internal/metrics"
	"github.com/SmitUplenchwar2687/throttle/internal/server"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var (
		lf          limiterFlags
		addr        string
		historyFile string
		recordFile  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the throttle HTTP server",
		Long: `Starts an HTTP server exposing a registry of named limiters.

Endpoints:
  GET  /                              Server info and current time
  GET  /health                        Health check
  GET  /api/limiters                  Stats for every limiter
  POST /api/limiters/{name}/acquire   Admit one request (?timeout=2s to wait)
  POST /api/limiters/{name}/release   Roll back the latest admission
  GET  /api/limiters/{name}/stats     Stats for one limiter
  GET  /api/history                   Recent history (?limiter=&type=&limit=)
  GET  /metrics                       Prometheus metrics
  WS   /ws                            Live history stream

Unknown limiter names are created from the template on first acquire.
Limiters listed under "limiters" in the config file are registered at
startup and keep their own settings.`,
		Example: `  throttle serve
  throttle serve --addr :9090 --max-requests 100 --window 1m
  throttle serve --bucket-tokens 40000 --refill-rate 500 --tokens-per-request 1000
  throttle serve --config throttle.yaml --record history.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.template(cmd, &lf)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("history-file") {
				cfg.History.File = historyFile
			}
			log := g.logger

			var stream io.Writer
			if cfg.History.File != "" {
				f, err := os.OpenFile(cfg.History.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return fmt.Errorf("opening history file: %w", err)
				}
				defer f.Close()
				stream = f
			}
			hist := history.New(history.Options{
				MaxEntries:     cfg.History.MaxEntries,
				PruneThreshold: cfg.History.PruneThreshold,
				Writer:         stream,
				Logger:         log,
			})
			// The history stream and websocket fan-out run off the
			// request path.
			events := history.NewQueue(hist, 0)

			promReg := prometheus.NewRegistry()
			promReg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m := metrics.New(promReg)

			reg := limiter.NewRegistry(
				limiter.WithLogger(log),
				limiter.WithObserver(events),
				limiter.WithObserver(m),
			)
			for name, lc := range cfg.Limiters {
				if _, err := reg.GetOrCreate(name, lc); err != nil {
					return err
				}
			}

			srv := server.New(server.Options{
				Addr:     cfg.Server.Addr,
				Registry: reg,
				Template: cfg.Limiter,
				History:  hist,
				Metrics:  m,
				Gatherer: promReg,
				Logger:   log,
			})

			log.Info("limiter template",
				"max_requests", cfg.Limiter.MaxRequests,
				"window", cfg.Limiter.Window,
				"bucket", cfg.Limiter.Bucket != nil,
				"preregistered", reg.Len())

			// Graceful shutdown on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				events.Close()
				return err
			case <-ctx.Done():
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				err := srv.Shutdown(shutdownCtx)

				events.Close()
				if n := events.Dropped(); n > 0 {
					log.Warn("history events dropped", "count", n)
				}
				if recordFile != "" {
					log.Info("exporting history", "entries", hist.Len(), "file", recordFile)
					if err := hist.ExportFile(recordFile); err != nil {
						log.Error("exporting history failed", "error", err)
					}
				}
				return err
			}
		},
	}

	lf.addFlags(cmd)
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringVar(&historyFile, "history-file", "", "append every history entry to this NDJSON file")
	cmd.Flags().StringVar(&recordFile, "record", "", "export history to a JSON file on shutdown")

	return cmd
}
