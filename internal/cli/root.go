package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/throttle/internal/config"
	"github.com/SmitUplenchwar2687/throttle/internal/logger"
)

// globalOptions holds the persistent flags and the configuration resolved
// from them before any subcommand runs.
type globalOptions struct {
	logLevel   string
	logFormat  string
	configFile string
	envFiles   []string

	cfg    config.Config
	logger *slog.Logger
}

// NewRootCmd creates the root throttle command.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "throttle",
		Short: "Dual-mode rate limiting with a sliding window and a token bucket",
		Long: `Throttle admits work against a sliding-window request count and an
optional token budget. Serve limiters over HTTP, simulate traffic on a
virtual clock, and replay recorded history against new limits.

Configuration is resolved in order: defaults, --config file, .env files,
THROTTLE_* environment variables, then command-line flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&g.logFormat, "log-format", logger.FormatSimple, "log format (simple, text, json)")
	pf.StringVar(&g.configFile, "config", "", "path to a JSON or YAML config file")
	pf.StringSliceVar(&g.envFiles, "env-file", nil, "env files to load (default .env.local,.env)")

	root.AddCommand(
		newServeCmd(g),
		newSimulateCmd(g),
		newReplayCmd(g),
		newGenerateCmd(g),
		newTokensCmd(g),
	)

	return root
}

func (g *globalOptions) load(cmd *cobra.Command) error {
	if err := config.LoadEnvFiles(g.envFiles...); err != nil {
		return err
	}

	cfg := config.Default()
	if g.configFile != "" {
		var err error
		cfg, err = config.LoadFile(g.configFile)
		if err != nil {
			return err
		}
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = g.logFormat
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if err := logger.Init(level, cmd.ErrOrStderr(), cfg.Log.Format); err != nil {
		return err
	}

	g.cfg = cfg
	g.logger = logger.Get()
	g.logger.Debug("configuration loaded", "config_file", g.configFile,
		"max_requests", cfg.Limiter.MaxRequests, "window", cfg.Limiter.Window)
	return nil
}

// template returns the configured limiter template with flag overrides
// applied and validated.
func (g *globalOptions) template(cmd *cobra.Command, lf *limiterFlags) (config.Config, error) {
	cfg := g.cfg
	lf.apply(cmd, &cfg.Limiter)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
