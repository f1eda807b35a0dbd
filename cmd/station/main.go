package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/dccrelay/internal/config"
	"github.com/danmuck/dccrelay/internal/logging"
	"github.com/danmuck/dccrelay/internal/observability"
	"github.com/danmuck/dccrelay/internal/protocol/schema"
	"github.com/danmuck/dccrelay/internal/station"
)

type options struct {
	configPath string
	adminAddr  string
	logLevel   string
}

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("station failed")
		log.Debug().Str("detail", fmt.Sprintf("%+v", err)).Msg("station failure detail")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "station [controller-port accessory-port]",
		Short: "Relay DCC++ packets between controllers and accessory decoders",
		Long: "station accepts controllers on one port and accessory decoders on " +
			"another, forwards traffic between the two sides and replays " +
			"remembered definitions to every accessory that connects.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected zero or two ports, got %d arguments", len(args))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts, args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "station TOML config file")
	cmd.Flags().StringVar(&opts.adminAddr, "admin", "", "admin HTTP listen address (health, status, metrics)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level override (trace|debug|info|warn|error)")
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func resolveConfig(opts options, args []string) (config.StationConfig, error) {
	cfg := config.DefaultStationConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadStation(opts.configPath)
		if err != nil {
			return config.StationConfig{}, err
		}
		cfg = loaded
	}
	if len(args) == 2 {
		for i, raw := range args {
			port, err := strconv.Atoi(raw)
			if err != nil || port < 0 || port > 65535 {
				return config.StationConfig{}, fmt.Errorf("invalid port %q", raw)
			}
			addr := net.JoinHostPort("", strconv.Itoa(port))
			if i == 0 {
				cfg.ControllerAddr = addr
			} else {
				cfg.AccessoryAddr = addr
			}
		}
	}
	if opts.adminAddr != "" {
		cfg.AdminAddr = opts.adminAddr
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if cfg.LogLevel != "" && !logging.SetLevel(cfg.LogLevel) {
		return config.StationConfig{}, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.StationConfig) error {
	registry := schema.Default()
	s := station.New(cfg.Station, registry)

	cln, err := net.Listen("tcp", cfg.ControllerAddr)
	if err != nil {
		return fmt.Errorf("bind controller port: %w", err)
	}
	aln, err := net.Listen("tcp", cfg.AccessoryAddr)
	if err != nil {
		_ = cln.Close()
		return fmt.Errorf("bind accessory port: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Serve(gctx, cln, aln) })
	if cfg.AdminAddr != "" {
		ln, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			_ = s.Close()
			_ = g.Wait()
			return fmt.Errorf("bind admin address: %w", err)
		}
		admin := observability.NewAdminServer("station", func() any { return s.Snapshot() })
		g.Go(func() error { return admin.Serve(gctx, ln) })
	}

	err = g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		log.Info().Msg("station stopped")
		return nil
	}
	return err
}
