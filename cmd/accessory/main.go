package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/dccrelay/internal/broker"
	"github.com/danmuck/dccrelay/internal/config"
	"github.com/danmuck/dccrelay/internal/logging"
	"github.com/danmuck/dccrelay/internal/protocol/schema"
)

type options struct {
	configPath string
	addr       string
	logLevel   string
	simulate   bool
}

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("accessory failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "accessory",
		Short: "Accessory decoder that drives configured outputs from station traffic",
		Long: "accessory connects to the station's accessory port, applies " +
			"definitions and switch commands to its configured outputs and " +
			"reports sensor changes upstream.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			var sim io.Reader
			if opts.simulate {
				sim = os.Stdin
			}
			return run(ctx, cfg, sim)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "accessory TOML config file")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "station accessory address (host:port)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level override")
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "read `PIN 0|1` lines from stdin to drive sensors")
	return cmd
}

func resolveConfig(opts options) (config.AccessoryConfig, error) {
	cfg := config.DefaultAccessoryConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadAccessory(opts.configPath)
		if err != nil {
			return config.AccessoryConfig{}, err
		}
		cfg = loaded
	}
	if opts.addr != "" {
		cfg.Client.Addr = opts.addr
		cfg.Client.Broker.Address = opts.addr
	}
	if opts.logLevel != "" {
		cfg.Client.LogLevel = opts.logLevel
	}
	if cfg.Client.LogLevel != "" && !logging.SetLevel(cfg.Client.LogLevel) {
		return config.AccessoryConfig{}, fmt.Errorf("unknown log level %q", cfg.Client.LogLevel)
	}
	return cfg, cfg.Validate()
}

// run serves until the station disconnects or ctx is done.
func run(ctx context.Context, cfg config.AccessoryConfig, sim io.Reader) error {
	client := broker.NewClientBroker(cfg.Client.Broker, schema.Default())
	dev, err := newBoard(cfg)
	if err != nil {
		return err
	}
	client.AddListener(dev.applier)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()
	if err := dev.report(ctx, client); err != nil {
		return err
	}
	log.Info().
		Str("station", cfg.Client.Addr).
		Int("outputs", len(cfg.Outputs)).
		Int("sensors", len(cfg.Sensors)).
		Msg("accessory connected")

	if sim != nil {
		go func() {
			scanner := bufio.NewScanner(sim)
			for scanner.Scan() {
				if err := dev.simulate(scanner.Text()); err != nil {
					log.Warn().Err(err).Msg("simulate")
				}
			}
		}()
	}

	err = client.Wait(ctx)
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		log.Info().Msg("accessory stopped")
		return nil
	default:
		return err
	}
}
