package main

import (
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
	"github.com/danmuck/dccrelay/internal/protocol/packet"
	"github.com/danmuck/dccrelay/internal/protocol/schema"
)

type options struct {
	configPath  string
	addr        string
	logLevel    string
	historyPath string
}

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("throttle failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{historyPath: defaultHistoryPath()}
	cmd := &cobra.Command{
		Use:           "throttle",
		Short:         "Interactive controller for a DCC++ station",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, opts.historyPath, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "throttle TOML config file")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "station controller address (host:port)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level override")
	cmd.Flags().StringVar(&opts.historyPath, "history", opts.historyPath, "REPL history file")
	return cmd
}

func resolveConfig(opts options) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig("throttle", "localhost:2560")
	if opts.configPath != "" {
		loaded, err := config.LoadThrottle(opts.configPath)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
		cfg.Broker.Address = opts.addr
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if cfg.LogLevel != "" && !logging.SetLevel(cfg.LogLevel) {
		return config.ClientConfig{}, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.ClientConfig, historyPath string, out io.Writer) error {
	registry := schema.Default()
	client := broker.NewClientBroker(cfg.Broker, registry)
	client.AddListener(broker.ListenerFunc(func(_ context.Context, msg packet.Message, _ broker.Broker, _ broker.LocalBroker) error {
		fmt.Fprintf(out, "%s  %s\n", msg.Raw(), msg.Kind())
		return nil
	}))
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()
	fmt.Fprintf(out, "connected to %s as %s (type help for commands)\n", cfg.Addr, client.Identity())

	editor := newLineEditor(historyPath)
	defer editor.Close()
	stopped := make(chan struct{})
	defer close(stopped)
	lines, readErr := readLines(editor, stopped)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			fmt.Fprintln(out, "station disconnected")
			if err := client.Wait(ctx); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, broker.ErrClosed) {
				return err
			}
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			if handled := handleLine(ctx, registry, client, line, out); handled {
				return nil
			}
		}
	}
}

// readLines feeds editor lines to the REPL until a read fails or stopped
// is closed.
func readLines(editor lineSource, stopped <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := editor.readLine("throttle> ")
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-stopped:
				return
			}
		}
	}()
	return lines, readErr
}

// handleLine sends what line describes. It reports true when the REPL
// should stop.
func handleLine(ctx context.Context, registry *schema.Registry, client *broker.ClientBroker, line string, out io.Writer) bool {
	if line == "help" || line == "?" {
		usage(out)
		return false
	}
	msgs, err := parseLine(registry, line)
	if errors.Is(err, errQuit) {
		return true
	}
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return false
	}
	for _, msg := range msgs {
		if err := client.Send(ctx, nil, msg); err != nil {
			fmt.Fprintf(out, "send %s: %v\n", msg.Raw(), err)
			return false
		}
	}
	return false
}
