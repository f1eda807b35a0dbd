package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/dccrelay/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check station, throttle and accessory config files",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigValidateCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var kind, output string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = kind + ".toml"
			}
			if err := config.WriteTemplate(output, kind, force); err != nil {
				return err
			}
			log.Info().Str("kind", kind).Str("path", output).Msg("wrote config template")
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "station", "config kind: "+strings.Join(config.Kinds(), "|"))
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default <kind>.toml)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Load a config file and report the first problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			switch strings.ToLower(strings.TrimSpace(kind)) {
			case "station":
				_, err = config.LoadStation(args[0])
			case "throttle":
				_, err = config.LoadThrottle(args[0])
			case "accessory":
				_, err = config.LoadAccessory(args[0])
			default:
				err = fmt.Errorf("unknown config kind: %s", kind)
			}
			if err != nil {
				return err
			}
			log.Info().Str("kind", kind).Str("path", args[0]).Msg("config valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "station", "config kind: "+strings.Join(config.Kinds(), "|"))
	return cmd
}
