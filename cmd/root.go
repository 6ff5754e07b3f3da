package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/oocsi/cmd/gen"
	"github.com/luma/oocsi/internal/env"
	"github.com/luma/oocsi/internal/meta"
)

var (
	// The log level, overrides OOCSI_LOG_LEVEL
	logLevel string
)

var RootCmd = &cobra.Command{
	Use:   "oocsi",
	Short: "Talk to OOCSI servers",
	Long: `Talk to OOCSI servers from the command line, or run a small
server to develop against.

Configuration is read from OOCSI_* environment variables and a .env.local
file in the working directory. Flags override both.`,
	Version:       meta.GetInfo().Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(ListenCmd)
	RootCmd.AddCommand(SendCmd)
	RootCmd.AddCommand(ClientsCmd)
	RootCmd.AddCommand(ChannelsCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger every command uses.
func setup(ctx context.Context) (*env.Config, *zap.Logger, error) {
	conf, err := env.LoadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	if logLevel != "" {
		conf.LogLevel = logLevel
	}

	log, err := env.MakeLogger(conf.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	return conf, log, nil
}
