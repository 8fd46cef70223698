package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vovakirdan/watchparty/internal/app"
	"github.com/vovakirdan/watchparty/internal/config"
	"github.com/vovakirdan/watchparty/internal/log"
)

type serverFlags struct {
	configPath string
	jsonLogs   bool
	overrides  config.Config
}

func (f *serverFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "path to config file (default ./config.yaml or $WATCHPARTY_CONFIG_DEFAULT_PATH)")
	fs.StringVar(&f.overrides.Addr, "addr", "", "HTTP listen address")
	fs.StringVar(&f.overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&f.jsonLogs, "log-json", false, "write JSON log lines instead of console output")
	fs.DurationVar(&f.overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	fs.DurationVar(&f.overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	fs.IntVar(&f.overrides.MaxMessagesPerMinute, "rate-limit", 0, "max inbound messages per connection per minute (0 disables)")
}

func newRootCmd() *cobra.Command {
	var flags serverFlags

	cmd := &cobra.Command{
		Use:           "watchparty-server",
		Short:         "Run the watch party session server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := config.Load(log.New("info"), flags.configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(flags.overrides)

			var opts []log.Option
			if flags.jsonLogs {
				opts = append(opts, log.WithJSON())
			}
			logger := log.New(cfg.LogLevel, opts...)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting watchparty server")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.New(&cfg, logger).Run(ctx); err != nil {
				return fmt.Errorf("server exited: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
