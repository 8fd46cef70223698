package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vovakirdan/watchparty/internal/client"
	"github.com/vovakirdan/watchparty/internal/config"
	"github.com/vovakirdan/watchparty/internal/log"
	"github.com/vovakirdan/watchparty/internal/party"
	"github.com/vovakirdan/watchparty/internal/store/sqlite"
)

type partyFlags struct {
	configPath string
	name       string
	overrides  config.ClientConfig
	logLevel   string
}

func (f *partyFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "path to config file")
	fs.StringVarP(&f.name, "name", "n", "", "display name shown to other participants")
	fs.StringVar(&f.overrides.ServerURL, "server", "", "session server WebSocket URL")
	fs.StringVar(&f.overrides.Fallback, "fallback", "", "same-device fallback: off, auto, always")
	fs.StringVar(&f.overrides.FallbackPath, "fallback-path", "", "sqlite file shared by same-device clients")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func (f *partyFlags) load() (config.Config, *zerolog.Logger, error) {
	cfg, _, err := config.Load(nil, f.configPath)
	if err != nil {
		return cfg, nil, err
	}
	cfg.UpdateFrom(config.Config{LogLevel: f.logLevel, Client: f.overrides})
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	return cfg, log.New(cfg.LogLevel, log.WithOutput(os.Stderr)), nil
}

// session bundles a reconciler with the resources behind it.
type session struct {
	party *party.Reconciler
	close func()
}

func openSession(cfg config.Config, name string, logger *zerolog.Logger) (*session, error) {
	opts := client.Options{
		Primary:              client.NewWSTransport(cfg.Client.ServerURL),
		FallbackMode:         client.FallbackMode(cfg.Client.Fallback),
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Client.ReconnectDelay,
		DialTimeout:          cfg.Client.DialTimeout,
		Logger:               logger,
	}

	closeFn := func() {}
	if cfg.Client.Fallback != config.FallbackOff {
		st, err := sqlite.New(cfg.Client.FallbackPath)
		if err != nil {
			return nil, fmt.Errorf("open fallback store: %w", err)
		}
		opts.Fallback = client.NewFallbackTransport(st, client.WithFallbackLogger(*logger))
		closeFn = func() {
			if err := st.Close(); err != nil {
				logger.Warn().Err(err).Msg("close fallback store")
			}
		}
	}

	if name == "" {
		name = "guest"
	}
	r := party.NewReconciler(client.NewService(opts), nil, party.Config{
		UserID:   uuid.NewString(),
		UserName: name,
		Tick:     cfg.Client.TickInterval,
		Resync:   cfg.Client.ResyncInterval,
		Logger:   logger,
	})
	return &session{party: r, close: closeFn}, nil
}

func newRootCmd() *cobra.Command {
	var flags partyFlags

	root := &cobra.Command{
		Use:           "watchparty",
		Short:         "Watch together: create or join a synchronized playback session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(root.PersistentFlags())

	var mediaID int64
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a room and host it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd, &flags, func(ctx context.Context, r *party.Reconciler) error {
				roomID, err := r.Create(ctx, mediaID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "room %s created, share this id to invite others\n", roomID)
				return nil
			})
		},
	}
	create.Flags().Int64Var(&mediaID, "media", 0, "media id to watch")

	join := &cobra.Command{
		Use:   "join <roomId>",
		Short: "Join an existing room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, &flags, func(ctx context.Context, r *party.Reconciler) error {
				return r.Join(ctx, args[0])
			})
		},
	}

	root.AddCommand(create, join)
	return root
}

func runSession(cmd *cobra.Command, flags *partyFlags, start func(context.Context, *party.Reconciler) error) error {
	cfg, logger, err := flags.load()
	if err != nil {
		return err
	}
	s, err := openSession(cfg, flags.name, logger)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	watchState(s.party.Store(), out)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Client.DialTimeout)
	err = start(dialCtx, s.party)
	cancel()
	if err != nil {
		return err
	}

	err = repl(ctx, s.party, cmd.InOrStdin(), out)
	if s.party.State().Phase != party.PhaseLeft {
		leaveCtx, cancel := context.WithTimeout(context.Background(), cfg.Client.DialTimeout)
		defer cancel()
		if lerr := s.party.Leave(leaveCtx); lerr != nil {
			logger.Debug().Err(lerr).Msg("leave on exit")
		}
	}
	return err
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
