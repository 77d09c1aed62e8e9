package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stevemurr/cosmoscope/config"
	"github.com/stevemurr/cosmoscope/events"
	"github.com/stevemurr/cosmoscope/handler"
	"github.com/stevemurr/cosmoscope/history"
	"github.com/stevemurr/cosmoscope/loader"
	"github.com/stevemurr/cosmoscope/operations"
	"github.com/stevemurr/cosmoscope/store"
)

func main() {
	defer glog.Flush()
	if err := newRootCommand(config.New()).Execute(); err != nil {
		glog.Errorf("cosmoscope: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:          "cosmoscope",
		Short:        "Serve a session-scoped dataset store with undo and redo",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "config file (default cosmoscope.yaml in . or ~/.cosmoscope)")
	f.String("server-address", config.DefaultServerAddress, "RPC server address")
	f.String("publisher-address", config.DefaultPublisherAddress, "event publisher address")
	f.String("session-driver", store.DriverFS, "session backend: fs, sqlite, memory, s3 or postgres")
	f.String("session-dir", "", "session directory for the fs and sqlite backends")
	for key, name := range map[string]string{
		"server_address":    "server-address",
		"publisher_address": "publisher-address",
		"session.driver":    "session-driver",
		"session.dir":       "session-dir",
	} {
		_ = v.BindPFlag(key, f.Lookup(name))
	}

	// glog registers -v, -logtostderr and friends on the standard flag set.
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions, err := store.NewSessions(ctx, cfg.SessionOptions())
	if err != nil {
		return err
	}
	if c, ok := sessions.(io.Closer); ok {
		defer c.Close()
	}

	s := store.New(sessions)
	loaders := loader.Default()
	ops := history.NewRegistry()
	if err := operations.Register(ops, operations.Deps{Store: s, Loaders: loaders}); err != nil {
		return err
	}
	pub := events.NewPublisher(cfg.EventSettings())
	defer pub.Close()

	h := handler.New(handler.Deps{
		Store:      s,
		Operations: ops,
		Stack:      history.NewStack(),
		Loaders:    loaders,
		Events:     pub,
	})
	eventsMux := http.NewServeMux()
	eventsMux.Handle(events.Path, pub)

	servers := []*http.Server{
		{Addr: config.ListenAddress(cfg.ServerAddress), Handler: h},
		{Addr: config.ListenAddress(cfg.PublisherAddress), Handler: eventsMux},
	}
	errc := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}
	glog.Infof("cosmoscope: session %s listening on %s, sending on %s (sessions: %s)",
		s.SessionID(), cfg.ServerAddress, cfg.PublisherAddress, sessions.Driver())

	select {
	case <-ctx.Done():
		glog.Infof("cosmoscope: shutting down")
	case err = <-errc:
		glog.Errorf("cosmoscope: server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			glog.Errorf("cosmoscope: shutdown %s: %v", srv.Addr, serr)
		}
	}
	return err
}
