package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nimai50/dekary/internal/offline"
)

func main() {
	err := newRootCmd().Execute()
	sentry.Flush(2 * time.Second)
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "dekary-offline",
		Short:         "Offline-first caching proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", getenvDefault("DEKARY_CONFIG", "/dekary.yaml"), "path to dekary.yaml")

	load := func() (offline.Config, zerolog.Logger, error) {
		log := zerolog.New(os.Stdout).With().Timestamp().Logger()
		cfg, err := offline.LoadConfig(configPath)
		if err != nil {
			log.Error().Err(err).Str("path", configPath).Msg("load config")
			return offline.Config{}, log, err
		}
		log = log.Level(parseLevel(cfg.Logging.Level))
		if cfg.Logging.SentryDSN != "" {
			err := sentry.Init(sentry.ClientOptions{
				Dsn:     cfg.Logging.SentryDSN,
				Release: cfg.CacheName(),
			})
			if err != nil {
				log.Warn().Err(err).Msg("sentry init")
			}
		}
		return cfg, log, nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the proxy and keep the configured version installed",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := load()
				if err != nil {
					return err
				}
				return serve(configPath, cfg, log)
			},
		},
		&cobra.Command{
			Use:   "install",
			Short: "Install and activate the configured version, then exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := load()
				if err != nil {
					return err
				}
				svc, err := offline.NewService(cfg, log)
				if err != nil {
					log.Error().Err(err).Msg("init service")
					return err
				}
				defer svc.Close()
				c, err := svc.Install(cmd.Context())
				if err != nil {
					log.Error().Err(err).Msg("install")
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), c.CacheName())
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the resident caches as JSON",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := load()
				if err != nil {
					return err
				}
				svc, err := offline.NewService(cfg, log)
				if err != nil {
					log.Error().Err(err).Msg("init service")
					return err
				}
				defer svc.Close()
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(svc.Registration().Status())
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every cache",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := load()
				if err != nil {
					return err
				}
				svc, err := offline.NewService(cfg, log)
				if err != nil {
					log.Error().Err(err).Msg("init service")
					return err
				}
				defer svc.Close()
				n, err := svc.Registration().Clear(cmd.Context())
				if err != nil {
					log.Error().Err(err).Msg("clear")
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d caches\n", n)
				return nil
			},
		},
	)
	return root
}

func serve(configPath string, cfg offline.Config, log zerolog.Logger) error {
	svc, err := offline.NewService(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("init service")
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	servers := []*http.Server{}
	start := func(name string, port int, h http.Handler) error {
		addr := fmt.Sprintf(":%d", port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("listen")
			return err
		}
		srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
		servers = append(servers, srv)
		go func() {
			log.Info().Str("server", name).Str("addr", addr).Str("origin", cfg.Server.Origin).Msg("listening")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("server", name).Msg("server error")
				stop()
			}
		}()
		return nil
	}
	if err := start("proxy", cfg.Server.Port, svc.Handler()); err != nil {
		return err
	}
	if cfg.Server.AdminPort > 0 {
		if err := start("admin", cfg.Server.AdminPort, svc.AdminHandler()); err != nil {
			return err
		}
	}

	svc.Start()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			next, err := offline.LoadConfig(configPath)
			if err != nil {
				log.Error().Err(err).Msg("reload config")
				continue
			}
			if err := svc.Reload(ctx, next); err != nil {
				log.Error().Err(err).Msg("reload")
				continue
			}
			log.Info().Str("cache", next.CacheName()).Msg("reloaded")
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, srv := range servers {
				_ = srv.Shutdown(shutdownCtx)
			}
			return nil
		}
	}
}

func parseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
