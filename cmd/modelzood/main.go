package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelzoo/internal/common/fsutil"
	"modelzoo/internal/config"
	"modelzoo/internal/history"
	"modelzoo/internal/httpapi"
	"modelzoo/internal/keeper"
	"modelzoo/internal/peers"
	"modelzoo/internal/proxy"
	"modelzoo/internal/supervisor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr        string
		configPath  string
		historyPath string
		logLevel    string
		corsOrigins string
	)

	cmd := &cobra.Command{
		Use:   "modelzood",
		Short: "Launches, supervises and proxies local AI model servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr, configPath, historyPath, logLevel, corsOrigins)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&addr, "addr", envOr("MODELZOO_ADDR", ""), "HTTP listen address, e.g. :5000")
	cmd.Flags().StringVar(&configPath, "config", envOr("MODELZOO_CONFIG", ""), "Path to config file (.yaml/.json/.toml)")
	cmd.Flags().StringVar(&historyPath, "history-path", envOr("MODELZOO_HISTORY", ""), "Directory for the launch history store")
	cmd.Flags().StringVar(&logLevel, "log-level", envOr("MODELZOO_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", envOr("MODELZOO_CORS_ORIGINS", ""), "Comma-separated CORS origins (empty disables CORS)")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func run(addr, configPath, historyPath, logLevel, corsOrigins string) error {
	log := newLogger(logLevel)

	var cfg config.Config
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	// Flags override file values.
	if addr != "" {
		cfg.Addr = addr
	}
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	if historyPath != "" {
		cfg.HistoryPath = historyPath
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = "~/.modelzoo/history"
	}
	if origins := splitCSV(corsOrigins); len(origins) > 0 {
		cfg.CORS = config.CORSConfig{Enabled: true, Origins: origins}
	}

	zoos, err := config.BuildZoos(cfg.Zoos)
	if err != nil {
		return fmt.Errorf("build zoos: %w", err)
	}
	adapters, err := config.BuildRuntimes(cfg.Runtimes)
	if err != nil {
		return fmt.Errorf("build runtimes: %w", err)
	}

	histDir, err := fsutil.EnsureDir(cfg.HistoryPath)
	if err != nil {
		return fmt.Errorf("history dir: %w", err)
	}
	store, err := history.Open(histDir, log)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	sup := supervisor.New(supervisorConfig(cfg.Instance), store, log)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	var peerView keeper.PeerView
	var proxyOpts []proxy.Option
	var agg *peers.Aggregator
	if len(cfg.Peers) > 0 {
		agg = peers.New(cfg.Peers, peers.Config{
			RefreshInterval: time.Duration(cfg.PeerRefreshSeconds) * time.Second,
		}, log)
		agg.Start(baseCtx)
		defer agg.Close()
		peerView = agg
		proxyOpts = append(proxyOpts, proxy.WithPeers(agg))
	}

	k := keeper.New(zoos, adapters, cfg.Envs, sup, store, peerView, log)
	dispatcher := proxy.New(sup, log, proxyOpts...)

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(baseCtx)
	if cfg.CORS.Enabled {
		httpapi.SetCORSOptions(true, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)
	}
	mux := httpapi.NewMux(k, dispatcher)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Int("zoos", len(zoos)).Int("runtimes", len(adapters)).Msg("modelzood listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	// Every supervised child must be down before the history store closes.
	sup.Shutdown()
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func supervisorConfig(ic config.InstanceConfig) supervisor.Config {
	return supervisor.Config{
		Host:          ic.Host,
		ProbeInterval: time.Duration(ic.ProbeIntervalMS) * time.Millisecond,
		ProbeTimeout:  time.Duration(ic.ProbeTimeoutMS) * time.Millisecond,
		ProbeBudget:   time.Duration(ic.ProbeBudgetSecs) * time.Second,
		StopGrace:     time.Duration(ic.StopGraceSecs) * time.Second,
		LogLines:      ic.LogLines,
	}
}
