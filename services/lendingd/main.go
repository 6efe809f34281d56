package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	protocol "fixedlend/config"
	"fixedlend/core/events"
	"fixedlend/observability"
	"fixedlend/observability/logging"
	"fixedlend/observability/metrics"
	telemetry "fixedlend/observability/otel"
	"fixedlend/services/lendingd/config"
	"fixedlend/services/lendingd/server"
	"fixedlend/sim"
)

const (
	metricsInterval = 15 * time.Second
	eventBuffer     = 2048
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lendingd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath, logLevel string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	env := strings.TrimSpace(os.Getenv("FIXEDLEND_ENV"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := []logging.Option{logging.WithLevel(logging.ParseLevel(logLevel))}
	if cfg.LogFile != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.LogFile, 100, 5, 28))
	}
	logger := logging.Setup("lendingd", env, logOpts...)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("lendingd", env, os.Getenv))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	protocolCfg, err := protocol.Load(cfg.ProtocolConfig)
	if err != nil {
		return fmt.Errorf("load protocol config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recent := events.NewRing(eventBuffer)
	deployment, err := sim.NewEnvironment(ctx, protocolCfg,
		sim.WithLogger(logger),
		sim.WithEmitter(recent),
		sim.WithMetrics(observability.Lending()),
		sim.WithRewardsMetrics(metrics.Rewards()),
	)
	if err != nil {
		return fmt.Errorf("build deployment: %w", err)
	}

	srv, err := server.New(deployment, server.Config{
		APITokens:   cfg.Auth.APITokens,
		AdminTokens: cfg.Auth.AdminTokens,
		Events:      recent,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure && !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			_ = listener.Close()
			return fmt.Errorf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}
	tlsCfg, err := loadServerTLS(cfg.TLS)
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("configure tls: %w", err)
	}
	if tlsCfg != nil {
		listener = tls.NewListener(listener, tlsCfg)
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("lendingd listening", "address", cfg.ListenAddress, "tls", tlsCfg != nil, "markets", len(deployment.Markets))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		publishMetrics(gctx, deployment)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			return httpServer.Close()
		}
		return nil
	})
	return g.Wait()
}

func publishMetrics(ctx context.Context, deployment *sim.Environment) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()
	deployment.PublishMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deployment.PublishMetrics()
		}
	}
}

func loadServerTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}
