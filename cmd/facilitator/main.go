package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/vitwit/x402-facilitator"
	"github.com/vitwit/x402-facilitator/analytics"
	"github.com/vitwit/x402-facilitator/clients"
	"github.com/vitwit/x402-facilitator/config"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/ratelimit"
	"github.com/vitwit/x402-facilitator/server"
	"github.com/vitwit/x402-facilitator/settlement"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "facilitator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg)
	defer func() {
		if s, ok := log.(interface{ Sync() error }); ok {
			_ = s.Sync()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	client, err := clients.DialEVMClient(dialCtx, cfg.RPCURL)
	if err != nil {
		cancel()
		return fmt.Errorf("dial rpc: %w", err)
	}
	chainID, err := resolveChainID(dialCtx, client, cfg.ChainID, log)
	cancel()
	if err != nil {
		client.Close()
		return err
	}

	var feeToken common.Address
	if cfg.FeeToken != "" {
		feeToken = common.HexToAddress(cfg.FeeToken)
	}
	feePayer, err := settlement.NewKeyFeePayer(cfg.SponsorKey, feeToken)
	if err != nil {
		client.Close()
		return fmt.Errorf("load sponsor key: %w", err)
	}

	recorder := metrics.NewPrometheusRecorder()
	fac := x402.New(client, feePayer, chainID,
		x402.WithLogger(log),
		x402.WithMetrics(recorder),
		x402.WithTimeout(cfg.VerifyTimeout),
		x402.WithSettleTimeout(cfg.SettleTimeout),
	)
	defer fac.Close()

	sink, err := newSink(cfg, log)
	if err != nil {
		return err
	}
	events := analytics.NewTracker(sink, log)
	defer func() {
		if err := events.Close(); err != nil {
			log.Warn("analytics flush failed", map[string]any{"error": err.Error()})
		}
	}()

	var ipGate, addrGate *ratelimit.Gate
	if cfg.RateLimit.Enabled {
		ipGate = ratelimit.NewGate(ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst), log)
		addrGate = ratelimit.NewGate(ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst), log)
	}

	srv := server.New(server.Config{
		Facilitator:       fac,
		RPCURL:            client.RPCURL(),
		CORS:              server.CORSConfig{AllowedOrigins: cfg.AllowedOrigins},
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		TrustedProxies:    append([]string{}, cfg.TrustedProxies...),
		IPLimiter:         ipGate,
		AddressLimiter:    addrGate,
		Analytics:         events,
		Logger:            log,
		Registry:          recorder.Registerer(),
		MetricsHandler:    recorder.Handler(),
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.SettleTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("facilitator listening", map[string]any{
			"addr":     listener.Addr().String(),
			"network":  fac.Network().String(),
			"feePayer": fac.FeePayer().Hex(),
			"feeToken": feePayer.FeeToken().Hex(),
		})
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", map[string]any{"error": err.Error()})
	}
	log.Info("facilitator stopped", nil)
	return nil
}

func newLogger(cfg *config.Config) logger.Logger {
	if cfg.Log.File == "" {
		return logger.NewZapLogger(cfg.Log.Level)
	}
	return logger.NewRotatingZapLogger(cfg.Log.Level, logger.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

// resolveChainID asks the node when no chain id is configured, and warns
// when a configured one disagrees with it.
func resolveChainID(ctx context.Context, client clients.Client, configured uint64, log logger.Logger) (uint64, error) {
	id, err := client.ChainID(ctx)
	if err != nil {
		if configured != 0 {
			log.Warn("could not confirm chain id with node", map[string]any{"error": err.Error()})
			return configured, nil
		}
		return 0, fmt.Errorf("resolve chain id: %w", err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("resolve chain id: %s out of range", id)
	}
	if configured != 0 && configured != id.Uint64() {
		log.Warn("configured chain id differs from node", map[string]any{
			"configured": configured,
			"node":       id.Uint64(),
		})
		return configured, nil
	}
	return id.Uint64(), nil
}

func newSink(cfg *config.Config, log logger.Logger) (analytics.Sink, error) {
	if cfg.PostHog.APIKey == "" {
		log.Warn("POSTHOG_API_KEY not set, analytics disabled", nil)
		return analytics.Noop{}, nil
	}
	ph, err := analytics.NewPostHog(cfg.PostHog.APIKey, analytics.PostHogOptions{
		Host:        cfg.PostHog.Host,
		Environment: cfg.TempoEnv,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	return ph, nil
}
