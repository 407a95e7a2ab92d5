// Command approvald runs the approval workflow service: it loads the
// configuration, opens the configured store, resumes interrupted
// instances, and serves the HTTP API until SIGINT or SIGTERM.
//
// Usage:
//
//	approvald -config approvals.yaml
//
// Then in another terminal:
//
//	# Start an approval
//	curl -X POST http://localhost:8080/v1/approvals \
//	  -H "Content-Type: application/json" \
//	  -d '{"applicantId":"alice","applicationName":"model.png","referenceUrl":"file:///tmp/approvals/requests/alice_-_model.png"}'
//
//	# Approve it
//	curl -X POST http://localhost:8080/v1/approvals/<instanceId>/response -d '{"approved":true}'
//
//	# Check on it
//	curl 'http://localhost:8080/v1/status?entityId=alice'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/api"
	"github.com/xraph/approvals/approval"
	audithook "github.com/xraph/approvals/audit_hook"
	"github.com/xraph/approvals/callback"
	"github.com/xraph/approvals/engine"
	"github.com/xraph/approvals/finalize"
	"github.com/xraph/approvals/notify"
)

func main() {
	configPath := flag.String("config", os.Getenv("APPROVALS_CONFIG"), "path to the YAML configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, logger); err != nil {
		logger.Error("approvald exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, logger *slog.Logger) error {
	cfg, err := approvals.LoadConfig(configPath)
	if err != nil {
		return err
	}

	shutdownTracing, err := setupTracing(cfg.Telemetry, os.Stdout)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown", slog.String("error", err.Error()))
		}
	}()

	s, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("store close", slog.String("error", err.Error()))
		}
	}()

	var signer *callback.Signer
	var links notify.Linker = notify.NoLinks{}
	if cfg.Callback.Secret != "" {
		signer, err = callback.NewSigner(cfg.Callback.Secret)
		if err != nil {
			return err
		}
		if cfg.Callback.BaseURL != "" {
			links = notify.SignedLinks{Signer: signer, BaseURL: cfg.Callback.BaseURL, TTL: cfg.Callback.TTL}
		}
	}

	eng, err := engine.New(s,
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithNotifier(buildNotifier(cfg.Notify, links, logger)),
		engine.WithFinalizer(finalize.NewMover(cfg.Artifacts, finalize.WithLogger(logger))),
		engine.WithExtension(audithook.New(
			audithook.LogRecorder(logger.With(slog.String("component", "audit"))),
			audithook.WithActions(audithook.DecisionActions()...),
			audithook.WithLogger(logger),
		)),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(eng, api.WithLogger(logger), api.WithSigner(signer)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("approvald listening",
			slog.String("addr", cfg.HTTP.Addr),
			slog.String("store", cfg.Store.Driver),
			slog.String("channel", string(approval.ParseChannel(cfg.Workflow.MeansOfApproval))),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Workflow.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	return eng.Stop(shutdownCtx)
}

// buildNotifier routes each channel to its transport, falling back to a
// log-only sender when the channel is not configured.
func buildNotifier(cfg approvals.NotifyConfig, links notify.Linker, logger *slog.Logger) *notify.Mux {
	fallback := &notify.Log{Logger: logger, Links: links}
	mux := notify.NewMux()

	if cfg.Slack.WebhookURL != "" {
		mux.Handle(approval.ChannelSlack, notify.NewSlack(cfg.Slack.WebhookURL, links))
	} else {
		mux.Handle(approval.ChannelSlack, fallback)
	}

	if cfg.Email.Addr != "" && len(cfg.Email.To) > 0 {
		mux.Handle(approval.ChannelEmail,
			notify.NewEmail(cfg.Email.Addr, cfg.Email.Username, cfg.Email.Password, cfg.Email.From, cfg.Email.To, links))
	} else {
		mux.Handle(approval.ChannelEmail, fallback)
	}
	return mux
}
