package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/navguard/internal/api"
	"github.com/dgnsrekt/navguard/internal/browser"
	"github.com/dgnsrekt/navguard/internal/classifier"
	"github.com/dgnsrekt/navguard/internal/config"
	"github.com/dgnsrekt/navguard/internal/controller"
	"github.com/dgnsrekt/navguard/internal/engine"
	"github.com/dgnsrekt/navguard/internal/journal"
	"github.com/dgnsrekt/navguard/internal/metrics"
	"github.com/dgnsrekt/navguard/internal/netutil"
	"github.com/dgnsrekt/navguard/internal/notify"
	"github.com/dgnsrekt/navguard/internal/relay"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("navguard config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"classifier_mode", cfg.ClassifierMode,
		"classifier_url", cfg.ClassifierURL,
		"classifier_timeout_ms", cfg.ClassifierTimeout.Milliseconds(),
		"fail_closed", cfg.FailClosed,
		"idle_ttl", cfg.IdleTTL,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.LogLevel,
	)

	if err := run(cfg); err != nil {
		slog.Error("navguard stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return fmt.Errorf("select bind address: %w", err)
	}
	bindAddr := ln.Addr().String()

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.LaunchConfig{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.BrowserProfileDir,
			BinaryPath: cfg.BrowserBinary,
		})
		if err := launcher.Launch(ctx); err != nil {
			_ = ln.Close()
			return fmt.Errorf("launch browser: %w", err)
		}
		defer launcher.Stop()
	}

	cl, err := buildClassifier(cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}

	m := metrics.New()
	feed := relay.NewBroker()
	waiter := controller.NewWaiter()
	observers := engine.Observers{engine.LogObserver{}, m, relay.NewPublisher(feed), waiter}
	if cfg.EventLogDir != "" {
		events := journal.NewWriter(cfg.EventLogDir, "", 0, cfg.EventLogMaxMB)
		defer func() {
			if err := events.Close(); err != nil {
				slog.Debug("event journal close failed", "error", err)
			}
		}()
		observers = append(observers, events)
	}
	var notifier *notify.BlockNotifier
	if cfg.NotifyURL != "" {
		notifier = notify.NewBlockNotifier(&http.Client{}, cfg.NotifyURL)
		observers = append(observers, notifier)
	}

	redirector := browser.NewRedirector(cfg.CDPURL())
	defer redirector.Close()

	failure := engine.FailOpen
	if cfg.FailClosed {
		failure = engine.FailClosed
	}
	eng := engine.New(engine.Config{
		WarningURL:      cfg.ResolveWarningURL(bindAddr),
		ClassifyTimeout: cfg.ClassifierTimeout,
		RedirectTimeout: cfg.RedirectTimeout,
		FailurePolicy:   failure,
		IdleTTL:         cfg.IdleTTL,
		SweepInterval:   cfg.SweepInterval,
	}, cl, redirector, nil, observers)

	watcher := browser.NewWatcher(cfg.CDPURL(), eng)
	opts := controller.Options{Browser: watcher, Feed: feed, Waiter: waiter}
	if notifier != nil {
		opts.Notifier = notifier
	}
	svc := controller.NewService(eng, m, opts)
	srv := &http.Server{
		Handler:           api.NewServer(svc, api.Options{Feed: feed}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	if notifier != nil {
		g.Go(func() error { return notifier.Run(gctx) })
	}
	if launcher != nil {
		g.Go(func() error { return launcher.Wait(gctx) })
	}
	g.Go(func() error {
		slog.Info("navguard listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs", "warning_url", cfg.ResolveWarningURL(bindAddr))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("api shutdown failed", "error", err)
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, browser.ErrBrowserExited) {
		slog.Info("guarded browser closed, stopping")
		err = nil
	}
	slog.Info("navguard shutting down", "tracked_tabs", eng.Store().Count(), "avg_latency_ms", m.AvgLatency().Milliseconds())
	return err
}

// buildClassifier assembles the configured classifier. Chain mode consults
// the local blocklist first so known-bad hosts never reach the network.
func buildClassifier(cfg *config.Config) (classifier.Classifier, error) {
	var static *classifier.Static
	if cfg.ClassifierMode != config.ModeRemote {
		list, err := classifier.LoadBlocklist(cfg.BlocklistFile)
		if err != nil {
			return nil, err
		}
		static, err = classifier.NewStatic(*list)
		if err != nil {
			return nil, err
		}
		slog.Info("blocklist loaded", "path", cfg.BlocklistFile, "rules", static.Len())
	}
	remote := classifier.NewHTTP(cfg.ClassifierURL, &http.Client{})

	switch cfg.ClassifierMode {
	case config.ModeStatic:
		return static, nil
	case config.ModeChain:
		return classifier.Chain{static, remote}, nil
	default:
		return remote, nil
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
