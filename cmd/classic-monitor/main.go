// cmd/classic-monitor/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/classic-monitor/internal/config"
	"github.com/tamzrod/classic-monitor/internal/discovery"
	"github.com/tamzrod/classic-monitor/internal/events"
	"github.com/tamzrod/classic-monitor/internal/logcache"
	"github.com/tamzrod/classic-monitor/internal/metrics"
	"github.com/tamzrod/classic-monitor/internal/mqtt"
	"github.com/tamzrod/classic-monitor/internal/poller"
	"github.com/tamzrod/classic-monitor/internal/status"
	"github.com/tamzrod/classic-monitor/internal/supervisor"
	"github.com/tamzrod/classic-monitor/internal/web"
	"github.com/tamzrod/classic-monitor/internal/writer"
)

const (
	eventQueue      = 1024
	shutdownTimeout = 10 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: classic-monitor <config.yaml>")
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		slog.Error("classic-monitor failed", "err", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)
	m := cfg.Monitor

	logger := newLogger(m.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Log cache
	// --------------------

	var cache logcache.Cache = logcache.NewMemory()
	if m.Cache.Path != "" {
		b, err := logcache.OpenBolt(m.Cache.Path)
		if err != nil {
			return fmt.Errorf("log cache: %w", err)
		}
		defer b.Close()
		cache = b
	}

	// --------------------
	// Sinks
	// --------------------

	registry := status.NewRegistry()
	prom := metrics.New()
	sinks := events.Multi{events.NewLogSink(logger), prom}

	// The hub loop only runs with the HTTP server.
	var hub *web.Hub
	if m.HTTP.Listen != "" {
		hub = web.NewHub(logger)
		sinks = append(sinks, hub)
	}

	if m.MQTT.Enabled {
		pub, err := mqtt.Connect(mqtt.Config{
			Broker:      m.MQTT.Broker,
			ClientID:    m.MQTT.ClientID,
			Username:    m.MQTT.Username,
			Password:    m.MQTT.Password,
			TopicPrefix: m.MQTT.TopicPrefix,
			QoS:         m.MQTT.QoS,
		}, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	var mirror *writer.Mirror
	if m.Mirror.Enabled {
		mw, closeMirror, err := writer.Build(m, registry, logger)
		if err != nil {
			return fmt.Errorf("mirror: %w", err)
		}
		defer closeMirror()
		mirror = mw
		sinks = append(sinks, mirror)
	}

	dispatcher := events.NewDispatcher(sinks, eventQueue, logger)
	if err := prom.RegisterDropped(func() float64 { return float64(dispatcher.Dropped()) }); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --------------------
	// Supervisor + controllers
	// --------------------

	g, gctx := errgroup.WithContext(ctx)

	dial := poller.DialOptions{Timeout: m.ModbusTimeout(), Retries: m.Modbus.Retries}
	sup := supervisor.New(gctx, dispatcher, supervisor.Options{
		Interval: m.PollInterval(),
		Dial:     dial,
		Workers:  m.Workers,
		AutoAdd:  m.Discovery.AutoAdd,
		Cache:    cache,
		Registry: registry,
		Logger:   logger,
	})
	if mirror != nil {
		mirror.SetInfoSource(sup.Info)
	}

	targets := make([]supervisor.Target, 0, len(m.Controllers))
	for _, c := range m.Controllers {
		ep, err := c.Endpoint()
		if err != nil {
			return err
		}
		targets = append(targets, supervisor.Target{Endpoint: ep, Name: c.Name})
	}
	if err := sup.Apply(targets); err != nil {
		return fmt.Errorf("controllers: %w", err)
	}

	// --------------------
	// Discovery
	// --------------------

	if m.Discovery.Enabled {
		l, err := discovery.Listen(discovery.Config{
			Address: net.JoinHostPort("", strconv.Itoa(m.Discovery.Port)),
		}, discovery.ModbusProber(dial), sup, logger)
		if err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
		g.Go(func() error { return l.Serve(gctx) })
	}

	// --------------------
	// HTTP
	// --------------------

	if hub != nil {
		webServer := web.NewServer(sup, hub, logger, web.WithMetrics(prom.Handler()))
		defer webServer.Stop()

		httpServer := &http.Server{
			Addr:              m.HTTP.Listen,
			Handler:           webServer,
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		g.Go(func() error {
			logger.Info("http server starting", "addr", m.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	logger.Info("classic-monitor running",
		"controllers", len(targets),
		"discovery", m.Discovery.Enabled,
		"mqtt", m.MQTT.Enabled,
		"mirror", m.Mirror.Enabled,
	)

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	runErr := g.Wait()

	// --------------------
	// Shutdown
	// --------------------

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn("supervisor shutdown", "err", err)
	}
	dispatcher.Close()

	logger.Info("goodbye")
	return runErr
}

func newLogger(lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(lc.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
