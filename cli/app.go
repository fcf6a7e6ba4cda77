package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GBurgardt/interactive-brokers/client"
	"github.com/GBurgardt/interactive-brokers/gateway"
	"github.com/GBurgardt/interactive-brokers/portfolio"
)

// app wires the whole stack once per invocation. Nothing touches the network
// until connect is called, so commands that fail validation stay offline.
type app struct {
	cfg    Config
	logger *zap.SugaredLogger

	session   *gateway.Session
	mux       *client.Multiplexer
	quotes    *client.QuoteCache
	history   *client.HistoricalSeriesCache
	snapshots *client.SnapshotAggregator
	tracker   *client.Tracker
	aliases   *client.AliasTable
	reserved  *portfolio.Calculator

	metrics *http.Server
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	var conn = gateway.NewConn(logger, cfg.Host, cfg.Port, cfg.ClientID)
	var session = gateway.NewSession(logger, conn, cfg.ConnectTimeout)

	var codes = gateway.DefaultCodeSet()
	if len(cfg.InformationalCodes) > 0 {
		codes = gateway.NewCodeSet(cfg.InformationalCodes...)
	}
	var mux = client.NewMultiplexer(logger, session, codes)

	var aliases = client.NewAliasTable(cfg.Aliases)
	var quotes = client.NewQuoteCache(logger, mux, conn, cfg.QuoteTimeout)
	var history = client.NewHistoricalSeriesCache(logger, mux, conn, cfg.HistoryTTL, cfg.HistoryTimeout)
	var snapshots = client.NewSnapshotAggregator(logger, mux, conn, cfg.SnapshotTimeout)
	var tracker = client.NewTracker(logger, mux, session, snapshots, aliases, cfg.OrderIDTimeout, cfg.OrderTimeout)

	return &app{
		cfg:       cfg,
		logger:    logger,
		session:   session,
		mux:       mux,
		quotes:    quotes,
		history:   history,
		snapshots: snapshots,
		tracker:   tracker,
		aliases:   aliases,
		reserved:  portfolio.NewCalculator(quotes, history, cfg.BufferRatio),
	}, nil
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	var lvl, err = zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	var cfg = zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// connect brings up the session and, if configured, the metrics listener.
func (a *app) connect(ctx context.Context) error {
	if err := a.session.Connect(ctx); err != nil {
		return err
	}
	if a.cfg.MetricsAddr != "" {
		var mux = http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metrics = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Warnw("metrics listener", "error", err)
			}
		}()
	}
	return nil
}

func (a *app) close() {
	a.tracker.Close()
	a.mux.Close()
	if err := a.session.Close(); err != nil {
		a.logger.Debugw("session close", "error", err)
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		a.metrics.Shutdown(ctx)
	}
	a.logger.Sync()
}
