package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/config"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/sessions/boltstore"
	"github.com/jrsteele09/go-auth-session/sessions/memorystore"
	"github.com/jrsteele09/go-auth-session/sessions/redisstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// app is what every subcommand runs against.
type app struct {
	cfg      config.Config
	manager  *auth.Manager
	store    *sessions.Store
	registry *prometheus.Registry
	closers  []func() error
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
}

func openBackend(ctx context.Context, cfg config.Config) (sessions.Backend, func() error, error) {
	switch cfg.GetSessionBackend() {
	case config.BackendRedis:
		b, err := redisstore.Dial(ctx, cfg.GetRedisAddr(), cfg.GetRedisChannel(), redisstore.WithLogger(log.Logger))
		if err != nil {
			return nil, nil, fmt.Errorf("redis backend: %w", err)
		}
		return b, b.Close, nil
	case config.BackendBolt:
		b, err := boltstore.Open(cfg.GetBoltPath())
		if err != nil {
			return nil, nil, fmt.Errorf("bolt backend: %w", err)
		}
		return b, b.Close, nil
	}
	log.Warn().Msg("memory backend: the session is lost when sessionctl exits")
	return memorystore.New(), func() error { return nil }, nil
}

func newApp(ctx context.Context, cfg config.Config, permissive bool) (*app, error) {
	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, registry: prometheus.NewRegistry(), closers: []func() error{closeBackend}}

	store, err := sessions.NewStore(backend, sessions.WithKeyPrefix(cfg.GetSessionKeyPrefix()))
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store

	options := []auth.Option{auth.WithMetrics(metrics.New(a.registry))}
	if permissive {
		options = append(options, auth.WithPermissiveNormalizer())
	}
	manager, err := auth.New(cfg, store, options...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.manager = manager
	return a, nil
}

func (a *app) close() {
	if a.manager != nil {
		a.manager.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("closing backend")
		}
	}
}

// printMetrics writes every non-zero counter the run produced.
func (a *app) printMetrics() {
	families, err := a.registry.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("gathering metrics")
		return
	}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			value := m.GetCounter().GetValue()
			if value == 0 {
				continue
			}
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			fmt.Printf("%s%s{%s} %g%s\n", Gray, family.GetName(), strings.Join(labels, ","), value, ResetColor)
		}
	}
}
