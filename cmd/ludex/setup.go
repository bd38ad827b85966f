package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"ludexdash/internal/config"
	"ludexdash/internal/dashlog"
	"ludexdash/internal/pipeline"
	"ludexdash/internal/presence"
	"ludexdash/internal/transport"
)

// app holds the collaborators shared by the run-driving commands.
type app struct {
	cfg    config.Config
	log    *dashlog.Logger
	client *pipeline.Client

	publisher *presence.Publisher
	stopPub   context.CancelFunc
}

// newApp loads the config and opens the log. When term is true log lines
// also go to stderr.
func newApp(configPath string, term bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := dashlog.OpenFile(cfg.Log.File, dashlog.Options{
		Term:        os.Stderr,
		TermEnabled: term,
		TermColor:   term && dashlog.TermColorEnabled(os.Stderr),
		Debug:       cfg.DebugLogging(),
	})
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg: cfg,
		log: log,
		client: pipeline.NewClient(pipeline.ClientOptions{
			StartURL:   cfg.StartURL(),
			MetricsURL: cfg.MetricsURL(),
			HealthURL:  cfg.HealthURL(),
			Logf:       log.Func(dashlog.KindDebug),
		}),
	}
	return a, nil
}

// startPresence starts publishing run summaries when a redis url is
// configured. Without one the publisher writes to a no-op store.
func (a *app) startPresence(ctx context.Context) error {
	var store presence.Store = presence.NoopStore{}
	if url := strings.TrimSpace(a.cfg.Presence.RedisURL); url != "" {
		rs, err := presence.NewRedisStore(url)
		if err != nil {
			return fmt.Errorf("presence: %w", err)
		}
		store = rs
		a.log.Logf(dashlog.KindInfo, "publishing run presence to redis ttl=%s", a.cfg.PresenceTTL())
	}
	a.publisher = presence.NewPublisher(presence.PublisherOptions{
		Store: store,
		TTL:   a.cfg.PresenceTTL(),
		Logf:  a.log.Func(dashlog.KindWarn),
	})
	pctx, cancel := context.WithCancel(ctx)
	a.stopPub = cancel
	go a.publisher.Run(pctx)
	return nil
}

func (a *app) dial(ctx context.Context) (pipeline.Stream, error) {
	url := a.cfg.WSURL()
	a.log.Logf(dashlog.KindWS, "connecting %s", url)
	conn, err := transport.Dial(ctx, url, transport.DialOptions{
		MaxMessageBytes: a.cfg.Server.MaxMessageBytes,
		DialTimeout:     a.cfg.DialTimeout(),
		Logf:            a.log.Func(dashlog.KindWS),
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (a *app) start(ctx context.Context, concept, genre string) error {
	resp, err := a.client.Start(ctx, concept, genre)
	if err != nil {
		return err
	}
	a.log.Logf(dashlog.KindInfo, "start accepted: %s %s", resp.Status, resp.Message)
	return nil
}

func (a *app) Close() {
	if a.publisher != nil {
		a.stopPub()
		a.publisher.Wait()
		if err := a.publisher.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "warning:", err)
		}
	}
	if err := a.log.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
}
