package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	robcron "github.com/robfig/cron/v3"

	"ludexdash/internal/protocol"
)

type PollerOptions struct {
	// Schedule is a cron spec; descriptors such as "@every 5s" are accepted.
	Schedule string
	Timeout  time.Duration
	Fetch    func(ctx context.Context) (protocol.Metrics, error)
	Deliver  func(protocol.MetricsUpdate)
	Logf     func(format string, args ...any)
}

// Poller fetches the metrics summary on a schedule and hands each result
// to Deliver as a MetricsUpdate, so polled and pushed metrics take the same
// path into the session.
type Poller struct {
	cron    *robcron.Cron
	timeout time.Duration
	fetch   func(ctx context.Context) (protocol.Metrics, error)
	deliver func(protocol.MetricsUpdate)
	logf    func(format string, args ...any)

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

func NewPoller(opts PollerOptions) (*Poller, error) {
	if opts.Fetch == nil || opts.Deliver == nil {
		return nil, errors.New("poller requires fetch and deliver")
	}
	spec := strings.TrimSpace(opts.Schedule)
	if spec == "" {
		spec = "@every 5s"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	p := &Poller{
		timeout: timeout,
		fetch:   opts.Fetch,
		deliver: opts.Deliver,
		logf:    logf,
	}
	p.cron = robcron.New(robcron.WithChain(robcron.SkipIfStillRunning(robcron.DiscardLogger)))
	if _, err := p.cron.AddFunc(spec, p.tick); err != nil {
		return nil, fmt.Errorf("parse metrics schedule %q: %w", spec, err)
	}
	return p, nil
}

// Start polls once immediately and then on every scheduled tick until ctx
// is done or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.mu.Unlock()

	go p.tick()
	p.cron.Start()
	go func() {
		<-p.ctx.Done()
		p.Stop()
	}()
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	<-p.cron.Stop().Done()
}

// PollNow performs one fetch outside the schedule.
func (p *Poller) PollNow(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	m, err := p.fetch(fetchCtx)
	if err != nil {
		return err
	}
	p.deliver(protocol.MetricsUpdate{Metrics: m})
	return nil
}

func (p *Poller) tick() {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if err := p.PollNow(ctx); err != nil && ctx.Err() == nil {
		p.logf("metrics poll failed: %v", err)
	}
}
