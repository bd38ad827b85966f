package presence

import (
	"context"
	"sync"
	"time"

	"ludexdash/internal/dashboard"
)

type PublisherOptions struct {
	Store   Store
	TTL     time.Duration
	Timeout time.Duration
	Now     func() time.Time
	Logf    func(format string, args ...any)
}

// Publisher pushes summaries to a Store from its own goroutine. Offer never
// blocks: a summary still waiting to be written is replaced by a newer one.
type Publisher struct {
	store   Store
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logf    func(format string, args ...any)

	pending chan Summary
	done    chan struct{}
	once    sync.Once
}

func NewPublisher(opts PublisherOptions) *Publisher {
	store := opts.Store
	if store == nil {
		store = NoopStore{}
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Publisher{
		store:   store,
		ttl:     ttl,
		timeout: timeout,
		now:     now,
		logf:    logf,
		pending: make(chan Summary, 1),
		done:    make(chan struct{}),
	}
}

// Offer queues a summary of snap. The snapshot is already a copy, so it is
// safe to hand across goroutines.
func (p *Publisher) Offer(snap dashboard.Snapshot) {
	summary := Summarize(snap, p.now())
	for {
		select {
		case p.pending <- summary:
			return
		default:
		}
		select {
		case <-p.pending:
		default:
		}
	}
}

// Run writes queued summaries until ctx is done, then flushes the last one.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			select {
			case s := <-p.pending:
				p.write(context.Background(), s)
			default:
			}
			return
		case s := <-p.pending:
			p.write(ctx, s)
		}
	}
}

// Wait blocks until Run has returned.
func (p *Publisher) Wait() {
	<-p.done
}

func (p *Publisher) Close() error {
	var err error
	p.once.Do(func() {
		err = p.store.Close()
	})
	return err
}

func (p *Publisher) write(ctx context.Context, s Summary) {
	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.store.Publish(wctx, s, p.ttl); err != nil {
		p.logf("presence: publish run_id=%s failed: %v", s.RunID, err)
	}
}
