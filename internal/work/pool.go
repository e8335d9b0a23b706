package work

import (
	"context"
	"fmt"
	"sync"

	"github.com/marketpulse/pulse/internal/queue"
	"github.com/marketpulse/pulse/internal/telemetry"
	"github.com/rs/zerolog"
)

// Pool runs a fixed number of processors against one queue
type Pool struct {
	processors []*Processor
	notifier   queue.Notifier
	log        zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// PoolStatus is a snapshot of pool activity
type PoolStatus struct {
	Workers int   `json:"workers"`
	Busy    int   `json:"busy"`
	Handled int64 `json:"handled"`
}

// NewPool creates count processors. notifier may be nil, in which case
// processors rely on polling alone.
func NewPool(count int, q Queue, handler Handler, notifier queue.Notifier, cfg Config, metrics *telemetry.Metrics, log zerolog.Logger) *Pool {
	if count < 1 {
		count = 1
	}

	p := &Pool{
		notifier: notifier,
		log:      log.With().Str("component", "worker_pool").Logger(),
	}
	for i := 0; i < count; i++ {
		p.processors = append(p.processors, NewProcessor(fmt.Sprintf("worker-%d", i+1), q, handler, cfg, metrics, log))
	}
	return p
}

// Start launches the processors and the wake-up listener
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	listenCtx, cancel := context.WithCancel(ctx)
	if p.notifier != nil {
		wake, err := p.notifier.Subscribe(listenCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to subscribe to queue notifications: %w", err)
		}
		p.wg.Add(1)
		go p.listen(listenCtx, wake)
	}

	for _, proc := range p.processors {
		go proc.Run()
	}

	p.cancel = cancel
	p.running = true
	p.log.Info().Int("workers", len(p.processors)).Bool("notifications", p.notifier != nil).Msg("Worker pool started")
	return nil
}

// Stop stops every processor, waiting for in-flight jobs to be reported
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()

	var wg sync.WaitGroup
	for _, proc := range p.processors {
		wg.Add(1)
		go func(proc *Processor) {
			defer wg.Done()
			proc.Stop()
		}(proc)
	}
	wg.Wait()

	p.running = false
	p.log.Info().Msg("Worker pool stopped")
}

// Trigger wakes every idle processor
func (p *Pool) Trigger() {
	for _, proc := range p.processors {
		proc.Trigger()
	}
}

// Status returns current pool activity
func (p *Pool) Status() PoolStatus {
	s := PoolStatus{Workers: len(p.processors)}
	for _, proc := range p.processors {
		if proc.Busy() {
			s.Busy++
		}
		s.Handled += proc.Handled()
	}
	return s
}

func (p *Pool) listen(ctx context.Context, wake <-chan struct{}) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			p.Trigger()
		}
	}
}
