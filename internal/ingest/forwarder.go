package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/observability/metrics"
	"github.com/joseph-ayodele/receipts-intake/internal/resilience"
)

// Processor is the classification entry point the watcher hands files to.
type Processor interface {
	ProcessDocument(ctx context.Context, req entity.ProcessRequest) (entity.QueueItem, error)
}

type ForwarderConfig struct {
	CallingAppID  string
	MaxConcurrent int
	SubmitRate    float64 // per second; 0 disables limiting
}

// Forwarder acknowledges ready events immediately and drives the processing
// call on bounded background goroutines.
type Forwarder struct {
	proc    Processor
	exec    *resilience.Executor
	cfg     ForwarderConfig
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	log     *slog.Logger
	metrics *metrics.WatcherMetrics
	now     func() time.Time
	wg      sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	done     map[string]time.Time // forwarded successfully
	failed   map[string]time.Time // retries exhausted
}

func NewForwarder(proc Processor, exec *resilience.Executor, cfg ForwarderConfig, logger *slog.Logger, m *metrics.WatcherMetrics) *Forwarder {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	limit := rate.Inf
	if cfg.SubmitRate > 0 {
		limit = rate.Limit(cfg.SubmitRate)
	}
	return &Forwarder{
		proc:     proc,
		exec:     exec,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limiter:  rate.NewLimiter(limit, max(1, cfg.MaxConcurrent)),
		log:      logger,
		metrics:  m,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
		done:     make(map[string]time.Time),
		failed:   make(map[string]time.Time),
	}
}

// Run consumes events until the channel closes or ctx is done, then waits
// for in-flight hand-offs.
func (f *Forwarder) Run(ctx context.Context, events <-chan ReadyEvent) {
	defer f.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			f.Forward(ctx, ev)
		}
	}
}

// Forward acknowledges ev and returns at once. Duplicate events for a path
// already in flight or forwarded are dropped.
func (f *Forwarder) Forward(ctx context.Context, ev ReadyEvent) bool {
	f.mu.Lock()
	if _, busy := f.inFlight[ev.Path]; busy {
		f.mu.Unlock()
		return false
	}
	if _, ok := f.done[ev.Path]; ok {
		f.mu.Unlock()
		return false
	}
	f.inFlight[ev.Path] = struct{}{}
	delete(f.failed, ev.Path)
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.handoff(ctx, ev)
	}()
	return true
}

func (f *Forwarder) handoff(ctx context.Context, ev ReadyEvent) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("forwarder panic recovered", "path", ev.Path, "panic", r)
			f.finish(ev.Path, false)
		}
	}()

	if err := f.sem.Acquire(ctx, 1); err != nil {
		f.finish(ev.Path, false)
		return
	}
	defer f.sem.Release(1)
	f.metrics.Begin()
	defer f.metrics.End()

	attempt := 0
	var item entity.QueueItem
	err := f.exec.Execute(ctx, "intake.process", func(ctx context.Context) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		attempt++
		var err error
		item, err = f.proc.ProcessDocument(ctx, entity.ProcessRequest{
			FilePath:     ev.Path,
			CallingAppID: f.cfg.CallingAppID,
			Attempt:      attempt,
		})
		return err
	}, nil)

	if err != nil {
		outcome := "failed"
		if errors.Is(err, context.Canceled) {
			outcome = "cancelled"
		}
		f.metrics.Forward(outcome)
		f.log.Error("forward failed, file left in ready state",
			"path", ev.Path,
			"attempts", attempt,
			"retryable", common.IsRetryable(err),
			"error", err,
		)
		f.finish(ev.Path, false)
		return
	}

	f.metrics.Forward("ok")
	f.log.Info("document processed",
		"path", ev.Path,
		"item_id", item.ID,
		"status", item.Status,
		"action", item.Action,
		"attempts", attempt,
	)
	f.finish(ev.Path, true)
}

func (f *Forwarder) finish(path string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inFlight, path)
	if ok {
		f.done[path] = f.now()
	} else {
		f.failed[path] = f.now()
	}
}

// Eligible reports whether the scanner may re-forward path: it is not in
// flight, was never forwarded, and any earlier failure is older than cooldown.
func (f *Forwarder) Eligible(path string, cooldown time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.inFlight[path]; busy {
		return false
	}
	if _, ok := f.done[path]; ok {
		return false
	}
	if at, ok := f.failed[path]; ok && f.now().Sub(at) < cooldown {
		return false
	}
	return true
}

// Forwarded reports whether path was handed off successfully.
func (f *Forwarder) Forwarded(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.done[path]
	return ok
}

// Prune drops bookkeeping for paths that no longer exist.
func (f *Forwarder) Prune(exists func(path string) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p := range f.done {
		if !exists(p) {
			delete(f.done, p)
		}
	}
	for p := range f.failed {
		if !exists(p) {
			delete(f.failed, p)
		}
	}
}

// Wait blocks until every accepted hand-off has finished.
func (f *Forwarder) Wait() { f.wg.Wait() }
