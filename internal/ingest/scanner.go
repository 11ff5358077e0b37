package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/observability/metrics"
)

type ScannerConfig struct {
	Dir         string
	Interval    time.Duration
	OrphanAfter time.Duration
	StaleAfter  time.Duration
	Extensions  []string
}

// ScanStats summarizes one directory pass.
type ScanStats struct {
	Scanned   int
	Observed  int
	Forwarded int
	Stale     int
}

// Scanner catches what the event stream missed: unprefixed files that
// settled without an event, ready files that were never forwarded, and ready
// files stuck past the stale threshold.
type Scanner struct {
	cfg     ScannerConfig
	exts    map[string]struct{}
	source  Source
	fwd     *Forwarder
	log     *slog.Logger
	metrics *metrics.WatcherMetrics
	now     func() time.Time

	mu          sync.Mutex
	staleLogged map[string]struct{}
}

func NewScanner(cfg ScannerConfig, source Source, fwd *Forwarder, logger *slog.Logger, m *metrics.WatcherMetrics) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.OrphanAfter <= 0 {
		cfg.OrphanAfter = 5 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	return &Scanner{
		cfg:         cfg,
		exts:        ExtensionSet(cfg.Extensions),
		source:      source,
		fwd:         fwd,
		log:         logger,
		metrics:     m,
		now:         time.Now,
		staleLogged: make(map[string]struct{}),
	}
}

// Initial runs once at start-up: unprefixed files enter the quiescence
// tracker and every existing ready file is forwarded.
func (s *Scanner) Initial(ctx context.Context) (ScanStats, error) {
	return s.scan(ctx, true)
}

// Scan is one periodic pass.
func (s *Scanner) Scan(ctx context.Context) (ScanStats, error) {
	return s.scan(ctx, false)
}

// Run scans every Interval until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats, err := s.Scan(ctx)
			if err != nil {
				s.log.Warn("directory scan failed", "dir", s.cfg.Dir, "error", err)
				continue
			}
			if stats.Forwarded > 0 || stats.Stale > 0 {
				s.log.Info("directory scan", "dir", s.cfg.Dir,
					"scanned", stats.Scanned, "forwarded", stats.Forwarded, "stale", stats.Stale)
			}
		}
	}
}

func (s *Scanner) scan(ctx context.Context, initial bool) (ScanStats, error) {
	var stats ScanStats
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return stats, fmt.Errorf("scan %s: %w", s.cfg.Dir, err)
	}

	present := make(map[string]struct{}, len(entries))
	now := s.now()
	for _, e := range entries {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.cfg.Dir, e.Name())
		present[path] = struct{}{}
		stats.Scanned++

		if IsCandidate(path, s.exts) {
			s.source.Observe(path)
			stats.Observed++
			if !initial {
				s.metrics.ScanFinding("new")
			}
			continue
		}
		if !constants.IsReadyName(path) || !constants.IsAllowed(path, s.exts) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())

		if initial || (age >= s.cfg.OrphanAfter && s.fwd.Eligible(path, s.cfg.OrphanAfter)) {
			if s.fwd.Forward(ctx, ReadyEvent{Path: path, DetectedAt: now}) {
				stats.Forwarded++
				if !initial {
					s.metrics.ScanFinding("orphan")
					s.log.Warn("re-forwarding orphaned ready file", "path", path, "age", age.Round(time.Second).String())
				}
			}
			continue
		}

		if age >= s.cfg.StaleAfter && !s.fwd.Forwarded(path) && s.markStale(path) {
			stats.Stale++
			s.metrics.ScanFinding("stale")
			s.log.Warn("stale ready file was never processed", "path", path, "age", age.Round(time.Second).String())
		}
	}

	s.fwd.Prune(func(p string) bool { _, ok := present[p]; return ok })
	s.mu.Lock()
	for p := range s.staleLogged {
		if _, ok := present[p]; !ok {
			delete(s.staleLogged, p)
		}
	}
	s.mu.Unlock()
	return stats, nil
}

func (s *Scanner) markStale(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staleLogged[path]; ok {
		return false
	}
	s.staleLogged[path] = struct{}{}
	return true
}
