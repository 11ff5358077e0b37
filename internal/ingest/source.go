// Package ingest watches an inbox directory, promotes finished files to their
// ready_ name and forwards them to the classification entry point.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/observability/metrics"
)

// ReadyEvent announces a file that now carries the ready_ prefix.
type ReadyEvent struct {
	Path       string // ready_ path
	Original   string // path before the rename; empty when found already promoted
	DetectedAt time.Time
}

// Source is the subscribe capability over an inbox directory.
type Source interface {
	Subscribe(ctx context.Context, dir string) (<-chan ReadyEvent, <-chan error, error)
	// Observe feeds a path discovered outside the event stream (initial and
	// periodic scans) into the quiescence tracker.
	Observe(path string)
}

type Options struct {
	Quiescence   time.Duration
	PollInterval time.Duration
	Extensions   []string
	Logger       *slog.Logger
	Metrics      *metrics.WatcherMetrics
}

func (o Options) withDefaults() Options {
	if o.Quiescence <= 0 {
		o.Quiescence = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ExtensionSet turns a config list into a lookup set. Empty means the
// default allowed extensions.
func ExtensionSet(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		return constants.AllowedExtensions
	}
	out := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		if e = constants.NormalizeExt(strings.TrimSpace(e)); e != "" {
			out[e] = struct{}{}
		}
	}
	return out
}

// IsCandidate reports whether path is a visible, not yet promoted file with
// an accepted extension.
func IsCandidate(path string, exts map[string]struct{}) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || constants.IsReadyName(base) {
		return false
	}
	return constants.IsAllowed(path, exts)
}

type signature struct {
	size    int64
	modTime time.Time
}

type tracked struct {
	sig        signature
	lastChange time.Time
}

// settler implements the quiescence wait and the promotion rename shared by
// every Source.
type settler struct {
	quiescence time.Duration
	exts       map[string]struct{}
	log        *slog.Logger
	metrics    *metrics.WatcherMetrics
	now        func() time.Time

	mu       sync.Mutex
	pending  map[string]tracked
	collided map[string]signature
}

func newSettler(opts Options) *settler {
	return &settler{
		quiescence: opts.Quiescence,
		exts:       ExtensionSet(opts.Extensions),
		log:        opts.Logger,
		metrics:    opts.Metrics,
		now:        time.Now,
		pending:    make(map[string]tracked),
		collided:   make(map[string]signature),
	}
}

// observe records the current size and mtime of path. Any change restarts
// its quiescence window. force restarts it even when the stat looks equal.
func (s *settler) observe(path string, force bool) {
	if !IsCandidate(path, s.exts) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		s.forget(path)
		return
	}
	sig := signature{size: info.Size(), modTime: info.ModTime()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.collided[path]; ok {
		if prev == sig && !force {
			return
		}
		delete(s.collided, path)
	}
	t, ok := s.pending[path]
	if !ok || force || t.sig != sig {
		s.pending[path] = tracked{sig: sig, lastChange: s.now()}
	}
}

func (s *settler) forget(path string) {
	s.mu.Lock()
	delete(s.pending, path)
	s.mu.Unlock()
}

// due returns paths whose last change is at least one quiescence interval old.
func (s *settler) due() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []string
	for p, t := range s.pending {
		if now.Sub(t.lastChange) >= s.quiescence {
			out = append(out, p)
		}
	}
	return out
}

// settle promotes every quiet file and reports it on out.
func (s *settler) settle(ctx context.Context, out chan<- ReadyEvent, errs chan<- error) {
	for _, path := range s.due() {
		ev, err := s.promote(path)
		if err != nil {
			if errors.Is(err, errStillChanging) {
				continue
			}
			select {
			case errs <- err:
			default:
			}
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

var errStillChanging = errors.New("file still changing")

// promote renames path to its ready_ name without replacing an existing
// file. A collision is reported and the original is left untouched.
func (s *settler) promote(path string) (ReadyEvent, error) {
	info, err := os.Stat(path)
	if err != nil {
		s.forget(path)
		return ReadyEvent{}, fmt.Errorf("stat %s: %w", path, err)
	}
	sig := signature{size: info.Size(), modTime: info.ModTime()}

	s.mu.Lock()
	t, ok := s.pending[path]
	if ok && t.sig != sig {
		s.pending[path] = tracked{sig: sig, lastChange: s.now()}
		s.mu.Unlock()
		return ReadyEvent{}, errStillChanging
	}
	delete(s.pending, path)
	s.mu.Unlock()

	ready := constants.ReadyPath(path)
	if err := renameNoReplace(path, ready); err != nil {
		if errors.Is(err, common.ErrRenameCollision) {
			s.mu.Lock()
			s.collided[path] = sig
			s.mu.Unlock()
			s.metrics.Rename("collision")
			s.log.Error("ready name collision, file left in place", "path", path, "ready_path", ready)
			return ReadyEvent{}, fmt.Errorf("promote %s: %w", path, err)
		}
		s.metrics.Rename("error")
		s.log.Error("rename to ready name failed", "path", path, "error", err)
		return ReadyEvent{}, fmt.Errorf("promote %s: %w", path, err)
	}

	s.metrics.Rename("ok")
	s.log.Info("file ready", "path", ready, "original", path)
	return ReadyEvent{Path: ready, Original: path, DetectedAt: s.now()}, nil
}

func tickInterval(q time.Duration) time.Duration {
	return max(q/4, 50*time.Millisecond)
}
