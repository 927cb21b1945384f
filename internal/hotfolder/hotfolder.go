package hotfolder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"ffarm/internal/config"
	"ffarm/internal/logging"
	"ffarm/internal/queue"
)

const minTick = 100 * time.Millisecond

// Submitter accepts jobs discovered in the watched directory.
type Submitter interface {
	Submit(ctx context.Context, spec queue.Spec) (*queue.Job, error)
	// Sources lists inputs that already have a live or finished job.
	Sources() []string
}

type candidate struct {
	size    int64
	changed time.Time
}

// Watcher submits media files that appear in a directory once they stop
// growing.
type Watcher struct {
	dir        string
	outputDir  string
	container  string
	extensions []string
	parameters map[string]string
	settle     time.Duration

	submit Submitter
	logger *slog.Logger
	now    func() time.Time

	pending map[string]candidate
	seen    map[string]struct{}
}

// New validates the watch settings and returns an idle watcher.
func New(cfg *config.Config, submit Submitter, logger *slog.Logger) (*Watcher, error) {
	if cfg == nil || submit == nil {
		return nil, errors.New("hot folder requires config and submitter")
	}
	info, err := os.Stat(cfg.Watch.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch dir %q is not a directory", cfg.Watch.Dir)
	}
	return &Watcher{
		dir:        cfg.Watch.Dir,
		outputDir:  cfg.Watch.OutputDir,
		container:  cfg.Watch.Container,
		extensions: slices.Clone(cfg.Watch.Extensions),
		parameters: maps.Clone(cfg.Watch.Parameters),
		settle:     cfg.SettleTime(),
		submit:     submit,
		logger:     logging.NewComponentLogger(logger, "hotfolder"),
		now:        time.Now,
		pending:    make(map[string]candidate),
		seen:       make(map[string]struct{}),
	}, nil
}

// Run watches until ctx is cancelled. Files already present at startup are
// considered too.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	for _, source := range w.submit.Sources() {
		w.seen[source] = struct{}{}
	}
	w.scan()
	w.logger.Info("watching hot folder",
		logging.String("dir", w.dir),
		logging.String("output_dir", w.outputDir),
		logging.Duration("settle_time", w.settle),
	)

	ticker := time.NewTicker(max(w.settle/2, minTick))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "hot folder watch error", "hotfolder_watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some new files may be missed until the next restart"),
			)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// Destination maps a watched source file to its output path.
func (w *Watcher) Destination(source string) string {
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return filepath.Join(w.outputDir, stem+"."+w.container)
}

func (w *Watcher) handle(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		delete(w.pending, event.Name)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.observe(event.Name)
	}
}

func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("hot folder scan failed", logging.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.observe(filepath.Join(w.dir, entry.Name()))
	}
}

func (w *Watcher) observe(path string) {
	if _, done := w.seen[path]; done || !w.accepts(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	prev, tracked := w.pending[path]
	if tracked && prev.size == info.Size() {
		return
	}
	w.pending[path] = candidate{size: info.Size(), changed: w.now()}
}

func (w *Watcher) flush(ctx context.Context) {
	now := w.now()
	retry := make(map[string]candidate)
	defer maps.Copy(w.pending, retry)
	for path, c := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != c.size {
			w.pending[path] = candidate{size: info.Size(), changed: now}
			continue
		}
		if now.Sub(c.changed) < w.settle {
			continue
		}
		delete(w.pending, path)

		job, err := w.submit.Submit(ctx, queue.Spec{
			Source:      path,
			Destination: w.Destination(path),
			Parameters:  maps.Clone(w.parameters),
		})
		if err != nil {
			// Rejected specs never become valid; anything else is retried
			// after another settle period.
			transient := !errors.Is(err, queue.ErrInvalidSpec)
			if transient {
				retry[path] = candidate{size: c.size, changed: now}
			} else {
				w.seen[path] = struct{}{}
			}
			logging.WarnWithContext(w.logger, "hot folder submission failed", "hotfolder_submit_failed",
				logging.String("source", path),
				logging.Bool("will_retry", transient),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "submit the file manually with 'ffarm jobs submit'"),
			)
			continue
		}
		w.seen[path] = struct{}{}
		w.logger.Info("hot folder submitted job",
			logging.Args(logging.JobID(job.ID), logging.String("source", path), logging.String("destination", job.Destination))...)
	}
}

func (w *Watcher) accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return slices.Contains(w.extensions, strings.ToLower(filepath.Ext(base)))
}
