package catalog

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/usagekit/tollgate/pkg/observability"
)

// Watcher reloads a catalog Store when its backing file changes on disk.
// Editors and config pushers tend to emit bursts of write events, so reloads
// are debounced.
type Watcher struct {
	store    *Store
	logger   *observability.Logger
	metrics  *observability.Metrics
	otel     *observability.OTelMetrics
	debounce time.Duration
}

// NewWatcher creates a watcher over the given store.
func NewWatcher(store *Store, logger *observability.Logger, metrics *observability.Metrics) *Watcher {
	return &Watcher{
		store:    store,
		logger:   logger,
		metrics:  metrics,
		debounce: 250 * time.Millisecond,
	}
}

// WithOTel additionally records reload attempts on OpenTelemetry
// instruments.
func (w *Watcher) WithOTel(m *observability.OTelMetrics) *Watcher {
	w.otel = m
	return w
}

// Watch blocks until ctx is canceled, reloading the catalog on file change.
// A reload failure keeps the last good catalog and is reported, not fatal.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.store.path); err != nil {
		return err
	}

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Atomic-rename writers replace the file; re-add the path so
			// the watch follows the new inode.
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Create) {
				_ = fsw.Add(w.store.path)
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("catalog watcher error")
		}
	}
}

func (w *Watcher) reload() {
	if err := w.store.Reload(); err != nil {
		w.logger.WithError(err).WithField("path", w.store.path).
			Error("catalog reload failed, keeping previous catalog")
		if w.metrics != nil {
			w.metrics.CatalogReloadsTotal.WithLabelValues("error").Inc()
		}
		if w.otel != nil {
			w.otel.RecordCatalogReload(context.Background(), false)
		}
		return
	}
	w.logger.WithField("path", w.store.path).
		WithField("features", w.store.Len()).
		Info("catalog reloaded")
	if w.metrics != nil {
		w.metrics.CatalogReloadsTotal.WithLabelValues("success").Inc()
		w.metrics.CatalogFeatures.Set(float64(w.store.Len()))
	}
	if w.otel != nil {
		w.otel.RecordCatalogReload(context.Background(), true)
	}
}
