package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/verr"
)

// ChangeEvent names the tenant whose active/ file changed and how.
type ChangeEvent struct {
	TenantID string
	Removed  bool
}

// Watcher notifies on changes to active/. It emits one ChangeEvent per
// fsnotify event on a tenant's .yaml file and does not merge events, so
// one commit can produce more than one event for the same tenant; the
// commit's own .tmp- files are skipped. When the buffered channel is
// full, the oldest pending event is dropped so the newest one is kept.
type Watcher struct {
	fsw *fsnotify.Watcher
	log *logging.Logger
	ch  chan ChangeEvent
}

// NewWatcher starts watching the store's active directory. Callers
// drain Events() and call Close when done.
func NewWatcher(s *Store, log *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, verr.Wrap(err, verr.KindInternal, "create fsnotify watcher")
	}
	if err := fsw.Add(s.activeDir); err != nil {
		fsw.Close()
		return nil, verr.Wrapf(err, verr.KindInternal, "watch %s", s.activeDir)
	}

	w := &Watcher{fsw: fsw, log: log, ch: make(chan ChangeEvent, 16)}
	go w.run()
	return w, nil
}

// Events returns the channel of tenant change notifications.
func (w *Watcher) Events() <-chan ChangeEvent { return w.ch }

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				close(w.ch)
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("config watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".yaml") {
		return
	}
	base := event.Name[strings.LastIndex(event.Name, "/")+1:]
	if strings.HasPrefix(base, ".tmp-") {
		return
	}
	id := strings.TrimSuffix(base, ".yaml")

	switch {
	case event.Op.Has(fsnotify.Remove):
		w.emit(ChangeEvent{TenantID: id, Removed: true})
	case event.Op.Has(fsnotify.Write), event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Rename):
		w.emit(ChangeEvent{TenantID: id})
	}
}

func (w *Watcher) emit(ev ChangeEvent) {
	for {
		select {
		case w.ch <- ev:
			return
		default:
		}
		select {
		case old := <-w.ch:
			if w.log != nil {
				w.log.Warn("config watcher channel full, dropping oldest event", "tenant_id", old.TenantID)
			}
		default:
		}
	}
}

// WatchContext runs until ctx is canceled, invoking onChange for each
// event. Intended for the daemon's main loop goroutine.
func WatchContext(ctx context.Context, w *Watcher, onChange func(ChangeEvent)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			onChange(ev)
		}
	}
}
