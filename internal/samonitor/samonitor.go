// Package samonitor implements the IKE/CHILD SA deduplication monitor
// (§4.6): it consumes the IKE daemon's event stream, tracks the set of
// installed SAs per (local_id, remote_id, if_id), and reaps duplicates
// that are not part of a legitimate make-before-break rekey.
package samonitor

import (
	"context"
	"sync"
	"time"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/verr"
)

// DefaultRekeyWindow is how long after a CHILD_REKEY event a duplicate
// SA pair for the same key is treated as an in-progress rekey rather
// than a leak.
const DefaultRekeyWindow = 30 * time.Second

// DefaultMaxReapAttempts bounds the retries before an SA is reported
// SAReapFailed instead of deleted.
const DefaultMaxReapAttempts = 5

// EventKind is the type of IKE daemon event.
type EventKind int

const (
	SAEstablished EventKind = iota
	SADeleted
	ChildRekey
)

// SA identifies one installed IKE or CHILD SA.
type SA struct {
	LocalID     string
	RemoteID    string
	IfID        uint32
	SAID        string
	InstalledAt time.Time
}

// Key groups SAs that are duplicates of each other if more than one is
// installed at once.
type Key struct {
	LocalID  string
	RemoteID string
	IfID     uint32
}

func keyOf(sa SA) Key { return Key{LocalID: sa.LocalID, RemoteID: sa.RemoteID, IfID: sa.IfID} }

// Event is one notification from the IKE daemon's event stream.
type Event struct {
	Kind EventKind
	SA   SA
}

// EventStream is the seam to the IKE daemon's event feed. A real
// implementation reads from the daemon's control socket; tests push
// events directly through a channel.
type EventStream interface {
	Events() <-chan Event
}

// Deleter removes one SA from the IKE daemon by id. Implemented by the
// same control channel connection drivers use to load connections.
type Deleter interface {
	DeleteSA(ctx context.Context, said string) error
}

// Monitor consumes an EventStream and reaps duplicate SAs.
type Monitor struct {
	stream  EventStream
	deleter Deleter
	logger  *logging.Logger

	rekeyWindow        time.Duration
	maxReapAttempts    int
	reapBackoffInitial time.Duration

	mu           sync.Mutex
	installed    map[Key][]SA
	lastRekeyAt  map[Key]time.Time
}

// New builds a Monitor with the default rekey window and reap attempt
// budget.
func New(stream EventStream, deleter Deleter, logger *logging.Logger) *Monitor {
	return &Monitor{
		stream:             stream,
		deleter:            deleter,
		logger:             logger,
		rekeyWindow:        DefaultRekeyWindow,
		maxReapAttempts:    DefaultMaxReapAttempts,
		reapBackoffInitial: 1 * time.Second,
		installed:          map[Key][]SA{},
		lastRekeyAt:        map[Key]time.Time{},
	}
}

// Run consumes events from the stream until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.stream.Events():
			if !ok {
				return
			}
			m.handle(ctx, ev)
		}
	}
}

func (m *Monitor) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case SAEstablished:
		m.onEstablished(ctx, ev.SA)
	case SADeleted:
		m.onDeleted(ev.SA)
	case ChildRekey:
		m.mu.Lock()
		m.lastRekeyAt[keyOf(ev.SA)] = time.Now()
		m.mu.Unlock()
	}
}

func (m *Monitor) onEstablished(ctx context.Context, sa SA) {
	key := keyOf(sa)

	m.mu.Lock()
	m.installed[key] = append(m.installed[key], sa)
	dupes := len(m.installed[key]) > 1
	withinRekeyWindow := time.Since(m.lastRekeyAt[key]) < m.rekeyWindow
	m.mu.Unlock()

	if !dupes || withinRekeyWindow {
		return
	}

	m.reapOlder(ctx, key)
}

func (m *Monitor) onDeleted(sa SA) {
	key := keyOf(sa)
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := m.installed[key][:0]
	for _, existing := range m.installed[key] {
		if existing.SAID != sa.SAID {
			remaining = append(remaining, existing)
		}
	}
	m.installed[key] = remaining
}

// reapOlder keeps the youngest SA for key and deletes every other one,
// retrying each deletion with backoff up to maxReapAttempts times
// before giving up and reporting SAReapFailed.
func (m *Monitor) reapOlder(ctx context.Context, key Key) {
	m.mu.Lock()
	sas := append([]SA(nil), m.installed[key]...)
	m.mu.Unlock()
	if len(sas) < 2 {
		return
	}

	youngest := sas[0]
	for _, sa := range sas[1:] {
		if sa.InstalledAt.After(youngest.InstalledAt) {
			youngest = sa
		}
	}

	for _, sa := range sas {
		if sa.SAID == youngest.SAID {
			continue
		}
		m.reapOne(ctx, key, sa)
	}
}

func (m *Monitor) reapOne(ctx context.Context, key Key, sa SA) {
	backoff := m.reapBackoffInitial
	var lastErr error
	for attempt := 1; attempt <= m.maxReapAttempts; attempt++ {
		err := m.deleter.DeleteSA(ctx, sa.SAID)
		if err == nil {
			m.onDeleted(sa)
			return
		}
		lastErr = err

		if attempt == m.maxReapAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	m.logger.Error("failed to reap duplicate SA",
		"event", "SAReapFailed", "sa_id", sa.SAID, "local_id", key.LocalID,
		"remote_id", key.RemoteID, "if_id", key.IfID, "attempts", m.maxReapAttempts, "error", lastErr)
	_ = verr.Wrapf(lastErr, verr.SAReapFailed, "reap duplicate sa %s after %d attempts", sa.SAID, m.maxReapAttempts)
}

// Installed returns a snapshot of the SAs currently tracked for key,
// for tests and status reporting.
func (m *Monitor) Installed(key Key) []SA {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SA(nil), m.installed[key]...)
}
