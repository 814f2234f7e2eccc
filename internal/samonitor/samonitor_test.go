package samonitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
)

type fakeStream struct {
	ch chan Event
}

func newFakeStream() *fakeStream { return &fakeStream{ch: make(chan Event, 16)} }

func (f *fakeStream) Events() <-chan Event { return f.ch }

func (f *fakeStream) push(ev Event) { f.ch <- ev }

type fakeDeleter struct {
	mu      sync.Mutex
	deleted []string
	fail    map[string]int // said -> remaining failures before success
}

func (f *fakeDeleter) DeleteSA(ctx context.Context, said string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[said] > 0 {
		f.fail[said]--
		return errTransient
	}
	f.deleted = append(f.deleted, said)
	return nil
}

var errTransient = &stubErr{"transient delete failure"}

type stubErr struct{ msg string }

func (e *stubErr) Error() string { return e.msg }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestMonitor_ReapsOlderDuplicateKeepsYoungest(t *testing.T) {
	stream := newFakeStream()
	deleter := &fakeDeleter{fail: map[string]int{}}
	m := New(stream, deleter, logging.New(logging.DefaultConfig()))
	m.rekeyWindow = 0 // disable rekey correlation for this test

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	key := Key{LocalID: "c0001-local", RemoteID: "c0001-remote", IfID: 42}
	older := SA{LocalID: key.LocalID, RemoteID: key.RemoteID, IfID: key.IfID, SAID: "sa-1", InstalledAt: time.Now()}
	time.Sleep(5 * time.Millisecond)
	younger := SA{LocalID: key.LocalID, RemoteID: key.RemoteID, IfID: key.IfID, SAID: "sa-2", InstalledAt: time.Now()}

	stream.push(Event{Kind: SAEstablished, SA: older})
	time.Sleep(5 * time.Millisecond)
	stream.push(Event{Kind: SAEstablished, SA: younger})

	waitFor(t, func() bool {
		deleter.mu.Lock()
		defer deleter.mu.Unlock()
		return len(deleter.deleted) == 1
	})

	require.Equal(t, []string{"sa-1"}, deleter.deleted)
	remaining := m.Installed(key)
	require.Len(t, remaining, 1)
	require.Equal(t, "sa-2", remaining[0].SAID)
}

func TestMonitor_DuplicateWithinRekeyWindowIsNotReaped(t *testing.T) {
	stream := newFakeStream()
	deleter := &fakeDeleter{fail: map[string]int{}}
	m := New(stream, deleter, logging.New(logging.DefaultConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	key := Key{LocalID: "c0002-local", RemoteID: "c0002-remote", IfID: 7}
	stream.push(Event{Kind: ChildRekey, SA: SA{LocalID: key.LocalID, RemoteID: key.RemoteID, IfID: key.IfID}})
	stream.push(Event{Kind: SAEstablished, SA: SA{LocalID: key.LocalID, RemoteID: key.RemoteID, IfID: key.IfID, SAID: "sa-a", InstalledAt: time.Now()}})
	stream.push(Event{Kind: SAEstablished, SA: SA{LocalID: key.LocalID, RemoteID: key.RemoteID, IfID: key.IfID, SAID: "sa-b", InstalledAt: time.Now()}})

	time.Sleep(50 * time.Millisecond)

	deleter.mu.Lock()
	defer deleter.mu.Unlock()
	require.Empty(t, deleter.deleted, "duplicates inside the rekey window must not be reaped")
}

func TestMonitor_ReapRetriesThenGivesUp(t *testing.T) {
	stream := newFakeStream()
	deleter := &fakeDeleter{fail: map[string]int{"sa-old": DefaultMaxReapAttempts}}
	m := New(stream, deleter, logging.New(logging.DefaultConfig()))
	m.rekeyWindow = 0
	m.reapBackoffInitial = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	key := Key{LocalID: "c0003-local", RemoteID: "c0003-remote", IfID: 3}
	stream.push(Event{Kind: SAEstablished, SA: SA{LocalID: key.LocalID, RemoteID: key.RemoteID, IfID: key.IfID, SAID: "sa-old", InstalledAt: time.Now()}})
	time.Sleep(5 * time.Millisecond)
	stream.push(Event{Kind: SAEstablished, SA: SA{LocalID: key.LocalID, RemoteID: key.RemoteID, IfID: key.IfID, SAID: "sa-new", InstalledAt: time.Now()}})

	// Every retry fails, so the duplicate is never removed from the
	// tracked set; it should still be present after attempts exhaust.
	time.Sleep(200 * time.Millisecond)
	remaining := m.Installed(key)
	require.Len(t, remaining, 2)
}
