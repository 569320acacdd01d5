package bundles

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/Tiger66639/juju-gui-charm/internal/model"
)

// ErrUnknownWatcher is returned by Next for watcher ids that were never
// registered.
var ErrUnknownWatcher = errors.New("unknown watcher")

// Watcher is an append-only stream of deployment changes. Readers register
// for a watcher id and consume changes through Next, which blocks until
// changes newer than the reader's cursor exist.
type Watcher struct {
	mu      sync.Mutex
	changes []model.DeploymentChange
	cursors map[uuid.UUID]int
	signal  chan struct{}
	closed  bool
}

// NewWatcher returns an empty watcher.
func NewWatcher() *Watcher {
	return &Watcher{
		cursors: make(map[uuid.UUID]int),
		signal:  make(chan struct{}),
	}
}

// Register adds a reader starting at the beginning of the stream and
// returns its watcher id.
func (w *Watcher) Register() uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := uuid.New()
	w.cursors[id] = 0
	return id
}

// Put appends a change and wakes blocked readers.
func (w *Watcher) Put(change model.DeploymentChange) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.changes = append(w.changes, change)
	close(w.signal)
	w.signal = make(chan struct{})
}

// Close marks the stream complete. Readers drain the remaining changes and
// then receive nil.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.signal)
	w.signal = make(chan struct{})
}

// Closed reports whether the stream is complete.
func (w *Watcher) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Last returns the most recent change, or nil when none exists yet.
func (w *Watcher) Last() *model.DeploymentChange {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.changes) == 0 {
		return nil
	}
	change := w.changes[len(w.changes)-1]
	return &change
}

// Next blocks until changes newer than the reader's cursor are available
// and returns them, advancing the cursor. On a closed stream with no
// remaining changes it returns (nil, nil).
func (w *Watcher) Next(ctx context.Context, watcherID uuid.UUID) ([]model.DeploymentChange, error) {
	for {
		w.mu.Lock()
		cursor, ok := w.cursors[watcherID]
		if !ok {
			w.mu.Unlock()
			return nil, ErrUnknownWatcher
		}
		if cursor < len(w.changes) {
			pending := make([]model.DeploymentChange, len(w.changes)-cursor)
			copy(pending, w.changes[cursor:])
			w.cursors[watcherID] = len(w.changes)
			w.mu.Unlock()
			return pending, nil
		}
		if w.closed {
			w.mu.Unlock()
			return nil, nil
		}
		signal := w.signal
		w.mu.Unlock()

		select {
		case <-signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
