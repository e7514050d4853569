package drafts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/klaseapp/klase/backend/internal/kvstore"
	"go.uber.org/zap"
)

// WriterState enumerates the debounce states of a Writer.
type WriterState int

const (
	// WriterIdle means no edit is waiting to be flushed.
	WriterIdle WriterState = iota
	// WriterPending means an edit is queued behind the quiet-interval timer.
	WriterPending
	// WriterClosed means the writer has been shut down and ignores edits.
	WriterClosed
)

// DefaultQuietInterval is how long the writer waits after the last edit
// before persisting.
const DefaultQuietInterval = time.Second

var errMissingStore = errors.New("draft store is required")

// WriterConfig describes one debounced autosave session.
type WriterConfig struct {
	Store         *Store
	Scope         kvstore.Scope
	SessionID     string
	QuietInterval time.Duration
	Logger        *zap.Logger
}

// Writer coalesces keystroke-level edits into at most one storage write per
// quiet interval. It owns a single timer: every Queue resets it, and only the
// last queued payload is ever flushed. Content-free payloads and payloads
// identical to the last persisted record are skipped entirely.
//
// Close flushes any pending edit and cancels the timer, so an abandoned
// writer can never fire a write after its owner is gone.
type Writer struct {
	store     *Store
	scope     kvstore.Scope
	sessionID string
	interval  time.Duration
	logger    *zap.Logger

	mu            sync.Mutex
	state         WriterState
	timer         *time.Timer
	pending       ComposerFields
	lastPersisted string
}

// NewWriter constructs a writer for one composer session, seeding the
// duplicate-write guard from whatever record is already persisted.
func NewWriter(ctx context.Context, cfg WriterConfig) (*Writer, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	interval := cfg.QuietInterval
	if interval <= 0 {
		interval = DefaultQuietInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	writer := &Writer{
		store:     cfg.Store,
		scope:     cfg.Scope,
		sessionID: cfg.SessionID,
		interval:  interval,
		logger:    logger,
		state:     WriterIdle,
	}
	if record := cfg.Store.Load(ctx, cfg.Scope, cfg.SessionID); record != nil {
		writer.lastPersisted = string(record.Fields.canonical())
	}
	return writer, nil
}

// Queue replaces the pending payload and restarts the quiet-interval timer.
// Edits queued after Close are dropped.
func (w *Writer) Queue(fields ComposerFields) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case WriterClosed:
		return
	case WriterPending:
		w.pending = fields
		w.timer.Reset(w.interval)
	default:
		w.pending = fields
		w.state = WriterPending
		w.timer = time.AfterFunc(w.interval, w.flushFromTimer)
	}
}

// Flush persists the pending payload immediately, without waiting for the
// quiet interval.
func (w *Writer) Flush(ctx context.Context) {
	w.mu.Lock()
	w.stopTimerLocked()
	fields, dirty := w.takePendingLocked()
	w.mu.Unlock()
	if dirty {
		w.persist(ctx, fields)
	}
}

// Close flushes any pending edit and shuts the writer down. Further calls to
// Queue, Flush, and Close are no-ops.
func (w *Writer) Close(ctx context.Context) {
	w.mu.Lock()
	if w.state == WriterClosed {
		w.mu.Unlock()
		return
	}
	w.stopTimerLocked()
	fields, dirty := w.takePendingLocked()
	w.state = WriterClosed
	w.mu.Unlock()
	if dirty {
		w.persist(ctx, fields)
	}
}

// State reports the current debounce state.
func (w *Writer) State() WriterState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Writer) flushFromTimer() {
	w.mu.Lock()
	fields, dirty := w.takePendingLocked()
	w.mu.Unlock()
	if dirty {
		w.persist(context.Background(), fields)
	}
}

// takePendingLocked hands out the coalesced payload and returns the writer to
// idle. Callers must hold mu.
func (w *Writer) takePendingLocked() (ComposerFields, bool) {
	if w.state != WriterPending {
		return ComposerFields{}, false
	}
	w.state = WriterIdle
	return w.pending, true
}

func (w *Writer) stopTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Writer) persist(ctx context.Context, fields ComposerFields) {
	if !fields.HasContent() {
		return
	}
	canonical := string(fields.canonical())
	w.mu.Lock()
	identical := canonical == w.lastPersisted
	w.mu.Unlock()
	if identical {
		return
	}
	if w.store.Save(ctx, w.scope, w.sessionID, fields) {
		w.mu.Lock()
		w.lastPersisted = canonical
		w.mu.Unlock()
		w.logger.Debug("draft autosaved",
			zap.String("tenant", w.scope.Tenant),
			zap.String("session", w.sessionID))
	}
}
