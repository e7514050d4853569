package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PanelState enumerates the coarse states of the notification panel.
type PanelState int

const (
	// PanelClosed is the resting state.
	PanelClosed PanelState = iota
	// PanelOpen means the panel is visible and owns keyboard focus.
	PanelOpen
)

// DefaultFocusRestoreDelay gives exit animations and unmounts time to settle
// before focus returns to the opener.
const DefaultFocusRestoreDelay = 150 * time.Millisecond

// FocusRestorer receives the focus origin recorded at open time once the
// panel has closed and the restore delay has elapsed.
type FocusRestorer func(origin string)

// ToastSink receives the transient toast for each pushed event.
type ToastSink func(Toast)

var errMissingRestorer = errors.New("focus restorer is required")

// PanelCoordinatorConfig describes one panel session.
type PanelCoordinatorConfig struct {
	Restorer     FocusRestorer
	RestoreDelay time.Duration
	Logger       *zap.Logger
}

// PanelCoordinator is the Closed/Open state machine behind the notification
// panel. It records the element that had focus when the panel opened and
// hands it back to the restorer after closing, with a short delay. A forced
// close (logout) skips restoration entirely: the origin may no longer exist.
//
// The coordinator never mutates the panel's item list from push events; the
// list is rebuilt by the pull query, and the two channels are only
// eventually consistent.
type PanelCoordinator struct {
	restorer FocusRestorer
	delay    time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	state       PanelState
	focusOrigin string
	restoreTmr  *time.Timer
	unreadHint  int
}

// NewPanelCoordinator constructs a coordinator in the Closed state.
func NewPanelCoordinator(cfg PanelCoordinatorConfig) (*PanelCoordinator, error) {
	if cfg.Restorer == nil {
		return nil, errMissingRestorer
	}
	delay := cfg.RestoreDelay
	if delay <= 0 {
		delay = DefaultFocusRestoreDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &PanelCoordinator{restorer: cfg.Restorer, delay: delay, logger: logger}, nil
}

// Open transitions to Open, recording the focus origin for later
// restoration. Opening an already open panel only updates the origin.
func (c *PanelCoordinator) Open(focusOrigin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelRestoreLocked()
	c.state = PanelOpen
	c.focusOrigin = focusOrigin
}

// Close transitions to Closed and schedules focus restoration after the
// configured delay. Closing an already closed panel is a no-op.
func (c *PanelCoordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != PanelOpen {
		return
	}
	c.state = PanelClosed
	origin := c.focusOrigin
	c.focusOrigin = ""
	c.restoreTmr = time.AfterFunc(c.delay, func() {
		c.restorer(origin)
	})
}

// Toggle dispatches to Open or Close based on the current state.
func (c *PanelCoordinator) Toggle(focusOrigin string) {
	if c.State() == PanelOpen {
		c.Close()
	} else {
		c.Open(focusOrigin)
	}
}

// HandleEscape closes the panel when open and does nothing otherwise.
func (c *PanelCoordinator) HandleEscape() {
	if c.State() == PanelOpen {
		c.Close()
	}
}

// ForceClose transitions to Closed regardless of state, used on logout. No
// focus restoration happens and any pending restoration is cancelled.
func (c *PanelCoordinator) ForceClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelRestoreLocked()
	c.state = PanelClosed
	c.focusOrigin = ""
	c.unreadHint = 0
}

// State reports the current panel state.
func (c *PanelCoordinator) State() PanelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UnreadHint reports how many push events arrived since the last pull
// refresh. It is a badge hint, not an authoritative count.
func (c *PanelCoordinator) UnreadHint() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadHint
}

// RefreshedFromPull resets the badge hint after the pull query rebuilt the
// panel list.
func (c *PanelCoordinator) RefreshedFromPull() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unreadHint = 0
}

// Consume drains the push stream until ctx is cancelled or the stream
// closes, emitting a toast per event and bumping the badge hint. Stream
// teardown is owned by whoever created the subscription.
func (c *PanelCoordinator) Consume(ctx context.Context, stream <-chan Event, toasts ToastSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			c.mu.Lock()
			c.unreadHint++
			c.mu.Unlock()
			if toasts != nil {
				toasts(ToastFor(event))
			}
		}
	}
}

// cancelRestoreLocked stops a pending focus restoration. Callers must hold
// mu.
func (c *PanelCoordinator) cancelRestoreLocked() {
	if c.restoreTmr != nil {
		c.restoreTmr.Stop()
		c.restoreTmr = nil
	}
}
