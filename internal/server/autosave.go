package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/klaseapp/klase/backend/internal/drafts"
	"github.com/klaseapp/klase/backend/internal/kvstore"
	"go.uber.org/zap"
)

var errMissingAutosaveStore = errors.New("draft store dependency required for autosave")

// AutosavePool owns one debounced draft writer per live composer session, so
// rapid autosave requests coalesce into a single storage write per quiet
// interval. Writers are created on first use and all flushed on Close.
type AutosavePool struct {
	store    *drafts.Store
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	writers map[string]*drafts.Writer
	closed  bool
}

// AutosavePoolConfig describes the dependencies of the pool.
type AutosavePoolConfig struct {
	Store         *drafts.Store
	QuietInterval time.Duration
	Logger        *zap.Logger
}

// NewAutosavePool constructs the pool.
func NewAutosavePool(cfg AutosavePoolConfig) (*AutosavePool, error) {
	if cfg.Store == nil {
		return nil, errMissingAutosaveStore
	}
	interval := cfg.QuietInterval
	if interval <= 0 {
		interval = drafts.DefaultQuietInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutosavePool{
		store:    cfg.Store,
		interval: interval,
		logger:   logger,
		writers:  make(map[string]*drafts.Writer),
	}, nil
}

// Queue hands the edit to the session's writer, creating it on first touch.
// Edits queued after Close are dropped.
func (p *AutosavePool) Queue(ctx context.Context, scope kvstore.Scope, sessionID string, fields drafts.ComposerFields) {
	writer := p.writerFor(ctx, scope, sessionID)
	if writer == nil {
		return
	}
	writer.Queue(fields)
}

// Flush forces the session's pending edit to storage, if any.
func (p *AutosavePool) Flush(ctx context.Context, scope kvstore.Scope, sessionID string) {
	p.mu.Lock()
	writer := p.writers[scope.Key("autosave", sessionID)]
	p.mu.Unlock()
	if writer != nil {
		writer.Flush(ctx)
	}
}

// Close flushes and shuts down every writer. Used at server shutdown so no
// queued edit is lost.
func (p *AutosavePool) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	writers := make([]*drafts.Writer, 0, len(p.writers))
	for _, writer := range p.writers {
		writers = append(writers, writer)
	}
	p.writers = nil
	p.mu.Unlock()

	for _, writer := range writers {
		writer.Close(ctx)
	}
}

func (p *AutosavePool) writerFor(ctx context.Context, scope kvstore.Scope, sessionID string) *drafts.Writer {
	key := scope.Key("autosave", sessionID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	if writer, ok := p.writers[key]; ok {
		return writer
	}
	writer, err := drafts.NewWriter(ctx, drafts.WriterConfig{
		Store:         p.store,
		Scope:         scope,
		SessionID:     sessionID,
		QuietInterval: p.interval,
		Logger:        p.logger,
	})
	if err != nil {
		p.logger.Error("failed to create autosave writer", zap.Error(err))
		return nil
	}
	p.writers[key] = writer
	return writer
}
