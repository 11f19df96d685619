package console

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// HeadlessPage stands in for a browser page when the client runs in a
// terminal. It records what a page would have done.
type HeadlessPage struct {
	rejectHot bool
	logger    *slog.Logger

	mu       sync.Mutex
	reloads  int
	applied  []string
	rejected []string
}

// NewHeadlessPage creates a page. With rejectHot every hot update fails the
// way an update the module graph cannot accept does.
func NewHeadlessPage(rejectHot bool, logger *slog.Logger) *HeadlessPage {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeadlessPage{
		rejectHot: rejectHot,
		logger:    logger.With("component", "page"),
	}
}

// HotUpdate applies the modules of hash
func (p *HeadlessPage) HotUpdate(ctx context.Context, hash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rejectHot {
		p.rejected = append(p.rejected, hash)
		return entities.ErrHotUpdateRejected
	}
	p.applied = append(p.applied, hash)
	p.logger.Info("Hot update applied", slog.String("hash", hash))
	return nil
}

// Reload reloads the page
func (p *HeadlessPage) Reload() {
	p.mu.Lock()
	p.reloads++
	n := p.reloads
	p.mu.Unlock()

	p.logger.Info("Page reloaded", slog.Int("reloads", n))
}

// Reloads returns how many times the page was reloaded
func (p *HeadlessPage) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// Applied returns the hashes of hot updates that were applied
func (p *HeadlessPage) Applied() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applied...)
}

var _ ports.Page = (*HeadlessPage)(nil)
