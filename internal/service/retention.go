package service

import (
	"context"
	"log/slog"
	"time"
)

// StartRetention removes terminal tasks older than the retention window
// every sweep interval until ctx is done. It is a no-op when retention
// is disabled.
func (m *LifecycleManager) StartRetention(ctx context.Context) {
	if m.cfg.Retention <= 0 || m.cfg.SweepInterval <= 0 {
		return
	}
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.baseCtx.Done():
				return
			case now := <-ticker.C:
				m.Sweep(ctx, now)
			}
		}
	}()
}

// Sweep deletes terminal tasks last updated before now minus the
// retention window and returns how many were removed.
func (m *LifecycleManager) Sweep(ctx context.Context, now time.Time) int {
	removed := 0
	for _, id := range m.store.Expired(now.Add(-m.cfg.Retention)) {
		if m.hub.Count(id) > 0 {
			continue
		}
		if err := m.store.Delete(id); err != nil {
			slog.WarnContext(ctx, "retention delete failed", "task_id", id, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.InfoContext(ctx, "retention sweep", "removed", removed)
	}
	return removed
}
