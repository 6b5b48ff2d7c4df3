package core

// scheduler.go re-runs ConvertDir over the input folder on an interval, so
// files dropped into the folder while the server runs get converted. Files
// the ledger already holds are skipped on each pass.

import (
	"context"
	"log/slog"
	"time"
)

// StartScheduler converts dir immediately, then every interval, until ctx is
// cancelled. A failing run is logged and the next tick tries again.
func (s *Service) StartScheduler(ctx context.Context, dir string, interval time.Duration) {
	slog.Info("conversion scheduler started", "dir", dir, "interval", interval)

	s.runScheduled(ctx, dir)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("conversion scheduler stopped")
			return
		case <-ticker.C:
			s.runScheduled(ctx, dir)
		}
	}
}

func (s *Service) runScheduled(ctx context.Context, dir string) {
	start := time.Now()
	sum, err := s.ConvertDir(ctx, dir)
	if err != nil {
		slog.Error("scheduled conversion failed", "dir", dir, "error", err)
		return
	}
	slog.Debug("scheduled conversion completed",
		"run_id", sum.RunID,
		"files_converted", sum.FilesConverted,
		"files_skipped", sum.FilesSkipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
