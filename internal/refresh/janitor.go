package refresh

import (
	"context"
	"log/slog"
	"time"
)

// RunPurger deletes long-expired tokens every interval until ctx is done.
// onPurge, when set, receives the number of rows removed by each pass.
func (s *Store) RunPurger(ctx context.Context, interval, retention time.Duration, log *slog.Logger, onPurge func(int64)) {
	if interval <= 0 {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Purge(ctx, retention)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.WarnContext(ctx, "refresh token purge failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				log.InfoContext(ctx, "purged expired refresh tokens", slog.Int64("count", n))
			}
			if onPurge != nil {
				onPurge(n)
			}
		}
	}
}
