package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"semaphore/records/internal/metrics"
)

// Purger drops revocation entries whose tokens have expired.
type Purger interface {
	Purge(now time.Time) int
}

// StartRevocationSweep purges expired revocations every interval until ctx is done.
// The returned channel is closed once the sweeper goroutine exits.
func StartRevocationSweep(ctx context.Context, interval time.Duration, registry Purger, logger logrus.FieldLogger) <-chan struct{} {
	done := make(chan struct{})
	if registry == nil {
		close(done)
		return done
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := registry.Purge(time.Now().UTC())
				if removed > 0 {
					metrics.RevocationsPurged.Add(float64(removed))
					logger.WithField("removed", removed).Debug("revocation sweep purged expired entries")
				}
			}
		}
	}()
	return done
}
