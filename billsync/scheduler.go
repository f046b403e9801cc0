package billsync

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"

	"bitbucket.org/mmdatafocus/billsync_backend/config"
	"bitbucket.org/mmdatafocus/billsync_backend/utils"
)

const (
	schedulerLockKey = "billsync:hourly_sync"
	schedulerLockTTL = 5 * time.Minute
)

// StartScheduler fires an automatic sync at the top of every hour until ctx
// is cancelled. Deployments driven by Cloud Scheduler via pub/sub leave this
// disabled and use the push endpoint instead.
func StartScheduler(ctx context.Context) {
	logger := config.GetLogger()
	logger.Info("internal hourly sync scheduler started")

	go func() {
		for {
			next := nextTopOfHour(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.Info("internal scheduler stopped")
				return
			case <-timer.C:
				runScheduledSync(ctx)
			}
		}
	}()
}

func nextTopOfHour(now time.Time) time.Time {
	return now.Truncate(time.Hour).Add(time.Hour)
}

// runScheduledSync takes a best-effort distributed lock so only one instance
// runs the hourly sync. Lock infrastructure failure does not block the sync.
func runScheduledSync(ctx context.Context) {
	logger := config.GetLogger()
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	ctx = utils.SetTriggeredByInContext(ctx, "scheduler")

	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, schedulerLockKey, schedulerLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.WithContext(ctx).Info("hourly sync already running on another instance")
			return
		}
		if err != nil {
			logger.WithContext(ctx).Warnf("could not obtain scheduler lock, proceeding: %v", err)
		} else {
			defer lock.Release(ctx)
		}
	}

	PerformAutomaticSync(ctx)
}
