package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	JobClearResetTokens = "clear-expired-reset-tokens"
	JobPruneRateLimiter = "prune-rate-limiter"
)

type ResetTokenCleaner interface {
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

type VisitorPruner interface {
	Prune() int
}

// ClearResetTokensJob drops password reset tokens whose window has closed.
func ClearResetTokensJob(users ResetTokenCleaner, log *zap.Logger) Job {
	return Job{
		Name:     JobClearResetTokens,
		Schedule: "*/10 * * * *",
		Timeout:  30 * time.Second,
		Run: func(ctx context.Context) error {
			n, err := users.ClearExpiredResetTokens(ctx, time.Now())
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info("cleared expired reset tokens", zap.Int64("count", n))
			}
			return nil
		},
	}
}

// PruneRateLimiterJob forgets idle rate-limit clients.
func PruneRateLimiterJob(rl VisitorPruner, log *zap.Logger) Job {
	return Job{
		Name:     JobPruneRateLimiter,
		Schedule: "@hourly",
		Run: func(context.Context) error {
			if n := rl.Prune(); n > 0 {
				log.Debug("pruned rate limiter visitors", zap.Int("count", n))
			}
			return nil
		},
	}
}
