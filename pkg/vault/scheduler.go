package vault

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StartPurge runs PurgeExpired once and then on the given cron schedule
// until the returned stop function is called.
func StartPurge(ctx context.Context, v *Vault, schedule string, logger *zap.Logger) (func(), error) {
	if _, err := v.PurgeExpired(ctx); err != nil {
		return nil, err
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := v.PurgeExpired(ctx); err != nil {
			logger.Error("Scheduled vault purge failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	c.Start()

	logger.Info("Vault purge scheduled", zap.String("schedule", schedule))
	return func() { <-c.Stop().Done() }, nil
}
