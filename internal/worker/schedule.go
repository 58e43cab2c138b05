package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron"
)

// Schedule registers the payout run on c every interval. Each run gets its
// own deadline derived from ctx.
func (d *Dispatcher) Schedule(ctx context.Context, c *cron.Cron, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid payout interval %s", interval)
	}
	return c.AddFunc("@every "+interval.String(), func() {
		if ctx.Err() != nil {
			return
		}
		runCtx, cancel := context.WithTimeout(ctx, interval+paymentBudget)
		defer cancel()
		if _, err := d.ProcessPending(runCtx); err != nil {
			d.log.Error("payout run failed", slog.String("error", err.Error()))
		}
	})
}
