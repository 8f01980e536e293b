package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// StartAutoRefresh schedules silent refreshes on a cron spec such as
// "@every 10m". An empty spec returns a nil scheduler. The caller stops it.
func (o *Orchestrator) StartAutoRefresh(spec string, timeout time.Duration) (*cron.Cron, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := o.Refresh(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotReady), errors.Is(err, ErrStaleLoad):
			o.log.Debug().Err(err).Msg("scheduled refresh skipped")
		default:
			o.log.Warn().Err(err).Msg("scheduled refresh failed")
		}
	}); err != nil {
		return nil, err
	}
	c.Start()
	o.log.Info().Str("schedule", spec).Msg("auto refresh scheduled")
	return c, nil
}
