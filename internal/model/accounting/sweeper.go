package accounting

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/logger"
)

// newYearSpec fires at local midnight on January 1.
const newYearSpec = "0 0 1 1 *"

// Sweeper resets stale records ahead of the lazy reset so that the first
// request of the year does not pay for it.
type Sweeper struct {
	engine *Engine
	cron   *cron.Cron
}

func NewSweeper(engine *Engine, loc *time.Location) *Sweeper {
	if loc == nil {
		loc = time.UTC
	}
	return &Sweeper{
		engine: engine,
		cron:   cron.New(cron.WithLocation(loc)),
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(newYearSpec, func() { s.sweep(ctx) }); err != nil {
		return errors.Wrap(err, "schedule yearly sweep")
	}
	s.sweep(ctx)
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep(ctx context.Context) {
	logger.Info("Sweep stale grants - start")
	defer logger.Info("Sweep stale grants - end")

	n, err := s.engine.ResetStale(ctx)
	if err != nil {
		logger.Error("failed to sweep stale grants", zap.Error(err))
		return
	}
	logger.Info("stale grants reset", zap.Int64("count", n))
}
