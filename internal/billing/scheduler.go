package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler triggers the billing sweep on a fixed interval. One sweep runs
// immediately at start so a restart never delays due charges by a full
// interval.
type Scheduler struct {
	cron     *cron.Cron
	service  *Service
	interval time.Duration
	log      *zap.Logger
}

// NewScheduler constructs the scheduler.
func NewScheduler(service *Service, interval time.Duration, log *zap.Logger) *Scheduler {
	cronLog := cron.PrintfLogger(zap.NewStdLog(log))
	c := cron.New(cron.WithChain(cron.Recover(cronLog)))

	return &Scheduler{
		cron:     c,
		service:  service,
		interval: interval,
		log:      log,
	}
}

// Start runs the initial sweep and schedules the recurring ones.
func (s *Scheduler) Start() {
	go s.runSweep()

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.runSweep); err != nil {
		s.log.Error("failed to schedule billing sweep", zap.Error(err))
		return
	}
	s.log.Info("billing sweep scheduled", zap.Duration("interval", s.interval))
	s.cron.Start()
}

// Stop halts scheduling; the returned context is done once any running sweep
// has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runSweep() {
	if err := s.service.Sweep(context.Background()); err != nil {
		s.log.Error("billing sweep failed", zap.Error(err))
	}
}
