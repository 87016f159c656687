package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Expirer is what the sweeper drives.
type Expirer interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Sweeper runs the subscription expiry on a cron schedule, once at start
// and then on every tick.  Overlapping ticks are skipped.
type Sweeper struct {
	cron    *cron.Cron
	job     cron.Job
	target  Expirer
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewSweeper(target Expirer, schedule string, log *zap.Logger) (*Sweeper, error) {
	cl := cronLogger{log.Sugar()}
	s := &Sweeper{
		cron:    cron.New(cron.WithLogger(cl)),
		target:  target,
		log:     log,
		timeout: time.Minute,
	}
	// one chain instance, so the startup run and ticks share the skip lock
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.run))
	if _, err := s.cron.AddJob(schedule, s.job); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) run() {
	// a batch is never cut short by shutdown; Stop waits for it instead
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.target.SweepExpired(ctx); err != nil {
		s.log.Error("subscription sweep failed", zap.Error(err))
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.job.Run()
	}()
	s.cron.Start()
	s.log.Info("subscription sweeper started")
}

// Stop halts scheduling and waits for a running sweep, or for ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("subscription sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ l *zap.SugaredLogger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
