package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultTrimSchedule runs trimming daily at 04:00 local time.
const DefaultTrimSchedule = "0 4 * * *"

// Scheduler triggers trimming runs on a cron schedule.
type Scheduler struct {
	trimmer *Trimmer
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc

	// startup tracks the run launched by Start; cron tracks its own jobs.
	startup sync.WaitGroup
}

// NewScheduler parses spec (standard five-field cron syntax) and binds it to t.
func NewScheduler(t *Trimmer, spec string) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultTrimSchedule
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		trimmer: t,
		cron:    cron.New(),
		ctx:     ctx,
		cancel:  cancel,
	}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		cancel()
		return nil, fmt.Errorf("parse trim schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins the schedule. When runNow is set a run also starts immediately in the background.
func (s *Scheduler) Start(runNow bool) {
	if runNow {
		s.startup.Add(1)
		go func() {
			defer s.startup.Done()
			s.runOnce()
		}()
	}
	s.cron.Start()
}

// Stop halts the schedule, cancels any in-flight run and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.startup.Wait()
}

func (s *Scheduler) runOnce() {
	res := s.trimmer.Run(s.ctx)
	if errors.Is(res.Err, ErrTrimInProgress) {
		log.Printf("trim: previous run still active, skipping")
	}
}
