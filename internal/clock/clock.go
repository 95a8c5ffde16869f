package clock

import (
	"time"

	"github.com/robfig/cron/v3"
)

type Clock interface {
	Now() time.Time
}

// Scheduler runs callbacks on a timer. The returned func cancels further runs;
// a callback already in progress is not interrupted.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
	After(delay time.Duration, fn func()) (stop func())
}

type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

// CronScheduler runs periodic callbacks on a cron instance. Each run gets its own
// goroutine, so a slow callback never delays the next one.
type CronScheduler struct {
	cron *cron.Cron
}

func NewCronScheduler() *CronScheduler {
	c := cron.New()
	c.Start()
	return &CronScheduler{cron: c}
}

// Every rounds intervals below one second up to one second.
func (s *CronScheduler) Every(interval time.Duration, fn func()) func() {
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(fn))
	return func() {
		s.cron.Remove(id)
	}
}

func (s *CronScheduler) After(delay time.Duration, fn func()) func() {
	timer := time.AfterFunc(delay, fn)
	return func() {
		timer.Stop()
	}
}

// Stop waits for running callbacks to return.
func (s *CronScheduler) Stop() {
	<-s.cron.Stop().Done()
}
