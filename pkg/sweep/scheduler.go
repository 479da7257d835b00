// Package sweep runs the stuck-audit recovery sweep on a schedule.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/lifecycle"
)

// Sweeper recovers audits left running
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (lifecycle.SweepReport, error)
}

// Scheduler runs the sweep once at start and then every interval until its context ends
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	state    *StateManager
	log      *logrus.Entry
	now      func() time.Time
}

// NewScheduler creates a sweep scheduler. statePath may be empty.
func NewScheduler(sweeper Sweeper, interval time.Duration, statePath string, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		state:    NewStateManager(statePath),
		log:      log.WithField("component", "sweep"),
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.state.Load(); err != nil {
		s.log.Warnf("Failed to load sweep state: %v (starting fresh)", err)
	}
	s.log.Infof("Starting stuck-audit sweep every %s", FormatInterval(s.interval))

	s.runIfDue(ctx)

	ticker := time.NewTicker(s.tickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sweep scheduler shutting down...")
			return nil
		case <-ticker.C:
			s.runIfDue(ctx)
		}
	}
}

// RunOnce sweeps immediately and records the result
func (s *Scheduler) RunOnce(ctx context.Context) (lifecycle.SweepReport, error) {
	started := s.now()
	report, err := s.sweeper.Sweep(ctx, started)
	s.state.Record(started, &report, err)
	if saveErr := s.state.Save(); saveErr != nil {
		s.log.Errorf("Failed to save sweep state: %v", saveErr)
	}
	if err != nil {
		s.log.Errorf("Sweep failed: %v", err)
	}
	return report, err
}

func (s *Scheduler) runIfDue(ctx context.Context) {
	now := s.now()
	if !s.state.ShouldRun(now, s.interval) {
		s.logNextRun(now)
		return
	}
	_, _ = s.RunOnce(ctx)
	s.logNextRun(s.now())
}

// tickInterval checks for a due sweep at least every minute, or every 1/10th of the interval
func (s *Scheduler) tickInterval() time.Duration {
	check := s.interval / 10
	if check < time.Minute {
		check = time.Minute
	}
	if check > 10*time.Minute {
		check = 10 * time.Minute
	}
	if check > s.interval {
		check = s.interval
	}
	return check
}

func (s *Scheduler) logNextRun(now time.Time) {
	next := s.state.NextRunTime(now, s.interval)
	until := next.Sub(now)
	if until < 0 {
		until = 0
	}
	s.log.Debugf("Next sweep in %v (at %s)", until.Round(time.Second), next.Format("15:04:05"))
}

// Status describes the schedule for health reporting
type Status struct {
	Interval    string    `json:"interval"`
	LastRunTime time.Time `json:"last_run_time,omitempty"`
	LastSuccess bool      `json:"last_run_success"`
	LastError   string    `json:"last_error,omitempty"`
	NextRunTime time.Time `json:"next_run_time"`
	NeverRun    bool      `json:"never_run"`
}

// GetStatus returns the current schedule state
func (s *Scheduler) GetStatus() Status {
	now := s.now()
	last, ran := s.state.Last()
	return Status{
		Interval:    FormatInterval(s.interval),
		LastRunTime: last.LastRunTime,
		LastSuccess: last.LastRunSuccess,
		LastError:   last.ErrorMessage,
		NextRunTime: s.state.NextRunTime(now, s.interval),
		NeverRun:    !ran,
	}
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for days
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 && days > 0 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
