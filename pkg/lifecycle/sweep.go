package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"aeo-audit/pkg/config"
	"aeo-audit/pkg/models"
)

const sweepConcurrency = 4

// SweepAction is what the sweep did to one audit
type SweepAction string

const (
	SweepFinalized SweepAction = "finalized"
	SweepFailed    SweepAction = "failed"
	SweepLeft      SweepAction = "left"
)

// SweepResult is the sweep's verdict for one running audit
type SweepResult struct {
	AuditID  string        `json:"audit_id"`
	Action   SweepAction   `json:"action"`
	Why      string        `json:"why,omitempty"`
	Analyzed int           `json:"pages_analyzed"`
	Age      time.Duration `json:"age"`
	Error    string        `json:"error,omitempty"`
}

// SweepReport summarizes one run of the stuck-audit sweep
type SweepReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Running   int           `json:"running"`
	Checked   int           `json:"checked"`
	Finalized int           `json:"finalized"`
	Failed    int           `json:"failed"`
	Errors    int           `json:"errors"`
	Results   []SweepResult `json:"results,omitempty"`
}

// StuckVerdict decides what to do with a running audit of the given age and analyzed count
func StuckVerdict(age time.Duration, analyzed int, cfg config.SweepConfig) (SweepAction, string) {
	switch {
	case age < cfg.MinAge:
		return SweepLeft, "too_young"
	case analyzed >= cfg.FinalizeMinPages:
		return SweepFinalized, "enough_pages"
	case analyzed > 0 && age >= cfg.PartialAge:
		return SweepFinalized, "partial"
	case analyzed == 0 && age >= cfg.EmptyAge:
		return SweepFailed, string(models.FailNoPagesAfter10Min)
	}
	return SweepLeft, "within_window"
}

// Sweep recovers running audits whose background work died. Audits are handled in parallel
// with a small bound; one audit's error never stops the others.
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	report := SweepReport{StartedAt: now}
	running, err := c.store.ListRunningAudits(ctx)
	if err != nil {
		return report, err
	}
	report.Running = len(running)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = semaphore.NewWeighted(sweepConcurrency)
	)
	for _, audit := range running {
		if now.Sub(audit.StartedAt) < c.sweepCfg.MinAge {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(a models.Audit) {
			defer wg.Done()
			defer sem.Release(1)
			result := c.sweepOne(ctx, a, now)
			mu.Lock()
			report.Results = append(report.Results, result)
			mu.Unlock()
		}(audit)
	}
	wg.Wait()

	for _, r := range report.Results {
		report.Checked++
		switch {
		case r.Error != "":
			report.Errors++
		case r.Action == SweepFinalized:
			report.Finalized++
		case r.Action == SweepFailed:
			report.Failed++
		}
	}
	report.Duration = c.now().Sub(now)
	if report.Duration < 0 {
		report.Duration = 0
	}

	c.log.WithFields(logrus.Fields{
		"running":   report.Running,
		"checked":   report.Checked,
		"finalized": report.Finalized,
		"failed":    report.Failed,
		"errors":    report.Errors,
	}).Info("Stuck-audit sweep complete")
	return report, ctx.Err()
}

func (c *Coordinator) sweepOne(ctx context.Context, audit models.Audit, now time.Time) SweepResult {
	result := SweepResult{AuditID: audit.ID, Age: now.Sub(audit.StartedAt)}
	sweepLog := c.log.WithFields(logrus.Fields{"audit_id": audit.ID, "age": result.Age.Round(time.Second)})

	stats, err := c.store.PageStats(ctx, audit.ID)
	if err != nil {
		result.Error = err.Error()
		sweepLog.Warnf("Sweep could not read page stats: %v", err)
		return result
	}
	result.Analyzed = stats.Analyzed
	result.Action, result.Why = StuckVerdict(result.Age, stats.Analyzed, c.sweepCfg)

	transitioned := true
	switch result.Action {
	case SweepFinalized:
		_, transitioned, err = c.finalize(ctx, audit.ID)
	case SweepFailed:
		_, transitioned, err = c.fail(ctx, audit.ID, string(models.FailNoPagesAfter10Min))
	}
	if err != nil {
		result.Error = err.Error()
		sweepLog.Warnf("Sweep transition failed: %v", err)
		return result
	}
	if !transitioned {
		// another worker ended the audit after it was listed
		result.Action, result.Why = SweepLeft, "already_terminal"
		return result
	}
	if result.Action != SweepLeft {
		sweepLog.WithFields(logrus.Fields{"action": result.Action, "why": result.Why, "analyzed": stats.Analyzed}).Info("Sweep recovered audit")
	}
	return result
}
