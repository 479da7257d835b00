package batch

import (
	"time"

	"aeo-audit/pkg/config"
	"aeo-audit/pkg/models"
)

// Action is what happens to an audit after a pass
type Action int

const (
	ActionContinue Action = iota // run another pass
	ActionFinalize
	ActionFail
	ActionNoop  // audit was not running
	ActionYield // invocation budget spent; a later continue or the sweep picks it up
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionFinalize:
		return "finalize"
	case ActionFail:
		return "fail"
	case ActionNoop:
		return "noop"
	case ActionYield:
		return "yield"
	}
	return "unknown"
}

// Totals are the facts a decision is made from
type Totals struct {
	Analyzed   int
	QueueEmpty bool
	Elapsed    time.Duration // since the audit started
}

// Thresholds are the tuning constants a decision is made against
type Thresholds struct {
	TargetMinPages    int
	TargetMaxPages    int
	MinPagesOnTimeout int
	HardTime          time.Duration
	ValveElapsed      time.Duration
	ValveMinPages     int
}

// ThresholdsFromConfig applies a per-audit page cap, which may only lower the configured max
func ThresholdsFromConfig(cfg config.BatchConfig, auditMaxPages int) Thresholds {
	th := Thresholds{
		TargetMinPages:    cfg.TargetMinPages,
		TargetMaxPages:    cfg.TargetMaxPages,
		MinPagesOnTimeout: cfg.MinPagesOnTimeout,
		HardTime:          cfg.HardTime,
		ValveElapsed:      cfg.ValveElapsed,
		ValveMinPages:     cfg.ValveMinPages,
	}
	if auditMaxPages > 0 && auditMaxPages < th.TargetMaxPages {
		th.TargetMaxPages = auditMaxPages
		th.TargetMinPages = min(th.TargetMinPages, auditMaxPages)
	}
	return th
}

// Decision is the result of Decide. Why names the rule that fired, for logs.
type Decision struct {
	Action Action
	Reason models.FailReason
	Why    string
}

// Decide picks the next step after a pass. Rules are checked in order and the first match wins;
// the safety valve comes first so a synchronous caller always finishes before its platform timeout.
func Decide(t Totals, th Thresholds) Decision {
	switch {
	case t.Elapsed >= th.ValveElapsed && t.Analyzed >= th.ValveMinPages:
		return Decision{Action: ActionFinalize, Why: "safety_valve"}
	case t.Analyzed >= th.TargetMaxPages:
		return Decision{Action: ActionFinalize, Why: "max_pages"}
	case t.Analyzed >= th.TargetMinPages:
		return Decision{Action: ActionFinalize, Why: "target_met"}
	case t.QueueEmpty && t.Analyzed == 0:
		return Decision{Action: ActionFail, Reason: models.FailNoCrawlablePages, Why: "queue_empty"}
	case t.QueueEmpty:
		return Decision{Action: ActionFinalize, Why: "queue_empty"}
	case t.Elapsed >= th.HardTime && t.Analyzed >= th.MinPagesOnTimeout:
		return Decision{Action: ActionFinalize, Why: "hard_time"}
	case t.Elapsed >= th.HardTime:
		return Decision{Action: ActionFail, Reason: models.FailTimeoutInsufficientPages(t.Analyzed), Why: "hard_time"}
	}
	return Decision{Action: ActionContinue, Why: "more_work"}
}
