package lifecycle

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/config"
	"aeo-audit/pkg/models"
	"aeo-audit/pkg/utils"
)

// Finalize moves a running audit to completed with penalized site scores, then hands off to the
// external collaborators. An audit that is already terminal is returned unchanged.
func (c *Coordinator) Finalize(ctx context.Context, id string) (*models.Audit, error) {
	audit, _, err := c.finalize(ctx, id)
	return audit, err
}

// finalize also reports whether this call made the running → completed transition
func (c *Coordinator) finalize(ctx context.Context, id string) (*models.Audit, bool, error) {
	summary, err := c.store.ScoreSummary(ctx, id)
	if err != nil {
		return nil, false, err
	}
	aeo, geo := SiteScores(summary, c.scoring)

	transitioned, err := c.store.CompleteAudit(ctx, id, aeo, geo, c.now())
	if err != nil {
		return nil, false, err
	}
	audit, err := c.store.GetAudit(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !transitioned {
		c.log.WithFields(logrus.Fields{"audit_id": id, "status": audit.Status}).Debug("Finalize skipped, audit not running")
		return audit, false, nil
	}

	fields := logrus.Fields{"audit_id": id, "analyzed": summary.Analyzed, "aeo_score": aeo, "geo_score": geo}
	if summary.AvgRenderGap != nil {
		fields["render_gap"] = *summary.AvgRenderGap
	}
	c.log.WithFields(fields).Info("Audit completed")

	c.dispatchHandoffs(ctx, audit)
	return audit, true, nil
}

// SiteScores averages page scores and applies the render-gap penalty policy. Missing averages
// count as 0 and results are floored at 0.
func SiteScores(summary models.ScoreSummary, cfg config.ScoringConfig) (aeo, geo float64) {
	if summary.AvgAEO != nil {
		aeo = *summary.AvgAEO
	}
	if summary.AvgGEO != nil {
		geo = *summary.AvgGEO
	}

	if gap := summary.AvgRenderGap; gap != nil {
		switch {
		case *gap < cfg.SevereGap:
			aeo -= cfg.AEOSeverePenalty
			geo -= cfg.GEOSeverePenalty
		case *gap < cfg.ModerateGap:
			geo -= cfg.GEOModeratePenalty
		}
	}
	return max(aeo, 0), max(geo, 0)
}

// Fail moves a running audit to failed with a reason from the fixed taxonomy
func (c *Coordinator) Fail(ctx context.Context, id string, reason models.FailReason) (*models.Audit, error) {
	if !reason.IsKnown() {
		return nil, fmt.Errorf("%w: unknown fail reason %q", utils.ErrInvalidRequest, reason)
	}
	audit, _, err := c.fail(ctx, id, string(reason))
	return audit, err
}

// AdminFail is the operator escape hatch; any non-empty reason text is accepted
func (c *Coordinator) AdminFail(ctx context.Context, id, reason string) (*models.Audit, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: fail reason is required", utils.ErrInvalidRequest)
	}
	audit, _, err := c.fail(ctx, id, reason)
	return audit, err
}

func (c *Coordinator) fail(ctx context.Context, id, reason string) (*models.Audit, bool, error) {
	transitioned, err := c.store.FailAudit(ctx, id, reason, c.now())
	if err != nil {
		return nil, false, err
	}
	audit, err := c.store.GetAudit(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if transitioned {
		c.log.WithFields(logrus.Fields{"audit_id": id, "reason": reason}).Info("Audit failed")
	}
	return audit, transitioned, nil
}

// dispatchHandoffs starts the three post-finalize tasks independently. None of them can affect
// the completed audit; each gets its own deadline and logs its own failure.
func (c *Coordinator) dispatchHandoffs(ctx context.Context, audit *models.Audit) {
	host := audit.RootURL
	if u, err := url.Parse(audit.RootURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	base := context.WithoutCancel(ctx)

	c.handoff(base, audit.ID, "diagnostics", func(ctx context.Context) error {
		return c.diagnostics.RunSiteDiagnostics(ctx, audit.ID)
	})
	c.handoff(base, audit.ID, "prompt_cache", func(ctx context.Context) error {
		return c.prompts.BuildForDomain(ctx, host)
	})
	c.handoff(base, audit.ID, "citations_queue", func(ctx context.Context) error {
		return c.store.SetCitationsStatus(ctx, audit.ID, models.CitationsStatusQueued)
	})
}

func (c *Coordinator) handoff(base context.Context, auditID, name string, fn func(ctx context.Context) error) {
	c.handoffs.Add(1)
	go func() {
		defer c.handoffs.Done()
		handoffLog := c.log.WithFields(logrus.Fields{"audit_id": auditID, "handoff": name})
		defer func() {
			if p := recover(); p != nil {
				handoffLog.Errorf("Handoff panicked: %v", p)
			}
		}()

		ctx, cancel := context.WithTimeout(base, c.scoring.HandoffTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			handoffLog.WithField("category", utils.CategorizeError(err)).Warnf("Handoff failed: %v", err)
			return
		}
		handoffLog.Debug("Handoff done")
	}()
}

// WaitHandoffs blocks until dispatched handoffs return or ctx ends
func (c *Coordinator) WaitHandoffs(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.handoffs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// logDiagnostics stands in when no diagnostics service is configured
type logDiagnostics struct{ log *logrus.Entry }

func (d logDiagnostics) RunSiteDiagnostics(_ context.Context, auditID string) error {
	d.log.WithField("audit_id", auditID).Info("Site diagnostics requested (no diagnostics service configured)")
	return nil
}

type logPromptCache struct{ log *logrus.Entry }

func (p logPromptCache) BuildForDomain(_ context.Context, host string) error {
	p.log.WithField("host", host).Info("Prompt cache build requested (no prompt service configured)")
	return nil
}
