package lifecycle

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/jobs"
	"aeo-audit/pkg/models"
	"aeo-audit/pkg/parse"
	"aeo-audit/pkg/utils"
)

// CreateRequest is the body of an audit creation call. Either URL or RootURL is required.
type CreateRequest struct {
	ProjectID       string              `json:"project_id,omitempty" validate:"omitempty,max=128"`
	URL             string              `json:"url,omitempty" validate:"required_without=RootURL,omitempty,max=2048"`
	RootURL         string              `json:"root_url,omitempty" validate:"required_without=URL,omitempty,max=2048"`
	SiteDescription string              `json:"site_description,omitempty" validate:"max=4000"`
	MaxPages        int                 `json:"max_pages,omitempty" validate:"omitempty,min=1,max=500"`
	Config          *models.AuditConfig `json:"config,omitempty"`
}

func (r CreateRequest) target() string {
	if r.URL != "" {
		return r.URL
	}
	return r.RootURL
}

// CreateResponse tells the caller immediately whether crawling started
type CreateResponse struct {
	AuditID string             `json:"audit_id"`
	Status  models.AuditStatus `json:"status"`
	Reason  string             `json:"reason,omitempty"`
}

// Create prechecks the root URL synchronously, persists the audit and starts crawling in the
// background. A precheck failure is persisted as a failed audit with no pages and returned as
// status failed, not as an error.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrInvalidRequest, err)
	}

	target := strings.TrimSpace(req.target())
	createLog := c.log.WithField("url", target)

	auditCfg := models.AuditConfig{}
	if req.Config != nil {
		auditCfg = *req.Config
	}
	if req.MaxPages > 0 {
		auditCfg.MaxPages = req.MaxPages
	}

	now := c.now()
	audit := &models.Audit{
		ProjectID:       req.ProjectID,
		RootURL:         target,
		StartedAt:       now,
		Config:          auditCfg,
		SiteDescription: req.SiteDescription,
	}

	result := c.precheck.Check(ctx, target)
	if !result.OK {
		audit.Status = models.AuditStatusFailed
		audit.FailReason = string(result.Reason)
		audit.FailAt = &now
		audit.FinishedAt = &now
		if err := c.store.CreateAudit(ctx, audit); err != nil {
			return nil, err
		}
		createLog.WithFields(logrus.Fields{"audit_id": audit.ID, "reason": result.Reason}).Info("Audit failed precheck")
		return &CreateResponse{AuditID: audit.ID, Status: audit.Status, Reason: audit.FailReason}, nil
	}

	audit.RootURL = result.FinalURL
	audit.Status = models.AuditStatusRunning
	host := ""
	if u, err := url.Parse(result.FinalURL); err == nil {
		host = u.Hostname()
	}
	lock := ClassifyIndustry(req.SiteDescription, host)
	audit.Industry = lock.Industry
	audit.IndustrySource = lock.Source
	audit.IndustryConfidence = lock.Confidence

	if err := c.store.CreateAudit(ctx, audit); err != nil {
		return nil, err
	}
	createLog.WithFields(logrus.Fields{
		"audit_id": audit.ID,
		"root_url": audit.RootURL,
		"industry": audit.Industry,
	}).Info("Audit created")

	c.startBackground(audit.ID, audit.RootURL, jobs.KindStart)
	return &CreateResponse{AuditID: audit.ID, Status: audit.Status}, nil
}

// IndustryLock is the write-once classification stored on an audit
type IndustryLock struct {
	Industry   string
	Source     string // description, domain or default
	Confidence float64
}

// Industry sources
const (
	IndustrySourceDescription = "description"
	IndustrySourceDomain      = "domain"
	IndustrySourceDefault     = "default"

	defaultIndustry = "general"
)

// industryKeywords is checked in order; ties go to the earlier industry
var industryKeywords = []struct {
	industry string
	keywords []string
}{
	{"software", []string{"software", "saas", "api", "developer", "platform", "cloud", "app", "devops"}},
	{"ecommerce", []string{"shop", "store", "ecommerce", "e-commerce", "retail", "cart", "marketplace"}},
	{"finance", []string{"bank", "finance", "fintech", "loan", "insurance", "invest", "credit", "payments"}},
	{"healthcare", []string{"health", "clinic", "medical", "care", "pharma", "dental", "hospital"}},
	{"education", []string{"school", "university", "course", "learn", "education", "academy", "tutor"}},
	{"travel", []string{"travel", "hotel", "flight", "booking", "tour", "vacation"}},
	{"real_estate", []string{"realty", "real estate", "property", "homes", "mortgage", "rental"}},
	{"legal", []string{"law", "legal", "attorney", "lawyer"}},
	{"marketing", []string{"marketing", "seo", "agency", "advertising", "brand"}},
	{"food", []string{"restaurant", "food", "recipe", "cafe", "catering", "kitchen"}},
}

// ClassifyIndustry picks an industry from the site description, falling back to the host name
func ClassifyIndustry(description, host string) IndustryLock {
	if industry, hits := matchIndustry(strings.ToLower(description)); hits > 0 {
		return IndustryLock{Industry: industry, Source: IndustrySourceDescription, Confidence: confidence(hits, 0.6)}
	}

	host = strings.ToLower(parse.RootHost(host))
	if i := strings.LastIndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	tokens := strings.NewReplacer("-", " ", ".", " ").Replace(host)
	if industry, hits := matchIndustry(tokens); hits > 0 {
		return IndustryLock{Industry: industry, Source: IndustrySourceDomain, Confidence: confidence(hits, 0.4)}
	}

	return IndustryLock{Industry: defaultIndustry, Source: IndustrySourceDefault}
}

func matchIndustry(text string) (string, int) {
	if strings.TrimSpace(text) == "" {
		return "", 0
	}
	best, bestHits := "", 0
	for _, entry := range industryKeywords {
		hits := 0
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = entry.industry, hits
		}
	}
	return best, bestHits
}

func confidence(hits int, base float64) float64 {
	return min(base+0.1*float64(hits-1), 0.95)
}
