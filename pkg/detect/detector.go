package detect

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// Framework represents a detected client-side framework
type Framework string

const (
	FrameworkUnknown Framework = "unknown"
	FrameworkReact   Framework = "react"
	FrameworkNext    Framework = "nextjs"
	FrameworkNuxt    Framework = "nuxt"
	FrameworkGatsby  Framework = "gatsby"
	FrameworkAngular Framework = "angular"
	FrameworkVue     Framework = "vue"
	FrameworkSvelte  Framework = "svelte"
)

// DefaultTextThreshold is the visible-text length below which a page may be an app shell
const DefaultTextThreshold = 200

// maxShellDivs is the div count at or under which a low-text body counts as a shell
const maxShellDivs = 3

// rootContainerSelector matches the mount points client-side frameworks render into
const rootContainerSelector = "#root, #app, #__next, #__nuxt, #___gatsby, #svelte, [data-reactroot], app-root"

// Result is the SPA verdict for one static HTML body
type Result struct {
	IsSPA         bool
	Framework     Framework
	TextLength    int
	RootContainer bool
	DivCount      int
}

// Detector flags static HTML bodies that depend on JavaScript to show their content
type Detector struct {
	threshold int
	log       *logrus.Entry
}

// NewDetector creates a detector. threshold <= 0 uses DefaultTextThreshold.
func NewDetector(threshold int, log *logrus.Entry) *Detector {
	if threshold <= 0 {
		threshold = DefaultTextThreshold
	}
	return &Detector{
		threshold: threshold,
		log:       log.WithField("component", "spa_detector"),
	}
}

// Detect runs the SPA heuristic: visible body text under the threshold and at least one of
// a framework root container, a near-empty div tree, or known framework markers.
// Unparseable input is reported as not an SPA.
func (d *Detector) Detect(rawHTML string) Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		d.log.Debugf("SPA detection skipped, unparseable HTML: %v", err)
		return Result{Framework: FrameworkUnknown}
	}

	res := Result{
		Framework:     DetectFramework(doc, rawHTML),
		RootContainer: doc.Find(rootContainerSelector).Length() > 0,
	}

	body := doc.Find("body").First()
	res.DivCount = body.Find("div").Length()

	doc.Find("head, script, style, noscript, template").Remove()
	removeComments(doc.Selection)

	res.TextLength = utf8.RuneCountInString(strings.Join(strings.Fields(body.Text()), " "))

	res.IsSPA = res.TextLength < d.threshold &&
		(res.RootContainer || res.DivCount <= maxShellDivs || res.Framework != FrameworkUnknown)

	if res.IsSPA {
		d.log.Debugf("SPA shell detected (framework: %s, text: %d chars, divs: %d)", res.Framework, res.TextLength, res.DivCount)
	}
	return res
}

func removeComments(sel *goquery.Selection) {
	sel.Find("*").AddSelection(sel).Contents().FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Length() > 0 && s.Get(0).Type == html.CommentNode
	}).Remove()
}
