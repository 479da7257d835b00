package detect

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testDetector() *Detector {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	return NewDetector(0, logrus.NewEntry(log))
}

func TestDetect_ReactShell(t *testing.T) {
	html := `<!DOCTYPE html>
<html>
<head><title>App</title><style>body{margin:0}</style></head>
<body>
<noscript>You need to enable JavaScript to run this app.</noscript>
<div id="root"></div>
<script src="/static/js/main.3f2a.js"></script>
</body>
</html>`

	res := testDetector().Detect(html)

	assert.True(t, res.IsSPA)
	assert.True(t, res.RootContainer)
	assert.Equal(t, 0, res.TextLength)
}

func TestDetect_NextShell(t *testing.T) {
	html := `<html><head></head><body>
<div id="__next"><div class="a"><div class="b"><div class="c"><div>Loading</div></div></div></div></div>
<script id="__NEXT_DATA__" type="application/json">{"props":{}}</script>
<script src="/_next/static/chunks/main.js"></script>
</body></html>`

	res := testDetector().Detect(html)

	assert.True(t, res.IsSPA)
	assert.Equal(t, FrameworkNext, res.Framework)
	assert.Equal(t, len("Loading"), res.TextLength)
}

func TestDetect_ContentPageWithRoot(t *testing.T) {
	// server-rendered React: same mount point, but the text is already there
	html := `<html><body><div id="root"><main><h1>Pricing</h1><p>` +
		strings.Repeat("Plans start at ten dollars per month and scale with usage. ", 10) +
		`</p></main></div></body></html>`

	res := testDetector().Detect(html)

	assert.False(t, res.IsSPA)
	assert.True(t, res.RootContainer)
	assert.Greater(t, res.TextLength, DefaultTextThreshold)
}

func TestDetect_ShortStaticPage(t *testing.T) {
	// little text, but plenty of markup and no framework: a plain small page
	html := `<html><body>
<div><div><div><div><p>Contact us</p></div></div></div></div>
</body></html>`

	res := testDetector().Detect(html)

	assert.False(t, res.IsSPA)
	assert.Equal(t, 4, res.DivCount)
	assert.Equal(t, FrameworkUnknown, res.Framework)
}

func TestDetect_FewDivs(t *testing.T) {
	html := `<html><body><div><p>Hi</p></div></body></html>`

	res := testDetector().Detect(html)

	assert.True(t, res.IsSPA)
}

func TestDetect_IgnoresScriptsAndComments(t *testing.T) {
	html := `<html><head><title>` + strings.Repeat("t", 300) + `</title></head><body>
<!-- ` + strings.Repeat("comment ", 100) + ` -->
<script>var data = "` + strings.Repeat("x", 500) + `";</script>
<div id="app"></div>
</body></html>`

	res := testDetector().Detect(html)

	assert.True(t, res.IsSPA)
	assert.Equal(t, 0, res.TextLength)
}

func TestDetect_CustomThreshold(t *testing.T) {
	html := `<html><body><div id="app"><p>` + strings.Repeat("a", 150) + `</p></div></body></html>`
	log := logrus.NewEntry(logrus.New())

	assert.True(t, NewDetector(200, log).Detect(html).IsSPA)
	assert.False(t, NewDetector(100, log).Detect(html).IsSPA)
}

func TestDetectFramework(t *testing.T) {
	tests := []struct {
		name string
		html string
		want Framework
	}{
		{"angular", `<html><body><app-root ng-version="17.0.0"></app-root></body></html>`, FrameworkAngular},
		{"nuxt", `<html><body><div id="__nuxt"></div></body></html>`, FrameworkNuxt},
		{"gatsby", `<html><body><div id="___gatsby"></div></body></html>`, FrameworkGatsby},
		{"vue", `<html><body><div id="app" data-v-app></div></body></html>`, FrameworkVue},
		{"sveltekit", `<html><body><script type="module" src="/_app/immutable/entry/start.js"></script></body></html>`, FrameworkSvelte},
		{"react", `<html><body><div data-reactroot></div></body></html>`, FrameworkReact},
		{"plain", `<html><body><p>Hello</p></body></html>`, FrameworkUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			if err != nil {
				t.Fatalf("Failed to parse HTML: %v", err)
			}
			if got := DetectFramework(doc, tt.html); got != tt.want {
				t.Errorf("DetectFramework() = %v, want %v", got, tt.want)
			}
		})
	}
}
