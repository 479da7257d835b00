package process

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractHeadings parses markdown and returns the heading outline in document order,
// each entry prefixed with its level ("## Pricing").
func ExtractHeadings(markdown []byte) []string {
	reader := text.NewReader(markdown)
	doc := goldmark.DefaultParser().Parse(reader)

	var headings []string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		collectText(heading, markdown, &buf)
		if t := strings.Join(strings.Fields(buf.String()), " "); t != "" {
			headings = append(headings, strings.Repeat("#", heading.Level)+" "+t)
		}
		return ast.WalkSkipChildren, nil
	})

	return headings
}

// collectText gathers text from n's descendants, so emphasis and links inside a heading are kept
func collectText(n ast.Node, source []byte, buf *bytes.Buffer) {
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			buf.Write(c.Segment.Value(source))
			if c.SoftLineBreak() || c.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(c.Value)
		default:
			collectText(child, source, buf)
		}
	}
}

// QuestionHeadings counts headings phrased as questions, a strong answer-engine signal
func QuestionHeadings(headings []string) int {
	n := 0
	for _, h := range headings {
		if strings.HasSuffix(strings.TrimSpace(h), "?") {
			n++
		}
	}
	return n
}
