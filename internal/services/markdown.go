package services

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// SegmentType tells how a part of a message is rendered.
type SegmentType int

const (
	// SegmentText is markdown prose.
	SegmentText SegmentType = iota
	// SegmentCodeBlock is the body of a fenced code block, starting with its optional language line.
	SegmentCodeBlock
	// SegmentMath is inline math, without its delimiters.
	SegmentMath
	// SegmentDisplayMath is display math, with its $$ delimiters.
	SegmentDisplayMath
)

// Segment is a part of a message after preprocessing.
type Segment struct {
	Type    SegmentType
	Content string
}

const (
	codeFence    = "```"
	displayDelim = "$$"
	inlineDelim  = "$"

	// escapeMark stands in for escaped delimiters while splitting.
	escapeMark = "\uE000"
)

var imageURLPattern = regexp.MustCompile(`(?i)https?://[^\s<>"']+\.(?:jpg|jpeg|png|gif|bmp|webp)[^\s<>"']*`)

// Preprocess splits text into code blocks, display math, inline math and markdown prose, in this order of
// precedence. Code blocks tagged latex become display math. A delimiter without its closing counterpart
// leaves the text it appears in untouched. Bare image links in prose are turned into markdown images.
func Preprocess(text string) []Segment {
	segs := split([]Segment{{Type: SegmentText, Content: text}}, codeFence, SegmentCodeBlock, false)

	for i, s := range segs {
		if s.Type == SegmentCodeBlock && strings.HasPrefix(s.Content, "latex\n") {
			segs[i] = Segment{
				Type:    SegmentDisplayMath,
				Content: displayDelim + strings.TrimPrefix(s.Content, "latex\n") + displayDelim,
			}
		}
	}

	segs = split(segs, displayDelim, SegmentDisplayMath, true)
	segs = split(segs, inlineDelim, SegmentMath, false)

	for i, s := range segs {
		if s.Type == SegmentText {
			segs[i].Content = linkImages(s.Content)
		}
	}
	return segs
}

func split(segs []Segment, delim string, typ SegmentType, keepDelims bool) []Segment {
	res := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if s.Type != SegmentText {
			res = append(res, s)
			continue
		}

		parts := splitUnescaped(s.Content, delim)
		if len(parts)%2 == 0 {
			// Unterminated.
			res = append(res, s)
			continue
		}
		for i, p := range parts {
			if p == "" {
				continue
			}
			if i%2 == 0 {
				res = append(res, Segment{Type: SegmentText, Content: p})
				continue
			}
			if keepDelims {
				p = delim + p + delim
			}
			res = append(res, Segment{Type: typ, Content: p})
		}
	}
	return res
}

func splitUnescaped(text, delim string) []string {
	escaped := `\` + delim
	parts := strings.Split(strings.ReplaceAll(text, escaped, escapeMark), delim)
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, escapeMark, escaped)
	}
	return parts
}

func linkImages(text string) string {
	locs := imageURLPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		b.WriteString(text[last:start])
		// Already the target of a markdown link or image.
		if start > 0 && text[start-1] == '(' {
			b.WriteString(text[start:end])
		} else {
			fmt.Fprintf(&b, "![Image](%s)", text[start:end])
		}
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

// Markdown renders message text into sanitized HTML.
type Markdown struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewMarkdown creates a renderer highlighting code blocks with the given chroma style.
func NewMarkdown(style string) Markdown {
	if style == "" {
		style = "monokai"
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle(style),
				highlighting.WithFormatOptions(chromahtml.WithClasses(true)),
			),
		),
		goldmark.WithRendererOptions(
			gmhtml.WithHardWraps(),
			gmhtml.WithUnsafe(),
		),
	)

	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").OnElements("pre", "code", "span", "div")
	policy.AllowAttrs("checked", "disabled", "type").OnElements("input")
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)

	return Markdown{md: md, policy: policy}
}

// Render renders text as safe HTML.
func (m Markdown) Render(text string) (template.HTML, error) {
	var buf bytes.Buffer
	for _, s := range Preprocess(text) {
		switch s.Type {
		case SegmentText:
			if err := m.md.Convert([]byte(s.Content), &buf); err != nil {
				return "", fmt.Errorf("failed to render markdown: %w", err)
			}
		case SegmentCodeBlock:
			body := s.Content
			if !strings.HasSuffix(body, "\n") {
				body += "\n"
			}
			if err := m.md.Convert([]byte(codeFence+body+codeFence+"\n"), &buf); err != nil {
				return "", fmt.Errorf("failed to render code block: %w", err)
			}
		case SegmentMath:
			fmt.Fprintf(&buf, `<span class="math-inline">\(%s\)</span>`, html.EscapeString(s.Content))
		case SegmentDisplayMath:
			fmt.Fprintf(&buf, `<div class="math-display">%s</div>`, html.EscapeString(s.Content))
		}
	}

	return template.HTML(m.policy.SanitizeBytes(buf.Bytes())), nil
}
