package services_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/agixt/agixt-web/internal/services"
)

func TestPreprocess(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []services.Segment
	}{
		{
			name: "Plain text",
			text: "Hello world",
			want: []services.Segment{{Type: services.SegmentText, Content: "Hello world"}},
		},
		{
			name: "Code block",
			text: "Run:\n```go\nfmt.Println(1)\n```\nDone",
			want: []services.Segment{
				{Type: services.SegmentText, Content: "Run:\n"},
				{Type: services.SegmentCodeBlock, Content: "go\nfmt.Println(1)\n"},
				{Type: services.SegmentText, Content: "\nDone"},
			},
		},
		{
			name: "Dollars inside code stay code",
			text: "```sh\necho $HOME\n```",
			want: []services.Segment{{Type: services.SegmentCodeBlock, Content: "sh\necho $HOME\n"}},
		},
		{
			name: "Latex code block",
			text: "```latex\nx^2\n```",
			want: []services.Segment{{Type: services.SegmentDisplayMath, Content: "$$x^2\n$$"}},
		},
		{
			name: "Display math keeps delimiters",
			text: "Area: $$\\pi r^2$$",
			want: []services.Segment{
				{Type: services.SegmentText, Content: "Area: "},
				{Type: services.SegmentDisplayMath, Content: "$$\\pi r^2$$"},
			},
		},
		{
			name: "Inline math drops delimiters",
			text: "Let $x$ be",
			want: []services.Segment{
				{Type: services.SegmentText, Content: "Let "},
				{Type: services.SegmentMath, Content: "x"},
				{Type: services.SegmentText, Content: " be"},
			},
		},
		{
			name: "Escaped dollar",
			text: `costs \$5 and \$6`,
			want: []services.Segment{{Type: services.SegmentText, Content: `costs \$5 and \$6`}},
		},
		{
			name: "Unterminated inline math",
			text: "costs $5",
			want: []services.Segment{{Type: services.SegmentText, Content: "costs $5"}},
		},
		{
			name: "Unterminated code block",
			text: "```go\nfmt.Println(1)",
			want: []services.Segment{{Type: services.SegmentText, Content: "```go\nfmt.Println(1)"}},
		},
		{
			name: "Bare image link",
			text: "See https://example.com/cat.PNG now",
			want: []services.Segment{{Type: services.SegmentText, Content: "See ![Image](https://example.com/cat.PNG) now"}},
		},
		{
			name: "Image link already in markdown",
			text: "![cat](https://example.com/cat.png)",
			want: []services.Segment{{Type: services.SegmentText, Content: "![cat](https://example.com/cat.png)"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Preprocess(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Preprocess() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMarkdownRender(t *testing.T) {
	md := services.NewMarkdown("")

	tests := []struct {
		name     string
		text     string
		contains []string
		excludes []string
	}{
		{
			name:     "Emphasis",
			text:     "Hello **world**",
			contains: []string{"<strong>world</strong>"},
		},
		{
			name:     "Highlighted code",
			text:     "```go\nfunc main() {}\n```",
			contains: []string{"<pre", "chroma", "main"},
		},
		{
			name:     "Inline math",
			text:     "Let $x<y$ hold",
			contains: []string{`<span class="math-inline">\(x&lt;y\)</span>`},
		},
		{
			name:     "Display math",
			text:     "$$a+b$$",
			contains: []string{`<div class="math-display">$$a+b$$</div>`},
		},
		{
			name:     "Script is removed",
			text:     "Hi <script>alert(1)</script>",
			excludes: []string{"<script>", "alert(1)"},
		},
		{
			name:     "Table",
			text:     "| a | b |\n|---|---|\n| 1 | 2 |",
			contains: []string{"<table>", "<td>1</td>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := md.Render(tt.text)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(string(got), want) {
					t.Errorf("Render() = %s, want to contain %s", got, want)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(string(got), unwanted) {
					t.Errorf("Render() = %s, must not contain %s", got, unwanted)
				}
			}
		})
	}
}
