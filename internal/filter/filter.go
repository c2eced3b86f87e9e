// Package filter scrubs model output before it is spoken. Models
// occasionally leak markdown code fences or pseudo-code into what
// should be plain conversational speech; the filter removes those so
// the host never reads source code aloud.
package filter

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
)

// Unsupported is spoken when filtering removes everything, meaning the
// model produced nothing usable as speech.
const Unsupported = "抱歉，该操作暂不支持。"

var markdown = goldmark.New()

var (
	fenceRe = regexp.MustCompile("^(```|~~~)")

	// Lines that read like source code rather than speech.
	codeLineRe = regexp.MustCompile(`^(import\s|from\s+\S+\s+import\b|def\s+\w+\s*\(|class\s+\w+|func\s+\w+\s*\(|function\s+\w+\s*\(|var\s+\w+\s*=|const\s+\w+\s*=|let\s+\w+\s*=|return\s|#include\b|package\s+\w+$)`)

	// Structural punctuation lines, e.g. a bare "}" or "});".
	braceLineRe = regexp.MustCompile(`^[{}\[\]();,]+$`)
)

// Clean strips code blocks and code-like lines from s and returns the
// remaining prose, trimmed. The result may be empty.
func Clean(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	src := []byte(s)
	blocked := codeSegments(src)

	var out []string
	offset := 0
	for _, line := range strings.SplitAfter(s, "\n") {
		start, stop := offset, offset+len(line)
		offset = stop

		trimmed := strings.TrimSpace(line)
		switch {
		case overlaps(blocked, start, stop):
		case fenceRe.MatchString(trimmed):
		case braceLineRe.MatchString(trimmed) && trimmed != "":
		case codeLineRe.MatchString(trimmed):
		case strings.HasSuffix(trimmed, "{"):
		default:
			out = append(out, strings.TrimRight(line, "\n"))
		}
	}

	cleaned := strings.Join(out, "\n")
	cleaned = collapseBlank(cleaned)
	return strings.TrimSpace(cleaned)
}

// Speech is Clean plus the fallback: when nothing survives filtering,
// the fixed Unsupported message is returned instead of empty speech.
func Speech(s string) string {
	if cleaned := Clean(s); cleaned != "" {
		return cleaned
	}
	return Unsupported
}

type span struct{ start, stop int }

// codeSegments parses src as markdown and returns the byte ranges
// covered by fenced and indented code blocks.
func codeSegments(src []byte) []span {
	root := markdown.Parser().Parse(gtext.NewReader(src))

	var spans []span
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				spans = append(spans, span{seg.Start, seg.Stop})
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return spans
}

func overlaps(spans []span, start, stop int) bool {
	for _, sp := range spans {
		if start < sp.stop && stop > sp.start {
			return true
		}
	}
	return false
}

func collapseBlank(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
