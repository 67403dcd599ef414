package valet

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Voice-output helpers. Everything a tool speaks goes through these:
// no markup, short lists, human-readable times.

// SpeakableText flattens markdown into plain prose suitable for
// text-to-speech. Emphasis and links reduce to their text, code blocks are
// dropped entirely (they cannot be spoken usefully), and block boundaries
// become single spaces.
func SpeakableText(md string) string {
	src := []byte(md)
	doc := goldmark.New().Parser().Parse(gmtext.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch t := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				b.Write(t.Segment.Value(src))
				if t.SoftLineBreak() || t.HardLineBreak() {
					b.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				b.Write(t.Value)
			}
		default:
			if !entering && n.Type() == ast.TypeBlock {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return collapseSpaces(b.String())
}

// SpokenList joins items into one spoken clause, capping at max and closing
// longer sets with "and N more".
func SpokenList(items []string, max int) string {
	if len(items) == 0 {
		return ""
	}
	if max <= 0 || max > len(items) {
		max = len(items)
	}
	head := strings.Join(items[:max], ", ")
	if rest := len(items) - max; rest > 0 {
		return fmt.Sprintf("%s, and %d more", head, rest)
	}
	return head
}

// HumanTime renders a timestamp the way a person would say it:
// "Thursday, November 20 at 9:00 AM".
func HumanTime(t time.Time) string {
	return t.Format("Monday, January 2 at 3:04 PM")
}

// TitleLabel normalizes a label or folder name for speech ("SENT" → "Sent").
// A fresh Caser per call: cases.Caser carries state and is not safe to share.
func TitleLabel(s string) string {
	return cases.Title(language.English).String(strings.ToLower(strings.TrimSpace(s)))
}

// SenderName extracts the display name from an RFC 5322 From value
// ("Ada Lovelace <ada@example.com>" → "Ada Lovelace"). Bare addresses come
// back unchanged.
func SenderName(from string) string {
	if i := strings.IndexByte(from, '<'); i > 0 {
		return strings.Trim(strings.TrimSpace(from[:i]), `"`)
	}
	return strings.TrimSpace(from)
}

// ReadableBody reduces an email body to speakable text. HTML bodies go
// through readability extraction; plain bodies and extraction failures fall
// back to tag stripping.
func ReadableBody(body string) string {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "<") {
		return collapseSpaces(trimmed)
	}
	// Email bodies have no source URL; readability only needs one to resolve
	// relative links, which we discard anyway.
	pageURL, _ := url.Parse("message://body")
	article, err := readability.FromReader(strings.NewReader(trimmed), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return collapseSpaces(article.TextContent)
	}
	return collapseSpaces(stripTags(trimmed))
}

// Truncate cuts s at max runes, appending an ellipsis when it was longer.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max])) + "..."
}

// stripTags removes HTML tags and entities, skipping script and style bodies.
func stripTags(content string) string {
	var b strings.Builder
	b.Grow(len(content))

	inTag := false
	skipDepth := 0 // inside <script> or <style>
	var tag strings.Builder

	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
			tag.Reset()
		case r == '>' && inTag:
			inTag = false
			var name string
			if fields := strings.Fields(tag.String()); len(fields) > 0 {
				name = strings.ToLower(strings.TrimPrefix(fields[0], "/"))
			}
			closing := strings.HasPrefix(tag.String(), "/")
			if name == "script" || name == "style" {
				if closing {
					if skipDepth > 0 {
						skipDepth--
					}
				} else {
					skipDepth++
				}
			}
			b.WriteByte(' ')
		case inTag:
			tag.WriteRune(r)
		case skipDepth == 0:
			b.WriteRune(r)
		}
	}
	return html.UnescapeString(b.String())
}

// collapseSpaces folds runs of whitespace into single spaces.
func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
