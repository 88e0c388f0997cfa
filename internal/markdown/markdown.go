// Package markdown renders Reddit-flavored markdown to sanitized HTML.
// It covers the CommonMark subset Reddit actually emits in selftext and
// comments, plus the Reddit extensions: spoilers, superscript,
// strikethrough, and r/ and u/ auto-linking.
package markdown

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	bulletRe    = regexp.MustCompile(`^\s{0,3}[-*+]\s+(.*)$`)
	orderedRe   = regexp.MustCompile(`^\s{0,3}\d+[.)]\s+(.*)$`)
	ruleRe      = regexp.MustCompile(`^\s{0,3}(-{3,}|\*{3,}|_{3,})\s*$`)
	tableRowRe  = regexp.MustCompile(`^\s*\|(.+)\|\s*$`)
	tableSepRe  = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?\s*$`)
	quoteRe     = regexp.MustCompile(`^\s{0,3}>\s?(.*)$`)
	codeFenceRe = regexp.MustCompile("^\\s*```")

	inlineCodeRe = regexp.MustCompile("`([^`\n]+)`")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	autoURLRe    = regexp.MustCompile(`https?://[^\s<>"']+`)
	subredditRe  = regexp.MustCompile(`(^|[\s(])/?(r/[A-Za-z0-9_]{2,21})`)
	userRe       = regexp.MustCompile(`(^|[\s(])/?(u/[A-Za-z0-9_-]{3,20})`)
	spoilerRe    = regexp.MustCompile(`&gt;!(.+?)!&lt;`)
	strongRe     = regexp.MustCompile(`\*\*(.+?)\*\*|__(.+?)__`)
	emRe         = regexp.MustCompile(`\*([^*\n]+)\*|\b_([^_\n]+)_\b`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	supParenRe   = regexp.MustCompile(`\^\(([^)]+)\)`)
	supWordRe    = regexp.MustCompile(`\^([^\s^()<>]+)`)
)

// Renderer converts Reddit markdown to HTML and sanitizes the result.
type Renderer struct {
	policy *bluemonday.Policy
}

// NewRenderer creates a Renderer with a UGC sanitization policy extended by
// the elements the Reddit dialect needs.
func NewRenderer() *Renderer {
	p := bluemonday.UGCPolicy()
	p.AllowElements("sup", "del", "table", "thead", "tbody", "tr", "th", "td")
	p.AllowAttrs("class").OnElements("span")
	p.RequireNoFollowOnLinks(true)
	return &Renderer{policy: p}
}

// Render converts one markdown document to sanitized HTML.
func (r *Renderer) Render(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	return r.policy.Sanitize(renderBlocks(strings.Split(normalizeNewlines(src), "\n")))
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}

func renderBlocks(lines []string) string {
	var out strings.Builder

	for i := 0; i < len(lines); {
		line := lines[i]

		switch {
		case strings.TrimSpace(line) == "":
			i++

		case codeFenceRe.MatchString(line):
			var code []string
			i++
			for i < len(lines) && !codeFenceRe.MatchString(lines[i]) {
				code = append(code, lines[i])
				i++
			}
			if i < len(lines) {
				i++ // closing fence
			}
			out.WriteString("<pre><code>" + html.EscapeString(strings.Join(code, "\n")) + "</code></pre>\n")

		case headingRe.MatchString(line):
			m := headingRe.FindStringSubmatch(line)
			level := len(m[1])
			out.WriteString(fmt.Sprintf("<h%d>%s</h%d>\n", level, renderInline(m[2]), level))
			i++

		case ruleRe.MatchString(line):
			out.WriteString("<hr/>\n")
			i++

		case isQuoteLine(line):
			var inner []string
			for i < len(lines) && isQuoteLine(lines[i]) {
				inner = append(inner, quoteRe.FindStringSubmatch(lines[i])[1])
				i++
			}
			out.WriteString("<blockquote>" + renderBlocks(inner) + "</blockquote>\n")

		case bulletRe.MatchString(line):
			out.WriteString("<ul>\n")
			for i < len(lines) && bulletRe.MatchString(lines[i]) {
				out.WriteString("<li>" + renderInline(bulletRe.FindStringSubmatch(lines[i])[1]) + "</li>\n")
				i++
			}
			out.WriteString("</ul>\n")

		case orderedRe.MatchString(line):
			out.WriteString("<ol>\n")
			for i < len(lines) && orderedRe.MatchString(lines[i]) {
				out.WriteString("<li>" + renderInline(orderedRe.FindStringSubmatch(lines[i])[1]) + "</li>\n")
				i++
			}
			out.WriteString("</ol>\n")

		case tableRowRe.MatchString(line) && i+1 < len(lines) && tableSepRe.MatchString(lines[i+1]):
			header := splitTableRow(line)
			i += 2
			var rows [][]string
			for i < len(lines) && tableRowRe.MatchString(lines[i]) {
				rows = append(rows, splitTableRow(lines[i]))
				i++
			}
			out.WriteString(renderTable(header, rows))

		default:
			var para []string
			for i < len(lines) && strings.TrimSpace(lines[i]) != "" && !isBlockStart(lines[i]) {
				para = append(para, strings.TrimRight(lines[i], " "))
				i++
			}
			if len(para) == 0 {
				// A block-start line that fell through; consume it as text.
				para = append(para, lines[i])
				i++
			}
			rendered := make([]string, len(para))
			for j, p := range para {
				rendered[j] = renderInline(p)
			}
			out.WriteString("<p>" + strings.Join(rendered, "<br/>") + "</p>\n")
		}
	}
	return out.String()
}

// isBlockStart reports whether a line opens a non-paragraph block, ending
// the current paragraph.
func isBlockStart(line string) bool {
	return headingRe.MatchString(line) ||
		isQuoteLine(line) ||
		bulletRe.MatchString(line) ||
		orderedRe.MatchString(line) ||
		codeFenceRe.MatchString(line) ||
		ruleRe.MatchString(line)
}

// isQuoteLine distinguishes real blockquotes from spoiler markup, which also
// starts with ">".
func isQuoteLine(line string) bool {
	return quoteRe.MatchString(line) && !strings.HasPrefix(strings.TrimSpace(line), ">!")
}

func splitTableRow(line string) []string {
	m := tableRowRe.FindStringSubmatch(line)
	parts := strings.Split(m[1], "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

func renderTable(header []string, rows [][]string) string {
	var out strings.Builder
	out.WriteString("<table><thead><tr>")
	for _, h := range header {
		out.WriteString("<th>" + renderInline(h) + "</th>")
	}
	out.WriteString("</tr></thead><tbody>")
	for _, row := range rows {
		out.WriteString("<tr>")
		for _, c := range row {
			out.WriteString("<td>" + renderInline(c) + "</td>")
		}
		out.WriteString("</tr>")
	}
	out.WriteString("</tbody></table>\n")
	return out.String()
}

// stash holds rendered fragments out of reach of later inline passes.
type stash struct {
	items []string
}

func (s *stash) put(fragment string) string {
	s.items = append(s.items, fragment)
	return "\x00" + strconv.Itoa(len(s.items)-1) + "\x00"
}

func (s *stash) restore(text string) string {
	for i := len(s.items) - 1; i >= 0; i-- {
		text = strings.ReplaceAll(text, "\x00"+strconv.Itoa(i)+"\x00", s.items[i])
	}
	return text
}

// renderInline applies inline markdown to a single line of already
// block-classified text.
func renderInline(text string) string {
	text = html.EscapeString(text)
	var st stash

	// Code spans first so nothing inside them is reinterpreted.
	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		inner := inlineCodeRe.FindStringSubmatch(m)[1]
		return st.put("<code>" + inner + "</code>")
	})

	// Explicit links, then bare URLs, then Reddit shorthands.
	text = linkRe.ReplaceAllStringFunc(text, func(m string) string {
		g := linkRe.FindStringSubmatch(m)
		return st.put(`<a href="` + g[2] + `">` + g[1] + `</a>`)
	})
	text = autoURLRe.ReplaceAllStringFunc(text, func(m string) string {
		url, rest := splitURLTail(m)
		if url == "" {
			return m
		}
		return st.put(`<a href="`+url+`">`+url+`</a>`) + rest
	})
	text = subredditRe.ReplaceAllStringFunc(text, func(m string) string {
		g := subredditRe.FindStringSubmatch(m)
		return g[1] + st.put(`<a href="https://www.reddit.com/`+g[2]+`">`+g[2]+`</a>`)
	})
	text = userRe.ReplaceAllStringFunc(text, func(m string) string {
		g := userRe.FindStringSubmatch(m)
		return g[1] + st.put(`<a href="https://www.reddit.com/`+g[2]+`">`+g[2]+`</a>`)
	})

	text = spoilerRe.ReplaceAllString(text, `<span class="spoiler">$1</span>`)
	text = strongRe.ReplaceAllStringFunc(text, func(m string) string {
		g := strongRe.FindStringSubmatch(m)
		return "<strong>" + g[1] + g[2] + "</strong>"
	})
	text = emRe.ReplaceAllStringFunc(text, func(m string) string {
		g := emRe.FindStringSubmatch(m)
		return "<em>" + g[1] + g[2] + "</em>"
	})
	text = strikeRe.ReplaceAllString(text, "<del>$1</del>")
	text = supParenRe.ReplaceAllString(text, "<sup>$1</sup>")
	text = supWordRe.ReplaceAllString(text, "<sup>$1</sup>")

	return st.restore(text)
}

// splitURLTail cuts an auto-linked URL at the first escaped quote entity and
// strips trailing punctuation that belongs to the surrounding sentence.
func splitURLTail(m string) (url, rest string) {
	url = m
	if i := strings.Index(url, "&#3"); i >= 0 {
		rest = url[i:]
		url = url[:i]
	}
	trimmed := strings.TrimRight(url, ".,;:!?)")
	rest = url[len(trimmed):] + rest
	return trimmed, rest
}
