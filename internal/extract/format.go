package extract

import (
	"html"
	"strings"
	"time"
)

// dateLayout is the human-readable timestamp shown in the metadata line.
const dateLayout = "02.01.2006 15:04"

// Document carries everything the content formatter assembles into the final
// stored article body.
type Document struct {
	Title    string
	URL      string
	Author   string
	Date     *time.Time
	Header   string // header element HTML, optional
	Body     string // cleaned body HTML
	Comments string // extra section injected between body and footer, optional
}

// Format renders the canonical article layout: a header with the optional
// header element, title, and metadata line, the body section, any injected
// comments, and a source footer. The metadata line is omitted when both
// author and date are absent.
func Format(d Document) string {
	var b strings.Builder

	b.WriteString("<header>")
	if d.Header != "" {
		b.WriteString(d.Header)
	}
	b.WriteString("<h1>")
	b.WriteString(html.EscapeString(d.Title))
	b.WriteString("</h1>")
	if meta := metadataLine(d.Author, d.Date); meta != "" {
		b.WriteString(meta)
	}
	b.WriteString("</header>")

	b.WriteString(`<section class="article-content">`)
	b.WriteString(d.Body)
	b.WriteString("</section>")

	if d.Comments != "" {
		b.WriteString(d.Comments)
	}

	b.WriteString(`<footer><p>Source: <a href="`)
	b.WriteString(html.EscapeString(d.URL))
	b.WriteString(`">`)
	b.WriteString(html.EscapeString(d.URL))
	b.WriteString("</a></p></footer>")

	return b.String()
}

func metadataLine(author string, date *time.Time) string {
	author = strings.TrimSpace(author)
	if author == "" && date == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<p class="metadata">`)
	if author != "" {
		b.WriteString(html.EscapeString(author))
	}
	if date != nil {
		if author != "" {
			b.WriteString(" | ")
		}
		b.WriteString(`<time datetime="`)
		b.WriteString(date.Format(time.RFC3339))
		b.WriteString(`">`)
		b.WriteString(date.Format(dateLayout))
		b.WriteString("</time>")
	}
	b.WriteString("</p>")
	return b.String()
}
