package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dkoeder/gleaner/internal/htmlutil"
)

// siteProfiles builds the adapters for the sites with pinned extraction
// rules. Selectors here track the live markup; when a site relaunches, this
// is the list to touch.
func siteAdapters(deps *Deps) []Adapter {
	profiles := []siteProfile{
		{
			tag:     "heise",
			feedURL: "https://www.heise.de/rss/heise-atom.xml",
			siteURL: "https://www.heise.de",
			feedChoices: []IdentifierChoice{
				{Value: "https://www.heise.de/rss/heise-atom.xml", Label: "Alle News"},
				{Value: "https://www.heise.de/rss/heise-top-atom.xml", Label: "Top-News"},
			},
			contentSelector: "div.article-content",
			removeSelectors: []string{
				"a-ad", "a-paid-content-teaser", ".opt-in",
				".a-toc__list", ".branding", "a-collapse",
			},
			titleBlocklist: []string{"heise+ |", "techstage |", "anzeige:"},
			urlBlocklist:   []string{"techstage.de"},
			pageURL:        heisePageURL,
			sections:       heiseComments,
		},
		{
			tag:     "merkur",
			feedURL: "https://www.merkur.de/rssfeed.rdf",
			siteURL: "https://www.merkur.de",
			contentSelector: "p.id-StoryElement-leadText, p.id-StoryElement-paragraph, " +
				"h2.id-StoryElement-crosshead, figure.id-StoryElement-image",
			removeSelectors: []string{".id-DonaldBreadcrumb", ".id-Recommendation"},
			titleBlocklist:  []string{"anzeige:"},
			// Ippen CMS pages carry heavy tracking markup; scrub everything.
			twoPassSanitize: true,
		},
		{
			tag:     "tagesschau",
			feedURL: "https://www.tagesschau.de/xml/rss2/",
			siteURL: "https://www.tagesschau.de",
			feedChoices: []IdentifierChoice{
				{Value: "https://www.tagesschau.de/xml/rss2/", Label: "RSS 2.0"},
				{Value: "https://www.tagesschau.de/xml/atom/", Label: "Atom"},
			},
			contentSelector: "article",
			removeSelectors: []string{
				".teaser-absatz", ".taglist", ".metatextline",
				".seitenfuss", ".sendungsbezug",
			},
			process: tagesschauPlayers,
		},
		{
			tag:             "meinmmo",
			feedURL:         "https://mein-mmo.de/feed/",
			siteURL:         "https://mein-mmo.de",
			contentSelector: "div.gp-entry-content",
			removeSelectors: []string{
				".gp-related-posts", ".gp-entry-meta", ".code-block",
				".heateor_sss_sharing_container",
			},
			titleBlocklist: []string{"anzeige:", "deals:"},
			body:           meinMMOBody,
		},
		{
			tag:             "caschy",
			feedURL:         "https://stadt-bremerhaven.de/feed/",
			siteURL:         "https://stadt-bremerhaven.de",
			contentSelector: "div.entry-content",
			removeSelectors: []string{
				".google-auto-placed", ".adsbygoogle", "ins",
				".sharedaddy", ".wp-embedded-content",
			},
			titleBlocklist: []string{"anzeige:"},
		},
		{
			tag:             "darklegacy",
			feedURL:         "https://www.darklegacycomics.com/feed.xml",
			siteURL:         "https://www.darklegacycomics.com",
			contentSelector: "img.comic",
			noHeader:        true,
		},
		{
			tag:             "explosm",
			feedURL:         "https://explosm.net/rss.xml",
			siteURL:         "https://explosm.net",
			contentSelector: "img#main-comic",
			noHeader:        true,
		},
		{
			tag:             "oglaf",
			feedURL:         "https://www.oglaf.com/feeds/rss/",
			siteURL:         "https://www.oglaf.com",
			contentSelector: "img#strip",
			noHeader:        true,
		},
		{
			tag:             "mactechnews",
			feedURL:         "https://www.mactechnews.de/news/feed.rss",
			siteURL:         "https://www.mactechnews.de",
			contentSelector: "div.article-text",
			removeSelectors: []string{".teaser", ".adv", ".gallery-nav"},
		},
	}

	adapters := make([]Adapter, 0, len(profiles))
	for _, p := range profiles {
		adapters = append(adapters, newSiteAdapter(deps, p))
	}
	return adapters
}

// heisePageURL requests the single-page view, so paginated articles arrive
// whole.
func heisePageURL(articleURL string) string {
	u, err := url.Parse(articleURL)
	if err != nil {
		return articleURL
	}
	q := u.Query()
	q.Set("seite", "all")
	u.RawQuery = q.Encode()
	return u.String()
}

// heiseComments follows the article's JSON-LD discussionUrl into the forum
// and renders the first posting subjects as a comments section.
func heiseComments(ctx context.Context, w *websiteAdapter, run *Run, page *goquery.Document) string {
	forumURL := jsonLDString(page, "discussionUrl")
	if forumURL == "" {
		return ""
	}

	forum, _, err := w.fetchPage(ctx, forumURL)
	if err != nil {
		w.deps.Logger.Warn("aggregate: forum fetch failed",
			"feed", run.Feed.ID, "url", forumURL, "error", err)
		return ""
	}

	limit := run.Feed.OptInt("max_comments", 5)
	var blocks []string
	forum.Find("li.posting").EachWithBreak(func(_ int, post *goquery.Selection) bool {
		subject := strings.TrimSpace(post.Find("a.posting_subject").First().Text())
		if subject == "" {
			return true
		}
		author := strings.TrimSpace(post.Find("span.pseudonym").First().Text())
		blocks = append(blocks, commentBlock(author, subject))
		return len(blocks) < limit
	})
	return commentsSection(blocks)
}

// jsonLDString finds the first string value under the given key across the
// page's JSON-LD blocks.
func jsonLDString(page *goquery.Document, key string) string {
	var found string
	page.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return true
		}
		found = findJSONString(payload, key)
		return found == ""
	})
	return found
}

func findJSONString(v any, key string) string {
	switch t := v.(type) {
	case map[string]any:
		if s, ok := t[key].(string); ok && s != "" {
			return s
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := findJSONString(t[k], key); s != "" {
				return s
			}
		}
	case []any:
		for _, child := range t {
			if s := findJSONString(child, key); s != "" {
				return s
			}
		}
	}
	return ""
}

// tagesschauPlayers converts the site's MediaPlayer placeholders into plain
// video/audio elements. The player config ships as JSON in the data-v
// attribute; placeholders without a usable stream are removed.
func tagesschauPlayers(sel *goquery.Selection) {
	sel.Find(`div[data-v-type="MediaPlayer"]`).Each(func(_ int, el *goquery.Selection) {
		raw, ok := el.Attr("data-v")
		if !ok {
			el.Remove()
			return
		}
		var payload any
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			el.Remove()
			return
		}
		src := firstMediaURL(payload)
		if src == "" {
			el.Remove()
			return
		}
		if mediaExt(src) == ".mp3" {
			el.ReplaceWithHtml(fmt.Sprintf(`<audio controls src="%s"></audio>`, html.EscapeString(src)))
		} else {
			el.ReplaceWithHtml(fmt.Sprintf(`<video controls src="%s"></video>`, html.EscapeString(src)))
		}
	})
}

// firstMediaURL walks a decoded JSON value depth-first for the first stream
// URL. Map keys are visited in sorted order to keep the pick stable.
func firstMediaURL(v any) string {
	switch t := v.(type) {
	case string:
		if isMediaURL(t) {
			return t
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := firstMediaURL(t[k]); s != "" {
				return s
			}
		}
	case []any:
		for _, child := range t {
			if s := firstMediaURL(child); s != "" {
				return s
			}
		}
	}
	return ""
}

func isMediaURL(s string) bool {
	if !strings.HasPrefix(s, "http") {
		return false
	}
	switch mediaExt(s) {
	case ".mp4", ".m3u8", ".webm", ".mp3":
		return true
	}
	return false
}

func mediaExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}

// meinMMOBody collects the article across its pages. The site paginates long
// pieces; each page repeats the content container.
func meinMMOBody(ctx context.Context, w *websiteAdapter, run *Run, article *RawArticle, page *goquery.Document) (*goquery.Selection, error) {
	selector := w.profile.contentSelector

	first := page.Find(selector)
	if first.Length() == 0 {
		return nil, fmt.Errorf("content selector %q matched nothing", selector)
	}
	parts := make([]string, 0, 2)
	part, err := renderSelection(first)
	if err != nil {
		return nil, err
	}
	parts = append(parts, part)

	for _, pageURL := range paginationLinks(page, article.URL) {
		extra, _, err := w.fetchPage(ctx, pageURL)
		if err != nil {
			w.deps.Logger.Warn("aggregate: article page fetch failed",
				"feed", run.Feed.ID, "url", pageURL, "error", err)
			continue
		}
		part, err := renderSelection(extra.Find(selector))
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}

	combined, err := htmlutil.Parse(strings.Join(parts, ""))
	if err != nil {
		return nil, err
	}
	return combined.Find("body > *"), nil
}

// meinMMOPagination lists the nav containers the theme has used over time.
var meinMMOPagination = []string{
	"nav.navigation.pagination",
	"div.gp-pagination",
	"ul.page-numbers",
}

// paginationLinks returns the additional page URLs of a paginated article, in
// document order, without the page currently loaded.
func paginationLinks(page *goquery.Document, articleURL string) []string {
	var nav *goquery.Selection
	for _, s := range meinMMOPagination {
		if found := page.Find(s).First(); found.Length() > 0 {
			nav = found
			break
		}
	}
	if nav == nil {
		return nil
	}

	seen := map[string]bool{articleURL: true}
	var links []string
	nav.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		abs := absoluteURL(articleURL, href)
		if seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})
	return links
}

// commentBlock renders one comment; the author may be empty.
func commentBlock(author, text string) string {
	if author == "" {
		return "<blockquote><p>" + html.EscapeString(text) + "</p></blockquote>"
	}
	return "<blockquote><p><strong>" + html.EscapeString(author) + "</strong>: " +
		html.EscapeString(text) + "</p></blockquote>"
}

// commentsSection wraps rendered comment blocks for the document shell.
func commentsSection(blocks []string) string {
	if len(blocks) == 0 {
		return ""
	}
	return `<section class="comments"><h2>Comments</h2>` + strings.Join(blocks, "") + `</section>`
}
