package extract

import (
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dkoeder/gleaner/internal/config"
)

// EmbedRewriter rewrites third-party embeds inside article bodies so nothing
// loads from the original platform: YouTube iframes go through the local
// proxy, tweets through the fxtwitter mirror, Reddit posts through the
// configured embed host.
type EmbedRewriter struct {
	cfg             config.ExtractConfig
	redditEmbedBase string
}

// NewEmbedRewriter creates an EmbedRewriter. redditEmbedBase is the host
// serving Reddit's embed pages (config.RedditConfig.EmbedBase).
func NewEmbedRewriter(cfg config.ExtractConfig, redditEmbedBase string) *EmbedRewriter {
	return &EmbedRewriter{cfg: cfg, redditEmbedBase: strings.TrimRight(redditEmbedBase, "/")}
}

// ProxyYouTubeIframes replaces every iframe whose src is a YouTube URL with
// the proxy element. Iframes already pointing at the proxy are untouched.
func (r *EmbedRewriter) ProxyYouTubeIframes(sel *goquery.Selection) {
	sel.Find("iframe").Each(func(_ int, frame *goquery.Selection) {
		src, ok := frame.Attr("src")
		if !ok {
			return
		}
		if id := VideoID(src); id != "" {
			frame.ReplaceWithHtml(YouTubeElement(r.cfg, id))
		}
	})
}

// RewriteFigures classifies WordPress embed figures by their provider class
// and rewrites each through the matching handler.
func (r *EmbedRewriter) RewriteFigures(sel *goquery.Selection) {
	sel.Find("figure").Each(func(_ int, fig *goquery.Selection) {
		class := fig.AttrOr("class", "")
		switch {
		case strings.Contains(class, "wp-block-embed-youtube") || strings.Contains(class, "is-provider-youtube"):
			r.rewriteYouTubeFigure(fig)
		case strings.Contains(class, "wp-block-embed-twitter") || strings.Contains(class, "is-provider-twitter"):
			r.rewriteTwitterFigure(fig)
		case strings.Contains(class, "wp-block-embed-reddit") || strings.Contains(class, "is-provider-reddit"):
			r.rewriteRedditFigure(fig)
		}
	})
}

func (r *EmbedRewriter) rewriteYouTubeFigure(fig *goquery.Selection) {
	if id := VideoID(fig.Find("iframe").AttrOr("src", "")); id != "" {
		fig.ReplaceWithHtml(YouTubeElement(r.cfg, id))
		return
	}
	var id string
	fig.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		id = VideoID(a.AttrOr("href", ""))
		return id == ""
	})
	if id != "" {
		fig.ReplaceWithHtml(YouTubeElement(r.cfg, id))
	}
}

func (r *EmbedRewriter) rewriteTwitterFigure(fig *goquery.Selection) {
	tweetURL := firstLink(fig, func(href string) bool {
		return isTwitterStatusURL(href)
	})
	if tweetURL == "" {
		return
	}
	mirror := RewriteTwitterURL(r.cfg, tweetURL)
	text := strings.TrimSpace(fig.Find("blockquote").First().Text())

	var b strings.Builder
	b.WriteString("<blockquote>")
	if text != "" {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(text))
		b.WriteString("</p>")
	}
	b.WriteString(`<p><a href="`)
	b.WriteString(html.EscapeString(mirror))
	b.WriteString(`">`)
	b.WriteString(html.EscapeString(tweetURL))
	b.WriteString("</a></p></blockquote>")
	fig.ReplaceWithHtml(b.String())
}

func (r *EmbedRewriter) rewriteRedditFigure(fig *goquery.Selection) {
	postURL := firstLink(fig, func(href string) bool {
		return redditPostRe.MatchString(href)
	})
	if postURL == "" {
		return
	}
	if embed := r.redditEmbedURL(postURL); embed != "" {
		fig.ReplaceWithHtml(EmbedIframe(embed))
	}
}

// redditEmbedURL maps a reddit.com post URL onto the embed host with
// ?embed=true.
func (r *EmbedRewriter) redditEmbedURL(postURL string) string {
	if r.redditEmbedBase == "" {
		return ""
	}
	u, err := url.Parse(postURL)
	if err != nil {
		return ""
	}
	base, err := url.Parse(r.redditEmbedBase)
	if err != nil {
		return ""
	}
	u.Scheme = base.Scheme
	u.Host = base.Host
	q := u.Query()
	q.Set("embed", "true")
	u.RawQuery = q.Encode()
	return u.String()
}

func isTwitterStatusURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	switch host {
	case "twitter.com", "mobile.twitter.com", "x.com":
		return strings.Contains(u.Path, "/status/")
	}
	return false
}

func firstLink(sel *goquery.Selection, match func(string) bool) string {
	var found string
	sel.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href != "" && match(href) {
			found = href
			return false
		}
		return true
	})
	return found
}
