package aggregate

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/dkoeder/gleaner/internal/extract"
)

// podcastAdapter handles audio feeds: episodes need an audio enclosure, and
// the body is built from the player, the show notes, and the artwork.
type podcastAdapter struct {
	rssAdapter
}

func newPodcastAdapter(deps *Deps) *podcastAdapter {
	return &podcastAdapter{rssAdapter{baseAdapter{tag: "podcast", deps: deps}}}
}

// Filter drops entries without an audio enclosure before the shared rules
// run.
func (a *podcastAdapter) Filter(run *Run, articles []RawArticle) []RawArticle {
	kept := make([]RawArticle, 0, len(articles))
	for _, ra := range articles {
		if audioEnclosure(ra.item) == nil {
			a.deps.Logger.Debug("aggregate: entry without audio enclosure skipped",
				"feed", run.Feed.ID, "entry", ra.Identifier)
			continue
		}
		kept = append(kept, ra)
	}
	return a.baseAdapter.Filter(run, kept)
}

// Enrich assembles the episode document: artwork, player, download line,
// show notes. Episodes keep their plain content when the artwork fails.
func (a *podcastAdapter) Enrich(ctx context.Context, run *Run, articles []RawArticle) []RawArticle {
	embeds := extract.NewEmbedRewriter(a.deps.Config.Extract, a.deps.Config.Reddit.EmbedBase)

	for i := range articles {
		body, err := a.episodeBody(ctx, run, embeds, &articles[i])
		if err != nil {
			a.deps.Logger.Warn("aggregate: episode enrich failed, keeping plain content",
				"feed", run.Feed.ID, "article", articles[i].Identifier, "error", err)
			continue
		}
		articles[i].Content = formatArticle(articles[i], body, "")
	}
	return articles
}

func (a *podcastAdapter) episodeBody(ctx context.Context, run *Run, embeds *extract.EmbedRewriter, article *RawArticle) (string, error) {
	enc := audioEnclosure(article.item)
	if enc == nil {
		return "", fmt.Errorf("episode %s lost its enclosure", article.Identifier)
	}

	var b strings.Builder

	if artwork := a.artworkElement(ctx, run, article.item); artwork != "" {
		b.WriteString(artwork)
	}

	b.WriteString(fmt.Sprintf(`<audio controls preload="none" src="%s"></audio>`,
		html.EscapeString(enc.URL)))

	line := downloadLine(run, enc, article.item)
	if line != "" {
		b.WriteString(line)
	}

	if article.Content != "" {
		notes, err := normalizeFeedContent(embeds, article.Content, "")
		if err != nil {
			return "", err
		}
		b.WriteString(notes)
	}

	return b.String(), nil
}

// artworkElement inlines the episode or show artwork, capped to the
// configured display width.
func (a *podcastAdapter) artworkElement(ctx context.Context, run *Run, item *gofeed.Item) string {
	artURL := artworkURL(item, run.parsedFeed)
	if artURL == "" {
		return ""
	}

	data, contentType, err := a.deps.Fetch.GetImage(ctx, artURL)
	if err != nil {
		a.deps.Logger.Debug("aggregate: artwork fetch failed",
			"feed", run.Feed.ID, "url", artURL, "error", err)
		return ""
	}
	res := a.deps.Images.Process(data, contentType, true)
	if res == nil {
		return ""
	}

	src := res.DataURI
	if src == "" {
		src = artURL
	}
	maxWidth := run.Feed.OptInt("artwork_max_width", 300)
	return fmt.Sprintf(`<figure><img src="%s" alt="" style="max-width:%dpx;width:100%%;height:auto;"/></figure>`,
		src, maxWidth)
}

func artworkURL(item *gofeed.Item, feed *gofeed.Feed) string {
	if item != nil {
		if item.ITunesExt != nil && item.ITunesExt.Image != "" {
			return item.ITunesExt.Image
		}
		if item.Image != nil && item.Image.URL != "" {
			return item.Image.URL
		}
	}
	if feed != nil {
		if feed.ITunesExt != nil && feed.ITunesExt.Image != "" {
			return feed.ITunesExt.Image
		}
		if feed.Image != nil && feed.Image.URL != "" {
			return feed.Image.URL
		}
	}
	return ""
}

func downloadLine(run *Run, enc *gofeed.Enclosure, item *gofeed.Item) string {
	var parts []string
	if run.Feed.OptBool("show_download", true) {
		parts = append(parts, fmt.Sprintf(`<a href="%s" download>Download episode</a>`,
			html.EscapeString(enc.URL)))
	}
	if item != nil && item.ITunesExt != nil {
		if d, ok := parseITunesDuration(item.ITunesExt.Duration); ok {
			parts = append(parts, "Duration "+formatDuration(d))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return `<p class="episode-meta">` + strings.Join(parts, " &middot; ") + "</p>"
}

func audioEnclosure(item *gofeed.Item) *gofeed.Enclosure {
	if item == nil {
		return nil
	}
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if strings.HasPrefix(enc.Type, "audio/") || (enc.Type == "" && looksLikeAudio(enc.URL)) {
			return enc
		}
	}
	return nil
}

func looksLikeAudio(rawURL string) bool {
	switch mediaExt(rawURL) {
	case ".mp3", ".m4a", ".ogg", ".opus", ".aac", ".flac":
		return true
	}
	return false
}

// parseITunesDuration accepts the three shapes feeds use: plain seconds,
// MM:SS, and HH:MM:SS.
func parseITunesDuration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}

	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, true
}

func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	h := total / 3600
	m := total % 3600 / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func (a *podcastAdapter) ConfigFields() []ConfigField {
	return append(commonConfigFields(),
		ConfigField{Key: "artwork_max_width", Label: "Artwork display width in pixels", Type: "int", Default: 300},
		ConfigField{Key: "show_download", Label: "Show a download link", Type: "bool", Default: true},
	)
}
