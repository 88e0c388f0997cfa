package aggregate

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/dkoeder/gleaner/internal/models"
	"github.com/dkoeder/gleaner/internal/youtube"
)

// youtubeListingCap is the API's maximum page size for playlist and search
// requests.
const youtubeListingCap = 50

var bareURLRe = regexp.MustCompile(`https?://[^\s]+`)

// youtubeAdapter turns channel uploads into articles: the header is the
// proxied player, the body is the full description plus the top comments.
type youtubeAdapter struct {
	baseAdapter
}

func newYouTubeAdapter(deps *Deps) *youtubeAdapter {
	return &youtubeAdapter{baseAdapter{tag: "youtube", deps: deps}}
}

func (a *youtubeAdapter) Validate(run *Run) error {
	if err := a.baseAdapter.Validate(run); err != nil {
		return err
	}
	if !run.Settings.YouTubeEnabled {
		return validationf("feed %d: owner has the YouTube integration disabled", run.Feed.ID)
	}
	if run.Settings.YouTubeAPIKey == "" {
		return validationf("feed %d: owner has no YouTube API key", run.Feed.ID)
	}
	return nil
}

// FetchSource resolves the channel and lists its newest uploads, preferring
// the uploads playlist over the costlier search endpoint.
func (a *youtubeAdapter) FetchSource(ctx context.Context, run *Run) error {
	run.apiKey = run.Settings.YouTubeAPIKey

	channelID, err := a.deps.YouTube.ResolveChannel(ctx, run.apiKey, run.Feed.Identifier)
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}

	limit := overfetch(run.Limit, 2, youtubeListingCap)

	playlist, err := a.deps.YouTube.UploadsPlaylist(ctx, run.apiKey, channelID)
	if err != nil {
		return fmt.Errorf("uploads playlist: %w", err)
	}
	var videos []youtube.Video
	if playlist != "" {
		videos, err = a.deps.YouTube.PlaylistVideos(ctx, run.apiKey, playlist, limit)
		if err != nil {
			a.deps.Logger.Warn("aggregate: uploads playlist failed, falling back to search",
				"feed", run.Feed.ID, "playlist", playlist, "error", err)
		}
	}
	if len(videos) == 0 {
		videos, err = a.deps.YouTube.SearchVideos(ctx, run.apiKey, channelID, limit)
		if err != nil {
			return fmt.Errorf("search videos: %w", err)
		}
	}

	run.videos = videos
	return nil
}

func (a *youtubeAdapter) Parse(run *Run) ([]RawArticle, error) {
	articles := make([]RawArticle, 0, len(run.videos))
	for i := range run.videos {
		v := &run.videos[i]
		link := youtube.WatchURL(v.ID)
		articles = append(articles, RawArticle{
			Identifier: link,
			Title:      v.Title,
			URL:        link,
			Author:     v.ChannelTitle,
			Date:       v.Published,
			RawContent: v.Description,
			video:      v,
		})
	}
	return articles, nil
}

// Enrich swaps the truncated listing descriptions for the full ones, attaches
// the proxied player, and appends the top comments. A failed lookup keeps the
// article with what the listing provided.
func (a *youtubeAdapter) Enrich(ctx context.Context, run *Run, articles []RawArticle) []RawArticle {
	extractor := a.deps.extractor(run)

	details := a.videoDetails(ctx, run, articles)

	kept := make([]RawArticle, 0, len(articles))
	for _, article := range articles {
		v := article.video
		description := v.Description
		if full, ok := details[v.ID]; ok && full.Description != "" {
			description = full.Description
		}

		header, err := extractor.HeaderElement(ctx, article.URL)
		if err != nil {
			a.deps.Logger.Warn("aggregate: header element failed, dropping",
				"feed", run.Feed.ID, "article", article.Identifier, "error", err)
			continue
		}
		if header != nil {
			article.Header = header.HTML
			article.HeaderImage = header.ImageURL
		}

		article.RawContent = description
		article.Content = formatArticle(article, plainTextHTML(description), a.videoComments(ctx, run, v.ID))
		kept = append(kept, article)
	}
	return kept
}

func (a *youtubeAdapter) videoDetails(ctx context.Context, run *Run, articles []RawArticle) map[string]youtube.Video {
	ids := make([]string, 0, len(articles))
	for _, article := range articles {
		ids = append(ids, article.video.ID)
	}
	details, err := a.deps.YouTube.VideoDetails(ctx, run.apiKey, ids)
	if err != nil {
		a.deps.Logger.Warn("aggregate: video details failed, using listing snippets",
			"feed", run.Feed.ID, "error", err)
		return nil
	}
	return details
}

func (a *youtubeAdapter) videoComments(ctx context.Context, run *Run, videoID string) string {
	if !run.Feed.OptBool("include_comments", true) {
		return ""
	}
	limit := run.Feed.OptInt("max_comments", 5)
	if limit <= 0 {
		return ""
	}

	comments, err := a.deps.YouTube.TopComments(ctx, run.apiKey, videoID, limit)
	if err != nil {
		a.deps.Logger.Warn("aggregate: video comments failed",
			"feed", run.Feed.ID, "video", videoID, "error", err)
		return ""
	}

	blocks := make([]string, 0, len(comments))
	for _, c := range comments {
		blocks = append(blocks, fmt.Sprintf("<blockquote><p><strong>%s</strong> (%d likes)</p>%s</blockquote>",
			html.EscapeString(c.Author), c.Likes, plainTextHTML(c.Text)))
	}
	return commentsSection(blocks)
}

// plainTextHTML renders plain text as HTML: blank lines split paragraphs,
// single newlines become breaks, bare URLs become links.
func plainTextHTML(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")

	var b strings.Builder
	for _, para := range strings.Split(s, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i, line := range lines {
			lines[i] = linkifyLine(line)
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br/>"))
		b.WriteString("</p>")
	}
	return b.String()
}

func linkifyLine(line string) string {
	var b strings.Builder
	last := 0
	for _, m := range bareURLRe.FindAllStringIndex(line, -1) {
		b.WriteString(html.EscapeString(line[last:m[0]]))
		link := html.EscapeString(line[m[0]:m[1]])
		b.WriteString(`<a href="` + link + `">` + link + `</a>`)
		last = m[1]
	}
	b.WriteString(html.EscapeString(line[last:]))
	return b.String()
}

func (a *youtubeAdapter) SourceURL(feed *models.Feed) string {
	return youtube.ChannelURL(feed.Identifier)
}

// NormalizeIdentifier strips URL decoration; the channel itself is resolved
// at run time.
func (a *youtubeAdapter) NormalizeIdentifier(identifier string) (string, error) {
	ref := youtube.ParseChannelRef(identifier)
	if ref == "" {
		return "", fmt.Errorf("%q is not a channel reference", identifier)
	}
	return ref, nil
}

func (a *youtubeAdapter) ConfigFields() []ConfigField {
	return append(commonConfigFields(),
		ConfigField{Key: "include_comments", Label: "Include top comments", Type: "bool", Default: true},
		ConfigField{Key: "max_comments", Label: "Comments per video", Type: "int", Default: 5},
	)
}
