package aggregate

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"sort"
	"strings"

	"github.com/dkoeder/gleaner/internal/extract"
	"github.com/dkoeder/gleaner/internal/fetch"
	"github.com/dkoeder/gleaner/internal/models"
	"github.com/dkoeder/gleaner/internal/reddit"
)

// redditListingCap is the API's maximum listing page size.
const redditListingCap = 100

// redditAdapter turns subreddit listings into articles: selftext renders as
// markdown, galleries and image links inline, and the best comments follow
// the body.
type redditAdapter struct {
	baseAdapter
}

func newRedditAdapter(deps *Deps) *redditAdapter {
	return &redditAdapter{baseAdapter{tag: "reddit", deps: deps}}
}

func (a *redditAdapter) Validate(run *Run) error {
	if err := a.baseAdapter.Validate(run); err != nil {
		return err
	}
	if !run.Settings.RedditEnabled {
		return validationf("feed %d: owner has the Reddit integration disabled", run.Feed.ID)
	}
	if run.Settings.RedditClientID == "" || run.Settings.RedditClientSecret == "" {
		return validationf("feed %d: owner has no Reddit API credentials", run.Feed.ID)
	}
	sub := reddit.NormalizeSubreddit(run.Feed.Identifier)
	if !reddit.ValidSubreddit(sub) {
		return validationf("feed %d: %q is not a subreddit", run.Feed.ID, run.Feed.Identifier)
	}
	run.subreddit = sub
	return nil
}

// FetchSource pulls the listing, overfetching threefold so the filter and
// duplicate checks still leave enough new posts.
func (a *redditAdapter) FetchSource(ctx context.Context, run *Run) error {
	ua := run.Settings.RedditUserAgent
	if ua == "" {
		ua = a.deps.Config.Fetch.UserAgent
	}
	run.api = a.deps.Reddit.ForUser(run.Settings.UserID.String(), reddit.Credentials{
		ClientID:     run.Settings.RedditClientID,
		ClientSecret: run.Settings.RedditClientSecret,
		UserAgent:    ua,
	})

	posts, err := run.api.Listing(ctx, run.subreddit,
		run.Feed.OptString("sort", "hot"),
		overfetch(run.Limit, 3, redditListingCap))
	if err != nil {
		return fmt.Errorf("fetch subreddit: %w", err)
	}
	run.posts = posts
	return nil
}

// overfetch scales a run limit by the upstream factor, bounded by the API cap.
func overfetch(limit, factor, apiCap int) int {
	n := limit * factor
	if n > apiCap {
		return apiCap
	}
	return n
}

func (a *redditAdapter) Parse(run *Run) ([]RawArticle, error) {
	articles := make([]RawArticle, 0, len(run.posts))
	for i := range run.posts {
		post := &run.posts[i]
		link := redditPostURL(post.Permalink)
		articles = append(articles, RawArticle{
			Identifier: link,
			Title:      post.Title,
			URL:        link,
			Author:     "u/" + post.Author,
			Date:       post.CreatedAt(),
			RawContent: post.Selftext,
			post:       post,
		})
	}
	return articles, nil
}

func redditPostURL(permalink string) string {
	if strings.HasPrefix(permalink, "http") {
		return permalink
	}
	return "https://www.reddit.com" + permalink
}

// Filter drops pinned posts and bot submissions before the shared rules run.
func (a *redditAdapter) Filter(run *Run, articles []RawArticle) []RawArticle {
	kept := make([]RawArticle, 0, len(articles))
	for _, ra := range articles {
		if ra.post.Stickied || reddit.IsBotAuthor(ra.post.Author) {
			continue
		}
		kept = append(kept, ra)
	}
	return a.baseAdapter.Filter(run, kept)
}

func (a *redditAdapter) Enrich(ctx context.Context, run *Run, articles []RawArticle) []RawArticle {
	extractor := a.deps.extractor(run)

	kept := make([]RawArticle, 0, len(articles))
	for _, article := range articles {
		enriched, err := a.enrichOne(ctx, run, extractor, article)
		if err != nil {
			if fetch.IsSkip(err) {
				a.deps.Logger.Warn("aggregate: reddit refused article data, dropping",
					"feed", run.Feed.ID, "article", article.Identifier, "error", err)
			} else {
				a.deps.Logger.Warn("aggregate: reddit enrich failed, dropping",
					"feed", run.Feed.ID, "article", article.Identifier, "error", err)
			}
			continue
		}
		kept = append(kept, enriched)
	}
	return kept
}

func (a *redditAdapter) enrichOne(ctx context.Context, run *Run, extractor *extract.Extractor, article RawArticle) (RawArticle, error) {
	post := article.post
	target := post
	if cp := post.Crosspost(); cp != nil {
		target = cp
	}

	header, err := extractor.HeaderElement(ctx, headerSourceURL(article.URL, target))
	if err != nil {
		return article, err
	}
	if header != nil {
		article.Header = header.HTML
		article.HeaderImage = header.ImageURL
	}

	var parts []string
	if target.Selftext != "" {
		parts = append(parts, a.deps.Markdown.Render(target.Selftext))
	}
	if target.IsGallery {
		parts = append(parts, a.galleryBlocks(ctx, target)...)
	}
	if block := a.linkBlock(ctx, article.URL, target); block != "" {
		parts = append(parts, block)
	}

	comments, err := a.topComments(ctx, run, post)
	if err != nil {
		return article, err
	}

	article.Content = formatArticle(article, strings.Join(parts, ""), comments)
	return article, nil
}

// headerSourceURL picks the URL fed into the header strategies. Video posts
// go through the embed mirror, tweets through the linked status; everything
// else uses the post itself, which resolves to the subreddit icon.
func headerSourceURL(postURL string, target *reddit.Post) string {
	switch {
	case isVideoPost(target):
		return videoEmbedURL(postURL)
	case isTwitterLink(target.URL):
		return target.URL
	default:
		return postURL
	}
}

func isVideoPost(p *reddit.Post) bool {
	if p.IsVideo || p.Domain == "v.redd.it" {
		return true
	}
	return p.Media != nil && p.Media.RedditVideo != nil
}

// videoEmbedURL maps a post URL onto the vxreddit mirror, which serves an
// embeddable player page.
func videoEmbedURL(postURL string) string {
	u, err := url.Parse(postURL)
	if err != nil {
		return postURL
	}
	u.Host = "www.vxreddit.com"
	return u.String()
}

func isTwitterLink(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.TrimPrefix(strings.ToLower(u.Host), "www.") {
	case "twitter.com", "mobile.twitter.com", "x.com":
		return true
	}
	return false
}

// linkBlock renders the submission's external link: images inline, tweets and
// videos yield nothing (the header carries them), anything else becomes a
// plain link.
func (a *redditAdapter) linkBlock(ctx context.Context, postURL string, target *reddit.Post) string {
	link := target.URL
	if link == "" || link == postURL || strings.HasPrefix(target.Domain, "self.") {
		return ""
	}
	if isVideoPost(target) || isTwitterLink(link) {
		return ""
	}
	if target.PostHint == "image" || isImageURL(link) || target.Domain == "i.redd.it" || target.Domain == "i.imgur.com" {
		if img := a.inlineImage(ctx, link); img != "" {
			return img
		}
		return ""
	}
	escaped := html.EscapeString(link)
	return fmt.Sprintf(`<p><a href="%s">%s</a></p>`, escaped, escaped)
}

func isImageURL(rawURL string) bool {
	switch mediaExt(rawURL) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

func (a *redditAdapter) galleryBlocks(ctx context.Context, post *reddit.Post) []string {
	if post.GalleryData == nil {
		return nil
	}
	var blocks []string
	for _, item := range post.GalleryData.Items {
		meta, ok := post.MediaMeta[item.MediaID]
		if !ok || meta.Status != "valid" {
			continue
		}
		src := meta.S.U
		if meta.S.GIF != "" {
			src = meta.S.GIF
		}
		if src == "" {
			continue
		}
		if img := a.inlineImage(ctx, strings.ReplaceAll(src, "&amp;", "&")); img != "" {
			blocks = append(blocks, img)
		}
	}
	return blocks
}

// inlineImage fetches and recompresses one image. Failures drop the image,
// never the article.
func (a *redditAdapter) inlineImage(ctx context.Context, imageURL string) string {
	data, contentType, err := a.deps.Fetch.GetImage(ctx, imageURL)
	if err != nil {
		a.deps.Logger.Debug("aggregate: reddit image fetch failed", "url", imageURL, "error", err)
		return ""
	}
	res := a.deps.Images.Process(data, contentType, false)
	if res == nil {
		return ""
	}
	src := res.DataURI
	if src == "" {
		src = imageURL
	}
	return fmt.Sprintf(`<figure><img src="%s" alt=""/></figure>`, src)
}

// topComments fetches the post's comments, drops bots and pins, and keeps the
// highest-scored ones. Comments are fetched on the listing post, not the
// crosspost source.
func (a *redditAdapter) topComments(ctx context.Context, run *Run, post *reddit.Post) (string, error) {
	if !run.Feed.OptBool("include_comments", true) {
		return "", nil
	}
	limit := run.Feed.OptInt("max_comments", 5)
	if limit <= 0 {
		return "", nil
	}

	fetched, err := run.api.Comments(ctx, run.subreddit, post.ID, limit*2)
	if err != nil {
		return "", err
	}

	comments := make([]reddit.Comment, 0, len(fetched))
	for _, c := range fetched {
		if c.Stickied || reddit.IsBotAuthor(c.Author) || strings.TrimSpace(c.Body) == "" {
			continue
		}
		comments = append(comments, c)
	}
	sort.SliceStable(comments, func(i, j int) bool { return comments[i].Score > comments[j].Score })
	if len(comments) > limit {
		comments = comments[:limit]
	}

	blocks := make([]string, 0, len(comments))
	for _, c := range comments {
		blocks = append(blocks, fmt.Sprintf("<blockquote><p><strong>%s</strong> (%d points)</p>%s</blockquote>",
			html.EscapeString(c.Author), c.Score, a.deps.Markdown.Render(c.Body)))
	}
	return commentsSection(blocks), nil
}

func (a *redditAdapter) SourceURL(feed *models.Feed) string {
	return "https://www.reddit.com/r/" + reddit.NormalizeSubreddit(feed.Identifier) + "/"
}

// NormalizeIdentifier reduces any accepted form to the bare subreddit name.
func (a *redditAdapter) NormalizeIdentifier(identifier string) (string, error) {
	sub := reddit.NormalizeSubreddit(identifier)
	if !reddit.ValidSubreddit(sub) {
		return "", fmt.Errorf("%q is not a subreddit", identifier)
	}
	return sub, nil
}

func (a *redditAdapter) ConfigFields() []ConfigField {
	return append(commonConfigFields(),
		ConfigField{Key: "sort", Label: "Listing sort", Type: "string", Default: "hot"},
		ConfigField{Key: "include_comments", Label: "Include top comments", Type: "bool", Default: true},
		ConfigField{Key: "max_comments", Label: "Comments per post", Type: "int", Default: 5},
	)
}
