package aggregate

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/dkoeder/gleaner/internal/extract"
	"github.com/dkoeder/gleaner/internal/fetch"
	"github.com/dkoeder/gleaner/internal/htmlutil"
	"github.com/dkoeder/gleaner/internal/models"
)

// baseAdapter supplies the behavior shared by every source type. Concrete
// adapters embed it and override the stages that differ.
type baseAdapter struct {
	tag  string
	deps *Deps
}

func (b *baseAdapter) Tag() string { return b.tag }

// Validate checks the feed's configuration without touching the network.
func (b *baseAdapter) Validate(run *Run) error {
	if strings.TrimSpace(run.Feed.Identifier) == "" {
		return validationf("feed %d has no identifier", run.Feed.ID)
	}
	return nil
}

// Filter applies the default acceptance rules: entries older than sixty days
// are dropped, and each accepted entry gets its sort timestamp reset to the
// current time plus a small random offset, so one run's batch interleaves
// with other feeds instead of forming source-ordered blocks. The source's own
// timestamp moves to OriginalDate.
func (b *baseAdapter) Filter(run *Run, articles []RawArticle) []RawArticle {
	now := b.deps.now()
	cutoff := now.Add(-maxArticleAge)

	kept := make([]RawArticle, 0, len(articles))
	for _, a := range articles {
		if a.Date.Before(cutoff) {
			continue
		}
		a.OriginalDate = a.Date
		a.Date = now.Add(jitter())
		kept = append(kept, a)
	}
	return kept
}

func jitter() time.Duration {
	return time.Duration(rand.Intn(2*dateJitterSeconds+1)-dateJitterSeconds) * time.Second
}

// Enrich is a no-op by default; adapters that need page loads or API lookups
// override it.
func (b *baseAdapter) Enrich(_ context.Context, _ *Run, articles []RawArticle) []RawArticle {
	return articles
}

// Finalize rewrites article bodies through the owner's active AI provider
// when the feed opts in. A failed rewrite keeps the original body.
func (b *baseAdapter) Finalize(ctx context.Context, run *Run, articles []RawArticle) []RawArticle {
	if b.deps.Rewriter == nil || run.Provider == nil || !run.Feed.OptBool("rewrite_enabled", false) {
		return articles
	}
	for i := range articles {
		rewritten, err := b.deps.Rewriter.Rewrite(ctx, *run.Provider, articles[i].Title, articles[i].Content)
		if err != nil {
			b.deps.Logger.Warn("aggregate: rewrite failed, keeping original",
				"feed", run.Feed.ID, "article", articles[i].Identifier, "error", err)
			continue
		}
		articles[i].Content = rewritten
	}
	return articles
}

// SourceURL returns the feed's site link for subscription listings. The
// default assumes a URL identifier.
func (b *baseAdapter) SourceURL(feed *models.Feed) string {
	return feed.Identifier
}

func (b *baseAdapter) NormalizeIdentifier(identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", fmt.Errorf("identifier must not be empty")
	}
	return identifier, nil
}

func (b *baseAdapter) IdentifierChoices() []IdentifierChoice { return nil }

func (b *baseAdapter) DefaultIdentifier() string { return "" }

func (b *baseAdapter) ConfigFields() []ConfigField {
	return commonConfigFields()
}

func commonConfigFields() []ConfigField {
	return []ConfigField{
		{Key: "rewrite_enabled", Label: "Rewrite articles with the active AI provider", Type: "bool", Default: false},
	}
}

// requireFeedURL rejects identifiers that are not absolute http(s) URLs.
func requireFeedURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return validationf("identifier %q is not an absolute http(s) URL", raw)
	}
	return nil
}

// rssAdapter handles plain feeds: the entry content ships in the feed itself,
// enrichment only attaches a header element and normalizes the HTML.
type rssAdapter struct {
	baseAdapter
}

func newRSSAdapter(deps *Deps) *rssAdapter {
	return &rssAdapter{baseAdapter{tag: "rss", deps: deps}}
}

func (a *rssAdapter) Validate(run *Run) error {
	if err := a.baseAdapter.Validate(run); err != nil {
		return err
	}
	return requireFeedURL(run.Feed.Identifier)
}

// FetchSource downloads the feed document. Decoding happens in Parse.
func (a *rssAdapter) FetchSource(ctx context.Context, run *Run) error {
	return a.fetchFeedBody(ctx, run, run.Feed.Identifier)
}

func (a *rssAdapter) fetchFeedBody(ctx context.Context, run *Run, feedURL string) error {
	data, _, err := a.deps.Fetch.Get(ctx, feedURL)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}
	run.feedBody = data
	return nil
}

func (a *rssAdapter) Parse(run *Run) ([]RawArticle, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(run.feedBody))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	run.parsedFeed = parsed

	articles := make([]RawArticle, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		articles = append(articles, a.rawFromItem(item))
	}
	return articles, nil
}

func (a *rssAdapter) rawFromItem(item *gofeed.Item) RawArticle {
	identifier := item.GUID
	if identifier == "" {
		identifier = item.Link
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}

	// Entries without any timestamp count as fresh.
	date := a.deps.now()
	if item.PublishedParsed != nil {
		date = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		date = *item.UpdatedParsed
	}

	return RawArticle{
		Identifier: identifier,
		Title:      strings.TrimSpace(item.Title),
		URL:        item.Link,
		Author:     itemAuthor(item),
		Date:       date,
		Content:    content,
		RawContent: content,
		item:       item,
	}
}

func itemAuthor(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	if item.Author != nil {
		return item.Author.Name
	}
	return ""
}

// Enrich attaches a header element and wraps the feed-provided content in the
// standard article document. Items keep their pre-enrich content when the
// header lookup fails for transport reasons; only a definitive upstream
// refusal drops them.
func (a *rssAdapter) Enrich(ctx context.Context, run *Run, articles []RawArticle) []RawArticle {
	extractor := a.deps.extractor(run)
	embeds := extract.NewEmbedRewriter(a.deps.Config.Extract, a.deps.Config.Reddit.EmbedBase)

	kept := make([]RawArticle, 0, len(articles))
	for _, article := range articles {
		enriched, err := a.enrichOne(ctx, extractor, embeds, article)
		if err != nil {
			if fetch.IsSkip(err) {
				a.deps.Logger.Warn("aggregate: upstream refused article, dropping",
					"feed", run.Feed.ID, "article", article.Identifier, "error", err)
				continue
			}
			a.deps.Logger.Warn("aggregate: enrich failed, keeping plain content",
				"feed", run.Feed.ID, "article", article.Identifier, "error", err)
			enriched = article
		}
		kept = append(kept, enriched)
	}
	return kept
}

func (a *rssAdapter) enrichOne(ctx context.Context, extractor *extract.Extractor, embeds *extract.EmbedRewriter, article RawArticle) (RawArticle, error) {
	header, err := extractor.HeaderElement(ctx, article.URL)
	if err != nil {
		return article, err
	}
	if header != nil {
		article.Header = header.HTML
		article.HeaderImage = header.ImageURL
	}

	body, err := normalizeFeedContent(embeds, article.Content, article.HeaderImage)
	if err != nil {
		return article, err
	}

	article.Content = formatArticle(article, body, "")
	return article, nil
}

// normalizeFeedContent cleans feed-shipped HTML: comments out, YouTube
// iframes proxied, the header image deduplicated, empty wrappers dropped.
func normalizeFeedContent(embeds *extract.EmbedRewriter, content, headerImage string) (string, error) {
	cleaned, err := htmlutil.CleanHTML(content)
	if err != nil {
		return "", err
	}
	doc, err := htmlutil.Parse(cleaned)
	if err != nil {
		return "", err
	}
	embeds.ProxyYouTubeIframes(doc.Selection)
	if headerImage != "" {
		htmlutil.RemoveImageByURL(doc.Selection, headerImage)
	}
	htmlutil.RemoveEmptyElements(doc.Selection, "p", "div", "figure")
	return htmlutil.Render(doc)
}

// formatArticle wraps a body in the shared document shell.
func formatArticle(article RawArticle, body, comments string) string {
	doc := extract.Document{
		Title:    article.Title,
		URL:      article.URL,
		Author:   article.Author,
		Header:   article.Header,
		Body:     body,
		Comments: comments,
	}
	if !article.OriginalDate.IsZero() {
		d := article.OriginalDate
		doc.Date = &d
	}
	return extract.Format(doc)
}
