package aggregate

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dkoeder/gleaner/internal/extract"
	"github.com/dkoeder/gleaner/internal/fetch"
	"github.com/dkoeder/gleaner/internal/htmlutil"
	"github.com/dkoeder/gleaner/internal/models"
)

// siteProfile pins the extraction rules for one site. Hooks left nil get the
// default single-page flow; selectors left empty fall back to feed options.
type siteProfile struct {
	tag             string
	feedURL         string // default feed identifier
	siteURL         string // homepage, shown in subscription listings
	feedChoices     []IdentifierChoice
	contentSelector string
	removeSelectors []string
	titleBlocklist  []string // lowercase substrings
	urlBlocklist    []string // lowercase substrings

	// pageURL rewrites the article URL before the page load, e.g. to request
	// the single-page view.
	pageURL func(articleURL string) string
	// body replaces the default content-selector extraction.
	body func(ctx context.Context, w *websiteAdapter, run *Run, article *RawArticle, page *goquery.Document) (*goquery.Selection, error)
	// process runs a site-specific DOM pass after the remove-selectors prune.
	process func(sel *goquery.Selection)
	// sections builds extra content placed between body and footer, e.g. a
	// comments section.
	sections func(ctx context.Context, w *websiteAdapter, run *Run, page *goquery.Document) string

	// twoPassSanitize uses the aggressive attribute sanitizer instead of the
	// class rename. It also strips iframes, so embeds do not survive it.
	twoPassSanitize bool
	// noHeader skips the header element; comic sites keep the strip as the
	// body, and a header would duplicate it.
	noHeader bool
}

// websiteAdapter drives full-website sources: the feed supplies titles and
// links, the article body comes from the page itself.
type websiteAdapter struct {
	rssAdapter
	profile siteProfile
}

func newSiteAdapter(deps *Deps, profile siteProfile) *websiteAdapter {
	return &websiteAdapter{
		rssAdapter: rssAdapter{baseAdapter{tag: profile.tag, deps: deps}},
		profile:    profile,
	}
}

// newWebsiteAdapter builds the generic full-website adapter, configured
// entirely through feed options.
func newWebsiteAdapter(deps *Deps) *websiteAdapter {
	return newSiteAdapter(deps, siteProfile{tag: "website"})
}

func (w *websiteAdapter) Validate(run *Run) error {
	if err := w.rssAdapter.Validate(run); err != nil {
		return err
	}
	if w.contentSelector(run.Feed) == "" {
		return validationf("feed %d needs a content_selector option", run.Feed.ID)
	}
	return nil
}

func (w *websiteAdapter) contentSelector(feed *models.Feed) string {
	if w.profile.contentSelector != "" {
		return w.profile.contentSelector
	}
	return feed.OptString("content_selector", "")
}

func (w *websiteAdapter) removeList(feed *models.Feed) []string {
	out := append([]string(nil), w.profile.removeSelectors...)
	return append(out, optStrings(feed, "selectors_to_remove")...)
}

// optStrings reads a list option that may arrive as a JSON array or as a
// comma-separated string.
func optStrings(feed *models.Feed, key string) []string {
	raw, ok := feed.Options[key]
	if !ok {
		return nil
	}
	var out []string
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Filter drops blocklisted entries before the shared age filter runs.
func (w *websiteAdapter) Filter(run *Run, articles []RawArticle) []RawArticle {
	kept := make([]RawArticle, 0, len(articles))
	for _, a := range articles {
		if w.blocked(a) {
			continue
		}
		kept = append(kept, a)
	}
	return w.baseAdapter.Filter(run, kept)
}

func (w *websiteAdapter) blocked(a RawArticle) bool {
	title := strings.ToLower(a.Title)
	for _, frag := range w.profile.titleBlocklist {
		if strings.Contains(title, frag) {
			return true
		}
	}
	link := strings.ToLower(a.URL)
	for _, frag := range w.profile.urlBlocklist {
		if strings.Contains(link, frag) {
			return true
		}
	}
	return false
}

// Enrich loads each article's page and extracts its body. An item whose page
// cannot be fetched or whose content cannot be found is dropped; the run
// continues with the rest.
func (w *websiteAdapter) Enrich(ctx context.Context, run *Run, articles []RawArticle) []RawArticle {
	extractor := w.deps.extractor(run)
	embeds := extract.NewEmbedRewriter(w.deps.Config.Extract, w.deps.Config.Reddit.EmbedBase)

	kept := make([]RawArticle, 0, len(articles))
	for _, article := range articles {
		enriched, err := w.enrichOne(ctx, run, extractor, embeds, article)
		if err != nil {
			if fetch.IsSkip(err) {
				w.deps.Logger.Warn("aggregate: upstream refused article, dropping",
					"feed", run.Feed.ID, "article", article.Identifier, "error", err)
			} else {
				w.deps.Logger.Warn("aggregate: page extraction failed, dropping",
					"feed", run.Feed.ID, "article", article.Identifier, "error", err)
			}
			continue
		}
		kept = append(kept, enriched)
	}
	return kept
}

func (w *websiteAdapter) enrichOne(ctx context.Context, run *Run, extractor *extract.Extractor, embeds *extract.EmbedRewriter, article RawArticle) (RawArticle, error) {
	if !w.profile.noHeader {
		header, err := extractor.HeaderElement(ctx, article.URL)
		if err != nil {
			return article, err
		}
		if header != nil {
			article.Header = header.HTML
			article.HeaderImage = header.ImageURL
		}
	}

	pageURL := article.URL
	if w.profile.pageURL != nil {
		pageURL = w.profile.pageURL(pageURL)
	}
	page, raw, err := w.fetchPage(ctx, pageURL)
	if err != nil {
		return article, err
	}
	article.RawContent = raw

	var sel *goquery.Selection
	if w.profile.body != nil {
		sel, err = w.profile.body(ctx, w, run, &article, page)
	} else {
		sel, err = w.selectContent(run.Feed, page)
	}
	if err != nil {
		return article, err
	}

	w.processBody(ctx, run, embeds, sel, article.URL, article.HeaderImage)

	body, err := renderSelection(sel)
	if err != nil {
		return article, err
	}

	var comments string
	if w.profile.sections != nil {
		comments = w.profile.sections(ctx, w, run, page)
	}

	article.Content = formatArticle(article, body, comments)
	return article, nil
}

func (w *websiteAdapter) fetchPage(ctx context.Context, pageURL string) (*goquery.Document, string, error) {
	page, err := w.deps.Scraper.Page(ctx, pageURL)
	if err != nil {
		return nil, "", err
	}
	doc, err := htmlutil.Parse(page.RawHTML)
	if err != nil {
		return nil, "", fmt.Errorf("parse page %s: %w", pageURL, err)
	}
	return doc, page.RawHTML, nil
}

// selectContent returns every match of the content selector; multi-element
// selectors collect the article in document order.
func (w *websiteAdapter) selectContent(feed *models.Feed, page *goquery.Document) (*goquery.Selection, error) {
	selector := w.contentSelector(feed)
	sel := page.Find(selector)
	if sel.Length() == 0 {
		return nil, fmt.Errorf("content selector %q matched nothing", selector)
	}
	return sel, nil
}

// processBody runs the shared cleanup chain on an extracted body.
func (w *websiteAdapter) processBody(ctx context.Context, run *Run, embeds *extract.EmbedRewriter, sel *goquery.Selection, baseURL, headerImage string) {
	htmlutil.RemoveSelectors(sel, w.removeList(run.Feed))
	if w.profile.process != nil {
		w.profile.process(sel)
	}
	embeds.RewriteFigures(sel)
	embeds.ProxyYouTubeIframes(sel)
	if headerImage != "" {
		htmlutil.RemoveImageByURL(sel, headerImage)
	}
	w.inlineBodyImages(ctx, sel, baseURL)
	if w.profile.twoPassSanitize {
		htmlutil.SanitizeAttributes(sel, nil)
		htmlutil.RemoveSanitizedAttributes(sel)
	} else {
		htmlutil.CleanDataAttributes(sel, nil)
		htmlutil.SanitizeClassNames(sel)
	}
	htmlutil.RemoveEmptyElements(sel, "p", "div", "span", "figure")
}

// inlineBodyImages recompresses body images into data URIs so stored articles
// render without loading from the source site. An image that cannot be
// fetched keeps its original URL; one the image service rejects (trackers,
// broken files) is removed.
func (w *websiteAdapter) inlineBodyImages(ctx context.Context, sel *goquery.Selection, baseURL string) {
	sel.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := bodyImageSource(img)
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		abs := absoluteURL(baseURL, src)

		data, contentType, err := w.deps.Fetch.GetImage(ctx, abs)
		if err != nil {
			w.deps.Logger.Debug("aggregate: body image fetch failed, keeping URL",
				"src", abs, "error", err)
			img.SetAttr("src", abs)
			return
		}

		res := w.deps.Images.Process(data, contentType, false)
		if res == nil {
			img.Remove()
			return
		}
		if res.DataURI != "" {
			img.SetAttr("src", res.DataURI)
		} else {
			img.SetAttr("src", abs)
		}
		img.RemoveAttr("srcset")
		img.RemoveAttr("data-src")
		img.RemoveAttr("data-srcset")
	})
}

// bodyImageSource prefers the lazy-loading attribute, which carries the real
// image URL when src is a placeholder.
func bodyImageSource(img *goquery.Selection) string {
	if src := strings.TrimSpace(img.AttrOr("data-src", "")); src != "" {
		return src
	}
	return strings.TrimSpace(img.AttrOr("src", ""))
}

func absoluteURL(baseURL, ref string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

// renderSelection serializes every node of the selection, so multi-fragment
// bodies (paginated articles) concatenate cleanly.
func renderSelection(sel *goquery.Selection) (string, error) {
	var b strings.Builder
	for i := range sel.Nodes {
		out, err := goquery.OuterHtml(sel.Eq(i))
		if err != nil {
			return "", fmt.Errorf("render content: %w", err)
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

func (w *websiteAdapter) SourceURL(feed *models.Feed) string {
	if w.profile.siteURL != "" {
		return w.profile.siteURL
	}
	return feed.Identifier
}

func (w *websiteAdapter) IdentifierChoices() []IdentifierChoice {
	return w.profile.feedChoices
}

func (w *websiteAdapter) DefaultIdentifier() string {
	return w.profile.feedURL
}

func (w *websiteAdapter) ConfigFields() []ConfigField {
	fields := commonConfigFields()
	if w.profile.contentSelector == "" {
		fields = append(fields,
			ConfigField{Key: "content_selector", Label: "CSS selector of the article content", Type: "string", Default: ""},
			ConfigField{Key: "selectors_to_remove", Label: "Selectors pruned from the content (comma-separated)", Type: "string", Default: ""},
		)
	}
	return fields
}
