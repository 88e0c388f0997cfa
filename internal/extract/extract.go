// Package extract builds the header element for an article and rewrites
// third-party embeds inside article bodies.
package extract

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dkoeder/gleaner/internal/config"
	"github.com/dkoeder/gleaner/internal/fetch"
	"github.com/dkoeder/gleaner/internal/images"
)

var (
	redditEmbedRe = regexp.MustCompile(`vxreddit\.com|reddit\.com/embed|v\.redd\.it/embed`)
	redditPostRe  = regexp.MustCompile(`reddit\.com/r/([A-Za-z0-9_]+)/comments/([a-z0-9]+)`)
	videoIDRe     = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

// Header is an extracted header element. ImageURL is set when the element
// wraps an image found on the article page, so callers can strip the same
// image from the body.
type Header struct {
	HTML     string
	ImageURL string
}

// SubredditIconProvider supplies the icon URL of a subreddit. Implemented by
// the per-user Reddit client; nil when the user has no Reddit credentials.
type SubredditIconProvider interface {
	SubredditIcon(ctx context.Context, subreddit string) (string, error)
}

// Strategy produces a header element for article URLs it recognizes. A nil
// Header with nil error means the strategy found nothing and the next one
// should run.
type Strategy interface {
	CanHandle(articleURL string) bool
	Create(ctx context.Context, articleURL string) (*Header, error)
}

// Extractor runs the header strategy chain. The order is part of the
// contract: Reddit embeds must be recognized before Reddit post URLs, and the
// generic image strategy comes last.
type Extractor struct {
	cfg        config.ExtractConfig
	client     *fetch.Client
	images     *images.Service
	logger     *slog.Logger
	strategies []Strategy
}

// New creates an Extractor. icons may be nil; the Reddit post strategy is
// skipped then.
func New(cfg config.ExtractConfig, client *fetch.Client, svc *images.Service, icons SubredditIconProvider, logger *slog.Logger) *Extractor {
	e := &Extractor{
		cfg:    cfg,
		client: client,
		images: svc,
		logger: logger,
	}
	e.strategies = []Strategy{
		redditEmbedStrategy{cfg: cfg},
		redditPostStrategy{e: e, icons: icons},
		youtubeStrategy{cfg: cfg},
		genericStrategy{e: e},
	}
	return e
}

// HeaderElement walks the strategy chain and returns the first header it
// produces, or nil when no strategy applies. A 4xx during extraction
// propagates as a skip error so the caller drops the whole article; any other
// strategy failure is logged and the chain continues.
func (e *Extractor) HeaderElement(ctx context.Context, articleURL string) (*Header, error) {
	if !e.cfg.HeaderEnabled || articleURL == "" {
		return nil, nil
	}
	for _, s := range e.strategies {
		if !s.CanHandle(articleURL) {
			continue
		}
		h, err := s.Create(ctx, articleURL)
		if err != nil {
			if fetch.IsSkip(err) {
				return nil, err
			}
			e.logger.Warn("extract: strategy failed", "url", articleURL, "err", err)
			continue
		}
		if h != nil {
			return h, nil
		}
	}
	return nil, nil
}

// ImageFromDocument picks a representative image from an already-fetched
// page: og:image, else twitter:image, else the first sufficiently large
// <img>. The bytes are fetched and recompressed; nil means no usable image.
func (e *Extractor) ImageFromDocument(ctx context.Context, doc *goquery.Document, baseURL string, isHeader bool) (*Header, error) {
	if src := MetaImage(doc); src != "" {
		return e.imageElement(ctx, resolveURL(baseURL, src), "", isHeader, 0, 0)
	}

	minW, minH := e.cfg.MinBodyImgWidth, e.cfg.MinBodyImgHeight
	if isHeader {
		minW, minH = e.cfg.MinHeadImgWidth, e.cfg.MinHeadImgHeight
	}

	var picked *Header
	var skipErr error
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src := imgSource(img)
		if src == "" || strings.HasPrefix(src, "data:") {
			return true
		}
		if w, h, ok := declaredSize(img); ok && (w < minW || h < minH) {
			return true
		}
		h, err := e.imageElement(ctx, resolveURL(baseURL, src), "", isHeader, minW, minH)
		if err != nil {
			if fetch.IsSkip(err) {
				skipErr = err
				return false
			}
			e.logger.Warn("extract: image fetch failed", "src", src, "err", err)
			return true
		}
		if h != nil {
			picked = h
			return false
		}
		return true
	})
	if skipErr != nil {
		return nil, skipErr
	}
	return picked, nil
}

// imageElement fetches image bytes, runs them through the image service, and
// wraps the result in an <img>. Results smaller than minW×minH are rejected
// when the source had no declared size.
func (e *Extractor) imageElement(ctx context.Context, imageURL, alt string, isHeader bool, minW, minH int) (*Header, error) {
	if imageURL == "" {
		return nil, nil
	}
	data, contentType, err := e.client.GetImage(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	res := e.images.Process(data, contentType, isHeader)
	if res == nil {
		return nil, nil
	}
	if res.Width > 0 && (res.Width < minW || res.Height < minH) {
		return nil, nil
	}
	src := res.DataURI
	if src == "" {
		src = imageURL
	}
	return &Header{
		HTML:     fmt.Sprintf(`<img src="%s" alt="%s"/>`, src, html.EscapeString(alt)),
		ImageURL: imageURL,
	}, nil
}

// MetaImage returns the og:image, else twitter:image, content of a page.
func MetaImage(doc *goquery.Document) string {
	if src, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok && src != "" {
		return src
	}
	if src, ok := doc.Find(`meta[name="twitter:image"]`).First().Attr("content"); ok && src != "" {
		return src
	}
	return ""
}

// VideoID extracts the 11-character YouTube video ID from any of the
// recognized URL forms, or returns "".
func VideoID(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	switch {
	case host == "youtu.be":
		if len(segments) > 0 {
			id = segments[0]
		}
	case host == "youtube.com" || host == "m.youtube.com" || host == "youtube-nocookie.com":
		if len(segments) == 0 {
			break
		}
		switch segments[0] {
		case "watch":
			id = u.Query().Get("v")
		case "embed", "v", "shorts":
			if len(segments) > 1 {
				id = segments[1]
			}
		}
	}

	if !videoIDRe.MatchString(id) {
		return ""
	}
	return id
}

// redditEmbedStrategy wraps Reddit embed URLs in a responsive iframe.
type redditEmbedStrategy struct {
	cfg config.ExtractConfig
}

func (redditEmbedStrategy) CanHandle(articleURL string) bool {
	return redditEmbedRe.MatchString(articleURL)
}

func (s redditEmbedStrategy) Create(_ context.Context, articleURL string) (*Header, error) {
	return &Header{HTML: EmbedIframe(articleURL)}, nil
}

// redditPostStrategy renders the subreddit icon for plain Reddit post URLs.
type redditPostStrategy struct {
	e     *Extractor
	icons SubredditIconProvider
}

func (redditPostStrategy) CanHandle(articleURL string) bool {
	return redditPostRe.MatchString(articleURL) && !redditEmbedRe.MatchString(articleURL)
}

func (s redditPostStrategy) Create(ctx context.Context, articleURL string) (*Header, error) {
	if s.icons == nil {
		return nil, nil
	}
	m := redditPostRe.FindStringSubmatch(articleURL)
	iconURL, err := s.icons.SubredditIcon(ctx, m[1])
	if err != nil {
		return nil, err
	}
	if iconURL == "" {
		return nil, nil
	}
	return s.e.imageElement(ctx, iconURL, "r/"+m[1], true, 0, 0)
}

// youtubeStrategy emits an iframe through the local proxy, or a thumbnail
// <img> when embeds are disabled.
type youtubeStrategy struct {
	cfg config.ExtractConfig
}

func (s youtubeStrategy) CanHandle(articleURL string) bool {
	return VideoID(articleURL) != ""
}

func (s youtubeStrategy) Create(_ context.Context, articleURL string) (*Header, error) {
	id := VideoID(articleURL)
	return &Header{HTML: YouTubeElement(s.cfg, id)}, nil
}

// genericStrategy fetches the article page and picks a representative image.
type genericStrategy struct {
	e *Extractor
}

func (genericStrategy) CanHandle(articleURL string) bool {
	u, err := url.Parse(articleURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	// Bare v.redd.it videos render only through the embed strategy.
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.") != "v.redd.it"
}

func (s genericStrategy) Create(ctx context.Context, articleURL string) (*Header, error) {
	pageURL := RewriteTwitterURL(s.e.cfg, articleURL)
	doc, err := s.e.client.GetDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return s.e.ImageFromDocument(ctx, doc, pageURL, true)
}

// RewriteTwitterURL swaps a twitter.com / x.com host for the configured
// fxtwitter mirror, which serves usable og:image metadata. Other URLs pass
// through unchanged.
func RewriteTwitterURL(cfg config.ExtractConfig, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || cfg.FxTwitterBase == "" {
		return rawURL
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	switch host {
	case "twitter.com", "mobile.twitter.com", "x.com":
	default:
		return rawURL
	}
	base, err := url.Parse(cfg.FxTwitterBase)
	if err != nil {
		return rawURL
	}
	u.Scheme = base.Scheme
	u.Host = base.Host
	return u.String()
}

// EmbedIframe wraps an embed URL in the responsive 16:9 iframe used for
// Reddit and YouTube embeds.
func EmbedIframe(src string) string {
	return fmt.Sprintf(
		`<div class="embed-wrapper" style="position:relative;padding-bottom:56.25%%;height:0;overflow:hidden;">`+
			`<iframe src="%s" style="position:absolute;top:0;left:0;width:100%%;height:100%%;border:0;" loading="lazy" allowfullscreen></iframe></div>`,
		html.EscapeString(src))
}

// YouTubeElement renders a video as a proxy iframe, or as a thumbnail link
// when embeds are disabled.
func YouTubeElement(cfg config.ExtractConfig, videoID string) string {
	if !cfg.EmbedsEnabled {
		thumb := strings.TrimRight(cfg.YouTubeThumbBase, "/") + "/" + videoID + "/hqdefault.jpg"
		watch := "https://www.youtube.com/watch?v=" + videoID
		return fmt.Sprintf(`<a href="%s"><img src="%s" alt=""/></a>`,
			html.EscapeString(watch), html.EscapeString(thumb))
	}
	return EmbedIframe(cfg.ProxyPath + "?v=" + videoID)
}

func imgSource(img *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src"} {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func declaredSize(img *goquery.Selection) (int, int, bool) {
	w, werr := strconv.Atoi(strings.TrimSuffix(img.AttrOr("width", ""), "px"))
	h, herr := strconv.Atoi(strings.TrimSuffix(img.AttrOr("height", ""), "px"))
	if werr != nil || herr != nil {
		return 0, 0, false
	}
	return w, h, true
}

func resolveURL(baseURL, ref string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}
