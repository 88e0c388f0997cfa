// Package aggregate implements the per-source adapters and the pipeline that
// turns upstream feeds, listings, and pages into stored articles.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/dkoeder/gleaner/internal/ai"
	"github.com/dkoeder/gleaner/internal/config"
	"github.com/dkoeder/gleaner/internal/extract"
	"github.com/dkoeder/gleaner/internal/fetch"
	"github.com/dkoeder/gleaner/internal/images"
	"github.com/dkoeder/gleaner/internal/markdown"
	"github.com/dkoeder/gleaner/internal/models"
	"github.com/dkoeder/gleaner/internal/reddit"
	"github.com/dkoeder/gleaner/internal/youtube"
)

// maxArticleAge is the default filter's cutoff: anything older is dropped.
const maxArticleAge = 60 * 24 * time.Hour

// dateJitterSeconds bounds the ± jitter applied to accepted articles' sort
// timestamps.
const dateJitterSeconds = 30

// ValidationError reports feed misconfiguration found before any fetch.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// RawArticle is a partially built article flowing through a pipeline run.
// Date carries the jittered sort timestamp once the filter stage ran;
// OriginalDate keeps the source's publication time.
type RawArticle struct {
	Identifier   string
	Title        string
	URL          string
	Author       string
	Date         time.Time
	OriginalDate time.Time
	Content      string
	RawContent   string
	Header       string // header element HTML
	HeaderImage  string // source URL of the header image, stripped from bodies

	item  *gofeed.Item
	post  *reddit.Post
	video *youtube.Video
}

// Run is the state of one (feed, run) execution. Settings belong to the
// feed's owner and are zero-valued for shared feeds; Provider is the owner's
// active AI provider or nil.
type Run struct {
	Feed     *models.Feed
	Settings models.UserSettings
	Provider *models.AIProvider
	Limit    int

	feedBody   []byte
	parsedFeed *gofeed.Feed
	posts      []reddit.Post
	videos     []youtube.Video
	subreddit  string
	api        *reddit.UserClient
	apiKey     string
}

// IdentifierChoice is one selectable identifier offered by an adapter for the
// admin form.
type IdentifierChoice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// ConfigField describes one per-feed option an adapter understands.
type ConfigField struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Type    string `json:"type"` // "bool", "int" or "string"
	Default any    `json:"default"`
}

// Adapter is the capability set every source type implements. The pipeline
// calls Validate, FetchSource, Parse, Filter, Enrich, and Finalize in order;
// the remaining methods describe the adapter to the admin surface.
type Adapter interface {
	Tag() string

	Validate(run *Run) error
	FetchSource(ctx context.Context, run *Run) error
	Parse(run *Run) ([]RawArticle, error)
	Filter(run *Run, articles []RawArticle) []RawArticle
	Enrich(ctx context.Context, run *Run, articles []RawArticle) []RawArticle
	Finalize(ctx context.Context, run *Run, articles []RawArticle) []RawArticle

	SourceURL(feed *models.Feed) string
	NormalizeIdentifier(identifier string) (string, error)
	IdentifierChoices() []IdentifierChoice
	DefaultIdentifier() string
	ConfigFields() []ConfigField
}

// Deps bundles the shared collaborators adapters work with. Now is the run
// clock, settable in tests.
type Deps struct {
	Config   config.Config
	Fetch    *fetch.Client
	Scraper  *fetch.PageScraper
	Images   *images.Service
	Markdown *markdown.Renderer
	Reddit   *reddit.Client
	YouTube  *youtube.Client
	Rewriter *ai.Rewriter
	Logger   *slog.Logger
	Now      func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// extractor builds a header-element extractor for one run, wiring the
// per-user Reddit icon lookup when the run has API access.
func (d *Deps) extractor(run *Run) *extract.Extractor {
	var icons extract.SubredditIconProvider
	if run.api != nil {
		icons = subredditIcons{api: run.api}
	}
	return extract.New(d.Config.Extract, d.Fetch, d.Images, icons, d.Logger)
}

// subredditIcons adapts the Reddit client to the extractor's icon lookup.
type subredditIcons struct {
	api *reddit.UserClient
}

func (s subredditIcons) SubredditIcon(ctx context.Context, subreddit string) (string, error) {
	about, err := s.api.About(ctx, subreddit)
	if err != nil {
		return "", err
	}
	return about.IconURL(), nil
}
