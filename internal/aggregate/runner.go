package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/dkoeder/gleaner/internal/metrics"
	"github.com/dkoeder/gleaner/internal/models"
	"github.com/dkoeder/gleaner/internal/storage"
)

// Stores bundles the persistence the runner needs.
type Stores struct {
	Feeds    *models.FeedStore
	Articles *models.ArticleStore
	Settings *models.SettingsStore
}

// Runner executes aggregation runs. One run works a single feed through its
// adapter's pipeline and persists what survives; RunAll fans out over every
// enabled feed with bounded parallelism.
type Runner struct {
	deps      *Deps
	registry  *Registry
	stores    Stores
	snapshots *storage.Client
	parallel  int
	logger    *slog.Logger
}

// NewRunner creates a Runner. parallel bounds how many feeds run at once.
func NewRunner(deps *Deps, registry *Registry, stores Stores, snapshots *storage.Client, parallel int) *Runner {
	if parallel < 1 {
		parallel = 1
	}
	return &Runner{
		deps:      deps,
		registry:  registry,
		stores:    stores,
		snapshots: snapshots,
		parallel:  parallel,
		logger:    deps.Logger,
	}
}

// RunAll runs every enabled feed. A failing feed is logged and never stops
// the others.
func (r *Runner) RunAll(ctx context.Context) error {
	feeds, err := r.stores.Feeds.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("aggregate: list feeds: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i := range feeds {
		feed := &feeds[i]
		g.Go(func() error {
			if err := r.RunFeed(ctx, feed); err != nil {
				r.logger.Error("aggregate: feed run failed",
					"feed", feed.ID, "name", feed.Name, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// RunFeed executes one aggregation run for a feed: budget check, validate,
// fetch, parse, filter, duplicate check, enrich, finalize, persist. Articles
// reach the database only after the full pipeline ran.
func (r *Runner) RunFeed(ctx context.Context, feed *models.Feed) error {
	start := r.deps.now()

	adapter, ok := r.registry.Get(feed.AggregatorTag)
	if !ok {
		metrics.RecordRun(feed.Name, "error", 0)
		return fmt.Errorf("feed %d: unknown aggregator %q", feed.ID, feed.AggregatorTag)
	}

	collected, err := r.stores.Articles.CountToday(ctx, feed.ID)
	if err != nil {
		metrics.RecordRun(feed.Name, "error", r.deps.now().Sub(start).Seconds())
		return fmt.Errorf("feed %d: count today: %w", feed.ID, err)
	}

	limit := RunLimit(feed.DailyLimit, collected, r.deps.now())
	if limit == 0 {
		r.logger.Debug("aggregate: daily budget exhausted", "feed", feed.ID, "collected", collected)
		metrics.RecordRun(feed.Name, "skipped", 0)
		return nil
	}

	run, err := r.buildRun(ctx, feed, limit)
	if err != nil {
		metrics.RecordRun(feed.Name, "error", r.deps.now().Sub(start).Seconds())
		return err
	}

	created, err := r.pipeline(ctx, adapter, run)
	if err != nil {
		status := "error"
		var verr *ValidationError
		if errors.As(err, &verr) {
			status = "invalid"
		}
		metrics.RecordRun(feed.Name, status, r.deps.now().Sub(start).Seconds())
		return fmt.Errorf("feed %d (%s): %w", feed.ID, feed.AggregatorTag, err)
	}

	metrics.RecordRun(feed.Name, "ok", r.deps.now().Sub(start).Seconds())
	r.logger.Info("aggregate: run complete",
		"feed", feed.ID, "tag", adapter.Tag(), "limit", limit, "created", created)
	return nil
}

// buildRun loads the owner's settings and, when the feed opts into rewrites,
// the active AI provider. Shared feeds run with zero-valued settings, which
// keeps the credential-gated adapters refusing them.
func (r *Runner) buildRun(ctx context.Context, feed *models.Feed, limit int) (*Run, error) {
	run := &Run{Feed: feed, Limit: limit}
	if feed.OwnerID == nil {
		return run, nil
	}

	settings, err := r.stores.Settings.Get(ctx, *feed.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("feed %d: load settings: %w", feed.ID, err)
	}
	run.Settings = *settings

	if feed.OptBool("rewrite_enabled", false) {
		provider, err := r.stores.Settings.GetActiveProvider(ctx, *feed.OwnerID)
		switch {
		case err == nil:
			run.Provider = provider
		case errors.Is(err, models.ErrNotFound):
			r.logger.Warn("aggregate: rewrite enabled but no active provider", "feed", feed.ID)
		default:
			return nil, fmt.Errorf("feed %d: load provider: %w", feed.ID, err)
		}
	}
	return run, nil
}

func (r *Runner) pipeline(ctx context.Context, adapter Adapter, run *Run) (int, error) {
	if err := adapter.Validate(run); err != nil {
		return 0, err
	}
	if err := adapter.FetchSource(ctx, run); err != nil {
		return 0, fmt.Errorf("fetch source: %w", err)
	}
	articles, err := adapter.Parse(run)
	if err != nil {
		return 0, err
	}

	articles = adapter.Filter(run, articles)

	articles, err = r.selectNew(ctx, run.Feed, articles, run.Limit)
	if err != nil {
		return 0, err
	}
	if len(articles) == 0 {
		return 0, nil
	}

	articles = adapter.Enrich(ctx, run, articles)
	articles = adapter.Finalize(ctx, run, articles)

	return r.persist(ctx, run.Feed, articles), nil
}

// selectNew keeps the first limit articles the feed does not already have.
// The (feed, identifier) pair is the dedupe key, so re-running a feed is
// idempotent.
func (r *Runner) selectNew(ctx context.Context, feed *models.Feed, articles []RawArticle, limit int) ([]RawArticle, error) {
	fresh := make([]RawArticle, 0, min(limit, len(articles)))
	for _, ra := range articles {
		if len(fresh) == limit {
			break
		}
		if ra.Identifier == "" {
			r.logger.Warn("aggregate: article without identifier skipped",
				"feed", feed.ID, "title", ra.Title)
			continue
		}
		exists, err := r.stores.Articles.ExistsByIdentifier(ctx, feed.ID, ra.Identifier)
		if err != nil {
			return nil, fmt.Errorf("check identifier: %w", err)
		}
		if exists {
			continue
		}
		fresh = append(fresh, ra)
	}
	return fresh, nil
}

// persist stores the run's articles. A failing insert is logged and skipped;
// the unique (feed, identifier) constraint absorbs races with a concurrent
// run.
func (r *Runner) persist(ctx context.Context, feed *models.Feed, articles []RawArticle) int {
	created := 0
	for _, ra := range articles {
		stored := &models.Article{
			FeedID:     feed.ID,
			Identifier: ra.Identifier,
			Name:       ra.Title,
			RawContent: ra.RawContent,
			Content:    ra.Content,
			Date:       ra.Date,
			Author:     ra.Author,
			Icon:       ra.Header,
		}
		if !ra.OriginalDate.IsZero() {
			d := ra.OriginalDate
			stored.OriginalDate = &d
		}

		ok, err := r.stores.Articles.Create(ctx, stored)
		if err != nil {
			r.logger.Warn("aggregate: article insert failed",
				"feed", feed.ID, "article", ra.Identifier, "error", err)
			continue
		}
		if !ok {
			continue
		}
		created++
		metrics.ArticlesCreated.WithLabelValues(feed.Name).Inc()

		if r.snapshots != nil && r.snapshots.Configured() && stored.RawContent != "" {
			if err := r.snapshots.StoreSnapshot(ctx, feed.ID, stored.ID, []byte(stored.RawContent)); err != nil {
				r.logger.Warn("aggregate: snapshot upload failed",
					"feed", feed.ID, "article", stored.ID, "error", err)
			}
		}
	}
	return created
}
