// Package orchestrator drives the engine: one tick per due source,
// bounded fan-out to the enrichment pipeline, per-source LastTickAt state
// in the entry store, and graceful drain on shutdown.
package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"blogwatch/internal/adapter"
	"blogwatch/internal/cache"
	"blogwatch/internal/config"
	"blogwatch/internal/enrich"
	"blogwatch/internal/fetch"
	"blogwatch/internal/pgpool"
	"blogwatch/internal/types"
)

// ErrAborted is returned by Run when in-flight work outlived the
// shutdown grace period and was cancelled.
var ErrAborted = errors.New("orchestrator: aborted after grace timeout")

// Processor consumes one candidate. *enrich.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, post types.CandidatePost) (enrich.Status, error)
}

// Source pairs a feed's static config with its adapter.
type Source struct {
	Feed    config.FeedConfig
	Adapter adapter.Adapter
}

// Options tune the orchestrator. Zero values take the defaults.
type Options struct {
	SourceTasks  int           // concurrent SourceTasks, default 10
	ArticleTasks int           // concurrent enrichments, default 5
	TickTimeout  time.Duration // hard cap per source tick, default 10m
	Grace        time.Duration // shutdown drain deadline, default 30s
	Resolution   time.Duration // scheduling granularity, default 30s
	FeedSeenTTL  time.Duration // unchanged-feed shortcut lifetime, default 24h

	// MaxPosts resolves the per-tick candidate cap for a feed.
	MaxPosts func(config.FeedConfig) int
}

// TickSummary counts one engine tick's outcomes.
type TickSummary struct {
	SourcesRun     int
	SourcesSkipped int
	SourcesFailed  int
	PostsIngested  int
	PostsDuplicate int
	PostsFailed    int
}

// Orchestrator is single-process and single-instance; a second instance
// duplicates work up to the dedupe layer but breaks no invariant.
type Orchestrator struct {
	sources   []Source
	store     cache.Store
	processor Processor
	log       *zap.Logger
	opts      Options

	sourceSem  *semaphore.Weighted
	articleSem *semaphore.Weighted

	now func() time.Time // test seam
}

// New assembles an orchestrator over the given sources.
func New(sources []Source, store cache.Store, processor Processor, opts Options, log *zap.Logger) *Orchestrator {
	if opts.SourceTasks <= 0 {
		opts.SourceTasks = 10
	}
	if opts.ArticleTasks <= 0 {
		opts.ArticleTasks = 5
	}
	if opts.TickTimeout <= 0 {
		opts.TickTimeout = 10 * time.Minute
	}
	if opts.Grace <= 0 {
		opts.Grace = 30 * time.Second
	}
	if opts.Resolution <= 0 {
		opts.Resolution = 30 * time.Second
	}
	if opts.FeedSeenTTL <= 0 {
		opts.FeedSeenTTL = 24 * time.Hour
	}
	if opts.MaxPosts == nil {
		opts.MaxPosts = func(f config.FeedConfig) int { return 20 }
	}
	return &Orchestrator{
		sources:    sources,
		store:      store,
		processor:  processor,
		log:        log,
		opts:       opts,
		sourceSem:  semaphore.NewWeighted(int64(opts.SourceTasks)),
		articleSem: semaphore.NewWeighted(int64(opts.ArticleTasks)),
		now:        time.Now,
	}
}

// Run ticks until ctx is cancelled, then drains in-flight work for the
// grace period before hard-cancelling.
func (o *Orchestrator) Run(ctx context.Context) error {
	taskCtx, cancelTasks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelTasks()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		ticker := time.NewTicker(o.opts.Resolution)
		defer ticker.Stop()
		for {
			o.Tick(taskCtx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	<-ctx.Done()
	o.log.Info("shutdown requested, draining in-flight work",
		zap.Duration("grace", o.opts.Grace))

	select {
	case <-loopDone:
		return nil
	case <-time.After(o.opts.Grace):
		cancelTasks()
		<-loopDone
		return ErrAborted
	}
}

// Tick schedules every enabled, due source and waits for all of them.
func (o *Orchestrator) Tick(ctx context.Context) TickSummary {
	start := o.now()
	var (
		mu      sync.Mutex
		summary TickSummary
		wg      sync.WaitGroup
	)

	for _, src := range o.sources {
		if !src.Feed.Enabled {
			continue
		}
		due, err := o.due(ctx, src.Feed)
		if err != nil {
			// A tick that cannot read its own state does not advance
			// LastTickAt; wait for the store to come back.
			o.log.Error("tick state unavailable, skipping source",
				zap.String("source", src.Feed.Name), zap.Error(err))
			mu.Lock()
			summary.SourcesFailed++
			mu.Unlock()
			continue
		}
		if !due {
			mu.Lock()
			summary.SourcesSkipped++
			mu.Unlock()
			continue
		}

		if err := o.sourceSem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			defer o.sourceSem.Release(1)

			res := o.runSource(ctx, src)
			mu.Lock()
			summary.SourcesRun++
			if res.failed {
				summary.SourcesFailed++
			}
			summary.PostsIngested += res.ingested
			summary.PostsDuplicate += res.duplicate
			summary.PostsFailed += res.postsFailed
			mu.Unlock()
		}(src)
	}

	wg.Wait()
	if summary.SourcesRun > 0 || summary.SourcesFailed > 0 {
		o.log.Info("tick complete",
			zap.Int("sources_run", summary.SourcesRun),
			zap.Int("sources_failed", summary.SourcesFailed),
			zap.Int("posts_ingested", summary.PostsIngested),
			zap.Int("posts_duplicate", summary.PostsDuplicate),
			zap.Int("posts_failed", summary.PostsFailed),
			zap.Duration("elapsed", o.now().Sub(start)))
	}
	return summary
}

type sourceResult struct {
	failed      bool
	ingested    int
	duplicate   int
	postsFailed int
}

func (o *Orchestrator) runSource(ctx context.Context, src Source) sourceResult {
	ctx, cancel := context.WithTimeout(ctx, o.opts.TickTimeout)
	defer cancel()

	log := o.log.With(zap.String("source", src.Feed.Name))
	var res sourceResult

	posts, feedHash, err := adapter.DiscoverChanged(ctx, src.Adapter, o.store)
	switch {
	case errors.Is(err, adapter.ErrFeedUnchanged):
		log.Debug("feed unchanged, short-circuiting tick")
		o.advanceTick(ctx, src.Feed.Name, log)
		return res

	case errors.Is(err, pgpool.ErrUnavailable):
		// Store-unavailable ticks never ran; leave LastTickAt alone.
		log.Error("store unavailable during tick", zap.Error(err))
		res.failed = true
		return res

	case errors.Is(err, fetch.ErrBrowserRequired),
		errors.Is(err, fetch.ErrBotChallenged),
		errors.Is(err, fetch.ErrRateLimited),
		errors.Is(err, adapter.ErrParseFormat):
		log.Warn("source skipped this tick",
			zap.String("kind", errorKind(err)), zap.Error(err))
		res.failed = true
		o.advanceTick(ctx, src.Feed.Name, log)
		return res

	case err != nil:
		log.Warn("source discovery failed", zap.Error(err))
		res.failed = true
		o.advanceTick(ctx, src.Feed.Name, log)
		return res
	}

	posts = mostRecent(posts, o.opts.MaxPosts(src.Feed))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		storeDown atomic.Bool
	)
	for _, post := range posts {
		if err := o.articleSem.Acquire(ctx, 1); err != nil {
			break
		}
		if storeDown.Load() {
			o.articleSem.Release(1)
			break
		}
		wg.Add(1)
		go func(post types.CandidatePost) {
			defer wg.Done()
			defer o.articleSem.Release(1)

			status, err := o.processor.Process(ctx, post)
			if errors.Is(err, pgpool.ErrUnavailable) {
				storeDown.Store(true)
			}
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case enrich.StatusIngested:
				res.ingested++
			case enrich.StatusDuplicate:
				res.duplicate++
			case enrich.StatusFailed:
				res.postsFailed++
				log.Warn("post enrichment failed",
					zap.String("url", post.URL), zap.Error(err))
			}
		}(post)
	}
	wg.Wait()

	if storeDown.Load() {
		// Fatal for the whole tick: remaining candidates were not
		// dispatched, and LastTickAt stays put so the source is retried
		// as soon as the store returns.
		log.Error("store unavailable mid-enrichment, halting tick")
		res.failed = true
		return res
	}

	// The feed hash is committed only when no post failed, so a tick
	// with unmarked survivors re-discovers them from identical bytes.
	if res.postsFailed == 0 && feedHash != "" {
		if err := adapter.MarkFeedSeen(ctx, o.store, src.Adapter.Source(), feedHash, o.opts.FeedSeenTTL); err != nil {
			log.Warn("failed to record feed hash", zap.Error(err))
		}
	}

	o.advanceTick(ctx, src.Feed.Name, log)
	return res
}

// due reports whether now - LastTickAt >= the feed's poll interval.
func (o *Orchestrator) due(ctx context.Context, feed config.FeedConfig) (bool, error) {
	raw, err := o.store.Get(ctx, cache.KeyPrefixTick+feed.Name)
	if errors.Is(err, cache.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	last, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return true, nil
	}
	return o.now().Sub(last) >= feed.PollIntervalOrDefault(), nil
}

// advanceTick records now as LastTickAt so a failing source cannot
// monopolize the pipeline.
func (o *Orchestrator) advanceTick(ctx context.Context, source string, log *zap.Logger) {
	v := []byte(o.now().Format(time.RFC3339))
	if err := o.store.Set(ctx, cache.KeyPrefixTick+source, v, 0); err != nil {
		log.Error("failed to persist tick state", zap.Error(err))
	}
}

// mostRecent bounds candidates to the n newest by published_at, keeping
// the adapter's order both for selection among undated posts and for the
// returned slice.
func mostRecent(posts []types.CandidatePost, n int) []types.CandidatePost {
	if n <= 0 || len(posts) <= n {
		return posts
	}

	idx := make([]int, len(posts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := posts[idx[a]].PublishedAt, posts[idx[b]].PublishedAt
		switch {
		case pa == nil && pb == nil:
			return false // keep adapter order
		case pa == nil:
			return false
		case pb == nil:
			return true
		default:
			return pa.After(*pb)
		}
	})

	keep := make(map[int]bool, n)
	for _, i := range idx[:n] {
		keep[i] = true
	}
	out := make([]types.CandidatePost, 0, n)
	for i, p := range posts {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, fetch.ErrBrowserRequired):
		return "browser_required"
	case errors.Is(err, fetch.ErrBotChallenged):
		return "bot_challenged"
	case errors.Is(err, fetch.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, adapter.ErrParseFormat):
		return "parse_format"
	default:
		return "unknown"
	}
}
