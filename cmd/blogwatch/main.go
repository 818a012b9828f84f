package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"blogwatch/internal/adapter"
	"blogwatch/internal/browser"
	"blogwatch/internal/cache"
	"blogwatch/internal/config"
	"blogwatch/internal/embedding"
	"blogwatch/internal/enrich"
	"blogwatch/internal/extract"
	"blogwatch/internal/fetch"
	"blogwatch/internal/logging"
	"blogwatch/internal/orchestrator"
	"blogwatch/internal/pgpool"
	"blogwatch/internal/summarize"
	"blogwatch/internal/vecstore"
)

var (
	configPath string
	verbose    bool

	// search flags
	searchTopK   int
	searchSource string
)

var rootCmd = &cobra.Command{
	Use:   "blogwatch",
	Short: "blogwatch - periodic technical-blog ingestion engine",
	Long: `blogwatch polls configured engineering blogs, extracts and enriches new
posts, and stores them as embeddings in pgvector for semantic search.

Sources are polled on independent intervals; posts are deduplicated by a
stable URL fingerprint so each one is ingested at most once.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion daemon until interrupted",
	Long: `Starts the scheduler loop: every source is ticked when its poll interval
elapses, discovered posts flow through the enrichment pipeline, and the
process drains in-flight work on SIGINT/SIGTERM before exiting.`,
	RunE: runDaemon,
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single scheduling pass and exit",
	Long: `Ticks every due source once. Useful under an external scheduler such as
cron or a systemd timer instead of the built-in loop.`,
	RunE: runTick,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Semantic search over ingested posts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "blogwatch.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "force debug logging")

	searchCmd.Flags().IntVarP(&searchTopK, "top", "k", 10, "number of results")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "restrict results to one source")

	rootCmd.AddCommand(runCmd, tickCmd, searchCmd)
}

// initError wraps configuration and wiring failures so main can map them
// to exit code 1 rather than the runtime-abort code.
type initError struct{ err error }

func (e initError) Error() string { return e.err.Error() }
func (e initError) Unwrap() error { return e.err }

// engine holds every wired component plus its teardown order.
type engine struct {
	cfg      *config.Config
	log      *zap.Logger
	store    cache.Store
	vectors  *vecstore.Store
	embedder embedding.Engine
	orch     *orchestrator.Orchestrator

	browsers *browser.Pool // nil when disabled or launch failed
	extracts *extract.Pool
	vecPool  *pgxpool.Pool
}

func (e *engine) close() {
	if e.extracts != nil {
		e.extracts.Close()
	}
	if e.browsers != nil {
		if err := e.browsers.Close(); err != nil {
			e.log.Warn("browser pool shutdown failed", zap.Error(err))
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.log.Warn("entry store shutdown failed", zap.Error(err))
		}
	}
	if e.vecPool != nil {
		e.vecPool.Close()
	}
	_ = e.log.Sync()
}

// buildQueryEngine wires the read path only: config, logging, the vector
// store and the embedding engine. Used by search.
func buildQueryEngine(ctx context.Context) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, initError{fmt.Errorf("load config: %w", err)}
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, initError{fmt.Errorf("init logging: %w", err)}
	}

	e := &engine{cfg: cfg, log: log}

	vecPool, err := pgpool.New(ctx, cfg.VectorDB.ConnectionString)
	if err != nil {
		return nil, initError{fmt.Errorf("connect vector database: %w", err)}
	}

	e.vectors, err = vecstore.New(ctx, vecPool, cfg.VectorDB.CollectionName, cfg.VectorDB.TextVectorDimension, log)
	if err != nil {
		return nil, initError{fmt.Errorf("init vector store: %w", err)}
	}
	e.vecPool = vecPool

	e.embedder, err = embedding.NewEngine(ctx, cfg.Embedding)
	if err != nil {
		return nil, initError{fmt.Errorf("init embedding engine: %w", err)}
	}
	return e, nil
}

func buildEngine(ctx context.Context) (*engine, error) {
	e, err := buildQueryEngine(ctx)
	if err != nil {
		return nil, err
	}
	cfg, log := e.cfg, e.log

	e.store, err = buildStore(ctx, cfg, e.vecPool, log)
	if err != nil {
		return nil, initError{err}
	}

	log.Info("embedding engine ready",
		zap.String("engine", e.embedder.Name()),
		zap.Int("native_dimensions", e.embedder.Dimensions()),
		zap.Int("stored_dimensions", cfg.VectorDB.TextVectorDimension))

	client := fetch.NewClient(log)

	var renderer adapter.Renderer
	if cfg.Browser.Enabled {
		pool, err := browser.NewPool(cfg.Browser.MaxConcurrentBrowsers, cfg.GetRenderTimeout(), log)
		if err != nil {
			// Browser-dependent sources degrade per tick instead of
			// blocking startup.
			log.Warn("browser launch failed, browser-dependent sources will be skipped", zap.Error(err))
		} else {
			e.browsers = pool
			renderer = pool
		}
	}

	e.extracts = extract.NewPool(cfg.Article.ConcurrentArticleTasks, extract.New(log))

	var summarizer summarize.Summarizer
	if cfg.Article.GenerateSummary {
		s, err := summarize.NewGenAI(ctx, cfg.Embedding.APIKey, "", cfg.Article.SummaryMaxTokens)
		if err != nil {
			log.Warn("summarizer unavailable, feed summaries will be used", zap.Error(err))
		} else {
			summarizer = s
		}
	}

	pipeline := &enrich.Pipeline{
		Store:              e.store,
		Vectors:            e.vectors,
		Fetcher:            client,
		Extractor:          e.extracts,
		Embedder:           e.embedder,
		Summarizer:         summarizer,
		Log:                log,
		Dimension:          cfg.VectorDB.TextVectorDimension,
		ContentTTL:         cfg.GetContentTTL(),
		FullContentCapture: cfg.Article.FullContentCapture,
	}

	sources, err := buildSources(cfg, client, renderer, log)
	if err != nil {
		return nil, initError{err}
	}

	e.orch = orchestrator.New(sources, e.store, pipeline, orchestrator.Options{
		SourceTasks:  cfg.Scheduler.MaxConcurrentSourceTasks,
		ArticleTasks: cfg.Article.ConcurrentArticleTasks,
		TickTimeout:  cfg.GetTickTimeout(),
		Grace:        cfg.GetShutdownGrace(),
		FeedSeenTTL:  cfg.GetCacheTTL(),
		MaxPosts:     cfg.MaxPostsFor,
	}, log)

	return e, nil
}

// buildStore selects the entry-store backend. The postgres backend shares
// the vector pool when both point at the same database.
func buildStore(ctx context.Context, cfg *config.Config, vecPool *pgxpool.Pool, log *zap.Logger) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemory(), nil

	case "filesystem":
		fs, err := cache.NewFilesystem(cfg.Cache.Directory)
		if err != nil {
			return nil, fmt.Errorf("init filesystem store: %w", err)
		}
		return fs, nil

	case "postgres", "":
		pool := vecPool
		if dsn := cfg.CacheDSN(); dsn != cfg.VectorDB.ConnectionString {
			var err error
			pool, err = pgpool.New(ctx, dsn)
			if err != nil {
				return nil, fmt.Errorf("connect cache database: %w", err)
			}
		}
		store, err := cache.NewPostgres(ctx, pool, log)
		if err != nil {
			return nil, fmt.Errorf("init entry store: %w", err)
		}
		store.StartSweep(ctx, cfg.GetSweepInterval())
		return store, nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func buildSources(cfg *config.Config, client *fetch.Client, renderer adapter.Renderer, log *zap.Logger) ([]orchestrator.Source, error) {
	sources := make([]orchestrator.Source, 0, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		deps := adapter.Deps{
			Client:      client,
			Renderer:    renderer,
			Log:         log,
			InsecureTLS: cfg.InsecureTLSAllowed(hostOf(feed.URL)),
		}
		a, err := adapter.New(feed, deps)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", feed.Name, err)
		}
		sources = append(sources, orchestrator.Source{Feed: feed, Adapter: a})
	}
	return sources, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	e.log.Info("daemon starting",
		zap.Int("sources", len(e.cfg.Feeds)),
		zap.String("collection", e.cfg.VectorDB.CollectionName))

	return e.orch.Run(ctx)
}

func runTick(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	sum := e.orch.Tick(ctx)
	fmt.Printf("sources run: %d  failed: %d  ingested: %d  duplicates: %d  post failures: %d\n",
		sum.SourcesRun, sum.SourcesFailed, sum.PostsIngested, sum.PostsDuplicate, sum.PostsFailed)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := buildQueryEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	query := strings.Join(args, " ")
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embed query: %w", err)
	}
	vec, err = embedding.Truncate(vec, e.cfg.VectorDB.TextVectorDimension)
	if err != nil {
		return fmt.Errorf("truncate query vector: %w", err)
	}

	results, err := e.vectors.Search(ctx, vec, searchTopK, vecstore.Filter{Source: searchSource})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. [%.4f] %s\n    %s (%s)\n", i+1, r.Distance, r.Title, r.URL, r.Source)
		if r.Summary != "" {
			fmt.Printf("    %s\n", firstLine(r.Summary))
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ie initError
		switch {
		case errors.As(err, &ie):
			os.Exit(1)
		case errors.Is(err, orchestrator.ErrAborted):
			os.Exit(2)
		default:
			os.Exit(1)
		}
	}
}
