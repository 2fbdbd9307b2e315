// Package readalong is the caching orchestrator for the read-along engine:
// it loads word timings and source text through the collaborator stores,
// derives span maps, page plans and rendered pages, and serves lookups from
// bounded LRU caches with semaphore-limited CPU work.
package readalong

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/readalong-service/internal/cache"
	"github.com/book-expert/readalong-service/internal/core"
	"github.com/book-expert/readalong-service/internal/pageplan"
	"github.com/book-expert/readalong-service/internal/search"
	"github.com/book-expert/readalong-service/internal/segment"
	"github.com/book-expert/readalong-service/internal/spanmap"
	"github.com/book-expert/readalong-service/internal/timeindex"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrAccessDenied is returned before any data is loaded when the
	// caller may not read the track.
	ErrAccessDenied = errors.New("access denied")
	// ErrTimingStorage is returned when the timing store fails with no
	// usable fallback.
	ErrTimingStorage = errors.New("word timing storage unavailable")
)

// Lookup statuses shared by the non-page operations.
const (
	StatusFound        = "found"
	StatusNoTimings    = "no_timings"
	StatusInvalidIndex = "invalid_index"
)

// Options tune the service. Zero values fall back to the defaults below.
type Options struct {
	DefaultPageSize      int
	MaxConcurrentTextOps int64
	CacheTTL             time.Duration

	PageCacheSize   int
	TimingCacheSize int
	TextCacheSize   int
	PlanCacheSize   int
	SpanCacheSize   int

	SentenceMinWords      int
	SentenceSearchForward int
	SentenceSearchBack    int
	MappingWarnRatio      float64
}

// Default capacities and limits.
const (
	DefaultPageSize      = 500
	DefaultConcurrency   = 32
	DefaultCacheTTL      = 15 * time.Minute
	DefaultPageCacheSize = 5000
	DefaultTimingCache   = 256
	DefaultTextCache     = 128
	DefaultPlanCache     = 256
	DefaultSpanCache     = 256
)

func (o *Options) applyDefaults() {
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = DefaultPageSize
	}

	if o.MaxConcurrentTextOps <= 0 {
		o.MaxConcurrentTextOps = DefaultConcurrency
	}

	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}

	if o.PageCacheSize <= 0 {
		o.PageCacheSize = DefaultPageCacheSize
	}

	if o.TimingCacheSize <= 0 {
		o.TimingCacheSize = DefaultTimingCache
	}

	if o.TextCacheSize <= 0 {
		o.TextCacheSize = DefaultTextCache
	}

	if o.PlanCacheSize <= 0 {
		o.PlanCacheSize = DefaultPlanCache
	}

	if o.SpanCacheSize <= 0 {
		o.SpanCacheSize = DefaultSpanCache
	}
}

// Service owns the caches and concurrency limits. Construct one instance at
// startup and share it across request handlers.
type Service struct {
	log     *logger.Logger
	opts    Options
	timings core.WordTimingStore
	texts   core.SourceTextStore
	access  core.AccessControl

	mapper   *spanmap.Mapper
	planner  *pageplan.Planner
	searcher *search.Engine

	pageCache   *cache.Cache[core.PageResult]
	timingCache *cache.Cache[[]core.WordTiming]
	textCache   *cache.Cache[string]
	planCache   *cache.Cache[core.PagePlan]
	spanCache   *cache.Cache[[]core.CharSpan]

	// cpu bounds concurrent CPU-bound text operations so request bursts
	// cannot starve the scheduler.
	cpu *semaphore.Weighted
	// builds collapses concurrent identical page computations into one.
	builds singleflight.Group
}

// New creates the service.
func New(
	timings core.WordTimingStore,
	texts core.SourceTextStore,
	access core.AccessControl,
	log *logger.Logger,
	opts Options,
) *Service {
	opts.applyDefaults()

	mapper := spanmap.New(log).WithWarnRatio(opts.MappingWarnRatio)
	planner := pageplan.New().WithWindows(
		opts.SentenceMinWords, opts.SentenceSearchForward, opts.SentenceSearchBack,
	)

	return &Service{
		log:      log,
		opts:     opts,
		timings:  timings,
		texts:    texts,
		access:   access,
		mapper:   mapper,
		planner:  planner,
		searcher: search.New(),
		pageCache: cache.New("pages", opts.PageCacheSize, opts.CacheTTL,
			pageResultSize),
		timingCache: cache.New("timings", opts.TimingCacheSize, opts.CacheTTL,
			timingsSize),
		textCache: cache.New("texts", opts.TextCacheSize, opts.CacheTTL,
			func(s string) int { return len(s) }),
		planCache: cache.New("plans", opts.PlanCacheSize, opts.CacheTTL,
			func(p core.PagePlan) int { return 16 * len(p.Pages) }),
		spanCache: cache.New("spans", opts.SpanCacheSize, opts.CacheTTL,
			func(s []core.CharSpan) int { return 16 * len(s) }),
		cpu: semaphore.NewWeighted(opts.MaxConcurrentTextOps),
	}
}

// WordAtTimeResult is the outcome of a time-to-word lookup.
type WordAtTimeResult struct {
	WordIndex int    `json:"word_index"`
	Reason    string `json:"reason"`
	Status    string `json:"status"`
}

// TimeForWordResult is the outcome of a word-to-time lookup.
type TimeForWordResult struct {
	Time   float64 `json:"time"`
	Status string  `json:"status"`
}

// Locator addresses a position in a track either by word index or by
// playback time.
type Locator struct {
	WordIndex int
	Time      float64
	ByTime    bool
}

// PageInfoResult reports which page holds a position.
type PageInfoResult struct {
	CurrentPage int             `json:"current_page"`
	TotalPages  int             `json:"total_pages"`
	PageBounds  core.PageBounds `json:"page_bounds"`
	Status      string          `json:"status"`
}

// GetPage renders one page of the track, serving from cache when possible.
// At most one computation runs concurrently per distinct
// (track, voice, page size, page) key; different keys proceed in parallel.
func (s *Service) GetPage(
	ctx context.Context,
	trackID, voiceID string,
	page, pageSize int,
) (core.PageResult, error) {
	if !s.access.CanRead(ctx, trackID, voiceID) {
		return core.PageResult{}, ErrAccessDenied
	}

	if pageSize <= 0 {
		pageSize = s.opts.DefaultPageSize
	}

	if page < 0 {
		page = 0
	}

	key := pageKey(trackID, voiceID, pageSize, page)

	// Fast path, no lock.
	if result, ok := s.pageCache.Get(key); ok {
		return result, nil
	}

	value, err, _ := s.builds.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// stored the page between our miss and now.
		if result, ok := s.pageCache.Get(key); ok {
			return result, nil
		}

		result, buildErr := s.buildPage(ctx, trackID, voiceID, page, pageSize)
		if buildErr != nil {
			return core.PageResult{}, buildErr
		}

		// Negative outcomes stay uncached so a track whose timings
		// arrive moments later is served immediately.
		if result.Status == core.PageSuccess {
			s.pageCache.Add(key, result)
		}

		return result, nil
	})
	if err != nil {
		return core.PageResult{}, fmt.Errorf("building page %s: %w", key, err)
	}

	result, ok := value.(core.PageResult)
	if !ok {
		return core.PageResult{}, fmt.Errorf("building page %s: %w", key, ErrTimingStorage)
	}

	return result, nil
}

func (s *Service) buildPage(
	ctx context.Context,
	trackID, voiceID string,
	page, pageSize int,
) (core.PageResult, error) {
	words, err := s.loadTimings(ctx, trackID, voiceID)
	if err != nil {
		return core.PageResult{}, err
	}

	result := core.PageResult{
		Page:       page,
		PageSize:   pageSize,
		TotalWords: len(words),
		Status:     core.PageNoTimings,
	}
	if len(words) == 0 {
		return result, nil
	}

	text := s.loadText(ctx, trackID, words)

	spans, err := s.getSpans(ctx, trackID, voiceID, words, text)
	if err != nil {
		return core.PageResult{}, err
	}

	plan, err := s.getPlan(ctx, trackID, voiceID, words, spans, text, pageSize)
	if err != nil {
		return core.PageResult{}, err
	}

	result.TotalPages = len(plan.Pages)
	if page >= len(plan.Pages) {
		result.Status = core.PageOutOfRange

		return result, nil
	}

	bounds := plan.Pages[page]

	if err := s.cpu.Acquire(ctx, 1); err != nil {
		return core.PageResult{}, fmt.Errorf("acquiring text-op slot: %w", err)
	}

	runes := []rune(text)
	seg, extent := segment.Extract(spans, bounds, runes)
	tokens := segment.Tokenize(words, spans, bounds, runes, extent)
	s.cpu.Release(1)

	pageWords := words[bounds.Start:bounds.End]

	result.Status = core.PageSuccess
	result.SourceTextSegment = seg
	result.Tokens = tokens
	result.WordTimings = pageWords
	result.WordRange = core.WordRange{
		Start: bounds.Start,
		End:   bounds.End - 1,
		Count: bounds.Words(),
	}
	result.TimeRange = core.TimeRange{
		Start: pageWords[0].StartTime,
		End:   pageWords[len(pageWords)-1].EndTime,
	}
	result.HasNext = page < len(plan.Pages)-1
	result.HasPrev = page > 0

	return result, nil
}

// WordAtTime resolves a playback timestamp to the nearest stable word index.
func (s *Service) WordAtTime(
	ctx context.Context,
	trackID, voiceID string,
	at, tolerance float64,
) (WordAtTimeResult, error) {
	if !s.access.CanRead(ctx, trackID, voiceID) {
		return WordAtTimeResult{}, ErrAccessDenied
	}

	words, err := s.loadTimings(ctx, trackID, voiceID)
	if err != nil {
		return WordAtTimeResult{}, err
	}

	if len(words) == 0 {
		return WordAtTimeResult{WordIndex: -1, Reason: string(timeindex.ReasonNoWords), Status: StatusNoTimings}, nil
	}

	index, reason := timeindex.Resolve(words, at, tolerance)

	return WordAtTimeResult{WordIndex: index, Reason: string(reason), Status: StatusFound}, nil
}

// TimeForWord returns the start time of the word at the stable index.
func (s *Service) TimeForWord(
	ctx context.Context,
	trackID, voiceID string,
	wordIndex int,
) (TimeForWordResult, error) {
	if !s.access.CanRead(ctx, trackID, voiceID) {
		return TimeForWordResult{}, ErrAccessDenied
	}

	words, err := s.loadTimings(ctx, trackID, voiceID)
	if err != nil {
		return TimeForWordResult{}, err
	}

	if len(words) == 0 {
		return TimeForWordResult{Status: StatusNoTimings}, nil
	}

	if wordIndex < 0 || wordIndex >= len(words) {
		return TimeForWordResult{Status: StatusInvalidIndex}, nil
	}

	return TimeForWordResult{Time: words[wordIndex].StartTime, Status: StatusFound}, nil
}

// PageInfo reports which page contains the located word or time.
func (s *Service) PageInfo(
	ctx context.Context,
	trackID, voiceID string,
	loc Locator,
	pageSize int,
) (PageInfoResult, error) {
	if !s.access.CanRead(ctx, trackID, voiceID) {
		return PageInfoResult{}, ErrAccessDenied
	}

	if pageSize <= 0 {
		pageSize = s.opts.DefaultPageSize
	}

	words, err := s.loadTimings(ctx, trackID, voiceID)
	if err != nil {
		return PageInfoResult{}, err
	}

	if len(words) == 0 {
		return PageInfoResult{CurrentPage: -1, Status: StatusNoTimings}, nil
	}

	wordIndex := loc.WordIndex
	if loc.ByTime {
		wordIndex, _ = timeindex.Resolve(words, loc.Time, 0)
	}

	if wordIndex < 0 || wordIndex >= len(words) {
		return PageInfoResult{CurrentPage: -1, Status: StatusInvalidIndex}, nil
	}

	text := s.loadText(ctx, trackID, words)

	spans, err := s.getSpans(ctx, trackID, voiceID, words, text)
	if err != nil {
		return PageInfoResult{}, err
	}

	plan, err := s.getPlan(ctx, trackID, voiceID, words, spans, text, pageSize)
	if err != nil {
		return PageInfoResult{}, err
	}

	current := plan.PageFor(wordIndex)
	if current < 0 {
		return PageInfoResult{CurrentPage: -1, Status: StatusInvalidIndex}, nil
	}

	return PageInfoResult{
		CurrentPage: current,
		TotalPages:  len(plan.Pages),
		PageBounds:  plan.Pages[current],
		Status:      StatusFound,
	}, nil
}

// Search runs a word or phrase query over the track's timed sequence.
func (s *Service) Search(
	ctx context.Context,
	trackID, voiceID, query string,
	pageSize int,
) ([]search.Match, error) {
	if !s.access.CanRead(ctx, trackID, voiceID) {
		return nil, ErrAccessDenied
	}

	if pageSize <= 0 {
		pageSize = s.opts.DefaultPageSize
	}

	words, err := s.loadTimings(ctx, trackID, voiceID)
	if err != nil {
		return nil, err
	}

	if len(words) == 0 {
		return nil, nil
	}

	text := s.loadText(ctx, trackID, words)

	spans, err := s.getSpans(ctx, trackID, voiceID, words, text)
	if err != nil {
		return nil, err
	}

	plan, err := s.getPlan(ctx, trackID, voiceID, words, spans, text, pageSize)
	if err != nil {
		return nil, err
	}

	if err := s.cpu.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring text-op slot: %w", err)
	}
	defer s.cpu.Release(1)

	return s.searcher.Search(words, plan, query), nil
}

// CacheStats snapshots every cache for the observability surface.
func (s *Service) CacheStats() []cache.Stats {
	return []cache.Stats{
		s.pageCache.Stats(),
		s.timingCache.Stats(),
		s.textCache.Stats(),
		s.planCache.Stats(),
		s.spanCache.Stats(),
	}
}

func (s *Service) loadTimings(
	ctx context.Context,
	trackID, voiceID string,
) ([]core.WordTiming, error) {
	key := timingKey(trackID, voiceID)
	if words, ok := s.timingCache.Get(key); ok {
		return words, nil
	}

	words, err := s.timings.GetWordTimings(ctx, trackID, voiceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTimingStorage, err)
	}

	// An empty sequence means the track has no timings yet; caching it
	// would hide a subsequent ingest until expiry.
	if len(words) > 0 {
		s.timingCache.Add(key, words)
	}

	return words, nil
}

// loadText fetches the source text, degrading to a join of the synthesized
// word texts when the text is missing or the store fails.
func (s *Service) loadText(
	ctx context.Context,
	trackID string,
	words []core.WordTiming,
) string {
	if text, ok := s.textCache.Get(trackID); ok {
		return text
	}

	text, err := s.texts.GetSourceText(ctx, trackID)
	if err != nil {
		s.log.Warn("Source text load failed for track %s, using word join: %v", trackID, err)

		text = ""
	}

	if text == "" {
		text = joinWordTexts(words)
	}

	s.textCache.Add(trackID, text)

	return text
}

func (s *Service) getSpans(
	ctx context.Context,
	trackID, voiceID string,
	words []core.WordTiming,
	text string,
) ([]core.CharSpan, error) {
	// A cached entry computed against an older sequence is stale once the
	// timings were reloaded; recompute instead of serving it.
	key := timingKey(trackID, voiceID)
	if spans, ok := s.spanCache.Get(key); ok && len(spans) == len(words) {
		return spans, nil
	}

	if err := s.cpu.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring text-op slot: %w", err)
	}

	spans := s.mapper.MapSpans(words, text)
	s.cpu.Release(1)

	s.spanCache.Add(key, spans)

	return spans, nil
}

func (s *Service) getPlan(
	ctx context.Context,
	trackID, voiceID string,
	words []core.WordTiming,
	spans []core.CharSpan,
	text string,
	pageSize int,
) (core.PagePlan, error) {
	// The timing and plan caches evict independently, and ingest can grow
	// or replace a sequence between lookups. A plan built for a different
	// word count must not be applied to the reloaded sequence.
	key := planKey(trackID, voiceID, pageSize)
	if plan, ok := s.planCache.Get(key); ok && plan.TotalWords == len(words) {
		return plan, nil
	}

	if err := s.cpu.Acquire(ctx, 1); err != nil {
		return core.PagePlan{}, fmt.Errorf("acquiring text-op slot: %w", err)
	}

	plan := s.planner.Plan(words, spans, text, pageSize)
	s.cpu.Release(1)

	s.planCache.Add(key, plan)

	return plan, nil
}

func timingKey(trackID, voiceID string) string {
	return trackID + ":" + voiceID
}

func planKey(trackID, voiceID string, pageSize int) string {
	return timingKey(trackID, voiceID) + ":" + strconv.Itoa(pageSize)
}

func pageKey(trackID, voiceID string, pageSize, page int) string {
	return planKey(trackID, voiceID, pageSize) + ":" + strconv.Itoa(page)
}

func joinWordTexts(words []core.WordTiming) string {
	var b strings.Builder
	for i := range words {
		if i > 0 {
			b.WriteByte(' ')
		}

		b.WriteString(words[i].Word)
	}

	return b.String()
}

func timingsSize(words []core.WordTiming) int {
	size := 0
	for i := range words {
		size += 48 + len(words[i].Word)
	}

	return size
}

func pageResultSize(result core.PageResult) int {
	size := len(result.SourceTextSegment)
	for i := range result.Tokens {
		size += 32 + len(result.Tokens[i].Text)
	}

	size += timingsSize(result.WordTimings)

	return size
}
