// Package readalong_test tests the caching orchestrator.
package readalong_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/readalong-service/internal/core"
	"github.com/book-expert/readalong-service/internal/readalong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store down")

// mockTimingStore counts loads and can gate them so concurrent requests pile
// up behind the first computation.
type mockTimingStore struct {
	words []core.WordTiming
	fail  bool
	gate  chan struct{}
	calls atomic.Int64
}

func (m *mockTimingStore) GetWordTimings(
	_ context.Context,
	_, _ string,
) ([]core.WordTiming, error) {
	m.calls.Add(1)

	if m.gate != nil {
		<-m.gate
	}

	if m.fail {
		return nil, errStoreDown
	}

	return m.words, nil
}

type mockTextStore struct {
	text string
	fail bool
}

func (m *mockTextStore) GetSourceText(_ context.Context, _ string) (string, error) {
	if m.fail {
		return "", errStoreDown
	}

	return m.text, nil
}

type allowAll struct{}

func (allowAll) CanRead(_ context.Context, _, _ string) bool { return true }

type denyAll struct{}

func (denyAll) CanRead(_ context.Context, _, _ string) bool { return false }

// storyFixture builds a small corpus of sentences with matching timings.
func storyFixture(sentences int) ([]core.WordTiming, string) {
	var (
		words []core.WordTiming
		text  strings.Builder
	)

	at := 0.0

	for s := range sentences {
		for w := range 5 {
			token := fmt.Sprintf("s%dw%d", s, w)
			if w == 4 {
				token += "."
			}

			if text.Len() > 0 {
				text.WriteByte(' ')
			}

			text.WriteString(token)
			words = append(words, core.WordTiming{
				Word:      token,
				StartTime: at,
				EndTime:   at + 0.4,
				WordIndex: uint64(len(words)),
			})
			at += 0.5
		}
	}

	return words, text.String()
}

func newService(
	t *testing.T,
	timings *mockTimingStore,
	texts *mockTextStore,
	access core.AccessControl,
) *readalong.Service {
	t.Helper()

	return newServiceWithOptions(t, timings, texts, access, readalong.Options{})
}

func newServiceWithOptions(
	t *testing.T,
	timings *mockTimingStore,
	texts *mockTextStore,
	access core.AccessControl,
	opts readalong.Options,
) *readalong.Service {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "readalong-test.log")
	require.NoError(t, err)

	return readalong.New(timings, texts, access, testLogger, opts)
}

func TestGetPage_Success(t *testing.T) {
	t.Parallel()

	words, text := storyFixture(8)
	svc := newService(t, &mockTimingStore{words: words}, &mockTextStore{text: text}, allowAll{})

	result, err := svc.GetPage(context.Background(), "track", "voice", 0, 10)
	require.NoError(t, err)

	assert.Equal(t, core.PageSuccess, result.Status)
	assert.Equal(t, 40, result.TotalWords)
	assert.NotEmpty(t, result.Tokens)
	assert.NotEmpty(t, result.SourceTextSegment)
	assert.True(t, result.HasNext)
	assert.False(t, result.HasPrev)
	assert.Equal(t, 0, result.WordRange.Start)
	assert.InDelta(t, words[0].StartTime, result.TimeRange.Start, 1e-9)

	// Pages snap to sentence ends: the first page covers complete
	// five-word sentences.
	assert.Equal(t, 0, (result.WordRange.End+1)%5)
}

func TestGetPage_NoTimings(t *testing.T) {
	t.Parallel()

	svc := newService(t, &mockTimingStore{}, &mockTextStore{}, allowAll{})

	result, err := svc.GetPage(context.Background(), "track", "voice", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, core.PageNoTimings, result.Status)
	assert.Zero(t, result.TotalWords)
}

func TestGetPage_OutOfRange(t *testing.T) {
	t.Parallel()

	words, text := storyFixture(2)
	svc := newService(t, &mockTimingStore{words: words}, &mockTextStore{text: text}, allowAll{})

	result, err := svc.GetPage(context.Background(), "track", "voice", 99, 10)
	require.NoError(t, err)
	assert.Equal(t, core.PageOutOfRange, result.Status)
	assert.Positive(t, result.TotalPages)
}

func TestGetPage_AccessDenied(t *testing.T) {
	t.Parallel()

	timings := &mockTimingStore{}
	svc := newService(t, timings, &mockTextStore{}, denyAll{})

	_, err := svc.GetPage(context.Background(), "track", "voice", 0, 10)
	require.ErrorIs(t, err, readalong.ErrAccessDenied)
	assert.Zero(t, timings.calls.Load(), "denied requests must not touch storage")
}

func TestGetPage_StorageFailure(t *testing.T) {
	t.Parallel()

	svc := newService(t, &mockTimingStore{fail: true}, &mockTextStore{}, allowAll{})

	_, err := svc.GetPage(context.Background(), "track", "voice", 0, 10)
	require.ErrorIs(t, err, readalong.ErrTimingStorage)
}

// TestGetPage_TextFallback: a failing text store degrades to joining the
// synthesized words instead of failing the page.
func TestGetPage_TextFallback(t *testing.T) {
	t.Parallel()

	words, _ := storyFixture(4)
	svc := newService(t, &mockTimingStore{words: words}, &mockTextStore{fail: true}, allowAll{})

	result, err := svc.GetPage(context.Background(), "track", "voice", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, core.PageSuccess, result.Status)
	assert.Contains(t, result.SourceTextSegment, "s0w0")
}

// TestGetPage_SingleComputation: N concurrent requests for the same page
// result in exactly one timing load and one page build.
func TestGetPage_SingleComputation(t *testing.T) {
	t.Parallel()

	words, text := storyFixture(8)
	timings := &mockTimingStore{words: words, gate: make(chan struct{})}
	svc := newService(t, timings, &mockTextStore{text: text}, allowAll{})

	const concurrent = 16

	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)

	started.Add(concurrent)
	wg.Add(concurrent)

	for range concurrent {
		go func() {
			defer wg.Done()

			started.Done()

			result, err := svc.GetPage(context.Background(), "track", "voice", 0, 10)
			assert.NoError(t, err)
			assert.Equal(t, core.PageSuccess, result.Status)
		}()
	}

	started.Wait()
	close(timings.gate)
	wg.Wait()

	assert.Equal(t, int64(1), timings.calls.Load())
}

func TestGetPage_CachedSecondCall(t *testing.T) {
	t.Parallel()

	words, text := storyFixture(4)
	timings := &mockTimingStore{words: words}
	svc := newService(t, timings, &mockTextStore{text: text}, allowAll{})

	ctx := context.Background()

	_, err := svc.GetPage(ctx, "track", "voice", 0, 10)
	require.NoError(t, err)

	_, err = svc.GetPage(ctx, "track", "voice", 0, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(1), timings.calls.Load())

	stats := svc.CacheStats()
	require.Len(t, stats, 5)

	for _, s := range stats {
		if s.Name == "pages" {
			assert.Equal(t, uint64(1), s.Hits)
		}
	}
}

func TestWordAtTime(t *testing.T) {
	t.Parallel()

	words, text := storyFixture(4)
	svc := newService(t, &mockTimingStore{words: words}, &mockTextStore{text: text}, allowAll{})

	ctx := context.Background()

	result, err := svc.WordAtTime(ctx, "track", "voice", words[7].StartTime+0.1, 0.25)
	require.NoError(t, err)
	assert.Equal(t, readalong.StatusFound, result.Status)
	assert.Equal(t, 7, result.WordIndex)
	assert.Equal(t, "inside_or_padding", result.Reason)

	empty := newService(t, &mockTimingStore{}, &mockTextStore{}, allowAll{})

	result, err = empty.WordAtTime(ctx, "track", "voice", 1.0, 0.25)
	require.NoError(t, err)
	assert.Equal(t, readalong.StatusNoTimings, result.Status)
	assert.Equal(t, -1, result.WordIndex)
}

func TestTimeForWord(t *testing.T) {
	t.Parallel()

	words, text := storyFixture(4)
	svc := newService(t, &mockTimingStore{words: words}, &mockTextStore{text: text}, allowAll{})

	ctx := context.Background()

	result, err := svc.TimeForWord(ctx, "track", "voice", 7)
	require.NoError(t, err)
	assert.Equal(t, readalong.StatusFound, result.Status)
	assert.InDelta(t, words[7].StartTime, result.Time, 1e-9)

	result, err = svc.TimeForWord(ctx, "track", "voice", 9999)
	require.NoError(t, err)
	assert.Equal(t, readalong.StatusInvalidIndex, result.Status)
}

func TestPageInfo(t *testing.T) {
	t.Parallel()

	words, text := storyFixture(8)
	svc := newService(t, &mockTimingStore{words: words}, &mockTextStore{text: text}, allowAll{})

	ctx := context.Background()

	byWord, err := svc.PageInfo(ctx, "track", "voice", readalong.Locator{WordIndex: 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, readalong.StatusFound, byWord.Status)
	assert.Equal(t, 0, byWord.CurrentPage)
	assert.Positive(t, byWord.TotalPages)

	lastWord := len(words) - 1
	byTime, err := svc.PageInfo(ctx, "track", "voice",
		readalong.Locator{Time: words[lastWord].StartTime, ByTime: true}, 10)
	require.NoError(t, err)
	assert.Equal(t, byTime.TotalPages-1, byTime.CurrentPage)
}

// TestPageInfo_SequenceGrowsBehindCachedPlan: the timing and plan caches
// evict independently, so a lookup can see freshly reloaded timings alongside
// a plan built for the shorter sequence. The plan must be recomputed, never
// applied to word indices it does not cover.
func TestPageInfo_SequenceGrowsBehindCachedPlan(t *testing.T) {
	t.Parallel()

	short, _ := storyFixture(4)
	grown, text := storyFixture(8)
	timings := &mockTimingStore{words: short}
	svc := newServiceWithOptions(t, timings, &mockTextStore{text: text}, allowAll{},
		readalong.Options{TimingCacheSize: 1})

	ctx := context.Background()

	// Prime the plan for the 20-word sequence.
	info, err := svc.PageInfo(ctx, "track", "voice", readalong.Locator{WordIndex: 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, info.TotalPages)

	// Loading another track evicts this track's timings from the
	// single-slot cache; meanwhile ingest grows the sequence.
	_, err = svc.TimeForWord(ctx, "other", "voice", 0)
	require.NoError(t, err)

	timings.words = grown

	info, err = svc.PageInfo(ctx, "track", "voice", readalong.Locator{WordIndex: 35}, 10)
	require.NoError(t, err)
	assert.Equal(t, readalong.StatusFound, info.Status)
	assert.Equal(t, 4, info.TotalPages)
	assert.Equal(t, info.TotalPages-1, info.CurrentPage)
}

// TestGetPage_SequenceShrinksBehindCachedPlan: re-synthesis replaces the
// whole sequence, so a shrunken reload must not be sliced with the larger
// cached plan's bounds.
func TestGetPage_SequenceShrinksBehindCachedPlan(t *testing.T) {
	t.Parallel()

	long, text := storyFixture(8)
	shrunk, _ := storyFixture(2)
	timings := &mockTimingStore{words: long}
	svc := newServiceWithOptions(t, timings, &mockTextStore{text: text}, allowAll{},
		readalong.Options{TimingCacheSize: 1})

	ctx := context.Background()

	// Prime the plan for the 40-word sequence.
	result, err := svc.GetPage(ctx, "track", "voice", 0, 10)
	require.NoError(t, err)
	require.Equal(t, core.PageSuccess, result.Status)

	_, err = svc.TimeForWord(ctx, "other", "voice", 0)
	require.NoError(t, err)

	timings.words = shrunk

	result, err = svc.GetPage(ctx, "track", "voice", 3, 10)
	require.NoError(t, err)
	assert.Equal(t, core.PageOutOfRange, result.Status)
	assert.Equal(t, 1, result.TotalPages)
	assert.Equal(t, 10, result.TotalWords)
}

// TestGetPage_NoTimingsNotCached: a no_timings outcome must not linger in
// the caches once the track's timings are ingested.
func TestGetPage_NoTimingsNotCached(t *testing.T) {
	t.Parallel()

	timings := &mockTimingStore{}
	svc := newService(t, timings, &mockTextStore{}, allowAll{})

	ctx := context.Background()

	result, err := svc.GetPage(ctx, "track", "voice", 0, 10)
	require.NoError(t, err)
	require.Equal(t, core.PageNoTimings, result.Status)

	words, _ := storyFixture(2)
	timings.words = words

	result, err = svc.GetPage(ctx, "track", "voice", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, core.PageSuccess, result.Status)
	assert.Equal(t, 10, result.TotalWords)
}

func TestSearch_ThroughService(t *testing.T) {
	t.Parallel()

	words, text := storyFixture(4)
	svc := newService(t, &mockTimingStore{words: words}, &mockTextStore{text: text}, allowAll{})

	matches, err := svc.Search(context.Background(), "track", "voice", "s2w3", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 13, matches[0].WordIndex)
}
