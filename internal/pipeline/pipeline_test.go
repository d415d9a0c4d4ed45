package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/card-restore/internal/domain"
	"github.com/fpang/card-restore/internal/pool"
	"github.com/fpang/card-restore/internal/store"
	"github.com/fpang/card-restore/internal/strategy"
	"github.com/fpang/card-restore/internal/upload"
)

type correctorFunc func(ctx context.Context, raw []byte) ([]byte, error)

func (f correctorFunc) Correct(ctx context.Context, raw []byte) ([]byte, error) { return f(ctx, raw) }

var okCorrector = correctorFunc(func(_ context.Context, raw []byte) ([]byte, error) {
	return append([]byte("corrected:"), raw...), nil
})

type fakeAnalyzer struct {
	layout     func(ctx context.Context) (string, error)
	background func(ctx context.Context) (domain.BackgroundInfo, error)
}

func (a *fakeAnalyzer) Thumbnail(_ context.Context, corrected []byte) []byte { return corrected }

func (a *fakeAnalyzer) DescribeLayout(ctx context.Context, _ []byte) (string, error) {
	if a.layout == nil {
		return "logo top left", nil
	}
	return a.layout(ctx)
}

func (a *fakeAnalyzer) ClassifyBackground(ctx context.Context, _ []byte) (domain.BackgroundInfo, error) {
	if a.background == nil {
		return domain.BackgroundInfo{IsSolid: true, HexColor: "#FFFFFF"}, nil
	}
	return a.background(ctx)
}

type passRectifier struct{}

func (passRectifier) Rectify(_ context.Context, generated []byte, _ bool) []byte {
	return append([]byte("crop:"), generated...)
}

type mapFetcher struct {
	mu    sync.Mutex
	data  map[string][]byte
	onGet func()
}

func (f *mapFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if f.onGet != nil {
		f.onGet()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.HasPrefix(url, "https://ephemeral/") {
		return []byte("generated:" + url), nil
	}
	if b, ok := f.data[url]; ok {
		return b, nil
	}
	return nil, domain.NewStageError(domain.FailureDownload, "download", domain.ErrDownloadFailed)
}

type staticRefs []string

func (r staticRefs) URLs() []string { return r }

// recordingGenerator records every request and returns an ephemeral URL.
type recordingGenerator struct {
	mu       sync.Mutex
	requests []strategy.GenerateRequest
	started  chan string
	hook     func(req strategy.GenerateRequest)
}

func (g *recordingGenerator) Generate(_ context.Context, req strategy.GenerateRequest) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.started != nil {
		g.started <- req.Strategy
	}
	if g.hook != nil {
		g.hook(req)
	}
	return "https://ephemeral/" + req.Strategy, nil
}

func (g *recordingGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *recordingGenerator) request(key string) (strategy.GenerateRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.requests {
		if r.Strategy == key {
			return r, true
		}
	}
	return strategy.GenerateRequest{}, false
}

func okStore() upload.AssetStore {
	var n atomic.Int32
	return upload.StoreFunc(func(context.Context, upload.Object) (string, error) {
		return "https://cdn/" + string(rune('a'+n.Add(1)%26)), nil
	})
}

type fixture struct {
	deps Deps
	opts Options
	gen  *recordingGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gen := &recordingGenerator{}
	return &fixture{
		gen: gen,
		deps: Deps{
			Corrector: okCorrector,
			Analyzer:  &fakeAnalyzer{},
			Generator: gen,
			Rectifier: passRectifier{},
			Uploader:  upload.NewManager(okStore(), pool.NewSemaphore("upload", 50), nil),
			Fetcher:   &mapFetcher{data: map[string][]byte{}},
			Refs:      staticRefs{"https://ref/0", "https://ref/1"},
		},
		opts: Options{LayoutWait: time.Second},
	}
}

func (f *fixture) processor() *Processor {
	return New(f.deps, f.opts)
}

func fileSource(name string, data []byte) FileSource {
	return FileSource{Name: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

func TestProcessFiles_EndToEndSuccess(t *testing.T) {
	f := newFixture(t)
	batchStore := store.NewMemoryStore(time.Hour)
	f.deps.Store = batchStore

	batch := f.processor().ProcessFiles(context.Background(), []FileSource{fileSource("card.jpg", []byte("photo"))})

	require.Equal(t, 1, batch.Total)
	require.Equal(t, 1, batch.Success)
	assert.True(t, strings.HasPrefix(batch.BatchID, "batch-"))

	res := batch.Results[0]
	assert.Equal(t, "card.jpg", res.Filename)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.NotEmpty(t, res.OriginalImageURL)
	assert.NotEmpty(t, res.CorrectedImageURL)
	require.NotNil(t, res.BackgroundInfo)
	assert.Equal(t, domain.BackgroundInfo{IsSolid: true, HexColor: "#FFFFFF"}, *res.BackgroundInfo)

	require.Len(t, res.Generations, 4)
	wantOrder := []string{"静态生成", "视觉分析", "内容锁定", "参考图"}
	for i, g := range res.Generations {
		assert.Equal(t, wantOrder[i], g.StrategyName)
		assert.NotEmpty(t, g.CropImageURL, g.StrategyName)
		assert.NotEmpty(t, g.GenImageURL, g.StrategyName)
	}

	stored, err := batchStore.GetBatch(context.Background(), batch.BatchID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, batch.Success, stored.Success)
}

func TestProcess_RequestImages(t *testing.T) {
	f := newFixture(t)
	f.processor().Process(context.Background(), domain.WorkItem{Source: "card.jpg", Data: []byte("photo")}, "")

	ref, ok := f.gen.request("reference")
	require.True(t, ok)
	require.Len(t, ref.Images, 3)
	assert.Equal(t, "https://ref/0", ref.Images[0])
	assert.True(t, strings.HasPrefix(ref.Images[2], "data:image/jpeg;base64,"), "card must be the last image")
	assert.Equal(t, "3000x1824", ref.Size)

	static, ok := f.gen.request("static")
	require.True(t, ok)
	assert.Len(t, static.Images, 1)

	vision, ok := f.gen.request("vision")
	require.True(t, ok)
	assert.Contains(t, vision.Prompt, "logo top left")
}

func TestProcess_CorrectionFailure(t *testing.T) {
	f := newFixture(t)
	f.deps.Corrector = correctorFunc(func(context.Context, []byte) ([]byte, error) {
		return nil, domain.NewStageError(domain.FailureCorrection, "correct", domain.ErrCorrectionFailed)
	})

	batch := f.processor().ProcessFiles(context.Background(), []FileSource{fileSource("bad.jpg", []byte("photo"))})

	require.Equal(t, 1, batch.Total)
	assert.Equal(t, 0, batch.Success)
	res := batch.Results[0]
	assert.Equal(t, domain.StatusFailedCorrection, res.Status)
	assert.Empty(t, res.Generations)
	assert.Empty(t, res.OriginalImageURL, "original URL is only reported for successful items")
	assert.Equal(t, 0, f.gen.count(), "no generation calls after a correction failure")
}

func TestProcess_CorrectionPanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.deps.Corrector = correctorFunc(func(context.Context, []byte) ([]byte, error) {
		panic("model crashed")
	})

	res := f.processor().Process(context.Background(), domain.WorkItem{Source: "x.jpg", Data: []byte("photo")}, "")
	assert.Equal(t, domain.StatusFailedCorrection, res.Status)
	assert.Equal(t, 0, f.gen.count())
}

func TestProcess_UntypedCorrectionErrorIsClassified(t *testing.T) {
	f := newFixture(t)
	f.deps.Corrector = correctorFunc(func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("connection reset")
	})

	res := f.processor().Process(context.Background(), domain.WorkItem{Source: "x.jpg", Data: []byte("photo")}, "")
	assert.Equal(t, domain.StatusFailedCorrection, res.Status)
	assert.Contains(t, res.Error, "correction failure")
	assert.Contains(t, res.Error, "connection reset")
}

func TestDispatcher_IndependentStrategiesStartBeforeLayout(t *testing.T) {
	f := newFixture(t)
	f.gen.started = make(chan string, 8)
	releaseLayout := make(chan struct{})
	var layoutDone atomic.Bool
	f.deps.Analyzer = &fakeAnalyzer{layout: func(ctx context.Context) (string, error) {
		<-releaseLayout
		layoutDone.Store(true)
		return "two columns", nil
	}}
	f.opts.LayoutWait = 5 * time.Second

	done := make(chan domain.ItemResult, 1)
	go func() {
		done <- f.processor().Process(context.Background(), domain.WorkItem{Source: "card.jpg", Data: []byte("photo")}, "")
	}()

	started := map[string]bool{}
	for len(started) < 3 {
		select {
		case key := <-f.gen.started:
			assert.NotEqual(t, "vision", key, "layout-guided strategy started before the layout resolved")
			assert.False(t, layoutDone.Load())
			started[key] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("independent strategies did not start while layout was pending; started=%v", started)
		}
	}
	assert.True(t, started["static"] && started["content_lock"] && started["reference"])

	close(releaseLayout)
	select {
	case key := <-f.gen.started:
		assert.Equal(t, "vision", key)
	case <-time.After(2 * time.Second):
		t.Fatal("layout-guided strategy never started")
	}

	res := <-done
	assert.Len(t, res.Generations, 4)
	vision, _ := f.gen.request("vision")
	assert.Contains(t, vision.Prompt, "two columns")
}

func TestDispatcher_TwoIndependentTwoDependent(t *testing.T) {
	all := strategy.All()
	layoutA, layoutB := all[1], all[1]
	layoutA.Name, layoutA.Key = "视觉A", "vision_a"
	layoutB.Name, layoutB.Key = "视觉B", "vision_b"
	// Interleave so table order differs from launch order.
	table := []strategy.Strategy{layoutA, all[0], layoutB, all[2]}

	f := newFixture(t)
	f.opts.Strategies = table
	f.gen.started = make(chan string, 8)
	releaseLayout := make(chan struct{})
	f.deps.Analyzer = &fakeAnalyzer{layout: func(ctx context.Context) (string, error) {
		<-releaseLayout
		return "stacked", nil
	}}
	f.opts.LayoutWait = 5 * time.Second

	done := make(chan domain.ItemResult, 1)
	go func() {
		done <- f.processor().Process(context.Background(), domain.WorkItem{Source: "card.jpg", Data: []byte("photo")}, "")
	}()

	first := map[string]bool{}
	for len(first) < 2 {
		select {
		case key := <-f.gen.started:
			first[key] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("independent strategies did not start; started=%v", first)
		}
	}
	assert.Equal(t, map[string]bool{"static": true, "content_lock": true}, first)

	close(releaseLayout)
	second := map[string]bool{}
	for len(second) < 2 {
		select {
		case key := <-f.gen.started:
			second[key] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("layout-guided strategies did not start; started=%v", second)
		}
	}
	assert.Equal(t, map[string]bool{"vision_a": true, "vision_b": true}, second)

	res := <-done
	require.Len(t, res.Generations, 4)
	for i, g := range res.Generations {
		assert.Equal(t, table[i].Name, g.StrategyName)
	}
	for _, key := range []string{"vision_a", "vision_b"} {
		req, ok := f.gen.request(key)
		require.True(t, ok)
		assert.Contains(t, req.Prompt, "stacked")
	}
}

func TestDispatcher_LayoutTimeoutSubstitutesEmpty(t *testing.T) {
	f := newFixture(t)
	f.deps.Analyzer = &fakeAnalyzer{layout: func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	f.opts.LayoutWait = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	res := f.processor().Process(ctx, domain.WorkItem{Source: "card.jpg", Data: []byte("photo")}, "")

	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.Len(t, res.Generations, 4)
	assert.Less(t, time.Since(start), 4*time.Second)

	vision, ok := f.gen.request("vision")
	require.True(t, ok)
	assert.NotContains(t, vision.Prompt, "logo top left")
}

func TestProcess_UploadFailureStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "reject") {
			io.WriteString(w, `{"success": false}`)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	for _, path := range []string{"/error", "/reject"} {
		t.Run(path, func(t *testing.T) {
			f := newFixture(t)
			httpStore := upload.NewHTTPStore(srv.URL+path, "https://cdn/", time.Second)
			f.deps.Uploader = upload.NewManager(httpStore, pool.NewSemaphore("upload", 4), nil)

			res := f.processor().Process(context.Background(), domain.WorkItem{Source: "card.jpg", Data: []byte("photo")}, "")

			assert.Equal(t, domain.StatusSuccess, res.Status)
			assert.Empty(t, res.CorrectedImageURL)
			require.Len(t, res.Generations, 4)
			for _, g := range res.Generations {
				assert.Empty(t, g.CropImageURL)
				assert.True(t, strings.HasPrefix(g.GenImageURL, "https://ephemeral/"), "raw URL falls back to the temporary URL")
			}
		})
	}
}

func TestProcess_BackgroundFailureUsesDefault(t *testing.T) {
	f := newFixture(t)
	f.deps.Analyzer = &fakeAnalyzer{background: func(context.Context) (domain.BackgroundInfo, error) {
		return domain.BackgroundInfo{IsSolid: true}, errors.New("unparsable")
	}}

	res := f.processor().Process(context.Background(), domain.WorkItem{Source: "card.jpg", Data: []byte("photo")}, "")
	require.NotNil(t, res.BackgroundInfo)
	assert.Equal(t, domain.DefaultBackground(), *res.BackgroundInfo)
	assert.Equal(t, domain.StatusSuccess, res.Status)
}

func TestDispatcher_FailedStrategyIsDropped(t *testing.T) {
	f := newFixture(t)
	f.gen.hook = func(req strategy.GenerateRequest) {
		if req.Strategy == "content_lock" {
			panic("bad response")
		}
	}

	res := f.processor().Process(context.Background(), domain.WorkItem{Source: "card.jpg", Data: []byte("photo")}, "")
	require.Len(t, res.Generations, 3)
	for _, g := range res.Generations {
		assert.NotEqual(t, "内容锁定", g.StrategyName)
	}
}

func TestProcessURLs(t *testing.T) {
	f := newFixture(t)
	f.deps.Fetcher = &mapFetcher{data: map[string][]byte{
		"https://img/ok.jpg": []byte("photo"),
	}}

	batch := f.processor().ProcessURLs(context.Background(), []string{"https://img/ok.jpg", "https://img/missing.jpg"})

	require.Equal(t, 2, batch.Total)
	assert.Equal(t, 1, batch.Success)

	ok := batch.Results[0]
	assert.Equal(t, "url_0", ok.Filename)
	assert.Equal(t, "https://img/ok.jpg", ok.OriginalImageURL)
	assert.Len(t, ok.Generations, 4)

	failed := batch.Results[1]
	assert.Equal(t, "https://img/missing.jpg", failed.Filename)
	assert.Equal(t, domain.StatusFailedDownload, failed.Status)
	assert.Empty(t, failed.Generations)
}

func TestProcessURLs_AdmissionBound(t *testing.T) {
	const admission = 3
	f := newFixture(t)
	f.opts.Admission = admission

	var inFlight, peak atomic.Int32
	data := map[string][]byte{}
	urls := make([]string, 20)
	for i := range urls {
		urls[i] = "https://img/" + string(rune('a'+i)) + ".jpg"
		data[urls[i]] = []byte("photo")
	}
	f.deps.Fetcher = &mapFetcher{data: data, onGet: func() {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
	}}
	f.deps.Corrector = correctorFunc(func(context.Context, []byte) ([]byte, error) {
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil, domain.ErrCorrectionFailed
	})

	p := New(f.deps, f.opts)
	batch := p.ProcessURLs(context.Background(), urls)

	assert.Equal(t, 20, batch.Total)
	assert.LessOrEqual(t, int(peak.Load()), admission)
	assert.LessOrEqual(t, p.AdmissionPeak(), admission)
}

func TestProcessFiles_ReadFailure(t *testing.T) {
	f := newFixture(t)
	broken := FileSource{Name: "broken.jpg", Open: func() (io.ReadCloser, error) {
		return nil, errors.New("multipart part gone")
	}}

	batch := f.processor().ProcessFiles(context.Background(), []FileSource{broken, fileSource("empty.jpg", nil)})
	for _, r := range batch.Results {
		assert.Equal(t, domain.StatusFailedDownload, r.Status, r.Filename)
	}
	assert.Equal(t, 0, f.gen.count())
}

func TestProcessFiles_OnItemHook(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var seen []string
	f.opts.OnItem = func(r domain.ItemResult) {
		mu.Lock()
		seen = append(seen, r.Filename)
		mu.Unlock()
	}

	f.processor().ProcessFiles(context.Background(), []FileSource{
		fileSource("a.jpg", []byte("a")),
		fileSource("b.jpg", []byte("b")),
	})
	assert.ElementsMatch(t, []string{"a.jpg", "b.jpg"}, seen)
}
