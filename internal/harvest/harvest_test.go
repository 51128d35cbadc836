package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"gallery/internal/config"
	"gallery/internal/domain"
	"gallery/internal/gallery"
	"gallery/internal/monitoring"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexPage = `<html><body>
<figure class="object" id="object-SK-1" data-object-url="/object/SK-1" data-title="The Night Watch"></figure>
<figure class="object" id="object-SK-2" data-object-url="/object/SK-2"></figure>
</body></html>`

const elementPage = `<html><body>
<section class="description">
  <h2 class="description-title">The  Night Watch</h2>
  <p class="description-author">Rembrandt van Rijn</p>
</section>
<section class="description-story description">
  <p>Militia company of <em>District II</em>.</p>
  <a href="/explore/rembrandt">Rembrandt</a>
</section>
<div class="tags"><a href="/search?q=militia">Militia</a><a href="/search?q=night">Night</a></div>
<dl class="object-data"><dt>Date</dt><dd>1642</dd><dt>Medium</dt><dd>oil on canvas</dd></dl>
<ul class="related">
  <li><span>Study</span><a href="/object/SK-3">x</a></li>
  <li><span>Study</span><a href="/object/SK-4">x</a></li>
</ul>
<a class="download" href="/download/SK-1">Download</a>
</body></html>`

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 20), G: uint8(y * 30), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func catalog(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	picture := jpegBytes(t, 8, 6)
	var mu sync.Mutex
	elementHits := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/collection", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexPage)
	})
	mux.HandleFunc("/object/SK-1", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		elementHits++
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, elementPage)
	})
	mux.HandleFunc("/object/SK-2", http.NotFound)
	mux.HandleFunc("/download/SK-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Disposition", `attachment; filename="night-watch.jpg"`)
		if r.Method == http.MethodGet {
			_, _ = w.Write(picture)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &elementHits
}

func testConfig(t *testing.T, base string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`
gallery_url: %s/collection
data_folder: %s
images_folder: %s
workers: 2
request_delay: 0s
max_failures: 1
`, base, filepath.Join(dir, "Data"), filepath.Join(dir, "Data", "Img"))
	path := filepath.Join(dir, "gallery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newGallery(t *testing.T, cfg *config.Config) *gallery.Gallery {
	t.Helper()
	g, err := gallery.New(gallery.Options{
		GalleryURL:  cfg.GalleryURL,
		DataFolder:  cfg.DataFolder,
		ImageFolder: cfg.ImagesFolder,
		Schema:      cfg.Schema,
	})
	require.NoError(t, err)
	return g
}

type fakeDedup struct {
	mu       sync.Mutex
	marks    map[string]bool
	failures map[string]int64
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{marks: map[string]bool{}, failures: map[string]int64{}}
}

func (f *fakeDedup) IsRecentlyScraped(_ context.Context, url string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marks[url], nil
}

func (f *fakeDedup) MarkAsScraped(_ context.Context, url string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks[url] = true
	return nil
}

func (f *fakeDedup) IncrementFailureCount(_ context.Context, url string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url]++
	return f.failures[url], nil
}

type fakeSink struct {
	mu      sync.Mutex
	records map[string]*domain.ElementRecord
}

func (f *fakeSink) SaveRecord(_ context.Context, rec *domain.ElementRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records == nil {
		f.records = map[string]*domain.ElementRecord{}
	}
	f.records[rec.URL] = rec
	return nil
}

func column(t *testing.T, g *gallery.Gallery, name string) []string {
	t.Helper()
	v, err := g.GetData(name)
	require.NoError(t, err)
	return v
}

func TestRunHarvestsGallery(t *testing.T) {
	srv, _ := catalog(t)
	cfg := testConfig(t, srv.URL)
	g := newGallery(t, cfg)
	dedup, sink := newFakeDedup(), &fakeSink{}
	metrics := monitoring.NewMetrics()

	h := New(Options{Config: cfg, Gallery: g, Dedup: dedup, Sink: sink, Metrics: metrics})
	res, err := h.Run(context.Background(), false)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.ErrorContains(t, res.Err, "/object/SK-2")

	assert.Equal(t, []string{"SK-1", "SK-2"}, column(t, g, gallery.ColID))
	assert.Equal(t, []string{"The Night Watch", "untitled"}, column(t, g, gallery.ColTitle))
	assert.Equal(t, []string{srv.URL + "/object/SK-1", srv.URL + "/object/SK-2"}, column(t, g, gallery.ColURL))
	assert.Equal(t, []string{srv.URL + "/download/SK-1", ""}, column(t, g, gallery.ColDownloadURL))
	assert.Equal(t, []string{"true", ""}, column(t, g, gallery.ColHasPicture))

	var desc domain.Pairs
	require.NoError(t, json.Unmarshal([]byte(column(t, g, gallery.ColDescription)[0]), &desc))
	assert.Equal(t, []string{"title", "author", "story", "Rembrandt"}, desc.Keys())
	title, _ := desc.Get("title")
	assert.Equal(t, "The Night Watch", title)

	assert.JSONEq(t, `{"Date":"1642","Medium":"oil on canvas"}`, column(t, g, gallery.ColObjectData)[0])
	assert.JSONEq(t, fmt.Sprintf(`{"Study":"%[1]s/object/SK-3","Study 2":"%[1]s/object/SK-4"}`, srv.URL),
		column(t, g, gallery.ColRelatedWork)[0])
	assert.JSONEq(t, fmt.Sprintf(`{"Militia":"%[1]s/search?q=militia","Night":"%[1]s/search?q=night"}`, srv.URL),
		column(t, g, gallery.ColSearchTags)[0])

	_, err = os.Stat(filepath.Join(cfg.ImagesFolder, "SK-1", "night-watch.jpg"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.DataFolder, cfg.CSVFile))
	assert.NoError(t, err)

	require.Len(t, sink.records, 2)
	assert.Equal(t, domain.StatusCompleted, sink.records[srv.URL+"/object/SK-1"].Status)
	assert.Equal(t, domain.StatusFailed, sink.records[srv.URL+"/object/SK-2"].Status)
	assert.Equal(t, res.RunID, sink.records[srv.URL+"/object/SK-1"].RunID)
	assert.True(t, dedup.marks[srv.URL+"/object/SK-1"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ElementsTotal.WithLabelValues(domain.StatusCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AssetsSaved))
}

func TestRunSkipsRecentlyScraped(t *testing.T) {
	srv, hits := catalog(t)
	cfg := testConfig(t, srv.URL)
	g := newGallery(t, cfg)
	h := New(Options{Config: cfg, Gallery: g, Dedup: newFakeDedup()})

	_, err := h.Run(context.Background(), false)
	require.NoError(t, err)
	firstDesc := column(t, g, gallery.ColDescription)[0]

	res, err := h.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped, "the failed element reached max_failures and is marked too")
	assert.Equal(t, 1, *hits)
	assert.Equal(t, firstDesc, column(t, g, gallery.ColDescription)[0], "skipped rows keep their values")

	res, err = h.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 2, *hits)
}

func TestRunWithoutStores(t *testing.T) {
	srv, _ := catalog(t)
	cfg := testConfig(t, srv.URL)
	h := New(Options{Config: cfg, Gallery: newGallery(t, cfg)})

	res, err := h.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Failed)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	srv, _ := catalog(t)
	cfg := testConfig(t, srv.URL)
	h := New(Options{Config: cfg, Gallery: newGallery(t, cfg)})

	h.running.Store(true)
	_, err := h.Run(context.Background(), false)
	assert.ErrorIs(t, err, ErrBusy)
	assert.True(t, h.Running())
}

func TestRunIndexFailure(t *testing.T) {
	srv, _ := catalog(t)
	cfg := testConfig(t, srv.URL)
	cfg.GalleryURL = srv.URL + "/missing"
	h := New(Options{Config: cfg, Gallery: newGallery(t, cfg)})

	_, err := h.Run(context.Background(), false)
	assert.Equal(t, gallery.KindFetch, gallery.KindOf(err))
	assert.False(t, h.Running())
}

func TestDeriverRecordsImageData(t *testing.T) {
	srv, _ := catalog(t)
	cfg := testConfig(t, srv.URL)
	g := newGallery(t, cfg)
	_, err := New(Options{Config: cfg, Gallery: g}).Run(context.Background(), false)
	require.NoError(t, err)

	metrics := monitoring.NewMetrics()
	res, err := NewDeriver(cfg, g, metrics, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 1, res.Exported)
	assert.NoError(t, res.Err)

	var paths map[string]string
	require.NoError(t, json.Unmarshal([]byte(column(t, g, gallery.ColImgData)[0]), &paths))
	assert.Equal(t, filepath.Join("Data", "Img", "SK-1", "night-watch-rgb.jpg"), paths["rgb"])
	assert.Equal(t, filepath.Join("Data", "Img", "SK-1", "night-watch-bw.jpg"), paths["bw"])

	var shapes map[string][]int
	require.NoError(t, json.Unmarshal([]byte(column(t, g, gallery.ColImgShape)[0]), &shapes))
	assert.Equal(t, []int{6, 8, 3}, shapes["rgb"])
	assert.Equal(t, []int{6, 8}, shapes["bw"])
	assert.Equal(t, "", column(t, g, gallery.ColImgData)[1])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DerivativesTotal.WithLabelValues("rgb")))

	// derivatives are not taken for sources on a second pass
	res, err = NewDeriver(cfg, g, nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Exported)
}

func TestDeriverCountsEmptyExportAsMissing(t *testing.T) {
	srv, _ := catalog(t)
	cfg := testConfig(t, srv.URL)
	g := newGallery(t, cfg)
	_, err := New(Options{Config: cfg, Gallery: g}).Run(context.Background(), false)
	require.NoError(t, err)

	cfg.Derivatives = []domain.Derivative{{Key: "sepia", Suffix: "-sepia", Ext: "jpg"}}
	res, err := NewDeriver(cfg, g, nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Exported)
	assert.Equal(t, 1, res.Missing)
	assert.Equal(t, []string{"", ""}, column(t, g, gallery.ColImgData))
	assert.Equal(t, []string{"", ""}, column(t, g, gallery.ColImgShape))
}

func TestOriginals(t *testing.T) {
	derivs := []domain.Derivative{{Key: "rgb", Suffix: "-rgb", Ext: "jpg"}, {Key: "bw", Suffix: "-bw", Ext: "jpg"}}
	got := originals([]string{"/a/x.jpg", "/a/x-rgb.jpg", "/a/x-bw.jpg", "/a/y.jpg"}, derivs)
	assert.Equal(t, []string{"/a/x.jpg", "/a/y.jpg"}, got)
}
