package page

import (
	"context"
	"gallery/internal/domain"
	"gallery/internal/proxy"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexHTML = `<html><body>
<div class="grid">
  <a class="work card" id="obj-1" href="/object/1" title="Mona Lisa">One</a>
  <a class="work" id="obj-2" href="/object/2">Two</a>
  <a class="other" id="x" href="/elsewhere">Skip</a>
</div>
</body></html>`

type recordingObserver struct {
	mu    sync.Mutex
	kinds []string
}

func (o *recordingObserver) ObserveFetch(kind string, status int, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/index", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})
	mux.HandleFunc("/latin1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<html><body><h1>Caf\xe9</h1></body></html>"))
	})
	mux.HandleFunc("/download/SK-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Disposition", `attachment; filename="night.jpg"`)
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff, 0xe0})
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchBodyAndFind(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	obs := &recordingObserver{}
	client := NewClient(ClientOptions{Observer: obs, Proxies: proxy.NewManager(nil, []string{"gallery-test"})})

	p := client.NewPage()
	status, err := p.FetchBody(context.Background(), srv.URL+"/index")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	all, err := p.Find(domain.Selector{Tag: "a", Attrs: map[string]string{"class": "work"}}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, all.Length())

	first, err := p.Find(domain.Selector{Tag: "a", Attrs: map[string]string{"class": "work"}}, false)
	require.NoError(t, err)
	id, _ := first.Attr("id")
	assert.Equal(t, "obj-1", id)

	assert.Equal(t, []string{"body"}, obs.kinds)
}

func TestFindXPath(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	p := NewClient(ClientOptions{}).NewPage()

	_, err := p.FetchBody(context.Background(), srv.URL+"/index")
	require.NoError(t, err)

	sel, err := p.Find(domain.Selector{Tag: "//div[@class='grid']/a[@href]"}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, sel.Length())

	filtered, err := p.Find(domain.Selector{Tag: "//a", Attrs: map[string]string{"class": "work"}}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, filtered.Length())

	_, err = p.Find(domain.Selector{Tag: "//a[@"}, true)
	assert.Error(t, err)
}

func TestFindBeforeFetch(t *testing.T) {
	t.Parallel()

	_, err := NewClient(ClientOptions{}).NewPage().Find(domain.Selector{Tag: "a"}, true)
	assert.ErrorIs(t, err, ErrNotParsed)
}

func TestFetchBodyNotFoundIsNotAnError(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	p := NewClient(ClientOptions{}).NewPage()

	status, err := p.FetchBody(context.Background(), srv.URL+"/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Nil(t, p.Document())
}

func TestFetchBodyTransportError(t *testing.T) {
	t.Parallel()
	p := NewClient(ClientOptions{Timeout: time.Second}).NewPage()

	_, err := p.FetchBody(context.Background(), "http://127.0.0.1:1/unreachable")
	assert.Error(t, err)
}

func TestFetchBodyDecodesDeclaredCharset(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	p := NewClient(ClientOptions{}).NewPage()

	_, err := p.FetchBody(context.Background(), srv.URL+"/latin1")
	require.NoError(t, err)
	h1, err := p.Find(domain.Selector{Tag: "h1"}, false)
	require.NoError(t, err)
	assert.Equal(t, "Café", h1.Text())
}

func TestFetchHeadersThenContent(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	p := NewClient(ClientOptions{}).NewPage()

	status, err := p.FetchHeaders(context.Background(), srv.URL+"/download/SK-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, p.Body())
	assert.Equal(t, `attachment; filename="night.jpg"`, p.Headers()["Content-Disposition"])

	status, err = p.FetchContent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xe0}, p.Body())
}

func TestFetchContentWithoutHeaders(t *testing.T) {
	t.Parallel()

	_, err := NewClient(ClientOptions{}).NewPage().FetchContent(context.Background())
	assert.Error(t, err)
}

func TestFetchCollectionSpacesRequests(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	client := NewClient(ClientOptions{})

	delay := 150 * time.Millisecond
	start := time.Now()
	for i := 0; i < 2; i++ {
		status, err := client.NewPage().FetchCollection(context.Background(), srv.URL+"/index", delay)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, status)
	}
	assert.GreaterOrEqual(t, time.Since(start), delay)
}

func TestFetchCollectionHonoursContext(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	client := NewClient(ClientOptions{})

	_, err := client.NewPage().FetchCollection(context.Background(), srv.URL+"/index", time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.NewPage().FetchCollection(ctx, srv.URL+"/index", time.Hour)
	assert.Error(t, err)
}

func TestCSS(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `div[class~="grid"][data-kind="a\"b"]`,
		CSS(domain.Selector{Tag: "div", Attrs: map[string]string{"data-kind": `a"b`, "class": "grid"}}))
	assert.Equal(t, "*", CSS(domain.Selector{}))
}

func TestNewDocumentDetectsLegacyCharset(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument([]byte(`<p>Caf` + "\xe9" + ` cr` + "\xe8" + `me br` + "\xfb" + `l` + "\xe9" + `e, na` + "\xef" + `ve fa` + "\xe7" + `ade</p>`))
	require.NoError(t, err)
	assert.Contains(t, doc.Find("p").Text(), "Caf")
}
