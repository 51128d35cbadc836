// Package gallery keeps the schema-bound table of gallery elements and
// drives the index and element scrapes that fill it.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"gallery/internal/domain"
	"gallery/internal/page"
	"gallery/pkg/utils"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Column names of the default schema.
const (
	ColID          = "ID"
	ColTitle       = "TITLE"
	ColURL         = "COLLECTION_URL"
	ColDownloadURL = "DOWNLOAD_URL"
	ColHasPicture  = "HAS_PICTURE"
	ColDescription = "DESCRIPTION"
	ColSearchTags  = "SEARCH_TAGS"
	ColObjectData  = "OBJ_DATA"
	ColRelatedWork = "RELATED_WORK"
	ColImgData     = "IMG_DATA"
	ColImgShape    = "IMG_SHAPE"
)

// DefaultSchema is used when Options.Schema is empty.
var DefaultSchema = []string{
	ColID, ColTitle, ColURL, ColDownloadURL, ColHasPicture,
	ColDescription, ColSearchTags, ColObjectData, ColRelatedWork,
	ColImgData, ColImgShape,
}

// Options configures a Gallery.
type Options struct {
	GalleryURL  string // root URL of the remote catalog
	DataFolder  string // folder of the CSV file, relative to the working directory
	ImageFolder string // root folder of downloaded assets
	Schema      []string

	Client *page.Client
	Logger *zap.Logger
}

func (o *Options) validate() error {
	if !utils.IsAbsoluteHTTP(o.GalleryURL) {
		return fmt.Errorf("gallery url %q must be an absolute http(s) url", o.GalleryURL)
	}
	if o.DataFolder == "" {
		return errors.New("data folder is required")
	}
	if o.ImageFolder == "" {
		return errors.New("image folder is required")
	}
	if len(o.Schema) == 0 {
		o.Schema = DefaultSchema
	}
	seen := make(map[string]bool, len(o.Schema))
	for _, c := range o.Schema {
		if c == "" {
			return errors.New("schema has an empty column name")
		}
		if seen[c] {
			return fmt.Errorf("schema repeats column %q", c)
		}
		seen[c] = true
	}
	return nil
}

// Gallery is the record store: one table, one working page, and the
// operations that move data between them and local files. Its methods are
// safe for concurrent use but serialize on a single lock.
type Gallery struct {
	mu     sync.Mutex
	opts   Options
	schema []string
	table  *Table
	main   *Session
	logger *zap.Logger
}

// New validates opts and returns an empty gallery.
func New(opts Options) (*Gallery, error) {
	if err := opts.validate(); err != nil {
		return nil, newError("new", KindArgument, err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Client == nil {
		opts.Client = page.NewClient(page.ClientOptions{Logger: opts.Logger})
	}
	schema := slices.Clone(opts.Schema)

	g := &Gallery{
		opts:   opts,
		schema: schema,
		table:  NewTable(schema),
		logger: opts.Logger,
	}
	g.main = g.NewSession()
	return g, nil
}

// URL returns the catalog root URL.
func (g *Gallery) URL() string { return g.opts.GalleryURL }

// DataFolder returns the folder the CSV file lives in.
func (g *Gallery) DataFolder() string { return g.opts.DataFolder }

// ImageFolder returns the asset root folder.
func (g *Gallery) ImageFolder() string { return g.opts.ImageFolder }

// Schema returns a copy of the configured schema.
func (g *Gallery) Schema() []string { return slices.Clone(g.schema) }

// NewSession returns a session with its own working page.
func (g *Gallery) NewSession() *Session {
	return &Session{client: g.opts.Client, logger: g.logger}
}

// ScrapIndex fetches the index page after the given delay and returns
// every fragment matching sel.
func (g *Gallery) ScrapIndex(ctx context.Context, indexURL string, delay time.Duration, sel domain.Selector) (*goquery.Selection, error) {
	const op = "scrap index"
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.main.reset()
	status, err := p.FetchCollection(ctx, indexURL, delay)
	if err != nil {
		return nil, newError(op, KindFetch, err)
	}
	if status != http.StatusOK || p.Document() == nil {
		return nil, newError(op, KindFetch, fmt.Errorf("%s answered %d", indexURL, status))
	}
	found, err := p.Find(sel, true)
	if err != nil {
		return nil, newError(op, KindArgument, err)
	}
	g.logger.Info("index scraped", zap.String("url", indexURL), zap.Int("fragments", found.Length()))
	return found, nil
}

// ScrapAgain queries the page loaded by the last ScrapIndex with another
// selector.
func (g *Gallery) ScrapAgain(sel domain.Selector) (*goquery.Selection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.main.Again(sel, true)
}

// CreateNewIndex replaces the table with an empty one bound to the schema,
// then sets cols[i] to data[i]. Extra names or data are ignored. It reports
// whether any column was written.
func (g *Gallery) CreateNewIndex(cols []string, data [][]string) (bool, error) {
	const op = "create index"
	g.mu.Lock()
	defer g.mu.Unlock()

	t := NewTable(g.schema)
	n := min(len(cols), len(data))
	for i := 0; i < n; i++ {
		if err := t.Set(cols[i], data[i]); err != nil {
			return false, newError(op, KindArgument, err)
		}
	}
	g.table = t
	return n > 0, nil
}

// UpdateData replaces one whole column.
func (g *Gallery) UpdateData(column string, data []string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.table.Set(column, data); err != nil {
		return false, newError("update data", KindArgument, err)
	}
	return true, nil
}

// UpdateIndex replaces one whole column and returns the table summary.
func (g *Gallery) UpdateIndex(column string, data []string) (domain.GallerySummary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.table.Set(column, data); err != nil {
		return domain.GallerySummary{}, newError("update index", KindArgument, err)
	}
	return g.summary(), nil
}

// GetData returns a copy of one column.
func (g *Gallery) GetData(column string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.table.Column(column)
	if !ok {
		return nil, newError("get data", KindAbsent, fmt.Errorf("%q: %w", column, ErrUnknownColumn))
	}
	return v, nil
}

// CheckGallery logs and returns the shape of the table.
func (g *Gallery) CheckGallery() domain.GallerySummary {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.summary()
	g.logger.Info("gallery check",
		zap.Int("rows", s.Rows),
		zap.Strings("columns", s.Columns),
		zap.Any("non_empty", s.NonEmpty),
	)
	return s
}

func (g *Gallery) summary() domain.GallerySummary {
	return domain.GallerySummary{
		Rows:     g.table.Rows(),
		Columns:  g.table.Columns(),
		NonEmpty: g.table.NonEmpty(),
	}
}

// SaveGallery writes the table to folder/fileName, resolved against the
// working directory unless folder is absolute.
func (g *Gallery) SaveGallery(fileName, folder string) (bool, error) {
	const op = "save gallery"
	path, err := resolve(folder, fileName)
	if err != nil {
		return false, newError(op, KindIO, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := writeFileAtomic(path, g.table); err != nil {
		return false, newError(op, KindIO, err)
	}
	g.logger.Info("gallery saved", zap.String("path", path), zap.Int("rows", g.table.Rows()))
	return true, nil
}

// LoadGallery replaces the table with the contents of folder/fileName.
func (g *Gallery) LoadGallery(fileName, folder string) (bool, error) {
	const op = "load gallery"
	path, err := resolve(folder, fileName)
	if err != nil {
		return false, newError(op, KindIO, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return false, newError(op, KindIO, err)
	}
	defer f.Close()

	t, err := readCSV(f, g.schema)
	if err != nil {
		if errors.Is(err, ErrColumnNotInSchema) {
			return false, newError(op, KindArgument, err)
		}
		return false, newError(op, KindIO, err)
	}

	g.mu.Lock()
	g.table = t
	g.mu.Unlock()
	g.logger.Info("gallery loaded", zap.String("path", path), zap.Int("rows", t.Rows()))
	return true, nil
}

// ScrapElement fetches an element page on the gallery's own session.
func (g *Gallery) ScrapElement(ctx context.Context, url string, sel domain.Selector, multiple bool) (*goquery.Selection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.main.ScrapElement(ctx, url, sel, multiple)
}

// GetImgName fetches url on the gallery's own session; see Session.GetImgName.
func (g *Gallery) GetImgName(ctx context.Context, url, headerKey string, required map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.main.GetImgName(ctx, url, headerKey, required)
}

// GetImgFile stores the body of the gallery's current page; see
// Session.GetImgFile.
func (g *Gallery) GetImgFile(root, downloadURL, fileName string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.main.GetImgFile(root, downloadURL, fileName)
}

func resolve(folder, fileName string) (string, error) {
	if filepath.IsAbs(folder) {
		return filepath.Join(folder, fileName), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, folder, fileName), nil
}
