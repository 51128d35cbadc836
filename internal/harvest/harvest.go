// Package harvest runs the index and element passes that fill a gallery
// table, downloads element assets and derives image variants.
package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"gallery/internal/asset"
	"gallery/internal/config"
	"gallery/internal/domain"
	"gallery/internal/extract"
	"gallery/internal/gallery"
	"gallery/internal/monitoring"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrBusy is returned by Run while another run is in progress.
var ErrBusy = errors.New("harvest: a run is already in progress")

// Dedup remembers recently scraped element pages.
type Dedup interface {
	IsRecentlyScraped(ctx context.Context, url string) (bool, error)
	MarkAsScraped(ctx context.Context, url string, ttl time.Duration) error
	IncrementFailureCount(ctx context.Context, url string) (int64, error)
}

// RecordSink receives every finished element record.
type RecordSink interface {
	SaveRecord(ctx context.Context, rec *domain.ElementRecord) error
}

// Options wires a Harvester. Dedup and Sink are optional.
type Options struct {
	Config  *config.Config
	Gallery *gallery.Gallery
	Dedup   Dedup
	Sink    RecordSink
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// Result summarizes one run. Err combines the per-element failures; they
// never abort the run.
type Result struct {
	RunID     string        `json:"run_id"`
	Rows      int           `json:"rows"`
	Completed int           `json:"completed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
	Err       error         `json:"-"`
}

// Harvester drives one gallery through a full scrape.
type Harvester struct {
	cfg     *config.Config
	gallery *gallery.Gallery
	dedup   Dedup
	sink    RecordSink
	metrics *monitoring.Metrics
	logger  *zap.Logger
	running atomic.Bool
}

func New(opts Options) *Harvester {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	return &Harvester{
		cfg:     opts.Config,
		gallery: opts.Gallery,
		dedup:   opts.Dedup,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// Running reports whether a run is in progress.
func (h *Harvester) Running() bool { return h.running.Load() }

// Run scrapes the index, then every element page, then saves the table.
// With force set, recent scrape marks are ignored.
func (h *Harvester) Run(ctx context.Context, force bool) (*Result, error) {
	if !h.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer h.running.Store(false)

	start := time.Now()
	res := &Result{RunID: uuid.NewString()}
	log := h.logger.With(zap.String("run_id", res.RunID))
	log.Info("harvest started", zap.Bool("force", force))

	prev := h.previous(log)

	tasks, err := h.index(ctx, force)
	if err != nil {
		return nil, err
	}
	res.Rows = len(tasks)

	records := h.elements(ctx, res.RunID, tasks, log)
	for _, rec := range records {
		switch rec.Status {
		case domain.StatusCompleted:
			res.Completed++
		case domain.StatusSkipped:
			res.Skipped++
		default:
			res.Failed++
			res.Err = multierr.Append(res.Err, fmt.Errorf("%s: %s", rec.URL, rec.FailReason))
		}
	}

	if err := h.write(records, prev); err != nil {
		return nil, err
	}
	if _, err := h.gallery.SaveGallery(h.cfg.CSVFile, h.cfg.DataFolder); err != nil {
		return nil, err
	}
	h.metrics.RowsInGallery.Set(float64(res.Rows))

	res.Elapsed = time.Since(start)
	log.Info("harvest finished",
		zap.Int("rows", res.Rows),
		zap.Int("completed", res.Completed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// previous loads the saved table, if any, and indexes its rows by element
// id so skipped elements keep their earlier values.
func (h *Harvester) previous(log *zap.Logger) map[string]map[string]string {
	if _, err := h.gallery.LoadGallery(h.cfg.CSVFile, h.cfg.DataFolder); err != nil {
		log.Debug("no previous gallery", zap.Error(err))
		return nil
	}
	ids, err := h.gallery.GetData(gallery.ColID)
	if err != nil {
		return nil
	}
	out := make(map[string]map[string]string, len(ids))
	for _, col := range h.gallery.CheckGallery().Columns {
		vals, err := h.gallery.GetData(col)
		if err != nil {
			continue
		}
		for i, id := range ids {
			if out[id] == nil {
				out[id] = map[string]string{}
			}
			out[id][col] = vals[i]
		}
	}
	return out
}

// index scrapes the collection page and rebuilds the table from it.
func (h *Harvester) index(ctx context.Context, force bool) ([]domain.ElementTask, error) {
	sel := h.cfg.Selectors
	root := h.gallery.URL()

	frags, err := h.gallery.ScrapIndex(ctx, root, h.cfg.RequestDelay, sel.Index)
	if err != nil {
		return nil, err
	}
	ids, err := extract.IndexIDs(frags, sel.IDAttr, sel.StripPrefix)
	if err != nil {
		return nil, fmt.Errorf("index ids: %w", err)
	}
	urls, err := extract.IndexURLs(frags, root, sel.URLAttr)
	if err != nil {
		return nil, fmt.Errorf("index urls: %w", err)
	}
	titles := extract.IndexTitles(frags, sel.TitleAttr)

	if _, err := h.gallery.CreateNewIndex(
		[]string{gallery.ColID, gallery.ColTitle, gallery.ColURL},
		[][]string{ids, titles, urls},
	); err != nil {
		return nil, err
	}

	tasks := make([]domain.ElementTask, len(ids))
	for i := range ids {
		tasks[i] = domain.ElementTask{Row: i, ID: ids[i], URL: urls[i], Force: force}
	}
	return tasks, nil
}

// elements fans the tasks out to the worker pool. Each worker owns a
// session; the calling goroutine is the only one that collects results.
func (h *Harvester) elements(ctx context.Context, runID string, tasks []domain.ElementTask, log *zap.Logger) []*domain.ElementRecord {
	workers := max(1, h.cfg.Workers)
	queue := make(chan domain.ElementTask, workers*2)
	results := make(chan *domain.ElementRecord, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := h.gallery.NewSession()
			for task := range queue {
				results <- h.processElement(ctx, s, runID, task, log)
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, t := range tasks {
			select {
			case queue <- t:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	records := make([]*domain.ElementRecord, len(tasks))
	for rec := range results {
		records[rec.Row] = rec
	}
	for i, rec := range records {
		if rec == nil {
			reason := "not processed"
			if err := context.Cause(ctx); err != nil {
				reason += ": " + err.Error()
			}
			records[i] = &domain.ElementRecord{
				RunID: runID, Row: i, ID: tasks[i].ID, URL: tasks[i].URL,
				Status: domain.StatusFailed, FailReason: reason,
			}
		}
	}
	return records
}

func (h *Harvester) processElement(ctx context.Context, s *gallery.Session, runID string, task domain.ElementTask, log *zap.Logger) *domain.ElementRecord {
	rec := &domain.ElementRecord{RunID: runID, Row: task.Row, ID: task.ID, URL: task.URL}

	if !task.Force && h.dedup != nil {
		seen, err := h.dedup.IsRecentlyScraped(ctx, task.URL)
		if err != nil {
			log.Error("failed to check scrape mark", zap.String("url", task.URL), zap.Error(err))
		}
		if seen {
			log.Info("skipping recently scraped element", zap.String("url", task.URL))
			rec.Status = domain.StatusSkipped
			h.metrics.IncElements(rec.Status)
			return rec
		}
	}

	if err := h.scrape(ctx, s, rec); err != nil {
		h.handleFailure(ctx, rec, err, log)
		return rec
	}

	rec.Status = domain.StatusCompleted
	rec.ScrapedAt = time.Now()
	h.metrics.IncElements(rec.Status)
	h.save(ctx, rec, log)
	if h.dedup != nil {
		if err := h.dedup.MarkAsScraped(ctx, task.URL, h.cfg.DedupTTL); err != nil {
			log.Error("failed to mark element", zap.String("url", task.URL), zap.Error(err))
		}
	}
	log.Debug("element scraped", zap.String("id", rec.ID), zap.Bool("has_picture", rec.HasPicture))
	return rec
}

// scrape fills rec from the element page and downloads its asset.
func (h *Harvester) scrape(ctx context.Context, s *gallery.Session, rec *domain.ElementRecord) error {
	sel := h.cfg.Selectors
	root := h.gallery.URL()

	sections, err := s.ScrapElement(ctx, rec.URL, sel.Description, true)
	if err != nil {
		return err
	}
	if sections == nil {
		return fmt.Errorf("element page answered %d", s.Page().Status())
	}
	rec.Description = extract.Description(sections, sel.DescriptionTags, sel.DescriptionClean)
	if t, ok := rec.Description.Get("title"); ok {
		rec.Title = t
	}

	tagSections, err := s.Again(sel.Tags, true)
	if err != nil {
		return err
	}
	if rec.SearchTags, err = extract.SearchTags(root, tagSections, sel.TagLink, sel.TagHref); err != nil {
		return err
	}

	objSection, err := s.Again(sel.Object, false)
	if err != nil {
		return err
	}
	rec.ObjectData = extract.ObjectData(objSection, sel.ObjKey, sel.ObjValue)

	relSections, err := s.Again(sel.Related, true)
	if err != nil {
		return err
	}
	if rec.RelatedWork, err = extract.RelatedWork(root, relSections, sel.RelatedItem, sel.RelatedTags); err != nil {
		return err
	}

	link, err := s.Again(sel.Download, false)
	if err != nil {
		return err
	}
	dl, ok, err := extract.DownloadURL(link, root, sel.DownloadAttr)
	if err != nil || !ok {
		return err
	}
	rec.DownloadURL = dl
	rec.HasPicture, err = h.fetchAsset(ctx, s, dl)
	return err
}

// fetchAsset downloads the element asset and reports whether a file is in
// place afterwards. A download that is refused or lacks the required
// headers is not an error.
func (h *Harvester) fetchAsset(ctx context.Context, s *gallery.Session, dl string) (bool, error) {
	in := h.cfg.Selectors.ImageName
	header, err := s.GetImgName(ctx, dl, in.Header, in.Required)
	if err != nil || header == "" {
		return false, err
	}
	name, err := extract.ImageName(header, in.Sep, in.Cutset)
	if err != nil {
		h.metrics.IncErrorsTotal("asset_name")
		return false, err
	}

	ok, err := s.GetImgFile(h.cfg.ImagesFolder, dl, name)
	if err != nil {
		h.metrics.IncErrorsTotal("asset_failed")
		return false, err
	}
	if h.cfg.VerifyAssets {
		if err := s.VerifyImgFile(h.cfg.ImagesFolder, dl, name, asset.Expect{MIMEPrefix: "image/"}); err != nil {
			h.metrics.IncErrorsTotal("asset_integrity")
			return false, err
		}
	}
	h.metrics.AssetsSaved.Inc()
	return ok, nil
}

func (h *Harvester) handleFailure(ctx context.Context, rec *domain.ElementRecord, scrapeErr error, log *zap.Logger) {
	log.Warn("failed to scrape element", zap.String("url", rec.URL), zap.Error(scrapeErr))
	h.metrics.IncErrorsTotal("scrape_failed")
	h.metrics.IncElements(domain.StatusFailed)
	rec.Status = domain.StatusFailed
	rec.FailReason = scrapeErr.Error()
	rec.ScrapedAt = time.Now()

	if h.dedup == nil {
		h.save(ctx, rec, log)
		return
	}
	count, err := h.dedup.IncrementFailureCount(ctx, rec.URL)
	if err != nil {
		log.Error("failed to increment failure count", zap.String("url", rec.URL), zap.Error(err))
		return
	}
	if count < int64(h.cfg.MaxFailures) {
		log.Info("element will be retried on the next run", zap.String("url", rec.URL), zap.Int64("attempt", count))
		return
	}

	log.Error("max failures reached, recording element as failed", zap.String("url", rec.URL))
	h.save(ctx, rec, log)
	if err := h.dedup.MarkAsScraped(ctx, rec.URL, h.cfg.DedupTTL); err != nil {
		log.Error("failed to mark element", zap.String("url", rec.URL), zap.Error(err))
	}
}

func (h *Harvester) save(ctx context.Context, rec *domain.ElementRecord, log *zap.Logger) {
	if h.sink == nil {
		return
	}
	if err := h.sink.SaveRecord(ctx, rec); err != nil {
		log.Error("error saving record", zap.String("url", rec.URL), zap.Error(err))
		h.metrics.IncErrorsTotal("db_save_failed")
	}
}

// write turns the records into whole columns. Skipped and failed elements
// keep the values of the previous table.
func (h *Harvester) write(records []*domain.ElementRecord, prev map[string]map[string]string) error {
	cols := map[string][]string{}
	order := []string{
		gallery.ColDownloadURL, gallery.ColHasPicture, gallery.ColDescription,
		gallery.ColSearchTags, gallery.ColObjectData, gallery.ColRelatedWork,
		gallery.ColImgData, gallery.ColImgShape,
	}
	for _, c := range order {
		cols[c] = make([]string, len(records))
	}

	for i, rec := range records {
		if rec.Status != domain.StatusCompleted {
			for _, c := range order {
				cols[c][i] = prev[rec.ID][c]
			}
			continue
		}
		cols[gallery.ColDownloadURL][i] = rec.DownloadURL
		cols[gallery.ColHasPicture][i] = strconv.FormatBool(rec.HasPicture)
		for c, p := range map[string]domain.Pairs{
			gallery.ColDescription: rec.Description,
			gallery.ColSearchTags:  rec.SearchTags,
			gallery.ColObjectData:  rec.ObjectData,
			gallery.ColRelatedWork: rec.RelatedWork,
		} {
			v, err := encodePairs(p)
			if err != nil {
				return fmt.Errorf("encode %s of %s: %w", c, rec.URL, err)
			}
			cols[c][i] = v
		}
		// derivatives survive a re-harvest; the derive stage overwrites them
		cols[gallery.ColImgData][i] = prev[rec.ID][gallery.ColImgData]
		cols[gallery.ColImgShape][i] = prev[rec.ID][gallery.ColImgShape]
	}

	schema := h.gallery.Schema()
	for _, c := range order {
		if !slices.Contains(schema, c) {
			continue
		}
		if _, err := h.gallery.UpdateData(c, cols[c]); err != nil {
			return err
		}
	}
	return nil
}

func encodePairs(p domain.Pairs) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
