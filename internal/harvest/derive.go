package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"gallery/internal/config"
	"gallery/internal/domain"
	"gallery/internal/gallery"
	"gallery/internal/imaging"
	"gallery/internal/monitoring"
	"gallery/pkg/utils"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Deriver exports image derivatives of every downloaded asset and records
// their paths and shapes in the IMG_DATA and IMG_SHAPE columns.
type Deriver struct {
	cfg     *config.Config
	gallery *gallery.Gallery
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// DeriveResult summarizes one derive pass.
type DeriveResult struct {
	Rows     int   `json:"rows"`
	Exported int   `json:"exported"`
	Missing  int   `json:"missing"`
	Err      error `json:"-"`
}

func NewDeriver(cfg *config.Config, g *gallery.Gallery, m *monitoring.Metrics, l *zap.Logger) *Deriver {
	if l == nil {
		l = zap.NewNop()
	}
	if m == nil {
		m = monitoring.NewMetrics()
	}
	return &Deriver{cfg: cfg, gallery: g, metrics: m, logger: l}
}

// Run loads the saved table, derives images for every row with a download
// URL and saves the table again. Rows whose source cannot be decoded are
// reported in the result and left empty.
func (d *Deriver) Run(ctx context.Context) (*DeriveResult, error) {
	if _, err := d.gallery.LoadGallery(d.cfg.CSVFile, d.cfg.DataFolder); err != nil {
		return nil, err
	}
	dls, err := d.gallery.GetData(gallery.ColDownloadURL)
	if err != nil {
		return nil, err
	}

	res := &DeriveResult{Rows: len(dls)}
	data := make([]string, len(dls))
	shapes := make([]string, len(dls))
	for i, dl := range dls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if dl == "" {
			continue
		}
		paths, dims, err := d.deriveRow(dl)
		if err != nil {
			res.Err = multierr.Append(res.Err, fmt.Errorf("row %d: %w", i, err))
			d.logger.Warn("derive failed", zap.String("download_url", dl), zap.Error(err))
			continue
		}
		if len(paths) == 0 {
			res.Missing++
			continue
		}
		res.Exported++
		if data[i], err = encodeJSON(paths); err != nil {
			return nil, err
		}
		if shapes[i], err = encodeJSON(dims); err != nil {
			return nil, err
		}
	}

	schema := d.gallery.Schema()
	for col, vals := range map[string][]string{gallery.ColImgData: data, gallery.ColImgShape: shapes} {
		if !slices.Contains(schema, col) {
			continue
		}
		if _, err := d.gallery.UpdateData(col, vals); err != nil {
			return nil, err
		}
	}
	if _, err := d.gallery.SaveGallery(d.cfg.CSVFile, d.cfg.DataFolder); err != nil {
		return nil, err
	}
	d.logger.Info("derive finished",
		zap.Int("rows", res.Rows),
		zap.Int("exported", res.Exported),
		zap.Int("missing", res.Missing),
	)
	return res, nil
}

// deriveRow exports the derivatives of the asset downloaded from dl. An
// empty map means no source image was found or no derivative was written.
func (d *Deriver) deriveRow(dl string) (map[string]string, map[string][]int, error) {
	segment, err := utils.LastPathSegment(dl)
	if err != nil {
		return nil, nil, err
	}
	folder := filepath.Join(d.cfg.ImagesFolder, segment)
	found, err := imaging.SourceImages(folder, d.cfg.SourceExt)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	sources := originals(found, d.cfg.Derivatives)
	if len(sources) == 0 {
		return nil, nil, nil
	}

	targets := imaging.TargetImages(sources[:1], folder, d.cfg.Derivatives)
	paths, err := imaging.Export(targets, d.cfg.Derivatives)
	if err != nil {
		return nil, nil, err
	}
	for key := range paths {
		d.metrics.DerivativesTotal.WithLabelValues(key).Inc()
	}
	dims, err := imaging.Shapes(targets, d.cfg.Derivatives)
	if err != nil {
		return nil, nil, err
	}
	return paths, dims, nil
}

// originals drops files that are themselves derivatives of another source.
func originals(files []string, derivatives []domain.Derivative) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		base := imaging.BaseName(f)
		derived := false
		for _, dv := range derivatives {
			if dv.Suffix != "" && strings.HasSuffix(base, dv.Suffix) {
				derived = true
				break
			}
		}
		if !derived {
			out = append(out, f)
		}
	}
	return out
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
