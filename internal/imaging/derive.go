// Package imaging derives re-encoded copies of artwork images and reports
// their pixel shapes.
package imaging

import (
	"errors"
	"fmt"
	"gallery/internal/domain"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrTargetCount is returned when the targets of one source do not match
// the derivative set one to one.
var ErrTargetCount = errors.New("imaging: target count does not match derivatives")

// Mode selects how a source is decoded for a derivative.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeColor        // channels kept as decoded
	ModeGray         // single channel
)

// ModeOf classifies a derivative by its key, then by its path: "rgb" is
// full color, "bw" is grayscale.
func ModeOf(key, path string) Mode {
	for _, s := range []string{key, path} {
		switch {
		case strings.Contains(s, "rgb"):
			return ModeColor
		case strings.Contains(s, "bw"):
			return ModeGray
		}
	}
	return ModeUnknown
}

// Target is one derivative file to produce from Source.
type Target struct {
	Source string
	Key    string
	Path   string
}

// Derivatives pairs extension and suffix maps by key. Both maps must carry
// the same keys; the result is sorted by key.
func Derivatives(exts, suffixes map[string]string) ([]domain.Derivative, error) {
	if len(exts) != len(suffixes) {
		return nil, fmt.Errorf("imaging: %d extensions for %d suffixes", len(exts), len(suffixes))
	}
	out := make([]domain.Derivative, 0, len(exts))
	for key, ext := range exts {
		suffix, ok := suffixes[key]
		if !ok {
			return nil, fmt.Errorf("imaging: no suffix for derivative %q", key)
		}
		out = append(out, domain.Derivative{Key: key, Suffix: suffix, Ext: ext})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// SourceImages lists the files directly under folder whose name ends with
// ext, in name order.
func SourceImages(folder, ext string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ext) {
			out = append(out, filepath.Join(folder, e.Name()))
		}
	}
	return out, nil
}

// BaseName is the file name of path up to its first dot.
func BaseName(path string) string {
	return strings.SplitN(filepath.Base(path), ".", 2)[0]
}

// TargetImages builds folder/<base><suffix>.<ext> for every source and
// derivative.
func TargetImages(sources []string, folder string, derivatives []domain.Derivative) []Target {
	out := make([]Target, 0, len(sources)*len(derivatives))
	for _, src := range sources {
		base := BaseName(src)
		for _, d := range derivatives {
			out = append(out, Target{
				Source: src,
				Key:    d.Key,
				Path:   filepath.Join(folder, base+d.Suffix+"."+d.Ext),
			})
		}
	}
	return out
}

// Export writes the derivatives of one source. The result maps each
// derivative key to its path trimmed to the last four segments. A
// derivative that cannot be classified, encoded or written is left out of
// the result; a source that cannot be decoded is an error.
func Export(targets []Target, derivatives []domain.Derivative) (map[string]string, error) {
	if len(targets) != len(derivatives) {
		return nil, fmt.Errorf("%d targets for %d derivatives: %w", len(targets), len(derivatives), ErrTargetCount)
	}

	out := make(map[string]string, len(targets))
	decoded := map[string]image.Image{}
	for _, t := range targets {
		mode := ModeOf(t.Key, t.Path)
		if mode == ModeUnknown {
			continue
		}

		src, ok := decoded[t.Source]
		if !ok {
			var err error
			if src, err = decodeFile(t.Source); err != nil {
				return nil, err
			}
			decoded[t.Source] = src
		}

		img := src
		if mode == ModeGray {
			img = toGray(src)
		}
		if err := encodeFile(t.Path, img); err != nil {
			continue
		}
		out[t.Key] = RelativePath(t.Path, 4)
	}
	return out, nil
}

// Shapes re-reads exported derivatives and reports their shape as
// [height, width] for grayscale and [height, width, channels] otherwise.
// Missing files are left out of the result.
func Shapes(targets []Target, derivatives []domain.Derivative) (map[string][]int, error) {
	if len(targets) != len(derivatives) {
		return nil, fmt.Errorf("%d targets for %d derivatives: %w", len(targets), len(derivatives), ErrTargetCount)
	}

	out := make(map[string][]int, len(targets))
	for _, t := range targets {
		mode := ModeOf(t.Key, t.Path)
		if mode == ModeUnknown {
			continue
		}
		img, err := decodeFile(t.Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[t.Key] = Shape(img, mode)
	}
	return out, nil
}

// Shape returns the dimensions of img as read in mode.
func Shape(img image.Image, mode Mode) []int {
	b := img.Bounds()
	if mode == ModeGray {
		return []int{b.Dy(), b.Dx()}
	}
	if c := Channels(img); c > 1 {
		return []int{b.Dy(), b.Dx(), c}
	}
	return []int{b.Dy(), b.Dx()}
}

// Channels counts the channels a decoder would keep for img.
func Channels(img image.Image) int {
	opaque := true
	if o, ok := img.(interface{ Opaque() bool }); ok {
		opaque = o.Opaque()
	}
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	case *image.CMYK, *image.NYCbCrA:
		return 4
	case *image.YCbCr:
		return 3
	}
	if opaque {
		return 3
	}
	return 4
}

// RelativePath keeps the last n segments of path.
func RelativePath(path string, n int) string {
	parts := strings.Split(filepath.Clean(path), string(filepath.Separator))
	if len(parts) > n {
		parts = parts[len(parts)-n:]
	}
	return filepath.Join(parts...)
}

func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, src, b.Min, draw.Src)
	return gray
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func encodeFile(path string, img image.Image) (err error) {
	enc, err := encoderFor(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	return enc(f, img)
}

func encoderFor(path string) (func(io.Writer, image.Image) error, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "jpg", "jpeg":
		return func(w io.Writer, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
		}, nil
	case "png":
		return png.Encode, nil
	case "bmp":
		return bmp.Encode, nil
	case "tif", "tiff":
		return func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		}, nil
	default:
		return nil, fmt.Errorf("imaging: no encoder for %s", path)
	}
}
