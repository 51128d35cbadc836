package config

import (
	"gallery/internal/domain"
	"gallery/internal/gallery"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
gallery_url: https://museum.example/collection
data_folder: /srv/gallery/data
workers: 8
request_delay: 500ms
derivatives:
  - key: rgb
    suffix: -rgb
    ext: png
selectors:
  index:
    tag: article
    attrs:
      class: card
  image_name:
    required:
      Content-Type: image/jpeg
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gallery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "https://museum.example/collection", cfg.GalleryURL)
	assert.Equal(t, "/srv/gallery/data", cfg.DataFolder)
	assert.Equal(t, "Data/Img", cfg.ImagesFolder)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.RequestDelay)
	assert.Equal(t, 48*time.Hour, cfg.DedupTTL)
	assert.Equal(t, gallery.DefaultSchema, cfg.Schema)
	assert.Equal(t, []domain.Derivative{{Key: "rgb", Suffix: "-rgb", Ext: "png"}}, cfg.Derivatives)

	assert.Equal(t, "article", cfg.Selectors.Index.Tag)
	assert.Equal(t, map[string]string{"class": "card"}, cfg.Selectors.Index.Attrs)
	assert.Equal(t, "section", cfg.Selectors.Description.Tag)
	assert.Equal(t, "filename=", cfg.Selectors.ImageName.Sep)
	// viper lowercases map keys; header lookups canonicalize them again
	assert.Equal(t, "image/jpeg", cfg.Selectors.ImageName.Required["content-type"])
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GALLERY_WORKERS", "2")
	t.Setenv("GALLERY_REDIS_ADDR", "localhost:6379")
	t.Setenv("GALLERY_SELECTORS_ID_ATTR", "data-id")

	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "data-id", cfg.Selectors.IDAttr)
}

func TestLoadWithoutDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GALLERY_GALLERY_URL", "https://museum.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://museum.example", cfg.GalleryURL)
	assert.Len(t, cfg.Derivatives, 2)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(writeFile(t, "workers: 0\n"))
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "gallery_url")
	assert.Contains(t, err.Error(), "workers")
}

func TestValidate(t *testing.T) {
	base, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"duplicate schema", func(c *Config) { c.Schema = []string{"ID", "ID"} }, "repeats"},
		{"duplicate derivative", func(c *Config) {
			c.Derivatives = []domain.Derivative{{Key: "bw", Ext: "png"}, {Key: "bw", Ext: "jpg"}}
		}, "derivative key"},
		{"no index tag", func(c *Config) { c.Selectors.Index.Tag = "" }, "selectors.index.tag"},
		{"no csv", func(c *Config) { c.CSVFile = "" }, "csv_file"},
		{"bad timeout", func(c *Config) { c.HTTPTimeout = 0 }, "http_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
