// Package config loads the gallery configuration from a YAML file and
// GALLERY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"gallery/internal/domain"
	"gallery/internal/extract"
	"gallery/internal/gallery"
	"gallery/pkg/utils"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultFile is read when Load is given an empty path.
const DefaultFile = "gallery.yaml"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config stores all configuration for the application.
type Config struct {
	GalleryURL   string   `mapstructure:"gallery_url"`
	DataFolder   string   `mapstructure:"data_folder"`
	ImagesFolder string   `mapstructure:"images_folder"`
	CSVFile      string   `mapstructure:"csv_file"`
	Schema       []string `mapstructure:"schema"`

	Selectors   Selectors           `mapstructure:"selectors"`
	Derivatives []domain.Derivative `mapstructure:"derivatives"`
	SourceExt   string              `mapstructure:"source_ext"`

	RequestDelay time.Duration `mapstructure:"request_delay"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	Workers      int           `mapstructure:"workers"`
	MaxFailures  int           `mapstructure:"max_failures"`
	DedupTTL     time.Duration `mapstructure:"dedup_ttl"`
	VerifyAssets bool          `mapstructure:"verify_assets"`
	RenderIndex  bool          `mapstructure:"render_index"`
	Proxies      []string      `mapstructure:"proxies"`
	UserAgents   []string      `mapstructure:"user_agents"`

	PostgresURL string `mapstructure:"postgres_url"`
	RedisAddr   string `mapstructure:"redis_addr"`
	ServerPort  string `mapstructure:"server_port"`

	LogLevel    string `mapstructure:"log_level"`
	Development bool   `mapstructure:"development"`
}

// Selectors locate every piece of data on the index and element pages.
type Selectors struct {
	Index       domain.Selector `mapstructure:"index"`
	IDAttr      string          `mapstructure:"id_attr"`
	URLAttr     string          `mapstructure:"url_attr"`
	TitleAttr   string          `mapstructure:"title_attr"`
	StripPrefix string          `mapstructure:"strip_prefix"`

	Description      domain.Selector          `mapstructure:"description"`
	DescriptionTags  extract.DescriptionTags  `mapstructure:"description_tags"`
	DescriptionClean extract.DescriptionClean `mapstructure:"description_clean"`

	Tags     domain.Selector `mapstructure:"tags"`
	TagLink  string          `mapstructure:"tag_link"`
	TagHref  string          `mapstructure:"tag_href"`
	Object   domain.Selector `mapstructure:"object"`
	ObjKey   string          `mapstructure:"object_key"`
	ObjValue string          `mapstructure:"object_value"`

	Related     domain.Selector     `mapstructure:"related"`
	RelatedItem string              `mapstructure:"related_item"`
	RelatedTags extract.RelatedTags `mapstructure:"related_tags"`

	Download     domain.Selector `mapstructure:"download"`
	DownloadAttr string          `mapstructure:"download_attr"`
	ImageName    ImageName       `mapstructure:"image_name"`
}

// ImageName says how the asset file name is read from the download response.
type ImageName struct {
	Header   string            `mapstructure:"header"`
	Sep      string            `mapstructure:"sep"`
	Cutset   string            `mapstructure:"cutset"`
	Required map[string]string `mapstructure:"required"`
}

func setDefaults(v *viper.Viper) {
	// keys without a real default still need registering for AutomaticEnv
	for _, k := range []string{"gallery_url", "postgres_url", "redis_addr"} {
		v.SetDefault(k, "")
	}
	for _, k := range []string{"verify_assets", "render_index", "development"} {
		v.SetDefault(k, false)
	}
	v.SetDefault("proxies", []string{})
	v.SetDefault("user_agents", []string{})

	v.SetDefault("data_folder", "Data")
	v.SetDefault("images_folder", "Data/Img")
	v.SetDefault("csv_file", "gallery.csv")
	v.SetDefault("schema", gallery.DefaultSchema)
	v.SetDefault("source_ext", "jpg")
	v.SetDefault("derivatives", []map[string]any{
		{"key": "rgb", "suffix": "-rgb", "ext": "jpg"},
		{"key": "bw", "suffix": "-bw", "ext": "jpg"},
	})

	v.SetDefault("request_delay", "3s")
	v.SetDefault("http_timeout", "30s")
	v.SetDefault("workers", 4)
	v.SetDefault("max_failures", 3)
	v.SetDefault("dedup_ttl", "48h")
	v.SetDefault("server_port", "8080")
	v.SetDefault("log_level", "info")

	v.SetDefault("selectors.index.tag", "figure")
	v.SetDefault("selectors.index.attrs", map[string]string{"class": "object"})
	v.SetDefault("selectors.id_attr", "id")
	v.SetDefault("selectors.url_attr", "data-object-url")
	v.SetDefault("selectors.title_attr", "data-title")
	v.SetDefault("selectors.strip_prefix", "object-")

	v.SetDefault("selectors.description.tag", "section")
	v.SetDefault("selectors.description.attrs", map[string]string{"class": "description"})
	v.SetDefault("selectors.description_tags.heading", "h2")
	v.SetDefault("selectors.description_tags.paragraph", "p")
	v.SetDefault("selectors.description_tags.link", "a")
	v.SetDefault("selectors.description_clean.attr", "class")
	v.SetDefault("selectors.description_clean.strip", "description-")

	v.SetDefault("selectors.tags.tag", "div")
	v.SetDefault("selectors.tags.attrs", map[string]string{"class": "tags"})
	v.SetDefault("selectors.tag_link", "a")
	v.SetDefault("selectors.tag_href", "href")
	v.SetDefault("selectors.object.tag", "dl")
	v.SetDefault("selectors.object.attrs", map[string]string{"class": "object-data"})
	v.SetDefault("selectors.object_key", "dt")
	v.SetDefault("selectors.object_value", "dd")

	v.SetDefault("selectors.related.tag", "ul")
	v.SetDefault("selectors.related.attrs", map[string]string{"class": "related"})
	v.SetDefault("selectors.related_item", "li")
	v.SetDefault("selectors.related_tags.title", "span")
	v.SetDefault("selectors.related_tags.link", "a")
	v.SetDefault("selectors.related_tags.href", "href")

	v.SetDefault("selectors.download.tag", "a")
	v.SetDefault("selectors.download.attrs", map[string]string{"class": "download"})
	v.SetDefault("selectors.download_attr", "href")
	v.SetDefault("selectors.image_name.header", "Content-Disposition")
	v.SetDefault("selectors.image_name.sep", "filename=")
	v.SetDefault("selectors.image_name.cutset", `"`)
}

// Load reads path (DefaultFile when empty), overlays GALLERY_* environment
// variables and validates the result. A missing default file is not an
// error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GALLERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if explicit || !isNotFound(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist)
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !utils.IsAbsoluteHTTP(c.GalleryURL) {
		add("gallery_url %q must be an absolute http(s) url", c.GalleryURL)
	}
	if c.DataFolder == "" {
		add("data_folder is required")
	}
	if c.ImagesFolder == "" {
		add("images_folder is required")
	}
	if c.CSVFile == "" {
		add("csv_file is required")
	}

	if len(c.Schema) == 0 {
		add("schema is empty")
	}
	cols := map[string]bool{}
	for _, col := range c.Schema {
		if cols[col] {
			add("schema repeats %q", col)
		}
		cols[col] = true
	}

	keys := map[string]bool{}
	for _, d := range c.Derivatives {
		if d.Key == "" || d.Ext == "" {
			add("derivative %+v needs key and ext", d)
		}
		if keys[d.Key] {
			add("derivative key %q repeats", d.Key)
		}
		keys[d.Key] = true
	}

	s := c.Selectors
	for _, sel := range []struct {
		name string
		sel  domain.Selector
	}{
		{"index", s.Index}, {"description", s.Description}, {"tags", s.Tags},
		{"object", s.Object}, {"related", s.Related}, {"download", s.Download},
	} {
		if sel.sel.Tag == "" {
			add("selectors.%s.tag is required", sel.name)
		}
	}
	if s.IDAttr == "" || s.URLAttr == "" {
		add("selectors.id_attr and selectors.url_attr are required")
	}
	if s.ImageName.Header == "" || s.ImageName.Sep == "" {
		add("selectors.image_name needs header and sep")
	}

	if c.Workers < 1 {
		add("workers must be at least 1, got %d", c.Workers)
	}
	if c.RequestDelay < 0 || c.HTTPTimeout <= 0 {
		add("request_delay must be >= 0 and http_timeout > 0")
	}
	if c.MaxFailures < 1 {
		add("max_failures must be at least 1, got %d", c.MaxFailures)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
