package domain

import "time"

// Selector picks fragments out of a parsed page. Tag is an element name
// (optionally an XPath expression when it starts with "/" or "("), Attrs
// narrows the match by attribute values.
type Selector struct {
	Tag   string            `mapstructure:"tag" json:"tag"`
	Attrs map[string]string `mapstructure:"attrs" json:"attrs,omitempty"`
}

// Derivative maps a derivative key ("rgb", "bw") to its file suffix and
// target extension.
type Derivative struct {
	Key    string `mapstructure:"key" json:"key"`
	Suffix string `mapstructure:"suffix" json:"suffix"`
	Ext    string `mapstructure:"ext" json:"ext"`
}

// Element statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// ElementTask is a single element detail page handed to a worker.
type ElementTask struct {
	Row   int
	ID    string
	URL   string
	Force bool // ignore recent scrape marks
}

// ElementRecord holds what the element pass extracted for one row.
type ElementRecord struct {
	RunID       string
	Row         int
	ID          string
	URL         string
	Title       string
	DownloadURL string
	HasPicture  bool
	Description Pairs
	SearchTags  Pairs
	ObjectData  Pairs
	RelatedWork Pairs
	Status      string
	FailReason  string
	ScrapedAt   time.Time
}

// HarvestRequest is the payload accepted by the API to start a run.
type HarvestRequest struct {
	Force bool `json:"force"`
}

// ElementStatusResponse is the API response for an element status query
type ElementStatusResponse struct {
	URL        string    `json:"url"`
	ElementID  string    `json:"element_id"`
	Status     string    `json:"status"`
	FailReason string    `json:"fail_reason,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// GallerySummary describes the in-memory table.
type GallerySummary struct {
	Rows     int            `json:"rows"`
	Columns  []string       `json:"columns"`
	NonEmpty map[string]int `json:"non_empty"`
}
