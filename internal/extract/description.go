package extract

import (
	"fmt"
	"gallery/internal/domain"
	"gallery/internal/textnorm"
	"gallery/pkg/utils"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DescriptionTags names the elements read from the two description sections.
type DescriptionTags struct {
	Heading   string `mapstructure:"heading"`   // e.g. h1, in the heading section
	Paragraph string `mapstructure:"paragraph"` // e.g. p, in both sections
	Link      string `mapstructure:"link"`      // e.g. a, in the text section
}

// DescriptionClean says how keys are derived from element attributes: the
// first token of Attr with the first occurrence of Strip removed.
type DescriptionClean struct {
	Attr  string `mapstructure:"attr"`
	Strip string `mapstructure:"strip"`
}

// Description reads a detail page description split over two sections:
// a heading section (heading plus keyed paragraphs) and a text section
// (one free-text paragraph keyed by the section itself, plus links).
// Fewer than two sections yield an empty result.
func Description(sections *goquery.Selection, tags DescriptionTags, clean DescriptionClean) domain.Pairs {
	desc := domain.Pairs{}
	if length(sections) < 2 {
		return desc
	}
	head, text := sections.Eq(0), sections.Eq(1)

	if h := head.Find(tags.Heading).First(); h.Length() > 0 {
		if key, ok := attrKey(h, clean); ok {
			desc.Set(key, textnorm.CleanText(h.Text()))
		}
	}

	head.Find(tags.Paragraph).Each(func(_ int, p *goquery.Selection) {
		if key, ok := attrKey(p, clean); ok {
			desc.Set(key, textnorm.CleanText(p.Text()))
		}
	})

	if key, ok := attrKey(text, clean); ok {
		if p := text.Find(tags.Paragraph).First(); p.Length() > 0 {
			var b strings.Builder
			p.Contents().Each(func(_ int, c *goquery.Selection) {
				b.WriteString(c.Text())
			})
			desc.Set(key, textnorm.CleanText(b.String()))
		}
	}

	text.Find(tags.Link).Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok {
			desc.Set(textnorm.CleanText(a.Text()), href)
		}
	})
	return desc
}

// RelatedTags names the parts of one related-work item.
type RelatedTags struct {
	Title string `mapstructure:"title"`
	Link  string `mapstructure:"link"`
	Href  string `mapstructure:"href"`
}

// RelatedWork maps the title of every itemTag in the first section to its
// absolute link. A title seen before gets a numeric suffix starting at 2
// ("Study", "Study 2", "Study 3"); items without a link are skipped.
func RelatedWork(rootURL string, sections *goquery.Selection, itemTag string, tags RelatedTags) (domain.Pairs, error) {
	works := domain.Pairs{}
	if length(sections) == 0 {
		return works, nil
	}

	next := 2
	var err error
	sections.First().Find(itemTag).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		href, ok := item.Find(tags.Link).First().Attr(tags.Href)
		if !ok {
			return true
		}
		var abs string
		if abs, err = utils.ResolveURL(rootURL, href); err != nil {
			err = fmt.Errorf("related work %q: %w", href, err)
			return false
		}

		title := textnorm.CleanText(item.Find(tags.Title).First().Text())
		key := title
		for works.Has(key) {
			key = fmt.Sprintf("%s %d", title, next)
			next++
		}
		works.Set(key, abs)
		return true
	})
	if err != nil {
		return domain.Pairs{}, err
	}
	return works, nil
}

func attrKey(s *goquery.Selection, clean DescriptionClean) (string, bool) {
	v, ok := s.Attr(clean.Attr)
	if !ok {
		return "", false
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return "", false
	}
	key := fields[0]
	if clean.Strip != "" {
		key = strings.Replace(key, clean.Strip, "", 1)
	}
	return textnorm.CleanText(key), true
}
