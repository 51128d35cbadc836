// Package extract turns parsed gallery fragments into column values and
// label maps. Every function is pure: no network, no filesystem.
package extract

import (
	"errors"
	"fmt"
	"gallery/internal/domain"
	"gallery/internal/textnorm"
	"gallery/pkg/utils"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Untitled is the title recorded for elements without a title attribute.
const Untitled = "untitled"

var (
	// ErrMissingAttr is returned when a required attribute is absent.
	ErrMissingAttr = errors.New("extract: required attribute missing")
	// ErrNoSeparator is returned by ImageName when the separator is absent.
	ErrNoSeparator = errors.New("extract: separator not found")
)

// IndexIDs reads idAttr from every fragment and strips stripPrefix once
// from its start.
func IndexIDs(frags *goquery.Selection, idAttr, stripPrefix string) ([]string, error) {
	ids := make([]string, 0, length(frags))
	var err error
	each(frags, func(i int, s *goquery.Selection) bool {
		v, ok := s.Attr(idAttr)
		if !ok {
			err = fmt.Errorf("fragment %d %q: %w", i, idAttr, ErrMissingAttr)
			return false
		}
		ids = append(ids, strings.TrimPrefix(v, stripPrefix))
		return true
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// IndexURLs resolves urlAttr of every fragment against rootURL.
func IndexURLs(frags *goquery.Selection, rootURL, urlAttr string) ([]string, error) {
	urls := make([]string, 0, length(frags))
	var err error
	each(frags, func(i int, s *goquery.Selection) bool {
		v, ok := s.Attr(urlAttr)
		if !ok {
			err = fmt.Errorf("fragment %d %q: %w", i, urlAttr, ErrMissingAttr)
			return false
		}
		var abs string
		if abs, err = utils.ResolveURL(rootURL, v); err != nil {
			return false
		}
		urls = append(urls, abs)
		return true
	})
	if err != nil {
		return nil, err
	}
	return urls, nil
}

// IndexTitles reads titleAttr of every fragment, Untitled when absent.
func IndexTitles(frags *goquery.Selection, titleAttr string) []string {
	titles := make([]string, 0, length(frags))
	each(frags, func(_ int, s *goquery.Selection) bool {
		title := Untitled
		if v, ok := s.Attr(titleAttr); ok {
			title = v
		}
		titles = append(titles, title)
		return true
	})
	return titles
}

// DownloadURL resolves the asset link of one fragment. ok is false when
// the fragment or the attribute is missing.
func DownloadURL(frag *goquery.Selection, rootURL, urlAttr string) (string, bool, error) {
	if length(frag) == 0 {
		return "", false, nil
	}
	v, ok := frag.First().Attr(urlAttr)
	if !ok {
		return "", false, nil
	}
	abs, err := utils.ResolveURL(rootURL, v)
	if err != nil {
		return "", false, err
	}
	return abs, true, nil
}

// SearchTags maps the text of every linkTag in the first section to its
// hrefAttr resolved against rootURL.
func SearchTags(rootURL string, sections *goquery.Selection, linkTag, hrefAttr string) (domain.Pairs, error) {
	tags := domain.Pairs{}
	if length(sections) == 0 {
		return tags, nil
	}
	var err error
	sections.First().Find(linkTag).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, ok := a.Attr(hrefAttr)
		if !ok {
			return true
		}
		var abs string
		if abs, err = utils.ResolveURL(rootURL, href); err != nil {
			return false
		}
		tags.Set(textnorm.CleanText(a.Text()), abs)
		return true
	})
	if err != nil {
		return domain.Pairs{}, err
	}
	return tags, nil
}

// ObjectData pairs the keyTag and valueTag elements of section by position
// (typically dt/dd). Both lists must be non-empty; extra entries on the
// longer side are ignored.
func ObjectData(section *goquery.Selection, keyTag, valueTag string) domain.Pairs {
	data := domain.Pairs{}
	if length(section) == 0 {
		return data
	}
	keys := section.Find(keyTag)
	values := section.Find(valueTag)
	n := min(keys.Length(), values.Length())
	for i := 0; i < n; i++ {
		data.Set(
			textnorm.CleanText(keys.Eq(i).Text()),
			textnorm.CleanText(values.Eq(i).Text()),
		)
	}
	return data
}

// ImageName extracts a file name from a header value such as
// `attachment; filename="x.jpg"`: the text after the first sep, trimmed of
// spaces and then of any rune in cutset.
func ImageName(text, sep, cutset string) (string, error) {
	parts := strings.Split(text, sep)
	if sep == "" || len(parts) < 2 {
		return "", fmt.Errorf("%q in %q: %w", sep, text, ErrNoSeparator)
	}
	return strings.Trim(strings.TrimSpace(parts[1]), cutset), nil
}

func length(s *goquery.Selection) int {
	if s == nil {
		return 0
	}
	return s.Length()
}

func each(s *goquery.Selection, fn func(int, *goquery.Selection) bool) {
	if s == nil {
		return
	}
	s.EachWithBreak(fn)
}
