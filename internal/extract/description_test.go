package extract

import (
	"gallery/internal/domain"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detailMarkup = `<html><body>
<section class="desc">
  <h1 class="desc-title">Caf&eacute; de l'Art</h1>
  <p class="desc-maker">Vincent van Gogh</p>
  <p class="desc-date extra">1888</p>
  <p>unkeyed paragraph</p>
</section>
<section class="desc-story">
  <p>A night scene.<br/>
  Painted <em>en plein air</em>.</p>
  <p>second paragraph ignored</p>
  <a href="https://museum.example/artist/vgogh">Van Gogh</a>
  <a>no href</a>
</section>
</body></html>`

var (
	descTags  = DescriptionTags{Heading: "h1", Paragraph: "p", Link: "a"}
	descClean = DescriptionClean{Attr: "class", Strip: "desc-"}
)

func TestDescription(t *testing.T) {
	t.Parallel()
	doc := parse(t, detailMarkup)

	got := Description(doc.Find("section"), descTags, descClean)
	assert.Equal(t, []domain.Pair{
		{Key: "title", Value: "Cafe de lArt"},
		{Key: "maker", Value: "Vincent van Gogh"},
		{Key: "date", Value: "1888"},
		{Key: "story", Value: "A night scene.. Painted en plein air."},
		{Key: "Van Gogh", Value: "https://museum.example/artist/vgogh"},
	}, got.Entries())
}

func TestDescriptionTooShort(t *testing.T) {
	t.Parallel()
	doc := parse(t, detailMarkup)

	assert.Zero(t, Description(doc.Find("section.desc"), descTags, descClean).Len())
	assert.Zero(t, Description(doc.Find("article"), descTags, descClean).Len())
	assert.Zero(t, Description(nil, descTags, descClean).Len())
}

const relatedMarkup = `<div class="related">
  <div class="item"><span class="t">Study</span><a href="/object/1">x</a></div>
  <div class="item"><span class="t">Study</span><a href="/object/2">x</a></div>
  <div class="item"><span class="t">Sketch</span><a href="https://other.example/3">x</a></div>
  <div class="item"><span class="t">Study</span><a href="/object/4">x</a></div>
  <div class="item"><span class="t">No link</span></div>
</div>`

func TestRelatedWorkDisambiguatesTitles(t *testing.T) {
	t.Parallel()
	doc := parse(t, relatedMarkup)

	works, err := RelatedWork(root, doc.Find("div.related"), "div.item", RelatedTags{Title: "span.t", Link: "a", Href: "href"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Study", "Study 2", "Sketch", "Study 3"}, works.Keys())

	v, _ := works.Get("Study 2")
	assert.Equal(t, "https://museum.example/object/2", v)
	v, _ = works.Get("Sketch")
	assert.Equal(t, "https://other.example/3", v)
}

func TestRelatedWorkSkipsTakenSuffix(t *testing.T) {
	t.Parallel()
	doc := parse(t, `<ul>
	<li><b>Study</b><a href="/1">x</a></li>
	<li><b>Study 2</b><a href="/2">x</a></li>
	<li><b>Study</b><a href="/3">x</a></li>
	</ul>`)

	works, err := RelatedWork(root, doc.Find("ul"), "li", RelatedTags{Title: "b", Link: "a", Href: "href"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Study", "Study 2", "Study 3"}, works.Keys())
}

func TestRelatedWorkEmpty(t *testing.T) {
	t.Parallel()

	works, err := RelatedWork(root, nil, "li", RelatedTags{Title: "b", Link: "a", Href: "href"})
	require.NoError(t, err)
	assert.Zero(t, works.Len())
}
