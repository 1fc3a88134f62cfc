package sources

import (
	"context"

	"opencalls/internal/extracthtml"
	"opencalls/internal/record"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	TransArtistsName = "transartists"
	transArtistsURL  = "https://www.transartists.org/en/call-artists?page="

	transArtistsContent = "td.views-field.views-field-field-your-ad"
)

var transArtistsFields = extracthtml.FieldMap{
	{Name: "Date", Locator: "td.views-field.views-field-created", Default: noData},
	{Name: "Title", Locator: transArtistsContent + " h2", Default: noData},
	{Name: "Description", Locator: transArtistsContent + " p", All: true, Separator: " ", Default: ""},
	{Name: "Email", Locator: transArtistsContent + " a.spamspan", Decode: extracthtml.DecodeSpamspan, Default: ""},
	{Name: "Website", Locator: transArtistsContent + ` a[href*="http"]`, Attr: "href", Default: ""},
}

// TransArtists walks the paginated call-for-artists table. Rows without an
// ad cell are layout rows and are skipped.
type TransArtists struct {
	url         string
	first, last int
}

func NewTransArtists(o Override) *TransArtists {
	first, last := o.pages(0, 8)
	return &TransArtists{url: o.url(transArtistsURL), first: first, last: last}
}

func (t *TransArtists) Name() string        { return TransArtistsName }
func (t *TransArtists) Columns() []string   { return transArtistsFields.Columns() }
func (t *TransArtists) Output() string      { return "transartists.csv" }
func (t *TransArtists) NeedsRenderer() bool { return false }

func (t *TransArtists) Crawl(ctx context.Context, env Env) (*record.Set, error) {
	set := record.NewSet(t.Name(), t.Columns())
	hasAd := func(row *goquery.Selection) bool {
		return row.Find(transArtistsContent).Length() > 0
	}
	err := fetchPages(ctx, env, t.Name(), extracthtml.PageURLs(t.url, t.first, t.last), func(_ string, doc *goquery.Document) {
		appendItems(set, doc, "tr", transArtistsFields, hasAd)
	})
	env.logger().Info("listing parsed", zap.String("source", t.Name()), zap.Int("records", set.Len()))
	return set, err
}
