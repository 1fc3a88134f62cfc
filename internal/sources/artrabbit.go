package sources

import (
	"context"

	"opencalls/internal/extracthtml"
	"opencalls/internal/record"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	ArtRabbitName = "artrabbit"
	artRabbitURL  = "https://www.artrabbit.com/artist-opportunities/"
)

var artRabbitFields = extracthtml.FieldMap{
	{Name: "Data-d", Attr: "data-d", Default: ""},
	{Name: "Data-a", Attr: "data-a", Default: ""},
	{Name: "Heading", Locator: "h3.b_categorical-heading.mod--artopps", Default: noData},
	{Name: "Alert", Locator: "p.b_ending-alert.mod--just-opened", Default: noData},
	{Name: "Title", Locator: "h2", Default: noData},
	{Name: "Date Updated", Locator: "p.b_date", Default: noData},
	{Name: "Body", Locator: "div.m_body-copy", Default: noData},
	{Name: "URL", Locator: "a.b_submit.mod--next", Attr: "href", Default: ""},
}

// noData is the default for text fields that have no better fallback.
const noData = "No data"

// ArtRabbit reads the single artist-opportunities listing page.
type ArtRabbit struct {
	url string
}

func NewArtRabbit(o Override) *ArtRabbit {
	return &ArtRabbit{url: o.url(artRabbitURL)}
}

func (a *ArtRabbit) Name() string        { return ArtRabbitName }
func (a *ArtRabbit) Columns() []string   { return artRabbitFields.Columns() }
func (a *ArtRabbit) Output() string      { return "artist_opportunities.csv" }
func (a *ArtRabbit) NeedsRenderer() bool { return false }

func (a *ArtRabbit) Crawl(ctx context.Context, env Env) (*record.Set, error) {
	set := record.NewSet(a.Name(), a.Columns())
	err := fetchPages(ctx, env, a.Name(), []string{a.url}, func(_ string, doc *goquery.Document) {
		appendItems(set, doc, "div.artopp", artRabbitFields, nil)
	})
	env.logger().Info("listing parsed", zap.String("source", a.Name()), zap.Int("records", set.Len()))
	return set, err
}
