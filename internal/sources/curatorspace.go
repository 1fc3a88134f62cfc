package sources

import (
	"context"

	"opencalls/internal/extracthtml"
	"opencalls/internal/metrics"
	"opencalls/internal/record"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	CuratorSpaceName = "curatorspace"
	curatorSpaceURL  = "https://www.curatorspace.com/opportunities?page={page}"
)

var curatorSpaceFields = extracthtml.FieldMap{
	{Name: "Title", Locator: "h4.media-heading", Default: noData},
	{Name: "Deadline", Locator: "strong", Match: `(?s)^(?:Deadline:\s*)?(.*)$`, Default: noData},
	{Name: "Location Info", Locator: "p.details", Default: noData},
	{Name: "Short Description", Locator: "p.description", Default: noData},
	{Name: "Link", Locator: "a.btn-sm.btn.btn-info", Attr: "href", Default: ""},
}

// CuratorSpace walks the paginated opportunities list. Items without a
// details button are skipped.
type CuratorSpace struct {
	url         string
	first, last int
}

func NewCuratorSpace(o Override) *CuratorSpace {
	first, last := o.pages(1, 7)
	return &CuratorSpace{url: o.url(curatorSpaceURL), first: first, last: last}
}

func (c *CuratorSpace) Name() string        { return CuratorSpaceName }
func (c *CuratorSpace) Columns() []string   { return curatorSpaceFields.Columns() }
func (c *CuratorSpace) Output() string      { return "curatorspace.csv" }
func (c *CuratorSpace) NeedsRenderer() bool { return false }

func (c *CuratorSpace) Crawl(ctx context.Context, env Env) (*record.Set, error) {
	log := env.logger()
	set := record.NewSet(c.Name(), c.Columns())
	err := fetchPages(ctx, env, c.Name(), extracthtml.PageURLs(c.url, c.first, c.last), func(pageURL string, doc *goquery.Document) {
		doc.Find("div.media-body").Each(func(_ int, item *goquery.Selection) {
			rec := extracthtml.ExtractRecord(item, curatorSpaceFields)
			if rec["Link"] == "" {
				metrics.RecordItem(c.Name(), metrics.StatusSkipped)
				log.Warn("item without link, skipping", zap.String("source", c.Name()), zap.String("title", rec["Title"]))
				return
			}
			rec["Link"] = extracthtml.ResolveHrefString(pageURL, rec["Link"])
			set.Append(rec)
			metrics.RecordItem(c.Name(), metrics.StatusOK)
		})
	})
	log.Info("listing parsed", zap.String("source", c.Name()), zap.Int("records", set.Len()))
	return set, err
}
