package sources

import (
	"context"

	"opencalls/internal/extracthtml"
	"opencalls/internal/metrics"
	"opencalls/internal/record"

	"go.uber.org/zap"
)

const (
	LinkCrawlerName   = "callforentry"
	LinkCrawlerOutput = "artist_callforentry.csv"
)

func listField(name, class string) extracthtml.FieldSpec {
	return extracthtml.FieldSpec{Name: name, Locator: ".field-name-" + class + " ul", TextSeparator: " ", Default: ""}
}

func blockField(name, class string) extracthtml.FieldSpec {
	return extracthtml.FieldSpec{Name: name, Locator: ".field-name-" + class, TextSeparator: " ", Default: ""}
}

// CallForEntryFields is applied to every page visited by a LinkCrawler.
var CallForEntryFields = extracthtml.FieldMap{
	{Name: "title", Locator: "h1.title", TextSeparator: " ", Default: ""},
	listField("call_type", "field-open-call-type"),
	listField("industry", "field-opencall-industry"),
	listField("category", "field-category-addapost"),
	listField("theme", "field-open-call-theme"),
	listField("country", "field-tags-news-country"),
	listField("organisation", "field-organisation"),
	listField("eligibility", "field-eligibility"),
	listField("keywords", "field-tags-news"),
	listField("entry_fee", "field-entry-fee"),
	blockField("description", "field-description"),
	blockField("prize_summary", "field-prize-summary"),
	blockField("prizes_details", "field-opencall-prizes"),
	blockField("event_date", "field-opencall-event-date"),
	blockField("deadline", "field-deadline-data"),
	blockField("fee_detail", "field-application-fee"),
	blockField("contact_links", "field-post-contact-links"),
	{Name: "instagram", Locator: ".field-name-field-opencall-instagram a", Attr: "href", Default: ""},
}

// LinkCrawler visits a fixed list of call pages, one record per page.
type LinkCrawler struct {
	Links  []string
	Fields extracthtml.FieldMap
}

func NewLinkCrawler(links []string) *LinkCrawler {
	return &LinkCrawler{Links: links, Fields: CallForEntryFields}
}

func (l *LinkCrawler) Name() string        { return LinkCrawlerName }
func (l *LinkCrawler) Columns() []string   { return l.Fields.Columns() }
func (l *LinkCrawler) Output() string      { return LinkCrawlerOutput }
func (l *LinkCrawler) NeedsRenderer() bool { return false }

// Crawl fetches each link once, in order. Links that fail are skipped.
func (l *LinkCrawler) Crawl(ctx context.Context, env Env) (*record.Set, error) {
	log := env.logger()
	set := record.NewSet(l.Name(), l.Columns())
	seen := make(map[string]struct{}, len(l.Links))

	for i, link := range l.Links {
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}

		if i > 0 {
			if err := sleep(ctx, env.Delay); err != nil {
				return set, err
			}
		}
		doc, err := env.Fetcher.Fetch(ctx, link, nil)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return set, ctxErr
			}
			metrics.RecordItem(l.Name(), metrics.StatusError)
			log.Warn("link failed, skipping", zap.String("url", link), zap.Error(err))
			continue
		}
		set.Append(extracthtml.ExtractRecord(doc.Selection, l.Fields))
		metrics.RecordItem(l.Name(), metrics.StatusOK)
		log.Info("link parsed", zap.Int("n", i+1), zap.Int("of", len(l.Links)), zap.String("url", link))
	}
	return set, ctx.Err()
}
