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
	ArtistCommunitiesName = "artistcommunities"
	artistCommunitiesURL  = "https://artistcommunities.org/directory/open-calls"

	notAvailable = "N/A"
)

func drupalField(name, field string) extracthtml.FieldSpec {
	return extracthtml.FieldSpec{Name: name, Locator: ".field--name-field-" + field + " .field__item", Default: notAvailable}
}

func drupalFieldAll(name, field string) extracthtml.FieldSpec {
	s := drupalField(name, field)
	s.All = true
	return s
}

// artistCommunitiesDetail is applied inside the .node__content scope.
var artistCommunitiesDetail = extracthtml.FieldMap{
	{Name: "Associated Residency Program", Locator: ".field--name-field-associated-residency .field__item a", Default: notAvailable},
	{Name: "Organization", Locator: `.field-pseudo-field--pseudo-group_node\:organization-link-list .field__item a`, Default: notAvailable},
	drupalField("Description", "oc-residency-description"),
	{Name: "Deadline", Locator: ".field--name-field-deadline .datetime", Default: notAvailable},
	{Name: "Application URL", Locator: ".field--name-field-application-url .field__item a", Default: notAvailable},
	{Name: "Residency Length", Locator: ".field--label-inline.field-pseudo-field--pseudo-residency-length .field__item", Default: notAvailable},
	drupalField("Languages", "languages"),
	drupalField("Average Number of Artists", "average-artists"),
	drupalField("Collaborative Residency", "collaborative-residency"),
	drupalFieldAll("Disciplines", "discipline"),
	drupalField("Companions", "companions"),
	drupalField("Country of Residence", "country-of-residence"),
	drupalField("Family Friendly", "family-friendly"),
	drupalField("Stage of Career", "stage-of-career"),
	drupalField("Additional Expectations", "additional-expectations"),
	drupalField("Accessible Housing", "accessible-housing"),
	drupalFieldAll("Meals Provided", "meals-provided"),
	drupalFieldAll("Studios/Special Equipment", "studios-special-equipment"),
	drupalField("Studios/Facilities Accessibility", "studios-accessibility"),
	drupalField("Type of Housing", "type-of-housing"),
	drupalField("Additional Eligibility Information", "additional-eligibility"),
	drupalField("Number of Artists Accepted", "number-of-artists-accepted"),
	drupalField("Total Applicant Pool", "applicant-pool"),
	drupalField("Artist Stipend", "artist-stipend"),
	drupalField("Travel Stipend", "travel-stipend"),
	drupalField("Residency Fees", "residency-fees"),
	drupalField("Grant/Scholarship Support", "grant-scholarship"),
	drupalField("Application Fee", "application-fee"),
	drupalField("Application Type", "application-type"),
}

var artistCommunitiesTitle = extracthtml.FieldSpec{Name: "Title", Locator: "h1", Default: notAvailable}

// ArtistCommunities reads the open-calls directory and visits every listed
// call's page.
type ArtistCommunities struct {
	url string
}

func NewArtistCommunities(o Override) *ArtistCommunities {
	return &ArtistCommunities{url: o.url(artistCommunitiesURL)}
}

func (a *ArtistCommunities) Name() string        { return ArtistCommunitiesName }
func (a *ArtistCommunities) Output() string      { return "artist_communities.csv" }
func (a *ArtistCommunities) NeedsRenderer() bool { return false }

func (a *ArtistCommunities) Columns() []string {
	return append([]string{artistCommunitiesTitle.Name}, artistCommunitiesDetail.Columns()...)
}

func (a *ArtistCommunities) Crawl(ctx context.Context, env Env) (*record.Set, error) {
	log := env.logger()
	set := record.NewSet(a.Name(), a.Columns())

	doc, err := env.Fetcher.Fetch(ctx, a.url, nil)
	if err != nil {
		metrics.RecordPage(a.Name(), metrics.StatusError)
		log.Error("directory page failed", zap.String("source", a.Name()), zap.String("url", a.url), zap.Error(err))
		return set, err
	}
	metrics.RecordPage(a.Name(), metrics.StatusOK)

	var links []string
	doc.Find("td.views-field-label a").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			links = append(links, extracthtml.ResolveHrefString(a.url, href))
		}
	})
	log.Info("directory parsed", zap.String("source", a.Name()), zap.Int("links", len(links)))

	for _, link := range links {
		detail, err := fetchDetail(ctx, env, link)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return set, ctxErr
			}
			metrics.RecordItem(a.Name(), metrics.StatusError)
			log.Warn("detail page failed, skipping", zap.String("source", a.Name()), zap.String("url", link), zap.Error(err))
			continue
		}

		content := detail.Find(".node__content").First()
		if content.Length() == 0 {
			metrics.RecordItem(a.Name(), metrics.StatusSkipped)
			log.Warn("no content block, skipping", zap.String("source", a.Name()), zap.String("url", link))
			continue
		}

		rec := extracthtml.ExtractRecord(content, artistCommunitiesDetail)
		rec[artistCommunitiesTitle.Name] = extracthtml.Resolve(detail.Selection, artistCommunitiesTitle)
		set.Append(rec)
		metrics.RecordItem(a.Name(), metrics.StatusOK)
	}
	return set, nil
}
