package sources

import (
	"context"
	"errors"
	"fmt"

	"opencalls/internal/extracthtml"
	"opencalls/internal/fetch"
	"opencalls/internal/metrics"
	"opencalls/internal/record"

	"go.uber.org/zap"
)

const (
	ResArtisName = "resartis"
	resArtisURL  = "https://resartis.org/open-calls/"

	// resArtisMarker is present once the client-side grid has rendered.
	resArtisMarker = ".grid__item"
)

// ErrNoRenderer is returned by adapters that need a rendered session when
// Env.Renderer is nil.
var ErrNoRenderer = errors.New("rendered session required")

var resArtisItem = extracthtml.FieldMap{
	{Name: "title", Locator: "h2.card__title", Default: "No title"},
	{Name: "link", Locator: "a", Attr: "href", Default: ""},
}

func labeled(name, label string) extracthtml.FieldSpec {
	return extracthtml.FieldSpec{Name: name, Locator: "h5", MatchText: label, FindNext: true, Default: noData}
}

var resArtisDetail = extracthtml.FieldMap{
	{Name: "description", Locator: "div.entry-content", Default: "No description"},
	labeled("duration", "Duration of residency"),
	labeled("accommodation", "Accommodation"),
	labeled("disciplines", "Disciplines, work equipment and assistance"),
	labeled("studio", "Studio / Workspace"),
	labeled("fees", "Fees and support"),
	labeled("expectations", "Expectations towards the artist"),
	labeled("application_info", "Application information"),
	labeled("application_deadline", "Application deadline"),
	labeled("residency_starts", "Residency starts"),
	labeled("residency_ends", "Residency ends"),
	labeled("location", "Location"),
	{Name: "more_info_link", Locator: "h5", MatchText: "Link to more information", FindNext: true, NextTag: "a", Attr: "href", Default: noData},
}

// ResArtis renders the open-calls grid in a browser session, then fetches
// each call's detail page statically.
type ResArtis struct {
	url string
}

func NewResArtis(o Override) *ResArtis {
	return &ResArtis{url: o.url(resArtisURL)}
}

func (r *ResArtis) Name() string        { return ResArtisName }
func (r *ResArtis) Output() string      { return "resartis_opportunities.csv" }
func (r *ResArtis) NeedsRenderer() bool { return true }

func (r *ResArtis) Columns() []string {
	return append([]string{"title"}, resArtisDetail.Columns()...)
}

func (r *ResArtis) Crawl(ctx context.Context, env Env) (*record.Set, error) {
	log := env.logger()
	set := record.NewSet(r.Name(), r.Columns())
	if env.Renderer == nil {
		return set, fmt.Errorf("%s: %w", r.Name(), ErrNoRenderer)
	}

	doc, err := env.Renderer.Render(ctx, r.url, resArtisMarker)
	if err != nil {
		metrics.RecordPage(r.Name(), metrics.StatusError)
		if errors.Is(err, fetch.ErrRenderTimeout) {
			log.Warn("listing marker never appeared", zap.String("source", r.Name()), zap.String("marker", resArtisMarker))
		}
		return set, fmt.Errorf("%s: render listing: %w", r.Name(), err)
	}
	metrics.RecordPage(r.Name(), metrics.StatusOK)

	items := extracthtml.ExtractRecords(doc, "div.grid__item.postcard", resArtisItem)
	log.Info("listing rendered", zap.String("source", r.Name()), zap.Int("items", len(items)))

	for _, item := range items {
		title := item["title"]
		if item["link"] == "" {
			metrics.RecordItem(r.Name(), metrics.StatusSkipped)
			log.Warn("item without link, skipping", zap.String("source", r.Name()), zap.String("title", title))
			continue
		}
		link := extracthtml.ResolveHrefString(r.url, item["link"])

		detail, err := fetchDetail(ctx, env, link)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return set, ctxErr
			}
			metrics.RecordItem(r.Name(), metrics.StatusError)
			log.Warn("detail page failed, skipping", zap.String("source", r.Name()), zap.String("title", title), zap.String("url", link), zap.Error(err))
			continue
		}

		rec := extracthtml.ExtractRecord(detail.Selection, resArtisDetail)
		rec["title"] = title
		set.Append(rec)
		metrics.RecordItem(r.Name(), metrics.StatusOK)
		log.Debug("detail parsed", zap.String("source", r.Name()), zap.String("title", title))
	}
	return set, nil
}
