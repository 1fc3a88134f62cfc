package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"opencalls/internal/fetch"
	"opencalls/internal/record"
	"opencalls/internal/transformer"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func intp(n int) *int { return &n }

// TestArtRabbit_ListingWithDuplicateAndMissingField covers a listing page with
// two identical items and one item missing its optional fields.
func TestArtRabbit_ListingWithDuplicateAndMissingField(t *testing.T) {
	t.Parallel()

	item := `<div class="artopp" data-d="2024-01-01" data-a="a1">
		<h3 class="b_categorical-heading mod--artopps">Residency</h3>
		<h2>Call One</h2>
		<p class="b_date">Updated 1 Jan</p>
		<div class="m_body-copy">Body one</div>
		<a class="b_submit mod--next" href="https://example.org/1">Apply</a>
	</div>`
	page := `<html><body>` + item + item + `<div class="artopp" data-d="2024-02-02"><h2>Call Two</h2></div></body></html>`

	f := &fakeFetcher{pages: map[string]string{"http://ar/list": page}}
	a := NewArtRabbit(Override{URL: "http://ar/list"})

	set, err := a.Crawl(context.Background(), Env{Fetcher: f})
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())
	require.Equal(t, []string{"Data-d", "Data-a", "Heading", "Alert", "Title", "Date Updated", "Body", "URL"}, set.Columns)

	deduped, _, dropped := transformer.Dedup(set)
	require.Equal(t, 1, dropped)
	require.Equal(t, 2, deduped.Len())

	want := []record.Record{
		{
			"Data-d": "2024-01-01", "Data-a": "a1", "Heading": "Residency", "Alert": "No data",
			"Title": "Call One", "Date Updated": "Updated 1 Jan", "Body": "Body one", "URL": "https://example.org/1",
		},
		{
			"Data-d": "2024-02-02", "Data-a": "", "Heading": "No data", "Alert": "No data",
			"Title": "Call Two", "Date Updated": "No data", "Body": "No data", "URL": "",
		},
	}
	if diff := cmp.Diff(want, deduped.Records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func transArtistsPage(n int) string {
	return fmt.Sprintf(`<html><body><table>
		<tr><th>Date</th><th>Ad</th></tr>
		<tr>
			<td class="views-field views-field-created">2024-0%d-01</td>
			<td class="views-field views-field-field-your-ad">
				<h2>Call %d</h2>
				<p>First line.</p><p> Second line. </p>
				<a class="spamspan"><span class="u">call%d</span><span class="t">[at]</span><span class="d">example[dot]org</span></a>
				<a href="mailto:x@example.org">mail</a>
				<a href="https://example.org/%d">site</a>
			</td>
		</tr>
	</table></body></html>`, n%10, n, n, n)
}

// TestTransArtists_FailedPageIsSkipped covers a nine-page source whose second
// page times out: every other page still contributes its records.
func TestTransArtists_FailedPageIsSkipped(t *testing.T) {
	t.Parallel()

	base := "http://ta/list?page="
	f := &fakeFetcher{pages: map[string]string{}, errs: map[string]error{}}
	for p := 0; p <= 8; p++ {
		u := fmt.Sprintf("%s%d", base, p)
		if p == 1 {
			f.errs[u] = timeoutErr(u)
			continue
		}
		f.pages[u] = transArtistsPage(p)
	}

	core, logs := observer.New(zap.WarnLevel)
	set, err := NewTransArtists(Override{URL: base}).Crawl(context.Background(), Env{Fetcher: f, Logger: zap.New(core)})
	require.NoError(t, err)
	require.Len(t, f.calls, 9)
	require.Equal(t, 8, set.Len())

	var titles []string
	for _, r := range set.Records {
		titles = append(titles, r["Title"])
	}
	require.Equal(t, []string{"Call 0", "Call 2", "Call 3", "Call 4", "Call 5", "Call 6", "Call 7", "Call 8"}, titles)
	require.Equal(t, 1, logs.FilterMessage("listing page failed, skipping").Len())

	first := set.Records[0]
	require.Equal(t, "2024-00-01", first["Date"])
	require.Equal(t, "First line. Second line.", first["Description"])
	require.Equal(t, "call0@example.org", first["Email"])
	require.Equal(t, "https://example.org/0", first["Website"])
}

// TestTransArtists_PageOverride verifies configured page ranges replace the
// built-in one.
func TestTransArtists_PageOverride(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{"http://ta/?p=3": transArtistsPage(3)}}
	ta := NewTransArtists(Override{URL: "http://ta/?p=", FirstPage: intp(3), LastPage: intp(3)})
	set, err := ta.Crawl(context.Background(), Env{Fetcher: f})
	require.NoError(t, err)
	require.Equal(t, []string{"http://ta/?p=3"}, f.calls)
	require.Equal(t, 1, set.Len())
}

// TestCuratorSpace_ExtractsAndSkipsLinkless checks the deadline prefix strip,
// absolute links and that items without a details link are dropped.
func TestCuratorSpace_ExtractsAndSkipsLinkless(t *testing.T) {
	t.Parallel()

	page := `<html><body>
		<div class="media-body">
			<h4 class="media-heading">Open Studio</h4>
			<strong>Deadline: 30 June 2025</strong>
			<p class="details">London, United Kingdom</p>
			<p class="description">Short text</p>
			<a class="btn-sm btn btn-info" href="/opportunities/123">Details</a>
		</div>
		<div class="media-body"><h4 class="media-heading">No Link</h4></div>
		<div class="media-body"><h4 class="media-heading">Bare</h4><a class="btn btn-info btn-sm" href="/opportunities/9">Go</a></div>
	</body></html>`

	f := &fakeFetcher{pages: map[string]string{"https://cs.example/opps?page=1": page}}
	cs := NewCuratorSpace(Override{URL: "https://cs.example/opps?page={page}", LastPage: intp(1)})
	set, err := cs.Crawl(context.Background(), Env{Fetcher: f})
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	require.Equal(t, record.Record{
		"Title":             "Open Studio",
		"Deadline":          "30 June 2025",
		"Location Info":     "London, United Kingdom",
		"Short Description": "Short text",
		"Link":              "https://cs.example/opportunities/123",
	}, set.Records[0])
	require.Equal(t, "No data", set.Records[1]["Deadline"])
	require.Equal(t, "https://cs.example/opportunities/9", set.Records[1]["Link"])
}

const resArtisListing = `<html><body><div class="grid">
	<div class="grid__item postcard"><a href="/call/one"><h2 class="card__title">Call One</h2></a></div>
	<div class="grid__item postcard"><h2 class="card__title">No Link</h2></div>
	<div class="grid__item postcard"><a href="https://ra.example/call/two"><h2 class="card__title">Call Two</h2></a></div>
	<div class="grid__item postcard"><a href="/call/missing"></a></div>
</div></body></html>`

const resArtisDetailPage = `<html><body>
	<div class="entry-content">About the residency.</div>
	<div><h5>Duration of residency</h5><span>3 months</span></div>
	<h5>Location</h5><div><span>Berlin</span></div>
	<h5>Link to more information</h5><p><a href="https://host.example/more">More</a></p>
</body></html>`

// TestResArtis_RendersListingThenFetchesDetails walks the listing and detail
// pages; items without a link or with a failing detail page are skipped.
func TestResArtis_RendersListingThenFetchesDetails(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{body: resArtisListing}
	f := &fakeFetcher{pages: map[string]string{
		"https://ra.example/call/one": resArtisDetailPage,
		"https://ra.example/call/two": `<html><body><p>empty</p></body></html>`,
	}}
	core, logs := observer.New(zap.WarnLevel)

	ra := NewResArtis(Override{URL: "https://ra.example/open-calls/"})
	require.True(t, ra.NeedsRenderer())
	set, err := ra.Crawl(context.Background(), Env{Fetcher: f, Renderer: r, Logger: zap.New(core)})
	require.NoError(t, err)

	require.Equal(t, []string{"https://ra.example/open-calls/ .grid__item"}, r.calls)
	require.Equal(t, []string{"https://ra.example/call/one", "https://ra.example/call/two", "https://ra.example/call/missing"}, f.calls)
	require.Equal(t, 2, set.Len())
	require.Equal(t, 1, logs.FilterMessage("item without link, skipping").Len())
	require.Equal(t, 1, logs.FilterMessage("detail page failed, skipping").Len())

	one := set.Records[0]
	require.Equal(t, "Call One", one["title"])
	require.Equal(t, "About the residency.", one["description"])
	require.Equal(t, "3 months", one["duration"])
	require.Equal(t, "Berlin", one["location"])
	require.Equal(t, "https://host.example/more", one["more_info_link"])
	require.Equal(t, "No data", one["fees"])

	two := set.Records[1]
	require.Equal(t, "Call Two", two["title"])
	require.Equal(t, "No description", two["description"])
	require.Equal(t, "No data", two["more_info_link"])
	require.Equal(t, "title", set.Columns[0])
	require.Len(t, set.Columns, 14)
}

// TestResArtis_RenderTimeoutYieldsNoRecords covers a marker that never
// appears: no records, an error identifying the timeout and no detail
// fetches.
func TestResArtis_RenderTimeoutYieldsNoRecords(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{err: &fetch.FetchError{URL: "u", Cause: fetch.ErrRenderTimeout}}
	f := &fakeFetcher{}
	set, err := NewResArtis(Override{}).Crawl(context.Background(), Env{Fetcher: f, Renderer: r})
	require.Error(t, err)
	require.True(t, errors.Is(err, fetch.ErrRenderTimeout))
	require.Equal(t, 0, set.Len())
	require.Empty(t, f.calls)
}

func TestResArtis_NoRenderer(t *testing.T) {
	t.Parallel()

	_, err := NewResArtis(Override{}).Crawl(context.Background(), Env{Fetcher: &fakeFetcher{}})
	require.ErrorIs(t, err, ErrNoRenderer)
}

// TestArtistCommunities_DetailPages checks link resolution, the content scope,
// multi-valued joins and N/A defaults.
func TestArtistCommunities_DetailPages(t *testing.T) {
	t.Parallel()

	listing := `<html><body><table>
		<tr><td class="views-field-label"><a href="/open-call/one">One</a></td></tr>
		<tr><td class="views-field-label"><a href="/open-call/bare">Bare</a></td></tr>
		<tr><td class="views-field-label"><a href="/open-call/gone">Gone</a></td></tr>
	</table></body></html>`
	detail := `<html><body><h1>Residency One</h1><div class="node__content">
		<div class="field--name-field-associated-residency"><div class="field__item"><a href="/r">Program</a></div></div>
		<div class="field--name-field-deadline"><time class="datetime">2025-03-01</time></div>
		<div class="field--name-field-discipline"><div class="field__item">Painting</div><div class="field__item">Sculpture</div></div>
		<div class="field--name-field-languages"><div class="field__item">English</div></div>
	</div></body></html>`

	f := &fakeFetcher{pages: map[string]string{
		"https://ac.example/directory/open-calls": listing,
		"https://ac.example/open-call/one":        detail,
		"https://ac.example/open-call/bare":       `<html><body><h1>Bare</h1></body></html>`,
	}}
	core, logs := observer.New(zap.WarnLevel)

	ac := NewArtistCommunities(Override{URL: "https://ac.example/directory/open-calls"})
	set, err := ac.Crawl(context.Background(), Env{Fetcher: f, Logger: zap.New(core)})
	require.NoError(t, err)
	require.Len(t, set.Columns, 30)
	require.Equal(t, 1, set.Len())
	require.Equal(t, 1, logs.FilterMessage("no content block, skipping").Len())
	require.Equal(t, 1, logs.FilterMessage("detail page failed, skipping").Len())

	got := set.Records[0]
	require.Equal(t, "Residency One", got["Title"])
	require.Equal(t, "Program", got["Associated Residency Program"])
	require.Equal(t, "2025-03-01", got["Deadline"])
	require.Equal(t, "Painting, Sculpture", got["Disciplines"])
	require.Equal(t, "English", got["Languages"])
	require.Equal(t, "N/A", got["Meals Provided"])
	require.Equal(t, "N/A", got["Organization"])
}

func TestArtistCommunities_DirectoryFailure(t *testing.T) {
	t.Parallel()

	set, err := NewArtistCommunities(Override{URL: "http://nowhere"}).Crawl(context.Background(), Env{Fetcher: &fakeFetcher{}})
	require.Error(t, err)
	require.Equal(t, 0, set.Len())
}

// TestLinkCrawler_VisitsEachLinkOnce verifies duplicate links are fetched
// once and failing links are skipped.
func TestLinkCrawler_VisitsEachLinkOnce(t *testing.T) {
	t.Parallel()

	page := `<html><body>
		<h1 class="title">Photo Prize</h1>
		<div class="field-name-field-open-call-type"><ul><li>Competition</li><li>Award</li></ul></div>
		<div class="field-name-field-deadline-data"><span>Deadline:</span> <span>1 May</span></div>
		<div class="field-name-field-opencall-instagram"><a href="https://instagram.com/x">ig</a></div>
	</body></html>`
	f := &fakeFetcher{
		pages: map[string]string{"http://c/1": page},
		errs:  map[string]error{"http://c/2": errBoom},
	}

	lc := NewLinkCrawler([]string{"http://c/1", "http://c/2", "http://c/1"})
	set, err := lc.Crawl(context.Background(), Env{Fetcher: f})
	require.NoError(t, err)
	require.Equal(t, []string{"http://c/1", "http://c/2"}, f.calls)
	require.Equal(t, 1, set.Len())
	require.Len(t, set.Columns, 18)

	got := set.Records[0]
	require.Equal(t, "Photo Prize", got["title"])
	require.Equal(t, "Competition Award", got["call_type"])
	require.Equal(t, "Deadline: 1 May", got["deadline"])
	require.Equal(t, "https://instagram.com/x", got["instagram"])
	require.Equal(t, "", got["theme"])
}

// TestLinkCrawler_TitleJoinsTextNodes covers a title split across inline
// elements.
func TestLinkCrawler_TitleJoinsTextNodes(t *testing.T) {
	t.Parallel()

	page := `<html><body><h1 class="title"><span>Photo</span><em>Prize</em>
		2025</h1></body></html>`
	f := &fakeFetcher{pages: map[string]string{"http://c/1": page}}

	set, err := NewLinkCrawler([]string{"http://c/1"}).Crawl(context.Background(), Env{Fetcher: f})
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	require.Equal(t, "Photo Prize 2025", set.Records[0]["title"])
}

// TestCrawl_StopsOnCancelledContext verifies a cancelled run returns the
// context error instead of walking the remaining pages.
func TestCrawl_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeFetcher{pages: map[string]string{}}
	_, err := NewTransArtists(Override{}).Crawl(ctx, Env{Fetcher: f})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, f.calls)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"artrabbit", "transartists", "resartis", "curatorspace", "artistcommunities"}, Names())

	all := All(nil)
	require.Len(t, all, 5)
	outputs := map[string]bool{}
	for i, a := range all {
		require.Equal(t, Names()[i], a.Name())
		require.NotEmpty(t, a.Columns())
		require.True(t, strings.HasSuffix(a.Output(), ".csv"))
		outputs[a.Output()] = true
	}
	require.Len(t, outputs, 5)

	a, err := New("curatorspace", Override{})
	require.NoError(t, err)
	require.Equal(t, "curatorspace.csv", a.Output())

	_, err = New("nope", Override{})
	require.ErrorContains(t, err, "unknown source")
}

// requireGaps asserts every consecutive pair of times is at least d apart.
func requireGaps(t *testing.T, start time.Time, at []time.Time, d time.Duration) {
	t.Helper()
	prev := start
	for i, ts := range at {
		if gap := ts.Sub(prev); gap < d {
			t.Fatalf("fetch %d came %v after the previous one, want at least %v", i, gap, d)
		}
		prev = ts
	}
}

// TestArtistCommunities_DelaysEveryDetailFetch verifies the fixed pause
// precedes each detail page, including the first one after the directory.
func TestArtistCommunities_DelaysEveryDetailFetch(t *testing.T) {
	t.Parallel()

	const delay = 20 * time.Millisecond
	listing := `<html><body><table>
		<tr><td class="views-field-label"><a href="/a">A</a></td></tr>
		<tr><td class="views-field-label"><a href="/b">B</a></td></tr>
		<tr><td class="views-field-label"><a href="/c">C</a></td></tr>
	</table></body></html>`
	detail := `<html><body><h1>T</h1><div class="node__content"></div></body></html>`
	f := &fakeFetcher{pages: map[string]string{
		"https://ac.example/dir": listing,
		"https://ac.example/a":   detail,
		"https://ac.example/b":   detail,
		"https://ac.example/c":   detail,
	}}

	set, err := NewArtistCommunities(Override{URL: "https://ac.example/dir"}).Crawl(context.Background(), Env{Fetcher: f, Delay: delay})
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())
	require.Len(t, f.at, 4)
	requireGaps(t, f.at[0], f.at[1:], delay)
}

// TestResArtis_DelaysEveryDetailFetch measures from the start of the crawl
// since the listing comes from the renderer.
func TestResArtis_DelaysEveryDetailFetch(t *testing.T) {
	t.Parallel()

	const delay = 20 * time.Millisecond
	f := &fakeFetcher{pages: map[string]string{
		"https://ra.example/call/one": resArtisDetailPage,
		"https://ra.example/call/two": resArtisDetailPage,
	}}
	r := &fakeRenderer{body: resArtisListing}

	start := time.Now()
	_, err := NewResArtis(Override{URL: "https://ra.example/open-calls/"}).Crawl(context.Background(), Env{Fetcher: f, Renderer: r, Delay: delay})
	require.NoError(t, err)
	require.Len(t, f.at, 3)
	requireGaps(t, start, f.at, delay)
}

// TestFetchDetail_CancelledContext covers a context already done and one that
// ends mid-pause; neither may reach the fetcher.
func TestFetchDetail_CancelledContext(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{"http://d/1": "<html></html>"}}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fetchDetail(cancelled, Env{Fetcher: f, Delay: time.Millisecond}, "http://d/1")
	require.ErrorIs(t, err, context.Canceled)

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	start := time.Now()
	_, err = fetchDetail(short, Env{Fetcher: f, Delay: time.Hour}, "http://d/1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Minute)

	require.Empty(t, f.calls)
}

// TestArtistCommunities_CancelDuringDelay stops the crawl while it waits
// before the first detail page.
func TestArtistCommunities_CancelDuringDelay(t *testing.T) {
	t.Parallel()

	listing := `<html><body><table><tr><td class="views-field-label"><a href="/a">A</a></td></tr></table></body></html>`
	f := &fakeFetcher{pages: map[string]string{"https://ac.example/dir": listing}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	set, err := NewArtistCommunities(Override{URL: "https://ac.example/dir"}).Crawl(ctx, Env{Fetcher: f, Delay: time.Hour})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, set.Len())
	require.Equal(t, []string{"https://ac.example/dir"}, f.calls)
}
