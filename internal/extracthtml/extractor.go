package extracthtml

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"opencalls/internal/emailparser"
	"opencalls/internal/record"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Parse parses r into a queryable document.
func Parse(r io.Reader) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// ParseString parses an HTML string into a queryable document.
func ParseString(s string) (*goquery.Document, error) {
	return Parse(strings.NewReader(s))
}

// Resolve applies spec to scope and always returns a string: misses of any
// kind collapse to spec.Default.
func Resolve(scope *goquery.Selection, spec FieldSpec) string {
	return Lookup(scope, spec).Or(spec.Default)
}

// Lookup applies spec to scope without substituting the default.
//
// Resolution order:
//  1. locate (Locator, filtered by MatchText)
//  2. move to the value element when FindNext is set
//  3. read Attr, decode, or collapse text
//  4. apply the optional Match regex
//
// Any panic raised while walking the tree is converted into a miss.
func Lookup(scope *goquery.Selection, spec FieldSpec) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
		}
	}()

	if scope == nil || scope.Length() == 0 {
		return Result{}
	}

	found := locate(scope, spec)
	if found.Length() == 0 {
		return Result{}
	}

	if spec.FindNext {
		found = nextValue(found.First(), spec.NextTag)
		if found.Length() == 0 {
			return Result{}
		}
	}

	re, err := cachedRegex(spec.Match)
	if err != nil {
		return Result{}
	}

	if spec.All {
		var vals []string
		found.Each(func(_ int, s *goquery.Selection) {
			r := readValue(s, spec)
			if !r.Found {
				return
			}
			v, ok := applyRegexFilter(r.Value, re)
			if !ok || v == "" {
				return
			}
			vals = append(vals, v)
		})
		if len(vals) == 0 {
			return Result{}
		}
		sep := spec.Separator
		if sep == "" {
			sep = ", "
		}
		return Result{Value: strings.Join(vals, sep), Found: true}
	}

	r := readValue(found.First(), spec)
	if !r.Found {
		return Result{}
	}
	v, ok := applyRegexFilter(r.Value, re)
	if !ok {
		return Result{}
	}
	return Result{Value: v, Found: true}
}

// ExtractRecord applies every spec in fm to scope.
func ExtractRecord(scope *goquery.Selection, fm FieldMap) record.Record {
	rec := make(record.Record, len(fm))
	for _, spec := range fm {
		rec[spec.Name] = Resolve(scope, spec)
	}
	return rec
}

// ExtractRecords extracts one record per element matched by itemSelector, in
// document order. An item whose extraction panics is skipped.
func ExtractRecords(doc *goquery.Document, itemSelector string, fm FieldMap) []record.Record {
	var out []record.Record
	doc.Find(itemSelector).Each(func(_ int, item *goquery.Selection) {
		rec, ok := extractItem(item, fm)
		if !ok {
			return
		}
		out = append(out, rec)
	})
	return out
}

func extractItem(item *goquery.Selection, fm FieldMap) (rec record.Record, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rec, ok = nil, false
		}
	}()
	return ExtractRecord(item, fm), true
}

func locate(scope *goquery.Selection, spec FieldSpec) *goquery.Selection {
	var found *goquery.Selection
	if strings.TrimSpace(spec.Locator) == "" {
		found = scope.First()
	} else {
		found = scope.Find(spec.Locator)
	}

	if spec.MatchText == "" {
		return found
	}
	return found.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.TrimSpace(s.Text()) == spec.MatchText
	})
}

// nextValue returns the first NextTag element following label: a following
// sibling when there is one, otherwise the first such element nested in a
// following sibling.
func nextValue(label *goquery.Selection, tag string) *goquery.Selection {
	if tag == "" {
		tag = "span"
	}
	if sib := label.NextAllFiltered(tag).First(); sib.Length() > 0 {
		return sib
	}
	return label.NextAll().Find(tag).First()
}

func readValue(s *goquery.Selection, spec FieldSpec) Result {
	if spec.Attr != "" {
		v, ok := s.Attr(spec.Attr)
		if !ok {
			return Result{}
		}
		return Result{Value: strings.TrimSpace(v), Found: true}
	}

	switch spec.Decode {
	case DecodeSpamspan:
		return Result{Value: emailparser.DecodeSpamspan(s), Found: true}
	case DecodeNone:
	default:
		// Unknown decoders produce no value.
		return Result{}
	}

	return Result{Value: collapseText(s, spec.TextSeparator), Found: true}
}

// collapseText returns the text of s. With sep set, every text node is
// trimmed, empty ones dropped, and the rest joined with sep.
func collapseText(s *goquery.Selection, sep string) string {
	if sep == "" {
		return strings.TrimSpace(s.Text())
	}

	var parts []string
	for _, n := range s.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, sep)
}

func collectText(n *html.Node, parts *[]string) {
	if n == nil {
		return
	}
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*parts = append(*parts, t)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

var regexCache sync.Map // pattern -> *regexp.Regexp

// cachedRegex compiles pattern once. An empty pattern yields (nil, nil).
func cachedRegex(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// applyRegexFilter applies an optional regex post-processing step to value.
//
// Behavior:
//   - If re is nil, it returns value unchanged.
//   - If re does not match, ok is false.
//   - If re matches and contains capture groups, group 1 is returned trimmed.
//   - If re matches with no capture groups, the full match is returned.
func applyRegexFilter(value string, re *regexp.Regexp) (string, bool) {
	if re == nil {
		return value, true
	}

	sm := re.FindStringSubmatch(value)
	if len(sm) == 0 {
		return "", false
	}
	if len(sm) > 1 {
		return strings.TrimSpace(sm[1]), true
	}
	return sm[0], true
}
