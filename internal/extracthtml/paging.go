package extracthtml

import (
	"net/url"
	"strconv"
	"strings"
)

// PagePlaceholder is replaced by the page number in listing URL templates.
const PagePlaceholder = "{page}"

// PageURLs expands a listing URL template for pages first..last inclusive,
// in ascending order. A template without the placeholder gets the page number
// appended, matching sites that paginate with a trailing "?page=" parameter.
func PageURLs(template string, first, last int) []string {
	if last < first {
		return nil
	}
	out := make([]string, 0, last-first+1)
	for p := first; p <= last; p++ {
		n := strconv.Itoa(p)
		if strings.Contains(template, PagePlaceholder) {
			out = append(out, strings.ReplaceAll(template, PagePlaceholder, n))
			continue
		}
		out = append(out, template+n)
	}
	return out
}

// ResolveHref resolves href against base, returning an absolute URL string.
// If href is invalid, it is returned unchanged.
func ResolveHref(base *url.URL, href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// ResolveHrefString is ResolveHref for a base given as a string.
func ResolveHrefString(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ResolveHref(nil, href)
	}
	return ResolveHref(b, href)
}
