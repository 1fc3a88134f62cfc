package extracthtml

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DebugPrintSelector prints either outer HTML or text of matches for a selector.
// This is used by the command's "debug" mode when writing new field maps.
func DebugPrintSelector(w io.Writer, doc *goquery.Document, selector string, textOnly bool) int {
	n := 0
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		n++
		if textOnly {
			fmt.Fprintln(w, strings.TrimSpace(s.Text()))
			fmt.Fprintln(w)
			return
		}
		out, err := goquery.OuterHtml(s)
		if err != nil {
			in, _ := s.Html()
			fmt.Fprintln(w, in)
			fmt.Fprintln(w)
			return
		}
		fmt.Fprintln(w, out)
		fmt.Fprintln(w)
	})
	return n
}
