package extracthtml

// FieldSpec is one declarative extraction rule.
//
// Locator is a CSS selector evaluated relative to the extraction scope (a
// whole page or one listing item). An empty Locator means "the scope itself",
// which is how item-level attributes such as data-* are read.
type FieldSpec struct {
	Name    string `json:"name"`
	Locator string `json:"locator,omitempty"`

	// MatchText, if set, keeps only located elements whose trimmed text equals
	// it exactly. Used to find label elements such as <h5>Location</h5>.
	MatchText string `json:"match_text,omitempty"`

	// FindNext moves from the located label to its value element: the first
	// following NextTag element (default "span").
	FindNext bool   `json:"find_next,omitempty"`
	NextTag  string `json:"next_tag,omitempty"`

	// Attr returns the named attribute instead of text.
	Attr string `json:"attr,omitempty"`

	// All collects every match and joins the non-empty values with Separator
	// (default ", ").
	All       bool   `json:"all,omitempty"`
	Separator string `json:"separator,omitempty"`

	// TextSeparator joins the trimmed text nodes of a match. Empty means the
	// element's full text trimmed at both ends.
	TextSeparator string `json:"text_separator,omitempty"`

	// Match is an optional regex post-filter; capture group 1 wins when present.
	Match string `json:"match,omitempty"`

	// Decode selects a value decoder: "" (none) or "spamspan".
	Decode string `json:"decode,omitempty"`

	Default string `json:"default"`
}

// FieldMap is an ordered set of FieldSpecs; declaration order is column order.
type FieldMap []FieldSpec

// Columns returns the field names in declaration order.
func (fm FieldMap) Columns() []string {
	cols := make([]string, len(fm))
	for i, f := range fm {
		cols[i] = f.Name
	}
	return cols
}

// Result is the outcome of one lookup before defaults are applied.
type Result struct {
	Value string
	Found bool
}

// Or returns the value when found, otherwise def.
func (r Result) Or(def string) string {
	if !r.Found {
		return def
	}
	return r.Value
}

const (
	DecodeNone     = ""
	DecodeSpamspan = "spamspan"
)
