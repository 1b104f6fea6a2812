// Package directive parses the inline routing directives users put on the
// first line of a calendar entry description, e.g.
//
//	no_route, margin_after=15<br>Bring the lab report
package directive

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Recognized directive names.
const (
	NoRoute      = "no_route"
	Arrive       = "arrive"
	DBRouting    = "db_routing"
	MarginBefore = "margin_before"
	MarginAfter  = "margin_after"
	HomeOverride = "home_override"
	HomeDisabled = "home_disabled"
)

// Value is either a bare flag or the text after "=".
type Value struct {
	Text string `json:"text,omitempty"`
	Flag bool   `json:"flag,omitempty"`
}

// Set maps directive names to values. Unknown names are kept.
type Set map[string]Value

var lineBreak = regexp.MustCompile(`(?i)<br\s*/?>|</(?:p|div)>|\r?\n`)

// Parse extracts the directive line of description. It never fails:
// an empty description yields an empty Set, malformed tokens become flags.
func Parse(description string) Set {
	out := Set{}
	if strings.TrimSpace(description) == "" {
		return out
	}

	line := lineBreak.Split(description, 2)[0]
	if strings.ContainsAny(line, "<&") {
		line = plainText(line)
	}

	for _, tok := range strings.Split(line, ", ") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		key, val, hasVal := strings.Cut(tok, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if !hasVal || strings.Contains(val, "=") {
			out[key] = Value{Flag: true}
			continue
		}
		out[key] = Value{Text: strings.TrimSpace(val)}
	}
	return out
}

// plainText strips markup and decodes entities from a description fragment.
func plainText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return doc.Text()
}

// Has reports whether name was given at all.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Enabled reports whether name is set and not explicitly switched off
// ("name=false", "name=0", "name=no").
func (s Set) Enabled(name string) bool {
	v, ok := s[name]
	if !ok {
		return false
	}
	if v.Flag {
		return true
	}
	switch strings.ToLower(v.Text) {
	case "false", "0", "no", "off":
		return false
	}
	return true
}

// Minutes returns the whole-minute value of name, or def when it is
// missing or not a number.
func (s Set) Minutes(name string, def int) int {
	v, ok := s[name]
	if !ok || v.Flag {
		return def
	}
	f, err := strconv.ParseFloat(v.Text, 64)
	if err != nil {
		return def
	}
	return int(f)
}
