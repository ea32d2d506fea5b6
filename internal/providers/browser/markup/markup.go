// Package markup splits fetched pages into head and body fragments and pins
// relative references to the page's origin with a base declaration.
package markup

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Fragments is a page split for recomposition.
type Fragments struct {
	Head string
	Body string
}

var (
	headPattern = regexp.MustCompile(`(?is)<head\b[^>]*>(.*?)</head\s*>`)
	bodyPattern = regexp.MustCompile(`(?is)<body\b[^>]*>(.*?)</body\s*>`)
)

// Normalize extracts the head and body fragments of rawHTML and makes sure the
// head declares targetURL as its base. Malformed or partial markup never
// fails: a missing marker yields an empty fragment.
func Normalize(rawHTML, targetURL string) Fragments {
	base := BaseTag(targetURL)

	head, hasHead := inner(headPattern, rawHTML)
	body, _ := inner(bodyPattern, rawHTML)

	switch {
	case !hasHead:
		head = base
	case !HasBase(head):
		head = base + head
	}
	return Fragments{Head: head, Body: body}
}

// BaseTag renders a base declaration for targetURL.
func BaseTag(targetURL string) string {
	return `<base href="` + html.EscapeString(targetURL) + `">`
}

// HasBase reports whether a head fragment already declares a base element.
func HasBase(head string) bool {
	if !strings.Contains(strings.ToLower(head), "<base") {
		return false
	}
	// Parsed inside a head so text-looking content such as a <base> in a
	// <title> or comment is not mistaken for an element.
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><head>" + head + "</head></html>"))
	if err != nil {
		return false
	}
	return doc.Find("head base").Length() > 0
}

func inner(re *regexp.Regexp, s string) (string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}
