package fetch

import (
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
)

// Title returns the document title, or the target's host when the page has none.
func Title(rawHTML, target string) string {
	if doc, err := htmlquery.Parse(strings.NewReader(rawHTML)); err == nil {
		if node := htmlquery.FindOne(doc, "//title"); node != nil {
			if t := strings.Join(strings.Fields(htmlquery.InnerText(node)), " "); t != "" {
				return t
			}
		}
	}
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		return u.Host
	}
	return target
}
