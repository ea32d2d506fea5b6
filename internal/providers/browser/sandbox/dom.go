package sandbox

import (
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DOM is the document a render's scripts see. It is parsed from the composed
// document and discarded with the handle.
type DOM struct {
	doc     *goquery.Document
	mu      sync.Mutex
	changes []DOMChange
}

// NewDOM parses a composed document
func NewDOM(document string) (*DOM, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &DOM{doc: doc}, nil
}

// Query finds elements by CSS selector. Invalid selectors match nothing.
func (d *DOM) Query(selector string) *goquery.Selection {
	return d.doc.Find(selector)
}

// Root returns the document selection
func (d *DOM) Root() *goquery.Selection {
	return d.doc.Selection
}

// CreateElement returns a detached element
func (d *DOM) CreateElement(tag string) *goquery.Selection {
	tag = strings.ToLower(tag)
	node := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	return goquery.NewDocumentFromNode(node).Selection
}

// HTML serializes the current document
func (d *DOM) HTML() (string, error) {
	return d.doc.Html()
}

// Changes returns accumulated DOM changes
func (d *DOM) Changes() []DOMChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DOMChange(nil), d.changes...)
}

func (d *DOM) record(change DOMChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changes = append(d.changes, change)
}

// PatchScript is one injected script block
type PatchScript struct {
	Index  int
	Source string
}

// describe names an element for change records: tag#id or tag.class
func describe(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	tag := goquery.NodeName(s)
	if id, ok := s.Attr("id"); ok && id != "" {
		return tag + "#" + id
	}
	if class, ok := s.Attr("class"); ok && class != "" {
		return tag + "." + strings.Join(strings.Fields(class), ".")
	}
	return tag
}
