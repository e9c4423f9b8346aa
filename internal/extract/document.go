package extract

import (
	"fmt"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// document is the shared input to every matcher for one extraction pass.
// The HTML tree is parsed at most once.
type document struct {
	raw string

	once sync.Once
	root *html.Node
	err  error
}

func newDocument(raw string) *document {
	return &document{raw: raw}
}

func (d *document) html() (*html.Node, error) {
	d.once.Do(func() {
		d.root, d.err = htmlquery.Parse(strings.NewReader(d.raw))
		if d.err != nil {
			d.err = fmt.Errorf("parse html: %w", d.err)
		}
	})
	return d.root, d.err
}
