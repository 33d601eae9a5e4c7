// Package extract pulls the main content out of an HTML page.
//
// Modes:
//   - css:     content matching configured selectors
//   - density: the subtree with the best text-to-markup ratio
//   - auto:    selectors first, density when they match nothing usable
//
// The extracted region is sanitised and converted to markdown for storage.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Result is the extracted content of one page.
type Result struct {
	Title    string
	Language string // <html lang>, lowercased primary subtag
	Text     string // plain text, whitespace collapsed
	HTML     string // extracted region
	Markdown string // sanitised markdown of HTML
	Blocks   []Block
}

// Block is the text of one selector match.
type Block struct {
	Selector string
	Text     string
}

// Options controls extraction.
type Options struct {
	Selectors  []string
	Mode       string // "css", "density", "auto"
	MinTextLen int    // Default: 50.
	BaseURL    string // resolves relative links in markdown
}

func (o *Options) defaults() {
	if o.Mode == "" {
		o.Mode = "auto"
	}
	if o.MinTextLen <= 0 {
		o.MinTextLen = 50
	}
}

// ErrNoContent is returned when nothing usable was found.
var ErrNoContent = fmt.Errorf("extract: no content")

// Extract parses raw HTML and extracts its content.
func Extract(raw []byte, opts Options) (*Result, error) {
	opts.defaults()
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	meta := Result{Title: findTitle(doc), Language: findLang(doc)}

	var res *Result
	switch opts.Mode {
	case "css":
		res, err = bySelectors(doc, opts.Selectors, opts.MinTextLen)
	case "density":
		res, err = byDensity(doc, opts.MinTextLen)
	case "auto":
		if len(opts.Selectors) > 0 {
			res, err = bySelectors(doc, opts.Selectors, opts.MinTextLen)
		}
		if res == nil {
			res, err = byDensity(doc, opts.MinTextLen)
		}
	default:
		return nil, fmt.Errorf("extract: unknown mode %q", opts.Mode)
	}
	if err != nil {
		return nil, err
	}
	res.Title = meta.Title
	res.Language = meta.Language
	res.Text = CleanText(res.Text)
	res.Markdown = ToMarkdown(res.HTML, opts.BaseURL, res.Text)
	return res, nil
}

func findTitle(doc *html.Node) string {
	if n := firstByTag(doc, atom.Title); n != nil && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	if n := firstByTag(doc, atom.H1); n != nil {
		return collectText(n)
	}
	return ""
}

func findLang(doc *html.Node) string {
	n := firstByTag(doc, atom.Html)
	if n == nil {
		return ""
	}
	lang := strings.ToLower(attr(n, "lang"))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func firstByTag(root *html.Node, tag atom.Atom) *html.Node {
	if root.Type == html.ElementNode && root.DataAtom == tag {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := firstByTag(c, tag); n != nil {
			return n
		}
	}
	return nil
}

func render(n *html.Node) string {
	var buf bytes.Buffer
	html.Render(&buf, n)
	return buf.String()
}

// collectText joins the visible text of a subtree, skipping scripts and
// styles.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
