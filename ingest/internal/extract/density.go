package extract

import (
	"math"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// byDensity picks the main content region: semantic landmarks (<main>,
// <article>) when present, otherwise the non-boilerplate subtree with the
// best text density weighted by length and penalised by link text.
func byDensity(doc *html.Node, minLen int) (*Result, error) {
	for _, tag := range []atom.Atom{atom.Main, atom.Article} {
		var texts, frags []string
		for _, n := range allByTag(doc, tag) {
			if boilerplate(n) {
				continue
			}
			if t := collectText(n); len(t) >= minLen {
				texts = append(texts, t)
				frags = append(frags, render(n))
			}
		}
		if len(texts) > 0 {
			return &Result{Text: strings.Join(texts, "\n\n"), HTML: strings.Join(frags, "\n")}, nil
		}
	}

	body := firstByTag(doc, atom.Body)
	if body == nil {
		body = doc
	}
	if best := densest(body, minLen); best != nil {
		return &Result{Text: collectText(best), HTML: render(best)}, nil
	}
	text := visibleText(body)
	if len(text) < minLen {
		return nil, ErrNoContent
	}
	return &Result{Text: text, HTML: render(body)}, nil
}

func densest(root *html.Node, minLen int) *html.Node {
	var best *html.Node
	bestScore := 0.0

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode || boilerplate(n) {
			return
		}
		if contentTag(n.DataAtom) {
			text := collectText(n)
			if len(text) >= minLen {
				markup := len(render(n))
				if markup == 0 {
					markup = 1
				}
				links := float64(len(linkText(n))) / float64(len(text))
				if links <= 0.5 {
					score := float64(len(text)) / float64(markup) * math.Log2(float64(len(text))) * (1 - links)
					if score > bestScore {
						best, bestScore = n, score
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return best
}

func contentTag(a atom.Atom) bool {
	switch a {
	case atom.Main, atom.Article, atom.Section, atom.Div, atom.P,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Dl, atom.Figure, atom.Details:
		return true
	}
	return false
}

var boilerplateHints = []string{
	"sidebar", "footer", "header", "nav", "menu", "breadcrumb",
	"cookie", "banner", "advert", "social", "share", "comment",
	"related", "widget", "popup", "modal",
}

func boilerplate(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside:
		return true
	}
	switch attr(n, "role") {
	case "navigation", "banner", "contentinfo", "complementary":
		return true
	}
	hint := strings.ToLower(attr(n, "class") + " " + attr(n, "id"))
	for _, h := range boilerplateHints {
		if strings.Contains(hint, h) {
			return true
		}
	}
	return false
}

func allByTag(root *html.Node, tag atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func linkText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, in bool) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			in = true
		}
		if n.Type == html.TextNode && in {
			sb.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, in)
		}
	}
	walk(n, false)
	return sb.String()
}

// visibleText is collectText without boilerplate regions.
func visibleText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if boilerplate(n) {
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}
