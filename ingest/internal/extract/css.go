package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// bySelectors collects every match of every selector whose text reaches
// minLen. Returns ErrNoContent when nothing qualifies.
//
// Supported selector subset:
//   - tag, .class, #id, tag.class, tag#id
//   - [attr], [attr=val], combined with the above
//   - descendant (space) and child (>) combinators
//   - selector groups separated by commas
func bySelectors(doc *html.Node, selectors []string, minLen int) (*Result, error) {
	var texts, frags []string
	var blocks []Block
	seen := map[*html.Node]bool{}

	for _, group := range selectors {
		for _, sel := range strings.Split(group, ",") {
			sel = strings.TrimSpace(sel)
			if sel == "" {
				continue
			}
			for _, n := range QueryAll(doc, sel) {
				if seen[n] {
					continue
				}
				seen[n] = true
				text := collectText(n)
				if len(text) < minLen {
					continue
				}
				texts = append(texts, text)
				frags = append(frags, render(n))
				blocks = append(blocks, Block{Selector: sel, Text: text})
			}
		}
	}
	if len(texts) == 0 {
		return nil, ErrNoContent
	}
	return &Result{
		Text:   strings.Join(texts, "\n\n"),
		HTML:   strings.Join(frags, "\n"),
		Blocks: blocks,
	}, nil
}

// QueryAll returns the nodes matching one selector (no commas).
func QueryAll(doc *html.Node, selector string) []*html.Node {
	steps := parseSteps(selector)
	if len(steps) == 0 {
		return nil
	}
	matches := descendants(doc, steps[0].sel)
	for _, st := range steps[1:] {
		var next []*html.Node
		for _, m := range matches {
			if st.child {
				for c := m.FirstChild; c != nil; c = c.NextSibling {
					if st.sel.matches(c) {
						next = append(next, c)
					}
				}
			} else {
				for c := m.FirstChild; c != nil; c = c.NextSibling {
					next = append(next, descendants(c, st.sel)...)
				}
			}
		}
		matches = dedupe(next)
	}
	return matches
}

type step struct {
	sel   compound
	child bool // joined to the previous step by '>'
}

func parseSteps(selector string) []step {
	selector = strings.ReplaceAll(selector, ">", " > ")
	var steps []step
	child := false
	for _, tok := range strings.Fields(selector) {
		if tok == ">" {
			child = true
			continue
		}
		steps = append(steps, step{sel: parseCompound(tok), child: child && len(steps) > 0})
		child = false
	}
	return steps
}

// compound is one selector step such as div.content[role=main].
type compound struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal string
	hasVal  bool
}

func parseCompound(s string) compound {
	var c compound
	if i := strings.IndexByte(s, '['); i >= 0 {
		inner := strings.TrimSuffix(s[i+1:], "]")
		s = s[:i]
		if k, v, ok := strings.Cut(inner, "="); ok {
			c.attrKey = strings.TrimSpace(k)
			c.attrVal = strings.Trim(strings.TrimSpace(v), `"'`)
			c.hasVal = true
		} else {
			c.attrKey = strings.TrimSpace(inner)
		}
	}
	if i := strings.IndexByte(s, '#'); i >= 0 {
		c.id = s[i+1:]
		s = s[:i]
		if j := strings.IndexByte(c.id, '.'); j >= 0 {
			s += c.id[j:]
			c.id = c.id[:j]
		}
	}
	parts := strings.Split(s, ".")
	c.tag = strings.ToLower(parts[0])
	for _, cl := range parts[1:] {
		if cl != "" {
			c.classes = append(c.classes, cl)
		}
	}
	return c
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && n.Data != c.tag {
		return false
	}
	if c.id != "" && attr(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(attr(n, "class"))
		for _, want := range c.classes {
			found := false
			for _, h := range have {
				if h == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	if c.attrKey != "" {
		if c.hasVal {
			if attr(n, c.attrKey) != c.attrVal {
				return false
			}
		} else if !hasAttr(n, c.attrKey) {
			return false
		}
	}
	return true
}

func descendants(root *html.Node, c compound) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if c.matches(n) {
			out = append(out, n)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(root)
	return out
}

func dedupe(nodes []*html.Node) []*html.Node {
	seen := make(map[*html.Node]bool, len(nodes))
	out := nodes[:0]
	for _, n := range nodes {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
