// Package pdftext extracts page text from PDF bytes with pdfcpu.
//
// Only literal string operands of text-showing operators (Tj, TJ, ') are
// decoded. That covers most statistical releases; scanned PDFs yield no
// text and report ErrNoText.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoText is returned for PDFs without extractable text.
var ErrNoText = errors.New("pdftext: no text content")

// Page is the text of one page.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Document is the extracted content of a PDF.
type Document struct {
	Title          string  `json:"title"`
	PageCount      int     `json:"pageCount"`
	Pages          []Page  `json:"pages"`
	PrintableRatio float64 `json:"printableRatio"`
}

// Text joins all page texts.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Extract parses data and returns its text. Invalid PDFs return an error
// wrapping the pdfcpu failure.
func Extract(data []byte) (doc *Document, err error) {
	defer func() {
		// pdfcpu panics on some malformed xref tables.
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("pdftext: malformed pdf: %v", r)
		}
	}()

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdftext: read: %w", err)
	}

	doc = &Document{PageCount: ctx.PageCount}
	for n := 1; n <= ctx.PageCount; n++ {
		text := pageText(ctx, n)
		if text == "" {
			continue
		}
		if doc.Title == "" {
			doc.Title = firstLine(text)
		}
		doc.Pages = append(doc.Pages, Page{Number: n, Text: text})
	}
	if len(doc.Pages) == 0 {
		return doc, ErrNoText
	}
	doc.PrintableRatio = printableRatio(doc.Text())
	return doc, nil
}

func pageText(ctx *model.Context, n int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, n)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	return FromContentStream(data)
}

var literal = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// FromContentStream decodes the text shown by a page content stream.
func FromContentStream(data []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		switch {
		case len(line) == 0:
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range literal.FindAllSubmatch(line, -1) {
				sb.WriteString(unescape(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.ContainsRune(line, '('):
			for _, m := range literal.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(unescape(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}
	return normalise(sb.String())
}

// unescape resolves PDF string escapes, including octal codes.
func unescape(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 >= len(raw) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'b', 'f':
		case '0', '1', '2', '3', '4', '5', '6', '7':
			v := 0
			for k := 0; k < 3 && i < len(raw) && raw[i] >= '0' && raw[i] <= '7'; k++ {
				v = v*8 + int(raw[i]-'0')
				i++
			}
			i--
			sb.WriteByte(byte(v))
		default:
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

func normalise(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = sb.Len() > 0
		case unicode.IsPrint(r):
			if space {
				sb.WriteByte(' ')
				space = false
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func firstLine(s string) string {
	line := s
	if i := strings.IndexAny(s, ".\n"); i > 0 {
		line = s[:i]
	}
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > 200 {
		line = string(r[:200])
	}
	return line
}

func printableRatio(s string) float64 {
	if s == "" {
		return 0
	}
	total, ok := 0, 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			ok++
		}
	}
	return float64(ok) / float64(total)
}
