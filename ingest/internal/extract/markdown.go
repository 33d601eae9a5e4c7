package extract

import (
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

var (
	policy = bluemonday.UGCPolicy()
	md     = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
)

// ToMarkdown sanitises fragment and converts it to markdown. Relative
// links resolve against baseURL. fallback is returned when conversion
// fails or yields nothing.
func ToMarkdown(fragment, baseURL, fallback string) string {
	if strings.TrimSpace(fragment) == "" {
		return fallback
	}
	clean := policy.Sanitize(fragment)
	var opts []converter.ConvertOptionFunc
	if baseURL != "" {
		opts = append(opts, converter.WithDomain(baseURL))
	}
	out, err := md.ConvertString(clean, opts...)
	if err != nil || strings.TrimSpace(out) == "" {
		return fallback
	}
	return strings.TrimSpace(out)
}

var spaces = regexp.MustCompile(`\s+`)

// CleanText removes zero-width characters, collapses whitespace and trims.
func CleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}
