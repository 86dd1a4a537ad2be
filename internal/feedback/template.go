package feedback

import (
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Placeholders understood by notification templates.
var Placeholders = []string{"name", "code", "date", "time", "in_time", "out_time", "total_hours", "organization", "status"}

// SampleData is the preview data used for any placeholder the caller leaves empty.
func SampleData(now time.Time) map[string]string {
	return map[string]string{
		"name":         "John Doe",
		"code":         "EMP001",
		"date":         now.Format("02/01/2006"),
		"time":         now.Format("03:04:05 pm"),
		"in_time":      "09:00:00 AM",
		"out_time":     "06:00:00 PM",
		"total_hours":  "9.0",
		"organization": "Sample Organization",
		"status":       "checked_in",
	}
}

// ReplacePlaceholders fills every known {{placeholder}} in tmpl, falling back to sample values.
func ReplacePlaceholders(tmpl string, data map[string]string) string {
	merged := SampleData(time.Now())
	for k, v := range data {
		if v != "" {
			merged[k] = v
		}
	}
	return Render(tmpl, merged)
}

// Render fills every known {{placeholder}} in tmpl from data. Missing values render empty.
func Render(tmpl string, data map[string]string) string {
	if tmpl == "" {
		return ""
	}
	pairs := make([]string, 0, len(Placeholders)*2)
	for _, p := range Placeholders {
		pairs = append(pairs, "{{"+p+"}}", data[p])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// StripHTML returns the visible text of an HTML fragment with whitespace collapsed.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if tt == html.StartTagToken && isHidden(name) {
				skip++
			}
			if isBlock(name) {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isHidden(name) && skip > 0 {
				skip--
			}
			if isBlock(name) {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isHidden(tag []byte) bool {
	switch string(tag) {
	case "script", "style", "head", "title":
		return true
	}
	return false
}

// block elements separate words in the rendered text
func isBlock(tag []byte) bool {
	switch string(tag) {
	case "p", "div", "br", "li", "tr", "td", "th", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "table", "hr":
		return true
	}
	return false
}
