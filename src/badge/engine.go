package badge

import (
	"fmt"
	"math"
	"strings"
)

// Badge is the content of a single badge.
type Badge struct {
	Label string // left side
	Value string // right side
	Color string // hex color of the right side, e.g. "#4c1"
}

// Engine renders badges measured with one font.
type Engine struct {
	metrics *Metrics
}

func New(metrics *Metrics) *Engine {
	return &Engine{metrics: metrics}
}

// StatusColor maps a run status to a badge color.
func StatusColor(status string) string {
	switch status {
	case "success":
		return "#4c1"
	case "degraded":
		return "#dfb317"
	case "failed":
		return "#e05d44"
	default:
		return "#9f9f9f"
	}
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

// Generate produces a flat SVG badge.
func (e *Engine) Generate(b Badge) string {
	labelWidth := int(math.Round(e.metrics.TextWidth(b.Label))) + 10
	valueWidth := int(math.Round(e.metrics.TextWidth(b.Value))) + 10
	total := labelWidth + valueWidth

	label := xmlEscaper.Replace(b.Label)
	value := xmlEscaper.Replace(b.Value)
	family := xmlEscaper.Replace(fmt.Sprintf("'%s',Verdana,Geneva,sans-serif", e.metrics.Name()))

	var s strings.Builder
	fmt.Fprintf(&s, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="20" role="img" aria-label="%s: %s">`, total, label, value)
	s.WriteString(`<linearGradient id="b" x2="0" y2="100%"><stop offset="0" stop-color="#bbb" stop-opacity=".1"/><stop offset="1" stop-opacity=".1"/></linearGradient>`)
	fmt.Fprintf(&s, `<mask id="a"><rect width="%d" height="20" rx="3" fill="#fff"/></mask>`, total)
	s.WriteString(`<g mask="url(#a)">`)
	fmt.Fprintf(&s, `<rect width="%d" height="20" fill="#555"/>`, labelWidth)
	fmt.Fprintf(&s, `<rect x="%d" width="%d" height="20" fill="%s"/>`, labelWidth, valueWidth, xmlEscaper.Replace(b.Color))
	fmt.Fprintf(&s, `<rect width="%d" height="20" fill="url(#b)"/>`, total)
	s.WriteString(`</g>`)
	fmt.Fprintf(&s, `<g fill="#fff" text-anchor="middle" font-family="%s" font-size="%g">`, family, e.metrics.Size())
	for _, t := range []struct {
		x    int
		text string
	}{{labelWidth / 2, label}, {labelWidth + valueWidth/2, value}} {
		fmt.Fprintf(&s, `<text x="%d" y="15" fill="#010101" fill-opacity=".3">%s</text>`, t.x, t.text)
		fmt.Fprintf(&s, `<text x="%d" y="14">%s</text>`, t.x, t.text)
	}
	s.WriteString(`</g></svg>`)
	return s.String()
}
