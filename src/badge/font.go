// Package badge renders shields.io-style SVG status badges.
package badge

import (
	"fmt"
	"sync"

	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

// DefaultFontSize matches the shields.io flat style.
const DefaultFontSize = 11

// Metrics holds measured glyph widths for one font at one size.
type Metrics struct {
	name     string
	size     float64
	advances map[rune]float64 // printable ASCII
	fallback float64          // average width for unmapped runes
}

// TextWidth returns the pixel width of s.
func (m *Metrics) TextWidth(s string) float64 {
	var w float64
	for _, r := range s {
		if adv, ok := m.advances[r]; ok {
			w += adv
		} else {
			w += m.fallback
		}
	}
	return w
}

func (m *Metrics) Name() string { return m.name }
func (m *Metrics) Size() float64 { return m.size }

// LoadFont parses a TTF/OTF and measures its glyph advances at size.
func LoadFont(name string, data []byte, size float64) (*Metrics, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing font %s: %w", name, err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72})
	if err != nil {
		return nil, fmt.Errorf("creating face for %s: %w", name, err)
	}
	defer face.Close()

	m := &Metrics{name: name, size: size, advances: make(map[rune]float64, 95)}
	var total float64
	for r := rune(32); r <= 126; r++ {
		adv, ok := face.GlyphAdvance(r)
		if !ok {
			continue
		}
		px := float64(adv) / 64 // 26.6 fixed point
		m.advances[r] = px
		total += px
	}
	if n := len(m.advances); n > 0 {
		m.fallback = total / float64(n)
	} else {
		m.fallback = size * 0.6
	}

	var buf sfnt.Buffer
	if family, err := f.Name(&buf, sfnt.NameIDFamily); err == nil && family != "" {
		m.name = family
	}
	return m, nil
}

var defaultMetrics = sync.OnceValues(func() (*Metrics, error) {
	return LoadFont("Go", goregular.TTF, DefaultFontSize)
})

// DefaultMetrics returns the bundled Go Regular font at DefaultFontSize.
func DefaultMetrics() (*Metrics, error) {
	return defaultMetrics()
}
