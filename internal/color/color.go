// Package color derives default display colors for categories and groups.
package color

import (
	"fmt"
	"hash/fnv"

	"github.com/pocketledger/ledgersync/internal/normalize"
)

// Saturation and lightness of generated colors.
const (
	saturation = 0.45
	lightness  = 0.55
)

// For returns a hex color (#RRGGBB) derived from name. Names that differ
// only in case, accents or spacing get the same color, so a category
// created on two devices is shown the same way on both.
func For(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize.Key(name)))
	hue := float64(h.Sum32() % 360)

	r, g, b := hslToRGB(hue/360, saturation, lightness)
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}

// Or returns c if it is set and For(name) otherwise.
func Or(c, name string) string {
	if c != "" {
		return c
	}
	return For(name)
}

// hslToRGB converts a color with h, s and l in [0,1].
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return channel(p, q, h+1.0/3), channel(p, q, h), channel(p, q, h-1.0/3)
}

func channel(p, q, t float64) uint8 {
	switch {
	case t < 0:
		t++
	case t > 1:
		t--
	}
	var v float64
	switch {
	case t < 1.0/6:
		v = p + (q-p)*6*t
	case t < 0.5:
		v = q
	case t < 2.0/3:
		v = p + (q-p)*(2.0/3-t)*6
	default:
		v = p
	}
	return uint8(v*255 + 0.5)
}
