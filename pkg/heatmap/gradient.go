package heatmap

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// HSV is a color in hue-saturation-value space, each component in [0, 1]
type HSV struct {
	H float64
	S float64
	V float64
}

// HexToHSV parses a "#rrggbb" color (the leading '#' is optional) into HSV
func HexToHSV(hex string) (HSV, error) {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) != 6 {
		return HSV{}, fmt.Errorf("invalid hex color %q: expected 6 hex digits", hex)
	}

	var rgb [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(h[i*2:i*2+2], 16, 8)
		if err != nil {
			return HSV{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
		}
		rgb[i] = float64(v) / 255
	}

	return rgbToHSV(rgb[0], rgb[1], rgb[2]), nil
}

// HSVToHex converts an HSV color to "#rrggbb". Channels are truncated, not rounded.
func HSVToHex(c HSV) string {
	r, g, b := hsvToRGB(c.H, c.S, c.V)
	return fmt.Sprintf("#%02x%02x%02x", channel(r), channel(g), channel(b))
}

// Gradient returns steps colors interpolated in HSV space from start to end, both inclusive.
//
// steps must be at least 2; a smaller value is a caller bug and panics.
func Gradient(start, end string, steps int) ([]string, error) {
	if steps < 2 {
		panic(fmt.Sprintf("heatmap: gradient needs at least 2 steps, got %d", steps))
	}

	from, err := HexToHSV(start)
	if err != nil {
		return nil, err
	}
	to, err := HexToHSV(end)
	if err != nil {
		return nil, err
	}

	colors := make([]string, 0, steps)
	for i := 0; i < steps; i++ {
		ratio := float64(i) / float64(steps-1)
		colors = append(colors, HSVToHex(HSV{
			H: lerp(from.H, to.H, ratio),
			S: lerp(from.S, to.S, ratio),
			V: lerp(from.V, to.V, ratio),
		}))
	}

	return colors, nil
}

// MustGradient is Gradient for compile-time constant endpoints
func MustGradient(start, end string, steps int) []string {
	colors, err := Gradient(start, end, steps)
	if err != nil {
		panic(err)
	}
	return colors
}

func lerp(a, b, ratio float64) float64 {
	return a + (b-a)*ratio
}

func channel(v float64) int {
	c := int(v * 255)
	if c < 0 {
		return 0
	}
	if c > 255 {
		return 255
	}
	return c
}

// rgbToHSV is the hexcone conversion; hue wraps into [0, 1)
func rgbToHSV(r, g, b float64) HSV {
	maxc := math.Max(r, math.Max(g, b))
	minc := math.Min(r, math.Min(g, b))
	v := maxc
	if minc == maxc {
		return HSV{0, 0, v}
	}

	rangec := maxc - minc
	s := rangec / maxc
	rc := (maxc - r) / rangec
	gc := (maxc - g) / rangec
	bc := (maxc - b) / rangec

	var h float64
	switch {
	case r == maxc:
		h = bc - gc
	case g == maxc:
		h = 2.0 + rc - bc
	default:
		h = 4.0 + gc - rc
	}

	h = math.Mod(h/6.0, 1.0)
	if h < 0 {
		h += 1.0
	}
	return HSV{h, s, v}
}

func hsvToRGB(h, s, v float64) (float64, float64, float64) {
	if s == 0.0 {
		return v, v, v
	}

	i := int(h * 6.0)
	f := h*6.0 - float64(i)
	p := v * (1.0 - s)
	q := v * (1.0 - s*f)
	t := v * (1.0 - s*(1.0-f))

	switch ((i % 6) + 6) % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}
