package viz

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultPalette is an 8-step light-to-dark green ramp.
var DefaultPalette = []string{
	"#f7fcfd",
	"#e5f5f9",
	"#ccece6",
	"#99d8c9",
	"#66c2a4",
	"#41ae76",
	"#238b45",
	"#005824",
}

// DefaultNullColor fills features without a value.
const DefaultNullColor = "#d9d9d9"

type rgb struct{ r, g, b float64 }

func parseHex(s string) (rgb, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return rgb{}, eris.Errorf("viz: invalid color %q", s)
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return rgb{}, eris.Wrapf(err, "viz: invalid color %q", s)
	}
	return rgb{float64(n >> 16 & 0xff), float64(n >> 8 & 0xff), float64(n & 0xff)}, nil
}

func (c rgb) hex() string {
	ch := func(v float64) int { return int(math.Round(math.Max(0, math.Min(255, v)))) }
	return fmt.Sprintf("#%02x%02x%02x", ch(c.r), ch(c.g), ch(c.b))
}

// Scale maps values in [Min, Max] linearly onto a palette.
type Scale struct {
	Min, Max float64
	stops    []rgb
}

// NewScale builds a scale over palette, which must hold at least one color.
func NewScale(palette []string, minV, maxV float64) (*Scale, error) {
	if len(palette) == 0 {
		return nil, eris.New("viz: empty palette")
	}
	if minV > maxV || math.IsNaN(minV) || math.IsNaN(maxV) {
		return nil, eris.Errorf("viz: invalid range [%v, %v]", minV, maxV)
	}
	s := &Scale{Min: minV, Max: maxV, stops: make([]rgb, len(palette))}
	for i, p := range palette {
		c, err := parseHex(p)
		if err != nil {
			return nil, err
		}
		s.stops[i] = c
	}
	return s, nil
}

// Intensity returns v's position in the range, clamped to [0, 1]. A
// zero-width range maps everything to 0.
func (s *Scale) Intensity(v float64) float64 {
	if s.Max == s.Min {
		return 0
	}
	t := (v - s.Min) / (s.Max - s.Min)
	return math.Max(0, math.Min(1, t))
}

// InRange reports whether v lies within [Min, Max].
func (s *Scale) InRange(v float64) bool {
	return v >= s.Min && v <= s.Max
}

// Color returns the interpolated palette color for v.
func (s *Scale) Color(v float64) string {
	return s.at(s.Intensity(v)).hex()
}

func (s *Scale) at(t float64) rgb {
	if len(s.stops) == 1 {
		return s.stops[0]
	}
	pos := t * float64(len(s.stops)-1)
	i := int(math.Floor(pos))
	if i >= len(s.stops)-1 {
		return s.stops[len(s.stops)-1]
	}
	f := pos - float64(i)
	a, b := s.stops[i], s.stops[i+1]
	return rgb{
		r: a.r + (b.r-a.r)*f,
		g: a.g + (b.g-a.g)*f,
		b: a.b + (b.b-a.b)*f,
	}
}
