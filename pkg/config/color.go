package config

import (
	"fmt"
	"strconv"
	"strings"
)

// RGBA is a color with each component in [0, 1]. Components are not
// premultiplied.
type RGBA struct {
	R float64
	G float64
	B float64
	A float64
}

// ParseColor parses "#RRGGBB" or "#RRGGBBAA", case-insensitively.
// A missing alpha component means fully opaque.
func ParseColor(s string) (RGBA, error) {
	hex, ok := strings.CutPrefix(s, "#")
	if !ok {
		return RGBA{}, fmt.Errorf("invalid color %q: missing # prefix", s)
	}
	if len(hex) != 6 && len(hex) != 8 {
		return RGBA{}, fmt.Errorf("invalid color %q: expected #RRGGBB or #RRGGBBAA", s)
	}
	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	a := uint64(0xff)
	if len(hex) == 8 {
		a = v & 0xff
		v >>= 8
	}
	return RGBA{
		R: float64(v>>16&0xff) / 255,
		G: float64(v>>8&0xff) / 255,
		B: float64(v&0xff) / 255,
		A: float64(a) / 255,
	}, nil
}

func (c RGBA) String() string {
	b := func(v float64) uint64 {
		switch {
		case v <= 0:
			return 0
		case v >= 1:
			return 0xff
		}
		return uint64(v*255 + 0.5)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", b(c.R), b(c.G), b(c.B), b(c.A))
}

func (c *RGBA) UnmarshalText(text []byte) error {
	v, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
