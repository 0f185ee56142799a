package config

import (
	"fmt"
	"strings"
)

// Slant is the font slant.
type Slant string

const (
	SlantNormal  Slant = "normal"
	SlantItalic  Slant = "italic"
	SlantOblique Slant = "oblique"
)

// ParseSlant parses s case-insensitively.
func ParseSlant(s string) (Slant, error) {
	switch v := Slant(strings.ToLower(s)); v {
	case SlantNormal, SlantItalic, SlantOblique:
		return v, nil
	}
	return "", fmt.Errorf("invalid font slant %q", s)
}

func (s *Slant) UnmarshalText(text []byte) error {
	v, err := ParseSlant(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Weight is the font weight.
type Weight string

const (
	WeightNormal Weight = "normal"
	WeightBold   Weight = "bold"
)

// ParseWeight parses s case-insensitively.
func ParseWeight(s string) (Weight, error) {
	switch v := Weight(strings.ToLower(s)); v {
	case WeightNormal, WeightBold:
		return v, nil
	}
	return "", fmt.Errorf("invalid font weight %q", s)
}

func (w *Weight) UnmarshalText(text []byte) error {
	v, err := ParseWeight(string(text))
	if err != nil {
		return err
	}
	*w = v
	return nil
}

// BackgroundType selects what fills the background surface.
type BackgroundType string

const (
	BackgroundColor BackgroundType = "color"
	BackgroundImage BackgroundType = "image"
)

// ParseBackgroundType parses s case-insensitively.
func ParseBackgroundType(s string) (BackgroundType, error) {
	switch v := BackgroundType(strings.ToLower(s)); v {
	case BackgroundColor, BackgroundImage:
		return v, nil
	}
	return "", fmt.Errorf("invalid background type %q", s)
}

func (b *BackgroundType) UnmarshalText(text []byte) error {
	v, err := ParseBackgroundType(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// ImageScale selects how a background image is mapped onto an output.
type ImageScale string

const (
	// ImageScaleStretch scales width and height independently so the
	// image covers the buffer exactly.
	ImageScaleStretch ImageScale = "stretch"

	// ImageScaleFill scales uniformly to cover the buffer, cropping the
	// overflowing axis.
	ImageScaleFill ImageScale = "fill"

	// ImageScaleFit scales uniformly to fit inside the buffer, leaving
	// bands on the non-filling axis.
	ImageScaleFit ImageScale = "fit"

	// ImageScaleCenter draws the image unscaled, centered.
	ImageScaleCenter ImageScale = "center"

	// ImageScaleTile repeats the image from the top-left corner.
	ImageScaleTile ImageScale = "tile"
)

// ParseImageScale parses s case-insensitively.
func ParseImageScale(s string) (ImageScale, error) {
	switch v := ImageScale(strings.ToLower(s)); v {
	case ImageScaleStretch, ImageScaleFill, ImageScaleFit, ImageScaleCenter, ImageScaleTile:
		return v, nil
	}
	return "", fmt.Errorf("invalid image scale %q", s)
}

func (i *ImageScale) UnmarshalText(text []byte) error {
	v, err := ParseImageScale(string(text))
	if err != nil {
		return err
	}
	*i = v
	return nil
}
