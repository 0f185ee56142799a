// Package config resolves the locker's configuration from built-in
// defaults, layered TOML files, and command line overrides. The resolved
// Config is immutable for the lifetime of the process.
package config

import (
	"fmt"
	"unicode/utf8"
)

// Config is the fully resolved configuration.
type Config struct {
	Colors  Colors  `toml:"colors"`
	Font    Font    `toml:"font"`
	Input   Input   `toml:"input"`
	Frame   Frame   `toml:"frame"`
	General General `toml:"general"`
	Image   Image   `toml:"image"`
}

// Colors groups every configurable color.
type Colors struct {
	Background         RGBA `toml:"background"`
	Text               RGBA `toml:"text"`
	InputBg            RGBA `toml:"input-bg"`
	InputBorder        RGBA `toml:"input-border"`
	FrameBorderIdle    RGBA `toml:"frame-border-idle"`
	FrameBorderSuccess RGBA `toml:"frame-border-success"`
	FrameBorderFail    RGBA `toml:"frame-border-fail"`
}

// Font selects the typeface and size used for the masked input text.
type Font struct {
	// Size is the font size in points.
	Size   float64 `toml:"size"`
	Family string  `toml:"family"`
	Slant  Slant   `toml:"slant"`
	Weight Weight  `toml:"weight"`

	// DPIAware scales the font with the physical DPI of each output.
	// When false, rendering uses a neutral 96 DPI on every output.
	DPIAware bool `toml:"dpi-aware"`
}

// Input styles the password box drawn on the overlay.
type Input struct {
	MaskChar string `toml:"mask-char"`

	// Width is the width of the input box relative to the buffer width.
	Width float64 `toml:"width"`

	// PaddingX and PaddingY are relative to the buffer width and height.
	PaddingX float64 `toml:"padding-x"`
	PaddingY float64 `toml:"padding-y"`

	// Radius is the corner radius as a fraction of the outer box height.
	Radius float64 `toml:"radius"`

	// Border is the border stroke width in pixels.
	Border float64 `toml:"border"`

	HideWhenEmpty bool `toml:"hide-when-empty"`
	FitToContent  bool `toml:"fit-to-content"`
}

// Frame styles the border drawn along the edges of each output.
type Frame struct {
	// Border is the stroke width in pixels.
	Border float64 `toml:"border"`

	// Radius is the corner radius in pixels.
	Radius float64 `toml:"radius"`
}

// General holds behavior switches.
type General struct {
	// AllowEmptyPassword submits empty passwords to the authenticator
	// instead of rejecting them locally.
	AllowEmptyPassword bool `toml:"allow-empty-password"`

	// HideCursor hides the pointer while it is over a lock surface.
	HideCursor bool `toml:"hide-cursor"`

	BgType BackgroundType `toml:"bg-type"`
}

// Image configures the background image used when General.BgType is
// BackgroundImage.
type Image struct {
	Path  string     `toml:"path"`
	Scale ImageScale `toml:"scale"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Colors: Colors{
			Background:         RGBA{0, 0, 0, 1},
			Text:               RGBA{1, 1, 1, 1},
			InputBg:            RGBA{0, 0, 0, 1},
			InputBorder:        RGBA{1, 1, 1, 1},
			FrameBorderIdle:    RGBA{1, 1, 1, 1},
			FrameBorderSuccess: RGBA{0, 1, 0, 1},
			FrameBorderFail:    RGBA{1, 0, 0, 1},
		},
		Font: Font{
			Size:     72,
			Family:   "",
			Slant:    SlantNormal,
			Weight:   WeightNormal,
			DPIAware: true,
		},
		Input: Input{
			MaskChar: "*",
			Width:    0.5,
			PaddingX: 0.01,
			PaddingY: 0.01,
			Radius:   0.25,
			Border:   2,
		},
		Frame: Frame{
			Border: 25,
			Radius: 0,
		},
		General: General{
			AllowEmptyPassword: false,
			HideCursor:         true,
			BgType:             BackgroundColor,
		},
		Image: Image{
			Scale: ImageScaleFill,
		},
	}
}

// Validate reports the first problem that would make the configuration
// unusable at runtime.
func (c *Config) Validate() error {
	if c.Font.Size <= 0 {
		return fmt.Errorf("font.size must be positive, got %v", c.Font.Size)
	}
	if n := utf8.RuneCountInString(c.Input.MaskChar); n != 1 {
		return fmt.Errorf("input.mask-char must be a single character, got %q", c.Input.MaskChar)
	}
	if c.Input.Width <= 0 || c.Input.Width > 1 {
		return fmt.Errorf("input.width must be in (0, 1], got %v", c.Input.Width)
	}
	if c.General.BgType == BackgroundImage && c.Image.Path == "" {
		return fmt.Errorf("general.bg-type is %q but image.path is empty", BackgroundImage)
	}
	return nil
}
