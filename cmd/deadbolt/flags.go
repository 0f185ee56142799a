package main

import (
	"errors"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/MatthiasKunnen/deadbolt/pkg/config"
)

// cliOptions is everything the command line can change.
type cliOptions struct {
	overrides config.Overrides
	logLevel  zap.AtomicLevel
}

// parseFlags builds the override set from the flags present on args.
// Flags that were not passed leave no trace in the overrides, so the
// file-resolved values stay in effect.
func parseFlags(name string, args []string) (cliOptions, error) {
	defaults := config.Default()
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	configFile := fs.StringP("config-file", "c", "",
		"Load this configuration file instead of the default pair")
	logLevel := fs.StringP("log-level", "l", "info",
		"Log level: debug, info, warn, or error")

	bgColor := fs.String("bg-color", defaults.Colors.Background.String(),
		"Background color, #RRGGBB or #RRGGBBAA")
	textColor := fs.String("text-color", defaults.Colors.Text.String(),
		"Masked input text color")
	inputBgColor := fs.String("input-bg-color", defaults.Colors.InputBg.String(),
		"Input box fill color")
	inputBorderColor := fs.String("input-border-color", defaults.Colors.InputBorder.String(),
		"Input box border color")
	frameIdleColor := fs.String("frame-border-idle-color", defaults.Colors.FrameBorderIdle.String(),
		"Frame color while waiting for input")
	frameSuccessColor := fs.String("frame-border-success-color", defaults.Colors.FrameBorderSuccess.String(),
		"Frame color after a successful check")
	frameFailColor := fs.String("frame-border-fail-color", defaults.Colors.FrameBorderFail.String(),
		"Frame color after a failed check")

	fontSize := fs.Float64("font-size", defaults.Font.Size,
		"Font size in points")
	fontFamily := fs.String("font-family", defaults.Font.Family,
		"Font family name")
	fontSlant := fs.String("font-slant", string(defaults.Font.Slant),
		"Font slant: normal, italic, or oblique")
	fontWeight := fs.String("font-weight", string(defaults.Font.Weight),
		"Font weight: normal or bold")
	fontDPIAware := fs.Bool("font-dpi-aware", defaults.Font.DPIAware,
		"Scale text with each output's physical DPI")

	maskChar := fs.String("mask-char", defaults.Input.MaskChar,
		"Character echoed for every typed character")
	inputWidth := fs.Float64("input-width", defaults.Input.Width,
		"Input box width relative to the output width")
	inputPaddingX := fs.Float64("input-padding-x", defaults.Input.PaddingX,
		"Horizontal input padding relative to the output width")
	inputPaddingY := fs.Float64("input-padding-y", defaults.Input.PaddingY,
		"Vertical input padding relative to the output height")
	inputRadius := fs.Float64("input-radius", defaults.Input.Radius,
		"Input corner radius as a fraction of the box height")
	inputBorder := fs.Float64("input-border", defaults.Input.Border,
		"Input border width in pixels")
	hideWhenEmpty := fs.Bool("input-hide-when-empty", defaults.Input.HideWhenEmpty,
		"Hide the input box while the password is empty")
	fitToContent := fs.Bool("input-fit-to-content", defaults.Input.FitToContent,
		"Grow the input box with its content")

	frameBorder := fs.Float64("frame-border", defaults.Frame.Border,
		"Frame border width in pixels")
	frameRadius := fs.Float64("frame-radius", defaults.Frame.Radius,
		"Frame corner radius in pixels")

	allowEmpty := fs.Bool("allow-empty-password", defaults.General.AllowEmptyPassword,
		"Submit empty passwords to the authenticator")
	hideCursor := fs.Bool("hide-cursor", defaults.General.HideCursor,
		"Hide the pointer while it is over a lock surface")
	bgType := fs.String("bg-type", string(defaults.General.BgType),
		"Background: color or image")
	imagePath := fs.String("image-path", defaults.Image.Path,
		"Background image file")
	imageScale := fs.String("image-scale", string(defaults.Image.Scale),
		"Image scaling: stretch, fill, fit, center, or tile")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}

	opts := cliOptions{}
	opts.overrides.ConfigFile = *configFile

	level, err := zap.ParseAtomicLevel(*logLevel)
	if err != nil {
		fs.Usage()
		return cliOptions{}, err
	}
	opts.logLevel = level

	var errs []error
	ov := &opts.overrides
	parsedOverride(fs, "bg-color", *bgColor, config.ParseColor, &ov.Background, &errs)
	parsedOverride(fs, "text-color", *textColor, config.ParseColor, &ov.Text, &errs)
	parsedOverride(fs, "input-bg-color", *inputBgColor, config.ParseColor, &ov.InputBg, &errs)
	parsedOverride(fs, "input-border-color", *inputBorderColor, config.ParseColor, &ov.InputBorderColor, &errs)
	parsedOverride(fs, "frame-border-idle-color", *frameIdleColor, config.ParseColor, &ov.FrameBorderIdle, &errs)
	parsedOverride(fs, "frame-border-success-color", *frameSuccessColor, config.ParseColor, &ov.FrameBorderSuccess, &errs)
	parsedOverride(fs, "frame-border-fail-color", *frameFailColor, config.ParseColor, &ov.FrameBorderFail, &errs)
	parsedOverride(fs, "font-slant", *fontSlant, config.ParseSlant, &ov.FontSlant, &errs)
	parsedOverride(fs, "font-weight", *fontWeight, config.ParseWeight, &ov.FontWeight, &errs)
	parsedOverride(fs, "bg-type", *bgType, config.ParseBackgroundType, &ov.BgType, &errs)
	parsedOverride(fs, "image-scale", *imageScale, config.ParseImageScale, &ov.ImageScale, &errs)

	valueOverride(fs, "font-size", *fontSize, &ov.FontSize)
	valueOverride(fs, "font-family", *fontFamily, &ov.FontFamily)
	valueOverride(fs, "font-dpi-aware", *fontDPIAware, &ov.FontDPIAware)
	valueOverride(fs, "mask-char", *maskChar, &ov.MaskChar)
	valueOverride(fs, "input-width", *inputWidth, &ov.InputWidth)
	valueOverride(fs, "input-padding-x", *inputPaddingX, &ov.InputPaddingX)
	valueOverride(fs, "input-padding-y", *inputPaddingY, &ov.InputPaddingY)
	valueOverride(fs, "input-radius", *inputRadius, &ov.InputRadius)
	valueOverride(fs, "input-border", *inputBorder, &ov.InputBorder)
	valueOverride(fs, "input-hide-when-empty", *hideWhenEmpty, &ov.HideWhenEmpty)
	valueOverride(fs, "input-fit-to-content", *fitToContent, &ov.FitToContent)
	valueOverride(fs, "frame-border", *frameBorder, &ov.FrameBorder)
	valueOverride(fs, "frame-radius", *frameRadius, &ov.FrameRadius)
	valueOverride(fs, "allow-empty-password", *allowEmpty, &ov.AllowEmptyPassword)
	valueOverride(fs, "hide-cursor", *hideCursor, &ov.HideCursor)
	valueOverride(fs, "image-path", *imagePath, &ov.ImagePath)

	if err := errors.Join(errs...); err != nil {
		fs.Usage()
		return cliOptions{}, err
	}
	return opts, nil
}

// parsedOverride records an override for a flag that needs parsing into
// its config type, but only when the flag was set.
func parsedOverride[T any](
	fs *pflag.FlagSet,
	name string,
	raw string,
	parse func(string) (T, error),
	dst **T,
	errs *[]error,
) {
	if !fs.Changed(name) {
		return
	}
	v, err := parse(raw)
	if err != nil {
		*errs = append(*errs, err)
		return
	}
	*dst = &v
}

// valueOverride records an override for a flag whose value maps straight
// onto its config field, but only when the flag was set.
func valueOverride[T any](fs *pflag.FlagSet, name string, v T, dst **T) {
	if fs.Changed(name) {
		*dst = &v
	}
}
