package main

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/MatthiasKunnen/deadbolt/pkg/config"
)

func TestParseFlagsWithoutArgsLeavesNoOverrides(t *testing.T) {
	opts, err := parseFlags("deadbolt", nil)
	require.NoError(t, err)

	assert.Equal(t, config.Overrides{}, opts.overrides)
	assert.Equal(t, zapcore.InfoLevel, opts.logLevel.Level())
}

func TestParseFlagsRecordsOnlyPassedFlags(t *testing.T) {
	opts, err := parseFlags("deadbolt", []string{
		"--bg-color", "#102030",
		"--font-size", "24",
		"--hide-cursor=false",
	})
	require.NoError(t, err)

	ov := opts.overrides
	require.NotNil(t, ov.Background)
	assert.Equal(t, config.RGBA{R: 0x10 / 255.0, G: 0x20 / 255.0, B: 0x30 / 255.0, A: 1}, *ov.Background)
	require.NotNil(t, ov.FontSize)
	assert.Equal(t, 24.0, *ov.FontSize)
	require.NotNil(t, ov.HideCursor)
	assert.False(t, *ov.HideCursor)

	assert.Nil(t, ov.Text, "untouched flags must not override")
	assert.Nil(t, ov.FontFamily)
	assert.Nil(t, ov.AllowEmptyPassword)
}

func TestParseFlagsParsesEnums(t *testing.T) {
	opts, err := parseFlags("deadbolt", []string{
		"--font-slant", "Italic",
		"--font-weight", "bold",
		"--bg-type", "image",
		"--image-path", "/tmp/bg.png",
		"--image-scale", "tile",
	})
	require.NoError(t, err)

	ov := opts.overrides
	require.NotNil(t, ov.FontSlant)
	assert.Equal(t, config.SlantItalic, *ov.FontSlant)
	require.NotNil(t, ov.FontWeight)
	assert.Equal(t, config.WeightBold, *ov.FontWeight)
	require.NotNil(t, ov.BgType)
	assert.Equal(t, config.BackgroundImage, *ov.BgType)
	require.NotNil(t, ov.ImagePath)
	assert.Equal(t, "/tmp/bg.png", *ov.ImagePath)
	require.NotNil(t, ov.ImageScale)
	assert.Equal(t, config.ImageScaleTile, *ov.ImageScale)
}

func TestParseFlagsShorthands(t *testing.T) {
	opts, err := parseFlags("deadbolt", []string{"-c", "/etc/deadbolt.toml", "-l", "debug"})
	require.NoError(t, err)

	assert.Equal(t, "/etc/deadbolt.toml", opts.overrides.ConfigFile)
	assert.Equal(t, zapcore.DebugLevel, opts.logLevel.Level())
}

func TestParseFlagsRejectsInvalidColor(t *testing.T) {
	_, err := parseFlags("deadbolt", []string{"--bg-color", "red"})
	assert.Error(t, err)
}

func TestParseFlagsRejectsInvalidEnum(t *testing.T) {
	_, err := parseFlags("deadbolt", []string{"--font-slant", "cursive"})
	assert.Error(t, err)
}

func TestParseFlagsRejectsInvalidLogLevel(t *testing.T) {
	_, err := parseFlags("deadbolt", []string{"--log-level", "loud"})
	assert.Error(t, err)
}

func TestParseFlagsRejectsUnknownFlag(t *testing.T) {
	_, err := parseFlags("deadbolt", []string{"--no-such-flag"})
	assert.Error(t, err)
}

func TestParseFlagsHelp(t *testing.T) {
	_, err := parseFlags("deadbolt", []string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}
