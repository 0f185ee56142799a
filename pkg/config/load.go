package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// SystemPath is the lowest-priority configuration file.
const SystemPath = "/usr/share/deadbolt/deadbolt.toml"

// UserPath returns the per-user configuration file path, following the
// XDG base directory convention.
func UserPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "deadbolt", "deadbolt.toml"), nil
}

// Load resolves the configuration: built-in defaults, then the system
// file, then the user file, then command line overrides. Missing files
// are skipped. When ov.ConfigFile is set it replaces both files and must
// exist.
func Load(ov Overrides) (Config, error) {
	cfg := Default()

	var paths []string
	if ov.ConfigFile != "" {
		paths = []string{ov.ConfigFile}
	} else {
		paths = append(paths, SystemPath)
		if user, err := UserPath(); err == nil {
			paths = append(paths, user)
		}
	}
	for _, p := range paths {
		if err := loadFile(p, &cfg); err != nil {
			if ov.ConfigFile == "" && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, err
		}
	}
	ov.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Overrides carries optional command line values. Nil fields leave the
// file-resolved value untouched.
type Overrides struct {
	// ConfigFile, when set, is loaded instead of the default file pair.
	ConfigFile string

	Background         *RGBA
	Text               *RGBA
	InputBg            *RGBA
	InputBorderColor   *RGBA
	FrameBorderIdle    *RGBA
	FrameBorderSuccess *RGBA
	FrameBorderFail    *RGBA

	FontSize     *float64
	FontFamily   *string
	FontSlant    *Slant
	FontWeight   *Weight
	FontDPIAware *bool

	MaskChar      *string
	InputWidth    *float64
	InputPaddingX *float64
	InputPaddingY *float64
	InputRadius   *float64
	InputBorder   *float64
	HideWhenEmpty *bool
	FitToContent  *bool

	FrameBorder *float64
	FrameRadius *float64

	AllowEmptyPassword *bool
	HideCursor         *bool
	BgType             *BackgroundType

	ImagePath  *string
	ImageScale *ImageScale
}

func (o Overrides) apply(cfg *Config) {
	setIf(&cfg.Colors.Background, o.Background)
	setIf(&cfg.Colors.Text, o.Text)
	setIf(&cfg.Colors.InputBg, o.InputBg)
	setIf(&cfg.Colors.InputBorder, o.InputBorderColor)
	setIf(&cfg.Colors.FrameBorderIdle, o.FrameBorderIdle)
	setIf(&cfg.Colors.FrameBorderSuccess, o.FrameBorderSuccess)
	setIf(&cfg.Colors.FrameBorderFail, o.FrameBorderFail)
	setIf(&cfg.Font.Size, o.FontSize)
	setIf(&cfg.Font.Family, o.FontFamily)
	setIf(&cfg.Font.Slant, o.FontSlant)
	setIf(&cfg.Font.Weight, o.FontWeight)
	setIf(&cfg.Font.DPIAware, o.FontDPIAware)
	setIf(&cfg.Input.MaskChar, o.MaskChar)
	setIf(&cfg.Input.Width, o.InputWidth)
	setIf(&cfg.Input.PaddingX, o.InputPaddingX)
	setIf(&cfg.Input.PaddingY, o.InputPaddingY)
	setIf(&cfg.Input.Radius, o.InputRadius)
	setIf(&cfg.Input.Border, o.InputBorder)
	setIf(&cfg.Input.HideWhenEmpty, o.HideWhenEmpty)
	setIf(&cfg.Input.FitToContent, o.FitToContent)
	setIf(&cfg.Frame.Border, o.FrameBorder)
	setIf(&cfg.Frame.Radius, o.FrameRadius)
	setIf(&cfg.General.AllowEmptyPassword, o.AllowEmptyPassword)
	setIf(&cfg.General.HideCursor, o.HideCursor)
	setIf(&cfg.General.BgType, o.BgType)
	setIf(&cfg.Image.Path, o.ImagePath)
	setIf(&cfg.Image.Scale, o.ImageScale)
}

func setIf[T any](dst, src *T) {
	if src != nil {
		*dst = *src
	}
}
