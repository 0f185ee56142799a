package render

import (
	"fmt"
	"os"
	"strings"

	"github.com/flopp/go-findfont"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"

	"github.com/MatthiasKunnen/deadbolt/pkg/config"
)

// faceCache resolves the configured family to a font file once and
// builds one face per effective DPI. Not safe for concurrent use.
type faceCache struct {
	cfg    *config.Config
	parsed *sfnt.Font
	faces  map[float64]font.Face
}

func newFaceCache(cfg *config.Config) *faceCache {
	return &faceCache{cfg: cfg, faces: make(map[float64]font.Face)}
}

func (f *faceCache) face(dpi float64) (font.Face, error) {
	if face, ok := f.faces[dpi]; ok {
		return face, nil
	}
	if f.parsed == nil {
		fnt, err := loadFont(f.cfg.Font)
		if err != nil {
			return nil, err
		}
		f.parsed = fnt
	}
	face, err := opentype.NewFace(f.parsed, &opentype.FaceOptions{
		Size:    f.cfg.Font.Size,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("build font face: %w", err)
	}
	f.faces[dpi] = face
	return face, nil
}

// loadFont locates and parses the configured font. When no candidate
// resolves it falls back to the built-in face so rendering always
// works.
func loadFont(fc config.Font) (*sfnt.Font, error) {
	for _, name := range fontCandidates(fc) {
		path, err := findfont.Find(name)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		fnt, err := opentype.Parse(data)
		if err != nil {
			// findfont matches by file name and may return a format
			// opentype cannot parse.
			continue
		}
		return fnt, nil
	}
	return opentype.Parse(goregular.TTF)
}

// fontCandidates builds file names to probe, most specific first. Style
// variants follow the common FamilyName-StyleName.ttf convention.
func fontCandidates(fc config.Font) []string {
	families := []string{fc.Family}
	if fc.Family == "" {
		families = []string{"DejaVuSans", "LiberationSans", "FreeSans", "NotoSans"}
	}
	suffixes := styleSuffixes(fc.Slant, fc.Weight)

	var names []string
	for _, fam := range families {
		base := strings.ReplaceAll(fam, " ", "")
		for _, s := range suffixes {
			names = append(names, base+s+".ttf")
		}
		names = append(names, base+".ttf")
	}
	return names
}

func styleSuffixes(slant config.Slant, weight config.Weight) []string {
	bold := weight == config.WeightBold
	italic := slant != config.SlantNormal
	switch {
	case bold && italic:
		return []string{"-BoldItalic", "-BoldOblique", "BoldItalic"}
	case bold:
		return []string{"-Bold", "Bold"}
	case italic:
		return []string{"-Italic", "-Oblique", "Italic", "Oblique"}
	}
	return nil
}
