package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AspectClass buckets a source's aspect ratio for picking background art.
type AspectClass int

const (
	AspectWidescreen AspectClass = iota // 1.5:1 and wider
	AspectPillarbox                     // narrower than 1.5:1, e.g. 4:3
)

// widescreenMinRatio is the smallest width/height ratio treated as widescreen.
const widescreenMinRatio = 1.5

func (a AspectClass) String() string {
	switch a {
	case AspectWidescreen:
		return "widescreen"
	case AspectPillarbox:
		return "pillarbox"
	default:
		return "unknown"
	}
}

// ClassifyAspect returns the aspect class of a width x height picture.
func ClassifyAspect(width, height int) AspectClass {
	if height > 0 && float64(width)/float64(height) >= widescreenMinRatio {
		return AspectWidescreen
	}
	return AspectPillarbox
}

// BackgroundAsset is one background image filter with an image per aspect
// class.
type BackgroundAsset struct {
	Filter     FilterKind `yaml:"filter"`
	Label      string     `yaml:"label,omitempty"`
	Widescreen string     `yaml:"widescreen"`
	Pillarbox  string     `yaml:"pillarbox"`
}

// BackgroundCatalog maps background filters to image paths. It is read-only
// after loading.
type BackgroundCatalog struct {
	assets []BackgroundAsset
}

type catalogFile struct {
	Backgrounds []BackgroundAsset `yaml:"backgrounds"`
}

// LoadBackgroundCatalog reads a YAML catalog. Relative image paths are
// resolved against the catalog's directory.
func LoadBackgroundCatalog(path string) (*BackgroundCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read background catalog: %w", err)
	}
	c, err := ParseBackgroundCatalog(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ParseBackgroundCatalog parses catalog YAML, resolving relative paths
// against baseDir.
//
//	backgrounds:
//	  - filter: courtroom
//	    widescreen: courtroom_16x9.jpg
//	    pillarbox: courtroom_4x3.jpg
func ParseBackgroundCatalog(data []byte, baseDir string) (*BackgroundCatalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse background catalog: %w", err)
	}

	c := &BackgroundCatalog{}
	seen := make(map[FilterKind]bool)
	for i, a := range f.Backgrounds {
		switch {
		case a.Filter == FilterNone || a.Filter == FilterBlur:
			return nil, fmt.Errorf("background %d: filter %q is reserved", i, a.Filter)
		case seen[a.Filter]:
			return nil, fmt.Errorf("background %d: duplicate filter %q", i, a.Filter)
		case a.Widescreen == "" && a.Pillarbox == "":
			return nil, fmt.Errorf("background %d (%s): no image", i, a.Filter)
		}
		seen[a.Filter] = true
		a.Widescreen = resolveAsset(baseDir, a.Widescreen)
		a.Pillarbox = resolveAsset(baseDir, a.Pillarbox)
		c.assets = append(c.assets, a)
	}
	return c, nil
}

func resolveAsset(baseDir, p string) string {
	if p == "" || baseDir == "" || filepath.IsAbs(p) || strings.Contains(p, "://") {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Filters returns the catalog's filter kinds in file order.
func (c *BackgroundCatalog) Filters() []FilterKind {
	kinds := make([]FilterKind, len(c.assets))
	for i, a := range c.assets {
		kinds[i] = a.Filter
	}
	return kinds
}

// Path returns the image for kind at the given aspect class, falling back to
// the other class's image when only one is listed.
func (c *BackgroundCatalog) Path(kind FilterKind, class AspectClass) (string, bool) {
	if c == nil {
		return "", false
	}
	for _, a := range c.assets {
		if a.Filter != kind {
			continue
		}
		primary, other := a.Widescreen, a.Pillarbox
		if class == AspectPillarbox {
			primary, other = other, primary
		}
		if primary != "" {
			return primary, true
		}
		return other, true
	}
	return "", false
}
