// Package icons renders the web app icon set from a single square source
// PNG: favicons, the apple touch icon, and the android/maskable pair,
// plus the matching web manifest fragment.
package icons

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

// Spec is one output icon.
type Spec struct {
	Name     string
	Size     int
	Maskable bool
}

// DefaultSet is what the healthcare app's web frontend links to.
var DefaultSet = []Spec{
	{Name: "favicon-16x16.png", Size: 16},
	{Name: "favicon-32x32.png", Size: 32},
	{Name: "favicon-48x48.png", Size: 48},
	{Name: "apple-touch-icon.png", Size: 180},
	{Name: "android-chrome-192x192.png", Size: 192},
	{Name: "android-chrome-512x512.png", Size: 512},
	{Name: "maskable-icon-512x512.png", Size: 512, Maskable: true},
}

// manifestEntry is one element of the icons array in a web manifest.
type manifestEntry struct {
	Src     string `json:"src"`
	Sizes   string `json:"sizes"`
	Type    string `json:"type"`
	Purpose string `json:"purpose,omitempty"`
}

// Generate renders specs from the source PNG into outDir and writes
// manifest-icons.json alongside them. The source must be square and at
// least as large as the biggest spec. Returns the written file paths.
func Generate(srcPath, outDir string, specs []Spec) ([]string, error) {
	if len(specs) == 0 {
		specs = DefaultSet
	}

	src, err := loadSource(srcPath, specs)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("icons: %w", err)
	}

	var written []string
	var entries []manifestEntry
	for _, spec := range specs {
		img := render(src, spec)
		path := filepath.Join(outDir, spec.Name)
		if err := writePNG(path, img); err != nil {
			return nil, err
		}
		written = append(written, path)

		entry := manifestEntry{
			Src:   "/icons/" + spec.Name,
			Sizes: fmt.Sprintf("%dx%d", spec.Size, spec.Size),
			Type:  "image/png",
		}
		if spec.Maskable {
			entry.Purpose = "maskable"
		}
		entries = append(entries, entry)
	}

	manifestPath := filepath.Join(outDir, "manifest-icons.json")
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("icons: %w", err)
	}
	if err := os.WriteFile(manifestPath, raw, 0644); err != nil {
		return nil, fmt.Errorf("icons: %w", err)
	}
	return append(written, manifestPath), nil
}

func loadSource(path string, specs []Spec) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("icons: %w", err)
	}
	defer f.Close()

	src, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("icons: decoding %s: %w", path, err)
	}

	bounds := src.Bounds()
	if bounds.Dx() != bounds.Dy() {
		return nil, fmt.Errorf("icons: source must be square, got %dx%d", bounds.Dx(), bounds.Dy())
	}
	max := 0
	for _, spec := range specs {
		if spec.Size > max {
			max = spec.Size
		}
	}
	if bounds.Dx() < max {
		return nil, fmt.Errorf("icons: source is %dpx, need at least %dpx", bounds.Dx(), max)
	}
	return src, nil
}

// render scales src to the spec size. Maskable icons keep the artwork
// inside the 80% safe zone and fill the bleed with the source's corner
// color so launchers can crop any shape.
func render(src image.Image, spec Spec) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, spec.Size, spec.Size))

	target := dst.Bounds()
	if spec.Maskable {
		corner := src.At(src.Bounds().Min.X, src.Bounds().Min.Y)
		draw.Draw(dst, dst.Bounds(), image.NewUniform(corner), image.Point{}, draw.Src)

		inset := spec.Size / 10
		target = image.Rect(inset, inset, spec.Size-inset, spec.Size-inset)
	}

	draw.CatmullRom.Scale(dst, target, src, src.Bounds(), draw.Over, nil)
	return dst
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("icons: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("icons: encoding %s: %w", path, err)
	}
	return nil
}
