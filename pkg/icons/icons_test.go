package icons

import (
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, size int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "source.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestGenerateDefaultSet(t *testing.T) {
	src := writeSource(t, 512)
	out := t.TempDir()

	written, err := Generate(src, out, nil)
	require.NoError(t, err)
	require.Len(t, written, len(DefaultSet)+1)

	for _, spec := range DefaultSet {
		f, err := os.Open(filepath.Join(out, spec.Name))
		require.NoError(t, err)
		img, err := png.Decode(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, spec.Size, img.Bounds().Dx(), spec.Name)
		assert.Equal(t, spec.Size, img.Bounds().Dy(), spec.Name)
	}
}

func TestGenerateManifestFragment(t *testing.T) {
	src := writeSource(t, 512)
	out := t.TempDir()

	_, err := Generate(src, out, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(out, "manifest-icons.json"))
	require.NoError(t, err)

	var entries []map[string]string
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, len(DefaultSet))

	last := entries[len(entries)-1]
	assert.Equal(t, "/icons/maskable-icon-512x512.png", last["src"])
	assert.Equal(t, "512x512", last["sizes"])
	assert.Equal(t, "maskable", last["purpose"])

	// Non-maskable entries omit the purpose field.
	_, ok := entries[0]["purpose"]
	assert.False(t, ok)
}

func TestGenerateRejectsNonSquare(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 512, 256))
	path := filepath.Join(t.TempDir(), "wide.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	_, err = Generate(path, t.TempDir(), nil)
	assert.ErrorContains(t, err, "square")
}

func TestGenerateRejectsSmallSource(t *testing.T) {
	src := writeSource(t, 256)
	_, err := Generate(src, t.TempDir(), nil)
	assert.ErrorContains(t, err, "at least 512px")
}

func TestGenerateCustomSpecs(t *testing.T) {
	src := writeSource(t, 64)
	out := t.TempDir()

	written, err := Generate(src, out, []Spec{{Name: "tiny.png", Size: 24}})
	require.NoError(t, err)
	require.Len(t, written, 2)

	f, err := os.Open(filepath.Join(out, "tiny.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 24, img.Bounds().Dx())
}
