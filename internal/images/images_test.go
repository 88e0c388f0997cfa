package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoeder/gleaner/internal/config"
)

func testConfig() config.ImageConfig {
	return config.ImageConfig{
		MaxHeaderWidth:  1200,
		MaxHeaderHeight: 1200,
		JPEGQuality:     65,
		PreferJPEG:      true,
		MinBodyBytes:    100,
		SkipBelowBytes:  0,
		CompressEnabled: true,
		Base64Enabled:   true,
	}
}

// testImage renders a gradient so encoders cannot collapse it below the
// minimum size threshold.
func testImage(w, h int, alpha bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if alpha && (x+y)%2 == 0 {
				a = 128
			}
			img.SetRGBA(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: a})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestProcessRecompressesJPEG(t *testing.T) {
	svc := NewService(testConfig())
	data := encodeJPEG(t, testImage(64, 48, false))

	res := svc.Process(data, "image/jpeg", false)
	require.NotNil(t, res)
	assert.Equal(t, "image/jpeg", res.ContentType)
	assert.Equal(t, 64, res.Width)
	assert.Equal(t, 48, res.Height)
	assert.True(t, strings.HasPrefix(res.DataURI, "data:image/jpeg;base64,"))

	out, format, err := image.Decode(bytes.NewReader(res.Bytes))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 64, out.Bounds().Dx())
}

func TestProcessKeepsTransparencyAsPNG(t *testing.T) {
	svc := NewService(testConfig())
	data := encodePNG(t, testImage(64, 64, true))

	res := svc.Process(data, "image/png", false)
	require.NotNil(t, res)
	assert.Equal(t, "image/png", res.ContentType)

	_, format, err := image.Decode(bytes.NewReader(res.Bytes))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestProcessFlattensOpaquePNGToJPEG(t *testing.T) {
	svc := NewService(testConfig())
	data := encodePNG(t, testImage(64, 64, false))

	res := svc.Process(data, "image/png", false)
	require.NotNil(t, res)
	assert.Equal(t, "image/jpeg", res.ContentType)
}

func TestProcessPreferPNGOutput(t *testing.T) {
	cfg := testConfig()
	cfg.PreferJPEG = false
	svc := NewService(cfg)
	data := encodeJPEG(t, testImage(64, 64, false))

	res := svc.Process(data, "image/jpeg", false)
	require.NotNil(t, res)
	assert.Equal(t, "image/png", res.ContentType)
}

func TestProcessHeaderResize(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHeaderWidth = 400
	cfg.MaxHeaderHeight = 400
	svc := NewService(cfg)
	data := encodeJPEG(t, testImage(800, 400, false))

	res := svc.Process(data, "image/jpeg", true)
	require.NotNil(t, res)
	assert.Equal(t, 400, res.Width)
	assert.Equal(t, 200, res.Height)

	// Body images keep their size.
	res = svc.Process(data, "image/jpeg", false)
	require.NotNil(t, res)
	assert.Equal(t, 800, res.Width)
}

func TestProcessNeverUpscales(t *testing.T) {
	svc := NewService(testConfig())
	data := encodeJPEG(t, testImage(300, 200, false))

	res := svc.Process(data, "image/jpeg", true)
	require.NotNil(t, res)
	assert.Equal(t, 300, res.Width)
	assert.Equal(t, 200, res.Height)
}

func TestProcessSkipsSmallInputs(t *testing.T) {
	cfg := testConfig()
	cfg.SkipBelowBytes = 1 << 20
	svc := NewService(cfg)
	data := encodePNG(t, testImage(64, 64, false))

	res := svc.Process(data, "image/png", false)
	require.NotNil(t, res)
	// Below the threshold the original bytes pass through untouched.
	assert.Equal(t, data, res.Bytes)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, 64, res.Width)
}

func TestProcessRejects(t *testing.T) {
	svc := NewService(testConfig())

	tests := []struct {
		name string
		data []byte
		typ  string
	}{
		{"too small", []byte("tiny"), "image/png"},
		{"not an image", bytes.Repeat([]byte("<html>junk</html>"), 20), "text/html"},
		{"lying content type", bytes.Repeat([]byte("plain text body"), 20), "image/jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, svc.Process(tt.data, tt.typ, false))
		})
	}
}

func TestProcessSVGPassthrough(t *testing.T) {
	svc := NewService(testConfig())
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10">` +
		strings.Repeat(`<rect width="1" height="1"/>`, 10) + `</svg>`)

	res := svc.Process(svg, "image/svg+xml", false)
	require.NotNil(t, res)
	assert.Equal(t, "image/svg+xml", res.ContentType)
	assert.Equal(t, svg, res.Bytes)
}

func TestNormalizeContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", normalizeContentType("image/jpg"))
	assert.Equal(t, "image/png", normalizeContentType("IMAGE/PNG; charset=binary"))
	assert.Equal(t, "image/webp", normalizeContentType(" image/webp "))
}
