// Package images validates, recompresses, and inlines the images referenced
// by article bodies and headers.
package images

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"net/http"
	"strings"

	_ "image/gif"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dkoeder/gleaner/internal/config"
)

// acceptedTypes is the MIME accept list for downloaded images.
var acceptedTypes = map[string]bool{
	"image/jpeg":               true,
	"image/png":                true,
	"image/gif":                true,
	"image/webp":               true,
	"image/svg+xml":            true,
	"image/x-icon":             true,
	"image/vnd.microsoft.icon": true,
	"image/bmp":                true,
	"image/tiff":               true,
}

// Result is a processed image ready for inlining.
type Result struct {
	Bytes       []byte
	ContentType string
	Width       int
	Height      int
	DataURI     string
}

// Service recompresses images according to the configured budgets. A nil
// Result from Process means the input was unusable; callers drop the image.
type Service struct {
	cfg config.ImageConfig
}

// NewService creates a Service.
func NewService(cfg config.ImageConfig) *Service {
	return &Service{cfg: cfg}
}

// Process validates and recompresses one image. isHeader applies the header
// size cap; body images are never resized. Vector and icon formats pass
// through untouched since they cannot be decoded here.
func (s *Service) Process(data []byte, declaredType string, isHeader bool) *Result {
	if len(data) < s.cfg.MinBodyBytes {
		return nil
	}

	contentType := normalizeContentType(declaredType)
	if !acceptedTypes[contentType] {
		contentType = normalizeContentType(http.DetectContentType(data))
		if !acceptedTypes[contentType] {
			return nil
		}
	}

	if contentType == "image/svg+xml" || contentType == "image/x-icon" ||
		contentType == "image/vnd.microsoft.icon" {
		return s.passthrough(data, contentType, 0, 0)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Debug("image decode failed", "type", contentType, "err", err)
		return nil
	}
	bounds := img.Bounds()

	// Small inputs are not worth recompressing.
	if !s.cfg.CompressEnabled || len(data) < s.cfg.SkipBelowBytes {
		return s.passthrough(data, contentType, bounds.Dx(), bounds.Dy())
	}

	if isHeader {
		img = s.fitHeader(img)
		bounds = img.Bounds()
	}

	outBytes, outType, err := s.encode(img)
	if err != nil {
		slog.Debug("image encode failed", "type", contentType, "err", err)
		return nil
	}
	return s.result(outBytes, outType, bounds.Dx(), bounds.Dy())
}

// fitHeader shrinks an image to the configured header dimensions, keeping
// aspect ratio and never upscaling.
func (s *Service) fitHeader(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	maxW, maxH := s.cfg.MaxHeaderWidth, s.cfg.MaxHeaderHeight
	if w <= maxW && h <= maxH {
		return img
	}

	scale := float64(maxW) / float64(w)
	if hs := float64(maxH) / float64(h); hs < scale {
		scale = hs
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// encode re-encodes the image: PNG when transparency must survive, JPEG on
// a white background otherwise.
func (s *Service) encode(img image.Image) ([]byte, string, error) {
	var buf bytes.Buffer

	if hasTransparency(img) || !s.cfg.PreferJPEG {
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	}

	flat := image.NewRGBA(img.Bounds())
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, img.Bounds().Min, draw.Over)

	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/jpeg", nil
}

func (s *Service) passthrough(data []byte, contentType string, w, h int) *Result {
	return s.result(data, contentType, w, h)
}

func (s *Service) result(data []byte, contentType string, w, h int) *Result {
	r := &Result{
		Bytes:       data,
		ContentType: contentType,
		Width:       w,
		Height:      h,
	}
	if s.cfg.Base64Enabled {
		r.DataURI = "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
	}
	return r
}

func hasTransparency(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	return ct
}
