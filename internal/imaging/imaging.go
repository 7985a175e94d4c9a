// Package imaging preprocesses attached images to the constraints of the
// model or provider the selector chose: longest-edge and total-pixel
// caps, and re-encoding to an accepted format. Built on the standard
// image stack plus golang.org/x/image/draw for quality
// (non-nearest-neighbor) scaling.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"golang.org/x/image/draw"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// Preprocessed is one attached image after constraint enforcement.
type Preprocessed struct {
	Bytes    []byte
	MIMEType string
}

// DecodeDataURL splits a "data:<mime>;base64,<data>" URL into its MIME
// type and raw bytes. Inputs without a data: prefix are rejected;
// fetching remote image URLs is not this gateway's job.
func DecodeDataURL(dataURL string) (mimeType string, data []byte, err error) {
	const prefix = "data:"
	if !strings.HasPrefix(dataURL, prefix) {
		return "", nil, fmt.Errorf("image input must be a data URL")
	}
	rest := dataURL[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	header := rest[:comma]
	payload := rest[comma+1:]

	semi := strings.IndexByte(header, ';')
	if semi < 0 {
		return "", nil, fmt.Errorf("data URL missing base64 marker")
	}
	mimeType = header[:semi]

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return mimeType, data, nil
}

// Preprocess resizes and re-encodes one image to satisfy caps. A nil or
// zero-valued field in caps is treated as "no constraint" for that axis.
func Preprocess(data []byte, caps domain.Capabilities) (Preprocessed, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Preprocessed{}, fmt.Errorf("decode image: %w", err)
	}

	if !formatAccepted(format, caps.ImageFormats) && len(caps.ImageFormats) > 0 {
		format = caps.ImageFormats[0]
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	w, h = fitToConstraints(w, h, caps.ImageMaxEdge, caps.ImageMaxPixels)

	resized := src
	if w != bounds.Dx() || h != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		resized = dst
	}

	return encode(resized, format)
}

// fitToConstraints computes the largest (w, h) preserving aspect ratio
// that satisfies both a max-edge and a max-total-pixels bound.
func fitToConstraints(w, h, maxEdge, maxPixels int) (int, int) {
	if maxEdge > 0 {
		longest := w
		if h > longest {
			longest = h
		}
		if longest > maxEdge {
			scale := float64(maxEdge) / float64(longest)
			w = int(float64(w) * scale)
			h = int(float64(h) * scale)
		}
	}
	if maxPixels > 0 && w*h > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(w*h))
		w = int(float64(w) * scale)
		h = int(float64(h) * scale)
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

func formatAccepted(format string, accepted []string) bool {
	if len(accepted) == 0 {
		return true
	}
	for _, a := range accepted {
		if strings.EqualFold(a, format) {
			return true
		}
	}
	return false
}

func encode(img image.Image, format string) (Preprocessed, error) {
	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return Preprocessed{}, fmt.Errorf("encode png: %w", err)
		}
		return Preprocessed{Bytes: buf.Bytes(), MIMEType: "image/png"}, nil
	default:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return Preprocessed{}, fmt.Errorf("encode jpeg: %w", err)
		}
		return Preprocessed{Bytes: buf.Bytes(), MIMEType: "image/jpeg"}, nil
	}
}
