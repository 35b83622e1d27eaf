package camera

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"

	"smart-room/internal/domain"
)

const (
	DefaultWidth   = 640
	DefaultHeight  = 480
	DefaultQuality = 80
)

// Encoder scales captured images to a fixed size and encodes them as JPEG data URLs.
type Encoder struct {
	Width   int
	Height  int
	Quality int
}

func DefaultEncoder() Encoder {
	return Encoder{Width: DefaultWidth, Height: DefaultHeight, Quality: DefaultQuality}
}

func (e Encoder) withDefaults() Encoder {
	if e.Width <= 0 {
		e.Width = DefaultWidth
	}
	if e.Height <= 0 {
		e.Height = DefaultHeight
	}
	if e.Quality <= 0 || e.Quality > 100 {
		e.Quality = DefaultQuality
	}
	return e
}

func (e Encoder) Encode(img image.Image) (domain.Frame, error) {
	e = e.withDefaults()

	dst := image.NewRGBA(image.Rect(0, 0, e.Width, e.Height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: e.Quality}); err != nil {
		return "", fmt.Errorf("encoding jpeg: %w", err)
	}
	return domain.Frame("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// EncodeBytes decodes a JPEG or PNG image and re-encodes it.
func (e Encoder) EncodeBytes(data []byte) (domain.Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decoding image: %w", err)
	}
	return e.Encode(img)
}

// DecodeFrame parses a data URL back into an image.
func DecodeFrame(frame domain.Frame) (image.Image, error) {
	s := string(frame)
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return nil, fmt.Errorf("frame is not a data URL")
	}
	raw, err := base64.StdEncoding.DecodeString(s[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}
