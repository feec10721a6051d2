// Package imagemeta sniffs dimensions and format of generated image payloads.
package imagemeta

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Meta describes a decoded image header.
type Meta struct {
	Format string
	Width  int
	Height int
}

// Sniff decodes the image header without decoding pixel data. Returns false
// for encodings outside png/jpeg/webp.
func Sniff(data []byte) (Meta, bool) {
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Meta{}, false
	}
	return Meta{Format: format, Width: config.Width, Height: config.Height}, true
}
