package transform

import (
	"bytes"
	"context"
	"fmt"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/dshills/assetpipe/internal/pipeline"
)

// DefaultJPEGQuality is used when OptimizeImage.JPEGQuality is unset.
const DefaultJPEGQuality = 80

// OptimizeImage re-encodes raster images and keeps the result only when it
// is smaller than the original. Icons and unknown types pass through.
type OptimizeImage struct {
	JPEGQuality int
}

// Transform implements pipeline.Transformer.
func (o OptimizeImage) Transform(_ context.Context, f *pipeline.File) error {
	var (
		out []byte
		err error
	)
	switch strings.ToLower(f.Ext()) {
	case ".png":
		out, err = optimizePNG(f.Contents)
	case ".jpg", ".jpeg":
		q := o.JPEGQuality
		if q <= 0 {
			q = DefaultJPEGQuality
		}
		out, err = optimizeJPEG(f.Contents, q)
	case ".gif":
		out, err = optimizeGIF(f.Contents)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("optimize %s: %w", f.Ext(), err)
	}
	if len(out) < len(f.Contents) {
		f.Contents = out
	}
	return nil
}

func optimizePNG(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func optimizeJPEG(data []byte, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func optimizeGIF(data []byte) ([]byte, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
