// Package transcode scales raw page captures into fixed-size JPEG thumbnails.
package transcode

import (
	"context"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

// OutputName is the file the transcoder writes next to the raw capture.
const OutputName = "thumbnail.jpg"

// Transcoder resizes images to an exact width and height.
type Transcoder struct {
	spec thumbnail.ImageSpec
}

// New validates spec and returns a Transcoder. Quality 0 is the lowest
// setting, not a request for the encoder default.
func New(spec thumbnail.ImageSpec) (*Transcoder, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("output dimensions must be > 0, got %dx%d", spec.Width, spec.Height)
	}
	if spec.Quality < 0 || spec.Quality > 100 {
		return nil, fmt.Errorf("quality must be between 0 and 100, got %d", spec.Quality)
	}
	return &Transcoder{spec: spec}, nil
}

// Spec returns the output parameters.
func (t *Transcoder) Spec() thumbnail.ImageSpec {
	return t.spec
}

// Transcode decodes rawPath, scales it to the configured size and writes a
// JPEG into the same directory. Aspect ratio is not preserved.
func (t *Transcoder) Transcode(ctx context.Context, rawPath string) (string, error) {
	const op = "transcode"
	if err := ctx.Err(); err != nil {
		return "", thumbnail.NewError(thumbnail.KindCanceled, op, err)
	}

	src, err := decode(rawPath)
	if err != nil {
		return "", thumbnail.NewError(thumbnail.KindTranscodeFailure, op, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, t.spec.Width, t.spec.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	if err := ctx.Err(); err != nil {
		return "", thumbnail.NewError(thumbnail.KindCanceled, op, err)
	}

	outPath := filepath.Join(filepath.Dir(rawPath), OutputName)
	if err := encode(outPath, dst, t.spec.Quality); err != nil {
		return "", thumbnail.NewError(thumbnail.KindTranscodeFailure, op, err)
	}
	return outPath, nil
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path) //nolint:gosec // path is produced inside a capture workspace
	if err != nil {
		return nil, fmt.Errorf("open raw capture: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode raw capture: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("raw capture is empty")
	}
	return img, nil
}

func encode(path string, img image.Image, quality int) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // workspace path
	if err != nil {
		return fmt.Errorf("create thumbnail: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close thumbnail: %w", closeErr)
		}
	}()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return nil
}
