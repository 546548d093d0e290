package photo

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// CompressOptions controls the re-encode policy for oversized captures.
type CompressOptions struct {
	// MaxBytes is the size threshold. Blobs at or below it are stored as-is.
	MaxBytes int
	// MaxDimension bounds the longer edge before re-encoding. 0 disables resizing.
	MaxDimension int
	// StartQuality, MinQuality and QualityStep define the JPEG quality ladder.
	StartQuality int
	MinQuality   int
	QualityStep  int
}

// DefaultCompressOptions returns the device defaults.
func DefaultCompressOptions() CompressOptions {
	return CompressOptions{
		MaxBytes:     500 * 1024,
		MaxDimension: 1600,
		StartQuality: 85,
		MinQuality:   40,
		QualityStep:  10,
	}
}

// Compress shrinks data when it exceeds MaxBytes. The image is fitted to
// MaxDimension, then re-encoded as JPEG from StartQuality down to
// MinQuality; the first result under the threshold wins, otherwise the
// smallest result is kept. If nothing beats the original the original is
// returned with changed=false.
//
// Any decode or encode failure is returned as an error; callers fall back
// to the original bytes.
func Compress(data []byte, opts CompressOptions) (out []byte, changed bool, err error) {
	if opts.MaxBytes <= 0 || len(data) <= opts.MaxBytes {
		return data, false, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, false, fmt.Errorf("decode image: %w", err)
	}

	if opts.MaxDimension > 0 {
		b := img.Bounds()
		if b.Dx() > opts.MaxDimension || b.Dy() > opts.MaxDimension {
			img = imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
		}
	}

	step := opts.QualityStep
	if step <= 0 {
		step = 10
	}
	minQ := opts.MinQuality
	if minQ < 1 {
		minQ = 1
	}

	var best []byte
	for q := opts.StartQuality; q >= minQ; q -= step {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
			return nil, false, fmt.Errorf("encode jpeg q=%d: %w", q, err)
		}
		if best == nil || buf.Len() < len(best) {
			best = buf.Bytes()
		}
		if len(best) <= opts.MaxBytes {
			break
		}
	}

	if best == nil || len(best) >= len(data) {
		return data, false, nil
	}
	return best, true, nil
}
