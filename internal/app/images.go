package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"medquiz-service/internal/domain"
)

// MaxImageWidth caps uploaded images; wider ones are downscaled keeping aspect ratio.
const MaxImageWidth = 1024

var imageContentTypes = map[imaging.Format]string{
	imaging.JPEG: "image/jpeg",
	imaging.PNG:  "image/png",
	imaging.GIF:  "image/gif",
}

// storeImage decodes, downscales and re-encodes an upload before handing it to the store.
func storeImage(ctx context.Context, store ImageStore, prefix, filename string, body io.Reader) (string, error) {
	img, err := imaging.Decode(body, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("%w: unreadable image: %v", domain.ErrInvalidInput, err)
	}
	if img.Bounds().Dx() > MaxImageWidth {
		img = imaging.Resize(img, MaxImageWidth, 0, imaging.Lanczos)
	}

	format, err := imaging.FormatFromFilename(filename)
	if err != nil {
		format = imaging.JPEG
	}
	contentType, ok := imageContentTypes[format]
	if !ok {
		format, contentType = imaging.JPEG, "image/jpeg"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || format == imaging.JPEG && ext != ".jpg" && ext != ".jpeg" {
		ext = ".jpg"
	}
	key := prefix + "/" + uuid.NewString() + ext
	return store.Put(ctx, key, contentType, &buf, int64(buf.Len()))
}
