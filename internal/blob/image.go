package blob

import (
	"net/http"
	"path/filepath"
	"strings"
)

var imageTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"heic": "image/heic",
	"heif": "image/heif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
}

func ext(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// IsImage reports whether an upload is plausibly an image. Some mobile
// browsers send an empty content type, so the extension and a sniff of the
// leading bytes are consulted as well.
func IsImage(filename, declared string, head []byte) bool {
	if strings.HasPrefix(declared, "image/") {
		return true
	}
	if _, ok := imageTypes[ext(filename)]; ok {
		return true
	}
	if len(head) > 0 {
		return strings.HasPrefix(http.DetectContentType(head), "image/")
	}
	return false
}

// ContentType picks the stored content type: the declared one when it is an
// image type, otherwise one derived from the extension, defaulting to JPEG.
func ContentType(filename, declared string) string {
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	if ct, ok := imageTypes[ext(filename)]; ok {
		return ct
	}
	return "image/jpeg"
}

// Extension returns the object extension for an upload.
func Extension(filename, contentType string) string {
	if e := ext(filename); e != "" {
		if _, ok := imageTypes[e]; ok {
			return e
		}
	}
	for e, ct := range map[string]string{"jpg": "image/jpeg", "png": "image/png", "gif": "image/gif", "webp": "image/webp"} {
		if ct == contentType {
			return e
		}
	}
	return "jpg"
}
