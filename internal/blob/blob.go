// Package blob stores uploaded IOU photos and hands back the public URL the
// ledger records as an opaque pointer.
package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// Store persists an object and returns its public URL.
type Store interface {
	Upload(ctx context.Context, data []byte, filename, contentType string) (string, error)
}

// KeyPrefix is the directory every uploaded object lives under.
const KeyPrefix = "uploads"

// ErrEmptyObject is returned when Upload receives no bytes.
var ErrEmptyObject = errors.New("empty object")

// FSStore writes objects below a root directory using content-derived keys,
// so re-uploading the same image yields the same URL.
type FSStore struct {
	root    string
	baseURL string
}

// NewFSStore creates root if needed. baseURL is prefixed to object keys to
// form public URLs (e.g. "https://cdn.example.com" or "/").
func NewFSStore(root, baseURL string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("blob root directory is required")
	}
	if err := os.MkdirAll(filepath.Join(root, KeyPrefix), 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload implements Store.
func (s *FSStore) Upload(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyObject
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sum := blake3.Sum256(data)
	key := path.Join(KeyPrefix, hex.EncodeToString(sum[:16])+"."+Extension(filename, contentType))
	dst := filepath.Join(s.root, filepath.FromSlash(key))

	if _, err := os.Stat(dst); err == nil {
		return s.url(key), nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close object %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("commit object %s: %w", key, err)
	}
	return s.url(key), nil
}

// Handler serves stored objects read-only. Mount it at "/uploads/".
func (s *FSStore) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		files.ServeHTTP(w, r)
	})
}

func (s *FSStore) url(key string) string {
	return s.baseURL + "/" + key
}
