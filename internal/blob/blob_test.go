package blob

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStoreUploadIsContentAddressed(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root, "https://cdn.example.com/")
	require.NoError(t, err)

	data := []byte("\x89PNG\r\n\x1a\nfake image body")
	url1, err := store.Upload(context.Background(), data, "receipt.PNG", "image/png")
	require.NoError(t, err)
	url2, err := store.Upload(context.Background(), data, "other-name.png", "")
	require.NoError(t, err)

	assert.Equal(t, url1, url2)
	assert.True(t, strings.HasPrefix(url1, "https://cdn.example.com/uploads/"))
	assert.True(t, strings.HasSuffix(url1, ".png"))

	key := strings.TrimPrefix(url1, "https://cdn.example.com/")
	stored, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestFSStoreRejectsEmpty(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), "")
	require.NoError(t, err)
	_, err = store.Upload(context.Background(), nil, "a.jpg", "image/jpeg")
	assert.ErrorIs(t, err, ErrEmptyObject)
}

func TestFSStoreHandlerServesObjects(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), "")
	require.NoError(t, err)
	url, err := store.Upload(context.Background(), []byte("GIF89a...."), "x.gif", "image/gif")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	store.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GIF89a....", rec.Body.String())

	rec = httptest.NewRecorder()
	store.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("a.bin", "image/png", nil))
	assert.True(t, IsImage("IMG_0001.HEIC", "", nil))
	assert.True(t, IsImage("blob", "", []byte("\xff\xd8\xff\xe0rest")))
	assert.False(t, IsImage("notes.txt", "text/plain", []byte("hello")))
	assert.False(t, IsImage("noext", "", nil))
}

func TestContentTypeAndExtension(t *testing.T) {
	assert.Equal(t, "image/webp", ContentType("a.webp", ""))
	assert.Equal(t, "image/png", ContentType("a.jpg", "image/png"))
	assert.Equal(t, "image/jpeg", ContentType("a", "application/octet-stream"))

	assert.Equal(t, "jpeg", Extension("photo.JPEG", ""))
	assert.Equal(t, "png", Extension("blob", "image/png"))
	assert.Equal(t, "jpg", Extension("blob", ""))
}
