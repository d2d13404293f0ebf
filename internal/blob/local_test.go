package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePutAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/uploads/")
	require.NoError(t, err)

	obj, err := store.Put(context.Background(), Upload{
		Name:      "Contract.PDF",
		MediaType: "application/pdf",
		Body:      strings.NewReader("signed"),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(obj.Key, "evidence-"))
	assert.True(t, strings.HasSuffix(obj.Key, ".pdf"))
	assert.Equal(t, "/uploads/"+obj.Key, obj.URL)

	data, err := os.ReadFile(filepath.Join(dir, obj.Key))
	require.NoError(t, err)
	assert.Equal(t, "signed", string(data))

	require.NoError(t, store.Delete(context.Background(), obj.Key))
	_, err = os.Stat(filepath.Join(dir, obj.Key))
	assert.True(t, os.IsNotExist(err))

	// deleting twice is fine
	assert.NoError(t, store.Delete(context.Background(), obj.Key))
}

func TestLocalStoreKeysAreUnique(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		obj, err := store.Put(context.Background(), Upload{Name: "photo.jpg", MediaType: "image/jpeg", Body: strings.NewReader("x")})
		require.NoError(t, err)
		assert.False(t, seen[obj.Key], "duplicate key %s", obj.Key)
		seen[obj.Key] = true
	}
}

func TestLocalStoreRejectsPathKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	assert.Error(t, store.Delete(context.Background(), "../etc/passwd"))
	assert.Error(t, store.Delete(context.Background(), ""))
}

func TestLocalStoreExtensionFollowsMediaType(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/uploads")
	require.NoError(t, err)

	tests := []struct {
		name      string
		mediaType string
		ext       string
	}{
		{"x.html", "image/png", ".png"},
		{`C:\docs\..\scan.svg`, "image/jpeg", ".jpg"},
		{"voice.wav", "audio/mpeg", ".mp3"},
		{"brief", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", ".docx"},
		{"notes.txt", "Application/PDF; charset=binary", ".pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := store.Put(context.Background(), Upload{
				Name:      tt.name,
				MediaType: tt.mediaType,
				Body:      strings.NewReader("x"),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.ext, filepath.Ext(obj.Key))
			assert.True(t, strings.HasSuffix(obj.URL, tt.ext))
			assert.NotContains(t, obj.Key, "/")
			assert.NotContains(t, obj.Key, `\`)
		})
	}
}

func TestLocalStoreRejectsUnknownMediaType(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/uploads")
	require.NoError(t, err)

	for _, mediaType := range []string{"text/html", "image/svg+xml", ""} {
		_, err := store.Put(context.Background(), Upload{
			Name:      "x.html",
			MediaType: mediaType,
			Body:      strings.NewReader("<script>alert(1)</script>"),
		})
		assert.ErrorIs(t, err, ErrUnsupportedMediaType, mediaType)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtension(t *testing.T) {
	ext, ok := Extension("IMAGE/PNG")
	assert.True(t, ok)
	assert.Equal(t, ".png", ext)

	_, ok = Extension("text/html")
	assert.False(t, ok)
}
