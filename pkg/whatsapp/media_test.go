package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchMediaUsesDeclaredContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer server.Close()

	media, err := FetchMedia(context.Background(), server.URL+"/invoice.pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", media.MimeType)
	assert.Equal(t, "invoice.pdf", media.FileName)
	assert.False(t, media.IsImage())
}

func TestFetchMediaSniffsUndeclaredContentType(t *testing.T) {
	// Minimal PNG header is enough for http.DetectContentType.
	pngHeader := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngHeader)
	}))
	defer server.Close()

	media, err := FetchMedia(context.Background(), server.URL+"/photo")
	require.NoError(t, err)
	assert.Equal(t, "image/png", media.MimeType)
	assert.Equal(t, "photo.png", media.FileName)
	assert.True(t, media.IsImage())
}

func TestFetchMediaRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := FetchMedia(context.Background(), server.URL+"/missing")
	assert.Error(t, err)
}

func TestFetchMediaRejectsEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	_, err := FetchMedia(context.Background(), server.URL+"/empty")
	assert.Error(t, err)
}

func TestFileNameFromURL(t *testing.T) {
	tests := []struct {
		url      string
		mimeType string
		expected string
	}{
		{"https://cdn.example.com/files/report.pdf", "application/pdf", "report.pdf"},
		{"https://cdn.example.com/files/photo?token=abc", "image/jpeg", "photo.jpg"},
		{"https://cdn.example.com/", "image/png", "file.png"},
		{"https://cdn.example.com/download#top", "application/zip", "download"},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, fileNameFromURL(test.url, test.mimeType), "url %q", test.url)
	}
}

func TestMediaIsImage(t *testing.T) {
	assert.True(t, (&Media{MimeType: "image/jpeg"}).IsImage())
	assert.True(t, (&Media{MimeType: "image/webp"}).IsImage())
	assert.False(t, (&Media{MimeType: "image/svg+xml"}).IsImage())
	assert.False(t, (&Media{MimeType: "application/pdf"}).IsImage())
}
