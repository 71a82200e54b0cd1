package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/sunshineplan/imgconv"

	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/env"
)

const (
	mediaFetchTimeout = 45 * time.Second
	maxMediaBytes     = 64 << 20
)

var ErrMediaTooLarge = errors.New("media exceeds the maximum allowed size")

// Media is a downloaded payload ready to hand to a send operation.
type Media struct {
	Bytes    []byte
	MimeType string
	FileName string
}

// IsImage reports whether the payload should go out as an image message
// rather than a document.
func (m *Media) IsImage() bool {
	switch m.MimeType {
	case "image/jpeg", "image/png", "image/webp":
		return true
	default:
		return false
	}
}

// FetchMedia downloads a payload from an HTTP(S) URL, capping the body size
// and sniffing the content type when the server does not declare one.
func FetchMedia(ctx context.Context, mediaURL string) (*Media, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, mediaFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New("media url responded with status " + resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxMediaBytes {
		return nil, ErrMediaTooLarge
	}
	if len(body) == 0 {
		return nil, errors.New("media url responded with an empty body")
	}

	mimeType := resp.Header.Get("Content-Type")
	if idx := strings.IndexRune(mimeType, ';'); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(body)
	}

	return &Media{
		Bytes:    body,
		MimeType: mimeType,
		FileName: fileNameFromURL(mediaURL, mimeType),
	}, nil
}

func fileNameFromURL(mediaURL string, mimeType string) string {
	trimmed := mediaURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	name := path.Base(trimmed)
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	if path.Ext(name) == "" {
		switch mimeType {
		case "image/jpeg":
			name += ".jpg"
		case "image/png":
			name += ".png"
		case "application/pdf":
			name += ".pdf"
		}
	}
	return name
}

// prepareImage optionally converts webp to PNG and recompresses large images
// before upload. Both behaviors are env-gated the same way on every instance.
func prepareImage(imageBytes []byte, imageType string) ([]byte, string, error) {
	convertWebP, err := env.GetEnvBool("WHATSAPP_MEDIA_IMAGE_CONVERT_WEBP")
	if err != nil {
		convertWebP = false
	}
	if imageType == "image/webp" && convertWebP {
		decoded, err := imgconv.Decode(bytes.NewReader(imageBytes))
		if err != nil {
			return nil, "", errors.New("error while decoding webp image stream")
		}
		encoded := new(bytes.Buffer)
		if err = imgconv.Write(encoded, decoded, &imgconv.FormatOption{Format: imgconv.PNG}); err != nil {
			return nil, "", errors.New("error while encoding converted image stream")
		}
		imageBytes = encoded.Bytes()
		imageType = "image/png"
	}

	compress, err := env.GetEnvBool("WHATSAPP_MEDIA_IMAGE_COMPRESSION")
	if err != nil {
		compress = false
	}
	if compress {
		decoded, err := imgconv.Decode(bytes.NewReader(imageBytes))
		if err != nil {
			return nil, "", errors.New("error while decoding image stream for resize")
		}
		encoded := new(bytes.Buffer)
		err = imgconv.Write(encoded,
			imgconv.Resize(decoded, &imgconv.ResizeOption{Width: 1024}),
			&imgconv.FormatOption{})
		if err != nil {
			return nil, "", errors.New("error while encoding resized image stream")
		}
		imageBytes = encoded.Bytes()
	}

	return imageBytes, imageType, nil
}

// renderThumbnail produces the 72px JPEG preview embedded in image messages.
func renderThumbnail(imageBytes []byte) ([]byte, error) {
	decoded, err := imgconv.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, errors.New("error while decoding image stream for thumbnail")
	}
	encoded := new(bytes.Buffer)
	err = imgconv.Write(encoded,
		imgconv.Resize(decoded, &imgconv.ResizeOption{Width: 72}),
		&imgconv.FormatOption{Format: imgconv.JPEG})
	if err != nil {
		return nil, errors.New("error while encoding thumbnail image stream")
	}
	return encoded.Bytes(), nil
}
