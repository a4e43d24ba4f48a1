package storage

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// Location describes where an uploaded blob lives. It is all a caller needs
// to link the blob to a record and to serve it back.
type Location struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
	Width       int
	Height      int
}

// Uploader moves a payload to durable blob storage. Each call stores a new
// blob; calls are not idempotent.
type Uploader interface {
	Upload(ctx context.Context, data []byte, fileName, contentType string) (*Location, error)
}

// UploadError reports a transport or storage failure in a backend.
type UploadError struct {
	Backend  string
	FileName string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s upload of %q failed: %v", e.Backend, e.FileName, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

const (
	MaxFileSize  = 50 * 1024 * 1024
	MaxImageSize = 10 * 1024 * 1024
)

var allowedTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"video/mp4":       true,
	"video/webm":      true,
	"audio/mpeg":      true,
	"audio/ogg":       true,
	"application/pdf": true,
	"application/zip": true,
	"text/plain":      true,
}

// ResolveContentType falls back to the file extension when the client did not
// send a usable type, and strips parameters such as charset.
func ResolveContentType(fileName, contentType string) string {
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(fileName)); byExt != "" {
			contentType = byExt
		}
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	return contentType
}

// Validate checks a payload against the type allow-list and size limits
// before anything is sent to a backend. maxSize of zero uses MaxFileSize.
func Validate(fileName, contentType string, size, maxSize int64) error {
	if strings.TrimSpace(fileName) == "" {
		return fmt.Errorf("file name is required")
	}
	if size <= 0 {
		return fmt.Errorf("file %q is empty", fileName)
	}
	if !allowedTypes[contentType] {
		return fmt.Errorf("unsupported file type: %s", contentType)
	}

	if maxSize <= 0 {
		maxSize = MaxFileSize
	}
	if strings.HasPrefix(contentType, "image/") && maxSize > MaxImageSize {
		maxSize = MaxImageSize
	}
	if size > maxSize {
		return fmt.Errorf("file %q too large (max %d bytes)", fileName, maxSize)
	}
	return nil
}
