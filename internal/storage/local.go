package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Local stores blobs on the local filesystem under date-partitioned
// directories and serves them from baseURL.
type Local struct {
	basePath string
	baseURL  string
	logger   *zap.Logger
	now      func() time.Time
}

func NewLocal(basePath, baseURL string, logger *zap.Logger) (*Local, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	return &Local{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *Local) Upload(ctx context.Context, data []byte, fileName, contentType string) (*Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, &UploadError{Backend: "local", FileName: fileName, Err: err}
	}

	datePath := s.now().UTC().Format("2006/01/02")
	key := path.Join(datePath, uuid.New().String()+strings.ToLower(filepath.Ext(fileName)))

	fullDir := filepath.Join(s.basePath, filepath.FromSlash(datePath))
	if err := os.MkdirAll(fullDir, 0755); err != nil {
		return nil, &UploadError{Backend: "local", FileName: fileName, Err: fmt.Errorf("create date directory: %w", err)}
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return nil, &UploadError{Backend: "local", FileName: fileName, Err: fmt.Errorf("write file: %w", err)}
	}

	loc := &Location{
		Key:         key,
		URL:         s.baseURL + "/" + key,
		ContentType: contentType,
		Size:        int64(len(data)),
	}
	loc.Width, loc.Height = imageDimensions(data, contentType)

	s.logger.Info("stored file",
		zap.String("key", key),
		zap.String("filename", fileName),
		zap.Int64("size", loc.Size),
		zap.String("type", contentType),
	)

	return loc, nil
}

// Open returns a stored blob by key. Keys that escape the storage root are
// rejected.
func (s *Local) Open(key string) (io.ReadSeekCloser, string, error) {
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != key {
		return nil, "", fmt.Errorf("invalid key %q", key)
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(clean))
	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, "", fmt.Errorf("file not found: %w", err)
	}
	if info.IsDir() {
		return nil, "", fmt.Errorf("path is a directory")
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, "", fmt.Errorf("open file: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(clean))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return file, contentType, nil
}
