package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores blobs in an S3-compatible bucket (AWS, R2, MinIO).
type S3 struct {
	client    objectPutter
	bucket    string
	publicURL string
	basePath  string
	logger    *zap.Logger
	now       func() time.Time
}

func NewS3(cfg config.S3Config, logger *zap.Logger) *S3 {
	client := s3.New(s3.Options{}, func(o *s3.Options) {
		o.Region = cfg.Region
		o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	publicURL := strings.TrimRight(cfg.CDNURL, "/")
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.amazonaws.com", cfg.Bucket)
	}

	logger.Info("s3 storage client initialized",
		zap.String("bucket", cfg.Bucket),
		zap.String("endpoint", cfg.Endpoint),
	)

	return &S3{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: publicURL,
		basePath:  cfg.BasePath,
		logger:    logger,
		now:       time.Now,
	}
}

func (c *S3) Upload(ctx context.Context, data []byte, fileName, contentType string) (*Location, error) {
	key := c.generateKey(fileName)

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, &UploadError{Backend: "s3", FileName: fileName, Err: err}
	}

	loc := &Location{
		Key:         key,
		URL:         c.publicURL + "/" + key,
		ContentType: contentType,
		Size:        int64(len(data)),
	}
	loc.Width, loc.Height = imageDimensions(data, contentType)

	c.logger.Debug("uploaded object",
		zap.String("bucket", c.bucket),
		zap.String("key", key),
		zap.Int64("size", loc.Size),
	)

	return loc, nil
}

// generateKey never embeds the client-supplied name, only its extension.
func (c *S3) generateKey(fileName string) string {
	now := c.now().UTC()
	return path.Join(
		c.basePath,
		fmt.Sprintf("%d/%02d/%02d", now.Year(), now.Month(), now.Day()),
		uuid.New().String()+strings.ToLower(filepath.Ext(fileName)),
	)
}
