package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/circuitbreaker"
	"go.uber.org/zap"
)

// Recorder receives one observation per upload attempt.
type Recorder interface {
	RecordUpload(backend string, duration time.Duration, err error)
}

// Guarded wraps an Uploader with a circuit breaker so a dead backend fails
// fast instead of holding a message transaction open for the full timeout.
type Guarded struct {
	next     Uploader
	backend  string
	breaker  *circuitbreaker.CircuitBreaker
	recorder Recorder
	logger   *zap.Logger
}

func NewGuarded(next Uploader, backend string, breaker *circuitbreaker.CircuitBreaker, recorder Recorder, logger *zap.Logger) *Guarded {
	return &Guarded{
		next:     next,
		backend:  backend,
		breaker:  breaker,
		recorder: recorder,
		logger:   logger,
	}
}

func (g *Guarded) Upload(ctx context.Context, data []byte, fileName, contentType string) (*Location, error) {
	start := time.Now()

	var loc *Location
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		loc, err = g.next.Upload(ctx, data, fileName, contentType)
		return err
	})

	if g.recorder != nil {
		g.recorder.RecordUpload(g.backend, time.Since(start), err)
	}

	if err == nil {
		return loc, nil
	}

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		g.logger.Warn("upload rejected, storage circuit open",
			zap.String("backend", g.backend),
			zap.String("filename", fileName),
		)
	}

	var uploadErr *UploadError
	if errors.As(err, &uploadErr) {
		return nil, err
	}
	return nil, &UploadError{Backend: g.backend, FileName: fileName, Err: err}
}
