package scan

import (
	"context"
	"errors"
)

// ErrPermissionDenied means the capture device refused access; the session
// aborts before any network or ledger interaction.
var ErrPermissionDenied = errors.New("capture permission denied")

// Camera defines the still-image contract the capture collaborator provides
type Camera interface {
	// StartCapture acquires the capture device
	StartCapture(ctx context.Context) error
	// TakeStill obtains one still image
	TakeStill(ctx context.Context) ([]byte, error)
	// StopCapture releases the capture device
	StopCapture() error
}

// StillCamera adapts an already-captured frame (e.g. an HTTP upload) to the
// Camera contract.
type StillCamera []byte

func (c StillCamera) StartCapture(ctx context.Context) error { return ctx.Err() }

func (c StillCamera) TakeStill(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte(c), nil
}

func (c StillCamera) StopCapture() error { return nil }

// ExclusiveCamera wraps a shared capture device so at most one session owns
// it at a time. StartCapture blocks until the device frees up or the
// context is cancelled.
type ExclusiveCamera struct {
	inner Camera
	sem   chan struct{}
}

// NewExclusiveCamera creates an ExclusiveCamera around a shared device
func NewExclusiveCamera(inner Camera) *ExclusiveCamera {
	return &ExclusiveCamera{
		inner: inner,
		sem:   make(chan struct{}, 1),
	}
}

func (e *ExclusiveCamera) StartCapture(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := e.inner.StartCapture(ctx); err != nil {
		<-e.sem
		return err
	}
	return nil
}

func (e *ExclusiveCamera) TakeStill(ctx context.Context) ([]byte, error) {
	return e.inner.TakeStill(ctx)
}

func (e *ExclusiveCamera) StopCapture() error {
	err := e.inner.StopCapture()
	select {
	case <-e.sem:
	default:
	}
	return err
}
