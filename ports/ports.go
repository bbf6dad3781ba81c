// Package ports defines the external collaborator interfaces the core
// treats as opaque: a content generation provider, a clock, and an id
// generator. Concrete adapters (the real AI provider client, etc.) live
// outside this module.
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Detection is the result of ContentProvider.Detect.
type Detection struct {
	IsAIGenerated bool
	Confidence    float64
	Explanation   string
}

// ContentProvider is the opaque AI content generation/detection collaborator.
type ContentProvider interface {
	GenerateText(ctx context.Context, topic string, difficulty string) (string, error)
	GenerateImage(ctx context.Context, topic string) (uri string, err error)
	Detect(ctx context.Context, payload string) (Detection, error)
}

// Clock abstracts wall-clock time so tests can inject a fixed or
// fast-forwarding implementation.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real-time Clock implementation.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// IDGen generates collision-free identifiers under concurrent calls.
type IDGen interface {
	NewID() string
}

// UUIDGen is an IDGen backed by google/uuid.
type UUIDGen struct{}

func (UUIDGen) NewID() string { return uuid.NewString() }
