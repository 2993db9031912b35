// Package transport defines the interface for the servers that expose the
// podcast service.
//
// Each transport (HTTP job API, gRPC health) implements this interface and is
// started by the serve command. Transports don't know how jobs run; they only
// talk to the Service contract.
package transport

import (
	"context"
	"io"

	"github.com/nadzzz/dialogcast/internal/audio"
	"github.com/nadzzz/dialogcast/internal/engine"
	"github.com/nadzzz/dialogcast/internal/job"
	"github.com/nadzzz/dialogcast/internal/tts"
)

// Service is what transports need from the podcast service.
type Service interface {
	Submit(ctx context.Context, raw, engine string, opts tts.Options) (string, error)
	Status(ctx context.Context, id string) (job.Job, error)
	Artifact(ctx context.Context, id string) (*audio.Artifact, error)
	Cancel(id string) error
	Engines() []engine.Status
	DefaultEngine() string
	Ready() bool
	Subscribe(id string) (<-chan job.Job, func(), error)
}

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	io.Closer

	// Name returns the transport identifier (e.g., "http", "grpc").
	Name() string

	// Listen starts serving and blocks until the context is cancelled.
	Listen(ctx context.Context, svc Service) error
}
