// Package core defines the core business logic and interfaces for the score
// service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob
// store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// ScoreProcessor runs the full generation pipeline for one submitted score:
// model building, pattern analysis, description rendering, and bundle
// assembly.
type ScoreProcessor interface {
	Process(ctx context.Context, input []byte, opts RenderOptions) (*OutputBundle, error)
}

// ScoreBuilder parses raw notation into the score model. Building is
// deterministic, so stored notation can be rebuilt on demand.
type ScoreBuilder interface {
	Build(data []byte) (*Score, error)
}

// AudioRenderer produces one playable artifact for a contiguous slice of a
// score.
type AudioRenderer interface {
	Render(score *Score, req AudioRequest) ([]byte, error)
}
