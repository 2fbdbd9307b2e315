package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// WordTimingStore loads the complete, time-sorted word-timing sequence for a
// (track, voice) pair. An empty slice with a nil error means no timings exist.
type WordTimingStore interface {
	GetWordTimings(ctx context.Context, trackID, voiceID string) ([]WordTiming, error)
}

// SourceTextStore loads the full original text for a track. An empty string
// with a nil error means the text is unavailable; callers fall back to joining
// word texts.
type SourceTextStore interface {
	GetSourceText(ctx context.Context, trackID string) (string, error)
}

// AccessControl gates read-along lookups before any data is loaded.
type AccessControl interface {
	CanRead(ctx context.Context, trackID, voiceID string) bool
}
