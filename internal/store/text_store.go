package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/readalong-service/internal/core"
	"github.com/nats-io/nats.go"
)

// TextStore persists and loads the original source text of a track.
type TextStore struct {
	store core.ObjectStore
}

// NewTextStore creates a TextStore over the given object store.
func NewTextStore(store core.ObjectStore) *TextStore {
	return &TextStore{store: store}
}

// GetSourceText returns the full text of the track, or an empty string when
// none was stored; the engine degrades to joining word texts in that case.
func (s *TextStore) GetSourceText(ctx context.Context, trackID string) (string, error) {
	data, err := s.store.Download(ctx, textKey(trackID))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return "", nil
		}

		return "", fmt.Errorf("loading source text for track %s: %w", trackID, err)
	}

	return string(data), nil
}

// PutSourceText stores the full text of the track.
func (s *TextStore) PutSourceText(ctx context.Context, trackID, text string) error {
	err := s.store.Upload(ctx, textKey(trackID), []byte(text))
	if err != nil {
		return fmt.Errorf("storing source text for track %s: %w", trackID, err)
	}

	return nil
}

func textKey(trackID string) string {
	return "texts/" + trackID + ".txt"
}
