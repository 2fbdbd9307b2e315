// Package access provides the authorization gates consulted before any
// read-along data is loaded.
package access

import (
	"context"
)

// AllowAll permits every request. It is the default when no allow-list is
// configured.
type AllowAll struct{}

// CanRead always reports true.
func (AllowAll) CanRead(_ context.Context, _, _ string) bool {
	return true
}

// TrackAllowList permits only the configured tracks, for any voice.
type TrackAllowList struct {
	allowed map[string]struct{}
}

// NewTrackAllowList builds a gate over the given track identifiers.
func NewTrackAllowList(trackIDs []string) *TrackAllowList {
	allowed := make(map[string]struct{}, len(trackIDs))
	for _, id := range trackIDs {
		allowed[id] = struct{}{}
	}

	return &TrackAllowList{allowed: allowed}
}

// CanRead reports whether the track is on the list.
func (l *TrackAllowList) CanRead(_ context.Context, trackID, _ string) bool {
	_, ok := l.allowed[trackID]

	return ok
}
