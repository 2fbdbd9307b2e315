// Package worker provides the NATS adapter of the read-along engine: a thin
// request/reply surface over the service's lookups, plus a consumer that
// packs and stores incoming word-timing segments.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/readalong-service/internal/readalong"
	"github.com/book-expert/readalong-service/internal/store"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 30 * time.Second

// ErrMissingSubject indicates an empty subject in the worker configuration.
var ErrMissingSubject = errors.New("subject cannot be empty")

// Subjects names the NATS subjects the worker serves.
type Subjects struct {
	PageRequest    string
	WordAtTime     string
	TimeForWord    string
	PageInfo       string
	Search         string
	CacheStats     string
	TimingsCreated string
}

func (s Subjects) validate() error {
	for _, subject := range []string{
		s.PageRequest, s.WordAtTime, s.TimeForWord,
		s.PageInfo, s.Search, s.CacheStats, s.TimingsCreated,
	} {
		if subject == "" {
			return ErrMissingSubject
		}
	}

	return nil
}

// NatsWorker serves read-along lookups over NATS request/reply and consumes
// timing-ingest events.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	service        *readalong.Service
	timingStore    *store.TimingStore
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	service *readalong.Service,
	timingStore *store.TimingStore,
	log *logger.Logger,
) (*NatsWorker, error) {
	err := subjects.validate()
	if err != nil {
		return nil, err
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		service:        service,
		timingStore:    timingStore,
		log:            log,
	}, nil
}

// Run subscribes to every subject and blocks until the context is cancelled,
// then drains the subscriptions.
func (w *NatsWorker) Run(ctx context.Context) error {
	handlers := map[string]nats.MsgHandler{
		w.subjects.PageRequest:    w.handlePageRequest,
		w.subjects.WordAtTime:     w.handleWordAtTime,
		w.subjects.TimeForWord:    w.handleTimeForWord,
		w.subjects.PageInfo:       w.handlePageInfo,
		w.subjects.Search:         w.handleSearch,
		w.subjects.CacheStats:     w.handleCacheStats,
		w.subjects.TimingsCreated: w.handleTimingsCreated,
	}

	subscriptions := make([]*nats.Subscription, 0, len(handlers))

	for subject, handler := range handlers {
		sub, err := w.natsConnection.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
		}

		subscriptions = append(subscriptions, sub)
	}

	<-ctx.Done()

	for _, sub := range subscriptions {
		drainErr := sub.Drain()
		if drainErr != nil {
			return fmt.Errorf("failed to drain subscription %s: %w", sub.Subject, drainErr)
		}
	}

	return nil
}

func (w *NatsWorker) handlePageRequest(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var req PageRequest
	if !w.decode(msg, &req) {
		return
	}

	result, err := w.service.GetPage(ctx, req.TrackID, req.VoiceID, req.Page, req.PageSize)
	if err != nil {
		w.respondError(msg, err)

		return
	}

	w.respond(msg, toPageReply(result))
}

func (w *NatsWorker) handleWordAtTime(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var req WordAtTimeRequest
	if !w.decode(msg, &req) {
		return
	}

	result, err := w.service.WordAtTime(ctx, req.TrackID, req.VoiceID, req.Time, req.Tolerance)
	if err != nil {
		w.respondError(msg, err)

		return
	}

	w.respond(msg, result)
}

func (w *NatsWorker) handleTimeForWord(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var req TimeForWordRequest
	if !w.decode(msg, &req) {
		return
	}

	result, err := w.service.TimeForWord(ctx, req.TrackID, req.VoiceID, req.WordIndex)
	if err != nil {
		w.respondError(msg, err)

		return
	}

	w.respond(msg, result)
}

func (w *NatsWorker) handlePageInfo(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var req PageInfoRequest
	if !w.decode(msg, &req) {
		return
	}

	result, err := w.service.PageInfo(ctx, req.TrackID, req.VoiceID, toLocator(&req), req.PageSize)
	if err != nil {
		w.respondError(msg, err)

		return
	}

	w.respond(msg, result)
}

func (w *NatsWorker) handleSearch(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var req SearchRequest
	if !w.decode(msg, &req) {
		return
	}

	matches, err := w.service.Search(ctx, req.TrackID, req.VoiceID, req.Query, req.PageSize)
	if err != nil {
		w.respondError(msg, err)

		return
	}

	w.respond(msg, SearchReply{Status: "success", Matches: matches})
}

func (w *NatsWorker) handleCacheStats(msg *nats.Msg) {
	w.respond(msg, w.service.CacheStats())
}

// handleTimingsCreated packs one synthesis segment's timings into a
// compressed shard and acknowledges with the shard key.
func (w *NatsWorker) handleTimingsCreated(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var event TimingsCreatedEvent
	if !w.decode(msg, &event) {
		return
	}

	words := fromTimingPayloads(event.Words, event.SegmentIndex)

	shard, err := w.timingStore.AppendShard(ctx, event.TrackID, event.VoiceID, words)
	if err != nil {
		w.log.Error("Failed to store timing shard for workflow %s: %v",
			event.Header.WorkflowID, err)
		w.respondError(msg, err)

		return
	}

	w.respond(msg, TimingsStoredEvent{
		Header:    event.Header,
		TrackID:   event.TrackID,
		VoiceID:   event.VoiceID,
		ShardKey:  shard,
		WordCount: len(words),
	})
}

// decode unmarshals the request, logging and dropping malformed messages.
func (w *NatsWorker) decode(msg *nats.Msg, target any) bool {
	err := json.Unmarshal(msg.Data, target)
	if err != nil {
		w.log.Error("Failed to unmarshal request on %s: %v", msg.Subject, err)
		w.respondError(msg, err)

		return false
	}

	return true
}

func (w *NatsWorker) respond(msg *nats.Msg, reply any) {
	data, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply on %s: %v", msg.Subject, err)

		return
	}

	err = msg.Respond(data)
	if err != nil {
		w.log.Error("Failed to publish reply on %s: %v", msg.Subject, err)
	}
}

func (w *NatsWorker) respondError(msg *nats.Msg, cause error) {
	status := "error"
	if errors.Is(cause, readalong.ErrAccessDenied) {
		status = "access_denied"
	}

	w.respond(msg, ErrorReply{Status: status, Error: cause.Error()})
}
