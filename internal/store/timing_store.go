// Package store implements the collaborator stores of the read-along engine
// on top of the shared object store: gzip-compressed timing shards merged by
// start time, and plain-text source documents.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/book-expert/logger"
	"github.com/book-expert/readalong-service/internal/codec"
	"github.com/book-expert/readalong-service/internal/core"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/nats-io/nats.go"
)

// shardIndex lists the timing shards written for one (track, voice) pair.
// Shards are written incrementally, one per synthesis segment, and merged on
// load.
type shardIndex struct {
	Shards []string `json:"shards"`
}

// TimingStore persists and loads word-timing sequences as compressed binary
// shards.
type TimingStore struct {
	store core.ObjectStore
	codec *codec.Codec
	log   *logger.Logger
}

// NewTimingStore creates a TimingStore over the given object store.
func NewTimingStore(store core.ObjectStore, timingCodec *codec.Codec, log *logger.Logger) *TimingStore {
	return &TimingStore{
		store: store,
		codec: timingCodec,
		log:   log,
	}
}

// GetWordTimings loads every shard for the pair, merges the records sorted by
// start time, and renumbers the stable word indices. Missing data yields an
// empty sequence; an unreadable shard is skipped with a warning rather than
// failing the load.
func (s *TimingStore) GetWordTimings(
	ctx context.Context,
	trackID, voiceID string,
) ([]core.WordTiming, error) {
	index, err := s.loadIndex(ctx, trackID, voiceID)
	if err != nil {
		return nil, err
	}

	if index == nil {
		return nil, nil
	}

	var merged []core.WordTiming

	for _, shardKey := range index.Shards {
		words, shardErr := s.loadShard(ctx, shardKey)
		if shardErr != nil {
			s.log.Warn("Skipping unreadable timing shard '%s': %v", shardKey, shardErr)

			continue
		}

		merged = append(merged, words...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].StartTime < merged[j].StartTime
	})

	for i := range merged {
		merged[i].WordIndex = uint64(i)
	}

	return merged, nil
}

// AppendShard packs, compresses and uploads one synthesis segment's timings,
// then records the shard in the pair's index. It returns the shard key.
func (s *TimingStore) AppendShard(
	ctx context.Context,
	trackID, voiceID string,
	words []core.WordTiming,
) (string, error) {
	key := shardKey(trackID, voiceID, uuid.NewString())

	compressed, err := gzipBytes(s.codec.Pack(words))
	if err != nil {
		return "", fmt.Errorf("compressing timing shard '%s': %w", key, err)
	}

	err = s.store.Upload(ctx, key, compressed)
	if err != nil {
		return "", fmt.Errorf("uploading timing shard '%s': %w", key, err)
	}

	err = s.appendToIndex(ctx, trackID, voiceID, key)
	if err != nil {
		return "", err
	}

	return key, nil
}

func (s *TimingStore) loadIndex(
	ctx context.Context,
	trackID, voiceID string,
) (*shardIndex, error) {
	data, err := s.store.Download(ctx, indexKey(trackID, voiceID))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("loading timing index for %s/%s: %w", trackID, voiceID, err)
	}

	var index shardIndex

	err = json.Unmarshal(data, &index)
	if err != nil {
		return nil, fmt.Errorf("decoding timing index for %s/%s: %w", trackID, voiceID, err)
	}

	return &index, nil
}

func (s *TimingStore) appendToIndex(
	ctx context.Context,
	trackID, voiceID, newShardKey string,
) error {
	index, err := s.loadIndex(ctx, trackID, voiceID)
	if err != nil {
		return err
	}

	if index == nil {
		index = &shardIndex{Shards: nil}
	}

	index.Shards = append(index.Shards, newShardKey)

	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encoding timing index for %s/%s: %w", trackID, voiceID, err)
	}

	err = s.store.Upload(ctx, indexKey(trackID, voiceID), data)
	if err != nil {
		return fmt.Errorf("uploading timing index for %s/%s: %w", trackID, voiceID, err)
	}

	return nil
}

func (s *TimingStore) loadShard(ctx context.Context, key string) ([]core.WordTiming, error) {
	compressed, err := s.store.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("downloading shard: %w", err)
	}

	data, err := gunzipBytes(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompressing shard: %w", err)
	}

	return s.codec.Unpack(data), nil
}

func indexKey(trackID, voiceID string) string {
	return "timings/" + trackID + "/" + voiceID + "/index.json"
}

func shardKey(trackID, voiceID, shardID string) string {
	return "timings/" + trackID + "/" + voiceID + "/" + shardID + ".bin.gz"
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer := gzip.NewWriter(&buf)

	_, err := writer.Write(data)
	if err != nil {
		return nil, fmt.Errorf("writing gzip stream: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return nil, fmt.Errorf("closing gzip stream: %w", err)
	}

	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}

	out, err := io.ReadAll(reader)
	closeErr := reader.Close()

	if err != nil {
		return nil, fmt.Errorf("reading gzip stream: %w", err)
	}

	if closeErr != nil {
		return out, fmt.Errorf("closing gzip stream: %w", closeErr)
	}

	return out, nil
}
