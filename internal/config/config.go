// Package config provides the configuration structure for the
// readalong-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                   string `toml:"url"`
	ObjectStoreBucket     string `toml:"object_store_bucket"`
	PageRequestSubject    string `toml:"page_request_subject"`
	WordAtTimeSubject     string `toml:"word_at_time_subject"`
	TimeForWordSubject    string `toml:"time_for_word_subject"`
	PageInfoSubject       string `toml:"page_info_subject"`
	SearchSubject         string `toml:"search_subject"`
	CacheStatsSubject     string `toml:"cache_stats_subject"`
	TimingsCreatedSubject string `toml:"timings_created_subject"`
}

// EngineConfig holds the tuning knobs of the read-along engine. Zero values
// fall back to the engine defaults.
type EngineConfig struct {
	DefaultPageSize       int     `toml:"default_page_size"`
	MaxConcurrentTextOps  int64   `toml:"max_concurrent_text_ops"`
	CacheTTLSeconds       int     `toml:"cache_ttl_seconds"`
	PageCacheSize         int     `toml:"page_cache_size"`
	TimingCacheSize       int     `toml:"timing_cache_size"`
	TextCacheSize         int     `toml:"text_cache_size"`
	PlanCacheSize         int     `toml:"plan_cache_size"`
	SpanCacheSize         int     `toml:"span_cache_size"`
	SentenceMinWords      int     `toml:"sentence_min_words"`
	SentenceSearchForward int     `toml:"sentence_search_forward"`
	SentenceSearchBack    int     `toml:"sentence_search_back"`
	MappingWarnRatio      float64 `toml:"mapping_warn_ratio"`
}

// AccessConfig restricts which tracks may be served. An empty list allows
// every track.
type AccessConfig struct {
	AllowedTracks []string `toml:"allowed_tracks"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS   NATSConfig   `toml:"nats"`
	Engine EngineConfig `toml:"engine"`
	Access AccessConfig `toml:"access"`
	Paths  PathsConfig  `toml:"paths"`
}

// Load loads the configuration for the readalong-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
