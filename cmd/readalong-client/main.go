// Command readalong-client is a small NATS request client for exercising a
// running readalong-service from the shell.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/book-expert/readalong-service/internal/worker"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagNATSDesc    = "NATS server URL"
	flagPrefixDesc  = "Subject prefix the service listens on"
	flagTrackDesc   = "Track identifier"
	flagVoiceDesc   = "Voice identifier"
	flagPageDesc    = "Page number to fetch"
	flagSizeDesc    = "Words per page (0 uses the service default)"
	flagTimeDesc    = "Playback time in seconds; looks up the word at that time"
	flagWordDesc    = "Word index; looks up its start time"
	flagInfoDesc    = "Resolve the page containing --word or --time instead of fetching it"
	flagQueryDesc   = "Search the track for a word or phrase"
	flagStatsDesc   = "Print cache statistics and exit"
	flagTimeoutDesc = "Request timeout"
)

// Flag names.
const (
	flagNATS    = "nats"
	flagPrefix  = "prefix"
	flagTrack   = "track"
	flagVoice   = "voice"
	flagPage    = "page"
	flagSize    = "size"
	flagTime    = "time"
	flagWord    = "word"
	flagInfo    = "info"
	flagQuery   = "query"
	flagStats   = "stats"
	flagTimeout = "timeout"
)

// Error messages.
const (
	errTrackRequired    = "--track is required"
	errInfoNeedsLocator = "--info requires --word or --time"
)

const unsetFlag = -1

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	natsURL string
	prefix  string
	track   string
	voice   string
	page    int
	size    int
	time    float64
	word    int
	info    bool
	query   string
	stats   bool
	timeout time.Duration
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	subject, payload, err := buildRequest(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	natsConnection, err := nats.Connect(flags.natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", flags.natsURL, err)
	}
	defer natsConnection.Close()

	reply, err := natsConnection.Request(subject, payload, flags.timeout)
	if err != nil {
		return fmt.Errorf("request on %s failed: %w", subject, err)
	}

	return printReply(reply.Data)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.natsURL, flagNATS, nats.DefaultURL, flagNATSDesc)
	flag.StringVar(&flags.prefix, flagPrefix, "readalong", flagPrefixDesc)
	flag.StringVar(&flags.track, flagTrack, "", flagTrackDesc)
	flag.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flag.IntVar(&flags.page, flagPage, 0, flagPageDesc)
	flag.IntVar(&flags.size, flagSize, 0, flagSizeDesc)
	flag.Float64Var(&flags.time, flagTime, unsetFlag, flagTimeDesc)
	flag.IntVar(&flags.word, flagWord, unsetFlag, flagWordDesc)
	flag.BoolVar(&flags.info, flagInfo, false, flagInfoDesc)
	flag.StringVar(&flags.query, flagQuery, "", flagQueryDesc)
	flag.BoolVar(&flags.stats, flagStats, false, flagStatsDesc)
	flag.DurationVar(&flags.timeout, flagTimeout, 10*time.Second, flagTimeoutDesc)
	flag.Parse()

	return flags
}

// buildRequest picks the subject and payload for the selected operation.
func buildRequest(flags appFlags) (string, []byte, error) {
	if flags.stats {
		return flags.prefix + ".cache_stats", []byte("{}"), nil
	}

	if flags.track == "" {
		return "", nil, errors.New(errTrackRequired)
	}

	subject, request, err := selectOperation(flags)
	if err != nil {
		return "", nil, err
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode request: %w", err)
	}

	return subject, payload, nil
}

func selectOperation(flags appFlags) (string, any, error) {
	switch {
	case flags.query != "":
		return flags.prefix + ".search", worker.SearchRequest{
			TrackID:  flags.track,
			VoiceID:  flags.voice,
			Query:    flags.query,
			PageSize: flags.size,
		}, nil
	case flags.info:
		request := worker.PageInfoRequest{
			TrackID:  flags.track,
			VoiceID:  flags.voice,
			PageSize: flags.size,
		}

		switch {
		case flags.word != unsetFlag:
			word := flags.word
			request.WordIndex = &word
		case flags.time != unsetFlag:
			at := flags.time
			request.Time = &at
		default:
			return "", nil, errors.New(errInfoNeedsLocator)
		}

		return flags.prefix + ".page_info", request, nil
	case flags.time != unsetFlag:
		return flags.prefix + ".word_at_time", worker.WordAtTimeRequest{
			TrackID: flags.track,
			VoiceID: flags.voice,
			Time:    flags.time,
		}, nil
	case flags.word != unsetFlag:
		return flags.prefix + ".time_for_word", worker.TimeForWordRequest{
			TrackID:   flags.track,
			VoiceID:   flags.voice,
			WordIndex: flags.word,
		}, nil
	default:
		return flags.prefix + ".page.request", worker.PageRequest{
			TrackID:  flags.track,
			VoiceID:  flags.voice,
			Page:     flags.page,
			PageSize: flags.size,
		}, nil
	}
}

// printReply re-indents the service's JSON reply for the terminal.
func printReply(data []byte) error {
	var decoded any

	err := json.Unmarshal(data, &decoded)
	if err != nil {
		// Not JSON; print it as-is.
		fmt.Println(string(data))

		return nil
	}

	pretty, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format reply: %w", err)
	}

	fmt.Println(string(pretty))

	return nil
}
