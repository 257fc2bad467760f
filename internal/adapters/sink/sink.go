package sink

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Output is an audio sink that reports when a track finishes. Callbacks
// name the track they refer to and are never made for a replaced track.
type Output interface {
	Load(url string) error
	Play() error
	Pause() error
	Seek(positionSeconds float64) error
	SetVolume(volume float64) error
	Position() (positionSeconds float64, durationSeconds float64, ok bool)
	OnEnded(fn func(url string))
	// OnFailed reports a track that could not be fetched, decoded or played
	// after Load returned.
	OnFailed(fn func(url string, err error))
}

// Sink kinds.
const (
	KindBeep      = "beep"
	KindGStreamer = "gstreamer"
	KindNull      = "null"
)

// ErrNotLoaded is returned by transport calls before a track is loaded.
var ErrNotLoaded = errors.New("no track loaded")

// Config selects and configures a sink.
type Config struct {
	Kind         string
	Pipeline     string
	Device       string
	FetchTimeout time.Duration
	// TrackLength is the simulated track length for the null sink.
	TrackLength time.Duration
}

// Open builds the configured sink.
func Open(log *zap.Logger, cfg Config) (Output, error) {
	if log == nil {
		log = zap.NewNop()
	}
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = KindBeep
	}
	switch kind {
	case KindBeep:
		timeout := cfg.FetchTimeout
		if timeout == 0 {
			timeout = time.Minute
		}
		out, err := NewBeep(log.Named("beep"), &http.Client{Timeout: timeout})
		if err != nil {
			return nil, err
		}
		return out, nil
	case KindGStreamer:
		pipeline := cfg.Pipeline
		if strings.TrimSpace(pipeline) == "" {
			pipeline = DefaultPipeline
		}
		out, err := NewGst(log.Named("gst"), pipeline, cfg.Device)
		if err != nil {
			return nil, err
		}
		return out, nil
	case KindNull:
		return NewNull(cfg.TrackLength), nil
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Kind)
	}
}

// DefaultPipeline plays a URL through playbin.
const DefaultPipeline = "playbin uri={url}"
