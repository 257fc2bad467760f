//go:build gstreamer

package sink

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
	"go.uber.org/zap"
)

var gstInitOnce sync.Once

// Gst plays tracks through a GStreamer pipeline template.
type Gst struct {
	mu       sync.Mutex
	log      *zap.Logger
	pipeline string
	device   string
	volume   float64
	current  *gst.Element
	loadID   uint64
	ended    func(url string)
	failed   func(url string, err error)
}

// NewGst creates a GStreamer sink. The template may use {url}, {device}
// and {volume} placeholders.
func NewGst(log *zap.Logger, pipeline string, device string) (*Gst, error) {
	if strings.TrimSpace(pipeline) == "" {
		return nil, errors.New("pipeline template required")
	}
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
	return &Gst{log: log, pipeline: pipeline, device: device, volume: 1}, nil
}

// OnEnded registers the end-of-track callback.
func (g *Gst) OnEnded(fn func(url string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ended = fn
}

// OnFailed registers the callback for pipeline errors.
func (g *Gst) OnFailed(fn func(url string, err error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed = fn
}

// Load builds a pipeline for url and prerolls it paused.
func (g *Gst) Load(url string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	launch := g.pipeline
	launch = strings.ReplaceAll(launch, "{url}", url)
	launch = strings.ReplaceAll(launch, "{device}", g.device)
	launch = strings.ReplaceAll(launch, "{volume}", fmt.Sprintf("%0.2f", g.volume))
	el, err := gst.ParseLaunch(launch)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	if err := el.SetState(gst.StatePaused); err != nil {
		_ = el.SetState(gst.StateNull)
		return fmt.Errorf("preroll: %w", err)
	}
	_ = el.SetProperty("volume", g.volume)

	g.stopLocked()
	g.loadID++
	g.current = el
	go g.watch(el, g.loadID, url)
	return nil
}

// watch waits for end-of-stream or an error on the pipeline's bus.
func (g *Gst) watch(el *gst.Element, id uint64, url string) {
	bus := el.GetBus()
	for {
		g.mu.Lock()
		stale := id != g.loadID
		g.mu.Unlock()
		if stale {
			return
		}
		msg := bus.TimedPopFiltered(250*time.Millisecond, gst.MessageEOS|gst.MessageError)
		if msg == nil {
			continue
		}
		var pipelineErr error
		if msg.Type() == gst.MessageError {
			pipelineErr = msg.ParseError()
			g.log.Warn("pipeline error", zap.String("url", url), zap.Error(pipelineErr))
		}
		g.mu.Lock()
		ended, failed := g.ended, g.failed
		stale = id != g.loadID
		g.mu.Unlock()
		switch {
		case stale:
		case pipelineErr != nil && failed != nil:
			failed(url, pipelineErr)
		case pipelineErr == nil && ended != nil:
			ended(url)
		}
		return
	}
}

// Play starts the pipeline.
func (g *Gst) Play() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return ErrNotLoaded
	}
	return g.current.SetState(gst.StatePlaying)
}

// Pause pauses the pipeline.
func (g *Gst) Pause() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return ErrNotLoaded
	}
	return g.current.SetState(gst.StatePaused)
}

// Seek flushes to positionSeconds.
func (g *Gst) Seek(positionSeconds float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return ErrNotLoaded
	}
	positionNS := int64(positionSeconds * float64(time.Second))
	if !g.current.SeekSimple(gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit, positionNS) {
		return errors.New("seek failed")
	}
	return nil
}

// SetVolume sets the playbin volume.
func (g *Gst) SetVolume(volume float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.volume = volume
	if g.current != nil {
		return g.current.SetProperty("volume", volume)
	}
	return nil
}

// Position queries the pipeline position and duration.
func (g *Gst) Position() (float64, float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return 0, 0, false
	}
	okPos, pos := g.current.QueryPosition(gst.FormatTime)
	okDur, dur := g.current.QueryDuration(gst.FormatTime)
	if !okPos {
		return 0, 0, false
	}
	if !okDur {
		dur = 0
	}
	return time.Duration(pos).Seconds(), time.Duration(dur).Seconds(), true
}

func (g *Gst) stopLocked() {
	if g.current == nil {
		return
	}
	_ = g.current.SetState(gst.StateNull)
	g.current = nil
}
