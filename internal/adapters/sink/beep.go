//go:build (linux && cgo) || windows || darwin

package sink

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"go.uber.org/zap"
)

// BeepAvailable reports whether the beep sink is compiled in.
const BeepAvailable = true

// Beep plays MP3 tracks through the system speaker. Tracks are fetched
// into memory in the background so they can be seeked; transport calls
// made while a track is still loading apply once it is ready.
type Beep struct {
	mu sync.Mutex

	log         *zap.Logger
	http        *http.Client
	initialized bool
	sampleRate  beep.SampleRate
	url         string
	cancel      context.CancelFunc
	wantPlay    bool
	streamer    beep.StreamSeekCloser
	format      beep.Format
	ctrl        *beep.Ctrl
	gain        *effects.Volume
	volume      float64
	loadID      uint64
	ended       func(url string)
	failed      func(url string, err error)
}

// NewBeep creates a speaker sink.
func NewBeep(log *zap.Logger, httpClient *http.Client) (*Beep, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}
	return &Beep{
		log:        log,
		http:       httpClient,
		sampleRate: beep.SampleRate(44100),
		volume:     1,
	}, nil
}

// OnEnded registers the end-of-track callback.
func (b *Beep) OnEnded(fn func(url string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = fn
}

// OnFailed registers the callback for tracks that fail to load.
func (b *Beep) OnFailed(fn func(url string, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = fn
}

// Load replaces the current track and starts fetching url. It returns
// before the track is ready; a fetch or decode failure is reported
// through OnFailed.
func (b *Beep) Load(url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopLocked()
	b.loadID++
	ctx, cancel := context.WithCancel(context.Background())
	b.url = url
	b.cancel = cancel
	b.wantPlay = false
	go b.prepare(ctx, b.loadID, url)
	return nil
}

func (b *Beep) prepare(ctx context.Context, id uint64, url string) {
	streamer, format, err := b.decode(ctx, url)
	if err != nil {
		b.fail(id, url, err)
		return
	}

	b.mu.Lock()
	if id != b.loadID {
		b.mu.Unlock()
		_ = streamer.Close()
		return
	}
	if !b.initialized {
		if err := speaker.Init(b.sampleRate, b.sampleRate.N(time.Second/10)); err != nil {
			b.mu.Unlock()
			_ = streamer.Close()
			b.fail(id, url, fmt.Errorf("init speaker: %w", err))
			return
		}
		b.initialized = true
	}

	b.streamer = streamer
	b.format = format
	b.ctrl = &beep.Ctrl{Streamer: beep.Resample(4, format.SampleRate, b.sampleRate, streamer), Paused: !b.wantPlay}
	b.gain = &effects.Volume{Streamer: b.ctrl, Base: 2}
	b.applyVolumeLocked()

	speaker.Play(beep.Seq(b.gain, beep.Callback(func() {
		// The speaker lock is held here.
		go b.finished(id)
	})))
	b.log.Debug("track loaded", zap.String("url", url), zap.Int("rate", int(format.SampleRate)))
	b.mu.Unlock()
}

func (b *Beep) decode(ctx context.Context, url string) (beep.StreamSeekCloser, beep.Format, error) {
	data, err := fetchTrack(ctx, b.http, url, MaxTrackBytes)
	if err != nil {
		return nil, beep.Format{}, err
	}
	streamer, format, err := mp3.Decode(nopCloser{bytes.NewReader(data)})
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", url, err)
	}
	return streamer, format, nil
}

func (b *Beep) fail(id uint64, url string, err error) {
	b.mu.Lock()
	if id != b.loadID {
		b.mu.Unlock()
		return
	}
	b.url = ""
	b.wantPlay = false
	fn := b.failed
	b.mu.Unlock()
	b.log.Debug("track failed", zap.String("url", url), zap.Error(err))
	if fn != nil {
		fn(url, err)
	}
}

func (b *Beep) finished(id uint64) {
	b.mu.Lock()
	if id != b.loadID {
		b.mu.Unlock()
		return
	}
	fn, url := b.ended, b.url
	b.mu.Unlock()
	if fn != nil {
		fn(url)
	}
}

// Play resumes the loaded track.
func (b *Beep) Play() error {
	return b.setPaused(false)
}

// Pause pauses the loaded track.
func (b *Beep) Pause() error {
	return b.setPaused(true)
}

func (b *Beep) setPaused(paused bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctrl == nil {
		if b.url == "" {
			return ErrNotLoaded
		}
		b.wantPlay = !paused
		return nil
	}
	speaker.Lock()
	b.ctrl.Paused = paused
	speaker.Unlock()
	return nil
}

// Seek moves to positionSeconds within the loaded track.
func (b *Beep) Seek(positionSeconds float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamer == nil {
		return ErrNotLoaded
	}
	samples := b.format.SampleRate.N(time.Duration(positionSeconds * float64(time.Second)))
	if last := b.streamer.Len() - 1; samples > last {
		samples = last
	}
	if samples < 0 {
		samples = 0
	}
	speaker.Lock()
	defer speaker.Unlock()
	return b.streamer.Seek(samples)
}

// SetVolume sets a linear level in [0, 1].
func (b *Beep) SetVolume(volume float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = volume
	if b.gain != nil {
		speaker.Lock()
		b.applyVolumeLocked()
		speaker.Unlock()
	}
	return nil
}

func (b *Beep) applyVolumeLocked() {
	if b.volume <= 0 {
		b.gain.Silent = true
		return
	}
	b.gain.Silent = false
	b.gain.Volume = math.Log2(b.volume)
}

// Position reports the playhead and track length in seconds.
func (b *Beep) Position() (float64, float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamer == nil {
		return 0, 0, false
	}
	speaker.Lock()
	pos := b.streamer.Position()
	speaker.Unlock()
	rate := b.format.SampleRate
	return rate.D(pos).Seconds(), rate.D(b.streamer.Len()).Seconds(), true
}

func (b *Beep) stopLocked() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.ctrl == nil {
		return
	}
	speaker.Clear()
	_ = b.streamer.Close()
	b.streamer = nil
	b.ctrl = nil
	b.gain = nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
