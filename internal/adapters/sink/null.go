package sink

import (
	"sync"
	"time"
)

// Null is a silent sink that keeps time. With a non-zero track length it
// reports the track as finished once that much play time has elapsed.
type Null struct {
	mu      sync.Mutex
	length  time.Duration
	url     string
	playing bool
	offset  time.Duration
	started time.Time
	volume  float64
	timer   *time.Timer
	loadID  uint64
	ended   func(url string)
}

// NewNull creates a null sink.
func NewNull(trackLength time.Duration) *Null {
	return &Null{length: trackLength, volume: 1}
}

// OnEnded registers the end-of-track callback.
func (n *Null) OnEnded(fn func(url string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = fn
}

// OnFailed is a no-op; the null sink accepts every track.
func (n *Null) OnFailed(fn func(url string, err error)) {}

// Load replaces the current track, paused at the start.
func (n *Null) Load(url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopTimerLocked()
	n.loadID++
	n.url = url
	n.playing = false
	n.offset = 0
	return nil
}

// Play starts the clock.
func (n *Null) Play() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.url == "" {
		return ErrNotLoaded
	}
	if n.playing {
		return nil
	}
	n.playing = true
	n.started = time.Now()
	n.armLocked()
	return nil
}

// Pause stops the clock.
func (n *Null) Pause() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.url == "" {
		return ErrNotLoaded
	}
	if n.playing {
		n.offset = n.elapsedLocked()
		n.playing = false
		n.stopTimerLocked()
	}
	return nil
}

// Seek moves the clock.
func (n *Null) Seek(positionSeconds float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.url == "" {
		return ErrNotLoaded
	}
	n.offset = time.Duration(positionSeconds * float64(time.Second))
	n.started = time.Now()
	if n.playing {
		n.stopTimerLocked()
		n.armLocked()
	}
	return nil
}

// SetVolume records the level.
func (n *Null) SetVolume(volume float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.volume = volume
	return nil
}

// Position reports elapsed play time and the simulated length.
func (n *Null) Position() (float64, float64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.url == "" {
		return 0, 0, false
	}
	return n.elapsedLocked().Seconds(), n.length.Seconds(), true
}

func (n *Null) elapsedLocked() time.Duration {
	elapsed := n.offset
	if n.playing {
		elapsed += time.Now().Sub(n.started)
	}
	if n.length > 0 && elapsed > n.length {
		elapsed = n.length
	}
	return elapsed
}

func (n *Null) armLocked() {
	if n.length <= 0 {
		return
	}
	remaining := n.length - n.elapsedLocked()
	if remaining < 0 {
		remaining = 0
	}
	id := n.loadID
	n.timer = time.AfterFunc(remaining, func() { n.finished(id) })
}

func (n *Null) stopTimerLocked() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (n *Null) finished(id uint64) {
	n.mu.Lock()
	if id != n.loadID || !n.playing {
		n.mu.Unlock()
		return
	}
	n.offset = n.length
	n.playing = false
	n.timer = nil
	fn, url := n.ended, n.url
	n.mu.Unlock()
	if fn != nil {
		fn(url)
	}
}
