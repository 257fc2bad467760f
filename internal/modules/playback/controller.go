package playback

import (
	"fmt"
	"math"

	"github.com/mikey-austin/tunedeck/internal/core"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

// Sink is the audio output driven by the controller.
type Sink interface {
	Load(url string) error
	Play() error
	Pause() error
	Seek(positionSeconds float64) error
	SetVolume(volume float64) error
	Position() (positionSeconds float64, durationSeconds float64, ok bool)
}

// Status is the transport state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoaded  Status = "loaded"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
)

// State is the controller's view of playback. Index is -1 when the active
// order is empty.
type State struct {
	Status          Status
	Index           int
	PositionSeconds float64
	DurationSeconds float64
	Volume          float64
}

// IsPlaying reports whether the sink is expected to be producing audio.
func (s State) IsPlaying() bool {
	return s.Status == StatusPlaying
}

// Controller owns the playback state for the active order.
// It is not safe for concurrent use; the session loop owns it.
type Controller struct {
	sink    Sink
	songs   []deck.Song
	current deck.Song
	loaded  bool
	state   State
	onLoad  func(deck.Song)
}

// NewController creates an idle controller. onLoad is called whenever a
// track is loaded into the sink.
func NewController(sink Sink, onLoad func(deck.Song)) *Controller {
	if onLoad == nil {
		onLoad = func(deck.Song) {}
	}
	return &Controller{
		sink:   sink,
		onLoad: onLoad,
		state:  State{Status: StatusIdle, Index: -1, Volume: 1},
	}
}

// State returns a copy of the playback state.
func (c *Controller) State() State {
	return c.state
}

// Current returns the track loaded in the sink.
func (c *Controller) Current() (deck.Song, bool) {
	return c.current, c.loaded
}

// Rebind points the controller at a new active order. The loaded track keeps
// its identity if it is still present; otherwise the cursor moves to the
// first entry and the sink is left alone. It reports whether the loaded
// track was found.
func (c *Controller) Rebind(songs []deck.Song) bool {
	c.songs = songs
	if len(songs) == 0 {
		c.state.Index = -1
		return false
	}
	if c.loaded {
		for i, song := range songs {
			if song.URL == c.current.URL {
				c.state.Index = i
				return true
			}
		}
	}
	c.state.Index = 0
	return false
}

// SelectTrack loads the track at index without starting it.
func (c *Controller) SelectTrack(index int) error {
	if len(c.songs) == 0 {
		return core.ErrEmptyView
	}
	if index < 0 || index >= len(c.songs) {
		return fmt.Errorf("%w: track %d of %d", core.ErrNotFound, index, len(c.songs))
	}
	return c.load(index)
}

func (c *Controller) load(index int) error {
	song := c.songs[index]
	c.state.Index = index
	c.state.PositionSeconds = 0
	c.state.DurationSeconds = 0
	if err := c.sink.Load(song.URL); err != nil {
		c.loaded = false
		c.current = deck.Song{}
		c.state.Status = StatusIdle
		return fmt.Errorf("load %q: %w", song.Title, err)
	}
	c.current = song
	c.loaded = true
	c.state.Status = StatusLoaded
	c.onLoad(song)
	return nil
}

// Play starts or resumes the loaded track, loading the cursor track first
// when nothing is loaded. A rejected start leaves the state unchanged.
func (c *Controller) Play() error {
	if c.state.Status == StatusPlaying {
		return nil
	}
	prior := c.state.Status
	if prior == StatusIdle {
		index := c.state.Index
		if index < 0 {
			index = 0
		}
		if err := c.SelectTrack(index); err != nil {
			return err
		}
	}
	if err := c.sink.Play(); err != nil {
		c.state.Status = prior
		return fmt.Errorf("%w: %v", core.ErrPlaybackRejected, err)
	}
	c.state.Status = StatusPlaying
	return nil
}

// Pause pauses a playing track.
func (c *Controller) Pause() error {
	if c.state.Status != StatusPlaying {
		return nil
	}
	if err := c.sink.Pause(); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	c.state.Status = StatusPaused
	return nil
}

// Toggle pauses when playing and plays otherwise.
func (c *Controller) Toggle() error {
	if c.state.IsPlaying() {
		return c.Pause()
	}
	return c.Play()
}

// Next loads and starts the following track, wrapping at the end.
func (c *Controller) Next() error {
	return c.step(1)
}

// Previous loads and starts the preceding track, wrapping at the start.
func (c *Controller) Previous() error {
	return c.step(-1)
}

func (c *Controller) step(delta int) error {
	n := len(c.songs)
	if n == 0 {
		return core.ErrEmptyView
	}
	target := 0
	if c.state.Index >= 0 {
		target = ((c.state.Index+delta)%n + n) % n
	}
	if err := c.load(target); err != nil {
		return err
	}
	if err := c.sink.Play(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrPlaybackRejected, err)
	}
	c.state.Status = StatusPlaying
	return nil
}

// OnTrackEnded advances after the sink finishes a track. A failure to load
// or start the next track is returned and transport stops there.
func (c *Controller) OnTrackEnded() error {
	if c.state.Status == StatusPlaying {
		c.state.Status = StatusLoaded
	}
	return c.step(1)
}

// OnLoadFailed records that the sink could not prepare the loaded track.
// Transport stops and the cursor stays on the failed entry.
func (c *Controller) OnLoadFailed() {
	c.loaded = false
	c.current = deck.Song{}
	c.state.Status = StatusIdle
	c.state.PositionSeconds = 0
	c.state.DurationSeconds = 0
}

// Seek moves within the loaded track, clamped to its duration. It does
// nothing until the duration is known.
func (c *Controller) Seek(positionSeconds float64) error {
	if !c.loaded || c.state.DurationSeconds <= 0 {
		return nil
	}
	target := clamp(positionSeconds, 0, c.state.DurationSeconds)
	if err := c.sink.Seek(target); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	c.state.PositionSeconds = target
	return nil
}

// SeekBy moves relative to the current position.
func (c *Controller) SeekBy(deltaSeconds float64) error {
	return c.Seek(c.state.PositionSeconds + deltaSeconds)
}

// SetVolume sets the output level, clamped to [0, 1].
func (c *Controller) SetVolume(volume float64) error {
	volume = clamp(volume, 0, 1)
	if err := c.sink.SetVolume(volume); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	c.state.Volume = volume
	return nil
}

// OnTimeUpdate records the sink's reported position and duration.
func (c *Controller) OnTimeUpdate(positionSeconds float64, durationSeconds float64) {
	if !c.loaded {
		return
	}
	if valid(positionSeconds) && positionSeconds >= 0 {
		c.state.PositionSeconds = positionSeconds
	}
	if valid(durationSeconds) && durationSeconds > 0 {
		c.state.DurationSeconds = durationSeconds
	}
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v float64, lo float64, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
