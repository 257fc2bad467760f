package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/tunedeck/internal/adapters/cachestore"
	"github.com/mikey-austin/tunedeck/internal/adapters/catalog"
	"github.com/mikey-austin/tunedeck/internal/core"
	"github.com/mikey-austin/tunedeck/internal/modules/playback"
	"github.com/mikey-austin/tunedeck/internal/modules/view"
	"github.com/mikey-austin/tunedeck/internal/ports"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

// Search modes.
const (
	SearchLocal  = "local"
	SearchRemote = "remote"
)

// ErrClosed is returned once the session loop has stopped.
var ErrClosed = errors.New("session closed")

// Catalog is the remote catalog the session browses.
type Catalog interface {
	ListPlaylists(ctx context.Context) ([]string, error)
	ListSongs(ctx context.Context, name string) (catalog.Listing, error)
	ListAllSongsFlattened(ctx context.Context) ([]deck.Song, error)
	Search(ctx context.Context, query string) ([]deck.Song, error)
	FetchDescriptor(ctx context.Context, descriptorURL string) (deck.Descriptor, error)
	CoverURL(playlist string) string
}

// Cache persists the flattened catalog.
type Cache interface {
	Load() (cachestore.Entry, bool)
	Save(songs []deck.Song) error
	Clear() error
}

// Sink is an audio output that reports when a track finishes.
type Sink interface {
	playback.Sink
	OnEnded(fn func(url string))
	OnFailed(fn func(url string, err error))
}

// Bridge receives the session's outward calls. Calls are made from the
// session loop and must not block for long.
type Bridge interface {
	Render(songs []deck.Song, highlight int)
	SetNowPlaying(np deck.NowPlaying)
	StateChanged(state deck.PlayerState)
	Failure(err error)
}

// Config tunes session timing and policy.
type Config struct {
	SearchMode       string
	SearchDebounce   time.Duration
	RefreshDelay     time.Duration
	PositionInterval time.Duration
	FetchTimeout     time.Duration
	DefaultCover     string
	Volume           float64
	Clock            ports.Clock
	Rand             *rand.Rand
}

// Session owns the view and the playback controller and serialises every
// mutation through a single loop goroutine.
type Session struct {
	log     *zap.Logger
	config  Config
	catalog Catalog
	cache   Cache
	sink    Sink
	view    *view.Engine
	ctrl    *playback.Controller
	bridges []Bridge

	actions chan func()
	done    chan struct{}
	ctx     context.Context

	// loads counts tracks announced by the controller. Sink callbacks
	// capture it so events queued behind a newer load are dropped.
	loads atomic.Uint64

	persistMu  sync.Mutex
	persistSeq uint64

	// Fields below are owned by the loop.
	playlists      []string
	covers         map[string]string
	allSongs       []deck.Song
	allFetchedAt   int64
	catalogSeq     uint64
	catalogApplied uint64
	viewGen        uint64
	searchGen      uint64
	searchTimer    *time.Timer
	refreshTimer   *time.Timer
	stateVersion   int64
}

// New builds a session. Bridges must be added before Run.
func New(log *zap.Logger, cat Catalog, cache Cache, sink Sink, cfg Config) (*Session, error) {
	if cat == nil {
		return nil, errors.New("catalog required")
	}
	if cache == nil {
		return nil, errors.New("cache required")
	}
	if sink == nil {
		return nil, errors.New("sink required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("clock required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	switch strings.TrimSpace(cfg.SearchMode) {
	case "":
		cfg.SearchMode = SearchLocal
	case SearchLocal, SearchRemote:
	default:
		return nil, fmt.Errorf("unknown search mode %q", cfg.SearchMode)
	}
	if cfg.SearchDebounce <= 0 {
		cfg.SearchDebounce = 500 * time.Millisecond
	}
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = 5 * time.Second
	}
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.Volume <= 0 || cfg.Volume > 1 {
		cfg.Volume = 1
	}

	s := &Session{
		log:     log,
		config:  cfg,
		catalog: cat,
		cache:   cache,
		sink:    sink,
		view:    view.NewEngine(cfg.Rand),
		actions: make(chan func(), 64),
		done:    make(chan struct{}),
		covers:  map[string]string{},
	}
	s.ctrl = playback.NewController(sink, s.announce)
	return s, nil
}

// AddBridge registers a bridge. It is not safe to call once Run has started.
func (s *Session) AddBridge(b Bridge) {
	s.bridges = append(s.bridges, b)
}

// Run processes actions until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	defer close(s.done)

	s.sink.OnEnded(func(url string) {
		gen := s.loads.Load()
		s.post(func() { s.handleEnded(url, gen) })
	})
	s.sink.OnFailed(func(url string, err error) {
		gen := s.loads.Load()
		s.post(func() { s.handleTrackFailed(url, gen, err) })
	})
	if err := s.ctrl.SetVolume(s.config.Volume); err != nil {
		s.log.Warn("set initial volume", zap.Error(err))
	}
	s.bootstrap()

	ticker := time.NewTicker(s.config.PositionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopTimers()
			return nil
		case fn := <-s.actions:
			fn()
		case <-ticker.C:
			s.pollPosition()
		}
	}
}

func (s *Session) stopTimers() {
	if s.searchTimer != nil {
		s.searchTimer.Stop()
	}
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
}

// bootstrap seeds the catalog from cache, opens the first playlist and
// schedules a background refresh of the flattened catalog.
func (s *Session) bootstrap() {
	if entry, ok := s.cache.Load(); ok {
		s.allSongs = entry.Songs
		s.allFetchedAt = entry.Timestamp
		s.log.Info("catalog cache loaded", zap.Int("songs", len(entry.Songs)))
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.config.FetchTimeout)
		defer cancel()
		names, err := s.catalog.ListPlaylists(ctx)
		s.post(func() {
			if err != nil {
				s.log.Warn("list playlists", zap.Error(err))
				s.fail(err)
				return
			}
			s.playlists = names
			if len(names) > 0 && s.viewGen == 0 {
				s.startPlaylistLoad(names[0], nil)
				return
			}
			s.publishState()
		})
	}()

	delay := time.Duration(0)
	if s.allSongs != nil {
		delay = s.config.RefreshDelay
	}
	s.refreshTimer = time.AfterFunc(delay, func() {
		s.post(func() { s.startCatalogFetch(nil) })
	})
}

// post queues fn on the loop. It is dropped once the loop has stopped.
func (s *Session) post(fn func()) {
	select {
	case s.actions <- fn:
	case <-s.done:
	}
}

// do runs fn on the loop and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	select {
	case s.actions <- func() { result <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	return s.wait(ctx, result)
}

func (s *Session) wait(ctx context.Context, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) fetchContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.config.FetchTimeout)
}

func (s *Session) announce(song deck.Song) {
	s.loads.Add(1)
	np := s.nowPlaying(song)
	for _, b := range s.bridges {
		b.SetNowPlaying(np)
	}
}

func (s *Session) nowPlaying(song deck.Song) deck.NowPlaying {
	playlist := song.Playlist
	if playlist == "" {
		playlist = catalog.PlaylistFromURL(song.URL)
	}
	label := playlist
	if label == "" {
		label = s.view.Label()
	}
	return deck.NowPlaying{
		Title:    deck.DisplayTitle(song.Title),
		Playlist: label,
		CoverURL: s.coverFor(playlist),
		URL:      song.URL,
	}
}

func (s *Session) coverFor(playlist string) string {
	if cover, ok := s.covers[playlist]; ok {
		return cover
	}
	if cover := s.catalog.CoverURL(playlist); cover != "" {
		return cover
	}
	return s.config.DefaultCover
}

func (s *Session) render() {
	highlight := s.ctrl.State().Index
	active := s.view.Active()
	for _, b := range s.bridges {
		b.Render(active, highlight)
	}
}

func (s *Session) fail(err error) {
	for _, b := range s.bridges {
		b.Failure(err)
	}
}

func (s *Session) publishState() {
	s.stateVersion++
	state := s.snapshot()
	for _, b := range s.bridges {
		b.StateChanged(state)
	}
}

// afterViewChange rebinds the controller to the new active order. When
// autoSelect is set and nothing is playing, the first track is loaded.
func (s *Session) afterViewChange(autoSelect bool) {
	found := s.ctrl.Rebind(s.view.Active())
	if autoSelect && !found && !s.ctrl.State().IsPlaying() && s.view.Len() > 0 {
		if err := s.ctrl.SelectTrack(0); err != nil {
			s.log.Warn("select first track", zap.Error(err))
			s.fail(err)
		}
	}
	s.render()
	s.publishState()
}

func (s *Session) snapshot() deck.PlayerState {
	pb := s.ctrl.State()
	state := deck.PlayerState{
		View: &deck.ViewState{
			Label:          s.view.Label(),
			Kind:           string(s.view.Kind()),
			Length:         s.view.Len(),
			OriginalLength: len(s.view.Original()),
		},
		Playback: &deck.PlaybackState{
			Status:          string(pb.Status),
			PositionSeconds: pb.PositionSeconds,
			DurationSeconds: pb.DurationSeconds,
			Volume:          pb.Volume,
		},
		Catalog: &deck.CatalogState{
			Songs:     len(s.allSongs),
			Warm:      s.allSongs != nil,
			FetchedAt: s.allFetchedAt,
		},
		StateVersion: s.stateVersion,
		TS:           s.config.Clock.NowUnix(),
	}
	if pb.Index >= 0 {
		index := pb.Index
		state.Playback.Index = &index
	}
	if song, ok := s.ctrl.Current(); ok {
		np := s.nowPlaying(song)
		state.Current = &np
	}
	return state
}

func (s *Session) pollPosition() {
	if !s.ctrl.State().IsPlaying() {
		return
	}
	pos, dur, ok := s.sink.Position()
	if !ok {
		return
	}
	s.ctrl.OnTimeUpdate(pos, dur)
	s.publishState()
}

// isLoaded reports whether a sink event for url taken at gen still refers
// to the loaded track.
func (s *Session) isLoaded(url string, gen uint64) bool {
	song, ok := s.ctrl.Current()
	return ok && song.URL == url && gen == s.loads.Load()
}

func (s *Session) handleEnded(url string, gen uint64) {
	if !s.isLoaded(url, gen) {
		s.log.Debug("ignore end of replaced track", zap.String("url", url))
		return
	}
	if err := s.ctrl.OnTrackEnded(); err != nil {
		s.log.Warn("advance after track end", zap.Error(err))
		s.fail(err)
	}
	s.render()
	s.publishState()
}

func (s *Session) handleTrackFailed(url string, gen uint64, err error) {
	if !s.isLoaded(url, gen) {
		s.log.Debug("ignore failure of replaced track", zap.String("url", url))
		return
	}
	s.log.Warn("track failed", zap.String("url", url), zap.Error(err))
	s.ctrl.OnLoadFailed()
	s.fail(fmt.Errorf("%w: %v", core.ErrPlaybackRejected, err))
	s.render()
	s.publishState()
}
