package session

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikey-austin/tunedeck/internal/core"
	"github.com/mikey-austin/tunedeck/internal/modules/playback"
	"github.com/mikey-austin/tunedeck/internal/modules/view"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

// LoadPlaylist shows a playlist in service order. It returns once the
// listing has been applied, or ErrSuperseded if a newer view request won.
func (s *Session) LoadPlaylist(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: playlist name required", core.ErrInvalidRequest)
	}
	result := make(chan error, 1)
	if err := s.do(ctx, func() error {
		s.startPlaylistLoad(name, result)
		return nil
	}); err != nil {
		return err
	}
	return s.wait(ctx, result)
}

func (s *Session) startPlaylistLoad(name string, result chan<- error) {
	s.viewGen++
	gen := s.viewGen
	s.cancelSearch()

	go func() {
		ctx, cancel := s.fetchContext()
		defer cancel()
		listing, err := s.catalog.ListSongs(ctx, name)
		s.post(func() {
			err := s.applyPlaylist(gen, name, listing.Songs, listing.CoverURL, err)
			if result != nil {
				result <- err
			}
		})
	}()
}

func (s *Session) applyPlaylist(gen uint64, name string, songs []deck.Song, cover string, fetchErr error) error {
	if gen != s.viewGen {
		s.log.Debug("discarding stale playlist listing", zap.String("playlist", name))
		return core.ErrSuperseded
	}
	if fetchErr != nil {
		s.log.Warn("load playlist", zap.String("playlist", name), zap.Error(fetchErr))
		s.view.LoadPlaylist(name, nil)
		s.afterViewChange(false)
		s.fail(fetchErr)
		return fetchErr
	}
	if cover != "" {
		s.covers[name] = cover
	}
	s.view.LoadPlaylist(name, songs)
	s.afterViewChange(true)
	return nil
}

// Shuffle draws a new permutation of the current view's source.
func (s *Session) Shuffle(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.cancelSearch()
		s.view.Shuffle()
		s.afterViewChange(false)
		return nil
	})
}

// Unshuffle restores the current view's source order.
func (s *Session) Unshuffle(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.cancelSearch()
		s.view.Unshuffle()
		s.afterViewChange(false)
		return nil
	})
}

// GlobalShuffle switches to or away from a shuffle of the whole catalog.
// Switching away returns to the first playlist.
func (s *Session) GlobalShuffle(ctx context.Context, enabled bool) error {
	result := make(chan error, 1)
	if err := s.do(ctx, func() error {
		if !enabled {
			return s.leaveGlobal(result)
		}
		s.viewGen++
		gen := s.viewGen
		s.cancelSearch()
		if s.warmCatalog() {
			result <- s.applyGlobal(gen, nil)
			return nil
		}
		s.startCatalogFetch(func(err error) {
			result <- s.applyGlobal(gen, err)
		})
		return nil
	}); err != nil {
		return err
	}
	return s.wait(ctx, result)
}

func (s *Session) leaveGlobal(result chan<- error) error {
	if !s.view.Global() {
		result <- nil
		return nil
	}
	if len(s.playlists) == 0 {
		s.view.Unshuffle()
		s.afterViewChange(false)
		result <- nil
		return nil
	}
	s.startPlaylistLoad(s.playlists[0], result)
	return nil
}

func (s *Session) applyGlobal(gen uint64, fetchErr error) error {
	if gen != s.viewGen {
		s.log.Debug("discarding stale global listing")
		return core.ErrSuperseded
	}
	if fetchErr != nil {
		s.log.Warn("load global catalog", zap.Error(fetchErr))
		s.view.LoadGlobalShuffle(nil)
		s.afterViewChange(false)
		s.fail(fetchErr)
		return fetchErr
	}
	s.view.LoadGlobalShuffle(s.allSongs)
	s.afterViewChange(true)
	return nil
}

// warmCatalog reports whether a flattened catalog is available, consulting
// the cache if the loop does not hold one yet.
func (s *Session) warmCatalog() bool {
	if s.allSongs != nil {
		return true
	}
	if entry, ok := s.cache.Load(); ok {
		s.allSongs = entry.Songs
		s.allFetchedAt = entry.Timestamp
		return true
	}
	return false
}

// startCatalogFetch refreshes the flattened catalog in the background and
// persists it. then, if set, runs on the loop after the result is stored.
func (s *Session) startCatalogFetch(then func(error)) {
	s.catalogSeq++
	seq := s.catalogSeq

	go func() {
		ctx, cancel := s.fetchContext()
		defer cancel()
		songs, err := s.catalog.ListAllSongsFlattened(ctx)
		if err == nil {
			s.persistCatalog(seq, songs)
		}
		fetchedAt := s.config.Clock.NowMillis()
		s.post(func() {
			if err != nil {
				s.log.Warn("refresh catalog", zap.Error(err))
			} else if seq > s.catalogApplied {
				s.catalogApplied = seq
				s.allSongs = songs
				s.allFetchedAt = fetchedAt
				s.log.Info("catalog refreshed", zap.Int("songs", len(songs)))
				s.publishState()
			}
			if then != nil {
				then(err)
			}
		})
	}()
}

// persistCatalog saves songs unless a newer fetch has already been saved.
func (s *Session) persistCatalog(seq uint64, songs []deck.Song) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if seq <= s.persistSeq {
		s.log.Debug("skip persisting stale catalog", zap.Uint64("seq", seq))
		return
	}
	s.persistSeq = seq
	if err := s.cache.Save(songs); err != nil {
		s.log.Warn("persist catalog cache", zap.Error(err))
	}
}

// Refresh refetches the flattened catalog, optionally dropping the cached copy first.
func (s *Session) Refresh(ctx context.Context, purge bool) error {
	result := make(chan error, 1)
	if err := s.do(ctx, func() error {
		if purge {
			if err := s.cache.Clear(); err != nil {
				s.log.Warn("clear catalog cache", zap.Error(err))
			}
		}
		s.startCatalogFetch(func(err error) { result <- err })
		return nil
	}); err != nil {
		return err
	}
	return s.wait(ctx, result)
}

// Search schedules a debounced search. Only the latest pending query runs.
func (s *Session) Search(ctx context.Context, query string) error {
	return s.do(ctx, func() error {
		s.searchGen++
		gen := s.searchGen
		if s.searchTimer != nil {
			s.searchTimer.Stop()
		}
		s.searchTimer = time.AfterFunc(s.config.SearchDebounce, func() {
			s.post(func() {
				if gen != s.searchGen {
					return
				}
				s.runSearch(query, nil)
			})
		})
		return nil
	})
}

// SearchNow runs a search immediately, cancelling any pending one. A query
// without matches leaves the view unchanged and reports ErrNotFound.
func (s *Session) SearchNow(ctx context.Context, query string) error {
	result := make(chan error, 1)
	if err := s.do(ctx, func() error {
		s.cancelSearch()
		s.runSearch(query, result)
		return nil
	}); err != nil {
		return err
	}
	return s.wait(ctx, result)
}

func (s *Session) cancelSearch() {
	s.searchGen++
	if s.searchTimer != nil {
		s.searchTimer.Stop()
		s.searchTimer = nil
	}
}

func (s *Session) runSearch(query string, result chan<- error) {
	reply := func(err error) {
		if result != nil {
			result <- err
		}
	}
	query = strings.TrimSpace(query)
	if query == "" {
		reply(nil)
		return
	}

	s.viewGen++
	gen := s.viewGen

	if s.config.SearchMode == SearchRemote {
		go func() {
			ctx, cancel := s.fetchContext()
			defer cancel()
			matches, err := s.catalog.Search(ctx, query)
			s.post(func() { reply(s.applySearch(gen, query, matches, err)) })
		}()
		return
	}
	if s.warmCatalog() {
		reply(s.applySearch(gen, query, s.allSongs, nil))
		return
	}
	s.startCatalogFetch(func(err error) {
		reply(s.applySearch(gen, query, s.allSongs, err))
	})
}

func (s *Session) applySearch(gen uint64, query string, pool []deck.Song, fetchErr error) error {
	if gen != s.viewGen {
		s.log.Debug("discarding stale search", zap.String("query", query))
		return core.ErrSuperseded
	}
	if fetchErr != nil {
		s.log.Warn("search", zap.String("query", query), zap.Error(fetchErr))
		s.fail(fetchErr)
		return fetchErr
	}
	if !s.view.ApplySearch(query, pool) {
		s.log.Info("no search results", zap.String("query", query))
		return fmt.Errorf("%w: no songs match %q", core.ErrNotFound, query)
	}
	s.afterViewChange(false)
	return nil
}

// Select loads a track from the active view without starting it.
func (s *Session) Select(ctx context.Context, index int) error {
	return s.transport(ctx, func(c *playback.Controller) error { return c.SelectTrack(index) })
}

// Play starts or resumes playback.
func (s *Session) Play(ctx context.Context) error {
	return s.transport(ctx, (*playback.Controller).Play)
}

// Pause pauses playback.
func (s *Session) Pause(ctx context.Context) error {
	return s.transport(ctx, (*playback.Controller).Pause)
}

// Toggle flips between playing and paused.
func (s *Session) Toggle(ctx context.Context) error {
	return s.transport(ctx, (*playback.Controller).Toggle)
}

// Next advances to the following track and plays it.
func (s *Session) Next(ctx context.Context) error {
	return s.transport(ctx, (*playback.Controller).Next)
}

// Previous steps back to the preceding track and plays it.
func (s *Session) Previous(ctx context.Context) error {
	return s.transport(ctx, (*playback.Controller).Previous)
}

// Seek jumps to an absolute position in seconds.
func (s *Session) Seek(ctx context.Context, positionSeconds float64) error {
	return s.transport(ctx, func(c *playback.Controller) error { return c.Seek(positionSeconds) })
}

// SeekBy jumps relative to the current position.
func (s *Session) SeekBy(ctx context.Context, deltaSeconds float64) error {
	return s.transport(ctx, func(c *playback.Controller) error { return c.SeekBy(deltaSeconds) })
}

// SetVolume sets the output level in [0, 1].
func (s *Session) SetVolume(ctx context.Context, volume float64) error {
	return s.transport(ctx, func(c *playback.Controller) error { return c.SetVolume(volume) })
}

func (s *Session) transport(ctx context.Context, fn func(*playback.Controller) error) error {
	return s.do(ctx, func() error {
		before := s.ctrl.State().Index
		err := fn(s.ctrl)
		if err != nil {
			s.log.Warn("playback", zap.Error(err))
			s.fail(err)
		}
		if s.ctrl.State().Index != before {
			s.render()
		}
		s.publishState()
		return err
	})
}

// State returns the current player state.
func (s *Session) State(ctx context.Context) (deck.PlayerState, error) {
	var state deck.PlayerState
	err := s.do(ctx, func() error {
		state = s.snapshot()
		return nil
	})
	return state, err
}

// View returns the active view with the highlighted index.
func (s *Session) View(ctx context.Context) (deck.ViewGetReply, error) {
	var reply deck.ViewGetReply
	err := s.do(ctx, func() error {
		snap := s.view.Snapshot()
		reply = deck.ViewGetReply{Label: snap.Label, Kind: string(snap.Kind), Songs: snap.Songs}
		if index := s.ctrl.State().Index; index >= 0 {
			reply.Index = &index
		}
		return nil
	})
	return reply, err
}

// Kind reports the kind of the active view.
func (s *Session) Kind(ctx context.Context) (view.Kind, error) {
	var kind view.Kind
	err := s.do(ctx, func() error {
		kind = s.view.Kind()
		return nil
	})
	return kind, err
}

// Playlists lists playlist cards with descriptions and covers. Listings are
// fetched concurrently; a playlist whose listing fails is shown without details.
func (s *Session) Playlists(ctx context.Context) ([]deck.PlaylistCard, error) {
	names, err := s.catalog.ListPlaylists(ctx)
	if err != nil {
		return nil, err
	}

	cards := make([]deck.PlaylistCard, len(names))
	covers := make([]string, len(names))
	var group errgroup.Group
	group.SetLimit(8)
	for i, name := range names {
		cards[i] = deck.PlaylistCard{Name: name, CoverURL: s.config.DefaultCover}
		group.Go(func() error {
			listing, err := s.catalog.ListSongs(ctx, name)
			if err != nil {
				s.log.Debug("playlist card", zap.String("playlist", name), zap.Error(err))
				return nil
			}
			cards[i].Songs = len(listing.Songs)
			if listing.CoverURL != "" {
				cards[i].CoverURL = listing.CoverURL
				covers[i] = listing.CoverURL
			}
			if listing.MetadataURL != "" {
				if desc, err := s.catalog.FetchDescriptor(ctx, listing.MetadataURL); err == nil {
					cards[i].Description = desc.Description
				}
			}
			return nil
		})
	}
	_ = group.Wait()

	s.post(func() {
		s.playlists = slices.Clone(names)
		for i, name := range names {
			if covers[i] != "" {
				s.covers[name] = covers[i]
			}
		}
	})
	return cards, nil
}
