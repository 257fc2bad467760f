package core

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mikey-austin/tunedeck/internal/ports"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

// Service orchestrates tunedeck CLI use cases.
type Service struct {
	Broker   ports.Broker
	Resolver Resolver
	Clock    ports.Clock
	IDGen    ports.IDGen
	Config   Config
}

// ListNodes returns presence entries, optionally filtered by kind.
func (s Service) ListNodes(ctx context.Context, kind string) (NodesResult, error) {
	nodes, err := s.Broker.ListPresence(ctx)
	if err != nil {
		return NodesResult{}, WrapError(ExitRuntime, "list nodes", err)
	}
	if kind != "" {
		filtered := nodes[:0]
		for _, node := range nodes {
			if node.Kind == kind {
				filtered = append(filtered, node)
			}
		}
		nodes = filtered
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	return NodesResult{Nodes: nodes}, nil
}

// Status asks the player for its current state.
func (s Service) Status(ctx context.Context, selector string) (StatusResult, error) {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return StatusResult{}, err
	}
	var state deck.PlayerState
	if err := s.request(ctx, player.NodeID, "player.status", deck.EmptyBody{}, &state); err != nil {
		return StatusResult{}, err
	}
	return StatusResult{Player: player, State: state}, nil
}

// WatchStatus streams retained state and events for a player.
func (s Service) WatchStatus(ctx context.Context, selector string) (<-chan deck.PlayerState, <-chan deck.Event, <-chan error, error) {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return nil, nil, nil, err
	}
	states, events, errs := s.Broker.WatchPlayer(ctx, player.NodeID)
	return states, events, errs, nil
}

// Playlists lists the playlist cards a player can browse.
func (s Service) Playlists(ctx context.Context, selector string) (PlaylistsResult, error) {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return PlaylistsResult{}, err
	}
	var reply deck.PlaylistsReply
	if err := s.request(ctx, player.NodeID, "catalog.playlists", deck.EmptyBody{}, &reply); err != nil {
		return PlaylistsResult{}, err
	}
	return PlaylistsResult{Player: player, Playlists: reply.Playlists}, nil
}

// View returns the player's active view.
func (s Service) View(ctx context.Context, selector string) (ViewResult, error) {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return ViewResult{}, err
	}
	var reply deck.ViewGetReply
	if err := s.request(ctx, player.NodeID, "view.get", deck.EmptyBody{}, &reply); err != nil {
		return ViewResult{}, err
	}
	return ViewResult{Player: player, View: reply}, nil
}

// LoadPlaylist shows a playlist on the player.
func (s Service) LoadPlaylist(ctx context.Context, selector string, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &CLIError{Code: ExitUsage, Msg: "playlist name required"}
	}
	return s.simple(ctx, selector, "view.loadPlaylist", deck.LoadPlaylistBody{Name: name})
}

// Shuffle reshuffles the current view.
func (s Service) Shuffle(ctx context.Context, selector string) error {
	return s.simple(ctx, selector, "view.shuffle", deck.EmptyBody{})
}

// Unshuffle restores the source order of the current view.
func (s Service) Unshuffle(ctx context.Context, selector string) error {
	return s.simple(ctx, selector, "view.unshuffle", deck.EmptyBody{})
}

// GlobalShuffle toggles the whole catalog shuffle.
func (s Service) GlobalShuffle(ctx context.Context, selector string, enabled bool) error {
	return s.simple(ctx, selector, "view.globalShuffle", deck.GlobalShuffleBody{Enabled: enabled})
}

// Search filters the player's view. now skips the player's debounce.
func (s Service) Search(ctx context.Context, selector string, query string, now bool) error {
	return s.simple(ctx, selector, "view.search", deck.SearchBody{Query: query, Immediate: now})
}

// Refresh asks the player to refetch the flattened catalog.
func (s Service) Refresh(ctx context.Context, selector string, purge bool) error {
	return s.simple(ctx, selector, "catalog.refresh", deck.RefreshBody{Purge: purge})
}

// Select loads a track by its 1-based position in the active view.
func (s Service) Select(ctx context.Context, selector string, position int) error {
	if position < 1 {
		return &CLIError{Code: ExitUsage, Msg: "track position starts at 1"}
	}
	return s.simple(ctx, selector, "playback.select", deck.PlaybackSelectBody{Index: position - 1})
}

// Play starts or resumes playback.
func (s Service) Play(ctx context.Context, selector string) error {
	return s.simple(ctx, selector, "playback.play", deck.EmptyBody{})
}

// Pause pauses playback.
func (s Service) Pause(ctx context.Context, selector string) error {
	return s.simple(ctx, selector, "playback.pause", deck.EmptyBody{})
}

// Toggle flips between playing and paused.
func (s Service) Toggle(ctx context.Context, selector string) error {
	return s.simple(ctx, selector, "playback.toggle", deck.EmptyBody{})
}

// Next moves to the next track.
func (s Service) Next(ctx context.Context, selector string) error {
	return s.simple(ctx, selector, "playback.next", deck.EmptyBody{})
}

// Prev moves to the previous track.
func (s Service) Prev(ctx context.Context, selector string) error {
	return s.simple(ctx, selector, "playback.prev", deck.EmptyBody{})
}

// Seek moves the playhead. arg is seconds or a Go duration, absolute or
// relative when prefixed with + or -.
func (s Service) Seek(ctx context.Context, selector string, arg string) error {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return err
	}
	pos, err := s.resolveSeekPosition(ctx, player, arg)
	if err != nil {
		return err
	}
	return s.send(ctx, player.NodeID, "playback.seek", deck.PlaybackSeekBody{PositionSeconds: pos})
}

// SetVolume sets volume from a 0..100 value or a +/-n delta.
func (s Service) SetVolume(ctx context.Context, selector string, arg string) error {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return err
	}
	volume, err := s.resolveVolume(ctx, player, arg)
	if err != nil {
		return err
	}
	return s.send(ctx, player.NodeID, "playback.setVolume", deck.PlaybackSetVolumeBody{Volume: volume})
}

func (s Service) simple(ctx context.Context, selector string, cmdType string, body any) error {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return err
	}
	return s.send(ctx, player.NodeID, cmdType, body)
}

func (s Service) send(ctx context.Context, nodeID string, cmdType string, body any) error {
	return s.request(ctx, nodeID, cmdType, body, nil)
}

// request publishes a command and decodes the reply body into out when set.
func (s Service) request(ctx context.Context, nodeID string, cmdType string, body any, out any) error {
	cmd, err := deck.NewCommand(cmdType, body)
	if err != nil {
		return WrapError(ExitRuntime, "build command", err)
	}
	cmd = s.decorateCommand(cmd)

	reply, err := s.Broker.PublishCommand(ctx, nodeID, cmd)
	if err != nil {
		var cliErr *CLIError
		if errors.As(err, &cliErr) {
			return err
		}
		return WrapError(ExitRuntime, "publish command", err)
	}
	if reply.Err != nil {
		return ErrorForReplyCode(reply.Err.Code, reply.Err.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(reply.Body, out); err != nil {
		return WrapError(ExitRuntime, "decode "+cmdType+" reply", err)
	}
	return nil
}

func (s Service) decorateCommand(cmd deck.CommandEnvelope) deck.CommandEnvelope {
	cmd.ID = s.IDGen.NewID()
	cmd.TS = s.Clock.NowUnix()
	cmd.From = s.Config.Identity
	cmd.ReplyTo = s.Broker.ReplyTopic()
	return cmd
}

func (s Service) currentPlayback(ctx context.Context, player deck.Presence) (deck.PlaybackState, error) {
	var state deck.PlayerState
	if err := s.request(ctx, player.NodeID, "player.status", deck.EmptyBody{}, &state); err != nil {
		return deck.PlaybackState{}, err
	}
	if state.Playback == nil {
		return deck.PlaybackState{}, &CLIError{Code: ExitRuntime, Msg: "no playback state"}
	}
	return *state.Playback, nil
}

func (s Service) resolveSeekPosition(ctx context.Context, player deck.Presence, arg string) (float64, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 0, &CLIError{Code: ExitUsage, Msg: "seek position required"}
	}

	if strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-") {
		delta, err := parseSeconds(arg)
		if err != nil {
			return 0, err
		}
		pb, err := s.currentPlayback(ctx, player)
		if err != nil {
			return 0, err
		}
		pos := math.Max(0, pb.PositionSeconds+delta)
		if pb.DurationSeconds > 0 {
			pos = math.Min(pos, pb.DurationSeconds)
		}
		return pos, nil
	}
	return parseSeconds(arg)
}

func (s Service) resolveVolume(ctx context.Context, player deck.Presence, arg string) (float64, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 0, &CLIError{Code: ExitUsage, Msg: "volume argument required"}
	}

	if strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-") {
		delta, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return 0, &CLIError{Code: ExitUsage, Msg: "invalid volume delta"}
		}
		pb, err := s.currentPlayback(ctx, player)
		if err != nil {
			return 0, err
		}
		return clampVolume((pb.Volume*100 + delta) / 100), nil
	}

	value, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, &CLIError{Code: ExitUsage, Msg: "invalid volume"}
	}
	return clampVolume(value / 100), nil
}

func clampVolume(value float64) float64 {
	return math.Min(1, math.Max(0, value))
}

// parseSeconds accepts plain seconds ("90", "-5.5") or Go durations ("1m30s").
func parseSeconds(arg string) (float64, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 0, &CLIError{Code: ExitUsage, Msg: "duration required"}
	}
	if value, err := strconv.ParseFloat(arg, 64); err == nil {
		return value, nil
	}
	dur, err := time.ParseDuration(arg)
	if err != nil {
		return 0, &CLIError{Code: ExitUsage, Msg: "invalid duration " + strconv.Quote(arg)}
	}
	return dur.Seconds(), nil
}
