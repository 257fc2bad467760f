package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/tunedeck/internal/core"
	"github.com/mikey-austin/tunedeck/internal/ports"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

// Event types published on the node's event topic.
const (
	EventTrackLoaded = "track.loaded"
	EventViewChanged = "view.changed"
	EventFailure     = "player.error"
)

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// Deck is the player surface driven by remote commands.
type Deck interface {
	State(ctx context.Context) (deck.PlayerState, error)
	View(ctx context.Context) (deck.ViewGetReply, error)
	Playlists(ctx context.Context) ([]deck.PlaylistCard, error)
	Refresh(ctx context.Context, purge bool) error
	LoadPlaylist(ctx context.Context, name string) error
	Shuffle(ctx context.Context) error
	Unshuffle(ctx context.Context) error
	GlobalShuffle(ctx context.Context, enabled bool) error
	Search(ctx context.Context, query string) error
	SearchNow(ctx context.Context, query string) error
	Select(ctx context.Context, index int) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Toggle(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, positionSeconds float64) error
	SetVolume(ctx context.Context, volume float64) error
}

// Config configures the player module.
type Config struct {
	NodeID         string
	TopicBase      string
	Name           string
	SearchMode     string
	CommandTimeout time.Duration
	Clock          ports.Clock
}

// Module exposes a Deck over MQTT and mirrors its state and events.
type Module struct {
	log    *zap.Logger
	client mqttClient
	deck   Deck
	config Config

	cmdTopic   string
	stateTopic string
	evtTopic   string

	// Latest state wins; events queue in order.
	states chan deck.PlayerState
	events chan deck.Event

	wg sync.WaitGroup
}

// NewModule creates a player module.
func NewModule(log *zap.Logger, client mqttClient, d Deck, cfg Config) (*Module, error) {
	if client == nil {
		return nil, errors.New("mqtt client required")
	}
	if d == nil {
		return nil, errors.New("deck required")
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, errors.New("node_id required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("clock required")
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = deck.BaseTopic
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "tunedeck"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Module{
		log:        log,
		client:     client,
		deck:       d,
		config:     cfg,
		cmdTopic:   deck.TopicCommands(cfg.TopicBase, cfg.NodeID),
		stateTopic: deck.TopicState(cfg.TopicBase, cfg.NodeID),
		evtTopic:   deck.TopicEvents(cfg.TopicBase, cfg.NodeID),
		states:     make(chan deck.PlayerState, 1),
		events:     make(chan deck.Event, 32),
	}, nil
}

// Run publishes presence, serves commands and mirrors state until ctx ends.
func (m *Module) Run(ctx context.Context) error {
	if err := m.publishPresence(); err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.publishLoop(ctx)
	}()

	handler := func(_ paho.Client, msg paho.Message) {
		m.handleMessage(ctx, msg.Payload())
	}
	if err := m.client.Subscribe(m.cmdTopic, 1, handler); err != nil {
		return err
	}

	<-ctx.Done()
	_ = m.client.Unsubscribe(m.cmdTopic)
	m.wg.Wait()
	// An empty retained payload clears presence for this node.
	if err := m.client.Publish(deck.TopicPresence(m.config.TopicBase, m.config.NodeID), 1, true, nil); err != nil {
		m.log.Debug("clear presence", zap.Error(err))
	}
	return nil
}

// Render implements session.Bridge.
func (m *Module) Render(songs []deck.Song, highlight int) {
	m.log.Debug("view rendered", zap.Int("songs", len(songs)), zap.Int("highlight", highlight))
	m.enqueueEvent(deck.Event{Type: EventViewChanged, TS: m.config.Clock.NowUnix()})
}

// SetNowPlaying implements session.Bridge.
func (m *Module) SetNowPlaying(np deck.NowPlaying) {
	m.enqueueEvent(deck.Event{Type: EventTrackLoaded, TS: m.config.Clock.NowUnix(), Current: &np})
}

// StateChanged implements session.Bridge.
func (m *Module) StateChanged(state deck.PlayerState) {
	for {
		select {
		case m.states <- state:
			return
		default:
		}
		select {
		case <-m.states:
		default:
		}
	}
}

// Failure implements session.Bridge.
func (m *Module) Failure(err error) {
	m.enqueueEvent(deck.Event{Type: EventFailure, TS: m.config.Clock.NowUnix(), Error: err.Error()})
}

func (m *Module) enqueueEvent(evt deck.Event) {
	select {
	case m.events <- evt:
	default:
		m.log.Warn("event dropped", zap.String("type", evt.Type))
	}
}

func (m *Module) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case state := <-m.states:
			m.publishJSON(m.stateTopic, true, state)
		case evt := <-m.events:
			m.publishJSON(m.evtTopic, false, evt)
		}
	}
}

func (m *Module) publishJSON(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		m.log.Error("marshal", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := m.client.Publish(topic, 1, retained, payload); err != nil {
		m.log.Warn("publish", zap.String("topic", topic), zap.Error(err))
	}
}

func (m *Module) publishPresence() error {
	presence := deck.Presence{
		NodeID: m.config.NodeID,
		Kind:   "player",
		Name:   m.config.Name,
		Caps: map[string]any{
			"search":        m.config.SearchMode,
			"globalShuffle": true,
			"seek":          true,
			"volume":        true,
		},
		TS: m.config.Clock.NowUnix(),
	}
	payload, err := json.Marshal(presence)
	if err != nil {
		return err
	}
	return m.client.Publish(deck.TopicPresence(m.config.TopicBase, m.config.NodeID), 1, true, payload)
}

// slowCommands may wait on the network and are served off the paho callback.
var slowCommands = map[string]bool{
	"catalog.playlists":  true,
	"catalog.refresh":    true,
	"view.loadPlaylist":  true,
	"view.globalShuffle": true,
	"view.search":        true,
	"playback.select":    true,
	"playback.next":      true,
	"playback.prev":      true,
	"playback.play":      true,
	"playback.toggle":    true,
}

func (m *Module) handleMessage(ctx context.Context, payload []byte) {
	var cmd deck.CommandEnvelope
	if err := json.Unmarshal(payload, &cmd); err != nil {
		m.log.Warn("invalid command", zap.Error(err))
		return
	}
	if err := deck.ValidateCommandEnvelope(cmd); err != nil {
		m.log.Warn("invalid command", zap.String("id", cmd.ID), zap.Error(err))
		m.publishReply(cmd.ReplyTo, m.errorReply(cmd, core.CodeInvalid, err.Error()))
		return
	}

	if !slowCommands[cmd.Type] {
		m.serve(ctx, cmd)
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.serve(ctx, cmd)
	}()
}

func (m *Module) serve(ctx context.Context, cmd deck.CommandEnvelope) {
	ctx, cancel := context.WithTimeout(ctx, m.config.CommandTimeout)
	defer cancel()

	log := m.log.With(zap.String("id", cmd.ID), zap.String("type", cmd.Type), zap.String("from", cmd.From))
	started := time.Now()
	reply := m.dispatch(ctx, cmd)
	if reply.Err != nil {
		log.Info("command failed", zap.String("code", reply.Err.Code), zap.String("error", reply.Err.Message))
	} else {
		log.Debug("command served", zap.Duration("took", time.Since(started)))
	}
	m.publishReply(cmd.ReplyTo, reply)
}

func (m *Module) publishReply(replyTo string, reply deck.ReplyEnvelope) {
	if replyTo == "" {
		return
	}
	m.publishJSON(replyTo, false, reply)
}

func (m *Module) dispatch(ctx context.Context, cmd deck.CommandEnvelope) deck.ReplyEnvelope {
	switch cmd.Type {
	case "player.status":
		state, err := m.deck.State(ctx)
		return m.dataReply(cmd, state, err)
	case "view.get":
		v, err := m.deck.View(ctx)
		return m.dataReply(cmd, v, err)
	case "catalog.playlists":
		cards, err := m.deck.Playlists(ctx)
		return m.dataReply(cmd, deck.PlaylistsReply{Playlists: cards}, err)
	case "catalog.refresh":
		var body deck.RefreshBody
		if err := decodeBody(cmd, &body); err != nil {
			return m.failure(cmd, err)
		}
		return m.ackReply(cmd, m.deck.Refresh(ctx, body.Purge))
	case "view.loadPlaylist":
		var body deck.LoadPlaylistBody
		if err := decodeBody(cmd, &body); err != nil {
			return m.failure(cmd, err)
		}
		return m.ackReply(cmd, m.deck.LoadPlaylist(ctx, body.Name))
	case "view.shuffle":
		return m.ackReply(cmd, m.deck.Shuffle(ctx))
	case "view.unshuffle":
		return m.ackReply(cmd, m.deck.Unshuffle(ctx))
	case "view.globalShuffle":
		var body deck.GlobalShuffleBody
		if err := decodeBody(cmd, &body); err != nil {
			return m.failure(cmd, err)
		}
		return m.ackReply(cmd, m.deck.GlobalShuffle(ctx, body.Enabled))
	case "view.search":
		var body deck.SearchBody
		if err := decodeBody(cmd, &body); err != nil {
			return m.failure(cmd, err)
		}
		if body.Immediate {
			return m.ackReply(cmd, m.deck.SearchNow(ctx, body.Query))
		}
		return m.ackReply(cmd, m.deck.Search(ctx, body.Query))
	case "playback.select":
		var body deck.PlaybackSelectBody
		if err := decodeBody(cmd, &body); err != nil {
			return m.failure(cmd, err)
		}
		return m.ackReply(cmd, m.deck.Select(ctx, body.Index))
	case "playback.play":
		return m.ackReply(cmd, m.deck.Play(ctx))
	case "playback.pause":
		return m.ackReply(cmd, m.deck.Pause(ctx))
	case "playback.toggle":
		return m.ackReply(cmd, m.deck.Toggle(ctx))
	case "playback.next":
		return m.ackReply(cmd, m.deck.Next(ctx))
	case "playback.prev":
		return m.ackReply(cmd, m.deck.Previous(ctx))
	case "playback.seek":
		var body deck.PlaybackSeekBody
		if err := decodeBody(cmd, &body); err != nil {
			return m.failure(cmd, err)
		}
		return m.ackReply(cmd, m.deck.Seek(ctx, body.PositionSeconds))
	case "playback.setVolume":
		var body deck.PlaybackSetVolumeBody
		if err := decodeBody(cmd, &body); err != nil {
			return m.failure(cmd, err)
		}
		if body.Volume < 0 || body.Volume > 1 {
			return m.errorReply(cmd, core.CodeInvalid, "volume must be between 0 and 1")
		}
		return m.ackReply(cmd, m.deck.SetVolume(ctx, body.Volume))
	default:
		return m.errorReply(cmd, core.CodeInvalid, fmt.Sprintf("unsupported command %q", cmd.Type))
	}
}

func decodeBody(cmd deck.CommandEnvelope, v any) error {
	if err := json.Unmarshal(cmd.Body, v); err != nil {
		return fmt.Errorf("%w: invalid body: %v", core.ErrInvalidRequest, err)
	}
	return nil
}

func (m *Module) ackReply(cmd deck.CommandEnvelope, err error) deck.ReplyEnvelope {
	if err != nil {
		return m.failure(cmd, err)
	}
	return deck.ReplyEnvelope{ID: cmd.ID, Type: "ack", OK: true, TS: m.config.Clock.NowUnix()}
}

func (m *Module) dataReply(cmd deck.CommandEnvelope, body any, err error) deck.ReplyEnvelope {
	if err != nil {
		return m.failure(cmd, err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return m.errorReply(cmd, core.CodeInternal, err.Error())
	}
	return deck.ReplyEnvelope{ID: cmd.ID, Type: "data", OK: true, TS: m.config.Clock.NowUnix(), Body: payload}
}

func (m *Module) failure(cmd deck.CommandEnvelope, err error) deck.ReplyEnvelope {
	code := core.ReplyCode(err)
	if errors.Is(err, context.DeadlineExceeded) {
		code = core.CodeServiceUnavailable
	}
	return m.errorReply(cmd, code, err.Error())
}

func (m *Module) errorReply(cmd deck.CommandEnvelope, code string, message string) deck.ReplyEnvelope {
	return deck.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "error",
		OK:   false,
		TS:   m.config.Clock.NowUnix(),
		Err:  &deck.ReplyError{Code: code, Message: message},
	}
}
