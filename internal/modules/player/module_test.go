package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/tunedeck/internal/core"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

const testNode = "tunedeck:player:test"

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeMQTTClient struct {
	mu   sync.Mutex
	subs map[string]paho.MessageHandler
	out  chan published
}

func newFakeMQTTClient() *fakeMQTTClient {
	return &fakeMQTTClient{subs: map[string]paho.MessageHandler{}, out: make(chan published, 64)}
}

func (f *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.out <- published{topic: topic, retained: retained, payload: payload}
	return nil
}

func (f *fakeMQTTClient) Subscribe(topic string, qos byte, handler paho.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = handler
	return nil
}

func (f *fakeMQTTClient) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, topic)
	return nil
}

func (f *fakeMQTTClient) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[topic]
	return ok
}

func (f *fakeMQTTClient) emit(topic string, payload []byte) {
	f.mu.Lock()
	handler := f.subs[topic]
	f.mu.Unlock()
	if handler != nil {
		handler(nil, fakeMessage{topic: topic, payload: payload})
	}
}

// next returns the next publish on topic, skipping others.
func (f *fakeMQTTClient) next(t *testing.T, topic string) published {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case p := <-f.out:
			if p.topic == topic {
				return p
			}
		case <-deadline:
			t.Fatalf("timeout waiting for publish on %s", topic)
		}
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fixedClock struct{}

func (fixedClock) NowUnix() int64   { return 1700000000 }
func (fixedClock) NowMillis() int64 { return 1700000000000 }

type fakeDeck struct {
	mu    sync.Mutex
	calls []string
	err   error
	state deck.PlayerState
}

func (d *fakeDeck) record(call string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	return d.err
}

func (d *fakeDeck) lastCall() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.calls) == 0 {
		return ""
	}
	return d.calls[len(d.calls)-1]
}

func (d *fakeDeck) State(context.Context) (deck.PlayerState, error) {
	return d.state, d.record("state")
}

func (d *fakeDeck) View(context.Context) (deck.ViewGetReply, error) {
	index := 1
	return deck.ViewGetReply{Label: "Rock", Kind: "linear", Index: &index, Songs: []deck.Song{{Title: "a.mp3"}, {Title: "b.mp3"}}}, d.record("view")
}

func (d *fakeDeck) Playlists(context.Context) ([]deck.PlaylistCard, error) {
	return []deck.PlaylistCard{{Name: "Rock", Songs: 2}}, d.record("playlists")
}

func (d *fakeDeck) Refresh(_ context.Context, purge bool) error {
	return d.record(fmt.Sprintf("refresh:%t", purge))
}

func (d *fakeDeck) LoadPlaylist(_ context.Context, name string) error {
	return d.record("load:" + name)
}

func (d *fakeDeck) Shuffle(context.Context) error   { return d.record("shuffle") }
func (d *fakeDeck) Unshuffle(context.Context) error { return d.record("unshuffle") }

func (d *fakeDeck) GlobalShuffle(_ context.Context, enabled bool) error {
	return d.record(fmt.Sprintf("global:%t", enabled))
}

func (d *fakeDeck) Search(_ context.Context, query string) error {
	return d.record("search:" + query)
}

func (d *fakeDeck) SearchNow(_ context.Context, query string) error {
	return d.record("searchNow:" + query)
}

func (d *fakeDeck) Select(_ context.Context, index int) error {
	return d.record(fmt.Sprintf("select:%d", index))
}

func (d *fakeDeck) Play(context.Context) error     { return d.record("play") }
func (d *fakeDeck) Pause(context.Context) error    { return d.record("pause") }
func (d *fakeDeck) Toggle(context.Context) error   { return d.record("toggle") }
func (d *fakeDeck) Next(context.Context) error     { return d.record("next") }
func (d *fakeDeck) Previous(context.Context) error { return d.record("prev") }

func (d *fakeDeck) Seek(_ context.Context, pos float64) error {
	return d.record(fmt.Sprintf("seek:%.1f", pos))
}

func (d *fakeDeck) SetVolume(_ context.Context, volume float64) error {
	return d.record(fmt.Sprintf("volume:%.2f", volume))
}

func newTestModule(t *testing.T, d Deck) (*Module, *fakeMQTTClient) {
	t.Helper()
	client := newFakeMQTTClient()
	mod, err := NewModule(zap.NewNop(), client, d, Config{NodeID: testNode, Clock: fixedClock{}, SearchMode: "local"})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	return mod, client
}

func command(t *testing.T, cmdType string, body any) deck.CommandEnvelope {
	t.Helper()
	cmd, err := deck.NewCommand(cmdType, body)
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	cmd.ID = "cmd-1"
	cmd.TS = 1700000000
	cmd.From = "tester"
	cmd.ReplyTo = deck.TopicReply(deck.BaseTopic, "tester")
	return cmd
}

func TestNewModuleValidates(t *testing.T) {
	if _, err := NewModule(zap.NewNop(), newFakeMQTTClient(), &fakeDeck{}, Config{Clock: fixedClock{}}); err == nil {
		t.Fatalf("expected node_id error")
	}
	if _, err := NewModule(zap.NewNop(), newFakeMQTTClient(), &fakeDeck{}, Config{NodeID: testNode}); err == nil {
		t.Fatalf("expected clock error")
	}
}

func TestDispatchMapsCommandsToDeck(t *testing.T) {
	d := &fakeDeck{}
	mod, _ := newTestModule(t, d)

	cases := []struct {
		cmdType string
		body    any
		call    string
	}{
		{"view.loadPlaylist", deck.LoadPlaylistBody{Name: "Jazz"}, "load:Jazz"},
		{"view.shuffle", deck.EmptyBody{}, "shuffle"},
		{"view.unshuffle", deck.EmptyBody{}, "unshuffle"},
		{"view.globalShuffle", deck.GlobalShuffleBody{Enabled: true}, "global:true"},
		{"view.search", deck.SearchBody{Query: "blue"}, "search:blue"},
		{"view.search", deck.SearchBody{Query: "blue", Immediate: true}, "searchNow:blue"},
		{"catalog.refresh", deck.RefreshBody{Purge: true}, "refresh:true"},
		{"playback.select", deck.PlaybackSelectBody{Index: 3}, "select:3"},
		{"playback.play", deck.EmptyBody{}, "play"},
		{"playback.pause", deck.EmptyBody{}, "pause"},
		{"playback.toggle", deck.EmptyBody{}, "toggle"},
		{"playback.next", deck.EmptyBody{}, "next"},
		{"playback.prev", deck.EmptyBody{}, "prev"},
		{"playback.seek", deck.PlaybackSeekBody{PositionSeconds: 42}, "seek:42.0"},
		{"playback.setVolume", deck.PlaybackSetVolumeBody{Volume: 0.5}, "volume:0.50"},
	}
	for _, tc := range cases {
		reply := mod.dispatch(context.Background(), command(t, tc.cmdType, tc.body))
		if !reply.OK || reply.Type != "ack" {
			t.Fatalf("%s: expected ack, got %+v", tc.cmdType, reply)
		}
		if got := d.lastCall(); got != tc.call {
			t.Fatalf("%s: expected call %q, got %q", tc.cmdType, tc.call, got)
		}
	}
}

func TestDispatchDataReplies(t *testing.T) {
	d := &fakeDeck{state: deck.PlayerState{View: &deck.ViewState{Label: "Rock"}, TS: 1}}
	mod, _ := newTestModule(t, d)

	reply := mod.dispatch(context.Background(), command(t, "player.status", deck.EmptyBody{}))
	if reply.Type != "data" {
		t.Fatalf("expected data reply, got %s", reply.Type)
	}
	var state deck.PlayerState
	if err := json.Unmarshal(reply.Body, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.View == nil || state.View.Label != "Rock" {
		t.Fatalf("unexpected state %+v", state)
	}

	reply = mod.dispatch(context.Background(), command(t, "view.get", deck.EmptyBody{}))
	var v deck.ViewGetReply
	if err := json.Unmarshal(reply.Body, &v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if len(v.Songs) != 2 || v.Index == nil || *v.Index != 1 {
		t.Fatalf("unexpected view %+v", v)
	}

	reply = mod.dispatch(context.Background(), command(t, "catalog.playlists", deck.EmptyBody{}))
	var pl deck.PlaylistsReply
	if err := json.Unmarshal(reply.Body, &pl); err != nil {
		t.Fatalf("decode playlists: %v", err)
	}
	if len(pl.Playlists) != 1 || pl.Playlists[0].Name != "Rock" {
		t.Fatalf("unexpected playlists %+v", pl)
	}
}

func TestDispatchErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"not found", fmt.Errorf("songs Rock: %w", core.ErrNotFound), core.CodeNotFound},
		{"unavailable", fmt.Errorf("list: %w", core.ErrServiceUnavailable), core.CodeServiceUnavailable},
		{"superseded", core.ErrSuperseded, core.CodeSuperseded},
		{"empty", core.ErrEmptyView, core.CodeEmptyView},
		{"rejected", core.ErrPlaybackRejected, core.CodePlaybackRejected},
		{"timeout", context.DeadlineExceeded, core.CodeServiceUnavailable},
		{"other", errors.New("boom"), core.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mod, _ := newTestModule(t, &fakeDeck{err: tc.err})
			reply := mod.dispatch(context.Background(), command(t, "playback.next", deck.EmptyBody{}))
			if reply.OK || reply.Err == nil {
				t.Fatalf("expected error reply")
			}
			if reply.Err.Code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, reply.Err.Code)
			}
		})
	}
}

func TestDispatchRejectsBadInput(t *testing.T) {
	mod, _ := newTestModule(t, &fakeDeck{})

	reply := mod.dispatch(context.Background(), command(t, "playback.setVolume", deck.PlaybackSetVolumeBody{Volume: 1.5}))
	if reply.Err == nil || reply.Err.Code != core.CodeInvalid {
		t.Fatalf("expected invalid volume")
	}

	reply = mod.dispatch(context.Background(), command(t, "queue.set", deck.EmptyBody{}))
	if reply.Err == nil || reply.Err.Code != core.CodeInvalid {
		t.Fatalf("expected unsupported command")
	}

	cmd := command(t, "playback.select", deck.EmptyBody{})
	cmd.Body = json.RawMessage(`{"index":"x"}`)
	reply = mod.dispatch(context.Background(), cmd)
	if reply.Err == nil || reply.Err.Code != core.CodeInvalid {
		t.Fatalf("expected invalid body")
	}
}

func TestStateChangedKeepsLatest(t *testing.T) {
	mod, _ := newTestModule(t, &fakeDeck{})
	mod.StateChanged(deck.PlayerState{StateVersion: 1})
	mod.StateChanged(deck.PlayerState{StateVersion: 2})
	mod.StateChanged(deck.PlayerState{StateVersion: 3})

	state := <-mod.states
	if state.StateVersion != 3 {
		t.Fatalf("expected latest state, got %d", state.StateVersion)
	}
	select {
	case <-mod.states:
		t.Fatalf("expected a single pending state")
	default:
	}
}

func TestRunServesCommandsAndMirrorsState(t *testing.T) {
	d := &fakeDeck{}
	mod, client := newTestModule(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mod.Run(ctx) }()

	presence := client.next(t, deck.TopicPresence(deck.BaseTopic, testNode))
	if !presence.retained {
		t.Fatalf("presence must be retained")
	}
	var p deck.Presence
	if err := json.Unmarshal(presence.payload, &p); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if p.Kind != "player" || p.NodeID != testNode {
		t.Fatalf("unexpected presence %+v", p)
	}

	cmdTopic := deck.TopicCommands(deck.BaseTopic, testNode)
	deadline := time.Now().Add(time.Second)
	for !client.subscribed(cmdTopic) {
		if time.Now().After(deadline) {
			t.Fatalf("module never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cmd := command(t, "view.loadPlaylist", deck.LoadPlaylistBody{Name: "Rock"})
	payload, _ := json.Marshal(cmd)
	client.emit(cmdTopic, payload)

	replyMsg := client.next(t, cmd.ReplyTo)
	var reply deck.ReplyEnvelope
	if err := json.Unmarshal(replyMsg.payload, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !reply.OK || reply.ID != "cmd-1" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if d.lastCall() != "load:Rock" {
		t.Fatalf("expected load call, got %q", d.lastCall())
	}

	mod.StateChanged(deck.PlayerState{StateVersion: 7})
	stateMsg := client.next(t, deck.TopicState(deck.BaseTopic, testNode))
	if !stateMsg.retained {
		t.Fatalf("state must be retained")
	}

	mod.SetNowPlaying(deck.NowPlaying{Title: "Song", Playlist: "Rock"})
	evtMsg := client.next(t, deck.TopicEvents(deck.BaseTopic, testNode))
	var evt deck.Event
	if err := json.Unmarshal(evtMsg.payload, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != EventTrackLoaded || evt.Current == nil || evt.Current.Title != "Song" {
		t.Fatalf("unexpected event %+v", evt)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	cleared := client.next(t, deck.TopicPresence(deck.BaseTopic, testNode))
	if len(cleared.payload) != 0 {
		t.Fatalf("expected presence to be cleared")
	}
}

func TestInvalidEnvelopeGetsErrorReply(t *testing.T) {
	mod, client := newTestModule(t, &fakeDeck{})
	cmd := command(t, "playback.play", deck.EmptyBody{})
	cmd.From = ""
	payload, _ := json.Marshal(cmd)

	mod.handleMessage(context.Background(), payload)

	msg := client.next(t, cmd.ReplyTo)
	var reply deck.ReplyEnvelope
	if err := json.Unmarshal(msg.payload, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Err == nil || reply.Err.Code != core.CodeInvalid {
		t.Fatalf("expected invalid reply, got %+v", reply)
	}
}
