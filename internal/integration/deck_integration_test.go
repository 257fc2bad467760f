//go:build integration
// +build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/tunedeck/internal/adapters/cachestore"
	"github.com/mikey-austin/tunedeck/internal/adapters/catalog"
	"github.com/mikey-austin/tunedeck/internal/adapters/clock"
	"github.com/mikey-austin/tunedeck/internal/adapters/idgen"
	"github.com/mikey-austin/tunedeck/internal/adapters/mqtt"
	"github.com/mikey-austin/tunedeck/internal/adapters/mqttserver"
	"github.com/mikey-austin/tunedeck/internal/adapters/sink"
	"github.com/mikey-austin/tunedeck/internal/core"
	embeddedmqtt "github.com/mikey-austin/tunedeck/internal/modules/embedded_mqtt"
	"github.com/mikey-austin/tunedeck/internal/modules/player"
	"github.com/mikey-austin/tunedeck/internal/session"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

type integrationOptions struct {
	allowAnonymous bool
	username       string
	password       string
}

type integrationHarness struct {
	ctx        context.Context
	brokerURL  string
	playerNode string
	client     *mqtt.Client
	service    core.Service
}

var catalogSongs = map[string][]deck.Song{
	"Rock": {
		{Title: "01 - Opener.mp3", URL: "/songs/Rock/a.mp3"},
		{Title: "02 - Closer.mp3", URL: "/songs/Rock/b.mp3"},
	},
	"Jazz": {
		{Title: "Blue.mp3", URL: "/songs/Jazz/blue.mp3"},
	},
}

func TestPlayerIntegration(t *testing.T) {
	h := setupIntegration(t)
	ctx := h.ctx

	nodes, err := h.service.ListNodes(ctx, "player")
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if len(nodes.Nodes) != 1 || nodes.Nodes[0].NodeID != h.playerNode {
		t.Fatalf("expected player node %s, got %+v", h.playerNode, nodes.Nodes)
	}

	playlists, err := h.service.Playlists(ctx, "")
	if err != nil {
		t.Fatalf("playlists: %v", err)
	}
	if len(playlists.Playlists) != 2 {
		t.Fatalf("expected 2 playlists, got %+v", playlists.Playlists)
	}

	// The first playlist is opened on start.
	waitForView(t, h, "Rock", 2)

	if err := h.service.Select(ctx, "", 2); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := h.service.Play(ctx, ""); err != nil {
		t.Fatalf("play: %v", err)
	}
	status, err := h.service.Status(ctx, "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State.Playback == nil || status.State.Playback.Status != "playing" {
		t.Fatalf("expected playing, got %+v", status.State.Playback)
	}
	if status.State.Current == nil || status.State.Current.Title != "02 - Closer.mp3" {
		t.Fatalf("expected second track current, got %+v", status.State.Current)
	}

	if err := h.service.SetVolume(ctx, "", "25"); err != nil {
		t.Fatalf("volume: %v", err)
	}
	if err := h.service.SetVolume(ctx, "", "+5"); err != nil {
		t.Fatalf("volume delta: %v", err)
	}
	status, err = h.service.Status(ctx, "")
	if err != nil {
		t.Fatalf("status after volume: %v", err)
	}
	if got := status.State.Playback.Volume; got < 0.29 || got > 0.31 {
		t.Fatalf("expected volume 0.30, got %v", got)
	}

	if err := h.service.LoadPlaylist(ctx, "", "Jazz"); err != nil {
		t.Fatalf("load playlist: %v", err)
	}
	view, err := h.service.View(ctx, "")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.View.Label != "Jazz" || len(view.View.Songs) != 1 {
		t.Fatalf("unexpected view: %+v", view.View)
	}

	if err := h.service.Search(ctx, "", "zzz", true); core.ExitCode(err) != core.ExitNotFound {
		t.Fatalf("expected not found for empty search, got %v", err)
	}
}

func TestPlayerWatchStreamsState(t *testing.T) {
	h := setupIntegration(t)
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	waitForView(t, h, "Rock", 2)
	states, events, _, err := h.service.WatchStatus(ctx, "")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := h.service.Next(h.ctx, ""); err != nil {
		t.Fatalf("next: %v", err)
	}

	deadline := time.After(4 * time.Second)
	sawState, sawEvent := false, false
	for !sawState || !sawEvent {
		select {
		case state := <-states:
			if state.Playback != nil && state.Playback.Status == "playing" {
				sawState = true
			}
		case evt := <-events:
			if evt.Type == player.EventTrackLoaded {
				sawEvent = true
			}
		case <-deadline:
			t.Fatalf("timed out: state=%t event=%t", sawState, sawEvent)
		}
	}
}

func TestInvalidCommandReturnsError(t *testing.T) {
	h := setupIntegration(t)

	cmd, err := deck.NewCommand("playback.rewind", deck.EmptyBody{})
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	reply := publishCommand(t, h, cmd)
	if reply.Type != "error" || reply.Err == nil || reply.Err.Code != core.CodeInvalid {
		t.Fatalf("expected invalid error reply, got %+v", reply)
	}
}

func TestEmbeddedMQTTAuth(t *testing.T) {
	h := setupIntegrationWithOptions(t, integrationOptions{
		allowAnonymous: false,
		username:       "deck",
		password:       "secret",
	})
	if _, err := h.service.Status(h.ctx, ""); err != nil {
		t.Fatalf("status with credentials: %v", err)
	}

	_, err := mqtt.NewClient(mqtt.Options{
		BrokerURL: h.brokerURL,
		ClientID:  "anonymous-" + idgen.Generator{}.NewID(),
		Timeout:   500 * time.Millisecond,
	})
	if err == nil {
		t.Fatalf("expected anonymous connection to be refused")
	}
}

func setupIntegration(t *testing.T) *integrationHarness {
	return setupIntegrationWithOptions(t, integrationOptions{allowAnonymous: true})
}

func setupIntegrationWithOptions(t *testing.T, opts integrationOptions) *integrationHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zap.NewNop()
	catalogServer := httptest.NewServer(catalogHandler(t))
	t.Cleanup(catalogServer.Close)

	listen := freeListenAddr(t)
	brokerURL := embeddedmqtt.BrokerURL(listen, false)
	mqttModule, err := embeddedmqtt.NewModule(logger, embeddedmqtt.Config{
		Listen:         listen,
		AllowAnonymous: opts.allowAnonymous,
		Username:       opts.username,
		Password:       opts.password,
		TopicBase:      deck.BaseTopic,
	})
	if err != nil {
		t.Fatalf("embedded mqtt module: %v", err)
	}
	runModule(t, ctx, "embedded_mqtt", mqttModule.Run)
	if err := embeddedmqtt.WaitReady(ctx, listen, 3*time.Second); err != nil {
		t.Fatalf("broker ready: %v", err)
	}

	playerNode := fmt.Sprintf("tunedeck:player:%s", idgen.Generator{}.NewID())
	serverClient, err := mqttserver.NewClient(mqttserver.Options{
		BrokerURL:   brokerURL,
		ClientID:    "tunedeckd-" + idgen.Generator{}.NewID(),
		Username:    opts.username,
		Password:    opts.password,
		Timeout:     2 * time.Second,
		WillTopic:   deck.TopicPresence(deck.BaseTopic, playerNode),
		WillPayload: []byte{},
	})
	if err != nil {
		t.Fatalf("mqtt server client: %v", err)
	}
	t.Cleanup(serverClient.Close)

	cat, err := catalog.New(logger, catalog.Config{BaseURL: catalogServer.URL + "/api"}, catalogServer.Client())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	cache, err := cachestore.New(t.TempDir(), "test", clock.Clock{}, logger)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	sess, err := session.New(logger, cat, cache, sink.NewNull(time.Hour), session.Config{
		SearchDebounce: 20 * time.Millisecond,
		RefreshDelay:   time.Hour,
		Clock:          clock.Clock{},
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	mod, err := player.NewModule(logger, serverClient, sess, player.Config{
		NodeID:    playerNode,
		TopicBase: deck.BaseTopic,
		Name:      "Integration",
		Clock:     clock.Clock{},
	})
	if err != nil {
		t.Fatalf("player module: %v", err)
	}
	sess.AddBridge(mod)
	runModule(t, ctx, "session", sess.Run)
	runModule(t, ctx, "player", mod.Run)

	client, err := mqtt.NewClient(mqtt.Options{
		BrokerURL: brokerURL,
		ClientID:  "tunedeck-" + idgen.Generator{}.NewID(),
		Username:  opts.username,
		Password:  opts.password,
		TopicBase: deck.BaseTopic,
		Timeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("mqtt client: %v", err)
	}
	t.Cleanup(client.Close)

	cfg := core.Config{
		Identity:  "integration",
		TopicBase: deck.BaseTopic,
		Defaults:  core.Defaults{Player: playerNode},
	}
	h := &integrationHarness{
		ctx:        ctx,
		brokerURL:  brokerURL,
		playerNode: playerNode,
		client:     client,
		service: core.Service{
			Broker:   client,
			Resolver: core.Resolver{Presence: client, Config: cfg},
			Clock:    clock.Clock{},
			IDGen:    idgen.Generator{},
			Config:   cfg,
		},
	}
	waitForPresence(t, client, playerNode)
	return h
}

func catalogHandler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/playlists", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []string{"Rock", "Jazz"})
	})
	mux.HandleFunc("GET /api/songs/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		songs, ok := catalogSongs[name]
		if !ok {
			http.Error(w, `{"error":"Playlist not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(t, w, deck.SongsReply{Playlist: name, Songs: songs})
	})
	mux.HandleFunc("GET /api/songs/global/shuffle", func(w http.ResponseWriter, r *http.Request) {
		var all []deck.Song
		for name, songs := range catalogSongs {
			for _, song := range songs {
				song.Playlist = name
				all = append(all, song)
			}
		}
		writeJSON(t, w, deck.GlobalReply{Playlist: "All Songs (Shuffled)", Songs: all, Shuffled: true, Global: true})
	})
	return mux
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func runModule(t *testing.T, ctx context.Context, name string, run func(context.Context) error) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- run(ctx)
	}()
	t.Cleanup(func() {
		select {
		case err := <-done:
			if err != nil && err != context.Canceled {
				t.Logf("%s exited: %v", name, err)
			}
		case <-time.After(2 * time.Second):
			t.Logf("%s did not stop", name)
		}
	})
}

func waitForPresence(t *testing.T, client *mqtt.Client, nodeID string) {
	t.Helper()
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		presence, err := client.ListPresence(context.Background())
		if err == nil {
			for _, p := range presence {
				if p.NodeID == nodeID {
					return
				}
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for presence: %s", nodeID)
}

func waitForView(t *testing.T, h *integrationHarness, label string, songs int) {
	t.Helper()
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		view, err := h.service.View(h.ctx, "")
		if err == nil && view.View.Label == label && len(view.View.Songs) == songs {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for view %q", label)
}

func publishCommand(t *testing.T, h *integrationHarness, cmd deck.CommandEnvelope) deck.ReplyEnvelope {
	t.Helper()
	cmd.ID = idgen.Generator{}.NewID()
	cmd.TS = clock.Clock{}.NowUnix()
	cmd.From = "integration"
	cmd.ReplyTo = h.client.ReplyTopic()

	ctx, cancel := context.WithTimeout(h.ctx, 2*time.Second)
	defer cancel()
	reply, err := h.client.PublishCommand(ctx, h.playerNode, cmd)
	if err != nil {
		t.Fatalf("publish command: %v", err)
	}
	return reply
}

func freeListenAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}
