package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mikey-austin/tunedeck/internal/adapters/mqttserver"
	"github.com/mikey-austin/tunedeck/internal/core"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

// Options configures the controller side MQTT client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string
	TopicBase string
	Timeout   time.Duration
	// PresenceWait bounds how long retained presence is collected.
	PresenceWait time.Duration
}

// Client implements ports.Broker over MQTT.
type Client struct {
	client       paho.Client
	replyTopic   string
	topicBase    string
	timeout      time.Duration
	presenceWait time.Duration

	mu      sync.Mutex
	pending map[string]chan deck.ReplyEnvelope
}

// NewClient connects and subscribes to the client's reply topic.
func NewClient(opts Options) (*Client, error) {
	if opts.TopicBase == "" {
		opts.TopicBase = deck.BaseTopic
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.PresenceWait == 0 {
		opts.PresenceWait = 250 * time.Millisecond
	}

	c := &Client{
		replyTopic:   deck.TopicReply(opts.TopicBase, opts.ClientID),
		topicBase:    opts.TopicBase,
		timeout:      opts.Timeout,
		presenceWait: opts.PresenceWait,
		pending:      map[string]chan deck.ReplyEnvelope{},
	}

	clientOpts := paho.NewClientOptions().AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(opts.Timeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetOnConnectHandler(func(client paho.Client) {
		client.Subscribe(c.replyTopic, 1, c.handleReply).Wait()
	})

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	tlsConfig, err := mqttserver.BuildTLSConfig(opts.TLSCA, opts.TLSCert, opts.TLSKey)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(clientOpts)
	token := c.client.Connect()
	if !token.WaitTimeout(opts.Timeout) || token.Error() != nil {
		return nil, core.WrapError(core.ExitUnavailable, "broker unreachable", fmt.Errorf("%s: %v", opts.BrokerURL, token.Error()))
	}
	if token := c.client.Subscribe(c.replyTopic, 1, c.handleReply); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return c, nil
}

// ReplyTopic returns the topic used for replies.
func (c *Client) ReplyTopic() string {
	return c.replyTopic
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(100)
}

// PublishCommand publishes a command and waits for its reply. The wait is
// bounded by ctx when it carries a deadline, else by the client timeout.
func (c *Client) PublishCommand(ctx context.Context, nodeID string, cmd deck.CommandEnvelope) (deck.ReplyEnvelope, error) {
	req, err := json.Marshal(cmd)
	if err != nil {
		return deck.ReplyEnvelope{}, fmt.Errorf("marshal command: %w", err)
	}

	replyCh := make(chan deck.ReplyEnvelope, 1)
	c.mu.Lock()
	c.pending[cmd.ID] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	topic := deck.TopicCommands(c.topicBase, nodeID)
	if token := c.client.Publish(topic, 1, false, req); token.Wait() && token.Error() != nil {
		return deck.ReplyEnvelope{}, token.Error()
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()
	select {
	case <-ctx.Done():
		return deck.ReplyEnvelope{}, core.WrapError(core.ExitUnavailable, "timeout waiting for reply", ctx.Err())
	case reply := <-replyCh:
		return reply, nil
	}
}

// ListPresence collects retained presence messages. Cleared presence is skipped.
func (c *Client) ListPresence(ctx context.Context) ([]deck.Presence, error) {
	var mu sync.Mutex
	collect := make(map[string]deck.Presence)

	handler := func(_ paho.Client, msg paho.Message) {
		if len(msg.Payload()) == 0 {
			return
		}
		var presence deck.Presence
		if err := json.Unmarshal(msg.Payload(), &presence); err != nil {
			return
		}
		mu.Lock()
		collect[presence.NodeID] = presence
		mu.Unlock()
	}

	topic := fmt.Sprintf("%s/node/+/presence", c.topicBase)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	defer func() {
		c.client.Unsubscribe(topic).Wait()
	}()

	wait := time.NewTimer(c.presenceWait)
	defer wait.Stop()
	select {
	case <-ctx.Done():
	case <-wait.C:
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]deck.Presence, 0, len(collect))
	for _, presence := range collect {
		out = append(out, presence)
	}
	return out, nil
}

// GetPlayerState returns the retained player state.
func (c *Client) GetPlayerState(ctx context.Context, nodeID string) (deck.PlayerState, error) {
	stateCh := make(chan deck.PlayerState, 1)
	handler := func(_ paho.Client, msg paho.Message) {
		var state deck.PlayerState
		if err := json.Unmarshal(msg.Payload(), &state); err != nil {
			return
		}
		select {
		case stateCh <- state:
		default:
		}
	}

	topic := deck.TopicState(c.topicBase, nodeID)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return deck.PlayerState{}, token.Error()
	}
	defer func() {
		c.client.Unsubscribe(topic).Wait()
	}()

	ctx, cancel := c.bounded(ctx)
	defer cancel()
	select {
	case <-ctx.Done():
		return deck.PlayerState{}, core.WrapError(core.ExitUnavailable, "no state published for "+nodeID, ctx.Err())
	case state := <-stateCh:
		return state, nil
	}
}

// WatchPlayer streams state and events for a player until ctx ends.
func (c *Client) WatchPlayer(ctx context.Context, nodeID string) (<-chan deck.PlayerState, <-chan deck.Event, <-chan error) {
	stateCh := make(chan deck.PlayerState, 8)
	eventCh := make(chan deck.Event, 8)
	errCh := make(chan error, 1)

	// Guards the channels against late deliveries after close.
	var mu sync.Mutex
	closed := false

	stateHandler := func(_ paho.Client, msg paho.Message) {
		var state deck.PlayerState
		if err := json.Unmarshal(msg.Payload(), &state); err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case stateCh <- state:
		default:
		}
	}
	eventHandler := func(_ paho.Client, msg paho.Message) {
		var evt deck.Event
		if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case eventCh <- evt:
		default:
		}
	}

	stateTopic := deck.TopicState(c.topicBase, nodeID)
	eventTopic := deck.TopicEvents(c.topicBase, nodeID)
	filters := map[string]byte{stateTopic: 1, eventTopic: 1}
	token := c.client.SubscribeMultiple(filters, func(client paho.Client, msg paho.Message) {
		if msg.Topic() == stateTopic {
			stateHandler(client, msg)
			return
		}
		eventHandler(client, msg)
	})
	if token.Wait() && token.Error() != nil {
		errCh <- token.Error()
		close(stateCh)
		close(eventCh)
		return stateCh, eventCh, errCh
	}

	go func() {
		<-ctx.Done()
		c.client.Unsubscribe(stateTopic, eventTopic).Wait()
		mu.Lock()
		closed = true
		mu.Unlock()
		close(stateCh)
		close(eventCh)
		close(errCh)
	}()

	return stateCh, eventCh, errCh
}

func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) handleReply(_ paho.Client, msg paho.Message) {
	var reply deck.ReplyEnvelope
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[reply.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- reply:
	default:
	}
}
