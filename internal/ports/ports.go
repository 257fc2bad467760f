package ports

import (
	"context"

	"github.com/mikey-austin/tunedeck/pkg/deck"
)

// Broker publishes commands and reads retained state/presence.
type Broker interface {
	ReplyTopic() string
	PublishCommand(ctx context.Context, nodeID string, cmd deck.CommandEnvelope) (deck.ReplyEnvelope, error)
	ListPresence(ctx context.Context) ([]deck.Presence, error)
	GetPlayerState(ctx context.Context, nodeID string) (deck.PlayerState, error)
	WatchPlayer(ctx context.Context, nodeID string) (<-chan deck.PlayerState, <-chan deck.Event, <-chan error)
}

// Clock returns the current time.
type Clock interface {
	NowUnix() int64
	NowMillis() int64
}

// IDGen returns unique correlation IDs.
type IDGen interface {
	NewID() string
}
