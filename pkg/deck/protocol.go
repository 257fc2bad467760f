package deck

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BaseTopic is the default MQTT topic prefix for the protocol.
const BaseTopic = "tunedeck/v1"

// CommandEnvelope is the common controller command envelope for MQTT.
type CommandEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	From    string          `json:"from"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Body    json.RawMessage `json:"body"`
}

// ReplyEnvelope is the response envelope for commands.
type ReplyEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	OK   bool            `json:"ok"`
	TS   int64           `json:"ts"`
	Body json.RawMessage `json:"body,omitempty"`
	Err  *ReplyError     `json:"err,omitempty"`
}

// ReplyError describes an error response.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Presence describes a node presence payload.
type Presence struct {
	NodeID string         `json:"nodeId"`
	Kind   string         `json:"kind"`
	Name   string         `json:"name"`
	Caps   map[string]any `json:"caps,omitempty"`
	TS     int64          `json:"ts"`
}

// PlayerState captures the retained state of a player node.
type PlayerState struct {
	View         *ViewState     `json:"view,omitempty"`
	Playback     *PlaybackState `json:"playback,omitempty"`
	Current      *NowPlaying    `json:"current,omitempty"`
	Catalog      *CatalogState  `json:"catalog,omitempty"`
	StateVersion int64          `json:"stateVersion,omitempty"`
	TS           int64          `json:"ts"`
}

// ViewState summarises the active view.
type ViewState struct {
	Label          string `json:"label"`
	Kind           string `json:"kind"`
	Length         int    `json:"length"`
	OriginalLength int    `json:"originalLength"`
}

// PlaybackState describes transport status and properties.
type PlaybackState struct {
	Status          string  `json:"status"`
	Index           *int    `json:"index,omitempty"`
	PositionSeconds float64 `json:"positionSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
	Volume          float64 `json:"volume"`
}

// NowPlaying is the metadata shown for the loaded track.
type NowPlaying struct {
	Title    string `json:"title"`
	Playlist string `json:"playlist"`
	CoverURL string `json:"coverUrl,omitempty"`
	URL      string `json:"url"`
}

// CatalogState reports the flattened catalog held by the player.
type CatalogState struct {
	Songs     int   `json:"songs"`
	Warm      bool  `json:"warm"`
	FetchedAt int64 `json:"fetchedAt,omitempty"`
}

// Event is a player event payload.
type Event struct {
	Type    string      `json:"type"`
	TS      int64       `json:"ts"`
	Current *NowPlaying `json:"current,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// NewCommand builds a command envelope with a JSON body.
func NewCommand(cmdType string, body any) (CommandEnvelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return CommandEnvelope{}, fmt.Errorf("marshal body: %w", err)
	}

	return CommandEnvelope{
		Type: cmdType,
		Body: payload,
	}, nil
}

// ValidateCommandEnvelope validates required fields.
func ValidateCommandEnvelope(cmd CommandEnvelope) error {
	if strings.TrimSpace(cmd.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(cmd.Type) == "" {
		return errors.New("type is required")
	}
	if cmd.TS <= 0 {
		return errors.New("ts must be a positive unix timestamp")
	}
	if strings.TrimSpace(cmd.From) == "" {
		return errors.New("from is required")
	}
	if len(cmd.Body) == 0 {
		return errors.New("body is required")
	}
	return nil
}

// TopicPresence builds the presence topic for a node.
func TopicPresence(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/presence", topicBase, nodeID)
}

// TopicState builds the state topic for a node.
func TopicState(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/state", topicBase, nodeID)
}

// TopicCommands builds the command topic for a node.
func TopicCommands(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/cmd", topicBase, nodeID)
}

// TopicEvents builds the events topic for a node.
func TopicEvents(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/evt", topicBase, nodeID)
}

// TopicReply builds the reply topic for a controller instance.
func TopicReply(topicBase, controllerID string) string {
	return fmt.Sprintf("%s/reply/%s", topicBase, controllerID)
}
