package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/mikey-austin/tunedeck/internal/ports"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

// NodePrefix starts every fully qualified node id.
const NodePrefix = "tunedeck:"

// Resolver resolves selectors to node presence.
type Resolver struct {
	Presence ports.Broker
	Config   Config
}

// ResolvePlayer resolves a player selector using config defaults. With no
// selector and no default, a single visible player is chosen.
func (r Resolver) ResolvePlayer(ctx context.Context, selector string) (deck.Presence, error) {
	if selector == "" {
		selector = r.Config.Defaults.Player
	}

	presence, err := r.Presence.ListPresence(ctx)
	if err != nil {
		return deck.Presence{}, WrapError(ExitRuntime, "list presence", err)
	}

	players := lo.Filter(presence, func(p deck.Presence, _ int) bool { return p.Kind == "player" })
	if selector == "" {
		switch len(players) {
		case 1:
			return players[0], nil
		case 0:
			return deck.Presence{}, &CLIError{Code: ExitUnavailable, Msg: "no players online"}
		default:
			return deck.Presence{}, &CLIError{Code: ExitUsage, Msg: "player selector required: " + suggestionList(players)}
		}
	}
	return resolveSelector(selector, players, r.Config.Aliases)
}

func resolveSelector(selector string, presence []deck.Presence, aliases map[string]string) (deck.Presence, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return deck.Presence{}, &CLIError{Code: ExitUsage, Msg: "selector required"}
	}

	if alias, ok := aliases[selector]; ok {
		selector = alias
	}
	if strings.HasPrefix(selector, NodePrefix) {
		return resolveExact(selector, presence)
	}

	matches := lo.Filter(presence, func(p deck.Presence, _ int) bool {
		return strings.EqualFold(p.Name, selector) || strings.EqualFold(p.NodeID, selector)
	})
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return deck.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("no match for %q", selector)}
	default:
		return deck.Presence{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("ambiguous selector %q: %s", selector, suggestionList(matches))}
	}
}

func resolveExact(nodeID string, presence []deck.Presence) (deck.Presence, error) {
	if p, ok := lo.Find(presence, func(p deck.Presence) bool { return p.NodeID == nodeID }); ok {
		return p, nil
	}
	return deck.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("node not found: %s", nodeID)}
}

func suggestionList(matches []deck.Presence) string {
	names := lo.Map(matches, func(p deck.Presence, _ int) string {
		return fmt.Sprintf("%s (%s)", p.Name, p.NodeID)
	})
	sort.Strings(names)
	return strings.Join(names, ", ")
}
