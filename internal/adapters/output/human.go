package output

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/tunedeck/internal/core"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

// HumanPrinter prints tables and one-line summaries.
type HumanPrinter struct {
	Out io.Writer
}

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	switch data := v.(type) {
	case core.NodesResult:
		return p.printNodes(data)
	case core.StatusResult:
		return p.line(formatStatus(data.Player.Name, data.State))
	case deck.PlayerState:
		return p.line(formatStatus("", data))
	case deck.Event:
		return p.line(formatEvent(data))
	case core.PlaylistsResult:
		return p.printPlaylists(data)
	case core.ViewResult:
		return p.printView(data)
	default:
		return p.line("ok")
	}
}

func (p HumanPrinter) writer() io.Writer {
	if p.Out == nil {
		return os.Stdout
	}
	return p.Out
}

func (p HumanPrinter) line(s string) error {
	_, err := fmt.Fprintln(p.writer(), s)
	return err
}

func (p HumanPrinter) table(data pterm.TableData) error {
	return pterm.DefaultTable.WithHasHeader().WithWriter(p.writer()).WithData(data).Render()
}

func (p HumanPrinter) printNodes(result core.NodesResult) error {
	data := pterm.TableData{{"NAME", "KIND", "NODE_ID"}}
	for _, node := range result.Nodes {
		data = append(data, []string{node.Name, node.Kind, node.NodeID})
	}
	return p.table(data)
}

func (p HumanPrinter) printPlaylists(result core.PlaylistsResult) error {
	data := pterm.TableData{{"NAME", "SONGS", "DESCRIPTION"}}
	for _, card := range result.Playlists {
		data = append(data, []string{card.Name, strconv.Itoa(card.Songs), truncate(card.Description, 60)})
	}
	return p.table(data)
}

func (p HumanPrinter) printView(result core.ViewResult) error {
	view := result.View
	header := pterm.Bold.Sprintf("%s", view.Label)
	if view.Kind != "" && view.Kind != "linear" {
		header += " (" + view.Kind + ")"
	}
	if err := p.line(header); err != nil {
		return err
	}
	if len(view.Songs) == 0 {
		return p.line("(empty)")
	}

	data := pterm.TableData{{"", "#", "TITLE", "PLAYLIST"}}
	for i, song := range view.Songs {
		marker := ""
		if view.Index != nil && *view.Index == i {
			marker = "▶"
		}
		data = append(data, []string{marker, strconv.Itoa(i + 1), deck.DisplayTitle(song.Title), song.Playlist})
	}
	return p.table(data)
}

func formatStatus(name string, state deck.PlayerState) string {
	status := "unknown"
	position := ""
	volume := ""
	item := ""
	view := ""

	if pb := state.Playback; pb != nil {
		status = pb.Status
		position = formatPosition(pb.PositionSeconds, pb.DurationSeconds)
		volume = fmt.Sprintf("vol %d%%", int(math.Round(pb.Volume*100)))
	}
	if cur := state.Current; cur != nil {
		item = cur.Title
		if cur.Playlist != "" {
			item = fmt.Sprintf("%s · %s", cur.Title, cur.Playlist)
		}
	}
	if v := state.View; v != nil {
		view = fmt.Sprintf("[%s %d/%d]", v.Label, v.Length, v.OriginalLength)
	}

	parts := []string{}
	if name != "" {
		parts = append(parts, pterm.Bold.Sprint(name))
	}
	parts = append(parts, "["+status+"]", item, position, volume, view)
	return strings.Join(nonEmpty(parts), "  ")
}

func formatEvent(evt deck.Event) string {
	switch {
	case evt.Error != "":
		return fmt.Sprintf("%s: %s", evt.Type, evt.Error)
	case evt.Current != nil:
		return fmt.Sprintf("%s: %s", evt.Type, evt.Current.Title)
	default:
		return evt.Type
	}
}

func formatPosition(pos, dur float64) string {
	if pos <= 0 && dur <= 0 {
		return ""
	}
	if dur > 0 {
		return fmt.Sprintf("%s / %s (%d%%)", formatSeconds(pos), formatSeconds(dur), int(pos*100/dur))
	}
	return formatSeconds(pos)
}

func formatSeconds(secs float64) string {
	if secs <= 0 {
		return "0:00"
	}
	s := int64(secs)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
