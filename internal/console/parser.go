// Package console implements spec.md's §4.D component: a stateless,
// regex-based classifier that turns raw console log lines into typed
// events, plus the G15 dump parser. Each recognized pattern becomes a
// Message usable directly with internal/eventloop; messages that affect
// the match model implement Apply(*match.State).
package console

import (
	"regexp"
	"strconv"
	"strings"

	"macagent/internal/eventloop"
	"macagent/internal/match"
)

var (
	statusLineRe = regexp.MustCompile(`^#\s*(\d+)\s+"(.*)"\s+\[U:1:(\d+)\]\s+(\d+):(\d+)\s+(\d+)\s+(\d+)\s+(\S+)\s*$`)
	chatLineRe   = regexp.MustCompile(`^(\*DEAD\*)?\s*(\(TEAM\))?\s*(.+?)\s*:\s{2}(.*)$`)
	killLineRe   = regexp.MustCompile(`^(.+?) killed (.+?) with (\S+)\.(\s*\(crit\))?\s*$`)
	hostnameRe   = regexp.MustCompile(`^hostname:\s*(.+?)\s*$`)
	ipLineRe     = regexp.MustCompile(`^udp/ip\s*:\s*(.+?)\s*$`)
	mapLineRe    = regexp.MustCompile(`^map\s*:\s*(\S+)\s+at:\s*(.+?)\s*$`)
	playersRe    = regexp.MustCompile(`^players\s*:\s*(\d+)\s+humans,\s*(\d+)\s+bots\s*\((\d+)\s+max\)\s*$`)
	demoStopRe   = regexp.MustCompile(`(?i)stop(?:ped|ping)? (?:tf_)?demo recording`)
	g15LineRe    = regexp.MustCompile(`^m_(\w+)\[(\d+)\]\s+\S+\s+\((.*)\)\s*$`)
)

// StatusMsg wraps a decoded status line for the event loop.
type StatusMsg struct {
	Fields match.StatusFields
}

// Kind implements eventloop.Message.
func (StatusMsg) Kind() string { return "console.status" }

// Apply implements eventloop.Applier[match.State].
func (m StatusMsg) Apply(state *match.State) { state.ObserveStatus(m.Fields) }

// ChatMsg wraps a decoded chat line. Resolution of the speaker's steamid
// happens at SSE serialization time (§4.L), not here.
type ChatMsg struct {
	Dead    bool
	Team    bool
	Name    string
	Message string
}

// Kind implements eventloop.Message.
func (ChatMsg) Kind() string { return "console.chat" }

// KillMsg wraps a decoded kill line.
type KillMsg struct {
	Killer string
	Victim string
	Weapon string
	Crit    bool
}

// Kind implements eventloop.Message.
func (KillMsg) Kind() string { return "console.kill" }

// HostnameMsg wraps a decoded `hostname:` line.
type HostnameMsg struct{ Hostname string }

// Kind implements eventloop.Message.
func (HostnameMsg) Kind() string { return "console.hostname" }

// Apply implements eventloop.Applier[match.State].
func (m HostnameMsg) Apply(state *match.State) { state.Server.Hostname = m.Hostname }

// IPMsg wraps a decoded `udp/ip` line.
type IPMsg struct{ IP string }

// Kind implements eventloop.Message.
func (IPMsg) Kind() string { return "console.ip" }

// Apply implements eventloop.Applier[match.State].
func (m IPMsg) Apply(state *match.State) { state.Server.IP = m.IP }

// MapMsg wraps a decoded `map:` line.
type MapMsg struct {
	Map string
	At  string
}

// Kind implements eventloop.Message.
func (MapMsg) Kind() string { return "console.map" }

// Apply implements eventloop.Applier[match.State].
func (m MapMsg) Apply(state *match.State) { state.Server.Map = m.Map }

// PlayerCountMsg wraps a decoded `players:` line.
type PlayerCountMsg struct {
	Humans int
	Bots   int
	Max    int
}

// Kind implements eventloop.Message.
func (PlayerCountMsg) Kind() string { return "console.player_count" }

// Apply implements eventloop.Applier[match.State].
func (m PlayerCountMsg) Apply(state *match.State) {
	state.Server.PlayerCount = m.Humans + m.Bots
	state.Server.MaxPlayers = m.Max
}

// DemoStopMsg signals that the game stopped recording the current demo.
type DemoStopMsg struct{}

// Kind implements eventloop.Message.
func (DemoStopMsg) Kind() string { return "console.demo_stop" }

// G15Msg wraps the rows extracted from one G15 dump.
type G15Msg struct {
	Rows []match.G15Row
}

// Kind implements eventloop.Message.
func (G15Msg) Kind() string { return "console.g15" }

// Apply implements eventloop.Applier[match.State].
func (m G15Msg) Apply(state *match.State) {
	for _, row := range m.Rows {
		state.ObserveG15Row(row)
	}
}

// ParseLine classifies one trimmed, non-empty console line against every
// pattern in order, emitting zero or more messages (§4.D: "multiple
// matches per line allowed").
func ParseLine(line string) []eventloop.Message {
	var out []eventloop.Message

	if m := statusLineRe.FindStringSubmatch(line); m != nil {
		if msg, ok := parseStatus(m); ok {
			out = append(out, msg)
		}
	}
	if m := chatLineRe.FindStringSubmatch(line); m != nil {
		out = append(out, ChatMsg{
			Dead:    m[1] != "",
			Team:    m[2] != "",
			Name:    strings.TrimSpace(m[3]),
			Message: m[4],
		})
	}
	if m := killLineRe.FindStringSubmatch(line); m != nil {
		out = append(out, KillMsg{
			Killer: strings.TrimSpace(m[1]),
			Victim: strings.TrimSpace(m[2]),
			Weapon: m[3],
			Crit:   m[4] != "",
		})
	}
	if m := hostnameRe.FindStringSubmatch(line); m != nil {
		out = append(out, HostnameMsg{Hostname: m[1]})
	}
	if m := ipLineRe.FindStringSubmatch(line); m != nil {
		out = append(out, IPMsg{IP: m[1]})
	}
	if m := mapLineRe.FindStringSubmatch(line); m != nil {
		out = append(out, MapMsg{Map: m[1], At: m[2]})
	}
	if m := playersRe.FindStringSubmatch(line); m != nil {
		humans, _ := strconv.Atoi(m[1])
		bots, _ := strconv.Atoi(m[2])
		max, _ := strconv.Atoi(m[3])
		out = append(out, PlayerCountMsg{Humans: humans, Bots: bots, Max: max})
	}
	if demoStopRe.MatchString(line) {
		out = append(out, DemoStopMsg{})
	}

	return out
}

func parseStatus(m []string) (StatusMsg, bool) {
	userID, err := strconv.Atoi(m[1])
	if err != nil {
		return StatusMsg{}, false
	}
	accountID, err := strconv.ParseUint(m[3], 10, 32)
	if err != nil {
		return StatusMsg{}, false
	}
	minutes, _ := strconv.Atoi(m[4])
	seconds, _ := strconv.Atoi(m[5])
	ping, _ := strconv.Atoi(m[6])
	loss, _ := strconv.Atoi(m[7])
	state := parsePlayerState(m[8])

	return StatusMsg{Fields: match.StatusFields{
		SteamID: match.SteamIDFromAccountID(uint32(accountID)),
		Name:    m[2],
		UserID:  userID,
		Time:    minutes*60 + seconds,
		Ping:    ping,
		Loss:    loss,
		State:   state,
	}}, true
}

func parsePlayerState(raw string) match.PlayerState {
	switch strings.ToLower(raw) {
	case "spawning":
		return match.StateSpawning
	case "disconnected", "challenging":
		return match.StateDisconnected
	default:
		return match.StateActive
	}
}
