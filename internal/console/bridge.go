package console

import (
	"strings"

	"macagent/internal/eventloop"
	"macagent/internal/match"
	"macagent/internal/rcon"
	"macagent/internal/tail"
)

// BridgeHandler turns completed RCON command responses into typed console
// events. Status and G15 responses additionally enqueue a RefreshCycleMsg
// once their per-line events have been enqueued, so that §4.I's refresh
// cycle runs only after the whole response has been observed (§4.E's
// toggle tick "drives" §4.I's refresh cycle).
type BridgeHandler struct{}

// NewBridgeHandler constructs the handler.
func NewBridgeHandler() *BridgeHandler { return &BridgeHandler{} }

// Handle implements eventloop.Handler[match.State].
func (BridgeHandler) Handle(_ *match.State, msg eventloop.Message) []eventloop.Action {
	switch m := msg.(type) {
	case rcon.RawConsoleOutputMsg:
		if m.Err != nil {
			return nil
		}
		actions := linesToActions(m.Output)
		switch m.Command.(type) {
		case rcon.StatusCmd, rcon.G15Cmd:
			actions = append(actions, eventloop.Action{Message: match.RefreshCycleMsg{}})
		}
		return actions
	case tail.LineMsg:
		return linesToActions(m.Text)
	default:
		return nil
	}
}

func linesToActions(payload string) []eventloop.Action {
	if looksLikeG15(payload) {
		g15 := NewG15Message(payload)
		if len(g15.Rows) > 0 {
			return []eventloop.Action{{Message: g15}}
		}
	}

	var actions []eventloop.Action
	for _, line := range strings.Split(payload, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		for _, evt := range ParseLine(trimmed) {
			actions = append(actions, eventloop.Action{Message: evt})
		}
	}
	return actions
}

func looksLikeG15(payload string) bool {
	return strings.Contains(payload, "m_bValid[") || strings.Contains(payload, "m_szName[")
}
