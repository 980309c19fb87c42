package httpapi

import (
	"encoding/json"
	"fmt"

	"macagent/internal/rcon"
)

// commandWire is the JSON shape accepted by POST /mac/commands/v1 (§6's
// command grammar): a discriminated union keyed by "type".
type commandWire struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Player int             `json:"player,omitempty"`
	Reason rcon.KickReason `json:"reason,omitempty"`
	Raw    string          `json:"raw,omitempty"`
}

func decodeCommand(w commandWire) (rcon.Command, error) {
	switch w.Type {
	case "g15":
		return rcon.G15Cmd{}, nil
	case "status":
		return rcon.StatusCmd{}, nil
	case "say":
		return rcon.SayCmd{Text: w.Text}, nil
	case "sayTeam":
		return rcon.SayTeamCmd{Text: w.Text}, nil
	case "kick":
		reason := w.Reason
		if reason == "" {
			reason = rcon.ReasonNone
		}
		return rcon.KickCmd{UserID: w.Player, Reason: reason}, nil
	case "custom":
		return rcon.CustomCmd{Raw: w.Raw}, nil
	default:
		return nil, fmt.Errorf("httpapi: unknown command type %q", w.Type)
	}
}

func decodeCommands(raw json.RawMessage) ([]rcon.Command, error) {
	var wires []commandWire
	if err := json.Unmarshal(raw, &wires); err != nil {
		return nil, fmt.Errorf("httpapi: decode commands: %w", err)
	}
	cmds := make([]rcon.Command, 0, len(wires))
	for _, w := range wires {
		cmd, err := decodeCommand(w)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}
