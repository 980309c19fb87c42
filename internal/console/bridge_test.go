package console

import (
	"testing"

	"macagent/internal/match"
	"macagent/internal/rcon"
	"macagent/internal/tail"
)

func TestBridgeHandlerIgnoresFailedCommand(t *testing.T) {
	h := NewBridgeHandler()
	actions := h.Handle(nil, rcon.RawConsoleOutputMsg{Command: rcon.StatusCmd{}, Err: errBoom})
	if len(actions) != 0 {
		t.Fatalf("expected no actions for a failed command, got %v", actions)
	}
}

var errBoom = errFixed("boom")

type errFixed string

func (e errFixed) Error() string { return string(e) }

func TestBridgeHandlerEmitsStatusLinesThenRefreshCycle(t *testing.T) {
	h := NewBridgeHandler()
	output := `#  23 "Alice" [U:1:42] 00:15 85 0 active
#  24 "Bob" [U:1:7] 00:05 50 0 active
`
	actions := h.Handle(nil, rcon.RawConsoleOutputMsg{Command: rcon.StatusCmd{}, Output: output})
	if len(actions) != 3 {
		t.Fatalf("expected 2 status messages + 1 refresh cycle, got %d", len(actions))
	}
	if _, ok := actions[0].Message.(StatusMsg); !ok {
		t.Fatalf("expected first action to be a StatusMsg, got %T", actions[0].Message)
	}
	if _, ok := actions[1].Message.(StatusMsg); !ok {
		t.Fatalf("expected second action to be a StatusMsg, got %T", actions[1].Message)
	}
	if _, ok := actions[2].Message.(match.RefreshCycleMsg); !ok {
		t.Fatalf("expected final action to be a RefreshCycleMsg, got %T", actions[2].Message)
	}
}

func TestBridgeHandlerParsesG15Dump(t *testing.T) {
	h := NewBridgeHandler()
	payload := `m_bValid[0] bool (1)
m_szName[0] string (Alice)
m_iAccountID[0] int (42)
`
	actions := h.Handle(nil, rcon.RawConsoleOutputMsg{Command: rcon.G15Cmd{}, Output: payload})
	if len(actions) != 2 {
		t.Fatalf("expected 1 g15 message + 1 refresh cycle, got %d", len(actions))
	}
	g15, ok := actions[0].Message.(G15Msg)
	if !ok || len(g15.Rows) != 1 {
		t.Fatalf("expected a G15Msg with one row, got %+v", actions[0].Message)
	}
	if _, ok := actions[1].Message.(match.RefreshCycleMsg); !ok {
		t.Fatalf("expected trailing refresh cycle, got %T", actions[1].Message)
	}
}

func TestBridgeHandlerReclassifiesTailedLines(t *testing.T) {
	h := NewBridgeHandler()
	actions := h.Handle(nil, tail.LineMsg{Text: "Alice :  gg"})
	if len(actions) != 1 {
		t.Fatalf("expected 1 chat action, got %d", len(actions))
	}
	if _, ok := actions[0].Message.(ChatMsg); !ok {
		t.Fatalf("expected ChatMsg, got %T", actions[0].Message)
	}
}
