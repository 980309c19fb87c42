// Package autokick implements spec.md's §4.K component: on every refresh
// cycle, emit a vote-kick command for each connected, same-team player
// whose local record classifies them as a Bot.
package autokick

import (
	"macagent/internal/eventloop"
	"macagent/internal/match"
	"macagent/internal/rcon"
)

// Handler watches for match.RefreshCycleMsg and, when settings.Autokick is
// enabled, emits one rcon.IssueMsg per qualifying player. It reads state
// before RefreshCycleMsg's own Apply runs (handlers always observe a
// message before its state update is materialized, per the event loop's
// ordering guarantee), which is safe here since the kick predicate only
// depends on Connected/GameInfo/Records, none of which RefreshCycleMsg's
// Apply touches before this handler sees it.
type Handler struct{}

// NewHandler constructs the auto-kick policy handler.
func NewHandler() *Handler { return &Handler{} }

// Handle implements eventloop.Handler[match.State].
func (Handler) Handle(state *match.State, msg eventloop.Message) []eventloop.Action {
	if _, ok := msg.(match.RefreshCycleMsg); !ok {
		return nil
	}
	if state.Settings == nil || !state.Settings.Autokick {
		return nil
	}

	players := state.Players
	if players.User == nil {
		return nil
	}
	userInfo, ok := players.GameInfo[*players.User]
	if !ok || userInfo.Team == match.TeamUnassigned {
		return nil
	}
	userTeam := userInfo.Team

	var actions []eventloop.Action
	for _, id := range players.Connected {
		gi, ok := players.GameInfo[id]
		if !ok || gi.State != match.StateActive || gi.Team != userTeam {
			continue
		}
		rec, ok := players.Records[id]
		if !ok || rec.Verdict != match.VerdictBot {
			continue
		}
		actions = append(actions, eventloop.Action{Message: rcon.IssueMsg{
			Command: rcon.KickCmd{UserID: gi.UserID, Reason: rcon.ReasonCheating},
		}})
	}
	return actions
}
