package httpapi

import (
	"encoding/json"
	"net/http"

	"macagent/internal/config"
	"macagent/internal/console"
	"macagent/internal/demo"
	"macagent/internal/eventloop"
	"macagent/internal/logging"
	"macagent/internal/match"
	"macagent/internal/parties"
	"macagent/internal/rcon"
	"macagent/internal/settingsstore"
)

// PlayerSnapshot is one entry of a /mac/game/v1 or /mac/user/v1 response:
// every piece of state the aggregator knows about one steamid, assembled
// at serialization time rather than stored pre-joined (§4.I keeps these as
// separate maps).
type PlayerSnapshot struct {
	SteamID match.SteamID
	Game    *match.GameInfo
	Steam   *match.SteamInfo
	Friends *match.FriendInfo
	Record  *match.PlayerRecord
	Tags    []string
}

// GameSnapshot is the GET /mac/game/v1 response body.
type GameSnapshot struct {
	Server  match.ServerInfo
	Players []PlayerSnapshot
	Parties []parties.Party
}

func snapshotFor(state *match.State, id match.SteamID) PlayerSnapshot {
	snap := PlayerSnapshot{SteamID: id}
	snap.Game = state.Players.GameInfo[id]
	snap.Steam = state.Players.SteamInfo[id]
	snap.Friends = state.Players.FriendInfo[id]
	snap.Record = state.Players.Records[id]
	if tagSet, ok := state.Players.Tags[id]; ok {
		for tag := range tagSet {
			snap.Tags = append(snap.Tags, tag)
		}
	}
	return snap
}

func buildGameSnapshot(state *match.State) GameSnapshot {
	snap := GameSnapshot{Server: state.Server, Parties: parties.Detect(state.Players)}
	for _, id := range state.Players.Connected {
		snap.Players = append(snap.Players, snapshotFor(state, id))
	}
	return snap
}

func buildUserDetails(state *match.State, ids []match.SteamID) []PlayerSnapshot {
	out := make([]PlayerSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, snapshotFor(state, id))
	}
	return out
}

func clampHistoryRange(historyLen, from, to int) (int, int) {
	if from < 0 {
		from = 0
	}
	if to <= 0 || to > historyLen {
		to = historyLen
	}
	if from > to {
		from = to
	}
	return from, to
}

type ackResponse struct {
	OK bool `json:"ok"`
}

func reply(ch chan webResponse, status int, v any) {
	if ch == nil {
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		body, status = []byte(`{"error":"failed to serialize response"}`), http.StatusInternalServerError
	}
	select {
	case ch <- webResponse{status: status, body: body}:
	default:
	}
}

// Apply implements eventloop.Applier[match.State]. GET ops read the
// pre-message state and reply directly; PUT ops are the sole mutation of
// this message (§5's single-writer discipline) and reply once the mutation
// (and any persistence) has completed.
func (m WebRequestMsg) Apply(state *match.State) {
	switch m.Op {
	case opGetGame:
		reply(m.Reply, http.StatusOK, buildGameSnapshot(state))

	case opPostUser:
		reply(m.Reply, http.StatusOK, buildUserDetails(state, m.Users))

	case opPutUser:
		m.applyUserUpdates(state)
		reply(m.Reply, http.StatusOK, ackResponse{OK: true})

	case opGetPrefs:
		if m.Prefs != nil {
			reply(m.Reply, http.StatusOK, m.Prefs.Snapshot())
		} else {
			reply(m.Reply, http.StatusOK, ackResponse{OK: true})
		}

	case opPutPrefs:
		m.applyPrefsUpdate(state)
		reply(m.Reply, http.StatusOK, ackResponse{OK: true})

	case opGetHistory:
		from, to := clampHistoryRange(len(state.Players.History), m.HistoryFrom, m.HistoryTo)
		reply(m.Reply, http.StatusOK, state.Players.History[from:to])

	case opGetPlayerlist:
		if m.Playerlist != nil {
			reply(m.Reply, http.StatusOK, m.Playerlist.Snapshot())
		} else {
			reply(m.Reply, http.StatusOK, state.Players.Records)
		}

	case opPostCommands:
		// Handled entirely by Handler.Handle: the reply is sent there and
		// this message carries no state mutation of its own.
	}
}

func (m WebRequestMsg) applyUserUpdates(state *match.State) {
	for id, update := range m.UserUpdates {
		if m.Playerlist != nil {
			m.Playerlist.Upsert(id, update.LocalVerdict, update.CustomData)
			continue
		}
		rec := state.Players.Records[id]
		if rec == nil {
			rec = &match.PlayerRecord{Verdict: match.VerdictPlayer}
			state.Players.Records[id] = rec
		}
		if update.LocalVerdict != nil {
			rec.Verdict = *update.LocalVerdict
		}
		for k, v := range update.CustomData {
			if rec.CustomData == nil {
				rec.CustomData = make(map[string]any)
			}
			rec.CustomData[k] = v
		}
	}
	if m.Playerlist != nil {
		if err := m.Playerlist.Save(); err != nil && m.Log != nil {
			m.Log.Warn("httpapi: failed to persist playerlist", logging.Error(err))
		}
	}
}

func (m WebRequestMsg) applyPrefsUpdate(state *match.State) {
	if m.PrefsUpdate == nil {
		return
	}

	wire := m.PrefsUpdate.Internal
	storeInternal := settingsstore.InternalPreferences{}

	if wire != nil {
		if wire.FriendsAPIUsage != nil {
			state.Settings.FriendsAPIUsage = parseFriendsAPIUsage(*wire.FriendsAPIUsage, state.Settings.FriendsAPIUsage)
		}
		if wire.TF2Directory != nil {
			state.Settings.TF2Directory = *wire.TF2Directory
		}
		if wire.RCONPassword != nil {
			state.Settings.RCONPassword = *wire.RCONPassword
			if m.RCONManager != nil {
				m.RCONManager.SetPassword(*wire.RCONPassword)
			}
		}
		if wire.SteamAPIKey != nil {
			state.Settings.SteamAPIKey = *wire.SteamAPIKey
		}
		if wire.RCONPort != nil {
			state.Settings.RCONPort = *wire.RCONPort
			if m.RCONManager != nil {
				m.RCONManager.SetPort(*wire.RCONPort)
			}
		}
		storeInternal = settingsstore.InternalPreferences{
			FriendsAPIUsage: wire.FriendsAPIUsage,
			TF2Directory:    wire.TF2Directory,
			RCONPassword:    wire.RCONPassword,
			SteamAPIKey:     wire.SteamAPIKey,
			RCONPort:        wire.RCONPort,
		}
	}

	if m.Prefs != nil {
		m.Prefs.Merge(storeInternal, m.PrefsUpdate.External)
		if err := m.Prefs.Save(); err != nil && m.Log != nil {
			m.Log.Warn("httpapi: failed to persist preferences", logging.Error(err))
		}
	}
}

func parseFriendsAPIUsage(raw string, fallback config.FriendsAPIUsage) config.FriendsAPIUsage {
	switch config.FriendsAPIUsage(raw) {
	case config.FriendsAPINone, config.FriendsAPICheatersOnly, config.FriendsAPIAll:
		return config.FriendsAPIUsage(raw)
	default:
		return fallback
	}
}

// Handler fans out events of interest over SSE and issues RCON commands
// requested via POST /mac/commands/v1 (§4.L). It observes every message;
// only PostCommands's reply-sending and the SSE broadcasts happen here,
// everything else about WebRequestMsg lives in its Apply method.
type Handler struct {
	Hub *sseHub
}

// NewHandler constructs the web API's eventloop handler, wired to hub for
// SSE fan-out.
func NewHandler(hub *sseHub) *Handler {
	return &Handler{Hub: hub}
}

// Handle implements eventloop.Handler[match.State].
func (h *Handler) Handle(state *match.State, msg eventloop.Message) []eventloop.Action {
	switch v := msg.(type) {
	case WebRequestMsg:
		if v.Op != opPostCommands {
			return nil
		}
		actions := make([]eventloop.Action, 0, len(v.Commands))
		for _, cmd := range v.Commands {
			actions = append(actions, eventloop.Action{Message: rcon.IssueMsg{Command: cmd}})
		}
		reply(v.Reply, http.StatusAccepted, ackResponse{OK: true})
		return actions

	case console.ChatMsg:
		h.Hub.Broadcast("chat", chatEvent{
			SteamID: resolveSteamIDByName(state, v.Name),
			Dead:    v.Dead,
			Team:    v.Team,
			Name:    v.Name,
			Message: v.Message,
		})

	case console.KillMsg:
		h.Hub.Broadcast("kill", killEvent{
			Killer:      v.Killer,
			KillerSteam: resolveSteamIDByName(state, v.Killer),
			Victim:      v.Victim,
			VictimSteam: resolveSteamIDByName(state, v.Victim),
			Weapon:      v.Weapon,
			Crit:        v.Crit,
		})

	case console.DemoStopMsg:
		h.Hub.Broadcast("demo_stop", ackResponse{OK: true})

	case demo.DemoMessage:
		switch evt := v.Event.(type) {
		case demo.VoteStartedEvent:
			h.Hub.Broadcast("vote_started", evt)
		case demo.VoteCastEvent:
			h.Hub.Broadcast("vote_cast", evt)
		}
	}
	return nil
}

// chatEvent/killEvent are the SSE payload shapes for console.ChatMsg and
// console.KillMsg: the speaker/participant steamids are resolved here,
// against the live GameInfo name table, rather than at parse time (§4.L).
type chatEvent struct {
	SteamID match.SteamID
	Dead    bool
	Team    bool
	Name    string
	Message string
}

type killEvent struct {
	Killer      string
	KillerSteam match.SteamID
	Victim      string
	VictimSteam match.SteamID
	Weapon      string
	Crit        bool
}

// resolveSteamIDByName looks up the steamid of the currently-connected
// player whose last known name matches name exactly. Returns 0 if no
// connected player matches (names are not unique or may lag a rename).
func resolveSteamIDByName(state *match.State, name string) match.SteamID {
	for _, id := range state.Players.Connected {
		if gi, ok := state.Players.GameInfo[id]; ok && gi.Name == name {
			return id
		}
	}
	return 0
}
