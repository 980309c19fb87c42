// Package httpapi implements spec.md's §4.L component: the local HTTP+SSE
// control surface. HTTP handlers never touch match.State directly; each
// request is translated into a WebRequestMsg and sent into the loop over a
// bounded channel (capacity 24, per §4.L/§5), with a one-shot reply channel
// the handler blocks on.
package httpapi

import (
	"encoding/json"

	"macagent/internal/logging"
	"macagent/internal/match"
	"macagent/internal/rcon"
	"macagent/internal/settingsstore"
)

// webOp tags which endpoint a WebRequestMsg originated from.
type webOp int

const (
	opGetGame webOp = iota
	opPostUser
	opPutUser
	opGetPrefs
	opPutPrefs
	opGetHistory
	opGetPlayerlist
	opPostCommands
)

// UserUpdate is one entry of a PUT /mac/user/v1 body (§6): a merge-style
// partial update to a player's local record.
type UserUpdate struct {
	LocalVerdict *match.Verdict `json:"localVerdict,omitempty"`
	CustomData   map[string]any `json:"customData,omitempty"`
}

// webResponse is what the loop goroutine hands back to a blocked HTTP
// handler: a status code and a pre-serialized JSON body.
type webResponse struct {
	status int
	body   []byte
}

// WebRequestMsg carries one HTTP request's payload into the loop. Exactly
// the fields relevant to Op are populated. Reply is buffered (capacity 1)
// so the loop goroutine never blocks handing back a response.
type WebRequestMsg struct {
	Op    webOp
	Reply chan webResponse

	Users       []match.SteamID
	UserUpdates map[match.SteamID]UserUpdate

	PrefsUpdate *PreferencesUpdate

	HistoryFrom int
	HistoryTo   int

	Commands []rcon.Command

	// Dependencies the Apply step needs to read/merge/persist alongside
	// match.State; populated by Server when it builds the message so the
	// message stays self-contained (same capture-in-closure shape as the
	// handler-spawned Futures elsewhere in this codebase).
	Playerlist  *settingsstore.Playerlist
	Prefs       *settingsstore.Preferences
	RCONManager *rcon.Manager
	Log         *logging.Logger
}

// Kind implements eventloop.Message.
func (WebRequestMsg) Kind() string { return "httpapi.request" }

// PreferencesUpdate mirrors §6's PUT /mac/pref/v1 body shape: an optional
// "internal" object the agent understands, plus an opaque "external" blob
// the UI round-trips unexamined.
type PreferencesUpdate struct {
	Internal *internalPrefsWire `json:"internal,omitempty"`
	External json.RawMessage    `json:"external,omitempty"`
}

// internalPrefsWire is the JSON shape of the "internal" preferences object
// (§6), grounded on original_source/src/events/web.rs's InternalPreferences.
type internalPrefsWire struct {
	FriendsAPIUsage *string `json:"friendsApiUsage,omitempty"`
	TF2Directory    *string `json:"tf2Directory,omitempty"`
	RCONPassword    *string `json:"rconPassword,omitempty"`
	SteamAPIKey     *string `json:"steamApiKey,omitempty"`
	RCONPort        *int    `json:"rconPort,omitempty"`
}
