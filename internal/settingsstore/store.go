// Package settingsstore implements the companion agent's two persisted
// JSON files (spec.md §6 "Persisted state"): the playerlist of local
// verdicts/custom data, and the preferences document the web UI reads and
// merges into via PUT /mac/pref/v1. Neither file is required to exist on
// first run; both are created on first Save.
package settingsstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"macagent/internal/match"
)

// Playerlist is the on-disk form of the personal playerlist
// (playerlist.json), grounded in original_source/src/player_records.rs's
// {steamid -> record} shape, extended with the previous-names history
// spec.md §4.I keeps per player.
type Playerlist struct {
	mu      sync.Mutex
	path    string
	Records map[match.SteamID]*match.PlayerRecord `json:"records"`
}

// LoadPlayerlist reads path, returning an empty Playerlist if the file does
// not exist yet (first run).
func LoadPlayerlist(path string) (*Playerlist, error) {
	pl := &Playerlist{path: path, Records: make(map[match.SteamID]*match.PlayerRecord)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return pl, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, pl); err != nil {
		return nil, err
	}
	if pl.Records == nil {
		pl.Records = make(map[match.SteamID]*match.PlayerRecord)
	}
	return pl, nil
}

// Save writes the playerlist back to its source path, creating parent
// directories as needed.
func (pl *Playerlist) Save() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return writeJSONFile(pl.path, pl)
}

// Upsert merges verdict/customData into the record for id, creating it if
// absent. The change is made in memory only; Save writes it to disk. A nil
// verdict or customData leaves the existing value untouched
// (PUT /mac/user/v1's merge semantics).
func (pl *Playerlist) Upsert(id match.SteamID, verdict *match.Verdict, customData map[string]any) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	rec, ok := pl.Records[id]
	if !ok {
		rec = &match.PlayerRecord{Verdict: match.VerdictPlayer}
		pl.Records[id] = rec
	}
	if verdict != nil {
		rec.Verdict = *verdict
	}
	if customData != nil {
		if rec.CustomData == nil {
			rec.CustomData = make(map[string]any)
		}
		for k, v := range customData {
			rec.CustomData[k] = v
		}
	}
}

// Snapshot returns a shallow copy of the current records, safe to
// serialize without holding the lock.
func (pl *Playerlist) Snapshot() map[match.SteamID]*match.PlayerRecord {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	out := make(map[match.SteamID]*match.PlayerRecord, len(pl.Records))
	for id, rec := range pl.Records {
		clone := *rec
		out[id] = &clone
	}
	return out
}

// InternalPreferences mirrors the agent-recognized subset of §6's
// `GET/PUT /mac/pref/v1` "internal" object; every field is optional so a
// partial PUT only overrides what it names.
type InternalPreferences struct {
	FriendsAPIUsage *string `json:"friendsApiUsage,omitempty"`
	TF2Directory    *string `json:"tf2Directory,omitempty"`
	RCONPassword    *string `json:"rconPassword,omitempty"`
	SteamAPIKey     *string `json:"steamApiKey,omitempty"`
	RCONPort        *int    `json:"rconPort,omitempty"`
}

// Preferences is the full persisted preferences document
// (`<config>.json`): the subset the agent understands, plus an opaque
// "external" blob the UI round-trips unexamined.
type Preferences struct {
	mu       sync.Mutex
	path     string
	Internal InternalPreferences `json:"internal"`
	External json.RawMessage     `json:"external,omitempty"`
}

// LoadPreferences reads path, returning a zero-valued Preferences if the
// file does not exist yet.
func LoadPreferences(path string) (*Preferences, error) {
	p := &Preferences{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Save writes the preferences document back to its source path.
func (p *Preferences) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return writeJSONFile(p.path, p)
}

// Merge folds a partial update into the stored preferences (§6's PUT
// /mac/pref/v1 "same shape => merge"): named internal fields overwrite,
// unset ones are untouched, and a present external blob replaces the
// previous one wholesale (the agent never inspects its contents).
func (p *Preferences) Merge(update InternalPreferences, external json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if update.FriendsAPIUsage != nil {
		p.Internal.FriendsAPIUsage = update.FriendsAPIUsage
	}
	if update.TF2Directory != nil {
		p.Internal.TF2Directory = update.TF2Directory
	}
	if update.RCONPassword != nil {
		p.Internal.RCONPassword = update.RCONPassword
	}
	if update.SteamAPIKey != nil {
		p.Internal.SteamAPIKey = update.SteamAPIKey
	}
	if update.RCONPort != nil {
		p.Internal.RCONPort = update.RCONPort
	}
	if len(external) > 0 {
		p.External = external
	}
}

// Snapshot returns a copy of the current preferences document, safe to
// serialize without holding the lock.
func (p *Preferences) Snapshot() Preferences {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Preferences{Internal: p.Internal, External: p.External}
}

func writeJSONFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
