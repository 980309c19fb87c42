package settingsstore

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"macagent/internal/match"
)

func TestLoadPlayerlistMissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playerlist.json")
	pl, err := LoadPlayerlist(path)
	if err != nil {
		t.Fatalf("LoadPlayerlist: %v", err)
	}
	if len(pl.Records) != 0 {
		t.Fatalf("Records = %v, want empty", pl.Records)
	}
}

func TestPlayerlistUpsertCreatesAndMergesWithoutOverwriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playerlist.json")
	pl, err := LoadPlayerlist(path)
	if err != nil {
		t.Fatalf("LoadPlayerlist: %v", err)
	}

	cheater := match.VerdictCheater
	pl.Upsert(1, &cheater, map[string]any{"note": "reported by alice"})

	rec := pl.Records[1]
	if rec == nil || rec.Verdict != match.VerdictCheater {
		t.Fatalf("record = %+v, want cheater verdict", rec)
	}
	if rec.CustomData["note"] != "reported by alice" {
		t.Fatalf("customData = %v, want note set", rec.CustomData)
	}

	// A nil verdict leaves the existing value untouched; new custom data
	// keys merge alongside the old one rather than replacing it.
	pl.Upsert(1, nil, map[string]any{"tag": "watchlist"})
	rec = pl.Records[1]
	if rec.Verdict != match.VerdictCheater {
		t.Fatalf("verdict changed on nil update: %v", rec.Verdict)
	}
	if rec.CustomData["note"] != "reported by alice" || rec.CustomData["tag"] != "watchlist" {
		t.Fatalf("customData = %v, want both keys present", rec.CustomData)
	}
}

func TestPlayerlistSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "playerlist.json")
	pl, err := LoadPlayerlist(path)
	if err != nil {
		t.Fatalf("LoadPlayerlist: %v", err)
	}

	trusted := match.VerdictTrusted
	pl.Upsert(99, &trusted, nil)
	if err := pl.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadPlayerlist(path)
	if err != nil {
		t.Fatalf("LoadPlayerlist (reload): %v", err)
	}
	rec := reloaded.Records[99]
	if rec == nil || rec.Verdict != match.VerdictTrusted {
		t.Fatalf("reloaded record = %+v, want trusted verdict", rec)
	}
}

func TestPlayerlistSnapshotIsIndependentCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playerlist.json")
	pl, err := LoadPlayerlist(path)
	if err != nil {
		t.Fatalf("LoadPlayerlist: %v", err)
	}
	bot := match.VerdictBot
	pl.Upsert(7, &bot, nil)

	snap := pl.Snapshot()
	snap[7].Verdict = match.VerdictPlayer
	if pl.Records[7].Verdict != match.VerdictBot {
		t.Fatalf("Snapshot mutation leaked into live records: %v", pl.Records[7].Verdict)
	}
}

func TestPreferencesMergeOnlyOverridesNamedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	p, err := LoadPreferences(path)
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}

	host := "192.168.1.5"
	port := 27016
	p.Merge(InternalPreferences{RCONPassword: &host, RCONPort: &port}, json.RawMessage(`{"theme":"dark"}`))

	key := "ABCD"
	p.Merge(InternalPreferences{SteamAPIKey: &key}, nil)

	snap := p.Snapshot()
	if snap.Internal.RCONPassword == nil || *snap.Internal.RCONPassword != host {
		t.Fatalf("RCONPassword = %v, want %q", snap.Internal.RCONPassword, host)
	}
	if snap.Internal.RCONPort == nil || *snap.Internal.RCONPort != port {
		t.Fatalf("RCONPort = %v, want %d", snap.Internal.RCONPort, port)
	}
	if snap.Internal.SteamAPIKey == nil || *snap.Internal.SteamAPIKey != key {
		t.Fatalf("SteamAPIKey = %v, want %q", snap.Internal.SteamAPIKey, key)
	}
	if string(snap.External) != `{"theme":"dark"}` {
		t.Fatalf("External = %s, want theme blob preserved across later merges", snap.External)
	}
}

func TestPreferencesSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	p, err := LoadPreferences(path)
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}
	dir := "/srv/tf2"
	p.Merge(InternalPreferences{TF2Directory: &dir}, json.RawMessage(`{"layout":"grid"}`))
	if err := p.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadPreferences(path)
	if err != nil {
		t.Fatalf("LoadPreferences (reload): %v", err)
	}
	if reloaded.Internal.TF2Directory == nil || *reloaded.Internal.TF2Directory != dir {
		t.Fatalf("reloaded TF2Directory = %v, want %q", reloaded.Internal.TF2Directory, dir)
	}
	if string(reloaded.External) != `{"layout":"grid"}` {
		t.Fatalf("reloaded External = %s, want layout blob", reloaded.External)
	}
}
