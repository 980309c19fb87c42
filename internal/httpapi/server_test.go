package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"macagent/internal/config"
	"macagent/internal/eventloop"
	"macagent/internal/match"
	"macagent/internal/rcon"
	"macagent/internal/settingsstore"
)

func newTestServer(t *testing.T) (*Server, *match.State, func()) {
	t.Helper()

	dir := t.TempDir()
	playerlist, err := settingsstore.LoadPlayerlist(filepath.Join(dir, "playerlist.json"))
	if err != nil {
		t.Fatalf("LoadPlayerlist: %v", err)
	}
	prefs, err := settingsstore.LoadPreferences(filepath.Join(dir, "prefs.json"))
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}

	cfg := &config.Config{RCONPort: 1, FriendsAPIUsage: config.FriendsAPICheatersOnly}
	state := match.NewState(cfg)
	state.Players.Records = playerlist.Records

	rconManager := rcon.NewManager(cfg.RCONPort, "", nil)
	server := NewServer(Options{
		Playerlist:  playerlist,
		Prefs:       prefs,
		RCONManager: rconManager,
	})

	loop := eventloop.New(state, nil)
	loop.AddSource(server.Source())
	loop.AddHandler(server.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				loop.ExecuteCycle(ctx)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	return server, state, cancel
}

func doPUT(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new PUT request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", url, err)
	}
	return resp
}

func TestServerGetGameReturnsConnectedPlayers(t *testing.T) {
	server, state, stop := newTestServer(t)
	defer stop()

	steamID := match.SteamID(76561197960287930)
	state.ObserveStatus(match.StatusFields{SteamID: steamID, Name: "alice", UserID: 2})
	state.Players.Refresh()

	ts := httptest.NewServer(server.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/mac/game/v1")
	if err != nil {
		t.Fatalf("GET /mac/game/v1: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var snap GameSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Players) != 1 || snap.Players[0].SteamID != steamID {
		t.Fatalf("players = %+v, want one entry for %d", snap.Players, steamID)
	}
}

func TestServerPutUserPersistsVerdict(t *testing.T) {
	server, _, stop := newTestServer(t)
	defer stop()

	ts := httptest.NewServer(server.Mux())
	defer ts.Close()

	steamID := match.SteamID(76561197960287930)
	verdict := match.VerdictCheater
	body, _ := json.Marshal(map[match.SteamID]UserUpdate{
		steamID: {LocalVerdict: &verdict},
	})

	resp := doPUT(t, ts.URL+"/mac/user/v1", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	snapshot := server.playerlist.Snapshot()
	rec, ok := snapshot[steamID]
	if !ok || rec.Verdict != match.VerdictCheater {
		t.Fatalf("playerlist record = %+v, want cheater verdict", rec)
	}
}

func TestServerPutPrefsMergesAndPersists(t *testing.T) {
	server, state, stop := newTestServer(t)
	defer stop()

	ts := httptest.NewServer(server.Mux())
	defer ts.Close()

	tf2dir := "/opt/team fortress 2"
	update := PreferencesUpdate{
		Internal: &internalPrefsWire{TF2Directory: &tf2dir},
		External: json.RawMessage(`{"theme":"dark"}`),
	}
	body, _ := json.Marshal(update)

	resp := doPUT(t, ts.URL+"/mac/pref/v1", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	time.Sleep(20 * time.Millisecond)
	if state.Settings.TF2Directory != tf2dir {
		t.Fatalf("state.Settings.TF2Directory = %q, want %q", state.Settings.TF2Directory, tf2dir)
	}

	getResp, err := http.Get(ts.URL + "/mac/pref/v1")
	if err != nil {
		t.Fatalf("GET /mac/pref/v1: %v", err)
	}
	defer getResp.Body.Close()
	var prefs settingsstore.Preferences
	if err := json.NewDecoder(getResp.Body).Decode(&prefs); err != nil {
		t.Fatalf("decode prefs: %v", err)
	}
	if prefs.Internal.TF2Directory == nil || *prefs.Internal.TF2Directory != tf2dir {
		t.Fatalf("persisted prefs = %+v, want tf2Directory %q", prefs.Internal, tf2dir)
	}
	if !strings.Contains(string(prefs.External), "dark") {
		t.Fatalf("persisted external = %s, want theme round-tripped", prefs.External)
	}
}

func TestServerHistoryPagination(t *testing.T) {
	server, state, stop := newTestServer(t)
	defer stop()

	state.Players.History = []match.SteamID{1, 2, 3, 4, 5}

	ts := httptest.NewServer(server.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/mac/history/v1?from=1&to=3")
	if err != nil {
		t.Fatalf("GET /mac/history/v1: %v", err)
	}
	defer resp.Body.Close()

	var ids []match.SteamID
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []match.SteamID{2, 3}
	if len(ids) != len(want) || ids[0] != want[0] || ids[1] != want[1] {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
}

func TestServerPostCommandsAccepted(t *testing.T) {
	server, _, stop := newTestServer(t)
	defer stop()

	ts := httptest.NewServer(server.Mux())
	defer ts.Close()

	body := []byte(`[{"type":"say","text":"hello"},{"type":"kick","player":3,"reason":"cheating"}]`)
	resp, err := http.Post(ts.URL+"/mac/commands/v1", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /mac/commands/v1: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}

func TestServerPostCommandsRejectsUnknownType(t *testing.T) {
	server, _, stop := newTestServer(t)
	defer stop()

	ts := httptest.NewServer(server.Mux())
	defer ts.Close()

	body := []byte(`[{"type":"teleport"}]`)
	resp, err := http.Post(ts.URL+"/mac/commands/v1", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /mac/commands/v1: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServerSSEBroadcastsChatEvent(t *testing.T) {
	server, state, stop := newTestServer(t)
	defer stop()

	ts := httptest.NewServer(server.Mux())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/mac/game/events/v1", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET SSE: %v", err)
	}
	defer resp.Body.Close()

	state.Players.GameInfo[42] = &match.GameInfo{Name: "bob"}
	// Subscribe() runs after the handler's initial flush, which is what Do
	// returns on; give it a moment to register before broadcasting.
	time.Sleep(20 * time.Millisecond)
	server.hub.Broadcast("chat", chatEvent{SteamID: 42, Name: "bob", Message: "gg"})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read SSE event line: %v", err)
	}
	if !strings.HasPrefix(line, "event: chat") {
		t.Fatalf("event line = %q, want chat event", line)
	}
	dataLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read SSE data line: %v", err)
	}
	if !strings.Contains(dataLine, "gg") {
		t.Fatalf("data line = %q, want chat message", dataLine)
	}
}
