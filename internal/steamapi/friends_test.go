package steamapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"macagent/internal/config"
	"macagent/internal/match"
)

func TestGetFriendListParsesResponse(t *testing.T) {
	owner := match.SteamIDFromAccountID(1)
	friend := match.SteamIDFromAccountID(2)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"friendslist": map[string]any{
				"friends": []map[string]any{{
					"steamid":      idToString(friend),
					"relationship": "friend",
					"friend_since": 123,
				}},
			},
		})
	})

	friends, err := client.getFriendList(nil, owner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(friends) != 1 || friends[0].SteamID != friend || friends[0].FriendSince != 123 {
		t.Fatalf("unexpected friends: %+v", friends)
	}
}

func TestShouldLookupSelectionRules(t *testing.T) {
	cheater := match.SteamIDFromAccountID(1)
	regular := match.SteamIDFromAccountID(2)

	state := &match.State{Players: match.NewPlayers()}
	state.Players.Records[cheater] = &match.PlayerRecord{Verdict: match.VerdictCheater}

	if shouldLookup(config.FriendsAPINone, false, state, regular) {
		t.Fatalf("None usage without override must never look up")
	}
	if !shouldLookup(config.FriendsAPINone, true, state, regular) {
		t.Fatalf("override must force lookup regardless of usage")
	}
	if !shouldLookup(config.FriendsAPICheatersOnly, false, state, cheater) {
		t.Fatalf("CheatersOnly must look up known cheaters")
	}
	if shouldLookup(config.FriendsAPICheatersOnly, false, state, regular) {
		t.Fatalf("CheatersOnly must skip unclassified players")
	}
	if !shouldLookup(config.FriendsAPIAll, false, state, regular) {
		t.Fatalf("All usage must look up everyone")
	}
}

func TestFriendsHandlerSkipsWithoutClient(t *testing.T) {
	h := NewFriendsHandler(nil)
	state := &match.State{Players: match.NewPlayers(), Settings: &config.Config{FriendsAPIUsage: config.FriendsAPIAll}}
	if actions := h.Handle(state, match.NewPlayersMsg{SteamIDs: []match.SteamID{match.SteamIDFromAccountID(1)}}); actions != nil {
		t.Fatalf("expected nil actions with no client configured")
	}
}
