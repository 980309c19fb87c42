package parties

import (
	"sort"
	"testing"

	"macagent/internal/match"
)

func connect(p *match.Players, ids ...match.SteamID) {
	for _, id := range ids {
		p.ObserveStatus(match.StatusFields{SteamID: id, Name: id.String()})
	}
}

func sortedParty(party Party) []match.SteamID {
	out := append([]match.SteamID(nil), party...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestDetectFindsOneTriangle(t *testing.T) {
	p := match.NewPlayers()
	a, b, c := match.SteamIDFromAccountID(1), match.SteamIDFromAccountID(2), match.SteamIDFromAccountID(3)
	connect(p, a, b, c)
	p.SetFriendsList(a, []match.Friend{{SteamID: b}, {SteamID: c}})
	p.SetFriendsList(b, []match.Friend{{SteamID: a}, {SteamID: c}})

	parties := Detect(p)
	if len(parties) != 1 {
		t.Fatalf("expected exactly one maximal clique, got %d: %v", len(parties), parties)
	}
	got := sortedParty(parties[0])
	want := []match.SteamID{a, b, c}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	if len(got) != 3 {
		t.Fatalf("expected triangle of 3, got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestDetectExcludesSingletonsAndUnrelatedPlayers(t *testing.T) {
	p := match.NewPlayers()
	a, b, lone := match.SteamIDFromAccountID(1), match.SteamIDFromAccountID(2), match.SteamIDFromAccountID(9)
	connect(p, a, b, lone)
	p.SetFriendsList(a, []match.Friend{{SteamID: b}})

	parties := Detect(p)
	if len(parties) != 1 || len(parties[0]) != 2 {
		t.Fatalf("expected single pair clique, got %v", parties)
	}
	for _, party := range parties {
		for _, id := range party {
			if id == lone {
				t.Fatalf("lone disconnected-friend player must not appear in any party")
			}
		}
	}
}

func TestDetectNoSubsetCliqueReported(t *testing.T) {
	p := match.NewPlayers()
	a, b, c, d := match.SteamIDFromAccountID(1), match.SteamIDFromAccountID(2), match.SteamIDFromAccountID(3), match.SteamIDFromAccountID(4)
	connect(p, a, b, c, d)
	// a-b-c form a triangle; d is friends only with a (not a maximal
	// addition to the triangle), so the only maximal cliques are {a,b,c}
	// and {a,d}.
	p.SetFriendsList(a, []match.Friend{{SteamID: b}, {SteamID: c}, {SteamID: d}})
	p.SetFriendsList(b, []match.Friend{{SteamID: a}, {SteamID: c}})

	parties := Detect(p)
	if len(parties) != 2 {
		t.Fatalf("expected 2 maximal cliques, got %d: %v", len(parties), parties)
	}
	var sawTriangle, sawPair bool
	for _, party := range parties {
		switch len(party) {
		case 3:
			sawTriangle = true
		case 2:
			sawPair = true
		}
	}
	if !sawTriangle || !sawPair {
		t.Fatalf("expected one triangle and one pair, got %v", parties)
	}
}

func TestDetectEmptyWithFewerThanTwoConnected(t *testing.T) {
	p := match.NewPlayers()
	if parties := Detect(p); parties != nil {
		t.Fatalf("expected nil for empty roster, got %v", parties)
	}
	connect(p, match.SteamIDFromAccountID(1))
	if parties := Detect(p); parties != nil {
		t.Fatalf("expected nil for single connected player, got %v", parties)
	}
}
