package match

import "testing"

func TestSetFriendsListInsertsSymmetricEdges(t *testing.T) {
	p := NewPlayers()
	owner := SteamIDFromAccountID(1)
	friend := SteamIDFromAccountID(2)

	p.SetFriendsList(owner, []Friend{{SteamID: friend, FriendSince: 1000}})

	if !p.AreFriends(owner, friend) {
		t.Fatalf("expected owner->friend edge")
	}
	if !p.AreFriends(friend, owner) {
		t.Fatalf("expected mirrored friend->owner edge even though friend's own list was never fetched")
	}
	if p.FriendInfo[owner].Public != Yes {
		t.Fatalf("expected owner marked public")
	}
}

func TestSetFriendsListRemovesStaleEdges(t *testing.T) {
	p := NewPlayers()
	owner := SteamIDFromAccountID(1)
	a := SteamIDFromAccountID(2)
	b := SteamIDFromAccountID(3)

	p.SetFriendsList(owner, []Friend{{SteamID: a}, {SteamID: b}})
	p.SetFriendsList(owner, []Friend{{SteamID: a}})

	if !p.AreFriends(owner, a) {
		t.Fatalf("expected a to remain a friend")
	}
	if p.AreFriends(owner, b) || p.AreFriends(b, owner) {
		t.Fatalf("expected b's edge to be removed symmetrically after dropping from the list")
	}
}

func TestMarkFriendsPrivatePreservesPubliclyCorroboratedEdges(t *testing.T) {
	p := NewPlayers()
	owner := SteamIDFromAccountID(1)
	corroborated := SteamIDFromAccountID(2)
	uncorroborated := SteamIDFromAccountID(3)

	// corroborated's own list is public and names owner as a friend.
	p.SetFriendsList(corroborated, []Friend{{SteamID: owner}})
	// owner's list (now private) also names uncorroborated, who has never been fetched.
	p.addEdge(owner, uncorroborated, 0)

	p.MarkFriendsPrivate(owner)

	if p.FriendInfo[owner].Public != No {
		t.Fatalf("expected owner marked non-public")
	}
	if !p.AreFriends(owner, corroborated) {
		t.Fatalf("expected edge corroborated by corroborated's public list to survive")
	}
	if p.AreFriends(owner, uncorroborated) || p.AreFriends(uncorroborated, owner) {
		t.Fatalf("expected uncorroborated edge to be removed once owner's list is private")
	}
}

func TestFriendTagAppliedForLocalUser(t *testing.T) {
	p := NewPlayers()
	user := SteamIDFromAccountID(1)
	friend := SteamIDFromAccountID(2)
	p.User = &user

	p.SetFriendsList(user, []Friend{{SteamID: friend}})

	if !p.HasTag(friend, "Friend") {
		t.Fatalf("expected Friend tag applied to local user's friend")
	}
}

func TestNeedsAllFriendsOverride(t *testing.T) {
	p := NewPlayers()
	suspect := SteamIDFromAccountID(9)
	p.ObserveStatus(StatusFields{SteamID: suspect, Name: "sus"})
	p.Records[suspect] = &PlayerRecord{Verdict: VerdictCheater}

	if p.NeedsAllFriends() {
		t.Fatalf("expected no override before any private-list observation")
	}

	p.MarkFriendsPrivate(suspect)
	if !p.NeedsAllFriends() {
		t.Fatalf("expected override once a cheater's list is known-private")
	}
}
