package match

// friendInfoFor returns (creating if needed) the FriendInfo entry for id.
func (p *Players) friendInfoFor(id SteamID) *FriendInfo {
	info, ok := p.FriendInfo[id]
	if !ok {
		info = &FriendInfo{Public: Unknown}
		p.FriendInfo[id] = info
	}
	return info
}

func upsertFriend(list []Friend, f Friend) []Friend {
	for i, existing := range list {
		if existing.SteamID == f.SteamID {
			list[i] = f
			return list
		}
	}
	return append(list, f)
}

func removeFriend(list []Friend, id SteamID) []Friend {
	out := list[:0]
	for _, f := range list {
		if f.SteamID != id {
			out = append(out, f)
		}
	}
	return out
}

func (p *Players) addEdge(a, b SteamID, friendSince int64) {
	ai := p.friendInfoFor(a)
	bi := p.friendInfoFor(b)
	ai.Friends = upsertFriend(ai.Friends, Friend{SteamID: b, FriendSince: friendSince})
	bi.Friends = upsertFriend(bi.Friends, Friend{SteamID: a, FriendSince: friendSince})
}

func (p *Players) removeEdgeSymmetric(a, b SteamID) {
	if ai, ok := p.FriendInfo[a]; ok {
		ai.Friends = removeFriend(ai.Friends, b)
	}
	if bi, ok := p.FriendInfo[b]; ok {
		bi.Friends = removeFriend(bi.Friends, a)
	}
}

// SetFriendsList applies a freshly-fetched, public friends list for owner
// (§4.H graph maintenance rules). Edges are inserted symmetrically for
// every reported friend, and any edge that existed before but is absent
// from the new list is removed symmetrically.
func (p *Players) SetFriendsList(owner SteamID, friends []Friend) {
	info := p.friendInfoFor(owner)

	previous := make(map[SteamID]struct{}, len(info.Friends))
	for _, f := range info.Friends {
		previous[f.SteamID] = struct{}{}
	}
	current := make(map[SteamID]struct{}, len(friends))
	for _, f := range friends {
		current[f.SteamID] = struct{}{}
	}

	for _, f := range friends {
		p.addEdge(owner, f.SteamID, f.FriendSince)
	}
	for id := range previous {
		if _, stillThere := current[id]; !stillThere {
			p.removeEdgeSymmetric(owner, id)
		}
	}

	info.Public = Yes
	p.refreshFriendTags()
}

// MarkFriendsPrivate records that owner's friends list could not be read
// (§4.H): the owner's visibility flips to No, and any edge not corroborated
// by the other endpoint's own public list is removed symmetrically, since
// it can no longer be verified from either side.
func (p *Players) MarkFriendsPrivate(owner SteamID) {
	info := p.friendInfoFor(owner)
	info.Public = No

	for _, f := range append([]Friend(nil), info.Friends...) {
		mirror := p.FriendInfo[f.SteamID]
		if mirror != nil && mirror.Public == Yes {
			continue
		}
		p.removeEdgeSymmetric(owner, f.SteamID)
	}
	p.refreshFriendTags()
}

// AreFriends reports whether a's friends list explicitly names b (§4.J's
// "friends iff one side's friendslist explicitly contains the other").
func (p *Players) AreFriends(a, b SteamID) bool {
	info, ok := p.FriendInfo[a]
	if !ok {
		return false
	}
	for _, f := range info.Friends {
		if f.SteamID == b {
			return true
		}
	}
	return false
}

func (p *Players) refreshFriendTags() {
	if p.User == nil {
		return
	}
	info, ok := p.FriendInfo[*p.User]
	if !ok {
		return
	}
	for _, f := range info.Friends {
		p.Tag(f.SteamID, "Friend")
	}
}

// NeedsAllFriends implements the "need-all" override predicate from §4.H:
// true iff any currently connected player has a Cheater/Bot record and a
// known-private friends list, since the graph might still reveal them
// through someone public.
func (p *Players) NeedsAllFriends() bool {
	for _, id := range p.Connected {
		rec, ok := p.Records[id]
		if !ok || (rec.Verdict != VerdictCheater && rec.Verdict != VerdictBot) {
			continue
		}
		if info, ok := p.FriendInfo[id]; ok && info.Public == No {
			return true
		}
	}
	return false
}
