package steamapi

import (
	"context"
	"net/url"
	"strconv"

	"macagent/internal/config"
	"macagent/internal/eventloop"
	"macagent/internal/match"
)

// FriendLookupResultMsg carries the outcome of one GetFriendList request.
type FriendLookupResultMsg struct {
	Owner   match.SteamID
	Friends []match.Friend
	Err     error
}

// Kind implements eventloop.Message.
func (FriendLookupResultMsg) Kind() string { return "steamapi.friend_result" }

// Apply implements eventloop.Applier[match.State]: a successful, public
// list folds in via SetFriendsList's symmetric edge-maintenance rules; a
// private/failed lookup folds in via MarkFriendsPrivate (§4.H).
func (m FriendLookupResultMsg) Apply(state *match.State) {
	if m.Err != nil {
		state.Players.MarkFriendsPrivate(m.Owner)
		return
	}
	state.Players.SetFriendsList(m.Owner, m.Friends)
}

// FriendsHandler spawns one GetFriendList request per selected steamid
// whenever a NewPlayersMsg arrives, per §4.H's selection rule.
type FriendsHandler struct {
	client *Client
}

// NewFriendsHandler constructs the handler. client may be nil, in which
// case no lookups are ever issued.
func NewFriendsHandler(client *Client) *FriendsHandler {
	return &FriendsHandler{client: client}
}

// Handle implements eventloop.Handler[match.State].
func (h *FriendsHandler) Handle(state *match.State, msg eventloop.Message) []eventloop.Action {
	m, ok := msg.(match.NewPlayersMsg)
	if !ok || h.client == nil {
		return nil
	}

	usage := config.FriendsAPINone
	if state.Settings != nil {
		usage = state.Settings.FriendsAPIUsage
	}
	needAll := state.Players.NeedsAllFriends()

	var actions []eventloop.Action
	for _, id := range m.SteamIDs {
		if !shouldLookup(usage, needAll, state, id) {
			continue
		}
		owner := id
		client := h.client
		actions = append(actions, eventloop.Action{Future: func(ctx context.Context) eventloop.Message {
			friends, err := client.getFriendList(ctx, owner)
			return FriendLookupResultMsg{Owner: owner, Friends: friends, Err: err}
		}})
	}
	return actions
}

// shouldLookup implements §4.H's selection rule: All always looks up;
// None never looks up unless the need-all override fires; CheatersOnly
// looks up ids already locally classed Cheater/Bot, plus the override.
func shouldLookup(usage config.FriendsAPIUsage, needAll bool, state *match.State, id match.SteamID) bool {
	if needAll {
		return true
	}
	switch usage {
	case config.FriendsAPIAll:
		return true
	case config.FriendsAPICheatersOnly:
		rec, ok := state.Players.Records[id]
		return ok && (rec.Verdict == match.VerdictCheater || rec.Verdict == match.VerdictBot)
	default:
		return false
	}
}

type friendListResponse struct {
	FriendsList struct {
		Friends []struct {
			SteamID      string `json:"steamid"`
			Relationship string `json:"relationship"`
			FriendSince  int64  `json:"friend_since"`
		} `json:"friends"`
	} `json:"friendslist"`
}

func (c *Client) getFriendList(_ context.Context, owner match.SteamID) ([]match.Friend, error) {
	var resp friendListResponse
	err := c.get("/ISteamUser/GetFriendList/v1/", url.Values{
		"steamid":      {strconv.FormatUint(uint64(owner), 10)},
		"relationship": {"friend"},
	}, &resp)
	if err != nil {
		return nil, err
	}

	friends := make([]match.Friend, 0, len(resp.FriendsList.Friends))
	for _, f := range resp.FriendsList.Friends {
		id, parseErr := strconv.ParseUint(f.SteamID, 10, 64)
		if parseErr != nil {
			continue
		}
		friends = append(friends, match.Friend{SteamID: match.SteamID(id), FriendSince: f.FriendSince})
	}
	return friends, nil
}
