package steamapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"macagent/internal/eventloop"
	"macagent/internal/match"
)

// ProfileBatchSize is the maximum number of steamids drained per batch
// tick (§4.H: "drain up to BATCH=20 ids").
const ProfileBatchSize = 20

// ProfileTickInterval is how often the pending buffer is drained, per
// §4.H's "ProfileLookupBatchTick (periodic, 500 ms)".
const ProfileTickInterval = 500 * time.Millisecond

// ProfileOutcome is one steamid's result within a batched lookup: either a
// populated snapshot or a per-id error. A missing summary or ban entry for
// a requested id surfaces here, not as a whole-batch failure.
type ProfileOutcome struct {
	SteamID match.SteamID
	Info    match.SteamInfo
	Err     error
}

// ProfileLookupResultMsg carries the outcomes of one batched
// GetPlayerSummaries+GetPlayerBans request.
type ProfileLookupResultMsg struct {
	Outcomes []ProfileOutcome
}

// Kind implements eventloop.Message.
func (ProfileLookupResultMsg) Kind() string { return "steamapi.profile_result" }

// Apply implements eventloop.Applier[match.State]: successful outcomes
// replace the player's SteamInfo snapshot; errored outcomes are dropped
// without being logged or stored in state.
func (m ProfileLookupResultMsg) Apply(state *match.State) {
	for _, o := range m.Outcomes {
		if o.Err != nil {
			continue
		}
		info := o.Info
		state.Players.SteamInfo[o.SteamID] = &info
	}
}

// profileBatchTickMsg is the internal periodic tick driving drains.
type profileBatchTickMsg struct{}

// Kind implements eventloop.Message.
func (profileBatchTickMsg) Kind() string { return "steamapi.profile_tick" }

// profileTickSource fires profileBatchTickMsg every ProfileTickInterval.
type profileTickSource struct {
	interval time.Duration
	last     time.Time
	primed   bool
}

func newProfileTickSource() *profileTickSource {
	return &profileTickSource{interval: ProfileTickInterval}
}

// Name implements eventloop.Source.
func (s *profileTickSource) Name() string { return "steamapi-profile-tick" }

// Poll implements eventloop.Source.
func (s *profileTickSource) Poll() []eventloop.Message {
	now := time.Now()
	if s.primed && now.Sub(s.last) < s.interval {
		return nil
	}
	s.primed = true
	s.last = now
	return []eventloop.Message{profileBatchTickMsg{}}
}

// ProfilesHandler maintains the deduplicated FIFO pending-lookup buffer
// and, on every tick where the API key is configured, drains up to
// ProfileBatchSize ids and spawns one combined summaries+bans request.
type ProfilesHandler struct {
	client  *Client
	pending []match.SteamID
	seen    map[match.SteamID]struct{}
}

// NewProfilesHandler constructs the handler. client may be nil if no
// Steam API key was configured; NewPlayers are still buffered but never
// drained (§7: "Configuration missing ... silently disables enrichment").
func NewProfilesHandler(client *Client) *ProfilesHandler {
	return &ProfilesHandler{client: client, seen: make(map[match.SteamID]struct{})}
}

// Source returns the periodic tick source this handler reacts to; wire it
// into the loop alongside the handler itself.
func (h *ProfilesHandler) Source() eventloop.Source { return newProfileTickSource() }

// Handle implements eventloop.Handler[match.State].
func (h *ProfilesHandler) Handle(_ *match.State, msg eventloop.Message) []eventloop.Action {
	switch m := msg.(type) {
	case match.NewPlayersMsg:
		h.enqueue(m.SteamIDs)
		return nil
	case profileBatchTickMsg:
		return h.drain()
	default:
		return nil
	}
}

func (h *ProfilesHandler) enqueue(ids []match.SteamID) {
	for _, id := range ids {
		if _, ok := h.seen[id]; ok {
			continue
		}
		h.seen[id] = struct{}{}
		h.pending = append(h.pending, id)
	}
}

func (h *ProfilesHandler) drain() []eventloop.Action {
	if h.client == nil || len(h.pending) == 0 {
		return nil
	}
	n := ProfileBatchSize
	if n > len(h.pending) {
		n = len(h.pending)
	}
	batch := h.pending[:n]
	h.pending = h.pending[n:]
	for _, id := range batch {
		delete(h.seen, id)
	}

	client := h.client
	return []eventloop.Action{{
		Future: func(ctx context.Context) eventloop.Message {
			return ProfileLookupResultMsg{Outcomes: client.lookupProfiles(ctx, batch)}
		},
	}}
}

// summariesResponse mirrors ISteamUser/GetPlayerSummaries/v2's envelope.
type summariesResponse struct {
	Response struct {
		Players []struct {
			SteamID                 string `json:"steamid"`
			PersonaName             string `json:"personaname"`
			AvatarHash              string `json:"avatarhash"`
			ProfileURL              string `json:"profileurl"`
			CommunityVisibilityState int   `json:"communityvisibilitystate"`
			TimeCreated              int64 `json:"timecreated"`
			LocCountryCode           string `json:"loccountrycode"`
		} `json:"players"`
	} `json:"response"`
}

// bansResponse mirrors ISteamUser/GetPlayerBans/v1's envelope.
type bansResponse struct {
	Players []struct {
		SteamID          string `json:"SteamId"`
		VACBanned        bool   `json:"VACBanned"`
		NumberOfVACBans  int    `json:"NumberOfVACBans"`
		NumberOfGameBans int    `json:"NumberOfGameBans"`
		DaysSinceLastBan int    `json:"DaysSinceLastBan"`
	} `json:"players"`
}

func (c *Client) lookupProfiles(_ context.Context, ids []match.SteamID) []ProfileOutcome {
	ids64 := make([]string, len(ids))
	for i, id := range ids {
		ids64[i] = strconv.FormatUint(uint64(id), 10)
	}
	joined := strings.Join(ids64, ",")

	var summaries summariesResponse
	summariesErr := c.get("/ISteamUser/GetPlayerSummaries/v2/", url.Values{"steamids": {joined}}, &summaries)

	var bans bansResponse
	bansErr := c.get("/ISteamUser/GetPlayerBans/v1/", url.Values{"steamids": {joined}}, &bans)

	summaryByID := make(map[string]int)
	for i, p := range summaries.Response.Players {
		summaryByID[p.SteamID] = i
	}
	banByID := make(map[string]int)
	for i, p := range bans.Players {
		banByID[p.SteamID] = i
	}

	outcomes := make([]ProfileOutcome, 0, len(ids))
	for i, id := range ids {
		idStr := ids64[i]

		if summariesErr != nil {
			outcomes = append(outcomes, ProfileOutcome{SteamID: id, Err: fmt.Errorf("summaries: %w", summariesErr)})
			continue
		}
		sidx, ok := summaryByID[idStr]
		if !ok {
			outcomes = append(outcomes, ProfileOutcome{SteamID: id, Err: fmt.Errorf("no summary returned for %s", idStr)})
			continue
		}
		summary := summaries.Response.Players[sidx]

		info := match.SteamInfo{
			AccountName: summary.PersonaName,
			AvatarHash:  summary.AvatarHash,
			ProfileURL:  summary.ProfileURL,
			Visibility:  visibilityFromSteam(summary.CommunityVisibilityState),
			TimeCreated: summary.TimeCreated,
			Country:     summary.LocCountryCode,
		}

		if bansErr != nil {
			outcomes = append(outcomes, ProfileOutcome{SteamID: id, Err: fmt.Errorf("bans: %w", bansErr)})
			continue
		}
		bidx, ok := banByID[idStr]
		if !ok {
			outcomes = append(outcomes, ProfileOutcome{SteamID: id, Err: fmt.Errorf("no ban record returned for %s", idStr)})
			continue
		}
		ban := bans.Players[bidx]
		info.VACBans = ban.NumberOfVACBans
		info.GameBans = ban.NumberOfGameBans
		if info.VACBans > 0 || info.GameBans > 0 {
			days := ban.DaysSinceLastBan
			info.DaysSinceLastBan = &days
		}

		outcomes = append(outcomes, ProfileOutcome{SteamID: id, Info: info})
	}
	return outcomes
}

// visibilityFromSteam maps the Steam Web API's numeric visibility enum
// (1=Private, 3=FriendsOnly, 5=Public) onto match.Visibility.
func visibilityFromSteam(v int) match.Visibility {
	switch v {
	case 3:
		return match.VisibilityFriendsOnly
	case 5:
		return match.VisibilityPublic
	default:
		return match.VisibilityPrivate
	}
}
