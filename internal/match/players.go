package match

const (
	// DisconnectedThreshold is how many missed refresh cycles flip a
	// player's state to Disconnected (§4.I).
	DisconnectedThreshold = 1
	// CycleLimit is how many missed refresh cycles prune a player out of
	// Connected and into History (§4.I).
	CycleLimit = 5
	// HistoryCap bounds the size of the History queue (§3).
	HistoryCap = 100
)

// StatusFields is the console parser's decoded payload for one `status`
// line (§4.D's Status pattern), passed to Players.ObserveStatus.
type StatusFields struct {
	SteamID SteamID
	Name    string
	UserID  int
	Time    int
	Ping    int
	Loss    int
	State   PlayerState
}

// G15Row is one valid slot from a parsed G15 dump (§4.D).
type G15Row struct {
	SteamID SteamID
	Name    string
	UserID  int
	Team    Team
	Health  int
	Kills   int
	Deaths  int
	Ping    int
}

// Players is the authoritative aggregator described in spec.md §3.
type Players struct {
	GameInfo   map[SteamID]*GameInfo
	SteamInfo  map[SteamID]*SteamInfo
	FriendInfo map[SteamID]*FriendInfo
	Records    map[SteamID]*PlayerRecord
	Tags       map[SteamID]map[string]struct{}
	Connected  []SteamID
	History    []SteamID
	User       *SteamID
}

// NewPlayers constructs an empty aggregator.
func NewPlayers() *Players {
	return &Players{
		GameInfo:   make(map[SteamID]*GameInfo),
		SteamInfo:  make(map[SteamID]*SteamInfo),
		FriendInfo: make(map[SteamID]*FriendInfo),
		Records:    make(map[SteamID]*PlayerRecord),
		Tags:       make(map[SteamID]map[string]struct{}),
	}
}

// IsConnected reports whether id is currently in Connected.
func (p *Players) IsConnected(id SteamID) bool {
	for _, existing := range p.Connected {
		if existing == id {
			return true
		}
	}
	return false
}

func (p *Players) removeFromHistory(id SteamID) {
	for i, existing := range p.History {
		if existing == id {
			p.History = append(p.History[:i], p.History[i+1:]...)
			return
		}
	}
}

func (p *Players) pushHistory(id SteamID) {
	p.removeFromHistory(id)
	p.History = append(p.History, id)
	if len(p.History) > HistoryCap {
		p.History = p.History[len(p.History)-HistoryCap:]
	}
}

// ObserveStatus applies one decoded status line to the aggregator,
// creating or refreshing the player's GameInfo entry, recording a
// previous-name transition, and connecting the player if needed. It
// reports whether this steamid was previously unknown to Connected (i.e.
// whether it belongs in the next NewPlayers diff).
func (p *Players) ObserveStatus(f StatusFields) (isNew bool) {
	return p.observe(f.SteamID, f.Name, func(gi *GameInfo) {
		gi.UserID = f.UserID
		gi.Time = f.Time
		gi.Ping = f.Ping
		gi.Loss = f.Loss
		if f.State != StateDisconnected {
			gi.State = f.State
		}
	})
}

// ObserveG15Row applies one decoded G15 slot to the aggregator, with the
// same creation/refresh/previous-name semantics as ObserveStatus.
func (p *Players) ObserveG15Row(row G15Row) (isNew bool) {
	return p.observe(row.SteamID, row.Name, func(gi *GameInfo) {
		gi.UserID = row.UserID
		gi.Team = row.Team
		gi.Kills = row.Kills
		gi.Deaths = row.Deaths
		gi.Ping = row.Ping
	})
}

func (p *Players) observe(id SteamID, name string, mutate func(*GameInfo)) (isNew bool) {
	gi, exists := p.GameInfo[id]
	if !exists {
		gi = &GameInfo{Name: name, State: StateActive}
		p.GameInfo[id] = gi
	}

	if name != "" && gi.Name != "" && name != gi.Name {
		rec := p.recordFor(id)
		rec.PreviousNames = appendIfNew(rec.PreviousNames, gi.Name)
	}
	if name != "" {
		gi.Name = name
	}
	gi.LastSeenCycle = 0
	gi.State = StateActive
	mutate(gi)

	wasConnected := p.IsConnected(id)
	if !wasConnected {
		p.Connected = append(p.Connected, id)
		p.removeFromHistory(id)
	}
	return !wasConnected
}

func appendIfNew(names []string, name string) []string {
	for _, existing := range names {
		if existing == name {
			return names
		}
	}
	return append(names, name)
}

func (p *Players) recordFor(id SteamID) *PlayerRecord {
	rec, ok := p.Records[id]
	if !ok {
		rec = &PlayerRecord{Verdict: VerdictPlayer}
		p.Records[id] = rec
	}
	return rec
}

// Refresh runs the periodic maintenance cycle described in §4.I, driven
// by the RCON manager's refresh tick: every connected player's
// LastSeenCycle is incremented; players past DisconnectedThreshold flip
// to Disconnected; players past CycleLimit are pruned from Connected and
// pushed into History. It returns the steamids pruned this cycle.
func (p *Players) Refresh() []SteamID {
	var pruned []SteamID
	remaining := p.Connected[:0:0]

	for _, id := range p.Connected {
		gi, ok := p.GameInfo[id]
		if !ok {
			continue
		}
		gi.LastSeenCycle++
		if gi.LastSeenCycle > DisconnectedThreshold {
			gi.State = StateDisconnected
		}
		if gi.LastSeenCycle > CycleLimit {
			delete(p.GameInfo, id)
			p.pushHistory(id)
			pruned = append(pruned, id)
			continue
		}
		remaining = append(remaining, id)
	}

	p.Connected = remaining
	return pruned
}

// Tag adds a short label (e.g. "Friend") to a steamid.
func (p *Players) Tag(id SteamID, tag string) {
	set, ok := p.Tags[id]
	if !ok {
		set = make(map[string]struct{})
		p.Tags[id] = set
	}
	set[tag] = struct{}{}
}

// HasTag reports whether id carries tag.
func (p *Players) HasTag(id SteamID, tag string) bool {
	set, ok := p.Tags[id]
	if !ok {
		return false
	}
	_, ok = set[tag]
	return ok
}
