package match

import "macagent/internal/config"

// State is the MACState aggregate from spec.md §3: runtime settings, the
// player/server model, and server metadata, mutated only by the
// event-loop goroutine between handler passes.
type State struct {
	Settings *config.Config
	Players  *Players
	Server   ServerInfo

	pendingNewPlayers []SteamID
}

// NewState constructs the aggregate root given the agent's loaded
// configuration.
func NewState(cfg *config.Config) *State {
	return &State{
		Settings: cfg,
		Players:  NewPlayers(),
	}
}

// ObserveStatus ingests one decoded status line (§4.D → §4.I) and queues
// a NewPlayers diff entry if the steamid was previously unknown.
func (s *State) ObserveStatus(f StatusFields) {
	if s.Players.ObserveStatus(f) {
		s.pendingNewPlayers = append(s.pendingNewPlayers, f.SteamID)
	}
}

// ObserveG15Row ingests one decoded G15 slot with the same diff bookkeeping
// as ObserveStatus.
func (s *State) ObserveG15Row(row G15Row) {
	if s.Players.ObserveG15Row(row) {
		s.pendingNewPlayers = append(s.pendingNewPlayers, row.SteamID)
	}
}

// DrainNewPlayers removes and returns steamids queued for the NewPlayers
// diff since the last drain. Safe to call only from the loop goroutine.
func (s *State) DrainNewPlayers() []SteamID {
	if len(s.pendingNewPlayers) == 0 {
		return nil
	}
	out := s.pendingNewPlayers
	s.pendingNewPlayers = nil
	return out
}
