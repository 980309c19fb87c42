package match

import "macagent/internal/eventloop"

// NewPlayersMsg notifies downstream handlers (§4.H's Steam enricher) that
// the aggregator just saw one or more previously-unknown steamids. It
// carries no Apply step: the diff was already folded into State by
// ObserveStatus/ObserveG15Row at the moment it was detected.
type NewPlayersMsg struct {
	SteamIDs []SteamID
}

// Kind implements eventloop.Message.
func (NewPlayersMsg) Kind() string { return "new_players" }

// NewPlayersSource drains State's pending-new-player buffer once per
// cycle and turns it into a NewPlayersMsg, per spec.md §4.I "Player diff
// emission". It runs on the loop goroutine like every Source; reading
// State here is safe because nothing else touches it concurrently.
type NewPlayersSource struct {
	state *State
}

// NewNewPlayersSource constructs the diff-emission source for state.
func NewNewPlayersSource(state *State) *NewPlayersSource {
	return &NewPlayersSource{state: state}
}

// RefreshCycleMsg triggers one pass of §4.I's refresh cycle: aging
// last-seen counters, flipping disconnected state, and pruning into
// history. Produced once per completed status/G15 response (§4.E's
// toggle tick).
type RefreshCycleMsg struct{}

// Kind implements eventloop.Message.
func (RefreshCycleMsg) Kind() string { return "refresh_cycle" }

// Apply implements eventloop.Applier[match.State].
func (RefreshCycleMsg) Apply(state *State) { state.Players.Refresh() }

// Name implements eventloop.Source.
func (s *NewPlayersSource) Name() string { return "new-players-diff" }

// Poll implements eventloop.Source.
func (s *NewPlayersSource) Poll() []eventloop.Message {
	ids := s.state.DrainNewPlayers()
	if len(ids) == 0 {
		return nil
	}
	return []eventloop.Message{NewPlayersMsg{SteamIDs: ids}}
}
