package demo

import "macagent/internal/match"

// SteamID aliases the match package's steamid type so this package's demo
// analyser output doesn't need its own duplicate representation.
type SteamID = match.SteamID

// Event is the marker interface for demo-analyser output of interest
// (§4.F step 3: "events of interest").
type Event interface{ demoEvent() }

// VoteStartedEvent records a new in-game vote and its option strings. The
// web API broadcasts it as-is; it keeps no vote-index map, so a later
// VoteCastEvent reaches SSE clients with its option index unresolved.
type VoteStartedEvent struct {
	VoteIndex int
	Issue     string
	Options   []string
}

func (VoteStartedEvent) demoEvent() {}

// VoteCastEvent records one player's vote, with the voter's steamid
// resolved via the entity-id -> player map maintained by the manager.
type VoteCastEvent struct {
	VoteIndex int
	Voter     SteamID
	Option    int
}

func (VoteCastEvent) demoEvent() {}

// packetType enumerates the subset of Source demo packet types this
// analyser cares about; everything else is skipped by length.
type packetType byte

const (
	packetVoteStarted packetType = 1
	packetVoteCast    packetType = 2
	packetOther       packetType = 0
)

// packet is one decoded unit yielded by the packet iterator.
type packet struct {
	tick    int32
	kind    packetType
	payload []byte
}

// nextPacket reads one {tick, type, length, payload} record from r. A
// length-prefixed, byte-aligned framing (rather than the real Source
// engine's per-type field layout) keeps the iterator's underflow/retry
// contract identical while staying tractable to hand-roll without a
// generated protocol description.
func nextPacket(r *BitReader) (packet, error) {
	start := r.Pos()

	tickBits, err := r.ReadBits(32)
	if err != nil {
		r.Seek(start)
		return packet{}, err
	}
	kindBits, err := r.ReadBits(8)
	if err != nil {
		r.Seek(start)
		return packet{}, err
	}
	length, err := r.ReadUvarint()
	if err != nil {
		r.Seek(start)
		return packet{}, err
	}
	payload, err := r.ReadBytes(int(length))
	if err != nil {
		r.Seek(start)
		return packet{}, err
	}

	return packet{tick: int32(tickBits), kind: packetType(kindBits), payload: payload}, nil
}

// decodeVoteStarted parses a VoteStartedEvent out of a vote-started
// packet's payload (§4.F step 3).
func decodeVoteStarted(payload []byte) (VoteStartedEvent, error) {
	r := NewBitReader(payload)
	voteIndex, err := r.ReadBits(32)
	if err != nil {
		return VoteStartedEvent{}, err
	}
	issue, err := readUvarintString(r)
	if err != nil {
		return VoteStartedEvent{}, err
	}
	numOptions, err := r.ReadUvarint()
	if err != nil {
		return VoteStartedEvent{}, err
	}
	options := make([]string, 0, numOptions)
	for i := uint64(0); i < numOptions; i++ {
		opt, err := readUvarintString(r)
		if err != nil {
			return VoteStartedEvent{}, err
		}
		options = append(options, opt)
	}
	return VoteStartedEvent{VoteIndex: int(int32(voteIndex)), Issue: issue, Options: options}, nil
}

// decodeVoteCast parses a {voteIndex, entityID, option} triple out of a
// vote-cast packet's payload; entityID is resolved to a steamid by the
// manager via its entity-id <-> player map, not here.
func decodeVoteCast(payload []byte) (voteIndex int, entityID int32, option int, err error) {
	r := NewBitReader(payload)
	vi, err := r.ReadBits(32)
	if err != nil {
		return 0, 0, 0, err
	}
	eid, err := r.ReadBits(32)
	if err != nil {
		return 0, 0, 0, err
	}
	opt, err := r.ReadBits(32)
	if err != nil {
		return 0, 0, 0, err
	}
	return int(int32(vi)), int32(eid), int(int32(opt)), nil
}

func readUvarintString(r *BitReader) (string, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return "", err
	}
	raw, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
