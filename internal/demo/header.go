package demo

import "math"

const (
	headerMagicSize  = 8
	headerStringSize = 260
)

// Header mirrors the fixed-size preamble every Source engine demo begins
// with: a magic tag, protocol versions, participant/map identifiers, and
// playback metadata.
type Header struct {
	Magic             string
	DemoProtocol      int32
	NetworkProtocol   int32
	ServerName        string
	ClientName        string
	MapName           string
	GameDirectory     string
	PlaybackTime      float32
	PlaybackTicks     int32
	PlaybackFrames    int32
	SignonLength      int32
}

// ParseHeader attempts to parse a Header starting at the reader's current
// position (bit offset 0 for a fresh demo, per §4.F step 2). On
// ErrNotEnoughData the caller should stop and wait for more bytes without
// treating it as a parse error.
func ParseHeader(r *BitReader) (Header, error) {
	var h Header

	magic, err := r.ReadCString(headerMagicSize)
	if err != nil {
		return Header{}, err
	}
	h.Magic = magic

	demoProto, err := r.ReadBits(32)
	if err != nil {
		return Header{}, err
	}
	h.DemoProtocol = int32(demoProto)

	netProto, err := r.ReadBits(32)
	if err != nil {
		return Header{}, err
	}
	h.NetworkProtocol = int32(netProto)

	if h.ServerName, err = r.ReadCString(headerStringSize); err != nil {
		return Header{}, err
	}
	if h.ClientName, err = r.ReadCString(headerStringSize); err != nil {
		return Header{}, err
	}
	if h.MapName, err = r.ReadCString(headerStringSize); err != nil {
		return Header{}, err
	}
	if h.GameDirectory, err = r.ReadCString(headerStringSize); err != nil {
		return Header{}, err
	}

	playbackTimeBits, err := r.ReadBits(32)
	if err != nil {
		return Header{}, err
	}
	h.PlaybackTime = math.Float32frombits(uint32(playbackTimeBits))

	ticks, err := r.ReadBits(32)
	if err != nil {
		return Header{}, err
	}
	h.PlaybackTicks = int32(ticks)

	frames, err := r.ReadBits(32)
	if err != nil {
		return Header{}, err
	}
	h.PlaybackFrames = int32(frames)

	signon, err := r.ReadBits(32)
	if err != nil {
		return Header{}, err
	}
	h.SignonLength = int32(signon)

	return h, nil
}
