package demo

import (
	"encoding/binary"
	"math"
)

// encodeVoteStarted/encodeVoteCast/encodeHeader/encodePacket exist only for
// tests exercising the manager's framing and decoding without a real demo
// file; the manager never calls them itself (packets arrive pre-framed
// from the watched file).

func encodeHeader(h Header) []byte {
	var buf []byte
	buf = appendCString(buf, h.Magic, headerMagicSize)
	buf = appendInt32(buf, h.DemoProtocol)
	buf = appendInt32(buf, h.NetworkProtocol)
	buf = appendCString(buf, h.ServerName, headerStringSize)
	buf = appendCString(buf, h.ClientName, headerStringSize)
	buf = appendCString(buf, h.MapName, headerStringSize)
	buf = appendCString(buf, h.GameDirectory, headerStringSize)
	buf = appendInt32(buf, int32(math.Float32bits(h.PlaybackTime)))
	buf = appendInt32(buf, h.PlaybackTicks)
	buf = appendInt32(buf, h.PlaybackFrames)
	buf = appendInt32(buf, h.SignonLength)
	return buf
}

func encodePacket(tick int32, kind packetType, payload []byte) []byte {
	var buf []byte
	buf = appendInt32(buf, tick)
	buf = append(buf, byte(kind))
	buf = appendUvarint(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func appendCString(buf []byte, s string, size int) []byte {
	fixed := make([]byte, size)
	copy(fixed, s)
	return append(buf, fixed...)
}

func encodeVoteStarted(voteIndex int32, issue string, options []string) []byte {
	var buf []byte
	buf = appendInt32(buf, voteIndex)
	buf = appendUvarintString(buf, issue)
	buf = appendUvarint(buf, uint64(len(options)))
	for _, opt := range options {
		buf = appendUvarintString(buf, opt)
	}
	return buf
}

func encodeVoteCast(voteIndex, entityID, option int32) []byte {
	var buf []byte
	buf = appendInt32(buf, voteIndex)
	buf = appendInt32(buf, entityID)
	buf = appendInt32(buf, option)
	return buf
}

func appendInt32(buf []byte, v int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	return append(buf, tmp[:]...)
}

func appendUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func appendUvarintString(buf []byte, s string) []byte {
	buf = appendUvarint(buf, uint64(len(s)))
	return append(buf, []byte(s)...)
}
