package wire

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

const (
	VoiceHeaderLen        = 20
	MinVoiceDatagramBytes = 20
	MaxVoiceDatagramBytes = 1500

	voiceVersion = 1

	FlagVoiceActive byte = 1 << 0
	FlagFEC         byte = 1 << 1
	flagsReserved        = ^(FlagVoiceActive | FlagFEC)
)

// VoiceHeader is the fixed 20-byte header that precedes every voice
// datagram payload, laid out per SPEC_FULL.md §4.1 / spec.md §4.1.
type VoiceHeader struct {
	Version           uint8
	Flags             uint8
	HeaderLen         uint16
	ChannelRouteHash  uint32
	SSRC              uint32
	Sequence          uint32
	TimestampMillis   uint32
}

func (h VoiceHeader) VoiceActive() bool { return h.Flags&FlagVoiceActive != 0 }

// ParseVoiceHeader validates and decodes the first 20 bytes of data. It
// rejects version mismatches, a header_len other than 20, and any reserved
// flag bit set, per Testable Property 6.
func ParseVoiceHeader(data []byte) (VoiceHeader, error) {
	if len(data) < VoiceHeaderLen {
		return VoiceHeader{}, fmt.Errorf("%w: short voice datagram: %d bytes", ErrProtocol, len(data))
	}

	h := VoiceHeader{
		Version:          data[0],
		Flags:            data[1],
		HeaderLen:        binary.BigEndian.Uint16(data[2:4]),
		ChannelRouteHash: binary.BigEndian.Uint32(data[4:8]),
		SSRC:             binary.BigEndian.Uint32(data[8:12]),
		Sequence:         binary.BigEndian.Uint32(data[12:16]),
		TimestampMillis:  binary.BigEndian.Uint32(data[16:20]),
	}

	if h.Version != voiceVersion {
		return VoiceHeader{}, fmt.Errorf("%w: unsupported voice header version %d", ErrProtocol, h.Version)
	}
	if h.HeaderLen != VoiceHeaderLen {
		return VoiceHeader{}, fmt.Errorf("%w: unexpected header_len %d", ErrProtocol, h.HeaderLen)
	}
	if h.Flags&flagsReserved != 0 {
		return VoiceHeader{}, fmt.Errorf("%w: reserved flag bits set", ErrProtocol)
	}

	return h, nil
}

// EncodeVoiceHeader writes h's fixed fields into a new 20-byte header.
func EncodeVoiceHeader(h VoiceHeader) []byte {
	buf := make([]byte, VoiceHeaderLen)
	buf[0] = voiceVersion
	buf[1] = h.Flags
	binary.BigEndian.PutUint16(buf[2:4], VoiceHeaderLen)
	binary.BigEndian.PutUint32(buf[4:8], h.ChannelRouteHash)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)
	binary.BigEndian.PutUint32(buf[12:16], h.Sequence)
	binary.BigEndian.PutUint32(buf[16:20], h.TimestampMillis)
	return buf
}

// ChannelRouteHash computes the FNV-1a 32-bit digest of a channel id's
// canonical ASCII UUID string, used both to stamp outgoing datagrams and to
// verify the membership cache's resolution (guards against the 32-bit
// collision risk called out in spec.md §9 Design Note 3).
func ChannelRouteHash(channelUUID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(channelUUID))
	return h.Sum32()
}

// TimestampSane reports whether nowMs and tsMs are within maxSkewMs of each
// other, accounting for uint32 wraparound in both directions (Testable
// Property: timestamp sanity check in the forwarder pipeline).
func TimestampSane(nowMs, tsMs uint32, maxSkewMs uint32) bool {
	diff := nowMs - tsMs
	if diff > 1<<31 {
		diff = tsMs - nowMs
	}
	return diff <= maxSkewMs
}
