package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeParseVoiceHeaderRoundTrip(t *testing.T) {
	h := VoiceHeader{
		Flags:            FlagVoiceActive,
		ChannelRouteHash: 0xdeadbeef,
		SSRC:             42,
		Sequence:         7,
		TimestampMillis:  123456,
	}
	encoded := EncodeVoiceHeader(h)
	if len(encoded) != VoiceHeaderLen {
		t.Fatalf("encoded length = %d, want %d", len(encoded), VoiceHeaderLen)
	}

	parsed, err := ParseVoiceHeader(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ChannelRouteHash != h.ChannelRouteHash || parsed.SSRC != h.SSRC ||
		parsed.Sequence != h.Sequence || parsed.TimestampMillis != h.TimestampMillis {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", parsed, h)
	}
	if !parsed.VoiceActive() {
		t.Fatalf("expected VoiceActive flag to survive round-trip")
	}
}

func TestParseVoiceHeaderRejectsShortDatagram(t *testing.T) {
	_, err := ParseVoiceHeader(make([]byte, 10))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestParseVoiceHeaderRejectsVersionMismatch(t *testing.T) {
	buf := EncodeVoiceHeader(VoiceHeader{})
	buf[0] = 2
	_, err := ParseVoiceHeader(buf)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestParseVoiceHeaderRejectsBadHeaderLen(t *testing.T) {
	buf := EncodeVoiceHeader(VoiceHeader{})
	buf[2] = 0
	buf[3] = 19
	_, err := ParseVoiceHeader(buf)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestParseVoiceHeaderRejectsReservedFlags(t *testing.T) {
	buf := EncodeVoiceHeader(VoiceHeader{Flags: 1 << 7})
	_, err := ParseVoiceHeader(buf)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestChannelRouteHashStable(t *testing.T) {
	a := ChannelRouteHash("11111111-1111-1111-1111-111111111111")
	b := ChannelRouteHash("11111111-1111-1111-1111-111111111111")
	c := ChannelRouteHash("22222222-2222-2222-2222-222222222222")
	if a != b {
		t.Fatalf("same input produced different hashes: %d != %d", a, b)
	}
	if a == c {
		t.Fatalf("different inputs collided (unlikely but not guaranteed impossible): %d", a)
	}
}

func TestTimestampSaneWithinSkew(t *testing.T) {
	if !TimestampSane(1000, 900, 200) {
		t.Fatalf("expected 100ms diff to be within 200ms skew")
	}
	if TimestampSane(1000, 500, 200) {
		t.Fatalf("expected 500ms diff to exceed 200ms skew")
	}
}

func TestTimestampSaneHandlesWraparound(t *testing.T) {
	var now uint32 = 50
	var ts uint32 = ^uint32(0) - 50 // just before wraparound, 101ms before now
	if !TimestampSane(now, ts, 200) {
		t.Fatalf("expected wraparound-adjacent timestamps to be sane within skew")
	}
}

func TestVoiceDatagramBoundsConsistency(t *testing.T) {
	if MinVoiceDatagramBytes != VoiceHeaderLen {
		t.Fatalf("MinVoiceDatagramBytes should equal VoiceHeaderLen")
	}
	if MaxVoiceDatagramBytes <= MinVoiceDatagramBytes {
		t.Fatalf("MaxVoiceDatagramBytes must exceed MinVoiceDatagramBytes")
	}
	if !bytes.Equal(EncodeVoiceHeader(VoiceHeader{})[:1], []byte{voiceVersion}) {
		t.Fatalf("encoded header must start with the current version byte")
	}
}
