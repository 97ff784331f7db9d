package codec

import (
	"bytes"
	"math/rand"
	"testing"
)

func encodeAll(t *testing.T, data []byte) [][]byte {
	t.Helper()
	enc, err := NewEncoder(data)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	var packets [][]byte
	for {
		buf := make([]byte, MaxSize)
		pkt, ok := enc.NextPacket(buf)
		if !ok {
			break
		}
		cp := make([]byte, len(pkt))
		copy(cp, pkt)
		packets = append(packets, cp)
	}
	return packets
}

func TestSingleChunkRoundTrip(t *testing.T) {
	data := make([]byte, 1000)
	rand.New(rand.NewSource(1)).Read(data)

	packets := encodeAll(t, data)
	if len(packets) != 2 {
		t.Fatalf("expected 1 data + 1 parity packet for a 1000-byte chunk, got %d", len(packets))
	}

	for _, drop := range []int{0, 1} {
		dec := NewDecoder(len(data))
		for i, p := range packets {
			if i == drop {
				continue
			}
			if err := dec.AddPacket(p); err != nil {
				t.Fatalf("AddPacket: %v", err)
			}
		}
		got, ok := dec.Finish()
		if !ok {
			t.Fatalf("Finish: not ready after dropping packet %d", drop)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("dropping packet %d: round trip mismatch", drop)
		}
	}
}

func TestMultiGroupLossy(t *testing.T) {
	data := make([]byte, 200*1024)
	rand.New(rand.NewSource(2)).Read(data)

	packets := encodeAll(t, data)
	wantData := (len(data) + BodyLen - 1) / BodyLen
	if wantData != 147 {
		t.Fatalf("expected 147 data packets, got %d", wantData)
	}
	if len(packets) != wantData+32 {
		t.Fatalf("expected %d packets, got %d", wantData+32, len(packets))
	}

	// Drop exactly one packet per group (mod 32 of its wire index).
	rng := rand.New(rand.NewSource(3))
	dropped := make(map[int]bool)
	for g := 0; g < 32; g++ {
		var candidates []int
		for i, p := range packets {
			idx := getIndex(p)
			group := int(idx) & 31
			if group == g {
				candidates = append(candidates, i)
			}
		}
		dropped[candidates[rng.Intn(len(candidates))]] = true
	}

	dec := NewDecoder(len(data))
	for i, p := range packets {
		if dropped[i] {
			continue
		}
		if err := dec.AddPacket(p); err != nil {
			t.Fatalf("AddPacket: %v", err)
		}
	}
	got, ok := dec.Finish()
	if !ok {
		t.Fatal("Finish: expected success with one loss per group")
	}
	if !bytes.Equal(got, data) {
		t.Fatal("multi-group lossy round trip mismatch")
	}
}

func TestTwoMissingInSameGroupNeverFinishes(t *testing.T) {
	data := make([]byte, 200*1024)
	rand.New(rand.NewSource(4)).Read(data)
	packets := encodeAll(t, data)

	var groupZero []int
	for i, p := range packets {
		if int(getIndex(p))&31 == 0 {
			groupZero = append(groupZero, i)
		}
	}
	if len(groupZero) < 2 {
		t.Fatal("expected at least 2 packets in group 0")
	}

	dec := NewDecoder(len(data))
	skip := map[int]bool{groupZero[0]: true, groupZero[1]: true}
	for i, p := range packets {
		if skip[i] {
			continue
		}
		_ = dec.AddPacket(p)
	}
	if _, ok := dec.Finish(); ok {
		t.Fatal("expected Finish to fail with two missing packets in one group")
	}
}

func TestDuplicatePacketIsIgnored(t *testing.T) {
	data := []byte("hello, pixie")
	packets := encodeAll(t, data)
	dec := NewDecoder(len(data))
	for _, p := range packets {
		if err := dec.AddPacket(p); err != nil {
			t.Fatalf("AddPacket: %v", err)
		}
	}
	if err := dec.AddPacket(packets[0]); err != nil {
		t.Fatalf("duplicate AddPacket should succeed silently: %v", err)
	}
	got, ok := dec.Finish()
	if !ok || !bytes.Equal(got, data) {
		t.Fatal("duplicate packet corrupted decode")
	}
}

func TestInvalidIndexRejected(t *testing.T) {
	dec := NewDecoder(10)
	buf := make([]byte, MinSize+1)
	putIndex(buf, 9999) // well beyond the single data packet for a 10-byte chunk
	if err := dec.AddPacket(buf); err != ErrInvalidIndex {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
}

func TestPacketTooSmallAndTooBig(t *testing.T) {
	dec := NewDecoder(10)
	if err := dec.AddPacket(nil); err != ErrPacketTooSmall {
		t.Fatalf("expected ErrPacketTooSmall, got %v", err)
	}
	big := make([]byte, MaxSize+1)
	if err := dec.AddPacket(big); err != ErrPacketTooBig {
		t.Fatalf("expected ErrPacketTooBig, got %v", err)
	}
}

func TestEmptyChunkRejectedAtEncode(t *testing.T) {
	if _, err := NewEncoder(nil); err == nil {
		t.Fatal("expected error encoding a zero-length chunk")
	}
}
