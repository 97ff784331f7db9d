package wire

import (
	"bytes"
	"testing"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/registry"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/store"
)

func TestUdpRequestRoundTrips(t *testing.T) {
	data, err := EncodeDiscover()
	if err != nil {
		t.Fatalf("EncodeDiscover: %v", err)
	}
	got, err := DecodeUdpRequest(data)
	if err != nil || got.Kind != UdpDiscover {
		t.Fatalf("Discover round trip failed: %+v err=%v", got, err)
	}

	data, err = EncodeActionProgress(3, 10)
	if err != nil {
		t.Fatalf("EncodeActionProgress: %v", err)
	}
	got, err = DecodeUdpRequest(data)
	if err != nil || got.Kind != UdpActionProgress || got.Done != 3 || got.Total != 10 {
		t.Fatalf("ActionProgress round trip failed: %+v err=%v", got, err)
	}

	hashes := []store.ChunkHash{{1}, {2}}
	data, err = EncodeRequestChunks(hashes)
	if err != nil {
		t.Fatalf("EncodeRequestChunks: %v", err)
	}
	got, err = DecodeUdpRequest(data)
	if err != nil || got.Kind != UdpRequestChunks || len(got.Hashes) != 2 {
		t.Fatalf("RequestChunks round trip failed: %+v err=%v", got, err)
	}
}

func TestUdpRequestRejectsUnknownKind(t *testing.T) {
	data, _ := marshalEnvelopeForTest(999)
	if _, err := DecodeUdpRequest(data); err == nil {
		t.Fatal("expected unknown-kind rejection")
	}
}

func marshalEnvelopeForTest(kind uint16) ([]byte, error) {
	return marshalEnvelope(TcpRequestKind(kind), nil)
}

func TestTcpRequestRoundTrips(t *testing.T) {
	data, err := EncodeHasChunk(store.ChunkHash{9})
	if err != nil {
		t.Fatalf("EncodeHasChunk: %v", err)
	}
	got, err := DecodeTcpRequest(data)
	if err != nil || got.Kind != TcpHasChunk || got.Hash != (store.ChunkHash{9}) {
		t.Fatalf("HasChunk round trip failed: %+v err=%v", got, err)
	}

	data, err = EncodeRegister(registry.RegistrationInfo{Group: "room1", Row: 2, Col: 3, Image: "base"})
	if err != nil {
		t.Fatalf("EncodeRegister: %v", err)
	}
	got, err = DecodeTcpRequest(data)
	if err != nil || got.Registration.Group != "room1" || got.Registration.Row != 2 {
		t.Fatalf("Register round trip failed: %+v err=%v", got, err)
	}

	img := store.Image{BootOptionID: 1, Disk: []store.Chunk{{Hash: store.ChunkHash{5}, Size: 10, Csize: 5}}}
	data, err = EncodeUploadImage("base", img)
	if err != nil {
		t.Fatalf("EncodeUploadImage: %v", err)
	}
	got, err = DecodeTcpRequest(data)
	if err != nil || got.Name != "base" || got.Image == nil || len(got.Image.Disk) != 1 {
		t.Fatalf("UploadImage round trip failed: %+v err=%v", got, err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello frame")
	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("frame round trip mismatch: %q", got)
	}
}

func TestResponseRoundTrips(t *testing.T) {
	data, err := EncodeActionResponse(ActionResponse{Action: registry.ActionFlash, Image: "base"})
	if err != nil {
		t.Fatalf("EncodeActionResponse: %v", err)
	}
	got, err := DecodeActionResponse(data)
	if err != nil || got.Action != registry.ActionFlash || got.Image != "base" {
		t.Fatalf("ActionResponse round trip failed: %+v err=%v", got, err)
	}

	data, err = EncodeOptionalUint64(42, true)
	if err != nil {
		t.Fatalf("EncodeOptionalUint64: %v", err)
	}
	size, present, err := DecodeOptionalUint64(data)
	if err != nil || !present || size != 42 {
		t.Fatalf("present optional uint64 round trip failed: %d %v %v", size, present, err)
	}

	data, err = EncodeOptionalUint64(0, false)
	if err != nil {
		t.Fatalf("EncodeOptionalUint64 absent: %v", err)
	}
	if _, present, err := DecodeOptionalUint64(data); err != nil || present {
		t.Fatalf("absent optional uint64 round trip failed: present=%v err=%v", present, err)
	}

	data, _ = EncodeBool(true)
	if b, err := DecodeBool(data); err != nil || !b {
		t.Fatalf("bool round trip failed: %v %v", b, err)
	}

	data, _ = EncodeOutcome("")
	if msg, err := DecodeOutcome(data); err != nil || msg != "" {
		t.Fatalf("empty outcome round trip failed: %q %v", msg, err)
	}
}

func TestHintPacketRoundTrip(t *testing.T) {
	h := HintPacket{
		Group:  1,
		Row:    2,
		Col:    3,
		Image:  "base",
		Groups: []GroupInfo{{Name: "room1", ID: 1}},
		Images: []string{"base", "contest"},
	}
	data, err := EncodeHintPacket(h)
	if err != nil {
		t.Fatalf("EncodeHintPacket: %v", err)
	}
	got, err := DecodeHintPacket(data)
	if err != nil || got.Group != 1 || got.Image != "base" || len(got.Groups) != 1 {
		t.Fatalf("hint packet round trip failed: %+v err=%v", got, err)
	}
}
