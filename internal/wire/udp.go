// Package wire implements the server/client control protocol: the
// CBOR-encoded UDP request enum and TCP request/response envelopes, using
// a Kind-discriminated envelope with a raw CBOR body, so unknown kinds are
// rejected as malformed rather than silently ignored.
package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/store"
)

// ErrUnknownKind rejects a frame whose Kind discriminant names no known
// variant, per the closed-tag-set wire discipline.
var ErrUnknownKind = errors.New("wire: unknown message kind")

// UdpRequestKind discriminates the UDP control datagram variants.
type UdpRequestKind uint16

const (
	UdpDiscover        UdpRequestKind = 1
	UdpActionProgress  UdpRequestKind = 2
	UdpRequestChunks   UdpRequestKind = 3
)

type udpEnvelope struct {
	Kind UdpRequestKind  `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

type actionProgressBody struct {
	Done  uint64 `cbor:"1,keyasint"`
	Total uint64 `cbor:"2,keyasint"`
}

type requestChunksBody struct {
	Hashes []store.ChunkHash `cbor:"1,keyasint"`
}

// UdpRequest is the decoded form of any UDP control datagram sent by a
// client: a Discover liveness probe, an ActionProgress report, or a
// RequestChunks batch. Only the fields relevant to Kind are populated.
type UdpRequest struct {
	Kind   UdpRequestKind
	Done   uint64
	Total  uint64
	Hashes []store.ChunkHash
}

// EncodeDiscover encodes a liveness probe.
func EncodeDiscover() ([]byte, error) {
	return cbor.Marshal(udpEnvelope{Kind: UdpDiscover})
}

// EncodeActionProgress encodes a client's progress report for its current
// action.
func EncodeActionProgress(done, total uint64) ([]byte, error) {
	body, err := cbor.Marshal(actionProgressBody{Done: done, Total: total})
	if err != nil {
		return nil, fmt.Errorf("wire: encode action progress: %w", err)
	}
	return cbor.Marshal(udpEnvelope{Kind: UdpActionProgress, Body: body})
}

// EncodeRequestChunks encodes a batch chunk request.
func EncodeRequestChunks(hashes []store.ChunkHash) ([]byte, error) {
	body, err := cbor.Marshal(requestChunksBody{Hashes: hashes})
	if err != nil {
		return nil, fmt.Errorf("wire: encode request chunks: %w", err)
	}
	return cbor.Marshal(udpEnvelope{Kind: UdpRequestChunks, Body: body})
}

// DecodeUdpRequest decodes a UDP control datagram, rejecting any kind
// outside the closed set above.
func DecodeUdpRequest(data []byte) (UdpRequest, error) {
	var env udpEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return UdpRequest{}, fmt.Errorf("wire: decode udp request: %w", err)
	}
	switch env.Kind {
	case UdpDiscover:
		return UdpRequest{Kind: UdpDiscover}, nil
	case UdpActionProgress:
		var b actionProgressBody
		if err := cbor.Unmarshal(env.Body, &b); err != nil {
			return UdpRequest{}, fmt.Errorf("wire: decode action progress: %w", err)
		}
		return UdpRequest{Kind: env.Kind, Done: b.Done, Total: b.Total}, nil
	case UdpRequestChunks:
		var b requestChunksBody
		if err := cbor.Unmarshal(env.Body, &b); err != nil {
			return UdpRequest{}, fmt.Errorf("wire: decode request chunks: %w", err)
		}
		return UdpRequest{Kind: env.Kind, Hashes: b.Hashes}, nil
	default:
		return UdpRequest{}, fmt.Errorf("%w: %d", ErrUnknownKind, env.Kind)
	}
}

// GroupInfo mirrors one configured imaging-room group, as broadcast in the
// hint beacon so unregistered clients can render a room layout.
type GroupInfo struct {
	Name string `cbor:"1,keyasint"`
	ID   uint8  `cbor:"2,keyasint"`
	Rows uint8  `cbor:"3,keyasint"`
	Cols uint8  `cbor:"4,keyasint"`
}

// HintPacket is the server's once-per-second UDP broadcast suggesting the
// next registration slot to an unregistered client.
type HintPacket struct {
	Group  uint8       `cbor:"1,keyasint"`
	Row    uint8       `cbor:"2,keyasint"`
	Col    uint8       `cbor:"3,keyasint"`
	Image  string      `cbor:"4,keyasint"`
	Groups []GroupInfo `cbor:"5,keyasint"`
	Images []string    `cbor:"6,keyasint"`
}

// EncodeHintPacket encodes a HintPacket for broadcast.
func EncodeHintPacket(h HintPacket) ([]byte, error) {
	data, err := cbor.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("wire: encode hint packet: %w", err)
	}
	return data, nil
}

// DecodeHintPacket decodes a broadcast HintPacket, as received by an
// unregistered client.
func DecodeHintPacket(data []byte) (HintPacket, error) {
	var h HintPacket
	if err := cbor.Unmarshal(data, &h); err != nil {
		return HintPacket{}, fmt.Errorf("wire: decode hint packet: %w", err)
	}
	return h, nil
}

// ChunkPacketHeaderLen is the hash+index prefix on every UDP broadcast
// chunk packet, ahead of the codec-framed payload.
const ChunkPacketHeaderLen = 32 + 2

// PutChunkPacketHeader writes the hash and codec index prefix into buf,
// which must have length >= ChunkPacketHeaderLen.
func PutChunkPacketHeader(buf []byte, hash store.ChunkHash, index uint16) {
	copy(buf[:32], hash[:])
	buf[32] = byte(index)
	buf[33] = byte(index >> 8)
}

// ParseChunkPacketHeader reads the hash and codec index prefix from buf.
func ParseChunkPacketHeader(buf []byte) (hash store.ChunkHash, index uint16, ok bool) {
	if len(buf) < ChunkPacketHeaderLen {
		return hash, 0, false
	}
	copy(hash[:], buf[:32])
	index = uint16(buf[32]) | uint16(buf[33])<<8
	return hash, index, true
}
