// Package codec implements the packet-level forward-error-correction codec
// used to broadcast a single compressed chunk over UDP: the chunk is split
// into BODY_LEN-sized data packets, grouped by index mod 32, and one XOR
// parity packet is emitted per group so that any single packet loss within
// a group is recoverable without retransmission.
package codec

import (
	"errors"
	"fmt"
)

// BodyLen is the number of payload bytes per packet: a UDP_BODY_LEN-sized
// datagram body minus 34 header bytes (the 32-byte chunk hash and the
// 2-byte packet index). UDPBodyLen is a deployment constant sized to fit
// an Ethernet MTU.
const (
	UDPBodyLen = 1436
	HeaderLen  = 2
	BodyLen    = UDPBodyLen - 34
	MinSize    = HeaderLen
	MaxSize    = HeaderLen + BodyLen

	numGroups = 32
	// parityBase is added (mod 2^16) to a group index to produce that
	// group's parity packet index; the resulting range is
	// 0xFFE0..0xFFFF, disjoint from any valid data index as long as a
	// chunk never splits into more than 0xFFE0 data packets.
	parityBase = uint16(0x10000 - numGroups)
)

func init() {
	maxDataPackets := (maxChunkSize + BodyLen - 1) / BodyLen
	if maxDataPackets > int(parityBase) {
		panic(fmt.Sprintf("codec: MAX_CHUNK_SIZE/BodyLen = %d exceeds parity index base %d; "+
			"parity packet indices would collide with data indices", maxDataPackets, parityBase))
	}
}

// maxChunkSize mirrors the data model's MAX_CHUNK_SIZE (4 MiB); kept local
// to avoid an import cycle with the store package, which also guards
// against oversize chunks at a higher level.
const maxChunkSize = 4 << 20

var (
	// ErrPacketTooSmall is returned when a packet is shorter than MinSize.
	ErrPacketTooSmall = errors.New("codec: packet too small")
	// ErrPacketTooBig is returned when a packet exceeds MaxSize.
	ErrPacketTooBig = errors.New("codec: packet too big")
	// ErrInvalidIndex is returned when a packet's index names neither a
	// valid data slot nor a valid parity slot for this chunk's size.
	ErrInvalidIndex = errors.New("codec: invalid packet index")
)

func numDataPackets(size int) int {
	return (size + BodyLen - 1) / BodyLen
}

// Encoder emits the data packets (ascending index) followed by up to 32
// parity packets (one per non-empty group) for one compressed chunk.
type Encoder struct {
	data       []byte
	numPackets int
	groups     int // remaining parity packets to emit, counts down to 0
	nextData   int // next data packet index to emit
}

// NewEncoder creates an encoder for the given compressed chunk bytes. data
// must be non-empty: a zero-length chunk is rejected at the caller contract
// (the store never persists an empty chunk).
func NewEncoder(data []byte) (*Encoder, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("codec: NewEncoder: %w", errors.New("empty chunk"))
	}
	n := numDataPackets(len(data))
	groups := n
	if groups > numGroups {
		groups = numGroups
	}
	return &Encoder{data: data, numPackets: n, groups: groups}, nil
}

// NextPacket writes the next packet (index + payload) into out, which must
// have capacity MaxSize, and returns the slice written. It returns
// (nil, false) once the stream is exhausted.
func (e *Encoder) NextPacket(out []byte) ([]byte, bool) {
	if e.nextData < e.numPackets {
		idx := e.nextData
		e.nextData++
		start := idx * BodyLen
		end := start + BodyLen
		if end > len(e.data) {
			end = len(e.data)
		}
		putIndex(out, uint16(idx))
		n := copy(out[HeaderLen:], e.data[start:end])
		return out[:HeaderLen+n], true
	}
	if e.groups > 0 {
		e.groups--
		group := e.groups
		idx := uint16(group) - numGroups // wrapping subtraction via uint16
		putIndex(out, idx)
		payload := out[HeaderLen : HeaderLen+BodyLen]
		for i := range payload {
			payload[i] = 0
		}
		for pi := group; pi < e.numPackets; pi += numGroups {
			start := pi * BodyLen
			end := start + BodyLen
			if end > len(e.data) {
				end = len(e.data)
			}
			xorInto(payload, e.data[start:end])
		}
		return out[:HeaderLen+BodyLen], true
	}
	return nil, false
}

// Decoder reassembles a chunk of known uncompressed... (compressed, in this
// codec's sense) length L from data and parity packets, recovering from at
// most one missing packet per group without retransmission.
type Decoder struct {
	size                  int
	numPackets            int
	data                  []byte // [0:32*BodyLen) parity scratch, [32*BodyLen:] chunk data
	missingPacket         []bool // [0:32) parity slots, [32:32+numPackets) data slots
	missingPacketsPerGroup [numGroups]int
	missingGroups         int
}

// NewDecoder creates a decoder expecting a chunk of compressed length size.
func NewDecoder(size int) *Decoder {
	n := numDataPackets(size)
	d := &Decoder{
		size:          size,
		numPackets:    n,
		data:          make([]byte, numGroups*BodyLen+size),
		missingPacket: make([]bool, numGroups+n),
	}
	for i := range d.missingPacket {
		d.missingPacket[i] = true
	}
	for g := 0; g < numGroups; g++ {
		count := (n + numGroups - 1 - g) / numGroups
		d.missingPacketsPerGroup[g] = count
		if count > 0 {
			d.missingGroups++
		}
	}
	return d
}

// AddPacket ingests one packet. Duplicate packets are accepted silently.
func (d *Decoder) AddPacket(buf []byte) error {
	if len(buf) < MinSize {
		return ErrPacketTooSmall
	}
	if len(buf) > MaxSize {
		return ErrPacketTooBig
	}
	index := getIndex(buf)
	rot := index + numGroups // wrapping add, uint16
	if int(rot) >= len(d.missingPacket) {
		return ErrInvalidIndex
	}
	if !d.missingPacket[rot] {
		return nil // duplicate
	}
	d.missingPacket[rot] = false
	copy(d.data[int(rot)*BodyLen:], buf[HeaderLen:])
	group := int(index) & (numGroups - 1)
	d.missingPacketsPerGroup[group]--
	if d.missingPacketsPerGroup[group] == 0 {
		d.missingGroups--
	}
	return nil
}

// Finish returns the reassembled chunk bytes once every group has at most
// one unknown packet; otherwise it returns (nil, false) and the decoder
// keeps its state for further AddPacket calls.
func (d *Decoder) Finish() ([]byte, bool) {
	if d.missingGroups != 0 {
		return nil, false
	}
	var acc [numGroups][]byte
	for g := 0; g < numGroups; g++ {
		acc[g] = make([]byte, BodyLen)
	}
	total := numGroups + d.numPackets
	for slot := 0; slot < total; slot++ {
		if d.missingPacket[slot] {
			continue
		}
		group := slot & (numGroups - 1)
		end := (slot + 1) * BodyLen
		if end > len(d.data) {
			end = len(d.data) // the last data slot is short
		}
		xorInto(acc[group], d.data[slot*BodyLen:end])
	}
	for slot := 0; slot < total; slot++ {
		if !d.missingPacket[slot] {
			continue
		}
		group := slot & (numGroups - 1)
		end := (slot + 1) * BodyLen
		if end > len(d.data) {
			end = len(d.data)
		}
		copy(d.data[slot*BodyLen:end], acc[group])
	}
	return d.data[numGroups*BodyLen:], true
}

func putIndex(buf []byte, idx uint16) {
	buf[0] = byte(idx)
	buf[1] = byte(idx >> 8)
}

func getIndex(buf []byte) uint16 {
	return uint16(buf[0]) | uint16(buf[1])<<8
}

func xorInto(dst, src []byte) {
	for i := range src {
		dst[i] ^= src[i]
	}
}
