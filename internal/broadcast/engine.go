package broadcast

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/codec"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/observability"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/registry"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/store"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/wire"
)

// Engine is the single asynchronous broadcast task: it multiplexes chunk
// emission (paced, FEC-encoded), the per-second hint beacon, and inbound
// UDP control requests (Discover, ActionProgress, RequestChunks) over one
// broadcast-capable UDP socket.
type Engine struct {
	Conn      net.PacketConn
	Broadcast *net.UDPAddr // base broadcast IP; per-message port is overridden below
	Store     *store.Store
	Registry  *registry.Registry
	Logger    *observability.Logger
	Metrics   *observability.Metrics

	ChunksPort int
	HintPort   int

	FirstGroup uint8
	FirstImage string
	GroupsInfo []wire.GroupInfo
	Images     []string

	FindMAC func(ip net.IP) (net.HardwareAddr, error)

	Queue *Queue
	Pacer *Pacer
}

func (e *Engine) addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: e.Broadcast.IP, Port: port}
}

// RunChunkBroadcast drains the request queue, forever: pop the next hash,
// fetch its compressed bytes, FEC-encode, and pace-send every packet.
// Returns when ctx is cancelled.
func (e *Engine) RunChunkBroadcast(ctx context.Context) error {
	dest := e.addr(e.ChunksPort)
	const hashLen = 32
	buf := make([]byte, hashLen+codec.MaxSize)

	for {
		hash, ok := e.Queue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		cdata, err := e.Store.GetChunkCdata(hash)
		if err != nil {
			e.Logger.Error(err, "get chunk for broadcast")
			continue
		}
		if cdata == nil {
			e.Logger.Warn("chunk not found for broadcast request")
			continue
		}

		enc, err := codec.NewEncoder(cdata)
		if err != nil {
			e.Logger.Error(err, "encode chunk for broadcast")
			continue
		}

		dataPackets, parityPackets := 0, 0
		copy(buf[:hashLen], hash[:])
		for {
			packet, more := enc.NextPacket(buf[hashLen:])
			if !more {
				break
			}
			index, _ := decodePacketIndex(packet)
			full := buf[:hashLen+len(packet)]

			delay := e.Pacer.Delay(time.Now(), len(full))
			if delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
			sent, err := e.Conn.WriteTo(full, dest)
			if err != nil {
				return fmt.Errorf("broadcast: send chunk packet: %w", err)
			}
			if sent != len(full) {
				return fmt.Errorf("broadcast: short write sending chunk packet: %d/%d", sent, len(full))
			}
			if index < 0x8000 {
				dataPackets++
			} else {
				parityPackets++
			}
		}
		if e.Metrics != nil {
			e.Metrics.BroadcastBytesTotal.Add(float64(len(cdata)))
		}
		e.Logger.ChunkBroadcast(hashHex(hash), dataPackets, parityPackets)
	}
}

func decodePacketIndex(packet []byte) (uint16, error) {
	if len(packet) < 2 {
		return 0, fmt.Errorf("broadcast: packet too short to contain an index")
	}
	return uint16(packet[0]) | uint16(packet[1])<<8, nil
}

// RunHintBeacon emits a HintPacket once per second until ctx is cancelled.
func (e *Engine) RunHintBeacon(ctx context.Context) error {
	dest := e.addr(e.HintPort)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		prev, ok := e.Registry.Hint()
		var prevPtr *registry.RegistrationHint
		if ok {
			prevPtr = &prev
		}
		groupForUnits := e.FirstGroup
		if ok {
			groupForUnits = prev.Group
		}
		units := e.Registry.Select(registry.SelectGroup(groupForUnits))

		hint, err := ComputeHint(prevPtr, e.FirstGroup, e.FirstImage, units)
		if err != nil {
			e.Logger.Error(err, "compute registration hint")
			continue
		}
		e.Registry.SetHint(hint)

		data, err := wire.EncodeHintPacket(wire.HintPacket{
			Group:  hint.Group,
			Row:    hint.Row,
			Col:    hint.Col,
			Image:  hint.Image,
			Groups: e.GroupsInfo,
			Images: e.Images,
		})
		if err != nil {
			e.Logger.Error(err, "encode hint packet")
			continue
		}
		if _, err := e.Conn.WriteTo(data, dest); err != nil {
			return fmt.Errorf("broadcast: send hint packet: %w", err)
		}
		if e.Metrics != nil {
			e.Metrics.HintBeaconsTotal.Inc()
		}
	}
}

// RunRequestListener reads inbound UDP control datagrams (Discover,
// ActionProgress, RequestChunks) until ctx is cancelled.
func (e *Engine) RunRequestListener(ctx context.Context) error {
	const maxControlDatagram = 64 << 10
	buf := make([]byte, maxControlDatagram)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, addr, err := e.Conn.ReadFrom(buf)
		if err != nil {
			return fmt.Errorf("broadcast: read udp request: %w", err)
		}
		req, err := wire.DecodeUdpRequest(buf[:n])
		if err != nil {
			e.Logger.Warn("invalid udp request")
			continue
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}

		switch req.Kind {
		case wire.UdpDiscover:
			if _, err := e.Conn.WriteTo(nil, addr); err != nil {
				e.Logger.Error(err, "reply to discover")
			}
		case wire.UdpActionProgress:
			mac, err := e.FindMAC(udpAddr.IP)
			if err != nil {
				e.Logger.Error(err, "find mac for action progress")
				continue
			}
			e.Registry.SetProgress(registry.SelectMAC(mac), req.Done, req.Total)
			if u, ok := e.Registry.GetUnit(mac); ok && u.CurrAction != nil {
				e.Logger.TransferProgress(mac, u.CurrAction.String(), req.Done, req.Total)
			}
		case wire.UdpRequestChunks:
			for _, h := range req.Hashes {
				e.Queue.Add(h)
			}
			if e.Metrics != nil {
				e.Metrics.BroadcastQueueLength.Set(float64(e.Queue.Len()))
			}
		}
	}
}

func hashHex(h store.ChunkHash) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(h)*2)
	for i, b := range h {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0xF]
	}
	return string(out)
}
