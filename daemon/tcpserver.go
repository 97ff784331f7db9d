package main

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/config"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/netarp"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/observability"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/ratelimit"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/registry"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/store"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/wire"
)

func parseMAC(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("parse mac %q: %w", s, err)
	}
	return mac, nil
}

// tcpServer answers the control-connection protocol: one persistent TCP
// connection per fleet unit, each request framed length-prefixed CBOR.
type tcpServer struct {
	Store    *store.Store
	Registry *registry.Registry
	Config   *config.Config
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	FindMAC  func(net.IP) (net.HardwareAddr, error)
}

func newTCPServer(st *store.Store, reg *registry.Registry, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) *tcpServer {
	return &tcpServer{Store: st, Registry: reg, Config: cfg, Logger: logger, Metrics: metrics, FindMAC: netarp.FindMAC}
}

// Serve accepts connections on ln, rate-limited by tb, until ln is closed.
func (s *tcpServer) Serve(ln net.Listener, tb *ratelimit.TokenBucket) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("tcpserver: accept: %w", err)
		}
		tb.Wait(1)
		go s.handleConnection(conn)
	}
}

func (s *tcpServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		s.Logger.Warn("tcp connection with non-TCP remote address")
		return
	}
	peerMAC, err := s.FindMAC(addr.IP)
	if err != nil {
		s.Logger.Error(err, "resolve peer mac for tcp connection")
		return
	}

	for {
		body, err := wire.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.Logger.Error(err, "read tcp frame")
			}
			return
		}
		req, err := wire.DecodeTcpRequest(body)
		if err != nil {
			s.Logger.Error(err, "decode tcp request")
			return
		}
		resp, err := s.handleRequest(req, peerMAC)
		if err != nil {
			s.Logger.Error(err, "handle tcp request")
			return
		}
		if err := wire.WriteFrame(conn, resp); err != nil {
			s.Logger.Error(err, "write tcp response")
			return
		}
	}
}

func (s *tcpServer) handleRequest(req wire.TcpRequest, peerMAC net.HardwareAddr) ([]byte, error) {
	switch req.Kind {
	case wire.TcpGetChunkSize:
		size, present := s.Store.ChunkCsize(req.Hash)
		return wire.EncodeOptionalUint64(size, present)

	case wire.TcpHasChunk:
		return wire.EncodeBool(s.Store.HasChunk(req.Hash))

	case wire.TcpGetImage:
		data, err := s.Store.GetImageSerialized(req.Name)
		if err != nil {
			return nil, fmt.Errorf("tcpserver: get image %q: %w", req.Name, err)
		}
		return data, nil

	case wire.TcpRegister:
		if !s.Config.ValidImage(req.Registration.Image) {
			return wire.EncodeOutcome(fmt.Sprintf("unknown image: %s", req.Registration.Image))
		}
		if err := s.Registry.Register(peerMAC, req.Registration); err != nil {
			return wire.EncodeOutcome(err.Error())
		}
		return wire.EncodeOutcome("")

	case wire.TcpUploadChunk:
		if err := s.Store.AddChunk(req.Cdata); err != nil {
			return wire.EncodeOutcome(err.Error())
		}
		return wire.EncodeOutcome("")

	case wire.TcpUploadImage:
		if req.Image == nil {
			return wire.EncodeOutcome("missing image body")
		}
		if !s.Config.ValidImage(req.Name) {
			return wire.EncodeOutcome(fmt.Sprintf("unknown image: %s", req.Name))
		}
		if err := s.Store.AddImage(req.Name, req.Image); err != nil {
			return wire.EncodeOutcome(err.Error())
		}
		return wire.EncodeOutcome("")

	case wire.TcpGetAction:
		action := s.Registry.GetAction(peerMAC)
		image := ""
		if action == registry.ActionStore || action == registry.ActionFlash {
			if unit, ok := s.Registry.GetUnit(peerMAC); ok {
				image = unit.Image
			}
		}
		return wire.EncodeActionResponse(wire.ActionResponse{Action: action, Image: image})

	case wire.TcpActionComplete:
		s.Registry.CompleteAction(registry.SelectMAC(peerMAC))
		return wire.EncodeOutcome("")

	default:
		return nil, fmt.Errorf("tcpserver: unhandled request kind %d", req.Kind)
	}
}
