package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/registry"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/store"
)

// TcpRequestKind discriminates a TCP control connection's request enum.
type TcpRequestKind uint16

const (
	TcpGetChunkSize  TcpRequestKind = 1
	TcpHasChunk      TcpRequestKind = 2
	TcpGetImage      TcpRequestKind = 3
	TcpGetAction     TcpRequestKind = 4
	TcpActionComplete TcpRequestKind = 5
	TcpRegister      TcpRequestKind = 6
	TcpUploadChunk   TcpRequestKind = 7
	TcpUploadImage   TcpRequestKind = 8
)

type tcpEnvelope struct {
	Kind TcpRequestKind  `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

type hashBody struct {
	Hash store.ChunkHash `cbor:"1,keyasint"`
}

type nameBody struct {
	Name string `cbor:"1,keyasint"`
}

type cdataBody struct {
	Cdata []byte `cbor:"1,keyasint"`
}

type registerBody struct {
	Group string `cbor:"1,keyasint"`
	Row   uint8  `cbor:"2,keyasint"`
	Col   uint8  `cbor:"3,keyasint"`
	Image string `cbor:"4,keyasint"`
}

type uploadImageBody struct {
	Name  string      `cbor:"1,keyasint"`
	Image store.Image `cbor:"2,keyasint"`
}

// TcpRequest is the decoded form of any TCP control-connection request.
type TcpRequest struct {
	Kind       TcpRequestKind
	Hash       store.ChunkHash
	Name       string
	Cdata      []byte
	Image      *store.Image
	Registration registry.RegistrationInfo
}

func marshalEnvelope(kind TcpRequestKind, body interface{}) ([]byte, error) {
	var raw cbor.RawMessage
	if body != nil {
		b, err := cbor.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("wire: encode tcp body: %w", err)
		}
		raw = b
	}
	return cbor.Marshal(tcpEnvelope{Kind: kind, Body: raw})
}

func EncodeGetChunkSize(hash store.ChunkHash) ([]byte, error) {
	return marshalEnvelope(TcpGetChunkSize, hashBody{Hash: hash})
}

func EncodeHasChunk(hash store.ChunkHash) ([]byte, error) {
	return marshalEnvelope(TcpHasChunk, hashBody{Hash: hash})
}

func EncodeGetImage(name string) ([]byte, error) {
	return marshalEnvelope(TcpGetImage, nameBody{Name: name})
}

func EncodeGetAction() ([]byte, error) {
	return marshalEnvelope(TcpGetAction, nil)
}

func EncodeActionComplete() ([]byte, error) {
	return marshalEnvelope(TcpActionComplete, nil)
}

func EncodeRegister(info registry.RegistrationInfo) ([]byte, error) {
	return marshalEnvelope(TcpRegister, registerBody{Group: info.Group, Row: info.Row, Col: info.Col, Image: info.Image})
}

func EncodeUploadChunk(cdata []byte) ([]byte, error) {
	return marshalEnvelope(TcpUploadChunk, cdataBody{Cdata: cdata})
}

func EncodeUploadImage(name string, img store.Image) ([]byte, error) {
	return marshalEnvelope(TcpUploadImage, uploadImageBody{Name: name, Image: img})
}

// DecodeTcpRequest decodes one TCP control request body (already
// length-delimited by ReadFrame), rejecting unknown kinds.
func DecodeTcpRequest(data []byte) (TcpRequest, error) {
	var env tcpEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return TcpRequest{}, fmt.Errorf("wire: decode tcp request: %w", err)
	}
	switch env.Kind {
	case TcpGetChunkSize, TcpHasChunk:
		var b hashBody
		if len(env.Body) > 0 {
			if err := cbor.Unmarshal(env.Body, &b); err != nil {
				return TcpRequest{}, fmt.Errorf("wire: decode hash body: %w", err)
			}
		}
		return TcpRequest{Kind: env.Kind, Hash: b.Hash}, nil
	case TcpGetImage:
		var b nameBody
		if err := cbor.Unmarshal(env.Body, &b); err != nil {
			return TcpRequest{}, fmt.Errorf("wire: decode name body: %w", err)
		}
		return TcpRequest{Kind: env.Kind, Name: b.Name}, nil
	case TcpGetAction, TcpActionComplete:
		return TcpRequest{Kind: env.Kind}, nil
	case TcpRegister:
		var b registerBody
		if err := cbor.Unmarshal(env.Body, &b); err != nil {
			return TcpRequest{}, fmt.Errorf("wire: decode register body: %w", err)
		}
		return TcpRequest{Kind: env.Kind, Registration: registry.RegistrationInfo{Group: b.Group, Row: b.Row, Col: b.Col, Image: b.Image}}, nil
	case TcpUploadChunk:
		var b cdataBody
		if err := cbor.Unmarshal(env.Body, &b); err != nil {
			return TcpRequest{}, fmt.Errorf("wire: decode cdata body: %w", err)
		}
		return TcpRequest{Kind: env.Kind, Cdata: b.Cdata}, nil
	case TcpUploadImage:
		var b uploadImageBody
		if err := cbor.Unmarshal(env.Body, &b); err != nil {
			return TcpRequest{}, fmt.Errorf("wire: decode image body: %w", err)
		}
		return TcpRequest{Kind: env.Kind, Name: b.Name, Image: &b.Image}, nil
	default:
		return TcpRequest{}, fmt.Errorf("%w: %d", ErrUnknownKind, env.Kind)
	}
}

// WriteFrame writes a length(uint64 LE)-prefixed CBOR body to w.
func WriteFrame(w io.Writer, body []byte) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// maxFrameLen bounds a single frame to the largest plausible payload (one
// compressed chunk plus CBOR overhead), guarding against a malformed or
// hostile length prefix forcing an unbounded allocation.
const maxFrameLen = 8 << 20

// ReadFrame reads one length-prefixed CBOR body from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: read frame length: %w", err)
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("wire: frame length %d exceeds limit %d", n, maxFrameLen)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	return body, nil
}
