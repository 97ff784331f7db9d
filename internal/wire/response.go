package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/registry"
)

// ActionResponse is the body of a GetAction TCP response: the action kind
// plus the image name, when the action is Store or Flash.
type ActionResponse struct {
	Action registry.Action `cbor:"1,keyasint"`
	Image  string          `cbor:"2,keyasint,omitempty"`
}

// EncodeActionResponse encodes a GetAction reply.
func EncodeActionResponse(r ActionResponse) ([]byte, error) {
	data, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: encode action response: %w", err)
	}
	return data, nil
}

// DecodeActionResponse decodes a GetAction reply.
func DecodeActionResponse(data []byte) (ActionResponse, error) {
	var r ActionResponse
	if err := cbor.Unmarshal(data, &r); err != nil {
		return ActionResponse{}, fmt.Errorf("wire: decode action response: %w", err)
	}
	return r, nil
}

// EncodeOptionalUint64 encodes GetChunkSize's response: present is false
// when the chunk is unknown.
func EncodeOptionalUint64(value uint64, present bool) ([]byte, error) {
	var v *uint64
	if present {
		v = &value
	}
	data, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode optional uint64: %w", err)
	}
	return data, nil
}

// DecodeOptionalUint64 decodes GetChunkSize's response.
func DecodeOptionalUint64(data []byte) (uint64, bool, error) {
	var v *uint64
	if err := cbor.Unmarshal(data, &v); err != nil {
		return 0, false, fmt.Errorf("wire: decode optional uint64: %w", err)
	}
	if v == nil {
		return 0, false, nil
	}
	return *v, true, nil
}

// EncodeBool encodes HasChunk's response.
func EncodeBool(b bool) ([]byte, error) {
	data, err := cbor.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("wire: encode bool: %w", err)
	}
	return data, nil
}

// DecodeBool decodes HasChunk's response.
func DecodeBool(data []byte) (bool, error) {
	var b bool
	if err := cbor.Unmarshal(data, &b); err != nil {
		return false, fmt.Errorf("wire: decode bool: %w", err)
	}
	return b, nil
}

// EncodeOutcome encodes Register/UploadChunk/UploadImage's response: empty
// string on success, an error message otherwise.
func EncodeOutcome(errMsg string) ([]byte, error) {
	data, err := cbor.Marshal(errMsg)
	if err != nil {
		return nil, fmt.Errorf("wire: encode outcome: %w", err)
	}
	return data, nil
}

// DecodeOutcome decodes a Register/UploadChunk/UploadImage response.
func DecodeOutcome(data []byte) (string, error) {
	var msg string
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("wire: decode outcome: %w", err)
	}
	return msg, nil
}
