package queue

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mfkiwl/dfmodules/types"
)

// EncodeRecordPart encodes a record part for the wire.
func EncodeRecordPart(part *types.RecordPart) ([]byte, error) {
	data, err := msgpack.Marshal(part)
	if err != nil {
		return nil, fmt.Errorf("encode record part: %w", err)
	}
	return data, nil
}

// DecodeRecordPart decodes a record part from the wire.
func DecodeRecordPart(data []byte) (*types.RecordPart, error) {
	var part types.RecordPart
	if err := msgpack.Unmarshal(data, &part); err != nil {
		return nil, fmt.Errorf("decode record part: %w", err)
	}
	return &part, nil
}

// EncodeToken encodes a completion token for the wire.
func EncodeToken(token *types.Token) ([]byte, error) {
	data, err := msgpack.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("encode token: %w", err)
	}
	return data, nil
}

// DecodeToken decodes a completion token from the wire.
func DecodeToken(data []byte) (*types.Token, error) {
	var token types.Token
	if err := msgpack.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &token, nil
}
