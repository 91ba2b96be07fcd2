package sidecar

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Value is a generic structured payload tree: the shapes produced by
// encoding/json, i.e. map[string]any, []any, string, float64, bool, nil.
type Value = any

// Codec serializes a Value to and from one on-disk format. All codecs
// round-trip: Decode(Encode(v)) yields a tree equal to v.
type Codec interface {
	Encode(v Value) ([]byte, error)
	Decode(data []byte) (Value, error)
	Format() Format
}

// jsonCodec renders pretty-printed JSON text.
type jsonCodec struct{}

func (jsonCodec) Encode(v Value) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte) (Value, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("decode json: invalid UTF-8")
	}
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

func (jsonCodec) Format() Format { return FormatJSON }

// binaryEnvelopeHeader is the size of the little-endian length prefix.
const binaryEnvelopeHeader = 8

// encodeEnvelope packs the compact JSON rendering of v behind an 8-byte
// little-endian length prefix. The payload length must match the prefix
// exactly on decode; that makes sniffing cheap and truncation detectable.
func encodeEnvelope(v Value) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode binary payload: %w", err)
	}
	buf := make([]byte, binaryEnvelopeHeader+len(payload))
	binary.LittleEndian.PutUint64(buf, uint64(len(payload)))
	copy(buf[binaryEnvelopeHeader:], payload)
	return buf, nil
}

func decodeEnvelope(data []byte) (Value, error) {
	payload, err := envelopePayload(data)
	if err != nil {
		return nil, err
	}
	var v Value
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decode binary payload: %w", err)
	}
	return v, nil
}

// envelopePayload validates the length prefix and returns the enclosed
// bytes without decoding them.
func envelopePayload(data []byte) ([]byte, error) {
	if len(data) < binaryEnvelopeHeader {
		return nil, fmt.Errorf("binary envelope too short: %d bytes", len(data))
	}
	n := binary.LittleEndian.Uint64(data)
	if n != uint64(len(data)-binaryEnvelopeHeader) {
		return nil, fmt.Errorf("binary envelope length mismatch: header %d, payload %d",
			n, len(data)-binaryEnvelopeHeader)
	}
	return data[binaryEnvelopeHeader:], nil
}

// binaryCodec is the compact default encoding.
type binaryCodec struct{}

func (binaryCodec) Encode(v Value) ([]byte, error)    { return encodeEnvelope(v) }
func (binaryCodec) Decode(data []byte) (Value, error) { return decodeEnvelope(data) }
func (binaryCodec) Format() Format                    { return FormatBinary }

// rkyvCodec is an extension point for a true zero-copy representation.
// It currently shares the binary envelope; a real implementation can be
// substituted behind the Codec contract without touching callers.
type rkyvCodec struct{}

func (rkyvCodec) Encode(v Value) ([]byte, error)    { return encodeEnvelope(v) }
func (rkyvCodec) Decode(data []byte) (Value, error) { return decodeEnvelope(data) }
func (rkyvCodec) Format() Format                    { return FormatRkyv }

// looksLikeJSON reports whether data parses as JSON. Used for content
// sniffing when a file's extension is absent or unrecognized.
func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return false
	}
	return json.Valid(trimmed)
}
