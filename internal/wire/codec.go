package wire

import (
	"bytes"
	"encoding/gob"
	"io"
)

// Encode serializes v with gob and writes it as one frame on w.
//
// gob is the codec used for the typed channel payload itself (spec §3's
// "Codec": "strictly symmetric between peers of the same build"): unlike
// protobuf or a schema'd format, gob needs no generated code or shared
// .proto/.fbs file between peers, only the same compiled struct
// definitions, matching a codec whose only contract is "same binary on
// both ends".
func Encode(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	return WriteFrame(w, buf.Bytes())
}

// Decode reads one frame from r and gob-decodes it into v.
func Decode(r io.Reader, v any) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(v)
}

// EncodeValue gob-encodes v without framing, used where the caller
// manages framing itself (e.g. channel payloads, which the reactor frames).
func EncodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue gob-decodes b into v.
func DecodeValue(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
