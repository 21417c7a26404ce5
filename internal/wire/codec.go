package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidMessage is returned for malformed records, unknown types, or
// frames missing a field the protocol requires.
var ErrInvalidMessage = errors.New("invalid message")

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, reason)
}

func encodeChunk(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeChunk decodes a Data frame's Chunk field back to raw bytes.
func DecodeChunk(chunk string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		return nil, invalid("chunk is not valid base64")
	}
	return b, nil
}

// Encode marshals a Frame to its wire representation.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses a raw wire record, dispatches on its "type" field, validates
// required fields, and returns the concrete Frame. Unknown types, malformed
// JSON, and missing required fields all produce ErrInvalidMessage.
func Decode(data []byte) (Frame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, invalid("malformed json")
	}

	switch env.Type {
	case TypeRegister:
		var m Register
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, invalid("malformed register")
		}
		if m.Path == "" {
			return nil, invalid("register missing path")
		}
		if m.ExpiresAt == 0 {
			return nil, invalid("register missing expiresAt")
		}
		return m, nil

	case TypeRegistered:
		var m Registered
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, invalid("malformed registered")
		}
		if m.SessionID == "" {
			return nil, invalid("registered missing sessionId")
		}
		if m.URL == "" {
			return nil, invalid("registered missing url")
		}
		return m, nil

	case TypeRequest:
		var m Request
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, invalid("malformed request")
		}
		if m.ID == "" {
			return nil, invalid("request missing id")
		}
		if m.Method != "GET" && m.Method != "HEAD" {
			return nil, invalid("request method must be GET or HEAD")
		}
		return m, nil

	case TypeResponse:
		var m Response
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, invalid("malformed response")
		}
		if m.ID == "" {
			return nil, invalid("response missing id")
		}
		if m.Status < 100 || m.Status > 599 {
			return nil, invalid("response status out of range")
		}
		if m.Headers == nil {
			return nil, invalid("response headers must not be null")
		}
		return m, nil

	case TypeData:
		var m Data
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, invalid("malformed data")
		}
		if m.ID == "" {
			return nil, invalid("data missing id")
		}
		if _, err := DecodeChunk(m.Chunk); err != nil {
			return nil, err
		}
		return m, nil

	case TypeEnd:
		var m End
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, invalid("malformed end")
		}
		if m.ID == "" {
			return nil, invalid("end missing id")
		}
		return m, nil

	case TypeExpired:
		var m Expired
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, invalid("malformed expired")
		}
		return m, nil

	default:
		return nil, invalid("unknown type " + env.Type)
	}
}
