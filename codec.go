package xbroker

import (
	"encoding/json"
	"mime"
	"strings"
)

const (
	ContentTypeJSON   = "application/json"
	ContentTypeText   = "text/plain"
	ContentTypeBinary = "application/octet-stream"
)

// Codec is the Strategy for encoding/decoding payloads on the wire.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
	// ContentType is stamped on messages encoded by this codec.
	ContentType() string
}

// JSONCodec is the default JSON implementation.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }
func (JSONCodec) ContentType() string             { return ContentTypeJSON }

// encodePayload turns a publish payload into wire bytes and a content type.
// Bytes pass through, strings are sent as text, everything else goes through c.
func encodePayload(c Codec, payload any) ([]byte, string, error) {
	switch v := payload.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return v, ContentTypeBinary, nil
	case string:
		return []byte(v), ContentTypeText, nil
	}
	data, err := c.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	return data, c.ContentType(), nil
}

// decodePayload is the inverse of encodePayload, driven by the content type.
// Unknown or empty content types that the codec cannot parse yield the raw bytes.
func decodePayload(c Codec, body []byte, contentType string) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	mt := mediaType(contentType)
	switch {
	case strings.HasPrefix(mt, "text/"):
		return string(body), nil
	case mt == "":
		var v any
		if err := c.Unmarshal(body, &v); err == nil {
			return v, nil
		}
		return body, nil
	case mt == mediaType(c.ContentType()):
		var v any
		if err := c.Unmarshal(body, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return body, nil
	}
}

func mediaType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}
