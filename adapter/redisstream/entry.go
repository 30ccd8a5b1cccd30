package redisstream

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/trickstertwo/xbroker"
)

// Stream entry field names. Headers are stored one field each under
// fieldMetaPrefix; the payload is stored as raw bytes.
const (
	fieldID            = "id"
	fieldCorrelationID = "correlationId"
	fieldContentType   = "contentType"
	fieldReplyTo       = "replyTo"
	fieldPayload       = "payload"
	fieldProducedAt    = "producedAt" // unix nanoseconds
	fieldMetaPrefix    = "meta:"

	// added to dead-lettered entries
	fieldOrigStream = "orig_stream"
	fieldOrigID     = "orig_id"
	fieldError      = "error"
)

// textFields are the optional string fields of an entry.
var textFields = [...]struct {
	name string
	ref  func(*xbroker.Message) *string
}{
	{fieldID, func(m *xbroker.Message) *string { return &m.ID }},
	{fieldCorrelationID, func(m *xbroker.Message) *string { return &m.CorrelationID }},
	{fieldContentType, func(m *xbroker.Message) *string { return &m.ContentType }},
	{fieldReplyTo, func(m *xbroker.Message) *string { return &m.ReplyTo }},
}

// encodeValues flattens m into XADD field values.
func encodeValues(m *xbroker.Message) map[string]any {
	vals := make(map[string]any, len(textFields)+2+len(m.Headers))
	for _, f := range textFields {
		if v := *f.ref(m); v != "" {
			vals[f.name] = v
		}
	}
	vals[fieldPayload] = m.Payload
	vals[fieldProducedAt] = m.ProducedAt.UnixNano()
	for k, v := range m.Headers {
		vals[fieldMetaPrefix+k] = v
	}
	return vals
}

// decodeMessage rebuilds a message from the values Redis returns (strings).
// The entry ID stands in when the producer set no message ID.
func decodeMessage(entryID string, vals map[string]any) *xbroker.Message {
	msg := &xbroker.Message{ID: entryID, Headers: make(map[string]string)}

	for k, v := range vals {
		switch {
		case k == fieldPayload:
			msg.Payload = []byte(asString(v))
		case k == fieldProducedAt:
			if ns, err := strconv.ParseInt(asString(v), 10, 64); err == nil && ns > 0 {
				msg.ProducedAt = time.Unix(0, ns)
			}
		case strings.HasPrefix(k, fieldMetaPrefix):
			msg.Headers[strings.TrimPrefix(k, fieldMetaPrefix)] = asString(v)
		default:
			for _, f := range textFields {
				if f.name == k {
					*f.ref(msg) = asString(v)
					break
				}
			}
		}
	}
	return msg
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}
