package runwire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PayloadError reports a payload whose shape does not match its event type.
// A message decoded alongside a PayloadError is usable: its payload is kept
// as a RawPayload.
type PayloadError struct {
	EventType EventType
	Err       error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid %q payload: %v", e.EventType, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// EventType selects the payload variant carried by a Message.
type EventType string

const (
	EventTypeHandshake EventType = "handshake"
	EventTypeAction    EventType = "action"
	EventTypeImage     EventType = "image"
	EventTypeScalar    EventType = "scalar"
	EventTypeLog       EventType = "log"
)

// IdentityType tells which kind of peer originated or is targeted by a message.
type IdentityType string

const (
	IdentityWeb IdentityType = "web"
	IdentityCLI IdentityType = "cli"
)

// Payload is the closed set of payload variants. The variant is selected by the
// envelope's EventType; RawPayload is the fallback for anything unrecognised.
type Payload interface {
	payloadType() EventType
}

// ActionPayload asks the run to execute a named action.
type ActionPayload struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// ImagePayload describes an image emitted by a run. The pixels themselves are
// fetched out of band.
type ImagePayload struct {
	ImageID string `json:"imageId,omitempty"`
	Series  string `json:"series,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Format  string `json:"format,omitempty"`
}

// ScalarPayload is one point of a scalar series.
type ScalarPayload struct {
	Series string  `json:"series"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// LogPayload is one log line produced by a run.
type LogPayload struct {
	Message string `json:"message"`
	Series  string `json:"series,omitempty"`
	Whom    string `json:"whom,omitempty"`
}

// RawPayload keeps the undecoded JSON of a payload whose shape is not known,
// including handshake replies and event types added by newer servers.
type RawPayload struct {
	Raw json.RawMessage
}

func (ActionPayload) payloadType() EventType { return EventTypeAction }
func (ImagePayload) payloadType() EventType  { return EventTypeImage }
func (ScalarPayload) payloadType() EventType { return EventTypeScalar }
func (LogPayload) payloadType() EventType    { return EventTypeLog }
func (RawPayload) payloadType() EventType    { return "" }

func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return []byte("null"), nil
	}
	return p.Raw, nil
}

// Decode unmarshals the raw payload into v.
func (p RawPayload) Decode(v any) error {
	return json.Unmarshal(p.Raw, v)
}

// Message is the envelope of every frame exchanged with the server.
type Message struct {
	EventType    EventType
	Name         string
	Payload      Payload
	EventID      int64
	IdentityType IdentityType
	ProjectID    string
	RunID        string
	Timestamp    string
	Series       string
}

type wireMessage struct {
	EventType    EventType       `json:"eventType"`
	Name         string          `json:"name,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	EventID      int64           `json:"eventId"`
	IdentityType IdentityType    `json:"identityType,omitempty"`
	ProjectID    string          `json:"projectId"`
	RunID        string          `json:"runId,omitempty"`
	Timestamp    string          `json:"timestamp,omitempty"`
	Series       string          `json:"series,omitempty"`
}

// Topic returns the routing key used by pattern subscriptions: the event type,
// followed by "/name" when the message carries a name.
func (m Message) Topic() string {
	if m.Name == "" {
		return string(m.EventType)
	}
	return string(m.EventType) + "/" + m.Name
}

// LogRecord derives the record forwarded to a project's log sink. Fields the
// payload does not carry are left empty. A raw payload is read leniently.
func (m Message) LogRecord() LogRecord {
	record := LogRecord{Timestamp: m.Timestamp}
	switch p := m.Payload.(type) {
	case LogPayload:
		record.Message, record.Series, record.Whom = p.Message, p.Series, p.Whom
	case *LogPayload:
		if p != nil {
			record.Message, record.Series, record.Whom = p.Message, p.Series, p.Whom
		}
	case RawPayload:
		var fields map[string]any
		if json.Unmarshal(p.Raw, &fields) == nil {
			record.Message = fieldText(fields["message"])
			record.Series = fieldText(fields["series"])
			record.Whom = fieldText(fields["whom"])
		}
	}
	return record
}

// fieldText renders a loosely typed payload field: strings as is, anything
// else as its JSON text.
func fieldText(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		EventType:    m.EventType,
		Name:         m.Name,
		EventID:      m.EventID,
		IdentityType: m.IdentityType,
		ProjectID:    m.ProjectID,
		RunID:        m.RunID,
		Timestamp:    m.Timestamp,
		Series:       m.Series,
	}
	if m.Payload != nil {
		raw, err := json.Marshal(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %q payload: %w", m.EventType, err)
		}
		w.Payload = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a frame. On a *PayloadError m is still set, with the
// payload kept raw.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	msg, err := w.message(data)
	*m = msg
	return err
}

func (w wireMessage) message(frame []byte) (Message, error) {
	msg := Message{
		EventType:    w.EventType,
		Name:         w.Name,
		EventID:      w.EventID,
		IdentityType: w.IdentityType,
		ProjectID:    w.ProjectID,
		RunID:        w.RunID,
		Timestamp:    w.Timestamp,
		Series:       w.Series,
	}

	if w.EventType == EventTypeImage && isEmptyPayload(w.Payload) {
		err := topLevelImage(&msg, frame)
		return msg, err
	}

	payload, err := decodePayload(w.EventType, w.Payload)
	if err != nil {
		msg.Payload = RawPayload{Raw: append(json.RawMessage(nil), w.Payload...)}
		return msg, err
	}
	msg.Payload = payload
	return msg, nil
}

// topLevelImage reads image metadata sent beside the envelope fields rather
// than under "payload". msg keeps a nil payload when there is none.
func topLevelImage(msg *Message, frame []byte) error {
	var p ImagePayload
	if err := json.Unmarshal(frame, &p); err != nil {
		return &PayloadError{EventType: EventTypeImage, Err: err}
	}
	if p != (ImagePayload{Series: msg.Series}) {
		msg.Payload = p
	}
	return nil
}

func isEmptyPayload(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodePayload(eventType EventType, raw json.RawMessage) (Payload, error) {
	if isEmptyPayload(raw) {
		return nil, nil
	}

	var (
		payload Payload
		err     error
	)
	switch eventType {
	case EventTypeAction:
		var p ActionPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventTypeImage:
		var p ImagePayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventTypeScalar:
		var p ScalarPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case EventTypeLog:
		var p LogPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		payload = RawPayload{Raw: append(json.RawMessage(nil), raw...)}
	}
	if err != nil {
		return nil, &PayloadError{EventType: eventType, Err: err}
	}
	return payload, nil
}

// DecodeMessage parses one frame. A frame whose envelope cannot be parsed
// yields an error and no message. A frame whose payload does not match its
// event type yields the message, with the payload kept as RawPayload, and a
// *PayloadError.
func DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return w.message(data)
}

// EncodeMessage serializes one frame.
func EncodeMessage(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}
