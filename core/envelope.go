// Package core defines the message envelope and the filter contract
// shared by all enrichment filters.
package core

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Message roles as they appear on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in the conversation transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Envelope is a typed view over the host's request or response body.
//
// Only the fields the filters act on are surfaced; everything else in
// the original body is preserved byte-for-byte and travels through
// re-serialization untouched.
type Envelope struct {
	ConversationID string
	ChatID         string
	Model          string
	Messages       []Message

	raw []byte
}

// DecodeError reports a body that could not be parsed into an Envelope.
// Filters treat it as "return the input unchanged", never as fatal.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ParseEnvelope decodes a request or response body.
//
// The host sometimes delivers the body as a JSON string containing the
// serialized object; that form is unwrapped before parsing.
func ParseEnvelope(body []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Reason: "empty body"}
	}

	// String-encoded body: unwrap one level.
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, &DecodeError{Reason: "string-encoded body", Err: err}
		}
		trimmed = bytes.TrimSpace([]byte(inner))
	}

	if len(trimmed) == 0 || trimmed[0] != '{' || !gjson.ValidBytes(trimmed) {
		return nil, &DecodeError{Reason: "body is not a JSON object"}
	}

	env := &Envelope{raw: append([]byte(nil), trimmed...)}
	env.ConversationID = gjson.GetBytes(trimmed, "conversation_id").String()
	env.ChatID = gjson.GetBytes(trimmed, "chat_id").String()
	env.Model = gjson.GetBytes(trimmed, "model").String()

	if msgs := gjson.GetBytes(trimmed, "messages"); msgs.Exists() {
		if err := json.Unmarshal([]byte(msgs.Raw), &env.Messages); err != nil {
			return nil, &DecodeError{Reason: "malformed messages", Err: err}
		}
	}

	return env, nil
}

// MarshalJSON re-serializes the envelope. The mutated messages array is
// written back into the original body so unknown fields survive. A body
// that never carried a messages key and gained no messages stays
// byte-for-byte as received.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	if e.raw == nil {
		return json.Marshal(map[string]any{"messages": e.Messages})
	}
	if e.Messages == nil && !gjson.GetBytes(e.raw, "messages").Exists() {
		return e.raw, nil
	}
	out, err := sjson.SetBytes(e.raw, "messages", e.Messages)
	if err != nil {
		return nil, fmt.Errorf("write back messages: %w", err)
	}
	return out, nil
}

// Raw returns the original body bytes as received.
func (e *Envelope) Raw() []byte { return e.raw }

// LastContent returns the content of the final transcript message,
// or "" when the transcript is empty.
func (e *Envelope) LastContent() string {
	if len(e.Messages) == 0 {
		return ""
	}
	return e.Messages[len(e.Messages)-1].Content
}

// PrependSystem inserts a synthetic system message at the head of the
// transcript.
func (e *Envelope) PrependSystem(content string) {
	e.Messages = append([]Message{{Role: RoleSystem, Content: content}}, e.Messages...)
}

// InsertSystemBeforeLast inserts a synthetic system message immediately
// before the final transcript message. With fewer than two messages it
// behaves like PrependSystem.
func (e *Envelope) InsertSystemBeforeLast(content string) {
	if len(e.Messages) < 2 {
		e.PrependSystem(content)
		return
	}
	at := len(e.Messages) - 1
	msgs := make([]Message, 0, len(e.Messages)+1)
	msgs = append(msgs, e.Messages[:at]...)
	msgs = append(msgs, Message{Role: RoleSystem, Content: content})
	msgs = append(msgs, e.Messages[at:]...)
	e.Messages = msgs
}

// modelParamKeys is the allow-listed subset of model parameters worth
// recording.
var modelParamKeys = []string{
	"temperature",
	"top_p",
	"max_tokens",
	"frequency_penalty",
	"presence_penalty",
}

// ModelParameters extracts the allow-listed model parameters present in
// the body.
func (e *Envelope) ModelParameters() map[string]any {
	params := make(map[string]any)
	for _, key := range modelParamKeys {
		if v := gjson.GetBytes(e.raw, key); v.Exists() {
			params[key] = v.Value()
		}
	}
	return params
}

// OutputText extracts the assistant output from a response envelope.
// OpenAI-style bodies use the choices[0].message.content path; anything
// else falls back to the raw body rendered as a string.
func (e *Envelope) OutputText() string {
	if gjson.GetBytes(e.raw, "choices").Exists() {
		if content := gjson.GetBytes(e.raw, "choices.0.message.content"); content.Exists() {
			return content.String()
		}
	}
	return string(e.raw)
}
