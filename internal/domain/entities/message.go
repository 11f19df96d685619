package entities

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the discriminator of a wire message
type MessageType string

const (
	MessageHandshake      MessageType = "handshake"
	MessageHash           MessageType = "hash"
	MessageInvalid        MessageType = "invalid"
	MessageStillOK        MessageType = "still-ok"
	MessageOK             MessageType = "ok"
	MessageWarnings       MessageType = "warnings"
	MessageErrors         MessageType = "errors"
	MessageStaticChanged  MessageType = "static-changed"
	MessageContentChanged MessageType = "content-changed"
	MessageLiveReload     MessageType = "liveReload"
	MessageClose          MessageType = "close"
)

var knownTypes = map[MessageType]struct{}{
	MessageHandshake:      {},
	MessageHash:           {},
	MessageInvalid:        {},
	MessageStillOK:        {},
	MessageOK:             {},
	MessageWarnings:       {},
	MessageErrors:         {},
	MessageStaticChanged:  {},
	MessageContentChanged: {},
	MessageLiveReload:     {},
	MessageClose:          {},
}

// IsTerminal reports whether t resolves a build cycle
func (t MessageType) IsTerminal() bool {
	switch t {
	case MessageOK, MessageStillOK, MessageWarnings, MessageErrors:
		return true
	default:
		return false
	}
}

// Message is the transport-agnostic wire envelope: {"type": ..., "data": ...}
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HandshakeData carries the server configuration a client needs up front
type HandshakeData struct {
	Logging    Verbosity `json:"logging"`
	Hot        bool      `json:"hot"`
	LiveReload bool      `json:"liveReload"`
	Reconnect  int       `json:"reconnect"`
}

// WarningsData is the payload of a warnings message. OK is set when the build
// otherwise succeeded with changed modules that clients should apply.
type WarningsData struct {
	Warnings []string `json:"warnings"`
	OK       bool     `json:"ok"`
}

// ErrorsData is the payload of an errors message. Warnings of the same build
// travel with the errors.
type ErrorsData struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings,omitempty"`
}

// Strategy returns the update strategy announced in a handshake
func (h HandshakeData) Strategy() UpdateStrategy {
	return UpdateStrategy{Hot: h.Hot, LiveReload: h.LiveReload}
}

func newMessage(t MessageType, data interface{}) Message {
	if data == nil {
		return Message{Type: t}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		// payloads are strings, slices and plain structs
		panic(fmt.Sprintf("marshal %s payload: %v", t, err))
	}
	return Message{Type: t, Data: raw}
}

// NewHandshakeMessage builds the first message every connection receives
func NewHandshakeMessage(h HandshakeData) Message {
	return newMessage(MessageHandshake, h)
}

// NewHashMessage announces the build id of the cycle about to resolve
func NewHashMessage(hash string) Message {
	return newMessage(MessageHash, hash)
}

// NewInvalidMessage signals that a rebuild started
func NewInvalidMessage() Message {
	return newMessage(MessageInvalid, nil)
}

// NewOKMessage reports a clean build with changes
func NewOKMessage() Message {
	return newMessage(MessageOK, nil)
}

// NewStillOKMessage reports a clean build with nothing changed
func NewStillOKMessage() Message {
	return newMessage(MessageStillOK, nil)
}

// NewWarningsMessage reports a build that produced warnings only
func NewWarningsMessage(warnings []string, ok bool) Message {
	return newMessage(MessageWarnings, WarningsData{Warnings: nonNil(warnings), OK: ok})
}

// NewErrorsMessage reports a failed build
func NewErrorsMessage(errs, warnings []string) Message {
	return newMessage(MessageErrors, ErrorsData{Errors: nonNil(errs), Warnings: warnings})
}

// NewStaticChangedMessage reports a changed file under a static root
func NewStaticChangedMessage(path string) Message {
	return newMessage(MessageStaticChanged, path)
}

// NewContentChangedMessage is a generic full reload signal
func NewContentChangedMessage() Message {
	return newMessage(MessageContentChanged, nil)
}

// NewLiveReloadMessage is an explicit reload directive
func NewLiveReloadMessage() Message {
	return newMessage(MessageLiveReload, nil)
}

// NewCloseMessage tells clients the server is going away
func NewCloseMessage() Message {
	return newMessage(MessageClose, nil)
}

// Encode serializes the message to its wire form
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses and validates a wire message
func DecodeMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, &ProtocolDecodeError{Raw: raw, Err: err}
	}
	if msg.Type == "" {
		return Message{}, &ProtocolDecodeError{Raw: raw, Err: errors.New("missing type")}
	}
	if _, ok := knownTypes[msg.Type]; !ok {
		return Message{}, &ProtocolDecodeError{Raw: raw, Err: fmt.Errorf("unknown type %q", msg.Type)}
	}
	if err := msg.validatePayload(); err != nil {
		return Message{}, &ProtocolDecodeError{Raw: raw, Err: err}
	}
	return msg, nil
}

func (m Message) validatePayload() error {
	switch m.Type {
	case MessageHash, MessageStaticChanged:
		_, err := m.Text()
		return err
	case MessageHandshake:
		_, err := m.Handshake()
		return err
	case MessageWarnings:
		_, err := m.Warnings()
		return err
	case MessageErrors:
		_, err := m.Errors()
		return err
	default:
		return nil
	}
}

// Text returns the string payload of hash and static-changed messages
func (m Message) Text() (string, error) {
	var s string
	if err := m.unmarshal(&s); err != nil {
		return "", err
	}
	return s, nil
}

// Handshake returns the payload of a handshake message
func (m Message) Handshake() (HandshakeData, error) {
	var h HandshakeData
	if err := m.unmarshal(&h); err != nil {
		return HandshakeData{}, err
	}
	return h, nil
}

// Warnings returns the payload of a warnings message
func (m Message) Warnings() (WarningsData, error) {
	var w WarningsData
	if err := m.unmarshal(&w); err != nil {
		return WarningsData{}, err
	}
	return w, nil
}

// Errors returns the payload of an errors message
func (m Message) Errors() (ErrorsData, error) {
	var e ErrorsData
	if err := m.unmarshal(&e); err != nil {
		return ErrorsData{}, err
	}
	return e, nil
}

func (m Message) unmarshal(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message without data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%s payload: %w", m.Type, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
