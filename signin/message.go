package signin

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates the closed set of messages a popup window posts
// back to its opener.
type MessageType string

const (
	// MessageAuthSuccess carries the identity tokens obtained in the popup.
	MessageAuthSuccess MessageType = "auth-success"
	// MessageAuthError reports a provider-side failure from the popup.
	MessageAuthError MessageType = "auth-error"
	// MessagePopupClosing announces that the popup is about to close itself.
	// It never resolves an attempt directly; it only arms the grace timer.
	MessagePopupClosing MessageType = "popup-closing"
)

// Message is the tagged union exchanged across the window boundary.
// Exactly one terminal type (auth-success or auth-error) may resolve an
// in-flight attempt.
type Message struct {
	Type    MessageType    `json:"type"`
	Payload MessagePayload `json:"payload,omitempty"`
}

// MessagePayload holds the union of per-type fields. Which fields are
// meaningful depends on Message.Type.
type MessagePayload struct {
	IDToken     string `json:"idToken,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
}

// Terminal reports whether the message type can resolve an attempt.
func (m Message) Terminal() bool {
	return m.Type == MessageAuthSuccess || m.Type == MessageAuthError
}

// Envelope pairs a message with the origin it was posted from. Origin is the
// sole anti-spoofing control: the orchestrator drops envelopes whose origin
// does not exactly match the application's own origin.
type Envelope struct {
	Origin  string
	Message Message
}

// DecodeMessage parses a posted message body and rejects unknown types.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	switch msg.Type {
	case MessageAuthSuccess, MessageAuthError, MessagePopupClosing:
		return msg, nil
	default:
		return Message{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
}
