package lifecycle

import "encoding/json"

// MessageType is the "type" discriminator of an outbound message.
type MessageType string

const (
	MessageTypeWelcome             MessageType = "welcome"
	MessageTypeMatchFound          MessageType = "match-found"
	MessageTypeSignal              MessageType = "signal"
	MessageTypeICECandidate        MessageType = "ice-candidate"
	MessageTypePartnerDisconnected MessageType = "partner-disconnected"
	MessageTypeError               MessageType = "error"
)

// Message is a server-to-client notification. Fields not used by a given type
// are omitted on the wire.
type Message struct {
	Type MessageType `json:"type"`

	// welcome
	ID string `json:"id,omitempty"`

	// match-found
	PartnerID       string   `json:"partnerId,omitempty"`
	Initiator       *bool    `json:"initiator,omitempty"`
	CommonInterests []string `json:"commonInterests,omitempty"`

	// signal / ice-candidate; payloads are forwarded verbatim.
	From      string          `json:"from,omitempty"`
	Signal    json.RawMessage `json:"signal,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func WelcomeMessage(id string) Message {
	return Message{Type: MessageTypeWelcome, ID: id}
}

func matchFoundMessage(partnerID string, initiator bool, common []string) Message {
	return Message{
		Type:            MessageTypeMatchFound,
		PartnerID:       partnerID,
		Initiator:       &initiator,
		CommonInterests: common,
	}
}

func partnerDisconnectedMessage() Message {
	return Message{Type: MessageTypePartnerDisconnected}
}

func ErrorMessage(code, message string) Message {
	return Message{Type: MessageTypeError, Code: code, Message: message}
}
