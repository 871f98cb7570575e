package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pion/webrtc/v4"
)

type inboundType string

const (
	inboundJoinPool     inboundType = "join-pool"
	inboundLeavePool    inboundType = "leave-pool"
	inboundStop         inboundType = "stop"
	inboundSignal       inboundType = "signal"
	inboundICECandidate inboundType = "ice-candidate"
)

const maxPeerIDLength = 128

var validate = validator.New()

var (
	errMalformedEnvelope = errors.New("malformed message")
	errUnknownType       = errors.New("unknown message type")
	errInvalidSignal     = errors.New("signal.type must be offer or answer")
	errInvalidCandidate  = errors.New("candidate must be an object")
)

// envelope is the common shape of every inbound frame.
type envelope struct {
	Type      inboundType     `json:"type" validate:"required"`
	To        string          `json:"to"`
	Interests json.RawMessage `json:"interests"`
	Signal    json.RawMessage `json:"signal"`
	Candidate json.RawMessage `json:"candidate"`
}

type relayEnvelope struct {
	To      string          `validate:"required,max=128"`
	Payload json.RawMessage `validate:"required"`
}

// sdpEnvelope reads only the description type; the sdp field is opaque and
// forwarded unchanged whatever its JSON shape.
type sdpEnvelope struct {
	Type string `json:"type"`
}

// command is a decoded inbound frame.
type command struct {
	kind inboundType

	// join-pool / leave-pool. For leave-pool a nil slice means "reuse the
	// previous interests".
	interests []string

	to      string
	payload json.RawMessage
}

func parseCommand(data []byte) (command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return command{}, fmt.Errorf("%w: %v", errMalformedEnvelope, err)
	}
	if err := validate.Struct(env); err != nil {
		return command{}, fmt.Errorf("%w: missing type", errMalformedEnvelope)
	}

	switch env.Type {
	case inboundJoinPool:
		interests, _ := parseInterests(env.Interests)
		return command{kind: env.Type, interests: interests}, nil
	case inboundLeavePool:
		interests, ok := parseInterests(env.Interests)
		if !ok {
			interests = nil
		}
		return command{kind: env.Type, interests: interests}, nil
	case inboundStop:
		return command{kind: env.Type}, nil
	case inboundSignal:
		if err := validateRelay(env.To, env.Signal); err != nil {
			return command{}, err
		}
		if err := validateSignal(env.Signal); err != nil {
			return command{}, err
		}
		return command{kind: env.Type, to: env.To, payload: env.Signal}, nil
	case inboundICECandidate:
		if err := validateRelay(env.To, env.Candidate); err != nil {
			return command{}, err
		}
		if err := validateCandidate(env.Candidate); err != nil {
			return command{}, err
		}
		return command{kind: env.Type, to: env.To, payload: env.Candidate}, nil
	default:
		return command{}, fmt.Errorf("%w %q", errUnknownType, env.Type)
	}
}

// parseInterests decodes an interests field. Absent or null yields
// ([]string{}, false); anything that is not an array of strings is treated as
// an empty list.
func parseInterests(raw json.RawMessage) ([]string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []string{}, false
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil || tags == nil {
		return []string{}, true
	}
	return tags, true
}

func validateRelay(to string, payload json.RawMessage) error {
	payload = bytes.TrimSpace(payload)
	if bytes.Equal(payload, []byte("null")) {
		payload = nil
	}
	err := validate.Struct(relayEnvelope{To: to, Payload: payload})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Field() {
		case "To":
			if fe.Tag() == "max" {
				return fmt.Errorf("%w: to exceeds %d characters", errMalformedEnvelope, maxPeerIDLength)
			}
			return fmt.Errorf("%w: missing to", errMalformedEnvelope)
		case "Payload":
			return fmt.Errorf("%w: missing payload", errMalformedEnvelope)
		}
	}
	return fmt.Errorf("%w: %v", errMalformedEnvelope, err)
}

func validateSignal(raw json.RawMessage) error {
	var desc sdpEnvelope
	if err := json.Unmarshal(raw, &desc); err != nil {
		return errInvalidSignal
	}
	switch webrtc.NewSDPType(desc.Type) {
	case webrtc.SDPTypeOffer, webrtc.SDPTypeAnswer:
		return nil
	default:
		return errInvalidSignal
	}
}

func validateCandidate(raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return errInvalidCandidate
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return errInvalidCandidate
	}
	return nil
}
