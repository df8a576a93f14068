// Package protocol defines the JSON event contract between the signaling
// gateway and call clients. Every frame on the wire is an Envelope; the
// negotiation blobs inside Signal are opaque to the gateway.
package protocol

import "encoding/json"

// Events accepted from clients.
const (
	EventJoinRoom     = "join-room"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
)

// Events emitted by the gateway.
const (
	EventRoomUsers  = "room-users"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventError      = "error"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into a framed event.
func NewEnvelope(event string, data any) (Envelope, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: b}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// JoinRoom is the payload of a join-room event.
type JoinRoom struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

// RoomUser is one entry of a room-users list and the payload of user-joined
// and user-left events.
type RoomUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// Signal carries offer, answer and ice-candidate events. RoomID is only set
// client to gateway and is not trusted for routing; From is attached by the
// gateway on relay.
type Signal struct {
	RoomID    string          `json:"roomId,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	From      string          `json:"from,omitempty"`
}

// Blob returns the negotiation payload matching the event name.
func (s Signal) Blob(event string) json.RawMessage {
	switch event {
	case EventOffer:
		return s.Offer
	case EventAnswer:
		return s.Answer
	case EventICECandidate:
		return s.Candidate
	}
	return nil
}

// ErrorPayload reports protocol misuse back to the offending client.
type ErrorPayload struct {
	Message string `json:"message"`
}
