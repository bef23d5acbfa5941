// Package protocol models the signaling wire format.
//
// The relay never inspects negotiation content: offer/answer/candidate bodies
// are carried as raw JSON and forwarded verbatim. Only the envelope (type,
// roomId, clientId, targetId, fromId) is interpreted.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type MessageType string

const (
	// Client to server.
	TypeJoin  MessageType = "join"
	TypeLeave MessageType = "leave"

	// Relayed in both directions; opaque negotiation payloads.
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"

	// Server to client.
	TypeExistingClients MessageType = "existing-clients"
	TypeNewClient       MessageType = "new-client"
	TypeClientLeft      MessageType = "client-left"
)

// Message is the envelope for every signaling message. Optional fields are
// pointers or omitempty so each type serializes only what it carries.
type Message struct {
	Type     MessageType `json:"type"`
	RoomID   string      `json:"roomId,omitempty"`
	ClientID string      `json:"clientId,omitempty"`
	TargetID string      `json:"targetId,omitempty"`
	FromID   string      `json:"fromId,omitempty"`

	// Clients is a pointer so the join reply can serialize an explicit empty
	// list rather than omitting the field.
	Clients *[]string `json:"clients,omitempty"`

	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Parse decodes and validates one inbound (client to server) message.
//
// Decoding is strict: unknown fields, trailing data, and fields that do not
// belong to the declared type are all rejected. Callers treat any error as a
// protocol violation to drop, never as something to report to the sender.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.validateInbound(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) validateInbound() error {
	switch m.Type {
	case TypeJoin:
		if m.RoomID == "" {
			return fmt.Errorf("join message missing roomId")
		}
		if m.ClientID == "" {
			return fmt.Errorf("join message missing clientId")
		}
		if m.TargetID != "" || m.FromID != "" || m.Clients != nil {
			return fmt.Errorf("join message has unexpected fields")
		}
		if m.Offer != nil || m.Answer != nil || m.Candidate != nil {
			return fmt.Errorf("join message has unexpected payload")
		}
	case TypeOffer:
		if err := m.validateRelayed(m.Offer, "offer", m.Answer, m.Candidate); err != nil {
			return err
		}
	case TypeAnswer:
		if err := m.validateRelayed(m.Answer, "answer", m.Offer, m.Candidate); err != nil {
			return err
		}
	case TypeICECandidate:
		if err := m.validateRelayed(m.Candidate, "candidate", m.Offer, m.Answer); err != nil {
			return err
		}
	case TypeLeave:
		if m.RoomID != "" || m.ClientID != "" || m.TargetID != "" || m.FromID != "" || m.Clients != nil {
			return fmt.Errorf("leave message has unexpected fields")
		}
		if m.Offer != nil || m.Answer != nil || m.Candidate != nil {
			return fmt.Errorf("leave message has unexpected payload")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

func (m Message) validateRelayed(payload json.RawMessage, field string, others ...json.RawMessage) error {
	if m.TargetID == "" {
		return fmt.Errorf("%s message missing targetId", m.Type)
	}
	if payload == nil {
		return fmt.Errorf("%s message missing %s", m.Type, field)
	}
	if m.RoomID != "" || m.ClientID != "" || m.FromID != "" || m.Clients != nil {
		return fmt.Errorf("%s message has unexpected fields", m.Type)
	}
	for _, other := range others {
		if other != nil {
			return fmt.Errorf("%s message has unexpected payload", m.Type)
		}
	}
	return nil
}

// ExistingClients builds the reply sent to a connection that just joined,
// listing the clients that were already in the room. The list is always
// serialized, even when empty.
func ExistingClients(clientIDs []string) Message {
	clients := make([]string, len(clientIDs))
	copy(clients, clientIDs)
	return Message{Type: TypeExistingClients, Clients: &clients}
}

// NewClient builds the arrival notice broadcast to prior room members.
func NewClient(clientID string) Message {
	return Message{Type: TypeNewClient, ClientID: clientID}
}

// ClientLeft builds the departure notice broadcast to remaining room members.
func ClientLeft(clientID string) Message {
	return Message{Type: TypeClientLeft, ClientID: clientID}
}
