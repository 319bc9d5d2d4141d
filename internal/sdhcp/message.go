package sdhcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the discriminator tag carried in every wire message.
type MessageType string

const (
	TypeDiscover MessageType = "DHCP_DISCOVER"
	TypeOffer    MessageType = "DHCP_OFFER"
	TypeRequest  MessageType = "DHCP_REQUEST"
	TypeAck      MessageType = "DHCP_ACK"
	TypeNack     MessageType = "DHCP_NACK"
)

// ErrProtocol marks packets that are structurally invalid: unknown
// type tag, missing required fields, or out-of-range values. Such
// packets are logged and dropped, never answered.
var ErrProtocol = errors.New("protocol error")

// Message is the closed set of SDHCP wire messages. Exactly one
// concrete type exists per type tag.
type Message interface {
	Kind() MessageType
	Client() string
}

// Discover is broadcast by a client looking for an address. Lease time
// and prefix length are preferences the server may override; zero
// means no preference.
type Discover struct {
	Type                MessageType `json:"type"`
	ClientID            string      `json:"clientId"`
	RequestedLeaseTime  uint32      `json:"requestedLeaseTime,omitempty"`
	DesiredPrefixLength int         `json:"desiredPrefixLength,omitempty"`
}

func (m Discover) Kind() MessageType { return TypeDiscover }
func (m Discover) Client() string    { return m.ClientID }

// Offer is a server's unicast reply to a Discover, carrying a
// tentatively reserved address.
type Offer struct {
	Type           MessageType `json:"type"`
	ClientID       string      `json:"clientId"`
	ServerID       string      `json:"serverId"`
	OfferedAddress Address     `json:"offeredAddress"`
	PrefixLength   int         `json:"prefixLength"`
	LeaseTime      uint32      `json:"leaseTime"`
}

func (m Offer) Kind() MessageType { return TypeOffer }
func (m Offer) Client() string    { return m.ClientID }

// Request is broadcast by a client accepting an offer (or renewing an
// existing binding); serverId names the one server being addressed.
type Request struct {
	Type             MessageType `json:"type"`
	ClientID         string      `json:"clientId"`
	ServerID         string      `json:"serverId"`
	RequestedAddress Address     `json:"requestedAddress"`
	PrefixLength     int         `json:"prefixLength"`
}

func (m Request) Kind() MessageType { return TypeRequest }
func (m Request) Client() string    { return m.ClientID }

// Ack confirms an assignment and starts (or restarts) the lease clock.
type Ack struct {
	Type            MessageType `json:"type"`
	ClientID        string      `json:"clientId"`
	ServerID        string      `json:"serverId"`
	AssignedAddress Address     `json:"assignedAddress"`
	PrefixLength    int         `json:"prefixLength"`
	LeaseTime       uint32      `json:"leaseTime"`
}

func (m Ack) Kind() MessageType { return TypeAck }
func (m Ack) Client() string    { return m.ClientID }

// Nack refuses a Request.
type Nack struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId"`
	ServerID string      `json:"serverId"`
	Reason   string      `json:"reason,omitempty"`
}

func (m Nack) Kind() MessageType { return TypeNack }
func (m Nack) Client() string    { return m.ClientID }

// Decode parses a raw wire payload into its concrete message type and
// validates its shape. Anything that fails here wraps ErrProtocol.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: undecodable packet: %v", ErrProtocol, err)
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeDiscover:
		var m Discover
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeOffer:
		var m Offer
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeRequest:
		var m Request
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeAck:
		var m Ack
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeNack:
		var m Nack
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrProtocol, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: malformed %s: %v", ErrProtocol, env.Type, err)
	}
	if err := validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func validate(m Message) error {
	if m.Client() == "" {
		return fmt.Errorf("%w: %s missing clientId", ErrProtocol, m.Kind())
	}
	switch v := m.(type) {
	case Discover:
		if v.DesiredPrefixLength != 0 && !ValidPrefixLength(v.DesiredPrefixLength) {
			return fmt.Errorf("%w: desiredPrefixLength %d out of range", ErrProtocol, v.DesiredPrefixLength)
		}
	case Offer:
		if v.ServerID == "" {
			return fmt.Errorf("%w: %s missing serverId", ErrProtocol, v.Type)
		}
		if !ValidPrefixLength(v.PrefixLength) {
			return fmt.Errorf("%w: prefixLength %d out of range", ErrProtocol, v.PrefixLength)
		}
	case Request:
		if v.ServerID == "" {
			return fmt.Errorf("%w: %s missing serverId", ErrProtocol, v.Type)
		}
		if !ValidPrefixLength(v.PrefixLength) {
			return fmt.Errorf("%w: prefixLength %d out of range", ErrProtocol, v.PrefixLength)
		}
	case Ack:
		if v.ServerID == "" {
			return fmt.Errorf("%w: %s missing serverId", ErrProtocol, v.Type)
		}
		if !ValidPrefixLength(v.PrefixLength) {
			return fmt.Errorf("%w: prefixLength %d out of range", ErrProtocol, v.PrefixLength)
		}
	case Nack:
		if v.ServerID == "" {
			return fmt.Errorf("%w: %s missing serverId", ErrProtocol, v.Type)
		}
	}
	return nil
}
