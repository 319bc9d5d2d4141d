package sdhcp

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeDiscover(t *testing.T) {
	raw := []byte(`{"type":"DHCP_DISCOVER","clientId":"C1","requestedLeaseTime":600,"desiredPrefixLength":48}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	d, ok := msg.(Discover)
	if !ok {
		t.Fatalf("Decode returned %T, want Discover", msg)
	}
	if d.ClientID != "C1" || d.RequestedLeaseTime != 600 || d.DesiredPrefixLength != 48 {
		t.Fatalf("unexpected fields: %+v", d)
	}
}

func TestDecodeRequest(t *testing.T) {
	raw := []byte(`{"type":"DHCP_REQUEST","clientId":"C1","serverId":"S1","requestedAddress":[0,10,1024,0],"prefixLength":48}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	r, ok := msg.(Request)
	if !ok {
		t.Fatalf("Decode returned %T, want Request", msg)
	}
	if r.RequestedAddress != (Address{0, 10, 1024, 0}) {
		t.Fatalf("RequestedAddress = %v", r.RequestedAddress)
	}
	if r.ServerID != "S1" || r.PrefixLength != 48 {
		t.Fatalf("unexpected fields: %+v", r)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"unknown type", `{"type":"DHCP_BOGUS","clientId":"C1"}`},
		{"missing type", `{"clientId":"C1"}`},
		{"missing client id", `{"type":"DHCP_DISCOVER"}`},
		{"request missing server id", `{"type":"DHCP_REQUEST","clientId":"C1","requestedAddress":[0,0,0,0],"prefixLength":48}`},
		{"address wrong arity", `{"type":"DHCP_REQUEST","clientId":"C1","serverId":"S1","requestedAddress":[0,0,0],"prefixLength":48}`},
		{"address segment out of range", `{"type":"DHCP_REQUEST","clientId":"C1","serverId":"S1","requestedAddress":[0,0,0,70000],"prefixLength":48}`},
		{"address negative segment", `{"type":"DHCP_REQUEST","clientId":"C1","serverId":"S1","requestedAddress":[0,0,0,-1],"prefixLength":48}`},
		{"prefix out of range", `{"type":"DHCP_REQUEST","clientId":"C1","serverId":"S1","requestedAddress":[0,0,0,0],"prefixLength":65}`},
		{"discover bad desired prefix", `{"type":"DHCP_DISCOVER","clientId":"C1","desiredPrefixLength":70}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if err == nil {
				t.Fatalf("Decode(%s) succeeded, want protocol error", tt.raw)
			}
			if !errors.Is(err, ErrProtocol) {
				t.Fatalf("Decode(%s) error = %v, want ErrProtocol", tt.raw, err)
			}
		})
	}
}

func TestEncodeOfferWireShape(t *testing.T) {
	offer := Offer{
		Type:           TypeOffer,
		ClientID:       "C1",
		ServerID:       "S1",
		OfferedAddress: Address{0, 10, 1024, 0},
		PrefixLength:   48,
		LeaseTime:      3600,
	}
	data, err := Encode(offer)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal encoded offer: %v", err)
	}
	for _, field := range []string{"type", "clientId", "serverId", "offeredAddress", "prefixLength", "leaseTime"} {
		if _, ok := raw[field]; !ok {
			t.Fatalf("encoded offer missing field %q: %s", field, data)
		}
	}
	if string(raw["offeredAddress"]) != "[0,10,1024,0]" {
		t.Fatalf("offeredAddress encoded as %s", raw["offeredAddress"])
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(Encode(offer)): %v", err)
	}
	if decoded.(Offer) != offer {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, offer)
	}
}

func TestEncodeNackOmitsEmptyReason(t *testing.T) {
	data, err := Encode(Nack{Type: TypeNack, ClientID: "C1", ServerID: "S1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["reason"]; ok {
		t.Fatalf("empty reason should be omitted: %s", data)
	}
}
