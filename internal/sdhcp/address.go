// Package sdhcp holds the shared SDHCP value types: 64-bit segmented
// addresses, subnet arithmetic, and the JSON wire messages exchanged
// during the Discover/Offer/Request/Ack handshake.
package sdhcp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	// SegmentCount is the number of 16-bit segments in an address.
	SegmentCount = 4

	// SegmentBits is the width of one segment.
	SegmentBits = 16

	// MaxSegment is the largest value a single segment may hold.
	MaxSegment = 0xFFFF

	// MaxPrefixLength is the full width of an address in bits.
	MaxPrefixLength = SegmentCount * SegmentBits
)

// Address is a 64-bit SDHCP address split into four 16-bit segments,
// most significant first. The zero value is the all-zero address.
type Address [SegmentCount]uint16

// FormatError reports text that could not be parsed as an address.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Input, e.Reason)
}

// ParseAddress parses the dotted-decimal form "a.b.c.d" where each
// segment is a decimal integer in [0, 65535].
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, ".")
	if len(parts) != SegmentCount {
		return Address{}, &FormatError{Input: s, Reason: fmt.Sprintf("expected %d segments, got %d", SegmentCount, len(parts))}
	}
	var addr Address
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return Address{}, &FormatError{Input: s, Reason: fmt.Sprintf("segment %d is not a decimal integer", i)}
		}
		if v > MaxSegment {
			return Address{}, &FormatError{Input: s, Reason: fmt.Sprintf("segment %d out of range 0-%d", i, MaxSegment)}
		}
		addr[i] = uint16(v)
	}
	return addr, nil
}

// String renders the dotted-decimal form, e.g. "0.10.1024.0".
func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

// ColonHex renders the colon-separated hexadecimal form, e.g. "0:a:400:0".
func (a Address) ColonHex() string {
	return fmt.Sprintf("%x:%x:%x:%x", a[0], a[1], a[2], a[3])
}

// Uint64 packs the four segments into a single 64-bit value,
// segment 0 in the most significant position.
func (a Address) Uint64() uint64 {
	var v uint64
	for i := 0; i < SegmentCount; i++ {
		v = v<<SegmentBits | uint64(a[i])
	}
	return v
}

// AddressFromUint64 is the inverse of Uint64.
func AddressFromUint64(v uint64) Address {
	var a Address
	for i := SegmentCount - 1; i >= 0; i-- {
		a[i] = uint16(v & MaxSegment)
		v >>= SegmentBits
	}
	return a
}

// MarshalJSON encodes the address as a 4-element integer array, the
// representation used by every wire message.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal([SegmentCount]int{int(a[0]), int(a[1]), int(a[2]), int(a[3])})
}

// UnmarshalJSON decodes a 4-element integer array, rejecting wrong
// arity or out-of-range segments.
func (a *Address) UnmarshalJSON(data []byte) error {
	var raw []int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return &FormatError{Input: string(data), Reason: "not an integer array"}
	}
	if len(raw) != SegmentCount {
		return &FormatError{Input: string(data), Reason: fmt.Sprintf("expected %d segments, got %d", SegmentCount, len(raw))}
	}
	for i, v := range raw {
		if v < 0 || v > MaxSegment {
			return &FormatError{Input: string(data), Reason: fmt.Sprintf("segment %d out of range 0-%d", i, MaxSegment)}
		}
		a[i] = uint16(v)
	}
	return nil
}

// SubnetMask returns the mask for a prefix length as an Address whose
// leading prefixLen bits are set. Segment i receives
// clamp(prefixLen-16*i, 0, 16) leading one bits.
func SubnetMask(prefixLen int) (Address, error) {
	if prefixLen < 0 || prefixLen > MaxPrefixLength {
		return Address{}, fmt.Errorf("prefix length %d out of range 0-%d", prefixLen, MaxPrefixLength)
	}
	var mask Address
	for i := 0; i < SegmentCount; i++ {
		bits := prefixLen - i*SegmentBits
		switch {
		case bits >= SegmentBits:
			mask[i] = MaxSegment
		case bits <= 0:
			mask[i] = 0
		default:
			mask[i] = uint16(MaxSegment << (SegmentBits - bits) & MaxSegment)
		}
	}
	return mask, nil
}

// ValidPrefixLength reports whether p is a legal prefix length.
func ValidPrefixLength(p int) bool {
	return p >= 0 && p <= MaxPrefixLength
}
