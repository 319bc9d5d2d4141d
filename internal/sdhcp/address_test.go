package sdhcp

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Address
		wantErr bool
	}{
		{
			name:  "zero address",
			input: "0.0.0.0",
			want:  Address{0, 0, 0, 0},
		},
		{
			name:  "scenario base",
			input: "0.10.1024.0",
			want:  Address{0, 10, 1024, 0},
		},
		{
			name:  "max segments",
			input: "65535.65535.65535.65535",
			want:  Address{65535, 65535, 65535, 65535},
		},
		{
			name:    "too few segments",
			input:   "1.2.3",
			wantErr: true,
		},
		{
			name:    "too many segments",
			input:   "1.2.3.4.5",
			wantErr: true,
		},
		{
			name:    "segment out of range",
			input:   "1.2.3.65536",
			wantErr: true,
		},
		{
			name:    "negative segment",
			input:   "1.2.-3.4",
			wantErr: true,
		},
		{
			name:    "non numeric",
			input:   "a.b.c.d",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAddress(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				var fe *FormatError
				if !errors.As(err, &fe) {
					t.Fatalf("ParseAddress(%q) error type = %T, want *FormatError", tt.input, err)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("ParseAddress(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestAddressRoundTrip(t *testing.T) {
	addrs := []Address{
		{0, 0, 0, 0},
		{0, 10, 1024, 0},
		{1, 2, 3, 4},
		{65535, 65535, 65535, 65535},
		{12345, 0, 54321, 9},
	}
	for _, addr := range addrs {
		parsed, err := ParseAddress(addr.String())
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", addr.String(), err)
		}
		if parsed != addr {
			t.Fatalf("round trip %v -> %q -> %v", addr, addr.String(), parsed)
		}
	}
}

func TestAddressColonHex(t *testing.T) {
	addr := Address{0, 10, 1024, 65535}
	if got, want := addr.ColonHex(), "0:a:400:ffff"; got != want {
		t.Fatalf("ColonHex() = %q, want %q", got, want)
	}
}

func TestAddressUint64RoundTrip(t *testing.T) {
	addr := Address{1, 2, 3, 4}
	if got := AddressFromUint64(addr.Uint64()); got != addr {
		t.Fatalf("AddressFromUint64(Uint64()) = %v, want %v", got, addr)
	}
	if got, want := addr.Uint64(), uint64(0x0001000200030004); got != want {
		t.Fatalf("Uint64() = %#x, want %#x", got, want)
	}
}

func TestSubnetMask(t *testing.T) {
	tests := []struct {
		prefix int
		want   Address
	}{
		{0, Address{0, 0, 0, 0}},
		{16, Address{0xFFFF, 0, 0, 0}},
		{24, Address{0xFFFF, 0xFF00, 0, 0}},
		{48, Address{0xFFFF, 0xFFFF, 0xFFFF, 0}},
		{63, Address{0xFFFF, 0xFFFF, 0xFFFF, 0xFFFE}},
		{64, Address{0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF}},
	}
	for _, tt := range tests {
		got, err := SubnetMask(tt.prefix)
		if err != nil {
			t.Fatalf("SubnetMask(%d): %v", tt.prefix, err)
		}
		if got != tt.want {
			t.Fatalf("SubnetMask(%d) = %v, want %v", tt.prefix, got, tt.want)
		}
	}

	// Equal prefixes always produce equal masks, and every segment
	// carries clamp(prefix-16i, 0, 16) leading one bits.
	for prefix := 0; prefix <= MaxPrefixLength; prefix++ {
		a, err := SubnetMask(prefix)
		if err != nil {
			t.Fatalf("SubnetMask(%d): %v", prefix, err)
		}
		b, _ := SubnetMask(prefix)
		if a != b {
			t.Fatalf("SubnetMask(%d) not deterministic: %v vs %v", prefix, a, b)
		}
		for i := 0; i < SegmentCount; i++ {
			bits := prefix - i*SegmentBits
			if bits < 0 {
				bits = 0
			}
			if bits > SegmentBits {
				bits = SegmentBits
			}
			want := uint16(0)
			if bits > 0 {
				want = uint16(MaxSegment << (SegmentBits - bits) & MaxSegment)
			}
			if a[i] != want {
				t.Fatalf("SubnetMask(%d)[%d] = %#x, want %#x", prefix, i, a[i], want)
			}
		}
	}

	if _, err := SubnetMask(-1); err == nil {
		t.Fatal("SubnetMask(-1) should fail")
	}
	if _, err := SubnetMask(65); err == nil {
		t.Fatal("SubnetMask(65) should fail")
	}
}

func TestSubnetContains(t *testing.T) {
	sub := Subnet{Base: Address{0, 10, 1024, 0}, PrefixLength: 48, PoolStart: 0, PoolEnd: 65535}

	if !sub.Contains(Address{0, 10, 1024, 0}) {
		t.Fatal("subnet should contain its base")
	}
	if !sub.Contains(Address{0, 10, 1024, 65535}) {
		t.Fatal("subnet should contain its last host")
	}
	if sub.Contains(Address{0, 10, 1025, 0}) {
		t.Fatal("subnet should not contain a neighboring network")
	}
	if sub.Contains(Address{1, 10, 1024, 0}) {
		t.Fatal("subnet should not contain a different top segment")
	}
}

func TestSubnetComposeHostValue(t *testing.T) {
	sub := Subnet{Base: Address{0, 10, 1024, 0}, PrefixLength: 48, PoolStart: 0, PoolEnd: 65535}

	for _, host := range []uint64{0, 1, 42, 65535} {
		addr := sub.Compose(host)
		if !sub.Contains(addr) {
			t.Fatalf("Compose(%d) = %v outside subnet", host, addr)
		}
		if got := sub.HostValue(addr); got != host {
			t.Fatalf("HostValue(Compose(%d)) = %d", host, got)
		}
	}

	if got, want := sub.Compose(1), (Address{0, 10, 1024, 1}); got != want {
		t.Fatalf("Compose(1) = %v, want %v", got, want)
	}
}

func TestSubnetValidate(t *testing.T) {
	tests := []struct {
		name    string
		sub     Subnet
		wantErr bool
	}{
		{
			name: "valid",
			sub:  Subnet{Base: Address{0, 10, 1024, 0}, PrefixLength: 48, PoolStart: 0, PoolEnd: 65535},
		},
		{
			name:    "prefix too long",
			sub:     Subnet{Base: Address{}, PrefixLength: 65},
			wantErr: true,
		},
		{
			name:    "pool start beyond end",
			sub:     Subnet{Base: Address{}, PrefixLength: 48, PoolStart: 10, PoolEnd: 5},
			wantErr: true,
		},
		{
			name:    "pool end beyond host capacity",
			sub:     Subnet{Base: Address{}, PrefixLength: 48, PoolStart: 0, PoolEnd: 65536},
			wantErr: true,
		},
		{
			name: "full width prefix single host",
			sub:  Subnet{Base: Address{1, 2, 3, 4}, PrefixLength: 64, PoolStart: 0, PoolEnd: 0},
		},
		{
			name: "zero prefix",
			sub:  Subnet{Base: Address{}, PrefixLength: 0, PoolStart: 0, PoolEnd: 1 << 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sub.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
