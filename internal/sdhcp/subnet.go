package sdhcp

import "fmt"

// Subnet is one immutable block of the address space owned by a server.
// PrefixLength bits from the most significant end are fixed network
// bits; PoolStart/PoolEnd bound (inclusive) the host-portion values
// that may be handed out.
type Subnet struct {
	Base         Address
	PrefixLength int
	PoolStart    uint64
	PoolEnd      uint64
}

// String renders the CIDR-like form "base/prefix".
func (s Subnet) String() string {
	return fmt.Sprintf("%s/%d", s.Base, s.PrefixLength)
}

// HostMax returns the largest host-portion value representable under
// the subnet's prefix length.
func (s Subnet) HostMax() uint64 {
	hostBits := MaxPrefixLength - s.PrefixLength
	if hostBits >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(hostBits) - 1
}

// Mask returns the subnet's network mask.
func (s Subnet) Mask() Address {
	mask, err := SubnetMask(s.PrefixLength)
	if err != nil {
		// Validate() refuses subnets with an illegal prefix length.
		panic(err)
	}
	return mask
}

// Contains reports whether addr's network portion matches the subnet's
// base address under its mask.
func (s Subnet) Contains(addr Address) bool {
	mask := s.Mask().Uint64()
	return addr.Uint64()&mask == s.Base.Uint64()&mask
}

// HostValue extracts addr's host-portion value. The caller is expected
// to have checked Contains first.
func (s Subnet) HostValue(addr Address) uint64 {
	return addr.Uint64() &^ s.Mask().Uint64()
}

// Compose builds the full address for a host-portion value within this
// subnet.
func (s Subnet) Compose(host uint64) Address {
	mask := s.Mask().Uint64()
	return AddressFromUint64(s.Base.Uint64()&mask | host&^mask)
}

// Validate checks the subnet invariants: legal prefix length and a
// pool range that fits inside the host-bit width.
func (s Subnet) Validate() error {
	if !ValidPrefixLength(s.PrefixLength) {
		return fmt.Errorf("subnet %s: prefix length %d out of range 0-%d", s.Base, s.PrefixLength, MaxPrefixLength)
	}
	if s.PoolStart > s.PoolEnd {
		return fmt.Errorf("subnet %s: pool start %d exceeds pool end %d", s, s.PoolStart, s.PoolEnd)
	}
	if max := s.HostMax(); s.PoolEnd > max {
		return fmt.Errorf("subnet %s: pool end %d exceeds host capacity %d", s, s.PoolEnd, max)
	}
	return nil
}
