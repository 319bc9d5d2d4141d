// Package pool selects free host addresses out of the configured
// subnets. The pool holds no lease state of its own: whether a host
// value is claimed is answered by the lease table through the Claims
// interface, keeping a single source of truth.
package pool

import (
	"errors"
	"fmt"

	"sdhcpd/internal/sdhcp"
)

// ErrExhausted means no free host value exists in any eligible subnet.
var ErrExhausted = errors.New("subnet pool exhausted")

// Claims answers whether an address currently carries an active lease.
type Claims interface {
	InUse(sdhcp.Address) bool
}

// Pool allocates addresses from an immutable, ordered set of subnets.
type Pool struct {
	subnets    []sdhcp.Subnet
	defaultIdx int
	claims     Claims
}

// New validates the subnets and builds a pool over them. defaultIdx
// names the subnet used when no configured subnet matches a client's
// desired prefix length.
func New(subnets []sdhcp.Subnet, defaultIdx int, claims Claims) (*Pool, error) {
	if len(subnets) == 0 {
		return nil, errors.New("at least one subnet is required")
	}
	if defaultIdx < 0 || defaultIdx >= len(subnets) {
		return nil, fmt.Errorf("default subnet index %d out of range", defaultIdx)
	}
	if claims == nil {
		return nil, errors.New("claims source is required")
	}
	for _, sub := range subnets {
		if err := sub.Validate(); err != nil {
			return nil, err
		}
	}
	return &Pool{subnets: subnets, defaultIdx: defaultIdx, claims: claims}, nil
}

// Allocate returns the lowest free address in an eligible subnet.
// Subnets whose prefix length equals desiredPrefixLength are tried in
// configuration order; when none matches (or desiredPrefixLength <= 0)
// the default subnet is used.
func (p *Pool) Allocate(desiredPrefixLength int) (sdhcp.Address, sdhcp.Subnet, error) {
	var candidates []sdhcp.Subnet
	if desiredPrefixLength > 0 {
		for _, sub := range p.subnets {
			if sub.PrefixLength == desiredPrefixLength {
				candidates = append(candidates, sub)
			}
		}
	}
	if len(candidates) == 0 {
		candidates = append(candidates, p.subnets[p.defaultIdx])
	}

	for _, sub := range candidates {
		if addr, ok := p.lowestFree(sub); ok {
			return addr, sub, nil
		}
	}
	return sdhcp.Address{}, sdhcp.Subnet{}, ErrExhausted
}

// lowestFree scans [PoolStart, PoolEnd] for the smallest unclaimed
// host value. Linear scan keeps allocation order deterministic; host
// spaces here are 16-bit scale, not internet scale.
func (p *Pool) lowestFree(sub sdhcp.Subnet) (sdhcp.Address, bool) {
	for host := sub.PoolStart; ; host++ {
		addr := sub.Compose(host)
		if !p.claims.InUse(addr) {
			return addr, true
		}
		if host == sub.PoolEnd {
			return sdhcp.Address{}, false
		}
	}
}

// SubnetFor returns the first configured subnet containing addr.
func (p *Pool) SubnetFor(addr sdhcp.Address) (sdhcp.Subnet, bool) {
	for _, sub := range p.subnets {
		if sub.Contains(addr) {
			return sub, true
		}
	}
	return sdhcp.Subnet{}, false
}

// Subnets returns the configured subnets in order.
func (p *Pool) Subnets() []sdhcp.Subnet {
	out := make([]sdhcp.Subnet, len(p.subnets))
	copy(out, p.subnets)
	return out
}
