// Package lease owns the authoritative mapping from address to lease.
// The table is sharded per subnet; each shard serializes its own
// mutations and never locks across shards.
package lease

import (
	"errors"
	"sort"
	"sync"
	"time"

	"sdhcpd/internal/sdhcp"
)

var (
	// ErrAddressInUse means another client holds an active lease on
	// the address.
	ErrAddressInUse = errors.New("address already leased")

	// ErrNoSuchReservation means the client has no matching tentative
	// reservation (stale, timed out, or never offered).
	ErrNoSuchReservation = errors.New("no matching reservation")

	// ErrNotOwner means the committed lease on the address belongs to
	// a different client.
	ErrNotOwner = errors.New("lease held by another client")

	// ErrUnknownSubnet means the address is outside every subnet this
	// table manages.
	ErrUnknownSubnet = errors.New("address outside managed subnets")
)

// State distinguishes a reservation pending confirmation from a
// confirmed assignment.
type State int

const (
	StateTentative State = iota + 1
	StateCommitted
)

func (s State) String() string {
	switch s {
	case StateTentative:
		return "tentative"
	case StateCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// Lease is a time-bounded assignment of an address to a client. An
// expired lease is logically absent: every read path treats it as
// free even before the sweep removes it.
type Lease struct {
	ClientID     string
	Addr         sdhcp.Address
	PrefixLength int
	Expiry       time.Time
	State        State
}

// ExpiredAt reports whether the lease was or will be expired at t.
func (l Lease) ExpiredAt(t time.Time) bool {
	return !l.Expiry.After(t)
}

type shard struct {
	subnet sdhcp.Subnet

	mu       sync.Mutex
	leases   map[sdhcp.Address]*Lease
	byClient map[string]sdhcp.Address
}

// Table holds the lease state for a fixed set of subnets, configured
// once at server start.
type Table struct {
	shards []*shard
	now    func() time.Time
}

// Option configures a Table.
type Option func(*Table)

// WithClock replaces the table's time source. Tests use this to drive
// expiry deterministically.
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// NewTable creates a table managing the given subnets.
func NewTable(subnets []sdhcp.Subnet, opts ...Option) *Table {
	t := &Table{now: time.Now}
	for _, sub := range subnets {
		t.shards = append(t.shards, &shard{
			subnet:   sub,
			leases:   make(map[sdhcp.Address]*Lease),
			byClient: make(map[string]sdhcp.Address),
		})
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table) shardFor(addr sdhcp.Address) *shard {
	for _, s := range t.shards {
		if s.subnet.Contains(addr) {
			return s
		}
	}
	return nil
}

// activeLocked returns the live lease at addr, dropping it lazily if
// it has expired. Caller holds s.mu.
func (s *shard) activeLocked(addr sdhcp.Address, now time.Time) *Lease {
	l, ok := s.leases[addr]
	if !ok {
		return nil
	}
	if l.ExpiredAt(now) {
		s.removeLocked(addr)
		return nil
	}
	return l
}

func (s *shard) removeLocked(addr sdhcp.Address) {
	if l, ok := s.leases[addr]; ok {
		if held, ok := s.byClient[l.ClientID]; ok && held == addr {
			delete(s.byClient, l.ClientID)
		}
		delete(s.leases, addr)
	}
}

// ReserveTentative records a short-lived reservation for clientID at
// addr, superseding any previous tentative reservation the client held
// anywhere. It fails with ErrAddressInUse when a different client has
// an active lease on the address.
func (t *Table) ReserveTentative(clientID string, addr sdhcp.Address, prefixLen int, ttl time.Duration) (Lease, error) {
	t.dropTentative(clientID, addr)

	s := t.shardFor(addr)
	if s == nil {
		return Lease{}, ErrUnknownSubnet
	}
	now := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.activeLocked(addr, now); existing != nil && existing.ClientID != clientID {
		return Lease{}, ErrAddressInUse
	}
	l := &Lease{
		ClientID:     clientID,
		Addr:         addr,
		PrefixLength: prefixLen,
		Expiry:       now.Add(ttl),
		State:        StateTentative,
	}
	s.leases[addr] = l
	s.byClient[clientID] = addr
	return *l, nil
}

// dropTentative releases any tentative reservation clientID holds on
// an address other than keep. Committed leases are left alone.
func (t *Table) dropTentative(clientID string, keep sdhcp.Address) {
	now := t.now()
	for _, s := range t.shards {
		s.mu.Lock()
		if held, ok := s.byClient[clientID]; ok && held != keep {
			if l := s.activeLocked(held, now); l != nil && l.State == StateTentative {
				s.removeLocked(held)
			}
		}
		s.mu.Unlock()
	}
}

// Commit converts the client's tentative reservation at addr into a
// committed lease with a fresh expiry.
func (t *Table) Commit(clientID string, addr sdhcp.Address, leaseTime time.Duration) (Lease, error) {
	s := t.shardFor(addr)
	if s == nil {
		return Lease{}, ErrUnknownSubnet
	}
	now := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.activeLocked(addr, now)
	if l == nil || l.State != StateTentative || l.ClientID != clientID {
		return Lease{}, ErrNoSuchReservation
	}
	l.State = StateCommitted
	l.Expiry = now.Add(leaseTime)
	return *l, nil
}

// Renew extends a committed lease owned by clientID.
func (t *Table) Renew(clientID string, addr sdhcp.Address, leaseTime time.Duration) (Lease, error) {
	s := t.shardFor(addr)
	if s == nil {
		return Lease{}, ErrUnknownSubnet
	}
	now := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.activeLocked(addr, now)
	if l == nil || l.State != StateCommitted {
		return Lease{}, ErrNoSuchReservation
	}
	if l.ClientID != clientID {
		return Lease{}, ErrNotOwner
	}
	l.Expiry = now.Add(leaseTime)
	return *l, nil
}

// Release removes any active lease on addr, tentative or committed.
func (t *Table) Release(addr sdhcp.Address) {
	s := t.shardFor(addr)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.removeLocked(addr)
	s.mu.Unlock()
}

// SweepExpired removes every lease whose expiry has passed and returns
// the reclaimed leases.
func (t *Table) SweepExpired(now time.Time) []Lease {
	var reclaimed []Lease
	for _, s := range t.shards {
		s.mu.Lock()
		for addr, l := range s.leases {
			if l.ExpiredAt(now) {
				reclaimed = append(reclaimed, *l)
				s.removeLocked(addr)
			}
		}
		s.mu.Unlock()
	}
	return reclaimed
}

// InUse reports whether addr currently carries an active lease. This
// is the claims query the subnet pool allocates against.
func (t *Table) InUse(addr sdhcp.Address) bool {
	s := t.shardFor(addr)
	if s == nil {
		return false
	}
	now := t.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(addr, now) != nil
}

// Active returns the live lease at addr, if any.
func (t *Table) Active(addr sdhcp.Address) (Lease, bool) {
	s := t.shardFor(addr)
	if s == nil {
		return Lease{}, false
	}
	now := t.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.activeLocked(addr, now); l != nil {
		return *l, true
	}
	return Lease{}, false
}

// FindClient returns the live lease held by clientID, if any.
func (t *Table) FindClient(clientID string) (Lease, bool) {
	now := t.now()
	for _, s := range t.shards {
		s.mu.Lock()
		if addr, ok := s.byClient[clientID]; ok {
			if l := s.activeLocked(addr, now); l != nil && l.ClientID == clientID {
				cp := *l
				s.mu.Unlock()
				return cp, true
			}
		}
		s.mu.Unlock()
	}
	return Lease{}, false
}

// Prime seeds the table with previously committed leases, skipping
// anything expired or outside the managed subnets. Used to restore
// state from the persistence snapshot at boot.
func (t *Table) Prime(leases []Lease) int {
	now := t.now()
	restored := 0
	for _, l := range leases {
		if l.ExpiredAt(now) {
			continue
		}
		s := t.shardFor(l.Addr)
		if s == nil {
			continue
		}
		s.mu.Lock()
		if s.activeLocked(l.Addr, now) == nil {
			cp := l
			cp.State = StateCommitted
			s.leases[cp.Addr] = &cp
			s.byClient[cp.ClientID] = cp.Addr
			restored++
		}
		s.mu.Unlock()
	}
	return restored
}

// Snapshot returns a stable-ordered copy of every live lease.
func (t *Table) Snapshot() []Lease {
	now := t.now()
	var out []Lease
	for _, s := range t.shards {
		s.mu.Lock()
		for _, l := range s.leases {
			if !l.ExpiredAt(now) {
				out = append(out, *l)
			}
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Addr.Uint64() < out[j].Addr.Uint64()
	})
	return out
}
