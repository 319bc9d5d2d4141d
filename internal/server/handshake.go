package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sdhcpd/internal/lease"
	"sdhcpd/internal/pool"
	"sdhcpd/internal/sdhcp"
)

// allocateRetries bounds how often a Discover retries after losing an
// allocate/reserve race to a concurrent conversation.
const allocateRetries = 4

// Store mirrors committed leases to durable storage. Implementations
// must tolerate being called concurrently.
type Store interface {
	SaveLease(ctx context.Context, l lease.Lease) error
	DeleteLease(ctx context.Context, addr sdhcp.Address) error
}

// transaction tracks one in-flight handshake between Offer and
// Request/timeout.
type transaction struct {
	clientID  string
	offered   sdhcp.Address
	prefixLen int
	leaseTime time.Duration
	createdAt time.Time
}

// Engine drives the per-client Discover/Offer/Request/Ack state
// machine against the subnet pool and lease table.
type Engine struct {
	cfg   Config
	pool  *pool.Pool
	table *lease.Table
	store Store
	log   zerolog.Logger
	now   func() time.Time

	// allocMu serializes the allocate-then-reserve pair so concurrent
	// Discovers never chase the same host value. Nothing under it
	// touches the network.
	allocMu sync.Mutex

	txnMu sync.Mutex
	txns  map[string]*transaction

	metrics *Metrics
}

// NewEngine wires the handshake engine. store may be nil when
// persistence is disabled.
func NewEngine(cfg Config, p *pool.Pool, t *lease.Table, store Store, m *Metrics, log zerolog.Logger) (*Engine, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if t == nil {
		return nil, errors.New("lease table is required")
	}
	if m == nil {
		return nil, errors.New("metrics are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		pool:    p,
		table:   t,
		store:   store,
		log:     log.With().Str("component", "handshake").Logger(),
		now:     time.Now,
		txns:    make(map[string]*transaction),
		metrics: m,
	}, nil
}

// HandleDiscover allocates or re-offers an address for the client and
// returns the Offer to send. A nil Offer means deliberate silence
// (pool exhausted, or an internal fault on this one conversation).
func (e *Engine) HandleDiscover(ctx context.Context, d sdhcp.Discover) *sdhcp.Offer {
	grant := e.grantDuration(d.RequestedLeaseTime)

	var (
		offered   sdhcp.Address
		prefixLen int
	)

	if bound, ok := e.table.FindClient(d.ClientID); ok && bound.State == lease.StateCommitted {
		// Rediscover while bound is a renewal: re-offer the standing
		// assignment instead of allocating a new one.
		offered = bound.Addr
		prefixLen = bound.PrefixLength
	} else {
		desired := d.DesiredPrefixLength
		if desired <= 0 {
			desired = e.cfg.DefaultPrefixLength
		}
		var ok bool
		offered, prefixLen, ok = e.allocateAndReserve(d.ClientID, desired)
		if !ok {
			return nil
		}
	}

	now := e.now()
	e.txnMu.Lock()
	e.txns[d.ClientID] = &transaction{
		clientID:  d.ClientID,
		offered:   offered,
		prefixLen: prefixLen,
		leaseTime: grant,
		createdAt: now,
	}
	e.txnMu.Unlock()

	e.metrics.OffersSent.Inc()
	e.log.Info().
		Str("client_id", d.ClientID).
		Stringer("address", offered).
		Int("prefix_length", prefixLen).
		Dur("lease_time", grant).
		Msg("offering address")

	return &sdhcp.Offer{
		Type:           sdhcp.TypeOffer,
		ClientID:       d.ClientID,
		ServerID:       e.cfg.ServerID,
		OfferedAddress: offered,
		PrefixLength:   prefixLen,
		LeaseTime:      uint32(grant / time.Second),
	}
}

// allocateAndReserve finds the lowest free address for the desired
// prefix and reserves it tentatively. A false result means deliberate
// silence: exhaustion, or an internal fault on this one conversation.
func (e *Engine) allocateAndReserve(clientID string, desired int) (sdhcp.Address, int, bool) {
	e.allocMu.Lock()
	defer e.allocMu.Unlock()

	for attempt := 0; attempt < allocateRetries; attempt++ {
		addr, sub, err := e.pool.Allocate(desired)
		if errors.Is(err, pool.ErrExhausted) {
			e.metrics.Exhaustions.Inc()
			e.log.Warn().Str("client_id", clientID).Int("desired_prefix", desired).Msg("pool exhausted, staying silent")
			return sdhcp.Address{}, 0, false
		}
		if err != nil {
			e.log.Error().Err(err).Str("client_id", clientID).Msg("allocate failed")
			return sdhcp.Address{}, 0, false
		}
		_, err = e.table.ReserveTentative(clientID, addr, sub.PrefixLength, e.cfg.ReservationTTL)
		if errors.Is(err, lease.ErrAddressInUse) {
			// Lost a race to a commit happening outside allocMu; rescan.
			continue
		}
		if err != nil {
			e.log.Error().Err(err).Str("client_id", clientID).Stringer("address", addr).Msg("reserve failed")
			return sdhcp.Address{}, 0, false
		}
		return addr, sub.PrefixLength, true
	}
	e.log.Warn().Str("client_id", clientID).Msg("gave up reserving after repeated races")
	return sdhcp.Address{}, 0, false
}

// HandleRequest commits or renews the requested address. It returns
// the Ack or Nack to send, or nil when the Request was addressed to a
// different server and must be ignored.
func (e *Engine) HandleRequest(ctx context.Context, r sdhcp.Request) sdhcp.Message {
	if r.ServerID != e.cfg.ServerID {
		e.metrics.RequestsIgnored.Inc()
		return nil
	}

	if _, ok := e.pool.SubnetFor(r.RequestedAddress); !ok {
		return e.nack(r, "address outside served subnets")
	}

	grant := e.cfg.LeaseTime
	e.txnMu.Lock()
	txn := e.txns[r.ClientID]
	e.txnMu.Unlock()
	if txn != nil {
		if txn.offered != r.RequestedAddress || txn.prefixLen != r.PrefixLength {
			return e.nack(r, "request does not match offer")
		}
		grant = txn.leaseTime
	}
	if standing, ok := e.table.Active(r.RequestedAddress); ok &&
		standing.ClientID == r.ClientID && standing.PrefixLength != r.PrefixLength {
		return e.nack(r, "prefix length does not match assignment")
	}

	l, err := e.table.Commit(r.ClientID, r.RequestedAddress, grant)
	if errors.Is(err, lease.ErrNoSuchReservation) {
		// No standing reservation; this may be a renewal of an
		// existing commitment.
		l, err = e.table.Renew(r.ClientID, r.RequestedAddress, grant)
	}
	if err != nil {
		return e.nack(r, err.Error())
	}

	e.dropTransaction(r.ClientID)
	if e.store != nil {
		if err := e.store.SaveLease(ctx, l); err != nil {
			e.log.Error().Err(err).Stringer("address", l.Addr).Msg("persist lease failed")
		}
	}

	e.metrics.AcksSent.Inc()
	e.metrics.ActiveLeases.Set(float64(len(e.table.Snapshot())))
	e.log.Info().
		Str("client_id", r.ClientID).
		Stringer("address", l.Addr).
		Time("expiry", l.Expiry).
		Msg("lease committed")

	return sdhcp.Ack{
		Type:            sdhcp.TypeAck,
		ClientID:        r.ClientID,
		ServerID:        e.cfg.ServerID,
		AssignedAddress: l.Addr,
		PrefixLength:    l.PrefixLength,
		LeaseTime:       uint32(grant / time.Second),
	}
}

func (e *Engine) nack(r sdhcp.Request, reason string) sdhcp.Message {
	e.dropTransaction(r.ClientID)
	e.metrics.NacksSent.Inc()
	e.log.Info().
		Str("client_id", r.ClientID).
		Stringer("address", r.RequestedAddress).
		Str("reason", reason).
		Msg("refusing request")
	return sdhcp.Nack{
		Type:     sdhcp.TypeNack,
		ClientID: r.ClientID,
		ServerID: e.cfg.ServerID,
		Reason:   reason,
	}
}

func (e *Engine) dropTransaction(clientID string) {
	e.txnMu.Lock()
	delete(e.txns, clientID)
	e.txnMu.Unlock()
}

// Sweep reclaims expired leases and timed-out reservations, prunes
// stale transactions, and removes expired commitments from the store.
func (e *Engine) Sweep(ctx context.Context, now time.Time) {
	reclaimed := e.table.SweepExpired(now)
	for _, l := range reclaimed {
		e.metrics.LeasesReclaimed.Inc()
		if l.State == lease.StateCommitted && e.store != nil {
			if err := e.store.DeleteLease(ctx, l.Addr); err != nil {
				e.log.Error().Err(err).Stringer("address", l.Addr).Msg("remove persisted lease failed")
			}
		}
		e.log.Debug().
			Str("client_id", l.ClientID).
			Stringer("address", l.Addr).
			Stringer("state", l.State).
			Msg("lease reclaimed")
	}

	e.txnMu.Lock()
	for clientID, txn := range e.txns {
		if now.Sub(txn.createdAt) > e.cfg.ReservationTTL {
			delete(e.txns, clientID)
		}
	}
	e.txnMu.Unlock()

	e.metrics.ActiveLeases.Set(float64(len(e.table.Snapshot())))
}

// Run drives the periodic expiry sweep until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			e.Sweep(ctx, now)
		}
	}
}

// grantDuration picks the lease time for an offer: the client's
// request when positive and within the configured ceiling, otherwise
// the configured default.
func (e *Engine) grantDuration(requestedSeconds uint32) time.Duration {
	if requestedSeconds == 0 {
		return e.cfg.LeaseTime
	}
	requested := time.Duration(requestedSeconds) * time.Second
	if requested > e.cfg.MaxLeaseTime {
		return e.cfg.LeaseTime
	}
	return requested
}
