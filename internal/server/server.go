// Package server contains the SDHCP orchestrator and handshake engine:
// it receives packets from the message bus, drives the per-client
// state machine, and publishes replies.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"sdhcpd/internal/sdhcp"
)

// Config carries the immutable runtime settings of one SDHCP server.
type Config struct {
	ServerID            string
	SubjectPrefix       string
	LeaseTime           time.Duration
	MaxLeaseTime        time.Duration
	ReservationTTL      time.Duration
	SweepInterval       time.Duration
	DefaultPrefixLength int
}

func (c Config) validate() error {
	if c.ServerID == "" {
		return errors.New("server id is required")
	}
	if c.LeaseTime <= 0 {
		return errors.New("lease time must be positive")
	}
	if c.MaxLeaseTime < c.LeaseTime {
		return errors.New("max lease time must be at least the default lease time")
	}
	if c.ReservationTTL <= 0 {
		return errors.New("reservation ttl must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if !sdhcp.ValidPrefixLength(c.DefaultPrefixLength) {
		return fmt.Errorf("default prefix length %d out of range", c.DefaultPrefixLength)
	}
	return nil
}

// Transport is the external message bus: broadcast packets arrive
// through Subscribe, replies leave through unicast Publish.
type Transport interface {
	Publish(ctx context.Context, subject string, v any) error
	Subscribe(ctx context.Context, subject string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// Server validates inbound packets and routes them to the handshake
// engine, handing replies back to the transport.
type Server struct {
	cfg    Config
	engine *Engine
	bus    Transport
	log    zerolog.Logger
	tracer trace.Tracer

	metrics *Metrics

	subMu sync.Mutex
	sub   io.Closer
}

// New wires a server around an engine and a transport.
func New(cfg Config, engine *Engine, bus Transport, m *Metrics, log zerolog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if bus == nil {
		return nil, errors.New("transport is required")
	}
	if m == nil {
		return nil, errors.New("metrics are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.SubjectPrefix == "" {
		return nil, errors.New("subject prefix is required")
	}
	return &Server{
		cfg:     cfg,
		engine:  engine,
		bus:     bus,
		log:     log.With().Str("component", "server").Logger(),
		tracer:  otel.Tracer("sdhcpd/server"),
		metrics: m,
	}, nil
}

// PacketSubject is the broadcast subject all servers listen on.
func (s *Server) PacketSubject() string {
	return s.cfg.SubjectPrefix + ".packet"
}

func (s *Server) clientSubject(clientID string) string {
	return s.cfg.SubjectPrefix + ".client." + clientID
}

// Start subscribes to the broadcast packet subject and begins handling.
func (s *Server) Start(ctx context.Context) error {
	sub, err := s.bus.Subscribe(ctx, s.PacketSubject(), s.handlePacket)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.PacketSubject(), err)
	}
	s.subMu.Lock()
	s.sub = sub
	s.subMu.Unlock()
	s.log.Info().Str("subject", s.PacketSubject()).Str("server_id", s.cfg.ServerID).Msg("listening for packets")
	return nil
}

// Close tears down the packet subscription.
func (s *Server) Close() error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.sub == nil {
		return nil
	}
	err := s.sub.Close()
	s.sub = nil
	return err
}

// handlePacket decodes, validates, and dispatches one inbound packet.
// Malformed packets are logged and dropped; nothing here returns an
// error to the transport, so a bad packet is never redelivered.
func (s *Server) handlePacket(ctx context.Context, data []byte) error {
	msg, err := sdhcp.Decode(data)
	if err != nil {
		s.metrics.PacketsDropped.Inc()
		s.log.Warn().Err(err).Msg("dropping malformed packet")
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "sdhcp.handle",
		trace.WithAttributes(
			attribute.String("sdhcp.type", string(msg.Kind())),
			attribute.String("sdhcp.client_id", msg.Client()),
		))
	defer span.End()

	s.metrics.PacketsReceived.WithLabelValues(string(msg.Kind())).Inc()

	var reply sdhcp.Message
	switch m := msg.(type) {
	case sdhcp.Discover:
		if offer := s.engine.HandleDiscover(ctx, m); offer != nil {
			reply = *offer
		}
	case sdhcp.Request:
		reply = s.engine.HandleRequest(ctx, m)
	case sdhcp.Offer, sdhcp.Ack, sdhcp.Nack:
		// Server-originated types have no business arriving here.
		s.metrics.PacketsDropped.Inc()
		s.log.Warn().Str("type", string(msg.Kind())).Msg("dropping server-originated packet from the wire")
		return nil
	}
	if reply == nil {
		return nil
	}

	// The engine has released all locks by the time a reply exists;
	// publishing never blocks allocation.
	subject := s.clientSubject(reply.Client())
	if err := s.bus.Publish(ctx, subject, reply); err != nil {
		s.log.Error().Err(err).Str("subject", subject).Msg("publish reply failed")
		return nil
	}
	s.metrics.PacketsSent.WithLabelValues(string(reply.Kind())).Inc()
	return nil
}
