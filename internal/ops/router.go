// Package ops exposes the operator-facing HTTP surface: health and
// readiness probes, Prometheus metrics, and read-only listings of
// leases and subnets.
package ops

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sdhcpd/internal/lease"
	"sdhcpd/internal/sdhcp"
)

// LeaseSource provides the live lease listing.
type LeaseSource interface {
	Snapshot() []lease.Lease
}

type leaseView struct {
	Address      string    `json:"address"`
	AddressHex   string    `json:"addressHex"`
	ClientID     string    `json:"clientId"`
	PrefixLength int       `json:"prefixLength"`
	State        string    `json:"state"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type subnetView struct {
	Base         string `json:"base"`
	PrefixLength int    `json:"prefixLength"`
	PoolStart    uint64 `json:"poolStart"`
	PoolEnd      uint64 `json:"poolEnd"`
}

// Router builds the ops HTTP handler.
func Router(src LeaseSource, subnets []sdhcp.Subnet, gatherer prometheus.Gatherer, ready *atomic.Bool) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})

	r.Method("GET", "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/v1/leases", func(w http.ResponseWriter, _ *http.Request) {
		leases := src.Snapshot()
		views := make([]leaseView, 0, len(leases))
		for _, l := range leases {
			views = append(views, leaseView{
				Address:      l.Addr.String(),
				AddressHex:   l.Addr.ColonHex(),
				ClientID:     l.ClientID,
				PrefixLength: l.PrefixLength,
				State:        l.State.String(),
				ExpiresAt:    l.Expiry,
			})
		}
		writeJSON(w, views)
	})

	r.Get("/v1/subnets", func(w http.ResponseWriter, _ *http.Request) {
		views := make([]subnetView, 0, len(subnets))
		for _, sub := range subnets {
			views = append(views, subnetView{
				Base:         sub.Base.String(),
				PrefixLength: sub.PrefixLength,
				PoolStart:    sub.PoolStart,
				PoolEnd:      sub.PoolEnd,
			})
		}
		writeJSON(w, views)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
