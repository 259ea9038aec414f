package httpapi

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/journal"
)

// Probe deadlines. The store answers in microseconds when healthy; the ERP
// sits across the network and gets more slack.
const (
	storeProbeTimeout = 2 * time.Second
	erpProbeTimeout   = 5 * time.Second
)

type componentHealth struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

type systemHealth struct {
	MemoryMB   uint64 `json:"memoryMb"`
	Goroutines int    `json:"goroutines"`
	Uptime     string `json:"uptime"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentHealth `json:"components"`
	System     systemHealth               `json:"system"`
}

// Health handles GET /health. The answer is always HTTP 200; degradation is
// reported in the body so load balancers keep routing while operators see
// the state.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]componentHealth, 2)
	storeUp := probe(r.Context(), storeProbeTimeout, s.Store.Ping, components, "store")
	erpUp := probe(r.Context(), erpProbeTimeout, s.Fetcher.Ping, components, "erp")

	status := "healthy"
	switch {
	case !storeUp:
		status = "unhealthy"
	case !erpUp:
		status = "degraded"
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, healthResponse{
		Status:     status,
		Components: components,
		System: systemHealth{
			MemoryMB:   mem.Alloc >> 20,
			Goroutines: runtime.NumGoroutine(),
			Uptime:     time.Since(s.started).Round(time.Second).String(),
		},
	})
}

func probe(ctx context.Context, timeout time.Duration, ping func(context.Context) error,
	out map[string]componentHealth, name string) bool {

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := ping(pctx)
	c := componentHealth{
		Status:  "up",
		Latency: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		c.Status = "down"
		c.Error = err.Error()
	}
	out[name] = c
	return err == nil
}

type syncStatusResponse struct {
	Streams map[string]journal.Info `json:"streams"`
}

// SyncStatus handles GET /health/sync-status: length and id bounds of every
// change journal, read without touching entry bodies.
func (s *Server) SyncStatus(w http.ResponseWriter, r *http.Request) {
	streams, err := s.Journal.InfoAll(r.Context())
	if err != nil {
		writeError(w, r, apperr.Store("journal info", err))
		return
	}
	writeJSON(w, http.StatusOK, syncStatusResponse{Streams: streams})
}
