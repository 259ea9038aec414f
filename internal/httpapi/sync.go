package httpapi

import (
	"context"
	"net/http"

	"github.com/tijarahlabs/storesync/internal/analytics"
	"github.com/tijarahlabs/storesync/internal/metrics"
	"github.com/tijarahlabs/storesync/internal/syncer"
)

// SyncCheck handles POST /api/sync/check across every entity type the
// request names.
func (s *Server) SyncCheck(w http.ResponseWriter, r *http.Request) {
	s.handleSync(w, r, "all", s.Processor.Process)
}

// SyncCheckFast handles POST /api/sync/check-fast.
func (s *Server) SyncCheckFast(w http.ResponseWriter, r *http.Request) {
	s.handleSync(w, r, "fast", s.Processor.ProcessFast)
}

// SyncCheckMedium handles POST /api/sync/check-medium.
func (s *Server) SyncCheckMedium(w http.ResponseWriter, r *http.Request) {
	s.handleSync(w, r, "medium", s.Processor.ProcessMedium)
}

// SyncCheckSlow handles POST /api/sync/check-slow.
func (s *Server) SyncCheckSlow(w http.ResponseWriter, r *http.Request) {
	s.handleSync(w, r, "slow", s.Processor.ProcessSlow)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, tier string,
	process func(context.Context, syncer.Request) (*syncer.Response, error)) {

	var req syncer.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UserDeviceID == "" {
		req.UserDeviceID = DeviceID(r.Context())
	}

	resp, err := process(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	metrics.SyncUpdatesTotal.WithLabelValues(tier).Add(float64(len(resp.Updates)))
	if s.Analytics != nil {
		s.Analytics.Record(r.Context(), analytics.Event{
			Device:  DeviceID(r.Context()),
			Tier:    tier,
			Updates: len(resp.Updates),
			InSync:  resp.InSync,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
