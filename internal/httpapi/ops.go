package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// UpdateAllStock handles POST /api/stock/update-all: a scoped re-walk of
// every stock record, leaving other types untouched.
func (s *Server) UpdateAllStock(w http.ResponseWriter, r *http.Request) {
	summary := s.Ingestor.RefreshStock(r.Context())
	log.Ctx(r.Context()).Info().
		Int("fetched", summary.TotalFetched).
		Int("updated", summary.Updated).
		Int("failed", summary.Failed).
		Msg("stock refresh finished")
	writeJSON(w, http.StatusOK, summary)
}

// UpdateAllPrices handles POST /api/price/update-all.
func (s *Server) UpdateAllPrices(w http.ResponseWriter, r *http.Request) {
	summary := s.Ingestor.RefreshPrices(r.Context())
	log.Ctx(r.Context()).Info().
		Int("fetched", summary.TotalFetched).
		Int("updated", summary.Updated).
		Int("failed", summary.Failed).
		Msg("price refresh finished")
	writeJSON(w, http.StatusOK, summary)
}
