package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/entity"
	"github.com/tijarahlabs/storesync/internal/erp"
)

type resourceResponse struct {
	Data any `json:"data"`
}

// GetResource handles GET /api/resource/{doctype}. A filters parameter of
// the form [["name","=",<id>]] addresses one document; any other query is
// served as a cached list response.
func (s *Server) GetResource(w http.ResponseWriter, r *http.Request) {
	doctype := pathParam(r, "doctype")
	typ, ok := erp.TypeForDoctype(doctype)
	if !ok {
		writeError(w, r, apperr.NotFound("unknown doctype "+doctype))
		return
	}

	if name, single := nameFilter(r.URL.Query().Get("filters")); single {
		s.serveSingle(w, r, typ, name)
		return
	}
	s.serveList(w, r, typ, doctype)
}

// GetResourceByName handles GET /api/resource/{doctype}/{name}, the
// path-addressed form of a single-document read.
func (s *Server) GetResourceByName(w http.ResponseWriter, r *http.Request) {
	typ, ok := erp.TypeForDoctype(pathParam(r, "doctype"))
	if !ok {
		writeError(w, r, apperr.NotFound("unknown doctype "+pathParam(r, "doctype")))
		return
	}
	s.serveSingle(w, r, typ, pathParam(r, "name"))
}

// GetHero handles GET /api/hero.
func (s *Server) GetHero(w http.ResponseWriter, r *http.Request) {
	s.serveSingle(w, r, entity.TypeHero, entity.SingletonID)
}

// GetBundle handles GET /api/bundle.
func (s *Server) GetBundle(w http.ResponseWriter, r *http.Request) {
	s.serveSingle(w, r, entity.TypeBundle, entity.SingletonID)
}

// GetHome handles GET /api/home.
func (s *Server) GetHome(w http.ResponseWriter, r *http.Request) {
	s.serveSingle(w, r, entity.TypeHome, entity.SingletonID)
}

func (s *Server) serveSingle(w http.ResponseWriter, r *http.Request, typ entity.Type, id string) {
	if id == "" {
		writeError(w, r, apperr.Validation("document name is required"))
		return
	}
	ent, err := s.Ingestor.ReadThrough(r.Context(), typ, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resourceResponse{Data: ent.Payload})
}

// serveList renders the published documents of one doctype, caching the
// rendered body keyed by a digest of the normalised query string.
func (s *Server) serveList(w http.ResponseWriter, r *http.Request, typ entity.Type, doctype string) {
	query := r.URL.Query().Encode()

	if body, err := s.Queries.Get(r.Context(), string(typ), "", query); err == nil {
		writeRaw(w, http.StatusOK, body)
		return
	}

	recs, err := s.Fetcher.FetchPublished(r.Context(), doctype)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		payload, terr := s.Transformer.Transform(r.Context(), typ, rec)
		if terr != nil {
			log.Ctx(r.Context()).Warn().Err(terr).
				Str("doctype", doctype).
				Str("name", rec.Name()).
				Msg("record transform failed, skipping")
			continue
		}
		items = append(items, payload)
	}

	body, err := json.Marshal(resourceResponse{Data: items})
	if err != nil {
		writeError(w, r, apperr.Internal("encode resource list", err))
		return
	}
	if err := s.Queries.Set(r.Context(), string(typ), "", query, string(body)); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("query cache write failed")
	}
	writeRaw(w, http.StatusOK, string(body))
}

type viewResponse struct {
	Success   bool   `json:"success"`
	ProductID string `json:"productId"`
	Views     int64  `json:"views"`
}

// PostView handles POST /api/views/{productId}.
func (s *Server) PostView(w http.ResponseWriter, r *http.Request) {
	productID := pathParam(r, "productId")
	if productID == "" {
		writeError(w, r, apperr.Validation("productId is required"))
		return
	}

	views, err := s.Ingestor.IncrementView(r.Context(), productID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{Success: true, ProductID: productID, Views: views})
}

// pathParam returns a decoded chi URL parameter. Doctype names carry spaces,
// so escaped segments must unescape before lookup.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}

// nameFilter recognises the single-document filter shape [["name","=",<id>]].
func nameFilter(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	var filters [][]any
	if err := json.Unmarshal([]byte(raw), &filters); err != nil {
		return "", false
	}
	if len(filters) != 1 || len(filters[0]) != 3 {
		return "", false
	}
	field, _ := filters[0][0].(string)
	op, _ := filters[0][1].(string)
	value, _ := filters[0][2].(string)
	if field == "name" && op == "=" && value != "" {
		return value, true
	}
	return "", false
}
