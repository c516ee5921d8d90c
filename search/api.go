package search

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/medifind/shield"
)

// Handler returns the HTTP API:
//
//	GET  /api/search?q=<term>&qty=<n>
//	POST /api/search             {"medicine": "...", "quantity": n}
//	GET  /api/searches/recent?limit=<n>
//	GET  /healthz
//	GET  /metrics
//
// mws wrap every route, outermost first.
func (s *Service) Handler(mws ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	for _, mw := range mws {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "health": s.Health()})
	})
	if reg := s.metrics.Registry(); reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", func(w http.ResponseWriter, r *http.Request) {
			req := Request{Query: r.URL.Query().Get("q")}
			if qty := r.URL.Query().Get("qty"); qty != "" {
				n, err := strconv.Atoi(qty)
				if err != nil {
					writeError(w, http.StatusBadRequest, errors.New("qty must be an integer"))
					return
				}
				req.Quantity = n
			}
			s.serveSearch(w, r, req)
		})
		r.Post("/search", func(w http.ResponseWriter, r *http.Request) {
			var body searchBody
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
				return
			}
			s.serveSearch(w, r, body.request())
		})
		r.Get("/searches/recent", func(w http.ResponseWriter, r *http.Request) {
			if s.searchLog == nil {
				writeError(w, http.StatusNotFound, errors.New("search log disabled"))
				return
			}
			events, err := s.searchLog.Recent(r.Context(), queryInt(r, "limit", 20))
			if err != nil {
				shield.GetLogger(r.Context()).Error("search: recent", "error", err)
				writeError(w, http.StatusInternalServerError, errors.New("search log unavailable"))
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"searches": events})
		})
	})
	return r
}

// searchBody is the POST form. "medicine" is the front end's field name;
// "query" is accepted as an alias and used when medicine is empty.
type searchBody struct {
	Medicine string `json:"medicine"`
	Query    string `json:"query"`
	Quantity int    `json:"quantity"`
}

func (b searchBody) request() Request {
	term := b.Medicine
	if term == "" {
		term = b.Query
	}
	return Request{Query: term, Quantity: b.Quantity}
}

func (s *Service) serveSearch(w http.ResponseWriter, r *http.Request, req Request) {
	resp, err := s.Search(r.Context(), req)
	if errors.Is(err, ErrInvalidQuery) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		shield.GetLogger(r.Context()).Error("search: failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("search failed"))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
