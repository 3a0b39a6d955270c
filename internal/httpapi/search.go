package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jensholdgaard/auctionsync/internal/store"
)

// SearchHandler serves read-only queries against the replica.
type SearchHandler struct {
	repo   store.ReplicaRepository
	logger *slog.Logger
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(repo store.ReplicaRepository, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{repo: repo, logger: logger}
}

// Register mounts the search routes on r.
func (h *SearchHandler) Register(r *mux.Router) {
	r.HandleFunc("/search", h.list).Methods(http.MethodGet)
	r.HandleFunc("/search/{id}", h.get).Methods(http.MethodGet)
}

type searchResponse struct {
	Results []store.ReplicaRecord `json:"results"`
	Offset  int                   `json:"offset"`
	Count   int                   `json:"count"`
}

func (h *SearchHandler) list(w http.ResponseWriter, r *http.Request) {
	offset, ok := intParam(w, r, "offset", 0)
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit", defaultPageLimit)
	if !ok {
		return
	}
	if limit == 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}

	recs, err := h.repo.List(r.Context(), offset, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "listing replica", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if recs == nil {
		recs = []store.ReplicaRecord{}
	}
	respondJSON(w, http.StatusOK, searchResponse{Results: recs, Offset: offset, Count: len(recs)})
}

func (h *SearchHandler) get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.repo.Get(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "auction "+id+" not found")
	case err != nil:
		h.logger.ErrorContext(r.Context(), "reading replica record", slog.String("auction_id", id), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal error")
	default:
		respondJSON(w, http.StatusOK, rec)
	}
}

// intParam reads a non-negative integer query parameter, writing a 400 when
// it is malformed.
func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		respondError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
