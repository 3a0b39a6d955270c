package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jensholdgaard/auctionsync/internal/auction"
	"github.com/jensholdgaard/auctionsync/internal/config"
	"github.com/jensholdgaard/auctionsync/internal/store"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = config.MaxPageSize
)

// AuctionService is the mutation and read surface of the auction service.
type AuctionService interface {
	Create(ctx context.Context, in auction.CreateInput) (*store.Auction, error)
	Update(ctx context.Context, id string, in auction.UpdateInput) (*store.Auction, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*store.Auction, error)
	ListChangedSince(ctx context.Context, since time.Time, cursor store.Cursor, limit int) ([]store.Auction, store.Cursor, error)
}

// AuctionHandler serves /api/auctions.
type AuctionHandler struct {
	svc    AuctionService
	logger *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(svc AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{svc: svc, logger: logger}
}

// Register mounts the auction routes on r.
func (h *AuctionHandler) Register(r *mux.Router) {
	r.HandleFunc("/auctions", h.list).Methods(http.MethodGet)
	r.HandleFunc("/auctions", h.create).Methods(http.MethodPost)
	r.HandleFunc("/auctions/{id}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/auctions/{id}", h.update).Methods(http.MethodPut)
	r.HandleFunc("/auctions/{id}", h.delete).Methods(http.MethodDelete)
}

type createAuctionRequest struct {
	Make         string    `json:"make"`
	Model        string    `json:"model"`
	Year         int       `json:"year"`
	Color        string    `json:"color"`
	Mileage      int       `json:"mileage"`
	ImageURL     string    `json:"imageUrl"`
	ReservePrice int       `json:"reservePrice"`
	Seller       string    `json:"seller"`
	AuctionEnd   time.Time `json:"auctionEnd"`
}

func (req createAuctionRequest) input() auction.CreateInput {
	return auction.CreateInput{
		Item: store.Item{
			Make:     req.Make,
			Model:    req.Model,
			Year:     req.Year,
			Color:    req.Color,
			Mileage:  req.Mileage,
			ImageURL: req.ImageURL,
		},
		ReservePrice: req.ReservePrice,
		Seller:       req.Seller,
		AuctionEnd:   req.AuctionEnd,
	}
}

type updateAuctionRequest struct {
	Make           *string       `json:"make"`
	Model          *string       `json:"model"`
	Year           *int          `json:"year"`
	Color          *string       `json:"color"`
	Mileage        *int          `json:"mileage"`
	ImageURL       *string       `json:"imageUrl"`
	ReservePrice   *int          `json:"reservePrice"`
	AuctionEnd     *time.Time    `json:"auctionEnd"`
	Status         *store.Status `json:"status"`
	Winner         *string       `json:"winner"`
	CurrentHighBid *int          `json:"currentHighBid"`
	SoldAmount     *int          `json:"soldAmount"`
}

func (req updateAuctionRequest) input() auction.UpdateInput {
	return auction.UpdateInput{
		Make:           req.Make,
		Model:          req.Model,
		Year:           req.Year,
		Color:          req.Color,
		Mileage:        req.Mileage,
		ImageURL:       req.ImageURL,
		ReservePrice:   req.ReservePrice,
		AuctionEnd:     req.AuctionEnd,
		Status:         req.Status,
		Winner:         req.Winner,
		CurrentHighBid: req.CurrentHighBid,
		SoldAmount:     req.SoldAmount,
	}
}

type listAuctionsResponse struct {
	Auctions   []store.Auction `json:"auctions"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

// list serves the catch-up pull endpoint.
func (h *AuctionHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var since time.Time
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t.UTC()
	}

	cursor, err := store.DecodeCursor(q.Get("cursor"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid cursor")
		return
	}

	limit := defaultPageLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxPageLimit)
	}

	page, next, err := h.svc.ListChangedSince(r.Context(), since, cursor, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if page == nil {
		page = []store.Auction{}
	}
	respondJSON(w, http.StatusOK, listAuctionsResponse{Auctions: page, NextCursor: next.Encode()})
}

func (h *AuctionHandler) get(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *AuctionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a, err := h.svc.Create(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/auctions/"+a.ID)
	respondJSON(w, http.StatusCreated, a)
}

func (h *AuctionHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a, err := h.svc.Update(r.Context(), mux.Vars(r)["id"], req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *AuctionHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps service errors to responses.
func (h *AuctionHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *auction.ValidationError
		nf   *auction.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Problems: verr.Problems})
	case errors.As(err, &nf):
		respondError(w, http.StatusNotFound, nf.Error())
	case errors.Is(err, store.ErrInvalidCursor):
		respondError(w, http.StatusBadRequest, "invalid cursor")
	default:
		h.logger.ErrorContext(r.Context(), "auction request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
