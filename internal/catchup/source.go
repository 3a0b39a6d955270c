package catchup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jensholdgaard/auctionsync/internal/store"
)

// ErrSourceUnavailable is returned when the source stayed unreachable for
// the whole retry budget.
var ErrSourceUnavailable = errors.New("catch-up source unavailable")

// TransientError marks a source failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Page is one batch read from a Source. Next is where the following
// request resumes; it is zero once the source has nothing further.
type Page struct {
	Auctions []store.Auction
	Next     store.Cursor
}

// Source yields authoritative auctions modified after since in
// (UpdatedAt, ID) order, resuming strictly after cursor when it is set.
// A source may return fewer than limit auctions per page and still report
// a Next position.
type Source interface {
	ListChangedSince(ctx context.Context, since time.Time, cursor store.Cursor, limit int) (Page, error)
}

// StoreSource reads directly from an authoritative repository. Repository
// errors other than context cancellation are treated as transient.
type StoreSource struct {
	Repo store.AuctionRepository
}

func (s StoreSource) ListChangedSince(ctx context.Context, since time.Time, cursor store.Cursor, limit int) (Page, error) {
	auctions, err := s.Repo.ListChangedSince(ctx, since, cursor, limit)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, err
		}
		return Page{}, &TransientError{Err: err}
	}
	page := Page{Auctions: auctions}
	if limit > 0 && len(auctions) == limit {
		page.Next = store.CursorAfter(auctions[len(auctions)-1])
	}
	return page, nil
}

// HTTPSource pulls from the auction service's GET /api/auctions endpoint.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource returns a source for the auction service at baseURL. A nil
// client gets an otelhttp-instrumented default.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &HTTPSource{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type pageResponse struct {
	Auctions   []store.Auction `json:"auctions"`
	NextCursor string          `json:"nextCursor"`
}

// ListChangedSince fetches one page. The server may cap limit; the returned
// Next comes from the response's nextCursor. Network failures and 5xx
// responses are transient; other non-200 responses are permanent.
func (s *HTTPSource) ListChangedSince(ctx context.Context, since time.Time, cursor store.Cursor, limit int) (Page, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if tok := cursor.Encode(); tok != "" {
		q.Set("cursor", tok)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u := s.baseURL + "/api/auctions"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Page{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, &TransientError{Err: fmt.Errorf("requesting %s: %w", u, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Page{}, &TransientError{Err: fmt.Errorf("auction service returned %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return Page{}, fmt.Errorf("auction service returned %s", resp.Status)
	}

	var body pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Page{}, &TransientError{Err: fmt.Errorf("decoding page: %w", err)}
	}
	next, err := store.DecodeCursor(body.NextCursor)
	if err != nil {
		return Page{}, fmt.Errorf("decoding next cursor: %w", err)
	}
	return Page{Auctions: body.Auctions, Next: next}, nil
}
