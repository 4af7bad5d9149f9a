// Package readmill is the HTTP adapter for the remote reading service. It
// exposes the operations the sync engine consumes, converts non-accepted
// responses into [StatusError] values carrying the HTTP status code, and
// retries idempotent reads with backoff.
package readmill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/christoffer/readtracker-sub001/internal/model"
)

// Client talks to the remote reading service over REST. Create one with
// [NewClient].
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	log     *slog.Logger
}

// NewClient creates a Client for the service at baseURL, authenticating every
// request with the given access token.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: 30 * time.Second},
		log:     logger,
	}
}

// resource envelopes, as the service wraps every payload in its type name.
type (
	bookEnvelope struct {
		Book Book `json:"book"`
	}
	readingEnvelope struct {
		Reading Reading `json:"reading"`
	}
	periodEnvelope struct {
		Period Period `json:"period"`
	}
	highlightEnvelope struct {
		Highlight Highlight `json:"highlight"`
	}
)

// ReadingsForUser lists all readings the service holds for the user,
// regardless of state.
func (c *Client) ReadingsForUser(ctx context.Context, userID int64) ([]Reading, error) {
	path := fmt.Sprintf("/users/%d/readings", userID)
	var envelopes []readingEnvelope
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return c.do(ctx, http.MethodGet, path, nil, &envelopes, http.StatusOK)
	})
	if err != nil {
		return nil, fmt.Errorf("listing readings for user %d: %w", userID, err)
	}

	readings := make([]Reading, 0, len(envelopes))
	for _, e := range envelopes {
		readings = append(readings, e.Reading)
	}
	return readings, nil
}

// PeriodsForReading lists the reading sessions recorded for a remote reading.
func (c *Client) PeriodsForReading(ctx context.Context, readingID int64) ([]Period, error) {
	path := fmt.Sprintf("/readings/%d/periods", readingID)
	var envelopes []periodEnvelope
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return c.do(ctx, http.MethodGet, path, nil, &envelopes, http.StatusOK)
	})
	if err != nil {
		return nil, fmt.Errorf("listing periods for reading %d: %w", readingID, err)
	}

	periods := make([]Period, 0, len(envelopes))
	for _, e := range envelopes {
		periods = append(periods, e.Period)
	}
	return periods, nil
}

// HighlightsForReading lists the highlights of a remote reading.
func (c *Client) HighlightsForReading(ctx context.Context, readingID int64) ([]Highlight, error) {
	path := fmt.Sprintf("/readings/%d/highlights", readingID)
	var envelopes []highlightEnvelope
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return c.do(ctx, http.MethodGet, path, nil, &envelopes, http.StatusOK)
	})
	if err != nil {
		return nil, fmt.Errorf("listing highlights for reading %d: %w", readingID, err)
	}

	highlights := make([]Highlight, 0, len(envelopes))
	for _, e := range envelopes {
		highlights = append(highlights, e.Highlight)
	}
	return highlights, nil
}

// CreateBook registers a book on the service and returns it.
func (c *Client) CreateBook(ctx context.Context, title, author string) (Book, error) {
	body := map[string]any{"book": map[string]any{"title": title, "author": author}}
	var env bookEnvelope
	err := c.do(ctx, http.MethodPost, "/books", body, &env, http.StatusOK, http.StatusCreated)
	if err != nil {
		return Book{}, fmt.Errorf("creating book %q: %w", title, err)
	}
	return env.Book, nil
}

// CreateReading starts a reading of the given book for the authenticated user.
// The service answers 409 with the existing resource when the user already has
// a reading of the book; that counts as success here.
func (c *Client) CreateReading(ctx context.Context, bookID int64, isPublic bool, startedAt time.Time) (Reading, error) {
	path := fmt.Sprintf("/books/%d/readings", bookID)
	body := map[string]any{"reading": map[string]any{
		"state":      model.StateReading.String(),
		"private":    !isPublic,
		"started_at": startedAt.UTC().Format(time.RFC3339),
	}}
	var env readingEnvelope
	err := c.do(ctx, http.MethodPost, path, body, &env,
		http.StatusOK, http.StatusCreated, http.StatusConflict)
	if err != nil {
		return Reading{}, fmt.Errorf("creating reading for book %d: %w", bookID, err)
	}
	return env.Reading, nil
}

// CloseReading sets a terminal state and an optional closing remark on a
// remote reading. Only finished and abandoned are accepted.
func (c *Client) CloseReading(ctx context.Context, readingID int64, state model.ReadingState, remark string) error {
	if !state.Closed() {
		return fmt.Errorf("closing reading %d: state %v is not a closed state", readingID, state)
	}

	reading := map[string]any{"state": state.String()}
	if remark != "" {
		reading["closing_remark"] = remark
	}
	path := fmt.Sprintf("/readings/%d", readingID)
	if err := c.do(ctx, http.MethodPut, path, map[string]any{"reading": reading}, nil, http.StatusOK); err != nil {
		return fmt.Errorf("closing reading %d: %w", readingID, err)
	}
	return nil
}

// UpdateReadingPrivacy pushes a locally changed privacy flag.
func (c *Client) UpdateReadingPrivacy(ctx context.Context, readingID int64, private bool) error {
	path := fmt.Sprintf("/readings/%d", readingID)
	body := map[string]any{"reading": map[string]any{"private": private}}
	if err := c.do(ctx, http.MethodPut, path, body, nil, http.StatusOK); err != nil {
		return fmt.Errorf("updating privacy of reading %d: %w", readingID, err)
	}
	return nil
}

// DeleteReading removes a reading from the service.
func (c *Client) DeleteReading(ctx context.Context, readingID int64) error {
	path := fmt.Sprintf("/readings/%d", readingID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, http.StatusOK, http.StatusNoContent); err != nil {
		return fmt.Errorf("deleting reading %d: %w", readingID, err)
	}
	return nil
}

// CreateHighlight copies a local highlight to the service and returns the
// created resource.
func (c *Client) CreateHighlight(ctx context.Context, h *model.Highlight) (Highlight, error) {
	path := fmt.Sprintf("/readings/%d/highlights", h.RemoteReadingID)
	body := map[string]any{"highlight": map[string]any{
		"content":        h.Content,
		"position":       h.Position,
		"highlighted_at": h.HighlightedAt.UTC().Format(time.RFC3339),
	}}
	var env highlightEnvelope
	err := c.do(ctx, http.MethodPost, path, body, &env, http.StatusOK, http.StatusCreated)
	if err != nil {
		return Highlight{}, fmt.Errorf("creating highlight for reading %d: %w", h.RemoteReadingID, err)
	}
	return env.Highlight, nil
}

// UpdateHighlight pushes edited content and position to an existing remote
// highlight.
func (c *Client) UpdateHighlight(ctx context.Context, highlightID int64, content string, position float64) error {
	path := fmt.Sprintf("/highlights/%d", highlightID)
	body := map[string]any{"highlight": map[string]any{
		"content":  content,
		"position": position,
	}}
	if err := c.do(ctx, http.MethodPut, path, body, nil, http.StatusOK); err != nil {
		return fmt.Errorf("updating highlight %d: %w", highlightID, err)
	}
	return nil
}

// DeleteHighlight removes a highlight from the service.
func (c *Client) DeleteHighlight(ctx context.Context, highlightID int64) error {
	path := fmt.Sprintf("/highlights/%d", highlightID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, http.StatusOK, http.StatusNoContent); err != nil {
		return fmt.Errorf("deleting highlight %d: %w", highlightID, err)
	}
	return nil
}

// CreatePing reports one reading session to the service. Pings with the same
// session identifier are grouped into a single remote period.
func (c *Client) CreatePing(ctx context.Context, identifier string, readingID int64, progress float64, durationSeconds int64, occurredAt time.Time) error {
	body := map[string]any{"ping": map[string]any{
		"identifier":  identifier,
		"reading_id":  readingID,
		"progress":    progress,
		"duration":    durationSeconds,
		"occurred_at": occurredAt.UTC().Format(time.RFC3339),
	}}
	if err := c.do(ctx, http.MethodPost, "/pings", body, nil, http.StatusOK, http.StatusCreated); err != nil {
		return fmt.Errorf("creating ping for reading %d: %w", readingID, err)
	}
	return nil
}

// VerifyReadingMissing checks whether the service definitely no longer has the
// reading. It affirms only on a 404 that demonstrably came from the service
// itself (a JSON body), so a captive portal or proxy error cannot trigger a
// local delete. Any other outcome, including request errors, answers false.
func (c *Client) VerifyReadingMissing(ctx context.Context, readingID int64) (bool, error) {
	endpoint := fmt.Sprintf("%s/readings/%d", c.baseURL, readingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("verifying reading %d: %w", readingID, err)
	}
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return false, fmt.Errorf("verifying reading %d: %w", readingID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNotFound {
		return false, nil
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	missing := mediaType == "application/json"
	if !missing {
		c.log.Debug("404 without service marker, not treating as missing",
			"reading_id", readingID, "content_type", resp.Header.Get("Content-Type"))
	}
	return missing, nil
}

// do executes one request against the service. body is JSON-encoded when
// non-nil; out is decoded from the response when non-nil. Responses outside
// accepted become a [StatusError]; undecodable bodies wrap [ErrMalformed].
func (c *Client) do(ctx context.Context, method, path string, body, out any, accepted ...int) error {
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	ok := false
	for _, code := range accepted {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return &StatusError{Code: resp.StatusCode, Op: opName(method, path)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w: %v", method, path, ErrMalformed, err)
		}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
}

// opName produces a compact operation label for error messages, with numeric
// path segments collapsed.
func opName(method, path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segments {
		if isDigits(s) {
			segments[i] = "*"
		}
	}
	return method + " /" + strings.Join(segments, "/")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
