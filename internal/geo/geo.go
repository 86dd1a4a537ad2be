// Package geo resolves the kiosk's position for each attendance mark.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Position is a fix in decimal degrees.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Locator returns a fresh high-accuracy position.
type Locator interface {
	Locate(ctx context.Context) (Position, error)
}

// ErrorKind classifies locator failures.
type ErrorKind int

const (
	KindUnavailable ErrorKind = iota
	KindDenied
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindDenied:
		return "denied"
	case KindTimeout:
		return "timeout"
	default:
		return "unavailable"
	}
}

// Error is a classified location failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "geolocation " + e.Kind.String()
	}
	return "geolocation " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Static always reports the configured coordinates.
type Static struct {
	Position Position
}

func (s Static) Locate(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, &Error{Kind: KindTimeout, Err: err}
	}
	return s.Position, nil
}

// HTTP queries a JSON position service. The response must carry latitude and longitude.
type HTTP struct {
	URL  string
	HTTP *http.Client
}

// NewHTTP creates a locator for a position service endpoint.
func NewHTTP(endpoint string) *HTTP {
	return &HTTP{URL: endpoint, HTTP: &http.Client{}}
}

func (h *HTTP) Locate(ctx context.Context) (Position, error) {
	u, err := url.Parse(h.URL)
	if err != nil {
		return Position{}, &Error{Kind: KindUnavailable, Err: err}
	}
	q := u.Query()
	q.Set("high_accuracy", "1")
	q.Set("maximum_age", "0")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Position{}, &Error{Kind: KindUnavailable, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Position{}, &Error{Kind: KindTimeout, Err: err}
		}
		return Position{}, &Error{Kind: KindUnavailable, Err: fmt.Errorf("position service request failed: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Position{}, &Error{Kind: KindDenied, Err: fmt.Errorf("position service %s", resp.Status)}
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Position{}, &Error{Kind: KindUnavailable, Err: fmt.Errorf("position service error %s: %s", resp.Status, string(body))}
	}

	var out struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Accuracy  float64  `json:"accuracy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Position{}, &Error{Kind: KindUnavailable, Err: fmt.Errorf("failed to decode position: %w", err)}
	}
	if out.Latitude == nil || out.Longitude == nil {
		return Position{}, &Error{Kind: KindUnavailable, Err: errors.New("position missing coordinates")}
	}
	return Position{Latitude: *out.Latitude, Longitude: *out.Longitude, Accuracy: out.Accuracy}, nil
}

// WithTimeout bounds every Locate call made through l.
func WithTimeout(l Locator, d time.Duration) Locator {
	return timeoutLocator{next: l, d: d}
}

type timeoutLocator struct {
	next Locator
	d    time.Duration
}

func (t timeoutLocator) Locate(ctx context.Context) (Position, error) {
	if t.d <= 0 {
		return t.next.Locate(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	type result struct {
		pos Position
		err error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := t.next.Locate(ctx)
		ch <- result{p, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			var ge *Error
			if !errors.As(r.err, &ge) || ge.Kind != KindTimeout {
				return Position{}, &Error{Kind: KindTimeout, Err: r.err}
			}
		}
		return r.pos, r.err
	case <-ctx.Done():
		return Position{}, &Error{Kind: KindTimeout, Err: ctx.Err()}
	}
}
