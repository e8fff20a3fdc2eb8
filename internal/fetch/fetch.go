// Package fetch provides the HTTP capability shared by the release index
// client and the archive hasher.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrFetch matches every *Error via errors.Is.
var ErrFetch = errors.New("fetch failed")

// Error describes a failed retrieval. Status is zero when no response was
// received.
type Error struct {
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports ErrFetch as a match so callers can classify without errors.As.
func (e *Error) Is(target error) bool { return target == ErrFetch }

// Getter retrieves the body at a URL along with the response status code.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, int, error)
}

// HTTPGetter implements Getter over net/http with a fixed per-request
// timeout.
type HTTPGetter struct {
	client    *http.Client
	userAgent string
}

// NewHTTPGetter returns a Getter whose requests fail after timeout.
func NewHTTPGetter(timeout time.Duration, userAgent string) *HTTPGetter {
	return &HTTPGetter{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Get issues a GET request and returns the full body. Transport errors are
// returned as *Error; non-2xx statuses are returned to the caller as-is.
func (g *HTTPGetter) Get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, &Error{URL: url, Err: err}
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, &Error{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &Error{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, resp.StatusCode, nil
}

// OK fetches url with g and converts transport failures and non-2xx
// statuses into *Error.
func OK(ctx context.Context, g Getter, url string) ([]byte, error) {
	body, status, err := g.Get(ctx, url)
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &Error{URL: url, Status: status, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &Error{URL: url, Status: status, Err: fmt.Errorf("status %d", status)}
	}
	return body, nil
}
