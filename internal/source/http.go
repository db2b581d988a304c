// Package source ingests station events and signal snapshots from the
// access points, either directly or through the log and metrics stores
// they ship to.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// DefaultHTTPTimeout bounds request/response round trips for the polling
// sources. Streaming requests are bounded by their context only.
const DefaultHTTPTimeout = 10 * time.Second

// StatusError is returned when an HTTP endpoint answers with anything but
// 200 OK.
type StatusError struct {
	URL  string
	Code int
	Body string // First bytes of the body, for the log.
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("GET %s: %d %s: %s", e.URL, e.Code, http.StatusText(e.Code), e.Body)
}

// fetch GETs u and returns the body. When gzip is true the response is
// requested compressed and decompressed here.
func fetch(ctx context.Context, client *http.Client, u string, gzipped bool) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if gzipped {
		// Set explicitly so net/http leaves the body alone.
		req.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		resp.Body.Close()
		return nil, &StatusError{URL: u, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return resp.Body, nil
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: gzip: %w", u, err)
	}
	return &gzipBody{Reader: zr, body: resp.Body}, nil
}

type gzipBody struct {
	*gzip.Reader
	body io.ReadCloser
}

func (b *gzipBody) Close() error {
	return errors.Join(b.Reader.Close(), b.body.Close())
}

// sleep waits for d or until ctx is done, whichever is first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
