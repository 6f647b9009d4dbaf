package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"codeberg.org/mutker/sensordash/internal/errors"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxBodyBytes          = 1 << 20
)

// HTTPFetcher polls a pull endpoint, bypassing every cache layer.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a fetcher. A nil client gets a default with a
// request timeout.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}

	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, endpoint string) ([]byte, error) {
	errFactory := errors.New()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, max-age=0")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, errFactory.Wrap(errors.ErrRequest,
			errFactory.WithData(ErrStatus, fmt.Sprintf("%s %s", resp.Status, endpoint)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrRequest, err)
	}

	return body, nil
}
