// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"context"
	"io"
	"net/http"
	"time"
)

// HTTPClient abstracts the HTTP transport so tests can inject mock
// responses and canned streams.
type HTTPClient interface {
	// Post sends a POST request with the given body. The response body is a
	// live stream; the caller must close it.
	Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error)
}

// defaultHTTPClient is the production HTTPClient backed by net/http.
type defaultHTTPClient struct {
	client *http.Client
}

// newDefaultHTTPClient builds the production client. The timeout bounds the
// whole request including the streamed body; it is generous because a turn
// legitimately streams for a while.
func newDefaultHTTPClient(timeout time.Duration) *defaultHTTPClient {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &defaultHTTPClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Post implements HTTPClient.
func (c *defaultHTTPClient) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")
	return c.client.Do(req)
}

var _ HTTPClient = (*defaultHTTPClient)(nil)
