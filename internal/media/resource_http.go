/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// httpFetcher reads byte ranges over HTTP.
type httpFetcher struct {
	url    string
	client *http.Client
	ranged bool
}

// OpenHTTP opens an http(s) resource. Servers that do not advertise
// byte-range support are read sequentially and reported as not seekable.
func OpenHTTP(ctx context.Context, rawURL string, client *http.Client, logger zerolog.Logger) (Resource, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	res, err := newRemoteResource(ctx, rawURL, &httpFetcher{url: rawURL, client: client}, logger)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (f *httpFetcher) Stat(ctx context.Context) (int64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, f.url, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, false, err
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, false, fmt.Errorf("HEAD %s: %s", f.url, resp.Status)
	}

	f.ranged = strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
	return resp.ContentLength, f.ranged, nil
}

func (f *httpFetcher) Fetch(ctx context.Context, off, n int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	if f.ranged {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+n-1))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Full body: skip to the requested offset.
		if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, err
		}
	case http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, nil
	default:
		return nil, fmt.Errorf("GET %s: %s", f.url, resp.Status)
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, n))
	if err != nil {
		return nil, err
	}
	return buf, nil
}
