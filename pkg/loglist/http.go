// Copyright 2025 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package loglist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"k8s.io/klog/v2"

	"github.com/sigstore/ctverify/pkg/limits"
)

const (
	defaultRetryMax     = 3
	defaultRetryWaitMin = time.Second
	defaultRetryWaitMax = 30 * time.Second
)

// HTTPSource downloads the log list from a URL. Conditional requests use the
// ETag the server returned with the previous list.
type HTTPSource struct {
	url       string
	client    *http.Client
	parse     Parser
	userAgent string
}

type HTTPOption func(*HTTPSource)

// WithHTTPClient replaces the retrying default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		s.client = c
	}
}

// WithRetries configures the default client's retry budget.
func WithRetries(retryMax int, waitMin, waitMax time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		s.client = newRetryingClient(retryMax, waitMin, waitMax)
	}
}

func WithUserAgent(ua string) HTTPOption {
	return func(s *HTTPSource) {
		s.userAgent = ua
	}
}

// NewHTTPSource returns a source for url whose body is decoded by parse.
func NewHTTPSource(url string, parse Parser, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		url:   url,
		parse: parse,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = newRetryingClient(defaultRetryMax, defaultRetryWaitMin, defaultRetryWaitMax)
	}
	return s
}

func newRetryingClient(retryMax int, waitMin, waitMax time.Duration) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = waitMin
	rc.RetryWaitMax = waitMax
	rc.Logger = nil
	return rc.StandardClient()
}

func (s *HTTPSource) Fetch(ctx context.Context, token string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("If-None-Match", token)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		klog.V(2).Infof("log list at %s not modified", s.url)
		return &Result{Status: StatusNotModified, Token: token}, nil
	case http.StatusOK:
	default:
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, s.url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limits.MaxLogListSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.url, err)
	}
	if len(body) > limits.MaxLogListSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, s.url, limits.MaxLogListSize)
	}

	newToken := resp.Header.Get("ETag")
	if newToken == "" {
		newToken = contentToken(body)
		if newToken == token {
			return &Result{Status: StatusNotModified, Token: token}, nil
		}
	}
	keys, err := s.parse(body)
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("fetched %d log keys from %s", len(keys), s.url)
	return &Result{Status: StatusOK, Keys: keys, Token: newToken}, nil
}
