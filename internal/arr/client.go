// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package arr talks to the Sonarr/Radarr/Lidarr REST APIs: queue paging,
// queue item removal, and command submission. One Client per manager, with
// retry on transient failures and optional per-manager request throttling.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/autobrr/sweeparr/internal/buildinfo"
	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/pkg/httphelpers"
	"github.com/autobrr/sweeparr/pkg/redact"
)

// StatusError is a non-2xx manager response. 429 and 5xx are retried,
// everything else fails the request immediately.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Options tunes one manager client. Zero values fall back to the defaults.
type Options struct {
	Timeout       time.Duration
	RetryAttempts int
	RetryBackoff  float64

	// MinRequestInterval spaces out consecutive requests; MaxConcurrent
	// caps in-flight requests. Zero disables either limit.
	MinRequestInterval time.Duration
	MaxConcurrent      int
}

type Client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client

	retryAttempts int
	retryBackoff  float64

	minInterval time.Duration
	sem         *semaphore.Weighted

	mu          sync.Mutex
	lastRequest time.Time
}

func NewClient(name, apiURL, apiKey string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(domain.DefaultRequestTimeout) * time.Second
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = domain.DefaultRetryBackoff
	}

	c := &Client{
		name:          name,
		baseURL:       strings.TrimRight(apiURL, "/"),
		apiKey:        apiKey,
		http:          &http.Client{Timeout: opts.Timeout},
		retryAttempts: opts.RetryAttempts,
		retryBackoff:  opts.RetryBackoff,
		minInterval:   opts.MinRequestInterval,
	}
	if opts.MaxConcurrent > 0 {
		c.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return c
}

func (c *Client) Name() string { return c.name }

// QueueResponse is one page of the manager's download queue. TotalRecords
// stays nil when the response did not carry the field, and Records stays nil
// when the records array was absent entirely.
type QueueResponse struct {
	TotalRecords *int          `json:"totalRecords"`
	Records      []domain.Item `json:"records"`
}

// Queue fetches one queue page. A page of zero omits the page parameter and
// lets the manager default it, which the initial probe relies on.
func (c *Client) Queue(ctx context.Context, page, pageSize int) (*QueueResponse, error) {
	params := url.Values{}
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	params.Set("pageSize", strconv.Itoa(pageSize))

	body, err := c.do(ctx, http.MethodGet, "/queue", params, nil)
	if err != nil {
		return nil, err
	}

	var qr QueueResponse
	if len(body) == 0 {
		return &qr, nil
	}
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, errors.Wrap(err, "decode queue response")
	}
	return &qr, nil
}

// DeleteQueueItem removes a queue item, passing the blocklist and client
// removal flags through params.
func (c *Client) DeleteQueueItem(ctx context.Context, id int64, params url.Values) error {
	_, err := c.do(ctx, http.MethodDelete, "/queue/"+strconv.FormatInt(id, 10), params, nil)
	return err
}

// Command submits a manager command, e.g. a replacement search.
func (c *Client) Command(ctx context.Context, command map[string]any) error {
	_, err := c.do(ctx, http.MethodPost, "/command", nil, command)
	return err
}

// waitTurn enforces the minimum request spacing and acquires a concurrency
// slot. The caller must release the semaphore after the request completes.
func (c *Client) waitTurn(ctx context.Context) error {
	if c.minInterval > 0 {
		c.mu.Lock()
		now := time.Now()
		var wait time.Duration
		if !c.lastRequest.IsZero() {
			if elapsed := now.Sub(c.lastRequest); elapsed < c.minInterval {
				wait = c.minInterval - elapsed
			}
		}
		c.lastRequest = now.Add(wait)
		c.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	return nil
}

// do runs one throttled, retried request and returns the response body when
// the manager answered 200 with a JSON payload. A 204 or a non-JSON body
// yields nil bytes with no error.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, jsonBody any) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var payload []byte
	if jsonBody != nil {
		var err error
		payload, err = json.Marshal(jsonBody)
		if err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
	}

	if err := c.waitTurn(ctx); err != nil {
		return nil, err
	}
	if c.sem != nil {
		defer c.sem.Release(1)
	}

	var result []byte
	err := retry.Do(
		func() error {
			var reader io.Reader
			if payload != nil {
				reader = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
			if err != nil {
				return err
			}
			req.Header.Set("X-Api-Key", c.apiKey)
			req.Header.Set("User-Agent", buildinfo.UserAgent)
			if payload != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer httphelpers.DrainAndClose(resp)

			switch {
			case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
				data, err := io.ReadAll(resp.Body)
				if err != nil {
					return errors.Wrap(err, "read response body")
				}
				if resp.StatusCode != http.StatusNoContent &&
					strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
					result = data
				} else {
					result = nil
				}
				return nil
			default:
				return &StatusError{Code: resp.StatusCode}
			}
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.retryAttempts)+1),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.DelayType(c.backoffDelay),
	)
	if err != nil {
		err = redact.URLError(err)
		var se *StatusError
		if errors.As(err, &se) && !retryable(err) {
			log.Warn().Str("service", c.name).Int("status", se.Code).Str("url", reqURL).
				Msg("Manager request failed")
		} else {
			log.Error().Err(err).Str("service", c.name).Str("url", reqURL).
				Msg("Manager request failed after retries")
		}
		return nil, err
	}
	return result, nil
}

// retryable limits retries to transport errors, 429, and 5xx. Other HTTP
// errors are the manager telling us the request itself is wrong.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// backoffDelay doubles the configured backoff per attempt with up to 25%
// jitter on top.
func (c *Client) backoffDelay(n uint, _ error, _ *retry.Config) time.Duration {
	backoff := c.retryBackoff * math.Pow(2, float64(n)) * (1 + rand.Float64()*0.25)
	return time.Duration(backoff * float64(time.Second))
}
