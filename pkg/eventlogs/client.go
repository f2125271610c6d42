// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package eventlogs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultEndpoint is the hosted Parse API.
	DefaultEndpoint = "https://api.parse.com"

	// APIVersion is the REST path prefix.
	APIVersion = "1"

	// ClassName is the table holding the uploaded logs.
	ClassName = "EventLogger"

	headerAppID  = "X-Parse-Application-Id"
	headerAPIKey = "X-Parse-REST-API-Key"
)

// Query key sets requested by each flow.
const (
	keysAll     = "UserID,EndingHash,gid,EventLog,ModelFile"
	keysByHash  = "gid,EventLog"
	keysByGroup = "EndingHash,EventLog,ModelFile"
)

// Fetcher downloads the body behind a file URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Client talks to the EventLogger class and fetches the files it references.
type Client struct {
	httpc *http.Client
	cfg   Settings
	emit  func(ProgressEvent)
}

// NewClient builds a client from settings. progress may be nil; it receives
// "retry" events.
func NewClient(cfg Settings, progress ProgressFunc) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout, _ := time.ParseDuration(cfg.Timeout)
	return &Client{
		httpc: buildHTTPClient(timeout),
		cfg:   cfg,
		emit:  newEmitter(progress),
	}, nil
}

// buildHTTPClient creates an HTTP client with sensible defaults.
func buildHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}

// FetchAll returns every record ordered by gid then creation time.
func (c *Client) FetchAll(ctx context.Context) (*QueryResult, error) {
	params := url.Values{}
	params.Set("order", "gid,createdAt")
	params.Set("keys", keysAll)
	return c.query(ctx, params)
}

// FetchByEndingHash returns the records whose EndingHash equals hash.
func (c *Client) FetchByEndingHash(ctx context.Context, hash string) (*QueryResult, error) {
	where, err := json.Marshal(map[string]string{"EndingHash": hash})
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("where", string(where))
	params.Set("keys", keysByHash)
	return c.query(ctx, params)
}

// FetchByGroup returns the records of one group ordered by creation time.
func (c *Client) FetchByGroup(ctx context.Context, gid GroupID) (*QueryResult, error) {
	where, err := json.Marshal(map[string]GroupID{"gid": gid})
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("where", string(where))
	params.Set("order", "createdAt")
	params.Set("keys", keysByGroup)
	return c.query(ctx, params)
}

// Fetch downloads a referenced file. File URLs are public, so the Parse
// headers are not sent.
func (c *Client) Fetch(ctx context.Context, fileURL string) ([]byte, error) {
	if fileURL == "" {
		return nil, fmt.Errorf("empty file url")
	}
	return c.get(ctx, fileURL, false)
}

// ClassURL returns the REST URL of the EventLogger class.
func (c *Client) ClassURL() string {
	return classURL(c.cfg.Endpoint)
}

func classURL(endpoint string) string {
	return fmt.Sprintf("%s/%s/classes/%s", strings.TrimSuffix(endpoint, "/"), APIVersion, ClassName)
}

func (c *Client) query(ctx context.Context, params url.Values) (*QueryResult, error) {
	if c.cfg.Limit > 0 {
		params.Set("limit", strconv.Itoa(c.cfg.Limit))
	}
	body, err := c.get(ctx, c.ClassURL()+"?"+params.Encode(), true)
	if err != nil {
		return nil, err
	}
	return decodeQuery(body)
}

// decodeQuery parses a query body twice: generically for the snapshot and
// into records.
func decodeQuery(body []byte) (*QueryResult, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var env struct {
		Results *[]RemoteRecord `json:"results"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	if env.Results == nil {
		return &QueryResult{Raw: raw}, ErrNoResults
	}
	return &QueryResult{Records: *env.Results, Raw: raw}, nil
}

// get performs a GET with retries on transport errors, 429 and 5xx.
func (c *Client) get(ctx context.Context, urlStr string, parseAuth bool) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	retry := newRetry(c.cfg)
	var lastErr error

	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		c.addHeaders(req, parseAuth)

		resp, err := c.httpc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		} else {
			body, rerr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				apiErr := &APIError{
					StatusCode: resp.StatusCode,
					Status:     resp.Status,
					Message:    errorMessage(body),
					URL:        redactURL(urlStr),
				}
				if !apiErr.IsRetryable() {
					return nil, apiErr
				}
				lastErr = apiErr
			case rerr != nil:
				lastErr = rerr
			default:
				return body, nil
			}
		}

		if attempt < c.cfg.Retries {
			c.emit(ProgressEvent{Level: "warn", Event: "retry", Path: redactURL(urlStr), Attempt: attempt + 1, Message: lastErr.Error()})
			if d := retry.Next(); !sleepCtx(ctx, d) {
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// addHeaders adds authentication and user-agent headers to a request.
func (c *Client) addHeaders(req *http.Request, parseAuth bool) {
	if parseAuth {
		req.Header.Set(headerAppID, c.cfg.AppID)
		req.Header.Set(headerAPIKey, c.cfg.APIKey)
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set("User-Agent", defaultString(c.cfg.UserAgent, "eventlogs/1"))
}

// errorMessage extracts the "error" field of a Parse error body.
func errorMessage(body []byte) string {
	var perr struct {
		Code  int    `json:"code"`
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &perr) == nil && perr.Error != "" {
		return perr.Error
	}
	return ""
}

// redactURL drops the query string, which may carry hashes or where clauses.
func redactURL(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
