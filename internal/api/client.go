package api

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
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/anshul1007/vermillion/internal/payload"
)

// DefaultCompressThreshold is the request size above which bodies are
// gzip-compressed.
const DefaultCompressThreshold = 8 * 1024

// Endpoint paths.
const (
	PathHealth  = "/health"
	PathRefresh = "/api/auth/refresh"
	PathPersons = "/api/persons"
	PathRecords = "/api/entry-exit/records"
	PathPhotos  = "/api/photos"
	PathBatch   = "/api/sync/batch"
)

// TokenSource holds the bearer token pair and is shared between the
// client and whoever persists tokens.
//
// Thread-safety: safe for concurrent use.
type TokenSource struct {
	mu        sync.RWMutex
	access    string
	refresh   string
	onRefresh func(TokenPair)
}

// NewTokenSource creates a token source. onRefresh, if non-nil, is called
// after every successful refresh.
func NewTokenSource(access, refresh string, onRefresh func(TokenPair)) *TokenSource {
	return &TokenSource{access: access, refresh: refresh, onRefresh: onRefresh}
}

// Access returns the current access token.
func (ts *TokenSource) Access() string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.access
}

// Refresh returns the current refresh token.
func (ts *TokenSource) Refresh() string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.refresh
}

// Set replaces both tokens and notifies the refresh hook.
func (ts *TokenSource) Set(pair TokenPair) {
	ts.mu.Lock()
	ts.access = pair.AccessToken
	if pair.RefreshToken != "" {
		ts.refresh = pair.RefreshToken
	}
	hook := ts.onRefresh
	ts.mu.Unlock()

	if hook != nil {
		hook(pair)
	}
}

// Client calls the server endpoints the sync engine depends on.
type Client struct {
	baseURL           string
	httpClient        *http.Client
	tokens            *TokenSource
	compressThreshold int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithCompressThreshold overrides the gzip threshold. 0 disables
// compression.
func WithCompressThreshold(n int) ClientOption {
	return func(c *Client) {
		c.compressThreshold = n
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, tokens *TokenSource, opts ...ClientOption) *Client {
	if tokens == nil {
		tokens = NewTokenSource("", "", nil)
	}
	c := &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		httpClient:        &http.Client{Timeout: 30 * time.Second},
		tokens:            tokens,
		compressThreshold: DefaultCompressThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tokens returns the token source.
func (c *Client) Tokens() *TokenSource {
	return c.tokens
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, PathHealth, nil, nil, false)
}

// CreateRecord posts an entry/exit record. body is the queued payload
// with references already resolved.
func (c *Client) CreateRecord(ctx context.Context, body payload.Object) (Record, error) {
	var rec Record
	err := c.do(ctx, http.MethodPost, PathRecords, canonicalBody(body), &rec, true)
	return rec, err
}

// RegisterPerson posts a person registration.
func (c *Client) RegisterPerson(ctx context.Context, body payload.Object) (Person, error) {
	var p Person
	err := c.do(ctx, http.MethodPost, PathPersons, canonicalBody(body), &p, true)
	return p, err
}

// UploadPhoto uploads one photo and returns the server path.
func (c *Client) UploadPhoto(ctx context.Context, up PhotoUpload) (string, error) {
	var res PhotoResult
	if err := c.do(ctx, http.MethodPost, PathPhotos, jsonBody(up), &res, true); err != nil {
		return "", err
	}
	if res.Path == "" {
		return "", &Error{Status: http.StatusOK, Code: CodeInternal, Message: "upload response has no path"}
	}
	return res.Path, nil
}

// SubmitBatch posts a batch of operations.
func (c *Client) SubmitBatch(ctx context.Context, req BatchRequest) (BatchResponse, error) {
	var res BatchResponse
	err := c.do(ctx, http.MethodPost, PathBatch, jsonBody(req), &res, true)
	return res, err
}

// ListRecords fetches records with timestamp >= since, newest first.
func (c *Client) ListRecords(ctx context.Context, since time.Time, limit int) ([]Record, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := PathRecords
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var records []Record
	if err := c.do(ctx, http.MethodGet, path, nil, &records, true); err != nil {
		return nil, err
	}
	return records, nil
}

// RefreshToken exchanges the refresh token for a new pair and stores it
// in the token source.
func (c *Client) RefreshToken(ctx context.Context) error {
	refresh := c.tokens.Refresh()
	if refresh == "" {
		return &Error{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: "no refresh token"}
	}

	var pair TokenPair
	if err := c.do(ctx, http.MethodPost, PathRefresh, jsonBody(RefreshRequest{RefreshToken: refresh}), &pair, false); err != nil {
		return err
	}
	if pair.AccessToken == "" {
		return &Error{Status: http.StatusOK, Code: CodeInternal, Message: "refresh response has no access token"}
	}
	c.tokens.Set(pair)
	return nil
}

type bodyFunc func() ([]byte, error)

func canonicalBody(obj payload.Object) bodyFunc {
	return func() ([]byte, error) {
		return payload.MarshalCanonical(obj)
	}
}

func jsonBody(v any) bodyFunc {
	return func() ([]byte, error) {
		return json.Marshal(v)
	}
}

// do performs one request and decodes the envelope's data into out.
// Every failure is returned as *Error.
func (c *Client) do(ctx context.Context, method, path string, body bodyFunc, out any, auth bool) error {
	var (
		reader   io.Reader
		encoding string
	)
	if body != nil {
		data, err := body()
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		if c.compressThreshold > 0 && len(data) > c.compressThreshold {
			data, err = gzipBytes(data)
			if err != nil {
				return fmt.Errorf("compress %s %s: %w", method, path, err)
			}
			encoding = "gzip"
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	if auth {
		if tok := c.tokens.Access(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Err: err, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Err: err, Message: "read response: " + err.Error()}
	}

	var env Envelope
	envErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ae := &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if envErr == nil && len(env.Errors) > 0 {
			ae.Code = env.Errors[0].Code
			ae.Message = env.Errors[0].Message
		}
		return ae
	}

	// A 2xx only counts when it is a success envelope. Captive portals
	// and proxies answer 200 with a page of their own.
	switch {
	case envErr != nil:
		return unexpected(resp, "response is not a JSON envelope", envErr)
	case !env.Success:
		ae := unexpected(resp, "envelope does not report success", nil)
		if len(env.Errors) > 0 {
			ae.Message = env.Errors[0].Code + ": " + env.Errors[0].Message
		}
		return ae
	}

	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return unexpected(resp, "envelope carries no data", nil)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return unexpected(resp, "malformed response data", err)
	}
	return nil
}

func unexpected(resp *http.Response, msg string, err error) *Error {
	return &Error{
		Status:  resp.StatusCode,
		Code:    CodeUnexpectedResponse,
		Message: fmt.Sprintf("%s (content-type %q)", msg, resp.Header.Get("Content-Type")),
		Err:     err,
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
