package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"github.com/google/uuid"
)

// Header names and defaults.
const (
	defaultUserAgent = "filehub/0.1"
	requestIDHeader  = "X-Client-Request-Id"
	// authScheme is the platform's OAuth header scheme.
	authScheme = "Zoho-oauthtoken"
)

// TokenSource provides OAuth2 access tokens. identity.Provider implements it.
type TokenSource interface {
	Token() (string, error)
}

// Options configures a Client.
type Options struct {
	Origin       string // e.g. https://app.example.com, no trailing slash
	FunctionName string
	ProjectID    string
	UserAgent    string
	// HTTPClient defaults to a client with a cookie jar so session cookies
	// set by the platform are sent back on later calls.
	HTTPClient *http.Client
	// Token may be nil: calls then go out with cookies only.
	Token  TokenSource
	Logger *slog.Logger
}

// Client talks to the function endpoint and the platform REST surface.
// Calls are single-shot: retry policy belongs to the caller.
type Client struct {
	origin       string
	functionName string
	projectID    string
	userAgent    string
	httpClient   *http.Client
	token        TokenSource
	logger       *slog.Logger
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		jar, _ := cookiejar.New(nil) // only fails on a bad public suffix list option
		httpClient = &http.Client{Jar: jar}
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &Client{
		origin:       strings.TrimRight(opts.Origin, "/"),
		functionName: opts.FunctionName,
		projectID:    opts.ProjectID,
		userAgent:    ua,
		httpClient:   httpClient,
		token:        opts.Token,
		logger:       logger,
	}
}

// HasToken reports whether calls can carry an access token.
func (c *Client) HasToken() bool {
	return c.token != nil
}

// FunctionURL returns {origin}/server/{functionName}.
func (c *Client) FunctionURL() string {
	return c.origin + "/server/" + c.functionName
}

// request describes one HTTP call.
type request struct {
	method      string
	url         string
	body        io.Reader
	contentType string
	// requireToken fails the call with ErrNoToken instead of sending it
	// without credentials.
	requireToken bool
}

// send executes a single request and returns the response for any status.
// The caller closes the body.
func (c *Client) send(ctx context.Context, r request) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, r.body)
	if err != nil {
		return nil, "", fmt.Errorf("hub: creating request: %w", err)
	}

	if err := c.authorize(req, r.requireToken); err != nil {
		return nil, "", err
	}

	reqID := uuid.NewString()
	req.Header.Set(requestIDHeader, reqID)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	c.logger.Debug("hub request",
		slog.String("method", r.method),
		slog.String("url", r.url),
		slog.String("request_id", reqID),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, reqID, fmt.Errorf("hub: request canceled: %w", ctx.Err())
		}

		return nil, reqID, fmt.Errorf("hub: %s %s: %w", r.method, r.url, err)
	}

	c.logger.Debug("hub response",
		slog.String("method", r.method),
		slog.String("request_id", reqID),
		slog.Int("status", resp.StatusCode),
	)

	return resp, reqID, nil
}

// authorize attaches the access token when one is available.
func (c *Client) authorize(req *http.Request, required bool) error {
	if c.token == nil {
		if required {
			return ErrNoToken
		}

		return nil
	}

	tok, err := c.token.Token()
	if err != nil {
		if required {
			return fmt.Errorf("%w: %w", ErrNoToken, err)
		}

		// Cookie-only call: a stale token must not block it.
		c.logger.Debug("sending request without token", slog.String("error", err.Error()))

		return nil
	}

	req.Header.Set("Authorization", authScheme+" "+tok)

	return nil
}

// Envelope is a JSON object returned by the function endpoint. The endpoint
// answers errors with JSON too, so Status may be non-2xx.
type Envelope struct {
	Status    int
	RequestID string
	Body      map[string]any
	Raw       []byte
}

// OK reports the boolean "ok" field of the body.
func (e *Envelope) OK() bool {
	ok, _ := e.Body["ok"].(bool)
	return ok
}

// ErrorMessage returns the body's "error" field, if any.
func (e *Envelope) ErrorMessage() string {
	msg, _ := StringField(e.Body, "error")
	return msg
}

// callFunction sends a request to the function endpoint and decodes the
// JSON object it returns, whatever the status. A body that is not a JSON
// object becomes a HubError.
func (c *Client) callFunction(ctx context.Context, method string, body io.Reader, contentType string) (*Envelope, error) {
	resp, reqID, err := c.send(ctx, request{
		method:      method,
		url:         c.FunctionURL(),
		body:        body,
		contentType: contentType,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hub: reading response: %w", err)
	}

	obj, decErr := decodeObject(raw)
	if decErr != nil {
		sentinel := classifyStatus(resp.StatusCode)
		if sentinel == nil {
			sentinel = ErrNotJSON
		}

		return nil, &HubError{
			StatusCode: resp.StatusCode,
			RequestID:  reqID,
			Message:    truncateBody(raw),
			Err:        sentinel,
		}
	}

	return &Envelope{Status: resp.StatusCode, RequestID: reqID, Body: obj, Raw: raw}, nil
}

// callREST sends a request to the platform REST surface, requiring a token
// and a 2xx status, and decodes the JSON object response.
func (c *Client) callREST(ctx context.Context, method, path string, payload any) (map[string]any, error) {
	var body io.Reader

	contentType := ""

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("hub: encoding request: %w", err)
		}

		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, reqID, err := c.send(ctx, request{
		method:       method,
		url:          c.origin + path,
		body:         body,
		contentType:  contentType,
		requireToken: true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hub: reading response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &HubError{
			StatusCode: resp.StatusCode,
			RequestID:  reqID,
			Message:    truncateBody(raw),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	obj, err := decodeObject(raw)
	if err != nil {
		return nil, &HubError{StatusCode: resp.StatusCode, RequestID: reqID, Message: truncateBody(raw), Err: ErrNotJSON}
	}

	return obj, nil
}

// decodeObject parses a JSON object, keeping numbers as json.Number so large
// platform IDs survive without float rounding.
func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}

	if obj == nil {
		return nil, ErrNotJSON
	}

	return obj, nil
}
