package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
)

// API paths served by internal/server.
const (
	RestPrefix     = "rest/v1"
	RealtimePrefix = "realtime/v1"
	UserPath       = "auth/v1/user"
)

// Client is a RemoteStore over the HTTP API.
//
// Thread-safety: a Client may be shared between goroutines.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger
}

var _ RemoteStore = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithClientLogger sets the client logger. Defaults to slog.Default().
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for the API rooted at baseURL
// (for example "http://localhost:8080").
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse server url: unsupported scheme %q", u.Scheme)
	}
	c := &Client{
		base:   u,
		http:   http.DefaultClient,
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchRows implements RemoteStore.
func (c *Client) FetchRows(ctx context.Context, table string, f query.Filter) ([]model.Row, error) {
	var rows []model.Row
	if err := c.do(ctx, http.MethodGet, c.restURL(f.Values(), table), nil, &rows); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}
	if rows == nil {
		rows = []model.Row{}
	}
	return rows, nil
}

// InsertRow implements RemoteStore.
func (c *Client) InsertRow(ctx context.Context, table string, row model.Row) (model.Row, error) {
	var out model.Row
	if err := c.do(ctx, http.MethodPost, c.restURL(nil, table), row, &out); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return out, nil
}

// UpdateRow implements RemoteStore.
func (c *Client) UpdateRow(ctx context.Context, table, id string, patch model.Patch) (model.Row, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("update %s: encode patch: %w", table, err)
	}
	var out model.Row
	if err := c.do(ctx, http.MethodPatch, c.restURL(nil, table, id), body, &out); err != nil {
		return nil, fmt.Errorf("update %s %s: %w", table, id, err)
	}
	return out, nil
}

// DeleteRow implements RemoteStore.
func (c *Client) DeleteRow(ctx context.Context, table, id string) error {
	if err := c.do(ctx, http.MethodDelete, c.restURL(nil, table, id), nil, nil); err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}

// CurrentUser returns the user the bearer token was issued to.
func (c *Client) CurrentUser(ctx context.Context) (model.User, error) {
	var u model.User
	if err := c.do(ctx, http.MethodGet, c.base.JoinPath(UserPath), nil, &u); err != nil {
		return model.User{}, fmt.Errorf("current user: %w", err)
	}
	return u, nil
}

// Subscribe implements RemoteStore over a websocket. The handshake is
// completed before Subscribe returns, so a rejected filter or token is
// reported here rather than as a dropped stream.
func (c *Client) Subscribe(ctx context.Context, table string, f query.Filter) (Subscription, error) {
	u := c.base.JoinPath(RealtimePrefix, table)
	u.RawQuery = f.Values().Encode()
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), c.header())
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, fmt.Errorf("subscribe %s: %w", table, readError(resp))
		}
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}

	c.logger.Debug("realtime stream opened", "table", table, "filter", f.Encode())
	return newWSSubscription(conn, table, c.logger), nil
}

func (c *Client) restURL(q url.Values, elem ...string) *url.URL {
	u := c.base.JoinPath(append([]string{RestPrefix}, elem...)...)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// do sends one request. body is sent as JSON when non-nil; out receives the
// decoded response when non-nil.
func (c *Client) do(ctx context.Context, method string, u *url.URL, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = c.header()
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return readError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readError converts a failed response into *Error, keeping the server's
// message verbatim.
func readError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(data))
	}
	return newError(resp.StatusCode, body.Message)
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsUnauthorized reports whether err is an API 401.
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}
