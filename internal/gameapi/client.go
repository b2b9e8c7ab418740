package gameapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/gamelogin/internal/log"
	"github.com/dgellow/gamelogin/internal/urlutil"
)

const (
	// DefaultBaseURL is where the game login API listens in local development.
	DefaultBaseURL = "http://localhost:8080"
	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 10 * time.Second

	HeaderLoginID    = "X-Game-Login-ID"
	HeaderLoginToken = "X-Game-Login-Token"

	LoginPath       = "/api/game/login"
	ExchangePath    = "/api/game/exchange"
	UserPath        = "/api/game/user"
	AchievementPath = "/api/game/achievement"

	maxResponseBody = 1 << 20
	maxErrorBody    = 4 << 10
)

// Client talks to the game login API. One request is in flight per call and
// nothing is retried here; retry policy belongs to the caller.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	schema     Schema
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSchema selects the login state / exchange wire schema.
func WithSchema(schema Schema) Option {
	return func(c *Client) {
		c.schema = schema
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := urlutil.ParseBase(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		schema:     SchemaUserID,
		userAgent:  "gamelogin",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.schema, err = ParseSchema(string(c.schema)); err != nil {
		return nil, err
	}
	return c, nil
}

// Schema returns the wire schema the client parses.
func (c *Client) Schema() Schema {
	return c.schema
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Request issues a request against apiPath and returns the raw JSON body.
// It fails with *RequestError on transport errors and non-2xx statuses.
func (c *Client) Request(ctx context.Context, method, apiPath string, query url.Values, header http.Header) (json.RawMessage, error) {
	endpoint := urlutil.Endpoint(c.base, apiPath, query)
	redacted := urlutil.Redacted(endpoint)

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s: %w", method, redacted, err)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Method: method, URL: redacted, Err: err}
	}
	defer resp.Body.Close()

	log.LogTraceWithFields("gameapi", "Response received", map[string]any{
		"method":   method,
		"url":      redacted,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := readLimited(resp.Body, maxErrorBody)
		return nil, &RequestError{
			Method:     method,
			URL:        redacted,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
			Body:       body,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &RequestError{Method: method, URL: redacted, StatusCode: resp.StatusCode, Err: err}
	}
	return json.RawMessage(body), nil
}

// CreateLogin starts a login and returns the request the human must complete.
func (c *Client) CreateLogin(ctx context.Context) (*LoginRequest, error) {
	body, err := c.Request(ctx, http.MethodPost, LoginPath, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	return ParseLoginRequest(body)
}

// LoginState fetches the current state of a login request.
func (c *Client) LoginState(ctx context.Context, id, token string) (*LoginState, error) {
	query := url.Values{}
	query.Set("id", id)
	query.Set("token", token)

	body, err := c.Request(ctx, http.MethodGet, LoginPath, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get login state: %w", err)
	}
	return ParseLoginState(body, c.schema)
}

// Exchange trades a completed login for durable credentials. The query it
// sends depends on the schema.
func (c *Client) Exchange(ctx context.Context, req *LoginRequest, state *LoginState) (*ExchangedLogin, error) {
	if !state.Completed() {
		return nil, ErrIncompleteState
	}

	query := url.Values{}
	switch {
	case c.schema == SchemaCode && state.Code != nil:
		query.Set("code_id", state.Code.ID)
		query.Set("user_id", state.Code.User.ID)
	case c.schema != SchemaCode && state.UserID != nil:
		if req == nil {
			return nil, errors.New("login request is required for exchange")
		}
		query.Set("id", req.ID)
		query.Set("token", req.Token)
	default:
		return nil, fmt.Errorf("login state does not match schema %q", c.schema)
	}

	body, err := c.Request(ctx, http.MethodGet, ExchangePath, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange login: %w", err)
	}
	return ParseExchangedLogin(body)
}

// User fetches the profile of the credential owner.
func (c *Client) User(ctx context.Context, creds Credentials) (*User, error) {
	if !creds.valid() {
		return nil, errors.New("credentials are incomplete")
	}
	body, err := c.Request(ctx, http.MethodGet, UserPath, nil, creds.header())
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return ParseUser(body)
}

// AddAchievement grants the named achievement. It returns false without error
// when the server reports the achievement as already granted (409).
func (c *Client) AddAchievement(ctx context.Context, creds Credentials, name string) (bool, error) {
	if name == "" {
		return false, errors.New("achievement name is required")
	}
	if !creds.valid() {
		return false, errors.New("credentials are incomplete")
	}

	query := url.Values{}
	query.Set("name", name)

	_, err := c.Request(ctx, http.MethodPost, AchievementPath, query, creds.header())
	if IsStatus(err, http.StatusConflict) {
		log.LogDebugWithFields("gameapi", "Achievement already granted", map[string]any{
			"achievement": name,
			"credentials": creds,
		})
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to add achievement %s: %w", name, err)
	}
	return true, nil
}

// readLimited reads up to limit bytes for inclusion in error messages. A read
// failure is described rather than silenced.
func readLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(body)
}

// errorMessage extracts the server's {"message": "..."} error text.
func errorMessage(body string) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return ""
	}
	return payload.Message
}
