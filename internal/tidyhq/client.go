package tidyhq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// API is the CRM surface the rest of the bot depends on. Implemented by
// Client in production and by fakes in tests.
//
// Reads return errors: a CRM read failure is fatal to the calling operation
// (there is no stale-fallback). Membership writes return a bare success flag:
// a failed write is logged and reported as false so the caller can skip that
// one machine and continue with the rest of the batch.
type API interface {
	Contacts(ctx context.Context) ([]Contact, error)
	Groups(ctx context.Context) ([]Group, error)
	Group(ctx context.Context, id int64) (Group, error)
	AddMember(ctx context.Context, groupID, contactID int64) bool
	RemoveMember(ctx context.Context, groupID, contactID int64) bool
}

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// Token is the TidyHQ access token, sent as a query parameter.
	Token string
	// BaseURL is the API endpoint, e.g. "https://api.tidyhq.com/v1".
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is an HTTP client for the TidyHQ API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a TidyHQ client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("tidyhq: Token is required")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("tidyhq: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("tidyhq: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Contacts fetches every contact known to the CRM.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/contacts")
	if err != nil {
		return nil, fmt.Errorf("tidyhq: list contacts: %w", err)
	}
	var contacts []Contact
	if err := json.Unmarshal(body, &contacts); err != nil {
		return nil, fmt.Errorf("tidyhq: parse contacts response: %w", err)
	}
	return contacts, nil
}

// Groups fetches every group known to the CRM.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/groups")
	if err != nil {
		return nil, fmt.Errorf("tidyhq: list groups: %w", err)
	}
	var groups []Group
	if err := json.Unmarshal(body, &groups); err != nil {
		return nil, fmt.Errorf("tidyhq: parse groups response: %w", err)
	}
	return groups, nil
}

// Group fetches a single group by ID.
func (c *Client) Group(ctx context.Context, id int64) (Group, error) {
	body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/groups/%d", id))
	if err != nil {
		return Group{}, fmt.Errorf("tidyhq: get group %d: %w", id, err)
	}
	var group Group
	if err := json.Unmarshal(body, &group); err != nil {
		return Group{}, fmt.Errorf("tidyhq: parse group response: %w", err)
	}
	return group, nil
}

// AddMember adds a contact to a group. Returns true only on HTTP 204.
func (c *Client) AddMember(ctx context.Context, groupID, contactID int64) bool {
	return c.writeMembership(ctx, http.MethodPut, groupID, contactID)
}

// RemoveMember removes a contact from a group. Returns true only on HTTP 204.
func (c *Client) RemoveMember(ctx context.Context, groupID, contactID int64) bool {
	return c.writeMembership(ctx, http.MethodDelete, groupID, contactID)
}

func (c *Client) writeMembership(ctx context.Context, method string, groupID, contactID int64) bool {
	path := fmt.Sprintf("/groups/%d/contacts/%d", groupID, contactID)
	req, err := http.NewRequestWithContext(ctx, method, c.requestURL(path), nil)
	if err != nil {
		c.logger.Error("membership request construction failed",
			"method", method, "group", groupID, "contact", contactID, "error", err)
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("membership request failed",
			"method", method, "group", groupID, "contact", contactID, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent {
		c.logger.Error("membership change rejected",
			"method", method, "group", groupID, "contact", contactID, "status", resp.StatusCode)
		return false
	}
	return true
}

// doRequest performs a GET-style request and returns the response body.
// Any non-2xx status is an error.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.requestURL(path), nil)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("querying TidyHQ", "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

func (c *Client) requestURL(path string) string {
	return c.baseURL + path + "?access_token=" + url.QueryEscape(c.token)
}
