package rep4rep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/rep4rep-bot/internal/model"
)

const (
	defaultBaseURL = "https://rep4rep.com/pub-api"
	requestTimeout = 30 * time.Second
	userAgent      = "rep4rep-bot/1.0"
)

var (
	// ErrNoToken is returned when a request is attempted without an API token
	ErrNoToken = errors.New("api token is not set")

	// ErrRateLimited is returned when Rep4Rep signals backpressure
	ErrRateLimited = errors.New("too many requests")
)

// UserInfo describes the Rep4Rep account owning the API token
type UserInfo struct {
	UID           string `json:"uid"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Points        int    `json:"points"`
	PendingPoints int    `json:"pendingPoints"`
	InGroup       bool   `json:"inGroup"`
}

// Client is an HTTP client for the Rep4Rep public API
type Client struct {
	logger     *zap.Logger
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new Rep4Rep API client
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		logger:  logger.Named("rep4rep"),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// SetToken sets the API token used for all subsequent requests
func (c *Client) SetToken(token string) {
	c.token = token
}

// Profiles retrieves the Steam profiles registered with Rep4Rep
func (c *Client) Profiles(ctx context.Context) ([]model.SteamProfile, error) {
	var profiles []model.SteamProfile
	if err := c.do(ctx, http.MethodGet, "/user/steamprofiles", nil, &profiles); err != nil {
		return nil, fmt.Errorf("failed to fetch steam profiles: %w", err)
	}
	return profiles, nil
}

// AddProfile registers a Steam profile with Rep4Rep
func (c *Client) AddProfile(ctx context.Context, steamID string) error {
	params := url.Values{"steamProfile": {steamID}}
	if err := c.do(ctx, http.MethodPost, "/user/steamprofiles/add", params, nil); err != nil {
		return fmt.Errorf("failed to add steam profile: %w", err)
	}
	return nil
}

// Tasks retrieves the available tasks for a registered profile
func (c *Client) Tasks(ctx context.Context, profileID string) ([]model.Task, error) {
	params := url.Values{"steamProfile": {profileID}}
	var tasks []model.Task
	if err := c.do(ctx, http.MethodGet, "/tasks", params, &tasks); err != nil {
		return nil, fmt.Errorf("failed to fetch tasks: %w", err)
	}
	return tasks, nil
}

// CompleteTask acknowledges a finished task to Rep4Rep
func (c *Client) CompleteTask(ctx context.Context, taskID, commentID, profileID string) error {
	params := url.Values{
		"taskId":               {taskID},
		"commentId":            {commentID},
		"authorSteamProfileId": {profileID},
	}
	if err := c.do(ctx, http.MethodPost, "/tasks/complete", params, nil); err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

// UserInfo retrieves the account information for the current token
func (c *Client) UserInfo(ctx context.Context) (*UserInfo, error) {
	var info UserInfo
	if err := c.do(ctx, http.MethodGet, "/user", nil, &info); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	return &info, nil
}

// ValidateToken reports whether the configured token is accepted
func (c *Client) ValidateToken(ctx context.Context) bool {
	_, err := c.UserInfo(ctx)
	return err == nil
}

// do executes one API request. GET parameters go in the query string,
// everything else is form-encoded in the body; the token rides along as
// an apiToken parameter either way.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, out interface{}) error {
	if c.token == "" {
		return ErrNoToken
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("apiToken", c.token)

	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+endpoint+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s %s", ErrRateLimited, method, endpoint)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("api error: %s", apiErrorMessage(body, resp.Status))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// apiErrorMessage extracts the error field from an API error envelope,
// falling back to the HTTP status line
func apiErrorMessage(body []byte, status string) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	return status
}
