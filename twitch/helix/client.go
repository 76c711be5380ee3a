// Package helix provides a client for the Twitch Helix channel points and EventSub endpoints
package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Soypete/clackbot/logging"
	"github.com/Soypete/clackbot/types"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL = "https://api.twitch.tv/helix"

	RedemptionAddEvent = "channel.channel_points_custom_reward_redemption.add"
)

// ErrUnauthorized is returned when Twitch rejects the access token.
var ErrUnauthorized = errors.New("twitch rejected the access token")

// APIError is a non 2xx response from the Twitch API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status %d, body: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Client is a Twitch Helix API client acting on behalf of one broadcaster
type Client struct {
	httpClient    *http.Client
	baseURL       string
	clientID      string
	tokens        oauth2.TokenSource
	broadcasterID string
	logger        *logging.Logger
}

// NewClient creates a new Twitch Helix API client
func NewClient(clientID string, tokens oauth2.TokenSource, broadcasterID string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:       DefaultBaseURL,
		clientID:      clientID,
		tokens:        tokens,
		broadcasterID: broadcasterID,
		logger:        logger.WithComponent("helix"),
	}
}

// WithBaseURL points the client at another Helix compatible server.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	return c
}

// SetBroadcasterID sets the channel the client acts on.
func (c *Client) SetBroadcasterID(id string) {
	c.broadcasterID = id
}

// doRequest performs an HTTP request to the Twitch API
func (c *Client) doRequest(ctx context.Context, method, endpoint string, query url.Values, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	fullURL := c.baseURL + endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Client-Id", c.clientID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("making Twitch API request", "method", method, "endpoint", endpoint)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBody, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

type pagination struct {
	Cursor string `json:"cursor"`
}

type rewardsResponse struct {
	Data []types.Reward `json:"data"`
}

type redemptionsResponse struct {
	Data       []types.Redemption `json:"data"`
	Pagination pagination         `json:"pagination"`
}

// ListRewards returns the custom rewards this client is allowed to manage.
func (c *Client) ListRewards(ctx context.Context) ([]types.Reward, error) {
	query := url.Values{}
	query.Set("broadcaster_id", c.broadcasterID)
	query.Set("only_manageable_rewards", "true")

	respBody, err := c.doRequest(ctx, http.MethodGet, "/channel_points/custom_rewards", query, nil)
	if err != nil {
		return nil, err
	}

	var resp rewardsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse rewards response: %w", err)
	}
	return resp.Data, nil
}

// CreateReward creates a custom reward on the channel.
func (c *Client) CreateReward(ctx context.Context, settings types.RewardSettings) (types.Reward, error) {
	query := url.Values{}
	query.Set("broadcaster_id", c.broadcasterID)

	respBody, err := c.doRequest(ctx, http.MethodPost, "/channel_points/custom_rewards", query, settings)
	if err != nil {
		c.logger.Error("failed to create reward", "title", settings.Title, "error", err.Error())
		return types.Reward{}, err
	}

	var resp rewardsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return types.Reward{}, fmt.Errorf("failed to parse reward response: %w", err)
	}
	if len(resp.Data) == 0 {
		return types.Reward{}, fmt.Errorf("empty create reward response for %q", settings.Title)
	}
	return resp.Data[0], nil
}

// ListPendingRedemptions returns every unfulfilled redemption of a reward,
// following pagination cursors.
func (c *Client) ListPendingRedemptions(ctx context.Context, rewardID string) ([]types.Redemption, error) {
	var all []types.Redemption
	cursor := ""
	for {
		query := url.Values{}
		query.Set("broadcaster_id", c.broadcasterID)
		query.Set("reward_id", rewardID)
		query.Set("status", string(types.RedemptionUnfulfilled))
		query.Set("first", "50")
		if cursor != "" {
			query.Set("after", cursor)
		}

		respBody, err := c.doRequest(ctx, http.MethodGet, "/channel_points/custom_rewards/redemptions", query, nil)
		if err != nil {
			return nil, err
		}

		var resp redemptionsResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse redemptions response: %w", err)
		}
		all = append(all, resp.Data...)

		if resp.Pagination.Cursor == "" || len(resp.Data) == 0 {
			return all, nil
		}
		cursor = resp.Pagination.Cursor
	}
}

// MarkFulfilled sets a redemption's status to FULFILLED.
func (c *Client) MarkFulfilled(ctx context.Context, redemptionID, rewardID string) error {
	query := url.Values{}
	query.Set("broadcaster_id", c.broadcasterID)
	query.Set("reward_id", rewardID)
	query.Set("id", redemptionID)

	body := map[string]types.RedemptionStatus{
		"status": types.RedemptionFulfilled,
	}

	_, err := c.doRequest(ctx, http.MethodPatch, "/channel_points/custom_rewards/redemptions", query, body)
	return err
}

// SubscriptionRequest is the body for creating an EventSub subscription.
type SubscriptionRequest struct {
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Condition map[string]string     `json:"condition"`
	Transport SubscriptionTransport `json:"transport"`
}

// SubscriptionTransport binds a subscription to a websocket session.
type SubscriptionTransport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

// CreateEventSubSubscription subscribes the websocket session to eventType for
// the broadcaster. A 409 means the subscription already exists and is not an error.
func (c *Client) CreateEventSubSubscription(ctx context.Context, sessionID, eventType, version string) error {
	body := SubscriptionRequest{
		Type:    eventType,
		Version: version,
		Condition: map[string]string{
			"broadcaster_user_id": c.broadcasterID,
		},
		Transport: SubscriptionTransport{
			Method:    "websocket",
			SessionID: sessionID,
		},
	}

	_, err := c.doRequest(ctx, http.MethodPost, "/eventsub/subscriptions", nil, body)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		c.logger.Info("eventsub subscription already exists", "type", eventType)
		return nil
	}
	if err != nil {
		return err
	}

	c.logger.Info("eventsub subscription created", "type", eventType, "sessionID", sessionID)
	return nil
}

// Subscribe satisfies the EventSub listener's welcome hook by subscribing the
// session to reward redemptions.
func (c *Client) Subscribe(ctx context.Context, sessionID string) error {
	return c.CreateEventSubSubscription(ctx, sessionID, RedemptionAddEvent, "1")
}

// GetUsers retrieves user information by login name
func (c *Client) GetUsers(ctx context.Context, logins []string) ([]byte, error) {
	query := url.Values{}
	for _, login := range logins {
		query.Add("login", login)
	}

	return c.doRequest(ctx, http.MethodGet, "/users", query, nil)
}

// UserResponse represents the response from the Get Users endpoint
type UserResponse struct {
	Data []UserData `json:"data"`
}

// UserData represents a user from the Twitch API
type UserData struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	Type            string `json:"type"`
	BroadcasterType string `json:"broadcaster_type"`
	ProfileImageURL string `json:"profile_image_url"`
	CreatedAt       string `json:"created_at"`
}

// GetUserIDByLogin retrieves a user's ID by their login name
func (c *Client) GetUserIDByLogin(ctx context.Context, login string) (string, error) {
	respBody, err := c.GetUsers(ctx, []string{login})
	if err != nil {
		return "", err
	}

	var resp UserResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse user response: %w", err)
	}

	if len(resp.Data) == 0 {
		return "", fmt.Errorf("user not found: %s", login)
	}

	return resp.Data[0].ID, nil
}
