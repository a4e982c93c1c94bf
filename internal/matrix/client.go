// Package matrix implements the small slice of the Matrix client-server API
// the bot needs: identity checks, room membership, and sending messages,
// optionally as threaded replies.
package matrix

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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pastel-deals/internal/version"
)

var (
	// ErrAuth indicates the access token was rejected by the homeserver.
	ErrAuth = errors.New("matrix: authentication failed")
	// ErrRoomNotJoined indicates the bot is not a member of the target room.
	ErrRoomNotJoined = errors.New("matrix: room not joined")
)

// Options parameterise the Matrix client.
type Options struct {
	HomeserverURL  string
	UserID         string
	AccessToken    string
	Timeout        time.Duration
	SendsPerSecond float64
}

// Client talks to one homeserver on behalf of one bot account. Sends are
// paced with a local limiter so bursts of new deals do not trip the
// homeserver's rate limiting.
type Client struct {
	opts    Options
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient constructs a Matrix client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sendsPerSecond := opts.SendsPerSecond
	if sendsPerSecond <= 0 {
		sendsPerSecond = 0.5
	}

	return &Client{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.HomeserverURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(sendsPerSecond), 1),
		logger:  logger.With().Str("component", "matrix").Logger(),
	}
}

// WhoAmI validates the access token and returns the authenticated user id.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	var result struct {
		UserID string `json:"user_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, &result); err != nil {
		return "", err
	}
	return result.UserID, nil
}

// JoinedRooms lists the rooms the bot account is a member of.
func (c *Client) JoinedRooms(ctx context.Context) ([]string, error) {
	var result struct {
		JoinedRooms []string `json:"joined_rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v3/joined_rooms", nil, &result); err != nil {
		return nil, err
	}
	return result.JoinedRooms, nil
}

// EnsureJoined verifies membership of roomID, attempting to join when the
// bot is not yet a member (covers pending invites).
func (c *Client) EnsureJoined(ctx context.Context, roomID string) error {
	rooms, err := c.JoinedRooms(ctx)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		if room == roomID {
			return nil
		}
	}

	path := fmt.Sprintf("/_matrix/client/v3/join/%s", url.PathEscape(roomID))
	if err := c.do(ctx, http.MethodPost, path, map[string]any{}, nil); err != nil {
		if errors.Is(err, ErrAuth) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrRoomNotJoined, roomID, err)
	}
	c.logger.Info().Str("room_id", roomID).Msg("joined room")
	return nil
}

// SendMessage posts an m.room.message and returns the new event id. When
// threadRoot is non-empty the message is sent as a threaded reply under it.
func (c *Client) SendMessage(ctx context.Context, roomID, body, formattedBody, threadRoot string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	content := map[string]any{
		"msgtype": "m.text",
		"body":    body,
	}
	if formattedBody != "" {
		content["format"] = "org.matrix.custom.html"
		content["formatted_body"] = formattedBody
	}
	if threadRoot != "" {
		content["m.relates_to"] = map[string]any{
			"rel_type": "m.thread",
			"event_id": threadRoot,
		}
	}

	// A fresh transaction id per send; retries of the same logical message
	// are handled by the next poll cycle, not by transaction replay.
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		url.PathEscape(roomID), uuid.NewString())

	var result struct {
		EventID string `json:"event_id"`
	}
	if err := c.do(ctx, http.MethodPut, path, content, &result); err != nil {
		return "", err
	}

	c.logger.Debug().Str("event_id", result.EventID).Str("room_id", roomID).Msg("message sent")
	return result.EventID, nil
}

type apiError struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, payload any, result any) error {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal matrix request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create matrix request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.AccessToken)
	req.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("matrix request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read matrix response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(respBody, &apiErr)
		switch {
		case resp.StatusCode == http.StatusUnauthorized,
			apiErr.ErrCode == "M_UNKNOWN_TOKEN",
			apiErr.ErrCode == "M_MISSING_TOKEN":
			return fmt.Errorf("%w: %s", ErrAuth, apiErr.Error)
		case resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrRoomNotJoined, apiErr.Error)
		default:
			return fmt.Errorf("matrix api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode matrix response: %w", err)
		}
	}
	return nil
}
