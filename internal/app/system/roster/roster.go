// internal/app/system/roster/roster.go

// Package roster asks the Bot Connector service about meeting roles and
// conversation membership, and updates messages the bot has posted.
package roster

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

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Meeting roles as reported by Teams.
const (
	RoleOrganizer = "Organizer"
	RolePresenter = "Presenter"
	RoleAttendee  = "Attendee"
)

// Bot Framework token endpoint defaults.
const (
	DefaultTokenURL = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	DefaultScope    = "https://api.botframework.com/.default"
)

// CanManageSession reports whether a meeting role may start or end sessions
// it does not host.
func CanManageSession(role string) bool {
	return strings.EqualFold(role, RoleOrganizer) || strings.EqualFold(role, RolePresenter)
}

// Config configures a Client.
type Config struct {
	AppID       string
	AppPassword string
	TokenURL    string
	Scopes      []string
	// HTTPClient is the transport under the oauth2 layer. Optional.
	HTTPClient *http.Client
}

// Client calls the Bot Connector REST API with an app-only token.
type Client struct {
	http *http.Client
}

// New creates a Client. Tokens are fetched lazily and reused until expiry.
func New(cfg Config) (*Client, error) {
	if cfg.AppID == "" || cfg.AppPassword == "" {
		return nil, errors.New("roster: bot app id and password are required")
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{DefaultScope}
	}
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 10 * time.Second}
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.AppID,
		ClientSecret: cfg.AppPassword,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	// The token source captures this context for every refresh.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	c := oauth2.NewClient(ctx, cc.TokenSource(ctx))
	c.Timeout = base.Timeout
	return &Client{http: c}, nil
}

type participantResponse struct {
	Meeting struct {
		Role      string `json:"role"`
		InMeeting bool   `json:"inMeeting"`
	} `json:"meeting"`
}

// GetParticipantRole returns the user's role in a meeting.
func (c *Client) GetParticipantRole(ctx context.Context, meetingID, userID, tenantID, serviceURL string) (string, error) {
	u, err := endpoint(serviceURL, "v1", "meetings", meetingID, "participants", userID)
	if err != nil {
		return "", err
	}
	q := url.Values{"tenantId": {tenantID}}
	u.RawQuery = q.Encode()

	var out participantResponse
	status, err := c.getJSON(ctx, u.String(), &out)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", nil
	}
	return out.Meeting.Role, nil
}

// VerifyUserIsMember reports whether userID belongs to the conversation.
func (c *Client) VerifyUserIsMember(ctx context.Context, conversationID, serviceURL, tenantID, userID string) (bool, error) {
	u, err := endpoint(serviceURL, "v3", "conversations", conversationID, "members", userID)
	if err != nil {
		return false, err
	}
	if tenantID != "" {
		u.RawQuery = url.Values{"tenantId": {tenantID}}.Encode()
	}

	var member struct {
		ID string `json:"id"`
	}
	status, err := c.getJSON(ctx, u.String(), &member)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

// UpdateActivity replaces a message the bot posted earlier with activity.
func (c *Client) UpdateActivity(ctx context.Context, serviceURL, conversationID, activityID string, activity any) error {
	u, err := endpoint(serviceURL, "v3", "conversations", conversationID, "activities", activityID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("roster: marshal activity: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("roster: %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("roster: update activity returned %d: %s", resp.StatusCode, snippet)
}

func endpoint(serviceURL string, segments ...string) (*url.URL, error) {
	base, err := url.Parse(strings.TrimRight(serviceURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("roster: invalid service url %q", serviceURL)
	}
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return base.JoinPath(escaped...), nil
}

// getJSON decodes a 200 body into out. 404 is returned as a status, not an error.
func (c *Client) getJSON(ctx context.Context, target string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("roster: %s: %w", target, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, fmt.Errorf("roster: decode %s: %w", target, err)
		}
		return http.StatusOK, nil
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return http.StatusNotFound, nil
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("roster: %s returned %d: %s", target, resp.StatusCode, snippet)
	}
}
