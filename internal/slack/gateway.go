// Package slack implements the messaging gateway against the Slack Web API.
// It covers the three operations the engine consumes: posting a message,
// exchanging a refresh token for a new access token, and the one-time OAuth
// code exchange performed by the install flow.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
)

// Token is a token bundle as returned by the Slack OAuth endpoints.
// ExpiresIn is zero for tokens issued without rotation.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// Installation is the outcome of a completed OAuth v2 code exchange.
// User is nil when the grant included no user scopes.
type Installation struct {
	TeamID   string
	TeamName string
	UserID   string
	Bot      *Token
	User     *Token
}

// Gateway is the outbound boundary the delivery engine talks to. Any
// non-success response is reported as an error; the engine does not
// interpret error codes beyond logging them.
type Gateway interface {
	// PostMessage sends one text message to a channel using the supplied
	// token. asUser posts on behalf of the authorizing user.
	PostMessage(ctx context.Context, token, channelID, text string, asUser bool) error

	// RefreshAccessToken exchanges a refresh token for a fresh token bundle.
	RefreshAccessToken(ctx context.Context, refreshToken string) (*Token, error)
}

// Config carries the Slack app credentials for the client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	BotScopes    []string
	UserScopes   []string
}

type refreshFunc func(ctx context.Context, client *http.Client, clientID, clientSecret, refreshToken string) (*slackapi.OAuthV2Response, error)
type exchangeFunc func(ctx context.Context, client *http.Client, clientID, clientSecret, code, redirectURL string) (*slackapi.OAuthV2Response, error)

// Client implements Gateway against the Slack Web API using slack-go.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	// apiURL and the grant funcs are swappable for tests.
	apiURL   string
	refresh  refreshFunc
	exchange exchangeFunc
}

// NewClient creates a new Slack gateway client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    log.With("component", "slack_gateway"),
		apiURL: slackapi.APIURL,
		refresh: func(ctx context.Context, client *http.Client, clientID, clientSecret, refreshToken string) (*slackapi.OAuthV2Response, error) {
			return slackapi.RefreshOAuthV2TokenContext(ctx, client, clientID, clientSecret, refreshToken)
		},
		exchange: func(ctx context.Context, client *http.Client, clientID, clientSecret, code, redirectURL string) (*slackapi.OAuthV2Response, error) {
			return slackapi.GetOAuthV2ResponseContext(ctx, client, clientID, clientSecret, code, redirectURL)
		},
	}
}

// PostMessage sends one text message to a channel using the supplied token.
func (c *Client) PostMessage(ctx context.Context, token, channelID, text string, asUser bool) error {
	api := slackapi.New(token,
		slackapi.OptionHTTPClient(c.http),
		slackapi.OptionAPIURL(c.apiURL),
	)

	_, ts, err := api.PostMessageContext(ctx, channelID,
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionAsUser(asUser),
	)
	if err != nil {
		c.log.WarnContext(ctx, "chat.postMessage failed", "channel_id", channelID, "error", err)
		return fmt.Errorf("failed to post message to channel %s: %w", channelID, err)
	}

	c.log.DebugContext(ctx, "Message posted", "channel_id", channelID, "ts", ts)
	return nil
}

// RefreshAccessToken exchanges a refresh token for a new token bundle via
// the oauth.v2.access refresh_token grant. The returned bundle carries a
// rotated refresh token when Slack issued one.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*Token, error) {
	resp, err := c.refresh(ctx, c.http, c.cfg.ClientID, c.cfg.ClientSecret, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh token grant failed: %w", err)
	}

	tok := &Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}
	// A user-token refresh carries the bundle under authed_user instead.
	if tok.AccessToken == "" && resp.AuthedUser.AccessToken != "" {
		tok.AccessToken = resp.AuthedUser.AccessToken
		tok.RefreshToken = resp.AuthedUser.RefreshToken
		tok.ExpiresIn = resp.AuthedUser.ExpiresIn
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("refresh token grant returned no access token")
	}

	c.log.DebugContext(ctx, "Access token refreshed", "expires_in", tok.ExpiresIn)
	return tok, nil
}

// AuthorizeURL builds the Slack OAuth v2 authorize URL the install flow
// redirects to.
func (c *Client) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("scope", strings.Join(c.cfg.BotScopes, ","))
	if len(c.cfg.UserScopes) > 0 {
		q.Set("user_scope", strings.Join(c.cfg.UserScopes, ","))
	}
	q.Set("redirect_uri", c.cfg.RedirectURL)
	q.Set("state", state)
	return "https://slack.com/oauth/v2/authorize?" + q.Encode()
}

// ExchangeCode completes the OAuth v2 code exchange and returns the granted
// installation.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Installation, error) {
	resp, err := c.exchange(ctx, c.http, c.cfg.ClientID, c.cfg.ClientSecret, code, c.cfg.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("oauth code exchange failed: %w", err)
	}

	inst := &Installation{
		TeamID:   resp.Team.ID,
		TeamName: resp.Team.Name,
		UserID:   resp.AuthedUser.ID,
	}
	if resp.AccessToken != "" {
		inst.Bot = &Token{
			AccessToken:  resp.AccessToken,
			RefreshToken: resp.RefreshToken,
			ExpiresIn:    resp.ExpiresIn,
		}
	}
	if resp.AuthedUser.AccessToken != "" {
		inst.User = &Token{
			AccessToken:  resp.AuthedUser.AccessToken,
			RefreshToken: resp.AuthedUser.RefreshToken,
			ExpiresIn:    resp.AuthedUser.ExpiresIn,
		}
	}
	if inst.Bot == nil && inst.User == nil {
		return nil, fmt.Errorf("oauth code exchange granted no tokens")
	}

	c.log.InfoContext(ctx, "OAuth installation completed",
		"team_id", inst.TeamID, "user_id", inst.UserID,
		"has_bot", inst.Bot != nil, "has_user", inst.User != nil)
	return inst, nil
}
