package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sendlater/sendlater/internal/database"
	"github.com/sendlater/sendlater/internal/slack"
)

const (
	stateCookie = "slack_oauth_state"
	stateMaxAge = 600 // seconds
)

// handleInstall starts the OAuth flow: it sets a state cookie and redirects
// to the Slack authorize page.
func (s *Server) handleInstall(c *gin.Context) {
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, stateMaxAge, "/", "", false, true)
	c.Redirect(http.StatusFound, s.installer.AuthorizeURL(state))
}

// handleOAuthCallback completes the OAuth flow: it verifies the state,
// exchanges the code, and persists the granted credentials.
func (s *Server) handleOAuthCallback(c *gin.Context) {
	ctx := c.Request.Context()

	if errParam := c.Query("error"); errParam != "" {
		s.logger.WarnContext(ctx, "OAuth flow denied", "error", errParam)
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization was denied: " + errParam})
		return
	}

	state := c.Query("state")
	cookieState, err := c.Cookie(stateCookie)
	if err != nil || state == "" || state != cookieState {
		s.logger.WarnContext(ctx, "OAuth state mismatch", "client_ip", c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid OAuth state"})
		return
	}
	// The state is single-use.
	c.SetCookie(stateCookie, "", -1, "/", "", false, true)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing authorization code"})
		return
	}

	inst, err := s.installer.ExchangeCode(ctx, code)
	if err != nil {
		s.logger.ErrorContext(ctx, "OAuth code exchange failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to complete authorization"})
		return
	}

	record := credentialFromInstallation(inst, time.Now().UTC())
	if err := s.store.SaveCredential(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist installation",
			"workspace_id", inst.TeamID, "user_id", inst.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credentials"})
		return
	}

	s.logger.InfoContext(ctx, "Workspace connected",
		"workspace_id", inst.TeamID, "user_id", inst.UserID, "team_name", inst.TeamName)

	c.JSON(http.StatusOK, gin.H{
		"status":       "connected",
		"workspace_id": inst.TeamID,
		"user_id":      inst.UserID,
		"team_name":    inst.TeamName,
	})
}

// credentialFromInstallation flattens a completed OAuth grant into the stored
// credential record.
func credentialFromInstallation(inst *slack.Installation, now time.Time) *database.TenantCredential {
	rec := &database.TenantCredential{
		WorkspaceID: inst.TeamID,
		UserID:      inst.UserID,
	}

	if inst.Bot != nil {
		rec.BotAccessToken = sql.NullString{String: inst.Bot.AccessToken, Valid: true}
		if inst.Bot.RefreshToken != "" {
			rec.BotRefreshToken = sql.NullString{String: inst.Bot.RefreshToken, Valid: true}
		}
		if inst.Bot.ExpiresIn > 0 {
			rec.BotExpiresAt = sql.NullTime{
				Time:  now.Add(time.Duration(inst.Bot.ExpiresIn) * time.Second),
				Valid: true,
			}
		}
	}

	if inst.User != nil {
		rec.UserAccessToken = sql.NullString{String: inst.User.AccessToken, Valid: true}
		if inst.User.RefreshToken != "" {
			rec.UserRefreshToken = sql.NullString{String: inst.User.RefreshToken, Valid: true}
		}
		if inst.User.ExpiresIn > 0 {
			rec.UserExpiresAt = sql.NullTime{
				Time:  now.Add(time.Duration(inst.User.ExpiresIn) * time.Second),
				Valid: true,
			}
		}
	}

	return rec
}
