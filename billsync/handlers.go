package billsync

import (
	"errors"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"bitbucket.org/mmdatafocus/billsync_backend/config"
	"bitbucket.org/mmdatafocus/billsync_backend/models"
	"bitbucket.org/mmdatafocus/billsync_backend/utils"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
)

func frontendUrl() string {
	if u := os.Getenv("FRONTEND_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:3000"
}

// SaveCredentialsHandler stores the WHMCS and FreeAgent app credentials.
// Saving replaces the stored row, so a changed FreeAgent app requires
// re-authorization.
func SaveCredentialsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request CredentialsRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			var validationErrors validator.ValidationErrors
			if errors.As(err, &validationErrors) {
				c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err := models.SaveCredential(c.Request.Context(), &models.Credential{
			WhmcsUrl:              strings.TrimRight(request.WhmcsUrl, "/"),
			WhmcsIdentifier:       request.WhmcsIdentifier,
			WhmcsSecret:           request.WhmcsSecret,
			FreeagentClientId:     request.FreeagentClientId,
			FreeagentClientSecret: request.FreeagentClientSecret,
		})
		if err != nil {
			config.LogError(config.GetLogger(), "billsync", "SaveCredentialsHandler", "saving credentials", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

// GetCredentialsHandler reports stored credentials with secrets omitted.
func GetCredentialsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, err := models.GetCredential(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load credentials"})
			return
		}
		if cred == nil {
			c.JSON(http.StatusOK, CredentialsResponse{Configured: false})
			return
		}

		response := CredentialsResponse{
			Configured:         true,
			WhmcsUrl:           cred.WhmcsUrl,
			WhmcsIdentifier:    cred.WhmcsIdentifier,
			FreeagentClientId:  cred.FreeagentClientId,
			FreeagentConnected: cred.HasFreeAgentToken(),
		}
		if cred.FreeagentTokenExpiresAt != nil {
			response.FreeagentTokenExpiry = cred.FreeagentTokenExpiresAt.UTC().Format(time.RFC3339)
		}
		c.JSON(http.StatusOK, response)
	}
}

// AuthorizeHandler starts the FreeAgent OAuth flow by redirecting the user
// to the approval page with a single-use state.
func AuthorizeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, err := models.GetCredential(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load credentials"})
			return
		}
		if cred == nil || cred.FreeagentClientId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "freeagent credentials not configured"})
			return
		}

		state, err := oauthStates.Issue()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue oauth state"})
			return
		}

		oauth := newOAuthFor(cred)
		c.Redirect(http.StatusFound, oauth.AuthorizationURL(state))
	}
}

// CallbackHandler completes the OAuth flow: validates the state, exchanges
// the code and stores the tokens, then sends the user back to the frontend.
func CallbackHandler() gin.HandlerFunc {
	logger := config.GetLogger()

	return func(c *gin.Context) {
		code := c.Query("code")
		state := c.Query("state")

		if code == "" {
			redirectWithError(c, "missing authorization code")
			return
		}
		if !oauthStates.Consume(state) {
			redirectWithError(c, "invalid or expired oauth state")
			return
		}

		cred, err := models.GetCredential(c.Request.Context())
		if err != nil || cred == nil {
			redirectWithError(c, "credentials not configured")
			return
		}

		oauth := newOAuthFor(cred)
		token, err := oauth.ExchangeCode(c.Request.Context(), code)
		if err != nil {
			config.LogError(logger, "billsync", "CallbackHandler", "exchanging oauth code", nil, err)
			redirectWithError(c, "token exchange failed")
			return
		}

		expiresAt := token.ExpiresAt(time.Now())
		if err := models.StoreFreeAgentTokens(c.Request.Context(), token.AccessToken, token.RefreshToken, &expiresAt); err != nil {
			config.LogError(logger, "billsync", "CallbackHandler", "storing tokens", nil, err)
			redirectWithError(c, "could not store tokens")
			return
		}

		c.Redirect(http.StatusFound, frontendUrl()+"/settings?oauth=success")
	}
}

func redirectWithError(c *gin.Context, message string) {
	c.Redirect(http.StatusFound, frontendUrl()+"/settings?oauth=error&message="+url.QueryEscape(message))
}

// DisconnectHandler drops the stored FreeAgent tokens.
func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := models.ClearFreeAgentTokens(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not disconnect"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

// ManualSyncHandler runs a sync synchronously and returns its result. At most
// one run may be in progress. With ?async=true the request is published to the
// sync topic instead and the push subscription runs it.
func ManualSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := utils.SetTriggeredByInContext(c.Request.Context(), "api")

		if strings.EqualFold(c.Query("async"), "true") {
			if err := PublishSyncRequest(ctx, "api"); err != nil {
				config.LogError(config.GetLogger(), "billsync", "ManualSyncHandler", "publishing sync request", nil, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not queue sync"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
			return
		}

		running, err := models.HasRunningSyncRun(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not check sync status"})
			return
		}
		if running {
			c.JSON(http.StatusConflict, gin.H{"error": "a sync is already running"})
			return
		}

		result, _, err := RunSync(ctx, models.SyncTriggeredManual)
		if errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrNotConnected) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": result})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "result": result})
	}
}

// SyncStatusHandler reports whether a run is in progress and how the last
// one finished.
func SyncStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		running, err := models.HasRunningSyncRun(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not check sync status"})
			return
		}

		response := SyncStatusResponse{
			IsRunning: running,
			NextSync:  "Every hour at :00",
		}
		last, err := models.LastFinishedSyncRun(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load last sync"})
			return
		}
		if last != nil {
			timestamp := last.StartedAt.UTC().Format(time.RFC3339)
			response.LastSync = &timestamp
			response.LastSyncStatus = &last.Status
			response.LastMessage = &last.Message
		}
		c.JSON(http.StatusOK, response)
	}
}

// SyncLogsHandler returns the run log, newest first.
func SyncLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultLogLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = parsed
		}
		if limit > maxLogLimit {
			limit = maxLogLimit
		}

		runs, err := models.ListSyncRuns(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load sync logs"})
			return
		}

		logs := make([]SyncRunResponse, 0, len(runs))
		for i := range runs {
			logs = append(logs, syncRunResponse(&runs[i]))
		}
		c.JSON(http.StatusOK, gin.H{"logs": logs})
	}
}
