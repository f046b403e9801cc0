package billsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/billsync_backend/config"
	"bitbucket.org/mmdatafocus/billsync_backend/freeagent"
	"bitbucket.org/mmdatafocus/billsync_backend/models"
	"bitbucket.org/mmdatafocus/billsync_backend/utils"
	"bitbucket.org/mmdatafocus/billsync_backend/whmcs"
)

var (
	ErrNotConfigured = errors.New("credentials not configured")
	ErrNotConnected  = errors.New("freeagent account not connected")
)

// Refresh the access token when it expires within this window.
const tokenRefreshMargin = 5 * time.Minute

func backendUrl() string {
	if u := os.Getenv("BACKEND_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8001"
}

// RedirectUri is the OAuth callback registered with FreeAgent.
func RedirectUri() string {
	return backendUrl() + "/api/oauth/freeagent/callback"
}

func newOAuthFor(cred *models.Credential) *freeagent.OAuth {
	return freeagent.NewOAuth(cred.FreeagentClientId, cred.FreeagentClientSecret, RedirectUri())
}

func buildEngine(ctx context.Context) (*Engine, error) {
	cred, err := models.GetCredential(ctx)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrNotConfigured
	}
	if !cred.HasFreeAgentToken() {
		return nil, ErrNotConnected
	}

	accessToken, err := ensureAccessToken(ctx, cred)
	if err != nil {
		return nil, err
	}

	source := whmcs.NewClient(cred.WhmcsUrl, cred.WhmcsIdentifier, cred.WhmcsSecret)
	target := freeagent.NewClient(accessToken)
	return NewEngine(source, target, NewStore(), config.GetLogger()), nil
}

// ensureAccessToken refreshes the FreeAgent access token when it is close to
// expiry and persists the rotated tokens.
func ensureAccessToken(ctx context.Context, cred *models.Credential) (string, error) {
	if cred.FreeagentTokenExpiresAt == nil || time.Until(*cred.FreeagentTokenExpiresAt) > tokenRefreshMargin {
		return cred.FreeagentAccessToken, nil
	}
	if cred.FreeagentRefreshToken == "" {
		return cred.FreeagentAccessToken, nil
	}

	token, err := newOAuthFor(cred).RefreshToken(ctx, cred.FreeagentRefreshToken)
	if err != nil {
		return "", fmt.Errorf("refreshing freeagent token: %w", err)
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.FreeagentRefreshToken
	}
	expiresAt := token.ExpiresAt(time.Now())
	if err := models.StoreFreeAgentTokens(ctx, token.AccessToken, refreshToken, &expiresAt); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// RunSync executes one full sync run and records it in the run log. The
// returned SyncRun is the opened row; its terminal state is persisted before
// returning.
func RunSync(ctx context.Context, syncType string) (*RunResult, *models.SyncRun, error) {
	logger := config.GetLogger()

	engine, err := buildEngine(ctx)
	if err != nil {
		return nil, nil, err
	}

	run, err := models.CreateSyncRun(ctx, syncType)
	if err != nil {
		return nil, nil, err
	}
	ctx = utils.SetSyncRunIdInContext(ctx, run.ID)

	triggeredBy, _ := utils.GetTriggeredByFromContext(ctx)
	logger.WithContext(ctx).WithFields(map[string]interface{}{
		"syncRunId":   run.ID,
		"syncType":    syncType,
		"triggeredBy": triggeredBy,
	}).Info("sync run started")

	result, runErr := engine.Run(ctx)
	if runErr != nil {
		partial := result
		if partial == nil {
			partial = &RunResult{}
		}
		if err := models.CompleteSyncRun(ctx, run.ID, models.SyncRunStatusError,
			partial.InvoicesProcessed, partial.InvoicesCreated, partial.ClientsCreated,
			partial.PaymentsSynced, partial.Errors, runErr.Error()); err != nil {
			config.LogError(logger, "billsync", "RunSync", "completing failed run", run.ID, err)
		}
		return partial, run, runErr
	}

	if err := models.CompleteSyncRun(ctx, run.ID, models.SyncRunStatusSuccess,
		result.InvoicesProcessed, result.InvoicesCreated, result.ClientsCreated,
		result.PaymentsSynced, result.Errors, result.Message); err != nil {
		return result, run, err
	}

	logger.WithContext(ctx).WithFields(map[string]interface{}{
		"syncRunId":         run.ID,
		"invoicesProcessed": result.InvoicesProcessed,
		"invoicesCreated":   result.InvoicesCreated,
		"clientsCreated":    result.ClientsCreated,
		"paymentsSynced":    result.PaymentsSynced,
		"errorCount":        len(result.Errors),
	}).Info("sync run finished")
	return result, run, nil
}

// PerformAutomaticSync is the entry point for scheduled triggers. Missing
// configuration is not an error at this level, the trigger simply has nothing
// to do yet.
func PerformAutomaticSync(ctx context.Context) {
	logger := config.GetLogger()

	_, _, err := RunSync(ctx, models.SyncTriggeredAutomatic)
	if errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrNotConnected) {
		logger.WithContext(ctx).Infof("automatic sync skipped: %v", err)
		return
	}
	if err != nil {
		config.LogError(logger, "billsync", "PerformAutomaticSync", "scheduled sync", nil, err)
	}
}
