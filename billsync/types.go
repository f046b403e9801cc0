package billsync

import (
	"time"

	"bitbucket.org/mmdatafocus/billsync_backend/models"
)

// CredentialsRequest is the payload for storing connection credentials.
type CredentialsRequest struct {
	WhmcsUrl              string `json:"whmcs_url" binding:"required,url"`
	WhmcsIdentifier       string `json:"whmcs_identifier" binding:"required"`
	WhmcsSecret           string `json:"whmcs_secret" binding:"required"`
	FreeagentClientId     string `json:"freeagent_client_id" binding:"required"`
	FreeagentClientSecret string `json:"freeagent_client_secret" binding:"required"`
}

// CredentialsResponse reports stored credentials with secrets masked.
type CredentialsResponse struct {
	Configured           bool   `json:"configured"`
	WhmcsUrl             string `json:"whmcs_url,omitempty"`
	WhmcsIdentifier      string `json:"whmcs_identifier,omitempty"`
	FreeagentClientId    string `json:"freeagent_client_id,omitempty"`
	FreeagentConnected   bool   `json:"freeagent_connected"`
	FreeagentTokenExpiry string `json:"freeagent_token_expiry,omitempty"`
}

// SyncStatusResponse summarizes the current and most recent run.
type SyncStatusResponse struct {
	IsRunning      bool    `json:"is_running"`
	LastSync       *string `json:"last_sync"`
	LastSyncStatus *string `json:"last_sync_status"`
	LastMessage    *string `json:"last_message"`
	NextSync       string  `json:"next_sync"`
}

// SyncRunResponse is one entry of the run log.
type SyncRunResponse struct {
	Id                uint     `json:"id"`
	Timestamp         string   `json:"timestamp"`
	SyncType          string   `json:"sync_type"`
	Status            string   `json:"status"`
	InvoicesProcessed int      `json:"invoices_processed"`
	InvoicesCreated   int      `json:"invoices_created"`
	ClientsCreated    int      `json:"clients_created"`
	PaymentsSynced    int      `json:"payments_synced"`
	Errors            []string `json:"errors"`
	Message           string   `json:"message"`
	DurationMs        int64    `json:"duration_ms"`
}

func syncRunResponse(run *models.SyncRun) SyncRunResponse {
	errorList := run.Errors()
	if errorList == nil {
		errorList = []string{}
	}
	return SyncRunResponse{
		Id:                run.ID,
		Timestamp:         run.StartedAt.UTC().Format(time.RFC3339),
		SyncType:          run.SyncType,
		Status:            run.Status,
		InvoicesProcessed: run.InvoicesProcessed,
		InvoicesCreated:   run.InvoicesCreated,
		ClientsCreated:    run.ClientsCreated,
		PaymentsSynced:    run.PaymentsSynced,
		Errors:            errorList,
		Message:           run.Message,
		DurationMs:        run.DurationMs,
	}
}
