package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/billsync_backend/config"
	"gorm.io/gorm"
)

const (
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusError   = "error"
)

const (
	SyncTriggeredManual    = "manual"
	SyncTriggeredAutomatic = "automatic"
)

// SyncRun is the operational log: one row per engine invocation. Created in
// "running" state, exactly one terminal update. Never read back by the
// reconciliation logic itself.
type SyncRun struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	SyncType          string     `gorm:"size:20;not null" json:"sync_type"`
	Status            string     `gorm:"size:20;not null;index" json:"status"`
	InvoicesProcessed int        `json:"invoices_processed"`
	InvoicesCreated   int        `json:"invoices_created"`
	ClientsCreated    int        `json:"clients_created"`
	PaymentsSynced    int        `json:"payments_synced"`
	ErrorsJSON        []byte     `gorm:"type:json" json:"errors"`
	Message           string     `gorm:"type:text" json:"message"`
	StartedAt         time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at"`
	DurationMs        int64      `json:"duration_ms"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *SyncRun) Errors() []string {
	if len(r.ErrorsJSON) == 0 {
		return nil
	}
	var errs []string
	if err := json.Unmarshal(r.ErrorsJSON, &errs); err != nil {
		return nil
	}
	return errs
}

// CreateSyncRun opens a run in "running" state.
func CreateSyncRun(ctx context.Context, syncType string) (*SyncRun, error) {
	db := config.GetDB()

	run := SyncRun{
		SyncType:  syncType,
		Status:    SyncRunStatusRunning,
		Message:   "Starting " + syncType + " sync...",
		StartedAt: time.Now(),
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// CompleteSyncRun writes the single terminal update for a run.
func CompleteSyncRun(ctx context.Context, runId uint, status string, processed, created, clientsCreated, paymentsSynced int, errorList []string, message string) error {
	db := config.GetDB()

	errorsJSON, _ := json.Marshal(errorList)
	now := time.Now()

	var run SyncRun
	if err := db.WithContext(ctx).Where("id = ?", runId).Take(&run).Error; err != nil {
		return err
	}

	return db.WithContext(ctx).Model(&run).Updates(map[string]interface{}{
		"status":             status,
		"invoices_processed": processed,
		"invoices_created":   created,
		"clients_created":    clientsCreated,
		"payments_synced":    paymentsSynced,
		"errors_json":        errorsJSON,
		"message":            message,
		"finished_at":        now,
		"duration_ms":        now.Sub(run.StartedAt).Milliseconds(),
	}).Error
}

// HasRunningSyncRun reports whether any run is still in "running" state.
// Best-effort mutual exclusion for manual triggers, not a distributed lock.
func HasRunningSyncRun(ctx context.Context) (bool, error) {
	db := config.GetDB()

	var count int64
	err := db.WithContext(ctx).Model(&SyncRun{}).
		Where("status = ?", SyncRunStatusRunning).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LastFinishedSyncRun returns the most recent terminal run, or nil.
func LastFinishedSyncRun(ctx context.Context) (*SyncRun, error) {
	db := config.GetDB()

	var run SyncRun
	err := db.WithContext(ctx).
		Where("status IN ?", []string{SyncRunStatusSuccess, SyncRunStatusError}).
		Order("started_at desc").
		Take(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// ListSyncRuns returns runs most recent first, bounded by limit.
func ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	db := config.GetDB()

	var runs []SyncRun
	err := db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}
