package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/billsync_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoiceSyncRecord is the sync ledger: one row per WHMCS invoice that has been
// mirrored into FreeAgent. The unique index on whmcs_invoice_id is the sole
// idempotency guard against creating the same FreeAgent invoice twice. After
// creation only the payment fields ever change.
type InvoiceSyncRecord struct {
	ID                  uint            `gorm:"primary_key" json:"id"`
	WhmcsInvoiceId      int             `gorm:"uniqueIndex;not null" json:"whmcs_invoice_id"`
	FreeagentInvoiceUrl string          `gorm:"size:512;not null" json:"freeagent_invoice_url"`
	SyncedAt            time.Time       `gorm:"not null" json:"synced_at"`
	PaymentSynced       bool            `gorm:"default:false" json:"payment_synced"`
	PaymentSyncedAt     *time.Time      `json:"payment_synced_at"`
	PaymentAmount       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"payment_amount"`
	WhmcsAlreadyPaid    bool            `gorm:"default:false" json:"whmcs_already_paid"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindInvoiceSyncRecord returns the ledger row for a WHMCS invoice id, or nil.
func FindInvoiceSyncRecord(ctx context.Context, whmcsInvoiceId int) (*InvoiceSyncRecord, error) {
	db := config.GetDB()

	var record InvoiceSyncRecord
	err := db.WithContext(ctx).Where("whmcs_invoice_id = ?", whmcsInvoiceId).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// CreateInvoiceSyncRecord inserts the ledger row if absent (insert-if-absent via
// the unique index, duplicate inserts are no-ops).
func CreateInvoiceSyncRecord(ctx context.Context, record *InvoiceSyncRecord) error {
	db := config.GetDB()

	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record).Error
}

// ListInvoiceSyncRecords returns ledger rows oldest-first, bounded by limit.
func ListInvoiceSyncRecords(ctx context.Context, limit int) ([]InvoiceSyncRecord, error) {
	db := config.GetDB()

	var records []InvoiceSyncRecord
	err := db.WithContext(ctx).Order("id").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// MarkPaymentSynced flips the payment flag exactly once and attaches the payment
// metadata. whmcsAlreadyPaid records that the invoice was already resolved on the
// WHMCS side, so no payment was posted.
func MarkPaymentSynced(ctx context.Context, whmcsInvoiceId int, amount decimal.Decimal, whmcsAlreadyPaid bool) error {
	db := config.GetDB()

	now := time.Now()
	return db.WithContext(ctx).Model(&InvoiceSyncRecord{}).
		Where("whmcs_invoice_id = ? AND payment_synced = ?", whmcsInvoiceId, false).
		Updates(map[string]interface{}{
			"payment_synced":     true,
			"payment_synced_at":  now,
			"payment_amount":     amount,
			"whmcs_already_paid": whmcsAlreadyPaid,
		}).Error
}
