package billsync

import (
	"context"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/billsync_backend/models"
)

// dbStore backs the engine's Store interface with the shared gorm connection.
type dbStore struct{}

func NewStore() Store {
	return dbStore{}
}

func (dbStore) FindClientMapping(ctx context.Context, whmcsClientId int) (*models.ClientMapping, error) {
	return models.FindClientMapping(ctx, whmcsClientId)
}

func (dbStore) CreateClientMapping(ctx context.Context, mapping *models.ClientMapping) error {
	return models.CreateClientMapping(ctx, mapping)
}

func (dbStore) FindInvoiceSyncRecord(ctx context.Context, whmcsInvoiceId int) (*models.InvoiceSyncRecord, error) {
	return models.FindInvoiceSyncRecord(ctx, whmcsInvoiceId)
}

func (dbStore) CreateInvoiceSyncRecord(ctx context.Context, record *models.InvoiceSyncRecord) error {
	return models.CreateInvoiceSyncRecord(ctx, record)
}

func (dbStore) ListInvoiceSyncRecords(ctx context.Context, limit int) ([]models.InvoiceSyncRecord, error) {
	return models.ListInvoiceSyncRecords(ctx, limit)
}

func (dbStore) MarkPaymentSynced(ctx context.Context, whmcsInvoiceId int, amount decimal.Decimal, whmcsAlreadyPaid bool) error {
	return models.MarkPaymentSynced(ctx, whmcsInvoiceId, amount, whmcsAlreadyPaid)
}
