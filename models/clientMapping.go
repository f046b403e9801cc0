package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/billsync_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClientMapping links a WHMCS client to the FreeAgent contact it was matched or
// created against. At most one row per WHMCS client id; once written it is never
// overwritten or deleted by the sync engine.
type ClientMapping struct {
	ID                  uint      `gorm:"primary_key" json:"id"`
	WhmcsClientId       int       `gorm:"uniqueIndex;not null" json:"whmcs_client_id"`
	WhmcsEmail          string    `gorm:"size:255" json:"whmcs_email"`
	FreeagentContactUrl string    `gorm:"size:512;not null" json:"freeagent_contact_url"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// FindClientMapping returns the mapping for a WHMCS client id, or nil when absent.
func FindClientMapping(ctx context.Context, whmcsClientId int) (*ClientMapping, error) {
	db := config.GetDB()

	var mapping ClientMapping
	err := db.WithContext(ctx).Where("whmcs_client_id = ?", whmcsClientId).Take(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mapping, nil
}

// CreateClientMapping inserts the mapping if absent. A concurrent insert for the
// same client id is benign: the unique index makes the first row win and the
// duplicate insert is a no-op.
func CreateClientMapping(ctx context.Context, mapping *ClientMapping) error {
	db := config.GetDB()

	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(mapping).Error
}
