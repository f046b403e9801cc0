package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/billsync_backend/config"
	"gorm.io/gorm"
)

// Credential is the single active credential set for both remote systems.
// The table holds at most one row; SaveCredential replaces it wholesale.
type Credential struct {
	ID                      uint       `gorm:"primary_key" json:"id"`
	WhmcsUrl                string     `gorm:"size:512" json:"whmcs_url"`
	WhmcsIdentifier         string     `gorm:"size:255" json:"whmcs_identifier"`
	WhmcsSecret             string     `gorm:"type:text" json:"whmcs_secret"`
	FreeagentClientId       string     `gorm:"size:255" json:"freeagent_client_id"`
	FreeagentClientSecret   string     `gorm:"type:text" json:"freeagent_client_secret"`
	FreeagentAccessToken    string     `gorm:"type:text" json:"freeagent_access_token"`
	FreeagentRefreshToken   string     `gorm:"type:text" json:"freeagent_refresh_token"`
	FreeagentTokenExpiresAt *time.Time `json:"freeagent_token_expires_at"`
	CreatedAt               time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Credential) HasFreeAgentToken() bool {
	return c != nil && c.FreeagentAccessToken != ""
}

// GetCredential returns the active credential set, or nil when none saved yet.
func GetCredential(ctx context.Context) (*Credential, error) {
	db := config.GetDB()

	var cred Credential
	err := db.WithContext(ctx).Order("id desc").Take(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

// SaveCredential replaces the credential row. Only one set is kept.
func SaveCredential(ctx context.Context, cred *Credential) error {
	db := config.GetDB()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Credential{}).Error; err != nil {
			return err
		}
		cred.ID = 0
		return tx.Create(cred).Error
	})
}

// StoreFreeAgentTokens persists tokens obtained from the OAuth flow.
func StoreFreeAgentTokens(ctx context.Context, accessToken string, refreshToken string, expiresAt *time.Time) error {
	db := config.GetDB()

	res := db.WithContext(ctx).Model(&Credential{}).Where("1 = 1").Updates(map[string]interface{}{
		"freeagent_access_token":     accessToken,
		"freeagent_refresh_token":    refreshToken,
		"freeagent_token_expires_at": expiresAt,
		"updated_at":                 time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("no credentials configured")
	}
	return nil
}

// ClearFreeAgentTokens disconnects FreeAgent (tokens removed, app keys kept).
func ClearFreeAgentTokens(ctx context.Context) error {
	db := config.GetDB()

	return db.WithContext(ctx).Model(&Credential{}).Where("1 = 1").Updates(map[string]interface{}{
		"freeagent_access_token":     "",
		"freeagent_refresh_token":    "",
		"freeagent_token_expires_at": nil,
		"updated_at":                 time.Now(),
	}).Error
}
