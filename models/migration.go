package models

import (
	"log"

	"bitbucket.org/mmdatafocus/billsync_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Credential{},
		&ClientMapping{},
		&InvoiceSyncRecord{},
		&SyncRun{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
